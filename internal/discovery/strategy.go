package discovery

import (
	"context"
	"sort"
	"time"

	"github.com/shipwatch/shipwatch/internal/types"
)

// Strategy generates candidate channel identifiers
type Strategy interface {
	// Name identifies the strategy in logs and errors
	Name() string
	// Method is recorded on channels this strategy registers
	Method() types.DiscoveryMethod
	// Candidates returns the first wave of candidates for this run
	Candidates(ctx context.Context, run *Run) ([]types.ChannelID, error)
}

// Expander is implemented by strategies that derive a follow-up wave from
// the candidates their previous wave confirmed.
type Expander interface {
	Expand(confirmed []types.ChannelID) []types.ChannelID
}

// Run is the state shared by the strategies of one Discover call
type Run struct {
	store Store
	seen  map[string]bool
}

func newRun(store Store) *Run {
	return &Run{store: store, seen: make(map[string]bool)}
}

// Registered lists every channel in the registry, including ones merged
// earlier in this run.
func (r *Run) Registered(ctx context.Context) ([]*types.Channel, error) {
	return r.store.ListChannels(ctx, types.FilterAll)
}

// ProbeHistory returns when each candidate on host was last probed
func (r *Run) ProbeHistory(ctx context.Context, host string) (map[string]time.Time, error) {
	return r.store.ProbedCandidates(ctx, host)
}

// Seen reports whether id was already generated this run
func (r *Run) Seen(id types.ChannelID) bool {
	return r.seen[id.String()]
}

// claim filters ids down to the ones not yet generated this run and marks them
func (r *Run) claim(ids []types.ChannelID) []types.ChannelID {
	out := make([]types.ChannelID, 0, len(ids))
	for _, id := range ids {
		key := id.String()
		if r.seen[key] || id.Validate() != nil {
			continue
		}
		r.seen[key] = true
		out = append(out, id)
	}
	return out
}

// PatternStrategy crosses known hosts with common channel names
type PatternStrategy struct {
	Hosts []string
	Names []string
}

func (s *PatternStrategy) Name() string                  { return "pattern" }
func (s *PatternStrategy) Method() types.DiscoveryMethod { return types.MethodPattern }

func (s *PatternStrategy) Candidates(ctx context.Context, run *Run) ([]types.ChannelID, error) {
	out := make([]types.ChannelID, 0, len(s.Hosts)*len(s.Names))
	for _, host := range s.Hosts {
		for _, name := range s.Names {
			out = append(out, types.NewChannelID(host, name))
		}
	}
	return out, nil
}

// HubStrategy probes curated hub groups, then the usual sub-channels of the
// hubs that answered.
type HubStrategy struct {
	Hubs        []types.ChannelID
	SubChannels []string
}

func (s *HubStrategy) Name() string                  { return "hub" }
func (s *HubStrategy) Method() types.DiscoveryMethod { return types.MethodHub }

func (s *HubStrategy) Candidates(ctx context.Context, run *Run) ([]types.ChannelID, error) {
	return append([]types.ChannelID(nil), s.Hubs...), nil
}

// Expand returns hub/<sub> for every confirmed hub
func (s *HubStrategy) Expand(confirmed []types.ChannelID) []types.ChannelID {
	var out []types.ChannelID
	for _, hub := range confirmed {
		if !s.isHub(hub) {
			continue
		}
		for _, sub := range s.SubChannels {
			out = append(out, hub.WithName(hub.Name+"/"+sub))
		}
	}
	return out
}

func (s *HubStrategy) isHub(id types.ChannelID) bool {
	for _, hub := range s.Hubs {
		if hub == id {
			return true
		}
	}
	return false
}

// ExplorationStrategy guesses names on hosts already in the registry
type ExplorationStrategy struct {
	Names      []string
	MaxPerHost int
}

func (s *ExplorationStrategy) Name() string                  { return "exploration" }
func (s *ExplorationStrategy) Method() types.DiscoveryMethod { return types.MethodExploration }

// Candidates takes each registered host in registry order and offers up to
// MaxPerHost names that are neither registered nor generated earlier in the
// run. Names never probed come first, then the least recently probed.
func (s *ExplorationStrategy) Candidates(ctx context.Context, run *Run) ([]types.ChannelID, error) {
	if s.MaxPerHost == 0 || len(s.Names) == 0 {
		return nil, nil
	}

	channels, err := run.Registered(ctx)
	if err != nil {
		return nil, err
	}

	registered := make(map[string]bool, len(channels))
	var hosts []string
	hostSeen := make(map[string]bool)
	for _, ch := range channels {
		registered[ch.ID.String()] = true
		if !hostSeen[ch.ID.Host] {
			hostSeen[ch.ID.Host] = true
			hosts = append(hosts, ch.ID.Host)
		}
	}

	var out []types.ChannelID
	for _, host := range hosts {
		history, err := run.ProbeHistory(ctx, host)
		if err != nil {
			return nil, err
		}

		type guess struct {
			id       types.ChannelID
			probedAt time.Time
			probed   bool
		}
		var guesses []guess
		for _, name := range s.Names {
			id := types.NewChannelID(host, name)
			key := id.String()
			if registered[key] || run.Seen(id) {
				continue
			}
			at, probed := history[key]
			guesses = append(guesses, guess{id: id, probedAt: at, probed: probed})
		}

		sort.SliceStable(guesses, func(i, j int) bool {
			if guesses[i].probed != guesses[j].probed {
				return !guesses[i].probed
			}
			return guesses[i].probedAt.Before(guesses[j].probedAt)
		})

		for i, g := range guesses {
			if i >= s.MaxPerHost {
				break
			}
			out = append(out, g.id)
		}
	}
	return out, nil
}

// DefaultStrategies builds the pattern, hub and exploration strategies from cfg
func DefaultStrategies(cfg *Config) []Strategy {
	return []Strategy{
		&PatternStrategy{Hosts: cfg.KnownHosts, Names: cfg.CommonNames},
		&HubStrategy{Hubs: cfg.Hubs, SubChannels: cfg.HubSubChannels},
		&ExplorationStrategy{Names: cfg.ExplorationNames, MaxPerHost: cfg.MaxGuessesPerHost},
	}
}
