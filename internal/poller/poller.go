// Package poller fetches new activity for every enabled channel and appends
// it to the activity store.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/shipwatch/shipwatch/internal/metrics"
	"github.com/shipwatch/shipwatch/internal/types"
)

// Source returns a channel's events with cursor > since, oldest first
type Source interface {
	FetchSince(ctx context.Context, channel types.ChannelID, since int64) ([]types.ActivityEvent, error)
}

// Store is the slice of storage the poller needs
type Store interface {
	ListChannels(ctx context.Context, filter types.ListFilter) ([]*types.Channel, error)
	Aggregate(ctx context.Context, channel types.ChannelID) (*types.ChannelAggregate, error)
	AppendEvents(ctx context.Context, channel types.ChannelID, events []types.ActivityEvent) (int, error)
	RecordPollResult(ctx context.Context, channel types.ChannelID, status types.PollStatus, errMsg string) error
}

// Config controls a poll pass
type Config struct {
	// ChannelTimeout bounds the fetch and append of one channel (default 45s)
	ChannelTimeout time.Duration
	// Concurrency is how many channels are polled at once (default 1)
	Concurrency int
}

// FailureKind classifies a per-channel failure
type FailureKind string

const (
	FailureUnreachable FailureKind = "unreachable"
	FailureMalformed   FailureKind = "malformed"
	// FailureStore means the fetch may have succeeded but the store did not
	// accept the result; nothing was written for the channel.
	FailureStore FailureKind = "store"
)

// ChannelError records one channel's failure in a pass
type ChannelError struct {
	Channel types.ChannelID `json:"channel"`
	Kind    FailureKind     `json:"kind"`
	Error   string          `json:"error"`
}

// FailureCounts counts failures by kind
type FailureCounts struct {
	Unreachable int `json:"unreachable"`
	Malformed   int `json:"malformed"`
	Store       int `json:"store"`
}

// Total is the number of failed channels
func (f FailureCounts) Total() int {
	return f.Unreachable + f.Malformed + f.Store
}

// PassSummary is the outcome of one PollOnce call
type PassSummary struct {
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
	ChannelsPolled int            `json:"channels_polled"`
	EventsFetched  int            `json:"events_fetched"`
	EventsAppended int            `json:"events_appended"`
	Duplicates     int            `json:"duplicates"`
	Failures       FailureCounts  `json:"failures"`
	Errors         []ChannelError `json:"errors,omitempty"`
	// Interrupted is set when cancellation stopped the pass before every
	// enabled channel was polled.
	Interrupted bool `json:"interrupted"`
}

// Poller runs poll passes
type Poller struct {
	store   Store
	source  Source
	cfg     Config
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates a poller. m may be nil.
func New(store Store, source Source, cfg Config, m *metrics.Metrics, logger zerolog.Logger) *Poller {
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = 45 * time.Second
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Poller{
		store:   store,
		source:  source,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With().Str("component", "poller").Logger(),
	}
}

type channelResult struct {
	skipped  bool
	fetched  int
	appended int
	failure  *ChannelError
}

// PollOnce polls every enabled channel once, in registry order. A failing
// channel is recorded and the pass moves on. Cancelling ctx stops the pass
// before the next channel starts; channels already in flight finish under
// their own timeout so no append is cut short.
//
// The only error returned is a failure to read the registry.
func (p *Poller) PollOnce(ctx context.Context) (*PassSummary, error) {
	summary := &PassSummary{StartedAt: time.Now().UTC()}

	all, err := p.store.ListChannels(ctx, types.FilterAll)
	if err != nil {
		return nil, err
	}
	channels := make([]*types.Channel, 0, len(all))
	for _, ch := range all {
		if ch.Enabled {
			channels = append(channels, ch)
		}
	}

	p.logger.Debug().Int("channels", len(channels)).Msg("Starting poll pass")

	results := make([]channelResult, len(channels))
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)

	started := 0
	for i, ch := range channels {
		if ctx.Err() != nil {
			break
		}
		started++
		g.Go(func() error {
			// A slot may free up only after cancellation.
			if ctx.Err() != nil {
				results[i] = channelResult{skipped: true}
				return nil
			}
			results[i] = p.pollChannel(ctx, ch.ID)
			return nil
		})
	}
	_ = g.Wait()

	summary.Interrupted = started < len(channels)
	for _, r := range results[:started] {
		if r.skipped {
			summary.Interrupted = true
			continue
		}
		summary.ChannelsPolled++
		if r.failure != nil {
			summary.Errors = append(summary.Errors, *r.failure)
			switch r.failure.Kind {
			case FailureUnreachable:
				summary.Failures.Unreachable++
			case FailureMalformed:
				summary.Failures.Malformed++
			case FailureStore:
				summary.Failures.Store++
			}
			continue
		}
		summary.EventsFetched += r.fetched
		summary.EventsAppended += r.appended
		summary.Duplicates += r.fetched - r.appended
	}

	summary.FinishedAt = time.Now().UTC()
	p.metrics.ObservePollPass(summary.FinishedAt.Sub(summary.StartedAt), len(all), len(channels))

	event := p.logger.Info()
	if summary.Failures.Total() > 0 || summary.Interrupted {
		event = p.logger.Warn()
	}
	event.
		Int("polled", summary.ChannelsPolled).
		Int("fetched", summary.EventsFetched).
		Int("appended", summary.EventsAppended).
		Int("duplicates", summary.Duplicates).
		Int("unreachable", summary.Failures.Unreachable).
		Int("malformed", summary.Failures.Malformed).
		Bool("interrupted", summary.Interrupted).
		Dur("elapsed", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("Poll pass complete")

	return summary, nil
}

// pollChannel fetches and stores one channel. It runs detached from ctx's
// cancellation so a shutdown never interrupts an append.
func (p *Poller) pollChannel(ctx context.Context, id types.ChannelID) channelResult {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.ChannelTimeout)
	defer cancel()

	start := time.Now()
	logger := p.logger.With().Str("channel", id.String()).Logger()

	agg, err := p.store.Aggregate(cctx, id)
	if err != nil {
		logger.Error().Err(err).Msg("Reading aggregate failed")
		return p.storeFailure(id, err, start)
	}

	events, err := p.source.FetchSince(cctx, id, agg.LastCursor)
	if err == nil {
		if verr := types.ValidateEvents(events); verr != nil {
			err = fmt.Errorf("%w: %w", types.ErrMalformedResponse, verr)
		}
	}
	if err != nil {
		status, kind := classify(err)
		if rerr := p.store.RecordPollResult(cctx, id, status, err.Error()); rerr != nil {
			logger.Error().Err(rerr).Msg("Recording poll result failed")
		}
		p.metrics.ObserveFetch(time.Since(start), 0, 0, status)
		logger.Warn().Err(err).Str("kind", string(kind)).Msg("Channel poll failed")
		return channelResult{failure: &ChannelError{Channel: id, Kind: kind, Error: err.Error()}}
	}

	appended := 0
	if len(events) > 0 {
		appended, err = p.store.AppendEvents(cctx, id, events)
		if err != nil {
			logger.Error().Err(err).Int("fetched", len(events)).Msg("Appending events failed")
			return p.storeFailure(id, err, start)
		}
	}

	if err := p.store.RecordPollResult(cctx, id, types.PollOK, ""); err != nil {
		logger.Error().Err(err).Msg("Recording poll result failed")
	}
	p.metrics.ObserveFetch(time.Since(start), len(events), appended, types.PollOK)

	if appended > 0 {
		logger.Debug().Int("fetched", len(events)).Int("appended", appended).Msg("New activity")
	}
	return channelResult{fetched: len(events), appended: appended}
}

func (p *Poller) storeFailure(id types.ChannelID, err error, start time.Time) channelResult {
	p.metrics.ObserveFetch(time.Since(start), 0, 0, types.PollStatus(FailureStore))
	return channelResult{failure: &ChannelError{Channel: id, Kind: FailureStore, Error: err.Error()}}
}

// classify maps a source error onto the poll taxonomy. Anything that is not a
// malformed payload, timeouts included, counts as unreachable.
func classify(err error) (types.PollStatus, FailureKind) {
	if errors.Is(err, types.ErrMalformedResponse) {
		return types.PollMalformed, FailureMalformed
	}
	return types.PollUnreachable, FailureUnreachable
}
