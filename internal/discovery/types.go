package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/shipwatch/shipwatch/internal/types"
)

// Prober reports whether a candidate channel exists. A false result with a
// nil error means the host answered that it does not.
type Prober interface {
	Probe(ctx context.Context, candidate types.ChannelID) (bool, error)
}

// Store is the slice of storage discovery needs
type Store interface {
	RegisterChannel(ctx context.Context, ch *types.Channel) (types.RegisterStatus, error)
	ListChannels(ctx context.Context, filter types.ListFilter) ([]*types.Channel, error)
	RecordProbe(ctx context.Context, rec *types.ProbeRecord) error
	ProbedCandidates(ctx context.Context, host string) (map[string]time.Time, error)
}

// Result contains the complete results of a discovery run.
type Result struct {
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	// Results holds one entry per candidate, in probe order
	Results []types.DiscoveryResult `json:"results"`

	// Budget tracking
	BudgetExhausted bool `json:"budget_exhausted"`
	// Interrupted is set when cancellation ended the run early
	Interrupted bool `json:"interrupted"`

	// Errors encountered (non-fatal)
	Errors []string `json:"errors,omitempty"`

	Stats Stats `json:"stats"`
}

// Stats tracks aggregate statistics for a discovery run.
type Stats struct {
	Candidates     int                           `json:"candidates"`
	Probed         int                           `json:"probed"`
	Confirmed      int                           `json:"confirmed"`
	Unreachable    int                           `json:"unreachable"`
	Unknown        int                           `json:"unknown"`
	Inserted       int                           `json:"inserted"`
	AlreadyPresent int                           `json:"already_present"`
	InsertedBy     map[types.DiscoveryMethod]int `json:"inserted_by,omitempty"`
	Duration       time.Duration                 `json:"duration"`
}

// Confirmed returns the confirmed candidates in probe order
func (r *Result) Confirmed() []types.DiscoveryResult {
	var out []types.DiscoveryResult
	for _, res := range r.Results {
		if res.Verdict == types.VerdictConfirmed {
			out = append(out, res)
		}
	}
	return out
}

// Summary returns a human-readable summary of the discovery results.
func (r *Result) Summary() string {
	s := fmt.Sprintf(
		"Discovery completed in %v\n"+
			"Candidates: %d (probed: %d)\n"+
			"Confirmed: %d, unreachable: %d, unknown: %d\n"+
			"Registered: %d new, %d already present",
		r.Stats.Duration.Round(time.Millisecond),
		r.Stats.Candidates, r.Stats.Probed,
		r.Stats.Confirmed, r.Stats.Unreachable, r.Stats.Unknown,
		r.Stats.Inserted, r.Stats.AlreadyPresent,
	)
	if r.BudgetExhausted {
		s += "\nProbe budget exhausted"
	}
	if r.Interrupted {
		s += "\nInterrupted"
	}
	return s
}

func (r *Result) tally() {
	st := Stats{InsertedBy: make(map[types.DiscoveryMethod]int)}
	for _, res := range r.Results {
		st.Candidates++
		switch res.Verdict {
		case types.VerdictConfirmed:
			st.Probed++
			st.Confirmed++
		case types.VerdictUnreachable:
			st.Probed++
			st.Unreachable++
		default:
			st.Unknown++
		}
		switch res.Merge {
		case types.MergeInserted:
			st.Inserted++
			st.InsertedBy[res.Method]++
		case types.MergeAlreadyPresent:
			st.AlreadyPresent++
		}
	}
	st.Duration = r.CompletedAt.Sub(r.StartedAt)
	r.Stats = st
}
