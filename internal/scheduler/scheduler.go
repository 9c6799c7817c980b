// Package scheduler drives the poll, discovery and analysis passes on
// independent intervals until its context is cancelled.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shipwatch/shipwatch/internal/discovery"
	"github.com/shipwatch/shipwatch/internal/poller"
	"github.com/shipwatch/shipwatch/internal/trigger"
	"github.com/shipwatch/shipwatch/internal/types"
)

// Poller runs one poll pass
type Poller interface {
	PollOnce(ctx context.Context) (*poller.PassSummary, error)
}

// Discoverer runs one discovery pass
type Discoverer interface {
	Discover(ctx context.Context) (*discovery.Result, error)
}

// Analyzer runs one analysis evaluation
type Analyzer interface {
	Evaluate(ctx context.Context) (*trigger.EvaluationSummary, error)
}

// PassLog persists pass summaries
type PassLog interface {
	RecordPass(ctx context.Context, rec *types.PassRecord) error
}

// Config holds the pass intervals
type Config struct {
	PollInterval      time.Duration
	DiscoveryInterval time.Duration
	AnalysisInterval  time.Duration
}

// recordTimeout bounds writing a pass record, which may happen after shutdown began
const recordTimeout = 5 * time.Second

// Scheduler runs passes. A nil Discoverer disables discovery.
type Scheduler struct {
	cfg        Config
	poller     Poller
	discoverer Discoverer
	analyzer   Analyzer
	passes     PassLog
	logger     zerolog.Logger

	// analyzeMu serializes evaluations started by the analysis ticker and by
	// completed poll passes.
	analyzeMu sync.Mutex
}

// New creates a scheduler
func New(cfg Config, p Poller, d Discoverer, a Analyzer, passes PassLog, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		poller:     p,
		discoverer: d,
		analyzer:   a,
		passes:     passes,
		logger:     logger.With().Str("component", "scheduler").Logger(),
	}
}

// Run starts one loop per pass kind, each running immediately and then on
// its interval, and blocks until ctx is cancelled and every loop has returned.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.cfg.PollInterval <= 0 || s.cfg.AnalysisInterval <= 0 {
		return fmt.Errorf("poll and analysis intervals must be positive")
	}
	if s.discoverer != nil && s.cfg.DiscoveryInterval <= 0 {
		return fmt.Errorf("discovery interval must be positive")
	}

	s.logger.Info().
		Dur("poll_interval", s.cfg.PollInterval).
		Dur("analysis_interval", s.cfg.AnalysisInterval).
		Dur("discovery_interval", s.cfg.DiscoveryInterval).
		Bool("discovery", s.discoverer != nil).
		Msg("Scheduler started")

	var wg sync.WaitGroup
	start := func(kind types.PassKind, interval time.Duration, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, kind, interval, fn)
		}()
	}

	start(types.PassPoll, s.cfg.PollInterval, func(ctx context.Context) {
		s.PollPass(ctx)
		if ctx.Err() == nil {
			s.AnalyzePass(ctx)
		}
	})
	start(types.PassAnalyze, s.cfg.AnalysisInterval, func(ctx context.Context) { s.AnalyzePass(ctx) })
	if s.discoverer != nil {
		start(types.PassDiscover, s.cfg.DiscoveryInterval, func(ctx context.Context) { s.DiscoverPass(ctx) })
	}

	wg.Wait()
	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, kind types.PassKind, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		fn(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollPass runs and records one poll pass
func (s *Scheduler) PollPass(ctx context.Context) *poller.PassSummary {
	started := time.Now().UTC()
	summary, err := s.poller.PollOnce(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Poll pass failed")
		s.record(ctx, types.PassPoll, started, map[string]string{"error": err.Error()})
		return nil
	}
	s.record(ctx, types.PassPoll, started, summary)
	return summary
}

// DiscoverPass runs and records one discovery pass
func (s *Scheduler) DiscoverPass(ctx context.Context) *discovery.Result {
	if s.discoverer == nil {
		return nil
	}
	started := time.Now().UTC()
	result, err := s.discoverer.Discover(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Discovery pass failed")
		s.record(ctx, types.PassDiscover, started, map[string]string{"error": err.Error()})
		return nil
	}
	// The per-candidate list lives in the probe log.
	s.record(ctx, types.PassDiscover, started, struct {
		Stats           discovery.Stats `json:"stats"`
		BudgetExhausted bool            `json:"budget_exhausted"`
		Interrupted     bool            `json:"interrupted"`
		Errors          []string        `json:"errors,omitempty"`
	}{result.Stats, result.BudgetExhausted, result.Interrupted, result.Errors})
	return result
}

// AnalyzePass runs and records one analysis evaluation
func (s *Scheduler) AnalyzePass(ctx context.Context) *trigger.EvaluationSummary {
	s.analyzeMu.Lock()
	defer s.analyzeMu.Unlock()

	started := time.Now().UTC()
	summary, err := s.analyzer.Evaluate(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Analysis pass failed")
		s.record(ctx, types.PassAnalyze, started, map[string]string{"error": err.Error()})
		return nil
	}
	s.record(ctx, types.PassAnalyze, started, summary)
	return summary
}

func (s *Scheduler) record(ctx context.Context, kind types.PassKind, started time.Time, summary any) {
	if s.passes == nil {
		return
	}
	body, err := json.Marshal(summary)
	if err != nil {
		s.logger.Warn().Err(err).Str("kind", string(kind)).Msg("Encoding pass summary failed")
		return
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	rec := &types.PassRecord{
		ID:         uuid.NewString(),
		Kind:       kind,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
		Summary:    string(body),
	}
	if err := s.passes.RecordPass(rctx, rec); err != nil {
		s.logger.Warn().Err(err).Str("kind", string(kind)).Msg("Recording pass failed")
	}
}
