package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/shipwatch/shipwatch/internal/metrics"
	"github.com/shipwatch/shipwatch/internal/types"
)

// Engine runs discovery passes
type Engine struct {
	store      Store
	prober     Prober
	strategies []Strategy
	config     Config
	highPrio   map[string]bool
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

// NewEngine creates a discovery engine running DefaultStrategies(config).
// m may be nil.
func NewEngine(store Store, prober Prober, config *Config, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return NewEngineWithStrategies(store, prober, config, DefaultStrategies(config), m, logger)
}

// NewEngineWithStrategies creates an engine running strategies in order
func NewEngineWithStrategies(store Store, prober Prober, config *Config, strategies []Strategy, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	cfg := config.withDefaults()
	highPrio := make(map[string]bool, len(cfg.HighPriorityHosts))
	for _, h := range cfg.HighPriorityHosts {
		highPrio[h] = true
	}
	return &Engine{
		store:      store,
		prober:     prober,
		strategies: strategies,
		config:     cfg,
		highPrio:   highPrio,
		metrics:    m,
		logger:     logger.With().Str("component", "discovery").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// pass holds the throttles and bookkeeping of one Discover call
type pass struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	used    int
	wg      sync.WaitGroup
}

// Discover runs every strategy once and merges confirmed candidates into the
// registry. Per-strategy failures are collected in Result.Errors; the only
// error returned is a store failure before any probing starts.
func (e *Engine) Discover(ctx context.Context) (*Result, error) {
	result := &Result{StartedAt: e.now()}

	// Fail fast when the registry is unreadable.
	if _, err := e.store.ListChannels(ctx, types.FilterAll); err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}

	limit := rate.Inf
	if e.config.ProbesPerSecond > 0 {
		limit = rate.Limit(e.config.ProbesPerSecond)
	}
	p := &pass{
		sem:     semaphore.NewWeighted(int64(e.config.MaxConcurrentProbes)),
		limiter: rate.NewLimiter(limit, 1),
	}
	run := newRun(e.store)

strategies:
	for _, strategy := range e.strategies {
		if ctx.Err() != nil {
			result.Interrupted = true
			break
		}

		candidates, err := strategy.Candidates(ctx, run)
		if err != nil {
			// Log error but continue with other strategies
			result.Errors = append(result.Errors, fmt.Sprintf("strategy %s failed: %v", strategy.Name(), err))
			e.logger.Warn().Err(err).Str("strategy", strategy.Name()).Msg("Strategy failed")
			continue
		}

		wave := run.claim(candidates)
		for len(wave) > 0 {
			results, stopped := e.probeWave(ctx, p, strategy.Method(), wave)
			result.Results = append(result.Results, results...)

			switch stopped {
			case stopBudget:
				result.BudgetExhausted = true
				break strategies
			case stopCanceled:
				result.Interrupted = true
				break strategies
			}

			expander, ok := strategy.(Expander)
			if !ok {
				break
			}
			var confirmed []types.ChannelID
			for _, r := range results {
				if r.Verdict == types.VerdictConfirmed {
					confirmed = append(confirmed, r.Candidate)
				}
			}
			wave = run.claim(expander.Expand(confirmed))
		}
	}

	result.CompletedAt = e.now()
	result.tally()
	e.metrics.ObserveDiscoveryPass(result.Stats.InsertedBy, result.BudgetExhausted)

	e.logger.Info().
		Int("candidates", result.Stats.Candidates).
		Int("confirmed", result.Stats.Confirmed).
		Int("inserted", result.Stats.Inserted).
		Int("unreachable", result.Stats.Unreachable).
		Bool("budget_exhausted", result.BudgetExhausted).
		Bool("interrupted", result.Interrupted).
		Dur("elapsed", result.Stats.Duration).
		Msg("Discovery pass complete")

	return result, nil
}

type stopReason int

const (
	stopNone stopReason = iota
	stopBudget
	stopCanceled
)

// probeWave probes candidates in order under the pass throttles and waits for
// every started probe. Candidates not started are returned with verdict unknown.
func (e *Engine) probeWave(ctx context.Context, p *pass, method types.DiscoveryMethod, wave []types.ChannelID) ([]types.DiscoveryResult, stopReason) {
	results := make([]types.DiscoveryResult, len(wave))
	for i, id := range wave {
		results[i] = types.DiscoveryResult{Candidate: id, Method: method, Verdict: types.VerdictUnknown}
	}

	stopped := stopNone
	for i, id := range wave {
		if ctx.Err() != nil {
			stopped = stopCanceled
			break
		}
		if p.used >= e.config.MaxProbesPerRun {
			stopped = stopBudget
			e.logger.Warn().
				Int("budget", e.config.MaxProbesPerRun).
				Int("remaining", len(wave)-i).
				Msg("Probe budget exhausted")
			break
		}
		if err := p.sem.Acquire(ctx, 1); err != nil {
			stopped = stopCanceled
			break
		}
		if err := p.limiter.Wait(ctx); err != nil {
			p.sem.Release(1)
			stopped = stopCanceled
			break
		}
		p.used++

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer p.sem.Release(1)
			results[i] = e.probe(ctx, method, id)
		}()
	}
	p.wg.Wait()

	return results, stopped
}

// probe checks one candidate, records it in the probe log and merges it when
// confirmed. It runs detached from ctx's cancellation, bounded by ProbeTimeout.
func (e *Engine) probe(ctx context.Context, method types.DiscoveryMethod, id types.ChannelID) types.DiscoveryResult {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.ProbeTimeout)
	defer cancel()

	res := types.DiscoveryResult{Candidate: id, Method: method}
	logger := e.logger.With().Str("candidate", id.String()).Str("method", string(method)).Logger()

	ok, err := e.prober.Probe(pctx, id)
	res.ProbedAt = e.now()
	switch {
	case err != nil:
		res.Verdict = types.VerdictUnreachable
		res.Error = err.Error()
	case ok:
		res.Verdict = types.VerdictConfirmed
	default:
		res.Verdict = types.VerdictUnreachable
	}
	e.metrics.ObserveProbe(res.Verdict)

	if rerr := e.store.RecordProbe(pctx, &types.ProbeRecord{
		Candidate: id,
		Method:    method,
		Verdict:   res.Verdict,
		ProbedAt:  res.ProbedAt,
		Error:     res.Error,
	}); rerr != nil {
		logger.Error().Err(rerr).Msg("Recording probe failed")
	}

	if res.Verdict != types.VerdictConfirmed {
		logger.Debug().Str("error", res.Error).Msg("Candidate unreachable")
		return res
	}

	priority := types.PriorityNormal
	if e.highPrio[id.Host] {
		priority = types.PriorityHigh
	}
	status, err := e.store.RegisterChannel(pctx, &types.Channel{
		ID:              id,
		DiscoveryMethod: method,
		FirstSeen:       res.ProbedAt,
		Enabled:         true,
		Priority:        priority,
	})
	if err != nil {
		// Confirmed but not merged; the next run will try again.
		logger.Error().Err(err).Msg("Registering channel failed")
		res.Error = err.Error()
		return res
	}

	switch status {
	case types.RegisterInserted:
		res.Merge = types.MergeInserted
		logger.Info().Str("priority", string(priority)).Msg("Discovered channel")
	default:
		res.Merge = types.MergeAlreadyPresent
	}
	return res
}

// Plan returns the first-wave candidates each strategy would generate now,
// without probing. Hub sub-channels depend on probe results and are left out.
func (e *Engine) Plan(ctx context.Context) ([]types.DiscoveryResult, error) {
	run := newRun(e.store)
	var out []types.DiscoveryResult
	for _, strategy := range e.strategies {
		candidates, err := strategy.Candidates(ctx, run)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", strategy.Name(), err)
		}
		for _, id := range run.claim(candidates) {
			out = append(out, types.DiscoveryResult{
				Candidate: id,
				Method:    strategy.Method(),
				Verdict:   types.VerdictUnknown,
			})
		}
	}
	return out, nil
}
