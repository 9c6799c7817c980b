// Package trigger decides when a channel has accumulated enough unanalyzed
// activity, hands that activity to the summarizer and records the result.
//
// Each channel moves idle -> pending when
//
//	TotalEvents - CountEventsThrough(LastAnalyzedCursor) >= MinMessages
//
// and returns to idle only when a summary is committed together with the
// advanced cursor. A failed call leaves the channel pending with its
// unanalyzed range intact, so the next evaluation retries it.
package trigger

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shipwatch/shipwatch/internal/metrics"
	"github.com/shipwatch/shipwatch/internal/types"
)

// Summarizer turns formatted channel activity into a summary
type Summarizer interface {
	Summarize(ctx context.Context, channel types.ChannelID, text string) (string, error)
}

// Store is the slice of storage the trigger needs
type Store interface {
	ListChannels(ctx context.Context, filter types.ListFilter) ([]*types.Channel, error)
	Aggregate(ctx context.Context, channel types.ChannelID) (*types.ChannelAggregate, error)
	CountEventsThrough(ctx context.Context, channel types.ChannelID, through int64) (int, error)
	EventsSince(ctx context.Context, channel types.ChannelID, since int64) iter.Seq2[types.ActivityEvent, error]
	MarkAnalysisPending(ctx context.Context, channel types.ChannelID) error
	RecordAnalysisFailure(ctx context.Context, channel types.ChannelID, errMsg string) error
	CommitAnalysis(ctx context.Context, analysis *types.Analysis) error
}

// Config controls an evaluation
type Config struct {
	// MinMessages is the unanalyzed count that makes a channel pending (default 5)
	MinMessages int
	// MaxBatchEvents caps one summarization call; the rest waits for the
	// next evaluation (default 200)
	MaxBatchEvents int
	// Timeout bounds one summarization call, retries included (default 2m)
	Timeout time.Duration
}

// Outcome is what happened to one channel
type Outcome string

const (
	OutcomeIdle     Outcome = "idle"     // below threshold
	OutcomeAnalyzed Outcome = "analyzed" // summary committed
	OutcomeFailed   Outcome = "failed"   // still pending
)

// ChannelOutcome reports one evaluated channel
type ChannelOutcome struct {
	Channel    types.ChannelID `json:"channel"`
	Unanalyzed int             `json:"unanalyzed"`
	Outcome    Outcome         `json:"outcome"`
	AnalysisID string          `json:"analysis_id,omitempty"`
	FromCursor int64           `json:"from_cursor,omitempty"`
	ToCursor   int64           `json:"to_cursor,omitempty"`
	EventCount int             `json:"event_count,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// EvaluationSummary is the outcome of one Evaluate call
type EvaluationSummary struct {
	StartedAt         time.Time        `json:"started_at"`
	FinishedAt        time.Time        `json:"finished_at"`
	ChannelsEvaluated int              `json:"channels_evaluated"`
	Pending           int              `json:"pending"`
	Analyzed          int              `json:"analyzed"`
	Failed            int              `json:"failed"`
	Interrupted       bool             `json:"interrupted"`
	Outcomes          []ChannelOutcome `json:"outcomes,omitempty"`
}

// Trigger evaluates channels against the analysis threshold
type Trigger struct {
	store      Store
	summarizer Summarizer
	cfg        Config
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates a trigger. m may be nil.
func New(store Store, summarizer Summarizer, cfg Config, m *metrics.Metrics, logger zerolog.Logger) *Trigger {
	if cfg.MinMessages < 1 {
		cfg.MinMessages = 5
	}
	if cfg.MaxBatchEvents < 1 {
		cfg.MaxBatchEvents = 200
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Trigger{
		store:      store,
		summarizer: summarizer,
		cfg:        cfg,
		metrics:    m,
		logger:     logger.With().Str("component", "trigger").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate checks every enabled channel once, in registry order, and runs
// at most one summarization per pending channel. Cancelling ctx stops the
// evaluation before the next channel; a call already in flight finishes.
//
// Only a failure to read the registry is returned as an error.
func (t *Trigger) Evaluate(ctx context.Context) (*EvaluationSummary, error) {
	summary := &EvaluationSummary{StartedAt: t.now()}

	channels, err := t.store.ListChannels(ctx, types.FilterEnabled)
	if err != nil {
		return nil, err
	}

	for _, ch := range channels {
		if ctx.Err() != nil {
			summary.Interrupted = true
			break
		}

		out, err := t.evaluateChannel(ctx, ch.ID)
		if err != nil {
			// Storage trouble on one channel does not stop the others.
			t.logger.Error().Err(err).Str("channel", ch.ID.String()).Msg("Evaluating channel failed")
			out = ChannelOutcome{Channel: ch.ID, Outcome: OutcomeFailed, Error: err.Error()}
		}

		summary.ChannelsEvaluated++
		switch out.Outcome {
		case OutcomeAnalyzed:
			summary.Pending++
			summary.Analyzed++
		case OutcomeFailed:
			summary.Pending++
			summary.Failed++
		}
		if out.Outcome != OutcomeIdle {
			summary.Outcomes = append(summary.Outcomes, out)
		}
	}

	summary.FinishedAt = t.now()
	t.metrics.SetPending(summary.Failed)

	t.logger.Info().
		Int("evaluated", summary.ChannelsEvaluated).
		Int("pending", summary.Pending).
		Int("analyzed", summary.Analyzed).
		Int("failed", summary.Failed).
		Bool("interrupted", summary.Interrupted).
		Msg("Analysis evaluation complete")

	return summary, nil
}

func (t *Trigger) evaluateChannel(ctx context.Context, id types.ChannelID) (ChannelOutcome, error) {
	out := ChannelOutcome{Channel: id, Outcome: OutcomeIdle}

	agg, err := t.store.Aggregate(ctx, id)
	if err != nil {
		return out, fmt.Errorf("reading aggregate: %w", err)
	}
	analyzed, err := t.store.CountEventsThrough(ctx, id, agg.LastAnalyzedCursor)
	if err != nil {
		return out, fmt.Errorf("counting analyzed events: %w", err)
	}
	out.Unanalyzed = agg.TotalEvents - analyzed

	if out.Unanalyzed <= 0 {
		return out, nil
	}
	if out.Unanalyzed < t.cfg.MinMessages && agg.AnalysisState != types.AnalysisPending {
		return out, nil
	}

	if agg.AnalysisState != types.AnalysisPending {
		if err := t.store.MarkAnalysisPending(ctx, id); err != nil {
			return out, fmt.Errorf("marking pending: %w", err)
		}
	}

	return t.analyze(ctx, id, agg.LastAnalyzedCursor, out)
}

// analyze summarizes the oldest unanalyzed batch. It runs detached from
// ctx's cancellation, bounded by the configured timeout.
func (t *Trigger) analyze(ctx context.Context, id types.ChannelID, since int64, out ChannelOutcome) (ChannelOutcome, error) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.cfg.Timeout)
	defer cancel()

	logger := t.logger.With().Str("channel", id.String()).Logger()

	batch, err := t.collectBatch(actx, id, since)
	if err != nil {
		return out, fmt.Errorf("reading events: %w", err)
	}
	if len(batch) == 0 {
		return out, nil
	}
	out.FromCursor = batch[0].Cursor
	out.ToCursor = batch[len(batch)-1].Cursor
	out.EventCount = len(batch)

	start := time.Now()
	text, err := t.summarizer.Summarize(actx, id, FormatActivity(batch))
	t.metrics.ObserveAnalysis(time.Since(start), err)
	if err != nil {
		return t.fail(actx, logger, out, err)
	}

	analysis := &types.Analysis{
		ID:         uuid.NewString(),
		Channel:    id,
		FromCursor: out.FromCursor,
		ToCursor:   out.ToCursor,
		EventCount: out.EventCount,
		Summary:    text,
		CreatedAt:  t.now(),
	}
	if err := t.store.CommitAnalysis(actx, analysis); err != nil {
		return t.fail(actx, logger, out, fmt.Errorf("committing analysis: %w", err))
	}

	logger.Info().
		Str("analysis_id", analysis.ID).
		Int("events", analysis.EventCount).
		Int64("to_cursor", analysis.ToCursor).
		Msg("Channel analyzed")

	out.Outcome = OutcomeAnalyzed
	out.AnalysisID = analysis.ID
	return out, nil
}

func (t *Trigger) fail(ctx context.Context, logger zerolog.Logger, out ChannelOutcome, cause error) (ChannelOutcome, error) {
	logger.Warn().Err(cause).Int("unanalyzed", out.Unanalyzed).Msg("Analysis failed, channel stays pending")
	if err := t.store.RecordAnalysisFailure(ctx, out.Channel, cause.Error()); err != nil {
		logger.Error().Err(err).Msg("Recording analysis failure failed")
	}
	out.Outcome = OutcomeFailed
	out.Error = cause.Error()
	return out, nil
}

func (t *Trigger) collectBatch(ctx context.Context, id types.ChannelID, since int64) ([]types.ActivityEvent, error) {
	batch := make([]types.ActivityEvent, 0, t.cfg.MaxBatchEvents)
	for ev, err := range t.store.EventsSince(ctx, id, since) {
		if err != nil {
			return nil, err
		}
		batch = append(batch, ev)
		if len(batch) >= t.cfg.MaxBatchEvents {
			break
		}
	}
	return batch, nil
}
