package storage

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/shipwatch/shipwatch/internal/storage/memory"
	"github.com/shipwatch/shipwatch/internal/storage/sqlite"
	"github.com/shipwatch/shipwatch/internal/types"
)

// ErrNotFound is returned by lookups that require the channel to exist.
// Mutations never return it: unknown ids are a no-op.
var ErrNotFound = types.ErrNotFound

// RegisterStatus reports the outcome of an idempotent registration
type RegisterStatus = types.RegisterStatus

// ListFilter selects channels from the registry
type ListFilter = types.ListFilter

// ChannelRegistry is the durable set of known channels
type ChannelRegistry interface {
	// RegisterChannel inserts the channel unless its id is already present.
	// Duplicates are reported through the status, never as an error.
	RegisterChannel(ctx context.Context, ch *types.Channel) (RegisterStatus, error)

	// ListChannels returns channels ordered by first-seen ascending, ties broken
	// by canonical id.
	ListChannels(ctx context.Context, filter ListFilter) ([]*types.Channel, error)

	// GetChannel returns ErrNotFound for unknown ids.
	GetChannel(ctx context.Context, id types.ChannelID) (*types.Channel, error)

	// DisableChannel and EnableChannel are no-ops for unknown ids.
	DisableChannel(ctx context.Context, id types.ChannelID) error
	EnableChannel(ctx context.Context, id types.ChannelID) error
}

// ActivityStore is the append-only per-channel event log plus its aggregates
type ActivityStore interface {
	// AppendEvents stores events whose cursor is not yet stored for the channel
	// and returns how many were accepted. The events and the aggregate update
	// commit together or not at all.
	AppendEvents(ctx context.Context, channel types.ChannelID, events []types.ActivityEvent) (int, error)

	// Aggregate returns the channel's counters. Channels with no events get an
	// empty aggregate.
	Aggregate(ctx context.Context, channel types.ChannelID) (*types.ChannelAggregate, error)

	// EventsSince yields events with cursor > since in ascending cursor order.
	EventsSince(ctx context.Context, channel types.ChannelID, since int64) iter.Seq2[types.ActivityEvent, error]

	// CountEventsThrough counts stored events with cursor <= through.
	CountEventsThrough(ctx context.Context, channel types.ChannelID, through int64) (int, error)

	// RecomputeAggregate rebuilds the event counters from the stored events.
	RecomputeAggregate(ctx context.Context, channel types.ChannelID) (*types.ChannelAggregate, error)

	// RecordPollResult updates the poll bookkeeping fields of the aggregate.
	RecordPollResult(ctx context.Context, channel types.ChannelID, status types.PollStatus, errMsg string) error
}

// AnalysisLog records trigger state and stored summaries
type AnalysisLog interface {
	// MarkAnalysisPending flags the channel as awaiting a successful analysis.
	MarkAnalysisPending(ctx context.Context, channel types.ChannelID) error

	// RecordAnalysisFailure keeps the channel pending and counts the failure.
	RecordAnalysisFailure(ctx context.Context, channel types.ChannelID, errMsg string) error

	// CommitAnalysis stores the summary and advances the last-analyzed cursor
	// (never backwards), returning the channel to idle, in one transaction.
	CommitAnalysis(ctx context.Context, analysis *types.Analysis) error

	// RecentAnalyses returns the newest summaries for a channel.
	RecentAnalyses(ctx context.Context, channel types.ChannelID, limit int) ([]*types.Analysis, error)
}

// ProbeLog persists the latest probe of every discovery candidate
type ProbeLog interface {
	RecordProbe(ctx context.Context, rec *types.ProbeRecord) error
	// ProbedCandidates returns the set of canonical ids probed at least once.
	ProbedCandidates(ctx context.Context, host string) (map[string]time.Time, error)
	RecentProbes(ctx context.Context, limit int) ([]*types.ProbeRecord, error)
}

// PassLog persists pass summaries for the operational layer
type PassLog interface {
	RecordPass(ctx context.Context, rec *types.PassRecord) error
	RecentPasses(ctx context.Context, kind types.PassKind, limit int) ([]*types.PassRecord, error)
}

// Storage is the full persistence surface
type Storage interface {
	ChannelRegistry
	ActivityStore
	AnalysisLog
	ProbeLog
	PassLog

	// Lifecycle
	Close() error
}

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path
	// Default: ".shipwatch/shipwatch.db"
	// Special value ":memory:" selects the in-process backend (useful for tests)
	Path string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path: DefaultDatabasePath,
	}
}

// NewStorage opens the storage backend selected by cfg
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if cfg.Path == "" {
		cfg.Path = DefaultDatabasePath
	}

	if cfg.Path == ":memory:" {
		return memory.New(), nil
	}

	return sqlite.New(ctx, cfg.Path)
}

// IsNotFound reports whether err is a missing-channel lookup error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Compile-time checks that both backends implement Storage
var (
	_ Storage = (*sqlite.SQLiteStorage)(nil)
	_ Storage = (*memory.Store)(nil)
)
