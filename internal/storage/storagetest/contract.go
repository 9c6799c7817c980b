// Package storagetest holds behavioural tests every storage backend must pass.
package storagetest

import (
	"context"
	"fmt"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipwatch/shipwatch/internal/types"
)

// Backend is the surface exercised by the contract. It mirrors storage.Storage
// without importing it (storage imports the backends).
type Backend interface {
	RegisterChannel(ctx context.Context, ch *types.Channel) (types.RegisterStatus, error)
	ListChannels(ctx context.Context, filter types.ListFilter) ([]*types.Channel, error)
	GetChannel(ctx context.Context, id types.ChannelID) (*types.Channel, error)
	DisableChannel(ctx context.Context, id types.ChannelID) error
	EnableChannel(ctx context.Context, id types.ChannelID) error

	AppendEvents(ctx context.Context, channel types.ChannelID, events []types.ActivityEvent) (int, error)
	Aggregate(ctx context.Context, channel types.ChannelID) (*types.ChannelAggregate, error)
	EventsSince(ctx context.Context, channel types.ChannelID, since int64) iter.Seq2[types.ActivityEvent, error]
	CountEventsThrough(ctx context.Context, channel types.ChannelID, through int64) (int, error)
	RecomputeAggregate(ctx context.Context, channel types.ChannelID) (*types.ChannelAggregate, error)
	RecordPollResult(ctx context.Context, channel types.ChannelID, status types.PollStatus, errMsg string) error

	MarkAnalysisPending(ctx context.Context, channel types.ChannelID) error
	RecordAnalysisFailure(ctx context.Context, channel types.ChannelID, errMsg string) error
	CommitAnalysis(ctx context.Context, analysis *types.Analysis) error
	RecentAnalyses(ctx context.Context, channel types.ChannelID, limit int) ([]*types.Analysis, error)

	RecordProbe(ctx context.Context, rec *types.ProbeRecord) error
	ProbedCandidates(ctx context.Context, host string) (map[string]time.Time, error)
	RecentProbes(ctx context.Context, limit int) ([]*types.ProbeRecord, error)

	RecordPass(ctx context.Context, rec *types.PassRecord) error
	RecentPasses(ctx context.Context, kind types.PassKind, limit int) ([]*types.PassRecord, error)
}

// Run executes the contract against fresh backends from open
func Run(t *testing.T, open func(t *testing.T) Backend) {
	t.Run("RegistryIdempotent", func(t *testing.T) { testRegistryIdempotent(t, open(t)) })
	t.Run("RegistryOrder", func(t *testing.T) { testRegistryOrder(t, open(t)) })
	t.Run("RegistryUnknownIDs", func(t *testing.T) { testRegistryUnknownIDs(t, open(t)) })
	t.Run("RegistryExactMatch", func(t *testing.T) { testRegistryExactMatch(t, open(t)) })
	t.Run("AppendDedup", func(t *testing.T) { testAppendDedup(t, open(t)) })
	t.Run("AggregateConsistency", func(t *testing.T) { testAggregateConsistency(t, open(t)) })
	t.Run("EventsSinceRestartable", func(t *testing.T) { testEventsSinceRestartable(t, open(t)) })
	t.Run("EventsSinceEarlyStop", func(t *testing.T) { testEventsSinceEarlyStop(t, open(t)) })
	t.Run("RecomputeAggregate", func(t *testing.T) { testRecomputeAggregate(t, open(t)) })
	t.Run("PollResults", func(t *testing.T) { testPollResults(t, open(t)) })
	t.Run("AnalysisLifecycle", func(t *testing.T) { testAnalysisLifecycle(t, open(t)) })
	t.Run("AnalysisCursorNeverMovesBack", func(t *testing.T) { testAnalysisCursorNeverMovesBack(t, open(t)) })
	t.Run("ProbeLog", func(t *testing.T) { testProbeLog(t, open(t)) })
	t.Run("PassLog", func(t *testing.T) { testPassLog(t, open(t)) })
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func channel(id string, firstSeen time.Time) *types.Channel {
	return &types.Channel{
		ID:              types.MustParseChannelID(id),
		DiscoveryMethod: types.MethodStatic,
		FirstSeen:       firstSeen,
		Enabled:         true,
		Priority:        types.PriorityNormal,
	}
}

// Events builds n events with cursors from..from+n-1, authored round-robin by authors
func Events(id types.ChannelID, from int64, n int, authors ...string) []types.ActivityEvent {
	if len(authors) == 0 {
		authors = []string{"~zod"}
	}
	events := make([]types.ActivityEvent, 0, n)
	for i := 0; i < n; i++ {
		cursor := from + int64(i)
		events = append(events, types.ActivityEvent{
			Channel:   id,
			Author:    authors[i%len(authors)],
			Timestamp: base.Add(time.Duration(cursor) * time.Minute),
			Content:   fmt.Sprintf("message %d", cursor),
			Cursor:    cursor,
		})
	}
	return events
}

func collect(t *testing.T, b Backend, id types.ChannelID, since int64) []types.ActivityEvent {
	t.Helper()
	var out []types.ActivityEvent
	for ev, err := range b.EventsSince(context.Background(), id, since) {
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func testRegistryIdempotent(t *testing.T, b Backend) {
	ctx := context.Background()

	status, err := b.RegisterChannel(ctx, channel("~zod/general", base))
	require.NoError(t, err)
	assert.Equal(t, types.RegisterInserted, status)

	dup := channel("~zod/general", base.Add(time.Hour))
	dup.DiscoveryMethod = types.MethodPattern
	status, err = b.RegisterChannel(ctx, dup)
	require.NoError(t, err)
	assert.Equal(t, types.RegisterAlreadyPresent, status)

	all, err := b.ListChannels(ctx, types.FilterAll)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, types.MethodStatic, all[0].DiscoveryMethod, "first registration wins")
	assert.True(t, all[0].FirstSeen.Equal(base))
}

func testRegistryOrder(t *testing.T, b Backend) {
	ctx := context.Background()

	for _, ch := range []*types.Channel{
		channel("~nus/chat", base.Add(2*time.Minute)),
		channel("~zod/general", base),
		channel("~bus/random", base.Add(time.Minute)),
		channel("~bus/chat", base.Add(time.Minute)),
	} {
		_, err := b.RegisterChannel(ctx, ch)
		require.NoError(t, err)
	}
	require.NoError(t, b.DisableChannel(ctx, types.MustParseChannelID("~bus/random")))

	all, err := b.ListChannels(ctx, types.FilterAll)
	require.NoError(t, err)
	var ids []string
	for _, ch := range all {
		ids = append(ids, ch.ID.String())
	}
	assert.Equal(t, []string{"~zod/general", "~bus/chat", "~bus/random", "~nus/chat"}, ids)

	enabled, err := b.ListChannels(ctx, types.FilterEnabled)
	require.NoError(t, err)
	ids = ids[:0]
	for _, ch := range enabled {
		ids = append(ids, ch.ID.String())
	}
	assert.Equal(t, []string{"~zod/general", "~bus/chat", "~nus/chat"}, ids)

	require.NoError(t, b.EnableChannel(ctx, types.MustParseChannelID("~bus/random")))
	enabled, err = b.ListChannels(ctx, types.FilterEnabled)
	require.NoError(t, err)
	assert.Len(t, enabled, 4)
}

func testRegistryUnknownIDs(t *testing.T, b Backend) {
	ctx := context.Background()
	unknown := types.MustParseChannelID("~zod/nowhere")

	assert.NoError(t, b.DisableChannel(ctx, unknown))
	assert.NoError(t, b.EnableChannel(ctx, unknown))

	_, err := b.GetChannel(ctx, unknown)
	assert.ErrorIs(t, err, types.ErrNotFound)

	all, err := b.ListChannels(ctx, types.FilterAll)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func testRegistryExactMatch(t *testing.T, b Backend) {
	ctx := context.Background()

	_, err := b.RegisterChannel(ctx, channel("~zod/general", base))
	require.NoError(t, err)
	status, err := b.RegisterChannel(ctx, channel("~zod/General", base))
	require.NoError(t, err)
	assert.Equal(t, types.RegisterInserted, status)

	got, err := b.GetChannel(ctx, types.MustParseChannelID("~zod/General"))
	require.NoError(t, err)
	assert.Equal(t, "General", got.ID.Name)
}

func testAppendDedup(t *testing.T, b Backend) {
	ctx := context.Background()
	id := types.MustParseChannelID("~zod/general")

	n, err := b.AppendEvents(ctx, id, Events(id, 1, 3, "~zod", "~nus"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Overlapping re-fetch plus an in-batch duplicate
	batch := append(Events(id, 2, 3, "~zod"), Events(id, 4, 1, "~bus")...)
	n, err = b.AppendEvents(ctx, id, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only cursor 4 is new")

	agg, err := b.Aggregate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 4, agg.TotalEvents)
	assert.Equal(t, 2, agg.DistinctAuthors)
	assert.Equal(t, int64(4), agg.LastCursor)

	n, err = b.AppendEvents(ctx, id, Events(id, 1, 4))
	require.NoError(t, err)
	assert.Zero(t, n)

	again, err := b.Aggregate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, agg.TotalEvents, again.TotalEvents)

	n, err = b.AppendEvents(ctx, id, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testAggregateConsistency(t *testing.T, b Backend) {
	ctx := context.Background()
	a := types.MustParseChannelID("~zod/general")
	c := types.MustParseChannelID("~nus/chat")

	empty, err := b.Aggregate(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, types.CursorStart, empty.LastCursor)
	assert.Nil(t, empty.LastEventAt)

	_, err = b.AppendEvents(ctx, a, Events(a, 10, 7, "~zod", "~nus", "~bus"))
	require.NoError(t, err)
	_, err = b.AppendEvents(ctx, a, Events(a, 15, 5, "~wes"))
	require.NoError(t, err)
	_, err = b.AppendEvents(ctx, c, Events(c, 1, 2))
	require.NoError(t, err)

	// CursorStart is reserved: EventsSince(CursorStart) could never yield it
	reserved := Events(c, 3, 2)
	reserved[1].Cursor = types.CursorStart
	n, err := b.AppendEvents(ctx, c, reserved)
	require.ErrorIs(t, err, types.ErrInvalidEvent)
	assert.Zero(t, n)

	for _, id := range []types.ChannelID{a, c} {
		agg, err := b.Aggregate(ctx, id)
		require.NoError(t, err)

		events := collect(t, b, id, types.CursorStart)
		cursors := make(map[int64]bool)
		authors := make(map[string]bool)
		var latest time.Time
		for _, ev := range events {
			cursors[ev.Cursor] = true
			authors[ev.Author] = true
			if ev.Timestamp.After(latest) {
				latest = ev.Timestamp
			}
			assert.Equal(t, id, ev.Channel)
		}
		assert.Equal(t, len(cursors), agg.TotalEvents, "channel %s", id)
		assert.Equal(t, len(authors), agg.DistinctAuthors, "channel %s", id)
		require.NotNil(t, agg.LastEventAt)
		assert.True(t, agg.LastEventAt.Equal(latest))
	}

	agg, err := b.Aggregate(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 10, agg.TotalEvents)
	assert.Equal(t, 4, agg.DistinctAuthors)
	assert.Equal(t, int64(19), agg.LastCursor)
}

func testEventsSinceRestartable(t *testing.T, b Backend) {
	ctx := context.Background()
	id := types.MustParseChannelID("~zod/general")

	// Out-of-order batch is stored and read back in cursor order
	events := Events(id, 1, 1200)
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	n, err := b.AppendEvents(ctx, id, events)
	require.NoError(t, err)
	require.Equal(t, 1200, n)

	all := collect(t, b, id, types.CursorStart)
	require.Len(t, all, 1200)
	for i, ev := range all {
		assert.Equal(t, int64(i+1), ev.Cursor)
	}

	tail := collect(t, b, id, 1195)
	require.Len(t, tail, 5)
	assert.Equal(t, int64(1196), tail[0].Cursor)
	assert.Equal(t, "message 1196", tail[0].Content)

	assert.Empty(t, collect(t, b, id, 1200))
	assert.Len(t, collect(t, b, id, types.CursorStart), 1200, "second full read")

	count, err := b.CountEventsThrough(ctx, id, 600)
	require.NoError(t, err)
	assert.Equal(t, 600, count)
	count, err = b.CountEventsThrough(ctx, id, types.CursorStart)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func testEventsSinceEarlyStop(t *testing.T, b Backend) {
	ctx := context.Background()
	id := types.MustParseChannelID("~zod/general")
	_, err := b.AppendEvents(ctx, id, Events(id, 1, 10))
	require.NoError(t, err)

	var seen []int64
	for ev, err := range b.EventsSince(ctx, id, types.CursorStart) {
		require.NoError(t, err)
		seen = append(seen, ev.Cursor)
		if len(seen) == 3 {
			break
		}
	}
	assert.Equal(t, []int64{1, 2, 3}, seen)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	var gotErr error
	for _, err := range b.EventsSince(canceled, id, types.CursorStart) {
		if err != nil {
			gotErr = err
			break
		}
	}
	assert.ErrorIs(t, gotErr, context.Canceled)
}

func testRecomputeAggregate(t *testing.T, b Backend) {
	ctx := context.Background()
	id := types.MustParseChannelID("~zod/general")

	_, err := b.AppendEvents(ctx, id, Events(id, 1, 6, "~zod", "~nus"))
	require.NoError(t, err)
	require.NoError(t, b.RecordPollResult(ctx, id, types.PollOK, ""))
	require.NoError(t, b.CommitAnalysis(ctx, &types.Analysis{
		ID: "a1", Channel: id, FromCursor: 1, ToCursor: 5, EventCount: 5, Summary: "s",
	}))

	before, err := b.Aggregate(ctx, id)
	require.NoError(t, err)

	after, err := b.RecomputeAggregate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.TotalEvents, after.TotalEvents)
	assert.Equal(t, before.DistinctAuthors, after.DistinctAuthors)
	assert.Equal(t, before.LastCursor, after.LastCursor)
	assert.Equal(t, int64(5), after.LastAnalyzedCursor, "analysis bookkeeping survives")
	assert.Equal(t, types.PollOK, after.LastPollStatus, "poll bookkeeping survives")

	empty, err := b.RecomputeAggregate(ctx, types.MustParseChannelID("~nus/empty"))
	require.NoError(t, err)
	assert.Zero(t, empty.TotalEvents)
	assert.Equal(t, types.CursorStart, empty.LastCursor)
}

func testPollResults(t *testing.T, b Backend) {
	ctx := context.Background()
	id := types.MustParseChannelID("~zod/general")

	require.NoError(t, b.RecordPollResult(ctx, id, types.PollUnreachable, "connection refused"))
	require.NoError(t, b.RecordPollResult(ctx, id, types.PollMalformed, "bad json"))

	agg, err := b.Aggregate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.PollMalformed, agg.LastPollStatus)
	assert.Equal(t, "bad json", agg.LastPollError)
	assert.Equal(t, 2, agg.ConsecutiveFailures)
	require.NotNil(t, agg.LastPolledAt)
	assert.Zero(t, agg.TotalEvents)

	require.NoError(t, b.RecordPollResult(ctx, id, types.PollOK, ""))
	agg, err = b.Aggregate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.PollOK, agg.LastPollStatus)
	assert.Zero(t, agg.ConsecutiveFailures)
	assert.Empty(t, agg.LastPollError)
}

func testAnalysisLifecycle(t *testing.T, b Backend) {
	ctx := context.Background()
	id := types.MustParseChannelID("~zod/general")
	_, err := b.AppendEvents(ctx, id, Events(id, 1, 5))
	require.NoError(t, err)

	require.NoError(t, b.MarkAnalysisPending(ctx, id))
	require.NoError(t, b.RecordAnalysisFailure(ctx, id, "rate limited"))
	require.NoError(t, b.RecordAnalysisFailure(ctx, id, "overloaded"))

	agg, err := b.Aggregate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.AnalysisPending, agg.AnalysisState)
	assert.Equal(t, 2, agg.AnalysisFailures)
	assert.Equal(t, "overloaded", agg.LastAnalysisError)
	assert.Equal(t, types.CursorStart, agg.LastAnalyzedCursor)
	assert.Equal(t, 5, agg.TotalEvents)

	require.NoError(t, b.CommitAnalysis(ctx, &types.Analysis{
		ID: "a1", Channel: id, FromCursor: 1, ToCursor: 5, EventCount: 5,
		Summary: "five messages", CreatedAt: base,
	}))

	agg, err = b.Aggregate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.AnalysisIdle, agg.AnalysisState)
	assert.Equal(t, int64(5), agg.LastAnalyzedCursor)
	assert.Zero(t, agg.AnalysisFailures)
	require.NotNil(t, agg.LastAnalyzedAt)

	require.NoError(t, b.CommitAnalysis(ctx, &types.Analysis{
		ID: "a2", Channel: id, FromCursor: 6, ToCursor: 6, EventCount: 1,
		Summary: "later", CreatedAt: base.Add(time.Hour),
	}))

	recent, err := b.RecentAnalyses(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "a2", recent[0].ID)
	assert.Equal(t, "five messages", recent[1].Summary)
	assert.Equal(t, int64(1), recent[1].FromCursor)

	recent, err = b.RecentAnalyses(ctx, id, 1)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func testAnalysisCursorNeverMovesBack(t *testing.T, b Backend) {
	ctx := context.Background()
	id := types.MustParseChannelID("~zod/general")

	require.NoError(t, b.CommitAnalysis(ctx, &types.Analysis{ID: "a1", Channel: id, FromCursor: 1, ToCursor: 10, EventCount: 10}))
	require.NoError(t, b.CommitAnalysis(ctx, &types.Analysis{ID: "a2", Channel: id, FromCursor: 1, ToCursor: 4, EventCount: 4}))

	agg, err := b.Aggregate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(10), agg.LastAnalyzedCursor)
}

func testProbeLog(t *testing.T, b Backend) {
	ctx := context.Background()
	general := types.MustParseChannelID("~zod/general")
	chat := types.MustParseChannelID("~zod/chat")
	other := types.MustParseChannelID("~nus/chat")

	require.NoError(t, b.RecordProbe(ctx, &types.ProbeRecord{
		Candidate: general, Method: types.MethodPattern, Verdict: types.VerdictUnreachable,
		ProbedAt: base, Error: "404",
	}))
	require.NoError(t, b.RecordProbe(ctx, &types.ProbeRecord{
		Candidate: general, Method: types.MethodExploration, Verdict: types.VerdictConfirmed,
		ProbedAt: base.Add(time.Hour),
	}))
	require.NoError(t, b.RecordProbe(ctx, &types.ProbeRecord{
		Candidate: chat, Method: types.MethodPattern, Verdict: types.VerdictConfirmed, ProbedAt: base,
	}))
	require.NoError(t, b.RecordProbe(ctx, &types.ProbeRecord{
		Candidate: other, Method: types.MethodHub, Verdict: types.VerdictConfirmed, ProbedAt: base,
	}))

	probed, err := b.ProbedCandidates(ctx, "~zod")
	require.NoError(t, err)
	assert.Len(t, probed, 2)
	assert.True(t, probed["~zod/general"].Equal(base.Add(time.Hour)))
	assert.Contains(t, probed, "~zod/chat")

	recent, err := b.RecentProbes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, general, recent[0].Candidate)
	assert.Equal(t, types.VerdictConfirmed, recent[0].Verdict)
	assert.Equal(t, types.MethodExploration, recent[0].Method)
	assert.Equal(t, 2, recent[0].Attempts)
	assert.Empty(t, recent[0].Error)
}

func testPassLog(t *testing.T, b Backend) {
	ctx := context.Background()

	for i, kind := range []types.PassKind{types.PassPoll, types.PassDiscover, types.PassPoll} {
		started := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, b.RecordPass(ctx, &types.PassRecord{
			ID: fmt.Sprintf("p%d", i), Kind: kind,
			StartedAt: started, FinishedAt: started.Add(time.Second),
			Summary: `{"channels_polled":1}`,
		}))
	}

	polls, err := b.RecentPasses(ctx, types.PassPoll, 10)
	require.NoError(t, err)
	require.Len(t, polls, 2)
	assert.Equal(t, "p2", polls[0].ID)
	assert.JSONEq(t, `{"channels_polled":1}`, polls[0].Summary)

	all, err := b.RecentPasses(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	one, err := b.RecentPasses(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "p2", one[0].ID)
}
