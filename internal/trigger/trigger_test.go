package trigger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipwatch/shipwatch/internal/storage/memory"
	"github.com/shipwatch/shipwatch/internal/storage/storagetest"
	"github.com/shipwatch/shipwatch/internal/types"
)

type call struct {
	channel types.ChannelID
	text    string
}

type fakeSummarizer struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, channel types.ChannelID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{channel: channel, text: text})
	if f.err != nil {
		return "", f.err
	}
	return "summary of " + channel.String(), nil
}

func (f *fakeSummarizer) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSummarizer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var c1 = types.MustParseChannelID("~zod/general")

func setup(t *testing.T, cfg Config) (*memory.Store, *fakeSummarizer, *Trigger) {
	t.Helper()
	store := memory.New()
	_, err := store.RegisterChannel(context.Background(), &types.Channel{
		ID:              c1,
		DiscoveryMethod: types.MethodStatic,
		Enabled:         true,
		Priority:        types.PriorityNormal,
	})
	require.NoError(t, err)

	sum := &fakeSummarizer{}
	return store, sum, New(store, sum, cfg, nil, zerolog.Nop())
}

func appendEvents(t *testing.T, store *memory.Store, from int64, n int) {
	t.Helper()
	_, err := store.AppendEvents(context.Background(), c1, storagetest.Events(c1, from, n, "~zod", "~nec"))
	require.NoError(t, err)
}

func TestThresholdScenario(t *testing.T) {
	ctx := context.Background()
	store, sum, trig := setup(t, Config{MinMessages: 5})

	appendEvents(t, store, 1, 4)
	summary, err := trig.Evaluate(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Pending)
	assert.Zero(t, sum.count(), "total=4 stays idle")

	agg, err := store.Aggregate(ctx, c1)
	require.NoError(t, err)
	assert.Equal(t, types.AnalysisIdle, agg.AnalysisState)

	appendEvents(t, store, 5, 1)
	summary, err = trig.Evaluate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Analyzed)
	require.Equal(t, 1, sum.count())
	require.Len(t, summary.Outcomes, 1)
	assert.Equal(t, int64(1), summary.Outcomes[0].FromCursor)
	assert.Equal(t, int64(5), summary.Outcomes[0].ToCursor)
	assert.Equal(t, 5, summary.Outcomes[0].EventCount)
	assert.Contains(t, sum.calls[0].text, "message 1")
	assert.Contains(t, sum.calls[0].text, "message 5")

	agg, err = store.Aggregate(ctx, c1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), agg.LastAnalyzedCursor)
	assert.Equal(t, types.AnalysisIdle, agg.AnalysisState)

	analyses, err := store.RecentAnalyses(ctx, c1, 10)
	require.NoError(t, err)
	require.Len(t, analyses, 1)
	assert.Equal(t, "summary of ~zod/general", analyses[0].Summary)
	assert.Equal(t, summary.Outcomes[0].AnalysisID, analyses[0].ID)

	// Nothing new: no further calls.
	_, err = trig.Evaluate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.count())
}

func TestFailureKeepsChannelPending(t *testing.T) {
	ctx := context.Background()
	store, sum, trig := setup(t, Config{MinMessages: 5})

	appendEvents(t, store, 1, 5)
	sum.setErr(errors.New("provider overloaded"))

	summary, err := trig.Evaluate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	agg, err := store.Aggregate(ctx, c1)
	require.NoError(t, err)
	assert.Equal(t, types.AnalysisPending, agg.AnalysisState)
	assert.Equal(t, 1, agg.AnalysisFailures)
	assert.Equal(t, "provider overloaded", agg.LastAnalysisError)
	assert.Equal(t, types.CursorStart, agg.LastAnalyzedCursor, "cursor does not advance on failure")

	// The range only grows until a success commits it.
	appendEvents(t, store, 6, 2)
	sum.setErr(nil)

	summary, err = trig.Evaluate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Analyzed)
	assert.Equal(t, 7, summary.Outcomes[0].EventCount)

	agg, err = store.Aggregate(ctx, c1)
	require.NoError(t, err)
	assert.Equal(t, int64(7), agg.LastAnalyzedCursor)
	assert.Equal(t, types.AnalysisIdle, agg.AnalysisState)
	assert.Zero(t, agg.AnalysisFailures)
}

func TestPendingChannelRetriedBelowThreshold(t *testing.T) {
	ctx := context.Background()
	store, sum, trig := setup(t, Config{MinMessages: 5})

	appendEvents(t, store, 1, 3)
	require.NoError(t, store.MarkAnalysisPending(ctx, c1))

	summary, err := trig.Evaluate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Analyzed)
	assert.Equal(t, 1, sum.count())
}

func TestBatchesAreCapped(t *testing.T) {
	ctx := context.Background()
	store, sum, trig := setup(t, Config{MinMessages: 5, MaxBatchEvents: 5})

	appendEvents(t, store, 1, 12)

	var cursors []int64
	for i := 0; i < 3; i++ {
		_, err := trig.Evaluate(ctx)
		require.NoError(t, err)

		agg, err := store.Aggregate(ctx, c1)
		require.NoError(t, err)
		cursors = append(cursors, agg.LastAnalyzedCursor)
	}

	// 12 events: 1-5, then 6-10, then 2 left below the threshold.
	assert.Equal(t, []int64{5, 10, 10}, cursors)
	assert.Equal(t, 2, sum.count())
}

func TestLastAnalyzedCursorIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store, _, trig := setup(t, Config{MinMessages: 1})

	last := types.CursorStart
	for round := 0; round < 5; round++ {
		appendEvents(t, store, int64(round*3+1), 3)
		_, err := trig.Evaluate(ctx)
		require.NoError(t, err)

		agg, err := store.Aggregate(ctx, c1)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, agg.LastAnalyzedCursor, last)
		last = agg.LastAnalyzedCursor
	}
	assert.Equal(t, int64(15), last)
}

func TestDisabledChannelsAreNotEvaluated(t *testing.T) {
	ctx := context.Background()
	store, sum, trig := setup(t, Config{MinMessages: 1})

	appendEvents(t, store, 1, 5)
	require.NoError(t, store.DisableChannel(ctx, c1))

	summary, err := trig.Evaluate(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.ChannelsEvaluated)
	assert.Zero(t, sum.count())
}

func TestEvaluateCanceled(t *testing.T) {
	store, sum, trig := setup(t, Config{MinMessages: 1})
	appendEvents(t, store, 1, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := trig.Evaluate(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Interrupted)
	assert.Zero(t, sum.count())
}

func TestFormatActivity(t *testing.T) {
	base := time.Date(2025, 8, 2, 12, 0, 0, 0, time.UTC)
	events := []types.ActivityEvent{
		{Channel: c1, Author: "~zod", Timestamp: base, Content: "hello  world", Cursor: 1},
		{Channel: c1, Author: "~nec", Timestamp: base.Add(time.Minute), Content: strings.Repeat("é", 250), Cursor: 2},
		{Channel: c1, Author: "~zod", Timestamp: base.Add(2 * time.Minute), Content: "bye", Cursor: 3},
	}

	text := FormatActivity(events)

	assert.Contains(t, text, "Total messages: 3")
	assert.Contains(t, text, "Active users: 2")
	assert.Contains(t, text, "Most active: ~zod (2 messages)")
	assert.Contains(t, text, "[2025-08-02 12:00] ~zod: hello world")
	assert.Contains(t, text, "~nec: "+strings.Repeat("é", 200)+"...\n")
	assert.NotContains(t, text, strings.Repeat("é", 201))
}

func TestComputeStatsTieBreak(t *testing.T) {
	stats := ComputeStats([]types.ActivityEvent{
		{Author: "~nec", Content: "ab"},
		{Author: "~bud", Content: "abcd"},
	})
	assert.Equal(t, "~bud", stats.MostActiveAuthor)
	assert.Equal(t, 1, stats.MostActiveCount)
	assert.InDelta(t, 3.0, stats.AverageLength, 1e-9)

	assert.Equal(t, ActivityStats{}, ComputeStats(nil))
}
