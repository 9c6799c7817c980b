package main

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipwatch/shipwatch/internal/config"
	"github.com/shipwatch/shipwatch/internal/cost"
	"github.com/shipwatch/shipwatch/internal/storage/memory"
	"github.com/shipwatch/shipwatch/internal/storage/storagetest"
	"github.com/shipwatch/shipwatch/internal/types"
)

func TestSeedStaticChannels(t *testing.T) {
	logger = zerolog.Nop()
	ctx := context.Background()
	s := memory.New()

	zod := types.MustParseChannelID("~zod/general")
	forge := types.MustParseChannelID("~darrux-landes/the-forge")
	require.NoError(t, seedStaticChannels(ctx, s, []types.ChannelID{zod, forge}))

	channels, err := s.ListChannels(ctx, types.FilterAll)
	require.NoError(t, err)
	require.Len(t, channels, 2)
	for _, ch := range channels {
		assert.Equal(t, types.MethodStatic, ch.DiscoveryMethod)
		assert.True(t, ch.Enabled)
	}

	// Reseeding leaves a disabled channel disabled
	require.NoError(t, s.DisableChannel(ctx, zod))
	require.NoError(t, seedStaticChannels(ctx, s, []types.ChannelID{zod, forge}))

	ch, err := s.GetChannel(ctx, zod)
	require.NoError(t, err)
	assert.False(t, ch.Enabled)
}

func TestBuildOverview(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	busy := types.MustParseChannelID("~zod/busy")
	quiet := types.MustParseChannelID("~zod/quiet")
	hub := types.MustParseChannelID("~hub/main")
	for i, ch := range []*types.Channel{
		{ID: busy, DiscoveryMethod: types.MethodStatic, Enabled: true, Priority: types.PriorityNormal},
		{ID: quiet, DiscoveryMethod: types.MethodPattern, Enabled: false, Priority: types.PriorityNormal},
		{ID: hub, DiscoveryMethod: types.MethodHub, Enabled: true, Priority: types.PriorityHigh},
	} {
		ch.FirstSeen = time.Date(2025, 1, 1+i, 0, 0, 0, 0, time.UTC)
		_, err := s.RegisterChannel(ctx, ch)
		require.NoError(t, err)
	}

	events := storagetest.Events(busy, 1, 6, "~zod", "~bus")
	_, err := s.AppendEvents(ctx, busy, events)
	require.NoError(t, err)
	_, err = s.AppendEvents(ctx, hub, storagetest.Events(hub, 1, 2))
	require.NoError(t, err)
	require.NoError(t, s.MarkAnalysisPending(ctx, busy))
	require.NoError(t, s.CommitAnalysis(ctx, &types.Analysis{
		ID: "a1", Channel: hub, FromCursor: 1, ToCursor: 2, EventCount: 2, Summary: "quiet day", CreatedAt: time.Now(),
	}))

	now := events[len(events)-1].Timestamp.Add(time.Hour)
	ov, err := buildOverview(ctx, s, now, 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 3, ov.Registered)
	assert.Equal(t, 2, ov.Enabled)
	assert.Equal(t, 8, ov.TotalEvents)
	assert.Equal(t, 2, ov.Active)
	assert.Equal(t, 1, ov.Pending)

	require.Len(t, ov.Channels, 3)
	assert.Equal(t, hub, ov.Channels[0].Channel.ID, "high priority first")
	require.NotNil(t, ov.Channels[0].Latest)
	assert.Equal(t, "quiet day", ov.Channels[0].Latest.Summary)
	assert.Equal(t, busy, ov.Channels[1].Channel.ID)
	assert.Equal(t, quiet, ov.Channels[2].Channel.ID)
	assert.Nil(t, ov.Channels[2].Latest)

	// A narrower window only counts recent activity
	ov, err = buildOverview(ctx, s, now.Add(48*time.Hour), 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, ov.Active)
}

func TestDescribeAggregate(t *testing.T) {
	agg := types.EmptyAggregate(types.MustParseChannelID("~zod/general"))
	assert.Contains(t, describeAggregate(agg), "never polled")

	agg.LastPollStatus = types.PollUnreachable
	agg.ConsecutiveFailures = 3
	agg.LastPollError = "connection refused"
	assert.Contains(t, describeAggregate(agg), "poll unreachable x3: connection refused")
}

func TestBudgetConfig(t *testing.T) {
	c := config.Default()
	c.Analysis.MaxCostPerHour = 0

	dbPath = "/tmp/proj/.shipwatch/shipwatch.db"
	b := budgetConfig(c)
	assert.Equal(t, "/tmp/proj/.shipwatch/"+cost.StateFileName, b.PersistStatePath)
	assert.Equal(t, int64(100000), b.MaxTokensPerHour)
	assert.Zero(t, b.MaxCostPerHour)

	dbPath = ":memory:"
	assert.Empty(t, budgetConfig(c).PersistStatePath)
}

func TestDescribeBudget(t *testing.T) {
	b := &cost.BudgetStats{
		Status:           cost.BudgetWarning,
		HourlyTokensUsed: 85000,
		HourlyCostUsed:   0.4,
		TotalCostUsed:    3.25,
		Config:           cost.Config{MaxTokensPerHour: 100000},
	}
	assert.Equal(t, "WARNING: 85000/100000 tokens, $0.40 this window ($3.25 all time)", describeBudget(b))
}

func TestSetChannelEnabled(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	zod := types.MustParseChannelID("~zod/general")
	require.NoError(t, seedStaticChannels(ctx, s, []types.ChannelID{zod}))

	require.NoError(t, setChannelEnabled(ctx, s, zod, false))
	ch, err := s.GetChannel(ctx, zod)
	require.NoError(t, err)
	assert.False(t, ch.Enabled)

	err = setChannelEnabled(ctx, s, types.MustParseChannelID("~zod/missing"), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestExecuteClosesStoreOnCommandError(t *testing.T) {
	t.Chdir(t.TempDir())

	err := execute(context.Background(), []string{"--db", ":memory:", "channels", "enable", "~zod/missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
	assert.Nil(t, store, "store is closed and cleared after a failed command")
}
