package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipwatch/shipwatch/internal/storage/storagetest"
	"github.com/shipwatch/shipwatch/internal/types"
)

func openTemp(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := New(context.Background(), filepath.Join(t.TempDir(), ".shipwatch", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Backend {
		return openTemp(t)
	})
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "watch.db")
	id := types.MustParseChannelID("~zod/general")

	s, err := New(ctx, path)
	require.NoError(t, err)

	_, err = s.RegisterChannel(ctx, &types.Channel{
		ID: id, DiscoveryMethod: types.MethodHub, Enabled: true, Priority: types.PriorityHigh,
	})
	require.NoError(t, err)
	_, err = s.AppendEvents(ctx, id, storagetest.Events(id, 1, 3))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = New(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	ch, err := s.GetChannel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.PriorityHigh, ch.Priority)
	assert.Equal(t, types.MethodHub, ch.DiscoveryMethod)
	assert.False(t, ch.FirstSeen.IsZero())

	agg, err := s.Aggregate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, agg.TotalEvents)
	assert.Equal(t, int64(3), agg.LastCursor)

	n, err := s.AppendEvents(ctx, id, storagetest.Events(id, 1, 4))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	channels := []types.ChannelID{
		types.MustParseChannelID("~zod/a"),
		types.MustParseChannelID("~zod/b"),
		types.MustParseChannelID("~nus/c"),
	}

	// Overlapping batches per channel from several goroutines
	var wg sync.WaitGroup
	for _, id := range channels {
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(id types.ChannelID, start int64) {
				defer wg.Done()
				_, err := s.AppendEvents(ctx, id, storagetest.Events(id, start, 50, "~zod", "~nus"))
				assert.NoError(t, err)
			}(id, int64(w*25+1))
		}
	}
	wg.Wait()

	for _, id := range channels {
		agg, err := s.Aggregate(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 125, agg.TotalEvents, "channel %s", id)
		assert.Equal(t, 2, agg.DistinctAuthors)
		assert.Equal(t, int64(125), agg.LastCursor)
	}
}

func TestSQLiteFailedAppendLeavesNoTrace(t *testing.T) {
	s := openTemp(t)
	id := types.MustParseChannelID("~zod/general")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.AppendEvents(ctx, id, storagetest.Events(id, 1, 3))
	require.Error(t, err)

	agg, err := s.Aggregate(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, agg.TotalEvents)

	count, err := s.CountEventsThrough(context.Background(), id, 100)
	require.NoError(t, err)
	assert.Zero(t, count)
}
