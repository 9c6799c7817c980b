package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipwatch/shipwatch/internal/metrics"
	"github.com/shipwatch/shipwatch/internal/storage/memory"
	"github.com/shipwatch/shipwatch/internal/storage/storagetest"
	"github.com/shipwatch/shipwatch/internal/types"
)

// fakeSource serves canned events per channel and honours since unless
// ignoreSince is set.
type fakeSource struct {
	mu          sync.Mutex
	events      map[types.ChannelID][]types.ActivityEvent
	errs        map[types.ChannelID]error
	ignoreSince bool
	calls       []types.ChannelID
	onFetch     func(ctx context.Context, id types.ChannelID)
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		events: map[types.ChannelID][]types.ActivityEvent{},
		errs:   map[types.ChannelID]error{},
	}
}

func (f *fakeSource) FetchSince(ctx context.Context, id types.ChannelID, since int64) ([]types.ActivityEvent, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	hook := f.onFetch
	err := f.errs[id]
	var out []types.ActivityEvent
	for _, ev := range f.events[id] {
		if f.ignoreSince || ev.Cursor > since {
			out = append(out, ev)
		}
	}
	f.mu.Unlock()

	if hook != nil {
		hook(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *fakeSource) called() []types.ChannelID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.ChannelID(nil), f.calls...)
}

var (
	chA = types.MustParseChannelID("~zod/alpha")
	chB = types.MustParseChannelID("~zod/beta")
	chC = types.MustParseChannelID("~bus/gamma")
)

func registerAll(t *testing.T, store *memory.Store, ids ...types.ChannelID) {
	t.Helper()
	base := time.Date(2025, 8, 2, 0, 0, 0, 0, time.UTC)
	for i, id := range ids {
		_, err := store.RegisterChannel(context.Background(), &types.Channel{
			ID:              id,
			DiscoveryMethod: types.MethodStatic,
			FirstSeen:       base.Add(time.Duration(i) * time.Minute),
			Enabled:         true,
			Priority:        types.PriorityNormal,
		})
		require.NoError(t, err)
	}
}

func TestPollOnceAppendsNewEvents(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	registerAll(t, store, chA, chB)

	src := newFakeSource()
	src.events[chA] = storagetest.Events(chA, 1, 3, "~zod", "~nec")
	src.events[chB] = storagetest.Events(chB, 10, 2)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	p := New(store, src, Config{}, m, zerolog.Nop())

	summary, err := p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ChannelsPolled)
	assert.Equal(t, 5, summary.EventsFetched)
	assert.Equal(t, 5, summary.EventsAppended)
	assert.Zero(t, summary.Duplicates)
	assert.False(t, summary.Interrupted)
	assert.Equal(t, []types.ChannelID{chA, chB}, src.called(), "registry order")

	agg, err := store.Aggregate(ctx, chA)
	require.NoError(t, err)
	assert.Equal(t, 3, agg.TotalEvents)
	assert.Equal(t, 2, agg.DistinctAuthors)
	assert.Equal(t, int64(3), agg.LastCursor)
	assert.Equal(t, types.PollOK, agg.LastPollStatus)

	// Nothing new: zero events is a normal outcome.
	summary, err = p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.EventsFetched)
	assert.Zero(t, summary.Failures.Total())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PollPasses))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.EventsAppended))
}

func TestPollOnceSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	registerAll(t, store, chA)

	src := newFakeSource()
	src.ignoreSince = true
	src.events[chA] = storagetest.Events(chA, 1, 4)
	p := New(store, src, Config{}, nil, zerolog.Nop())

	_, err := p.PollOnce(ctx)
	require.NoError(t, err)

	src.mu.Lock()
	src.events[chA] = storagetest.Events(chA, 1, 6)
	src.mu.Unlock()

	summary, err := p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, summary.EventsFetched)
	assert.Equal(t, 2, summary.EventsAppended)
	assert.Equal(t, 4, summary.Duplicates)

	agg, err := store.Aggregate(ctx, chA)
	require.NoError(t, err)
	assert.Equal(t, 6, agg.TotalEvents)
}

func TestPollOnceIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	registerAll(t, store, chA, chB, chC)

	src := newFakeSource()
	src.events[chA] = storagetest.Events(chA, 1, 2)
	src.errs[chB] = fmt.Errorf("fetch: %w", types.ErrUnreachable)
	src.events[chC] = storagetest.Events(chC, 1, 2)
	p := New(store, src, Config{}, nil, zerolog.Nop())

	summary, err := p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.ChannelsPolled)
	assert.Equal(t, 4, summary.EventsAppended)
	assert.Equal(t, 1, summary.Failures.Unreachable)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, chB, summary.Errors[0].Channel)
	assert.Equal(t, FailureUnreachable, summary.Errors[0].Kind)

	for _, id := range []types.ChannelID{chA, chC} {
		agg, err := store.Aggregate(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, agg.TotalEvents, id.String())
	}

	agg, err := store.Aggregate(ctx, chB)
	require.NoError(t, err)
	assert.Zero(t, agg.TotalEvents)
	assert.Equal(t, types.PollUnreachable, agg.LastPollStatus)
	assert.Equal(t, 1, agg.ConsecutiveFailures)

	// Malformed on the next pass; the failure streak keeps counting.
	src.mu.Lock()
	src.errs[chB] = fmt.Errorf("fetch: %w", types.ErrMalformedResponse)
	src.mu.Unlock()

	summary, err = p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failures.Malformed)

	agg, err = store.Aggregate(ctx, chB)
	require.NoError(t, err)
	assert.Equal(t, types.PollMalformed, agg.LastPollStatus)
	assert.Equal(t, 2, agg.ConsecutiveFailures)
}

func TestPollOnceSkipsDisabledChannels(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	registerAll(t, store, chA, chB)
	require.NoError(t, store.DisableChannel(ctx, chA))

	src := newFakeSource()
	p := New(store, src, Config{}, nil, zerolog.Nop())

	summary, err := p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ChannelsPolled)
	assert.Equal(t, []types.ChannelID{chB}, src.called())
}

func TestPollOnceTimeoutIsUnreachable(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	registerAll(t, store, chA)

	src := newFakeSource()
	src.onFetch = func(ctx context.Context, _ types.ChannelID) {
		<-ctx.Done()
	}
	src.errs[chA] = context.DeadlineExceeded
	p := New(store, src, Config{ChannelTimeout: 20 * time.Millisecond}, nil, zerolog.Nop())

	summary, err := p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failures.Unreachable)
}

func TestPollOnceStopsBeforeNextChannelOnCancel(t *testing.T) {
	store := memory.New()
	registerAll(t, store, chA, chB, chC)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newFakeSource()
	src.events[chA] = storagetest.Events(chA, 1, 3)
	src.onFetch = func(fctx context.Context, id types.ChannelID) {
		if id == chA {
			cancel()
			// The in-flight channel keeps a live context.
			assert.NoError(t, fctx.Err())
		}
	}
	p := New(store, src, Config{}, nil, zerolog.Nop())

	summary, err := p.PollOnce(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Interrupted)
	assert.Equal(t, 1, summary.ChannelsPolled)
	assert.Equal(t, []types.ChannelID{chA}, src.called())

	agg, err := store.Aggregate(context.Background(), chA)
	require.NoError(t, err)
	assert.Equal(t, 3, agg.TotalEvents, "in-flight channel completes")
}

func TestPollOnceCanceledBeforeStart(t *testing.T) {
	store := memory.New()
	registerAll(t, store, chA)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := newFakeSource()
	p := New(store, src, Config{}, nil, zerolog.Nop())

	summary, err := p.PollOnce(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Interrupted)
	assert.Zero(t, summary.ChannelsPolled)
	assert.Empty(t, src.called())
}

func TestPollOnceConcurrency(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	var ids []types.ChannelID
	for i := 0; i < 12; i++ {
		ids = append(ids, types.NewChannelID("~zod", fmt.Sprintf("chan-%02d", i)))
	}
	registerAll(t, store, ids...)

	var inFlight, peak atomic.Int32
	src := newFakeSource()
	for _, id := range ids {
		src.events[id] = storagetest.Events(id, 1, 2)
	}
	src.onFetch = func(context.Context, types.ChannelID) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
	}
	p := New(store, src, Config{Concurrency: 3}, nil, zerolog.Nop())

	summary, err := p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, summary.ChannelsPolled)
	assert.Equal(t, 24, summary.EventsAppended)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

type failingList struct {
	*memory.Store
}

func (failingList) ListChannels(context.Context, types.ListFilter) ([]*types.Channel, error) {
	return nil, errors.New("database is locked")
}

func TestPollOnceRegistryErrorIsReturned(t *testing.T) {
	p := New(failingList{memory.New()}, newFakeSource(), Config{}, nil, zerolog.Nop())

	_, err := p.PollOnce(context.Background())
	assert.Error(t, err)
}

type failingAppend struct {
	*memory.Store
}

func (failingAppend) AppendEvents(context.Context, types.ChannelID, []types.ActivityEvent) (int, error) {
	return 0, errors.New("disk full")
}

func TestPollOnceReservedCursorIsMalformed(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	registerAll(t, store, chA)

	src := newFakeSource()
	src.ignoreSince = true
	reserved := storagetest.Events(chA, 1, 1)[0]
	reserved.Cursor = types.CursorStart
	src.events[chA] = append(storagetest.Events(chA, 1, 2), reserved)
	p := New(store, src, Config{}, nil, zerolog.Nop())

	summary, err := p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failures.Malformed)
	assert.Zero(t, summary.EventsAppended)

	agg, err := store.Aggregate(ctx, chA)
	require.NoError(t, err)
	assert.Zero(t, agg.TotalEvents, "the whole batch is skipped")
	assert.Equal(t, types.PollMalformed, agg.LastPollStatus)
}

func TestPollOnceStoreFailure(t *testing.T) {
	store := memory.New()
	registerAll(t, store, chA)

	src := newFakeSource()
	src.events[chA] = storagetest.Events(chA, 1, 2)
	p := New(failingAppend{store}, src, Config{}, nil, zerolog.Nop())

	summary, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failures.Store)
	assert.Zero(t, summary.EventsAppended)
}
