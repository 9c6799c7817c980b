package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipwatch/shipwatch/internal/discovery"
	"github.com/shipwatch/shipwatch/internal/poller"
	"github.com/shipwatch/shipwatch/internal/storage/memory"
	"github.com/shipwatch/shipwatch/internal/trigger"
	"github.com/shipwatch/shipwatch/internal/types"
)

type fakePoller struct {
	calls atomic.Int32
	err   error
}

func (f *fakePoller) PollOnce(ctx context.Context) (*poller.PassSummary, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &poller.PassSummary{ChannelsPolled: 3, EventsAppended: 7}, nil
}

type fakeDiscoverer struct {
	calls atomic.Int32
}

func (f *fakeDiscoverer) Discover(ctx context.Context) (*discovery.Result, error) {
	f.calls.Add(1)
	return &discovery.Result{Stats: discovery.Stats{Candidates: 4, Inserted: 1}}, nil
}

type fakeAnalyzer struct {
	calls    atomic.Int32
	mu       sync.Mutex
	inFlight int
	peak     int
	delay    time.Duration
}

func (f *fakeAnalyzer) Evaluate(ctx context.Context) (*trigger.EvaluationSummary, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.mu.Unlock()

	time.Sleep(f.delay)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	return &trigger.EvaluationSummary{ChannelsEvaluated: 3}, nil
}

// runUntil starts s and cancels it once cond holds
func runUntil(t *testing.T, s *Scheduler, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}

func TestRunStartsEveryPassImmediately(t *testing.T) {
	p, d, a := &fakePoller{}, &fakeDiscoverer{}, &fakeAnalyzer{}
	store := memory.New()
	cfg := Config{PollInterval: time.Hour, DiscoveryInterval: time.Hour, AnalysisInterval: time.Hour}
	s := New(cfg, p, d, a, store, zerolog.Nop())

	// The analysis ticker plus the evaluation following the first poll
	runUntil(t, s, func() bool {
		return p.calls.Load() == 1 && d.calls.Load() == 1 && a.calls.Load() == 2
	})

	for _, kind := range []types.PassKind{types.PassPoll, types.PassDiscover, types.PassAnalyze} {
		recs, err := store.RecentPasses(context.Background(), kind, 10)
		require.NoError(t, err)
		assert.NotEmpty(t, recs, kind)
	}
}

func TestRunRepeatsOnInterval(t *testing.T) {
	p, a := &fakePoller{}, &fakeAnalyzer{}
	cfg := Config{PollInterval: 10 * time.Millisecond, AnalysisInterval: 10 * time.Millisecond}
	s := New(cfg, p, nil, a, nil, zerolog.Nop())

	runUntil(t, s, func() bool { return p.calls.Load() >= 3 && a.calls.Load() >= 3 })
}

func TestRunWithoutDiscovery(t *testing.T) {
	p, a := &fakePoller{}, &fakeAnalyzer{}
	store := memory.New()
	cfg := Config{PollInterval: time.Hour, AnalysisInterval: time.Hour}
	s := New(cfg, p, nil, a, store, zerolog.Nop())

	runUntil(t, s, func() bool { return p.calls.Load() == 1 && a.calls.Load() == 2 })

	recs, err := store.RecentPasses(context.Background(), types.PassDiscover, 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Nil(t, s.DiscoverPass(context.Background()))
}

func TestAnalysisPassesDoNotOverlap(t *testing.T) {
	p := &fakePoller{}
	a := &fakeAnalyzer{delay: 15 * time.Millisecond}
	cfg := Config{PollInterval: 5 * time.Millisecond, AnalysisInterval: 5 * time.Millisecond}
	s := New(cfg, p, nil, a, nil, zerolog.Nop())

	runUntil(t, s, func() bool { return a.calls.Load() >= 6 })

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Equal(t, 1, a.peak)
}

func TestPassesAreRecorded(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	s := New(Config{}, &fakePoller{}, &fakeDiscoverer{}, &fakeAnalyzer{}, store, zerolog.Nop())

	summary := s.PollPass(ctx)
	require.NotNil(t, summary)
	assert.Equal(t, 7, summary.EventsAppended)
	s.DiscoverPass(ctx)
	s.AnalyzePass(ctx)

	polls, err := store.RecentPasses(ctx, types.PassPoll, 10)
	require.NoError(t, err)
	require.Len(t, polls, 1)
	assert.NotEmpty(t, polls[0].ID)
	assert.False(t, polls[0].FinishedAt.Before(polls[0].StartedAt))
	assert.Contains(t, polls[0].Summary, `"events_appended":7`)

	discovers, err := store.RecentPasses(ctx, types.PassDiscover, 10)
	require.NoError(t, err)
	require.Len(t, discovers, 1)
	assert.Contains(t, discovers[0].Summary, `"inserted":1`)
	assert.NotContains(t, discovers[0].Summary, `"results"`)

	analyses, err := store.RecentPasses(ctx, types.PassAnalyze, 10)
	require.NoError(t, err)
	require.Len(t, analyses, 1)
	assert.Contains(t, analyses[0].Summary, `"channels_evaluated":3`)
}

func TestFailedPassIsRecorded(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	s := New(Config{}, &fakePoller{err: errors.New("registry unreadable")}, nil, &fakeAnalyzer{}, store, zerolog.Nop())

	assert.Nil(t, s.PollPass(ctx))

	recs, err := store.RecentPasses(ctx, types.PassPoll, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0].Summary, "registry unreadable")
}

func TestRunRejectsBadIntervals(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		d    Discoverer
	}{
		{"zero poll", Config{AnalysisInterval: time.Minute}, nil},
		{"zero analysis", Config{PollInterval: time.Minute}, nil},
		{"zero discovery", Config{PollInterval: time.Minute, AnalysisInterval: time.Minute}, &fakeDiscoverer{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePoller{}
			s := New(tt.cfg, p, tt.d, &fakeAnalyzer{}, nil, zerolog.Nop())
			require.Error(t, s.Run(context.Background()))
			assert.Zero(t, p.calls.Load())
		})
	}
}
