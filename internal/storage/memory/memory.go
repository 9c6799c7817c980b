// Package memory is an in-process storage backend for tests and ":memory:" runs.
package memory

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shipwatch/shipwatch/internal/types"
)

type channelLog struct {
	events  map[int64]types.ActivityEvent
	authors map[string]struct{}
	agg     types.ChannelAggregate
}

// Store keeps everything behind one mutex, which also serializes appends per channel
type Store struct {
	mu       sync.RWMutex
	channels map[string]*types.Channel
	logs     map[string]*channelLog
	analyses map[string][]*types.Analysis
	probes   map[string]*types.ProbeRecord
	passes   []*types.PassRecord
}

// New returns an empty store
func New() *Store {
	return &Store{
		channels: make(map[string]*types.Channel),
		logs:     make(map[string]*channelLog),
		analyses: make(map[string][]*types.Analysis),
		probes:   make(map[string]*types.ProbeRecord),
	}
}

// Close is a no-op
func (s *Store) Close() error { return nil }

// log returns the channel's log, creating it. Caller holds the write lock.
func (s *Store) log(id types.ChannelID) *channelLog {
	key := id.String()
	l, ok := s.logs[key]
	if !ok {
		l = &channelLog{
			events:  make(map[int64]types.ActivityEvent),
			authors: make(map[string]struct{}),
			agg:     *types.EmptyAggregate(id),
		}
		s.logs[key] = l
	}
	return l
}

func (s *Store) RegisterChannel(ctx context.Context, ch *types.Channel) (types.RegisterStatus, error) {
	if err := ch.Validate(); err != nil {
		return "", fmt.Errorf("invalid channel: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ch.ID.String()
	if _, ok := s.channels[key]; ok {
		return types.RegisterAlreadyPresent, nil
	}
	if ch.FirstSeen.IsZero() {
		ch.FirstSeen = time.Now()
	}
	ch.FirstSeen = ch.FirstSeen.UTC()
	stored := *ch
	s.channels[key] = &stored
	return types.RegisterInserted, nil
}

func (s *Store) ListChannels(ctx context.Context, filter types.ListFilter) ([]*types.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		if filter == types.FilterEnabled && !ch.Enabled {
			continue
		}
		c := *ch
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].FirstSeen.Before(out[j].FirstSeen)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) GetChannel(ctx context.Context, id types.ChannelID) (*types.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.channels[id.String()]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", id, types.ErrNotFound)
	}
	c := *ch
	return &c, nil
}

func (s *Store) DisableChannel(ctx context.Context, id types.ChannelID) error {
	return s.setEnabled(id, false)
}

func (s *Store) EnableChannel(ctx context.Context, id types.ChannelID) error {
	return s.setEnabled(id, true)
}

func (s *Store) setEnabled(id types.ChannelID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.channels[id.String()]; ok {
		ch.Enabled = enabled
	}
	return nil
}

func (s *Store) AppendEvents(ctx context.Context, channel types.ChannelID, events []types.ActivityEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := types.ValidateEvents(events); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.log(channel)
	accepted := 0
	for _, ev := range events {
		if _, dup := l.events[ev.Cursor]; dup {
			continue
		}
		ev.Channel = channel
		ev.Timestamp = ev.Timestamp.UTC()
		l.events[ev.Cursor] = ev
		accepted++

		l.authors[ev.Author] = struct{}{}
		if ev.Cursor > l.agg.LastCursor {
			l.agg.LastCursor = ev.Cursor
		}
		if l.agg.LastEventAt == nil || ev.Timestamp.After(*l.agg.LastEventAt) {
			ts := ev.Timestamp
			l.agg.LastEventAt = &ts
		}
	}
	l.agg.TotalEvents += accepted
	l.agg.DistinctAuthors = len(l.authors)
	return accepted, nil
}

func (s *Store) Aggregate(ctx context.Context, channel types.ChannelID) (*types.ChannelAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.logs[channel.String()]
	if !ok {
		return types.EmptyAggregate(channel), nil
	}
	agg := l.agg
	return &agg, nil
}

// EventsSince snapshots the matching cursors under the read lock, then yields
// without holding it
func (s *Store) EventsSince(ctx context.Context, channel types.ChannelID, since int64) iter.Seq2[types.ActivityEvent, error] {
	return func(yield func(types.ActivityEvent, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(types.ActivityEvent{}, err)
			return
		}

		s.mu.RLock()
		var page []types.ActivityEvent
		if l, ok := s.logs[channel.String()]; ok {
			for cursor, ev := range l.events {
				if cursor > since {
					page = append(page, ev)
				}
			}
		}
		s.mu.RUnlock()

		slices.SortFunc(page, func(a, b types.ActivityEvent) int {
			switch {
			case a.Cursor < b.Cursor:
				return -1
			case a.Cursor > b.Cursor:
				return 1
			}
			return 0
		})

		for _, ev := range page {
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func (s *Store) CountEventsThrough(ctx context.Context, channel types.ChannelID, through int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.logs[channel.String()]
	if !ok {
		return 0, nil
	}
	count := 0
	for cursor := range l.events {
		if cursor <= through {
			count++
		}
	}
	return count, nil
}

func (s *Store) RecomputeAggregate(ctx context.Context, channel types.ChannelID) (*types.ChannelAggregate, error) {
	s.mu.Lock()
	l := s.log(channel)
	l.authors = make(map[string]struct{})
	l.agg.TotalEvents = len(l.events)
	l.agg.LastCursor = types.CursorStart
	l.agg.LastEventAt = nil
	for _, ev := range l.events {
		l.authors[ev.Author] = struct{}{}
		if ev.Cursor > l.agg.LastCursor {
			l.agg.LastCursor = ev.Cursor
		}
		if l.agg.LastEventAt == nil || ev.Timestamp.After(*l.agg.LastEventAt) {
			ts := ev.Timestamp
			l.agg.LastEventAt = &ts
		}
	}
	l.agg.DistinctAuthors = len(l.authors)
	s.mu.Unlock()

	return s.Aggregate(ctx, channel)
}

func (s *Store) RecordPollResult(ctx context.Context, channel types.ChannelID, status types.PollStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.log(channel)
	now := time.Now().UTC()
	l.agg.LastPolledAt = &now
	l.agg.LastPollStatus = status
	l.agg.LastPollError = errMsg
	if status == types.PollOK {
		l.agg.ConsecutiveFailures = 0
	} else {
		l.agg.ConsecutiveFailures++
	}
	return nil
}

func (s *Store) MarkAnalysisPending(ctx context.Context, channel types.ChannelID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log(channel).agg.AnalysisState = types.AnalysisPending
	return nil
}

func (s *Store) RecordAnalysisFailure(ctx context.Context, channel types.ChannelID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.log(channel)
	l.agg.AnalysisState = types.AnalysisPending
	l.agg.AnalysisFailures++
	l.agg.LastAnalysisError = errMsg
	return nil
}

func (s *Store) CommitAnalysis(ctx context.Context, analysis *types.Analysis) error {
	if analysis.ID == "" {
		return fmt.Errorf("analysis id is required")
	}
	if analysis.CreatedAt.IsZero() {
		analysis.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *analysis
	stored.CreatedAt = stored.CreatedAt.UTC()
	key := analysis.Channel.String()
	s.analyses[key] = append(s.analyses[key], &stored)

	l := s.log(analysis.Channel)
	l.agg.LastAnalyzedCursor = max(l.agg.LastAnalyzedCursor, analysis.ToCursor)
	l.agg.AnalysisState = types.AnalysisIdle
	l.agg.AnalysisFailures = 0
	l.agg.LastAnalysisError = ""
	at := stored.CreatedAt
	l.agg.LastAnalyzedAt = &at
	return nil
}

func (s *Store) RecentAnalyses(ctx context.Context, channel types.ChannelID, limit int) ([]*types.Analysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.analyses[channel.String()]
	out := make([]*types.Analysis, 0, len(stored))
	for _, a := range stored {
		c := *a
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ToCursor > out[j].ToCursor
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) RecordProbe(ctx context.Context, rec *types.ProbeRecord) error {
	if rec.ProbedAt.IsZero() {
		rec.ProbedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Candidate.String()
	stored := *rec
	stored.ProbedAt = stored.ProbedAt.UTC()
	stored.Attempts = 1
	if prev, ok := s.probes[key]; ok {
		stored.Attempts = prev.Attempts + 1
	}
	s.probes[key] = &stored
	return nil
}

func (s *Store) ProbedCandidates(ctx context.Context, host string) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]time.Time)
	for key, rec := range s.probes {
		if rec.Candidate.Host == host {
			out[key] = rec.ProbedAt
		}
	}
	return out, nil
}

func (s *Store) RecentProbes(ctx context.Context, limit int) ([]*types.ProbeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.ProbeRecord, 0, len(s.probes))
	for _, rec := range s.probes {
		c := *rec
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ProbedAt.Equal(out[j].ProbedAt) {
			return out[i].ProbedAt.After(out[j].ProbedAt)
		}
		return strings.Compare(out[i].Candidate.String(), out[j].Candidate.String()) < 0
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) RecordPass(ctx context.Context, rec *types.PassRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *rec
	s.passes = append(s.passes, &c)
	return nil
}

func (s *Store) RecentPasses(ctx context.Context, kind types.PassKind, limit int) ([]*types.PassRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.PassRecord
	for _, rec := range s.passes {
		if kind != "" && rec.Kind != kind {
			continue
		}
		c := *rec
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
