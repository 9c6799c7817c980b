package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"time"

	"github.com/shipwatch/shipwatch/internal/types"
)

// eventsPageSize bounds how many events EventsSince holds in memory at once
const eventsPageSize = 500

// ensureAggregateSQL creates the aggregate row of a channel on first use
const ensureAggregateSQL = `
	INSERT INTO aggregates (channel_id, last_cursor, last_analyzed_cursor)
	VALUES (?, ?, ?)
	ON CONFLICT(channel_id) DO NOTHING
`

// AppendEvents stores the events whose cursor is new for the channel and
// folds them into the aggregate, all in one transaction
func (s *SQLiteStorage) AppendEvents(ctx context.Context, channel types.ChannelID, events []types.ActivityEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	if err := types.ValidateEvents(events); err != nil {
		return 0, err
	}

	key := channel.String()
	accepted := 0

	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		// Reset on every attempt so a rolled-back call reports nothing
		accepted = 0

		if _, err := conn.ExecContext(ctx, ensureAggregateSQL, key, types.CursorStart, types.CursorStart); err != nil {
			return fmt.Errorf("failed to create aggregate: %w", err)
		}

		insertEvent, err := conn.PrepareContext(ctx, `
			INSERT INTO events (channel_id, cursor, author, ts, content)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(channel_id, cursor) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare event insert: %w", err)
		}
		defer insertEvent.Close()

		insertAuthor, err := conn.PrepareContext(ctx, `
			INSERT INTO channel_authors (channel_id, author)
			VALUES (?, ?)
			ON CONFLICT(channel_id, author) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare author insert: %w", err)
		}
		defer insertAuthor.Close()

		newAuthors := 0
		maxCursor := types.CursorStart
		var latest time.Time

		for _, ev := range events {
			result, err := insertEvent.ExecContext(ctx, key, ev.Cursor, ev.Author, toNanos(ev.Timestamp), ev.Content)
			if err != nil {
				return fmt.Errorf("failed to insert event %d: %w", ev.Cursor, err)
			}
			if n, _ := result.RowsAffected(); n == 0 {
				continue
			}
			accepted++

			result, err = insertAuthor.ExecContext(ctx, key, ev.Author)
			if err != nil {
				return fmt.Errorf("failed to record author: %w", err)
			}
			if n, _ := result.RowsAffected(); n > 0 {
				newAuthors++
			}

			if ev.Cursor > maxCursor {
				maxCursor = ev.Cursor
			}
			if ev.Timestamp.After(latest) {
				latest = ev.Timestamp
			}
		}

		if accepted == 0 {
			return nil
		}

		_, err = conn.ExecContext(ctx, `
			UPDATE aggregates SET
				total_events = total_events + ?,
				distinct_authors = distinct_authors + ?,
				last_cursor = MAX(last_cursor, ?),
				last_event_at = MAX(COALESCE(last_event_at, ?), ?)
			WHERE channel_id = ?
		`, accepted, newAuthors, maxCursor, toNanos(latest), toNanos(latest), key)
		if err != nil {
			return fmt.Errorf("failed to update aggregate: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return accepted, nil
}

// aggregateColumns must match scanAggregate
const aggregateColumns = `
	total_events, distinct_authors, last_event_at, last_cursor,
	last_analyzed_cursor, analysis_state, analysis_failures, last_analysis_error, last_analyzed_at,
	last_polled_at, last_poll_status, last_poll_error, consecutive_failures
`

func scanAggregate(row rowScanner, channel types.ChannelID) (*types.ChannelAggregate, error) {
	agg := types.ChannelAggregate{Channel: channel}
	var lastEventAt, lastAnalyzedAt, lastPolledAt sql.NullInt64

	err := row.Scan(
		&agg.TotalEvents, &agg.DistinctAuthors, &lastEventAt, &agg.LastCursor,
		&agg.LastAnalyzedCursor, &agg.AnalysisState, &agg.AnalysisFailures, &agg.LastAnalysisError, &lastAnalyzedAt,
		&lastPolledAt, &agg.LastPollStatus, &agg.LastPollError, &agg.ConsecutiveFailures,
	)
	if err != nil {
		return nil, err
	}

	agg.LastEventAt = timePtr(lastEventAt)
	agg.LastAnalyzedAt = timePtr(lastAnalyzedAt)
	agg.LastPolledAt = timePtr(lastPolledAt)
	return &agg, nil
}

// Aggregate returns the channel's counters, or an empty aggregate if nothing
// has been recorded for it yet
func (s *SQLiteStorage) Aggregate(ctx context.Context, channel types.ChannelID) (*types.ChannelAggregate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+aggregateColumns+` FROM aggregates WHERE channel_id = ?`, channel.String())
	agg, err := scanAggregate(row, channel)
	if err == sql.ErrNoRows {
		return types.EmptyAggregate(channel), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get aggregate for %s: %w", channel, err)
	}
	return agg, nil
}

// EventsSince yields events with cursor > since, ascending. Rows are read a
// page at a time and the connection is released before each page is yielded,
// so callers may write to the store while iterating.
func (s *SQLiteStorage) EventsSince(ctx context.Context, channel types.ChannelID, since int64) iter.Seq2[types.ActivityEvent, error] {
	return func(yield func(types.ActivityEvent, error) bool) {
		cursor := since
		for {
			if err := ctx.Err(); err != nil {
				yield(types.ActivityEvent{}, err)
				return
			}

			page, err := s.eventsPage(ctx, channel, cursor)
			if err != nil {
				yield(types.ActivityEvent{}, err)
				return
			}

			for _, ev := range page {
				if !yield(ev, nil) {
					return
				}
			}

			if len(page) < eventsPageSize {
				return
			}
			cursor = page[len(page)-1].Cursor
		}
	}
}

func (s *SQLiteStorage) eventsPage(ctx context.Context, channel types.ChannelID, after int64) ([]types.ActivityEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cursor, author, ts, content
		FROM events
		WHERE channel_id = ? AND cursor > ?
		ORDER BY cursor ASC
		LIMIT ?
	`, channel.String(), after, eventsPageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	page := make([]types.ActivityEvent, 0, eventsPageSize)
	for rows.Next() {
		ev := types.ActivityEvent{Channel: channel}
		var ts int64
		if err := rows.Scan(&ev.Cursor, &ev.Author, &ts, &ev.Content); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Timestamp = fromNanos(ts)
		page = append(page, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return page, nil
}

// CountEventsThrough counts the channel's events with cursor <= through
func (s *SQLiteStorage) CountEventsThrough(ctx context.Context, channel types.ChannelID, through int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM events WHERE channel_id = ? AND cursor <= ?
	`, channel.String(), through).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// RecomputeAggregate rebuilds event counters and the author set from the
// stored events. Poll and analysis bookkeeping is left untouched.
func (s *SQLiteStorage) RecomputeAggregate(ctx context.Context, channel types.ChannelID) (*types.ChannelAggregate, error) {
	key := channel.String()

	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, ensureAggregateSQL, key, types.CursorStart, types.CursorStart); err != nil {
			return fmt.Errorf("failed to create aggregate: %w", err)
		}

		if _, err := conn.ExecContext(ctx, `DELETE FROM channel_authors WHERE channel_id = ?`, key); err != nil {
			return fmt.Errorf("failed to clear authors: %w", err)
		}
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO channel_authors (channel_id, author)
			SELECT DISTINCT channel_id, author FROM events WHERE channel_id = ?
		`, key); err != nil {
			return fmt.Errorf("failed to rebuild authors: %w", err)
		}

		_, err := conn.ExecContext(ctx, `
			UPDATE aggregates SET
				total_events = (SELECT COUNT(*) FROM events WHERE channel_id = ?1),
				distinct_authors = (SELECT COUNT(*) FROM channel_authors WHERE channel_id = ?1),
				last_cursor = COALESCE((SELECT MAX(cursor) FROM events WHERE channel_id = ?1), ?2),
				last_event_at = (SELECT MAX(ts) FROM events WHERE channel_id = ?1)
			WHERE channel_id = ?1
		`, key, types.CursorStart)
		if err != nil {
			return fmt.Errorf("failed to rebuild aggregate: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.Aggregate(ctx, channel)
}

// RecordPollResult stores the outcome of the latest poll. Any status other
// than ok extends the consecutive failure streak.
func (s *SQLiteStorage) RecordPollResult(ctx context.Context, channel types.ChannelID, status types.PollStatus, errMsg string) error {
	failures := 0
	if status != types.PollOK {
		failures = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO aggregates (
			channel_id, last_cursor, last_analyzed_cursor,
			last_polled_at, last_poll_status, last_poll_error, consecutive_failures
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			last_polled_at = excluded.last_polled_at,
			last_poll_status = excluded.last_poll_status,
			last_poll_error = excluded.last_poll_error,
			consecutive_failures = CASE
				WHEN excluded.last_poll_status = 'ok' THEN 0
				ELSE aggregates.consecutive_failures + 1
			END
	`, channel.String(), types.CursorStart, types.CursorStart,
		toNanos(time.Now()), status, errMsg, failures)
	if err != nil {
		return fmt.Errorf("failed to record poll result for %s: %w", channel, err)
	}
	return nil
}
