package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shipwatch/shipwatch/internal/types"
)

// MarkAnalysisPending moves the channel to pending
func (s *SQLiteStorage) MarkAnalysisPending(ctx context.Context, channel types.ChannelID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO aggregates (channel_id, last_cursor, last_analyzed_cursor, analysis_state)
		VALUES (?, ?, ?, 'pending')
		ON CONFLICT(channel_id) DO UPDATE SET analysis_state = 'pending'
	`, channel.String(), types.CursorStart, types.CursorStart)
	if err != nil {
		return fmt.Errorf("failed to mark %s pending: %w", channel, err)
	}
	return nil
}

// RecordAnalysisFailure keeps the channel pending and counts the failure
func (s *SQLiteStorage) RecordAnalysisFailure(ctx context.Context, channel types.ChannelID, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO aggregates (
			channel_id, last_cursor, last_analyzed_cursor,
			analysis_state, analysis_failures, last_analysis_error
		) VALUES (?, ?, ?, 'pending', 1, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			analysis_state = 'pending',
			analysis_failures = aggregates.analysis_failures + 1,
			last_analysis_error = excluded.last_analysis_error
	`, channel.String(), types.CursorStart, types.CursorStart, errMsg)
	if err != nil {
		return fmt.Errorf("failed to record analysis failure for %s: %w", channel, err)
	}
	return nil
}

// CommitAnalysis stores the summary and advances last_analyzed_cursor in one
// transaction. The cursor only moves forward.
func (s *SQLiteStorage) CommitAnalysis(ctx context.Context, analysis *types.Analysis) error {
	if analysis.ID == "" {
		return fmt.Errorf("analysis id is required")
	}
	if analysis.CreatedAt.IsZero() {
		analysis.CreatedAt = time.Now()
	}
	key := analysis.Channel.String()

	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO analyses (id, channel_id, from_cursor, to_cursor, event_count, summary, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, analysis.ID, key, analysis.FromCursor, analysis.ToCursor,
			analysis.EventCount, analysis.Summary, toNanos(analysis.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert analysis: %w", err)
		}

		if _, err := conn.ExecContext(ctx, ensureAggregateSQL, key, types.CursorStart, types.CursorStart); err != nil {
			return fmt.Errorf("failed to create aggregate: %w", err)
		}

		_, err = conn.ExecContext(ctx, `
			UPDATE aggregates SET
				last_analyzed_cursor = MAX(last_analyzed_cursor, ?),
				analysis_state = 'idle',
				analysis_failures = 0,
				last_analysis_error = '',
				last_analyzed_at = ?
			WHERE channel_id = ?
		`, analysis.ToCursor, toNanos(analysis.CreatedAt), key)
		if err != nil {
			return fmt.Errorf("failed to advance analyzed cursor: %w", err)
		}
		return nil
	})
}

// RecentAnalyses returns up to limit summaries, newest first
func (s *SQLiteStorage) RecentAnalyses(ctx context.Context, channel types.ChannelID, limit int) ([]*types.Analysis, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_cursor, to_cursor, event_count, summary, created_at
		FROM analyses
		WHERE channel_id = ?
		ORDER BY created_at DESC, to_cursor DESC
		LIMIT ?
	`, channel.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", err)
	}
	defer rows.Close()

	var analyses []*types.Analysis
	for rows.Next() {
		a := types.Analysis{Channel: channel}
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.FromCursor, &a.ToCursor, &a.EventCount, &a.Summary, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		a.CreatedAt = fromNanos(createdAt)
		analyses = append(analyses, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating analyses: %w", err)
	}
	return analyses, nil
}
