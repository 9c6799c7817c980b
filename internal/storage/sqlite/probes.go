package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/shipwatch/shipwatch/internal/types"
)

// RecordProbe upserts the latest probe of a candidate, counting attempts
func (s *SQLiteStorage) RecordProbe(ctx context.Context, rec *types.ProbeRecord) error {
	if rec.ProbedAt.IsZero() {
		rec.ProbedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO probes (candidate, host, method, verdict, probed_at, attempts, error)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(candidate) DO UPDATE SET
			method = excluded.method,
			verdict = excluded.verdict,
			probed_at = excluded.probed_at,
			attempts = probes.attempts + 1,
			error = excluded.error
	`, rec.Candidate.String(), rec.Candidate.Host, rec.Method, rec.Verdict, toNanos(rec.ProbedAt), rec.Error)
	if err != nil {
		return fmt.Errorf("failed to record probe of %s: %w", rec.Candidate, err)
	}
	return nil
}

// ProbedCandidates maps every probed candidate on host to its last probe time
func (s *SQLiteStorage) ProbedCandidates(ctx context.Context, host string) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT candidate, probed_at FROM probes WHERE host = ?`, host)
	if err != nil {
		return nil, fmt.Errorf("failed to query probes: %w", err)
	}
	defer rows.Close()

	probed := make(map[string]time.Time)
	for rows.Next() {
		var candidate string
		var at int64
		if err := rows.Scan(&candidate, &at); err != nil {
			return nil, fmt.Errorf("failed to scan probe: %w", err)
		}
		probed[candidate] = fromNanos(at)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating probes: %w", err)
	}
	return probed, nil
}

// RecentProbes returns up to limit probe records, newest first
func (s *SQLiteStorage) RecentProbes(ctx context.Context, limit int) ([]*types.ProbeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT candidate, method, verdict, probed_at, attempts, error
		FROM probes
		ORDER BY probed_at DESC, candidate ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query probes: %w", err)
	}
	defer rows.Close()

	var records []*types.ProbeRecord
	for rows.Next() {
		var (
			rec       types.ProbeRecord
			candidate string
			at        int64
		)
		if err := rows.Scan(&candidate, &rec.Method, &rec.Verdict, &at, &rec.Attempts, &rec.Error); err != nil {
			return nil, fmt.Errorf("failed to scan probe: %w", err)
		}
		id, err := types.ParseChannelID(candidate)
		if err != nil {
			return nil, fmt.Errorf("corrupt probe candidate %q: %w", candidate, err)
		}
		rec.Candidate = id
		rec.ProbedAt = fromNanos(at)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating probes: %w", err)
	}
	return records, nil
}

// RecordPass stores a pass summary
func (s *SQLiteStorage) RecordPass(ctx context.Context, rec *types.PassRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO passes (id, kind, started_at, finished_at, summary)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ID, rec.Kind, toNanos(rec.StartedAt), toNanos(rec.FinishedAt), rec.Summary)
	if err != nil {
		return fmt.Errorf("failed to record %s pass: %w", rec.Kind, err)
	}
	return nil
}

// RecentPasses returns up to limit passes of kind, newest first. An empty kind
// selects every kind.
func (s *SQLiteStorage) RecentPasses(ctx context.Context, kind types.PassKind, limit int) ([]*types.PassRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, started_at, finished_at, summary
		FROM passes
		WHERE ? = '' OR kind = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, kind, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query passes: %w", err)
	}
	defer rows.Close()

	var records []*types.PassRecord
	for rows.Next() {
		var rec types.PassRecord
		var started, finished int64
		if err := rows.Scan(&rec.ID, &rec.Kind, &started, &finished, &rec.Summary); err != nil {
			return nil, fmt.Errorf("failed to scan pass: %w", err)
		}
		rec.StartedAt = fromNanos(started)
		rec.FinishedAt = fromNanos(finished)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating passes: %w", err)
	}
	return records, nil
}
