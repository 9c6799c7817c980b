package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shipwatch/shipwatch/internal/types"
)

// RegisterChannel inserts the channel unless its id is already registered
func (s *SQLiteStorage) RegisterChannel(ctx context.Context, ch *types.Channel) (types.RegisterStatus, error) {
	if err := ch.Validate(); err != nil {
		return "", fmt.Errorf("invalid channel: %w", err)
	}

	firstSeen := ch.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = time.Now()
	}

	// ON CONFLICT DO NOTHING keeps the first registration's metadata intact
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO channels (id, host, name, discovery_method, first_seen, enabled, priority)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		ch.ID.String(), ch.ID.Host, ch.ID.Name, ch.DiscoveryMethod,
		toNanos(firstSeen), boolToInt(ch.Enabled), ch.Priority,
	)
	if err != nil {
		return "", fmt.Errorf("failed to register channel %s: %w", ch.ID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return types.RegisterAlreadyPresent, nil
	}

	ch.FirstSeen = firstSeen.UTC()
	return types.RegisterInserted, nil
}

// ListChannels returns channels in polling order
func (s *SQLiteStorage) ListChannels(ctx context.Context, filter types.ListFilter) ([]*types.Channel, error) {
	query := `
		SELECT host, name, discovery_method, first_seen, enabled, priority
		FROM channels
	`
	if filter == types.FilterEnabled {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY first_seen ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var channels []*types.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating channels: %w", err)
	}

	return channels, nil
}

// GetChannel returns types.ErrNotFound for unknown ids
func (s *SQLiteStorage) GetChannel(ctx context.Context, id types.ChannelID) (*types.Channel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT host, name, discovery_method, first_seen, enabled, priority
		FROM channels
		WHERE id = ?
	`, id.String())

	ch, err := scanChannel(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("channel %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// DisableChannel stops polling the channel. Unknown ids are ignored.
func (s *SQLiteStorage) DisableChannel(ctx context.Context, id types.ChannelID) error {
	return s.setEnabled(ctx, id, false)
}

// EnableChannel resumes polling the channel. Unknown ids are ignored.
func (s *SQLiteStorage) EnableChannel(ctx context.Context, id types.ChannelID) error {
	return s.setEnabled(ctx, id, true)
}

func (s *SQLiteStorage) setEnabled(ctx context.Context, id types.ChannelID, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE channels SET enabled = ? WHERE id = ?`, boolToInt(enabled), id.String())
	if err != nil {
		return fmt.Errorf("failed to update channel %s: %w", id, err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (*types.Channel, error) {
	var (
		ch        types.Channel
		firstSeen int64
		enabled   int
	)
	err := row.Scan(&ch.ID.Host, &ch.ID.Name, &ch.DiscoveryMethod, &firstSeen, &enabled, &ch.Priority)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan channel: %w", err)
	}
	ch.FirstSeen = fromNanos(firstSeen)
	ch.Enabled = enabled == 1
	return &ch, nil
}
