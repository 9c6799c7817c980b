package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	createNotes = Migration{
		Version:     1,
		Description: "notes table",
		Up: `
			CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT NOT NULL);
			CREATE INDEX idx_notes_body ON notes(body);
		`,
	}
	addAuthor = Migration{
		Version:     2,
		Description: "notes author",
		Up:          `ALTER TABLE notes ADD COLUMN author TEXT NOT NULL DEFAULT ''`,
	}
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestApplyInOrder(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	// Registration order does not matter
	applied, err := Apply(ctx, db, []Migration{addAuthor, createNotes})
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	version, err := Version(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	_, err = db.ExecContext(ctx, "INSERT INTO notes (id, body, author) VALUES (1, 'hi', '~zod')")
	require.NoError(t, err)
}

func TestApplyIsIncremental(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	applied, err := Apply(ctx, db, []Migration{createNotes})
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	applied, err = Apply(ctx, db, []Migration{createNotes, addAuthor})
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	applied, err = Apply(ctx, db, []Migration{createNotes, addAuthor})
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestFailedMigrationRollsBack(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	broken := Migration{
		Version:     1,
		Description: "half valid",
		Up: `
			CREATE TABLE partial (id INTEGER PRIMARY KEY);
			THIS IS NOT SQL;
		`,
	}
	_, err := Apply(ctx, db, []Migration{broken})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "half valid")

	version, err := Version(ctx, db)
	require.NoError(t, err)
	assert.Zero(t, version)

	var n int
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'partial'").Scan(&n))
	assert.Zero(t, n)
}

func TestDuplicateVersion(t *testing.T) {
	dup := createNotes
	dup.Description = "again"
	_, err := Apply(context.Background(), openDB(t), []Migration{createNotes, dup})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}
