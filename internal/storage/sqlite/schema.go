package sqlite

import "github.com/shipwatch/shipwatch/internal/storage/migrations"

// schemaMigrations are applied in version order when a database is opened.
// Append new versions; never edit an applied one.
var schemaMigrations = []migrations.Migration{
	{Version: 1, Description: "initial schema", Up: schemaV1},
}

const schemaV1 = `
-- Channel registry. id is the canonical "~host/name" string (exact-match dedup key).
CREATE TABLE IF NOT EXISTS channels (
    id TEXT PRIMARY KEY,
    host TEXT NOT NULL,
    name TEXT NOT NULL,
    discovery_method TEXT NOT NULL,
    first_seen INTEGER NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1 CHECK(enabled IN (0, 1)),
    priority TEXT NOT NULL DEFAULT 'normal' CHECK(priority IN ('high', 'normal'))
);

CREATE INDEX IF NOT EXISTS idx_channels_order ON channels(first_seen, id);
CREATE INDEX IF NOT EXISTS idx_channels_host ON channels(host);

-- Append-only activity log. The primary key rejects a second copy of a cursor.
CREATE TABLE IF NOT EXISTS events (
    channel_id TEXT NOT NULL,
    cursor INTEGER NOT NULL,
    author TEXT NOT NULL,
    ts INTEGER NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (channel_id, cursor)
) WITHOUT ROWID;

-- Author set per channel backing distinct_authors
CREATE TABLE IF NOT EXISTS channel_authors (
    channel_id TEXT NOT NULL,
    author TEXT NOT NULL,
    PRIMARY KEY (channel_id, author)
) WITHOUT ROWID;

-- Derived counters plus poll and analysis bookkeeping, one row per channel
CREATE TABLE IF NOT EXISTS aggregates (
    channel_id TEXT PRIMARY KEY,
    total_events INTEGER NOT NULL DEFAULT 0,
    distinct_authors INTEGER NOT NULL DEFAULT 0,
    last_event_at INTEGER,
    last_cursor INTEGER NOT NULL,
    last_analyzed_cursor INTEGER NOT NULL,
    analysis_state TEXT NOT NULL DEFAULT 'idle' CHECK(analysis_state IN ('idle', 'pending')),
    analysis_failures INTEGER NOT NULL DEFAULT 0,
    last_analysis_error TEXT NOT NULL DEFAULT '',
    last_analyzed_at INTEGER,
    last_polled_at INTEGER,
    last_poll_status TEXT NOT NULL DEFAULT 'never',
    last_poll_error TEXT NOT NULL DEFAULT '',
    consecutive_failures INTEGER NOT NULL DEFAULT 0
);

-- Stored summaries
CREATE TABLE IF NOT EXISTS analyses (
    id TEXT PRIMARY KEY,
    channel_id TEXT NOT NULL,
    from_cursor INTEGER NOT NULL,
    to_cursor INTEGER NOT NULL,
    event_count INTEGER NOT NULL,
    summary TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analyses_channel ON analyses(channel_id, created_at);

-- Latest probe per discovery candidate
CREATE TABLE IF NOT EXISTS probes (
    candidate TEXT PRIMARY KEY,
    host TEXT NOT NULL,
    method TEXT NOT NULL,
    verdict TEXT NOT NULL,
    probed_at INTEGER NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 1,
    error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_probes_host ON probes(host);
CREATE INDEX IF NOT EXISTS idx_probes_probed_at ON probes(probed_at);

-- Pass summaries for the operational layer
CREATE TABLE IF NOT EXISTS passes (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL,
    summary TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_passes_kind ON passes(kind, started_at);
`
