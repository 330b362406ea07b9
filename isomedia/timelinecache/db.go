// Package timelinecache persists Timeline Builder output (sample
// count, framerate, order map, keyframe bitmap) in SQLite, keyed by
// (path, size, mod_time, track_id), so reopening the same file skips
// re-walking stts/ctts/stss. It is never a correctness dependency: a
// cache miss or a stale row always falls back to a full rebuild.
package timelinecache

import (
	"database/sql"
	"log/slog"

	_ "modernc.org/sqlite"
)

// Open initializes the SQLite database backing the cache and ensures
// its schema exists.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			slog.Warn("timelinecache: pragma failed", "pragma", p, "error", err)
		}
	}

	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Cache{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS timeline (
		path            TEXT NOT NULL,
		size            INTEGER NOT NULL,
		mod_time        INTEGER NOT NULL,
		track_id        INTEGER NOT NULL,
		generation      TEXT NOT NULL,
		sample_count    INTEGER NOT NULL,
		framerate_num   INTEGER NOT NULL,
		framerate_den   INTEGER NOT NULL,
		order_map       BLOB,
		keyframe_bitmap BLOB NOT NULL,
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (path, track_id)
	);
	`
	_, err := db.Exec(schema)
	return err
}
