package repro

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Registry is the local run/config registry a grid (C8) uses to resume by
// skipping already-completed config_ids. Grounded on the teacher's
// internal/database connection/schema idiom, re-pointed from lib/pq to
// modernc.org/sqlite since this system is explicitly CPU-only/single-node
// with no networked database server to talk to.
type Registry struct {
	db *sql.DB
}

// OpenRegistry opens (creating if absent) the sqlite-backed registry at
// path and ensures its schema exists.
func OpenRegistry(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	schema := `
CREATE TABLE IF NOT EXISTS completed_configs (
	run_id TEXT NOT NULL,
	config_id TEXT NOT NULL,
	meta_path TEXT NOT NULL,
	completed_at TEXT NOT NULL,
	PRIMARY KEY (run_id, config_id)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init registry schema: %w", err)
	}
	return &Registry{db: db}, nil
}

// MarkCompleted records a config_id as completed for runID, idempotently,
// alongside the path to the run_meta.json it produced so a later resumed
// invocation can reload its RunMetadata rather than just skip it blindly.
func (r *Registry) MarkCompleted(runID, configID, metaPath, completedAt string) error {
	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO completed_configs (run_id, config_id, meta_path, completed_at) VALUES (?, ?, ?, ?)`,
		runID, configID, metaPath, completedAt,
	)
	return err
}

// CompletedMetaPaths returns, for every config_id already completed under
// runID, the run_meta.json path it wrote — so a resumed grid can reload
// each one's RunMetadata back into its result set instead of merely
// skipping it.
func (r *Registry) CompletedMetaPaths(runID string) (map[string]string, error) {
	rows, err := r.db.Query(`SELECT config_id, meta_path FROM completed_configs WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	done := make(map[string]string)
	for rows.Next() {
		var id, path string
		if err := rows.Scan(&id, &path); err != nil {
			return nil, err
		}
		done[id] = path
	}
	return done, rows.Err()
}

// Close releases the underlying database handle.
func (r *Registry) Close() error {
	return r.db.Close()
}
