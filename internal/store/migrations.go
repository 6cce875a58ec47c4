package store

import (
	"database/sql"
	"fmt"
)

// migrations are applied in order; the schema_migrations table records
// the highest applied version. Never edit an entry after release; add
// a new one.
var migrations = []string{
	// v1: core entity tables
	`
	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		ts INTEGER NOT NULL,
		state TEXT NOT NULL,
		input TEXT,
		output TEXT,
		metadata TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_turns_ts ON turns(ts);

	CREATE TABLE IF NOT EXISTS turn_telemetry (
		turn_id TEXT PRIMARY KEY REFERENCES turns(id),
		survival_tier TEXT NOT NULL,
		estimated_usd INTEGER NOT NULL,
		queue_depth INTEGER NOT NULL,
		spend_proxy_usd INTEGER NOT NULL DEFAULT 0,
		actions_total INTEGER NOT NULL DEFAULT 0,
		action_failures INTEGER NOT NULL DEFAULT 0,
		brain_duration_ms INTEGER NOT NULL DEFAULT 0,
		brain_failures INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		thread_id TEXT,
		content TEXT NOT NULL,
		received_at INTEGER NOT NULL,
		processed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_messages_unprocessed ON messages(processed_at, received_at);

	CREATE TABLE IF NOT EXISTS memory_facts (
		id TEXT PRIMARY KEY,
		key TEXT NOT NULL UNIQUE,
		value TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0.5,
		source TEXT,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS memory_episodes (
		id TEXT PRIMARY KEY,
		summary TEXT NOT NULL,
		outcome TEXT,
		action_type TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_episodes_created ON memory_episodes(created_at);

	CREATE TABLE IF NOT EXISTS incidents (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		severity TEXT NOT NULL,
		category TEXT,
		message TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		ts INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_incidents_sev_ts ON incidents(severity, ts);

	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		severity TEXT NOT NULL,
		route TEXT NOT NULL,
		message TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		ts INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`,
	// v2: self-modification records
	`
	CREATE TABLE IF NOT EXISTS self_mod_mutations (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		before_hash TEXT,
		after_hash TEXT NOT NULL,
		reason TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_mutations_path ON self_mod_mutations(path, created_at);

	CREATE TABLE IF NOT EXISTS rollback_points (
		id TEXT PRIMARY KEY,
		mutation_id TEXT NOT NULL REFERENCES self_mod_mutations(id),
		path TEXT NOT NULL,
		rollback_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rollback_path ON rollback_points(path, created_at);
	`,
	// v3: emergency state, unlock sessions, survival snapshots, audit
	`
	CREATE TABLE IF NOT EXISTS emergency_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		enabled INTEGER NOT NULL DEFAULT 0,
		reason TEXT,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS unlock_sessions (
		id TEXT PRIMARY KEY,
		address TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		revoked_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS survival_snapshots (
		id TEXT PRIMARY KEY,
		tier TEXT NOT NULL,
		estimated_usd INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_survival_created ON survival_snapshots(created_at);

	CREATE TABLE IF NOT EXISTS wallet_audit (
		id TEXT PRIMARY KEY,
		event TEXT NOT NULL,
		address TEXT,
		created_at INTEGER NOT NULL
	);
	`,
}

// migrate brings the schema up to the current version. A database
// written by a newer build is refused rather than misread.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	have := int(current.Int64)
	if have > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than supported version %d; refusing to start", have, len(migrations))
	}

	for v := have; v < len(migrations); v++ {
		err := s.WithTx(func(tx *sql.Tx) error {
			if _, err := tx.Exec(migrations[v]); err != nil {
				return fmt.Errorf("apply migration %d: %w", v+1, err)
			}
			if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
				v+1, toMillis(nowUTC())); err != nil {
				return fmt.Errorf("record migration %d: %w", v+1, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// SchemaVersion returns the applied schema version.
func (s *Store) SchemaVersion() (int, error) {
	var v sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, err
	}
	return int(v.Int64), nil
}
