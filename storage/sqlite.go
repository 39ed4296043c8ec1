// Package storage provides alert persistence: a SQLite implementation for
// production use and an in-memory implementation for tests and replay runs.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite holds the database connections for alert storage. Read and write
// pools are split so WAL mode can serve concurrent reads alongside the
// single writer.
type SQLite struct {
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Path    string
	logger  *zap.SugaredLogger
}

// OpenSQLite opens (creating if necessary) the alert database at path and
// runs migrations.
func OpenSQLite(path string, logger *zap.SugaredLogger) (*SQLite, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	writeDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite write pool: %w", err)
	}
	// WAL mode has a single writer; one connection avoids SQLITE_BUSY
	// churn on the write path.
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", path)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("open sqlite read pool: %w", err)
	}
	readDB.SetMaxOpenConns(10)

	s := &SQLite{WriteDB: writeDB, ReadDB: readDB, Path: path, logger: logger}
	for _, db := range []*sql.DB{writeDB, readDB} {
		if err := configurePragmas(db); err != nil {
			s.Close()
			return nil, err
		}
	}
	if err := s.migrate(); err != nil {
		s.Close()
		return nil, err
	}
	logger.Infow("Opened alert database", "path", path)
	return s, nil
}

func configurePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("apply %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *SQLite) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS alerts (
	id                TEXT PRIMARY KEY,
	type              TEXT NOT NULL,
	severity          TEXT NOT NULL,
	status            TEXT NOT NULL,
	title             TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	fingerprint       TEXT NOT NULL DEFAULT '',
	is_correlated     INTEGER NOT NULL DEFAULT 0,
	correlation_id    TEXT NOT NULL DEFAULT '',
	correlated_alerts TEXT NOT NULL DEFAULT '[]',
	rule_id           TEXT NOT NULL DEFAULT '',
	rule_name         TEXT NOT NULL DEFAULT '',
	event_type        TEXT NOT NULL DEFAULT '',
	user_id           TEXT NOT NULL DEFAULT '',
	user_email        TEXT NOT NULL DEFAULT '',
	ip_address        TEXT NOT NULL DEFAULT '',
	session_id        TEXT NOT NULL DEFAULT '',
	score             INTEGER NOT NULL DEFAULT 0,
	occurrence_count  INTEGER NOT NULL DEFAULT 1,
	first_seen        TIMESTAMP NOT NULL,
	last_seen         TIMESTAMP NOT NULL,
	evidence          TEXT NOT NULL DEFAULT '{}',
	created_at        TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_fingerprint ON alerts(fingerprint, last_seen);
CREATE INDEX IF NOT EXISTS idx_alerts_correlation ON alerts(correlation_id);
CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
CREATE INDEX IF NOT EXISTS idx_alerts_user_id ON alerts(user_id);
CREATE INDEX IF NOT EXISTS idx_alerts_ip_address ON alerts(ip_address);
CREATE INDEX IF NOT EXISTS idx_alerts_session_id ON alerts(session_id);
`
	if _, err := s.WriteDB.Exec(schema); err != nil {
		return fmt.Errorf("migrate alerts schema: %w", err)
	}
	return nil
}

// Close closes both connection pools.
func (s *SQLite) Close() error {
	var firstErr error
	for _, db := range []*sql.DB{s.WriteDB, s.ReadDB} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
