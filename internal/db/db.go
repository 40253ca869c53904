// Package db opens the per-workspace transition journal database. Board and
// ticket state lives in YAML files; the journal is a supplementary
// append-only audit trail.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const journalName = "events.db"

type Config struct {
	Workspace string
}

// Path returns the journal path for the workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "board", journalName)
}

// Open opens the SQLite journal, creating the board directory if needed.
func Open(cfg Config) (*sql.DB, error) {
	path := Path(cfg.Workspace)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}
