// Package store is a SQLite journal of load progress: the old-to-new id map
// and the stage reached. A load writes to it as it goes, so an interrupted
// run can be resumed even when no state snapshot was written.
//
// The journal is opened in WAL mode with synchronous=NORMAL, so each
// mapping is durable once its insert returns without a full fsync.
package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// journalVersion is stored in user_version. A journal with a higher version
// was written by a newer release and is refused.
const journalVersion = 1

const dsnParams = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

// Store is a load journal backed by one SQLite file.
type Store struct {
	db *sql.DB
}

// Open creates or opens the journal at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// Writes are serialized on one connection.
	db.SetMaxOpenConns(1)

	if err := prepare(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// prepare creates the tables and stamps or checks the journal version.
func prepare(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	switch {
	case version > journalVersion:
		return fmt.Errorf("journal version %d is newer than supported version %d", version, journalVersion)
	case version == journalVersion:
		return nil
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", journalVersion)); err != nil {
		return fmt.Errorf("stamp version: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
