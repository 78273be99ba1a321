// Package storage persists contracts and their signing progress in SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DBFileName is the database file inside the data directory.
const DBFileName = "dlc.db"

// Storage provides persistent storage for the DLC daemon.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFileName)

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.dbPath
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- One row per contract, keyed by funding txid
	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		chain TEXT NOT NULL,
		network TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'built',

		fund_tx TEXT NOT NULL,
		fund_vout INTEGER NOT NULL,
		fund_value INTEGER NOT NULL,
		funding_script TEXT NOT NULL,

		refund_txid TEXT NOT NULL,
		refund_tx TEXT NOT NULL,
		refund_locktime INTEGER NOT NULL,

		created_at INTEGER NOT NULL,
		updated_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_state ON contracts(state);
	CREATE INDEX IF NOT EXISTS idx_contracts_refund ON contracts(refund_txid);

	-- CETs of a contract in outcome order. Identical payouts give
	-- identical txids, so the txid is not unique.
	CREATE TABLE IF NOT EXISTS cets (
		contract_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		txid TEXT NOT NULL,
		tx TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'unsigned',
		adaptor_sig TEXT,
		signed_tx TEXT,
		updated_at INTEGER,

		PRIMARY KEY (contract_id, idx),
		FOREIGN KEY (contract_id) REFERENCES contracts(id)
	);

	CREATE INDEX IF NOT EXISTS idx_cets_txid ON cets(txid);
	`

	_, err := s.db.Exec(schema)
	return err
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
