// Package store persists tracker accounts in SQLite. Each game zone owns
// one account row; credentials either come from the configuration file or
// are minted on the fly when a realm registers a throwaway account.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a zone has no stored account.
var ErrNotFound = errors.New("no account stored for zone")

// ErrIncomplete is returned when a stored account misses a username or
// password; such zones are skipped during discovery.
var ErrIncomplete = errors.New("stored account is incomplete")

// Credentials is one zone's login material.
type Credentials struct {
	Username string
	Password string
	ServerID int
}

// Store wraps a SQLite database with thread-safe access.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open opens or creates the account database at the given path.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	// SQLite doesn't support concurrent writes
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// WAL mode for better read concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.Warn().Err(err).Msg("failed to enable WAL mode")
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		log.Warn().Err(err).Msg("failed to enable foreign keys")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", dbPath).Msg("account database opened")
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			zone       TEXT PRIMARY KEY,
			username   TEXT NOT NULL DEFAULT '',
			password   TEXT NOT NULL DEFAULT '',
			server_id  INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create accounts table: %w", err)
	}
	return nil
}

// Upsert stores or replaces the account for a zone.
func (s *Store) Upsert(zone string, creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO accounts (zone, username, password, server_id, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(zone) DO UPDATE SET
			username   = excluded.username,
			password   = excluded.password,
			server_id  = excluded.server_id,
			updated_at = CURRENT_TIMESTAMP
	`, zone, creds.Username, creds.Password, creds.ServerID)
	if err != nil {
		return fmt.Errorf("failed to upsert account for %s: %w", zone, err)
	}
	return nil
}

// Lookup returns the account for a zone. A row with a blank username or
// password yields ErrIncomplete.
func (s *Store) Lookup(zone string) (Credentials, error) {
	var creds Credentials
	err := s.db.QueryRow(
		`SELECT username, password, server_id FROM accounts WHERE zone = ?`, zone,
	).Scan(&creds.Username, &creds.Password, &creds.ServerID)
	if errors.Is(err, sql.ErrNoRows) {
		return Credentials{}, ErrNotFound
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to look up account for %s: %w", zone, err)
	}
	if creds.Username == "" || creds.Password == "" {
		return creds, ErrIncomplete
	}
	return creds, nil
}

// Zones lists every zone with a stored account.
func (s *Store) Zones() ([]string, error) {
	rows, err := s.db.Query(`SELECT zone FROM accounts ORDER BY zone`)
	if err != nil {
		return nil, fmt.Errorf("failed to list zones: %w", err)
	}
	defer rows.Close()

	var zones []string
	for rows.Next() {
		var zone string
		if err := rows.Scan(&zone); err != nil {
			return nil, err
		}
		zones = append(zones, zone)
	}
	return zones, rows.Err()
}

// Seed imports configured accounts, overwriting any stored rows for the
// same zones. Accounts already in the database but absent from the
// configuration are left alone.
func (s *Store) Seed(accounts map[string]Credentials) error {
	for zone, creds := range accounts {
		if err := s.Upsert(zone, creds); err != nil {
			return err
		}
	}
	return nil
}
