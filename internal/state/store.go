// Package state persists restriction records and serializes mutations with
// per-user file locks. SQLite in WAL mode lets the status command read while
// a refresh cycle writes.
package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"grimm.is/cordon/internal/clock"
)

var (
	ErrNotFound    = errors.New("no restriction record for user")
	ErrStoreClosed = errors.New("state store is closed")
)

// Record is the persisted view of one user's restriction.
type Record struct {
	Username         string    `json:"username"`
	UID              uint32    `json:"uid"`
	Active           bool      `json:"active"`
	Table            string    `json:"table"`
	GenerationID     string    `json:"generation_id"`
	AppliedAt        time.Time `json:"applied_at"`
	LastRefresh      time.Time `json:"last_refresh"`
	LastAddressCount int       `json:"last_address_count"`
	Stale            bool      `json:"stale"`
	DeviceBlocked    bool      `json:"device_blocked"`
	Addresses        []string  `json:"addresses"`
}

// Store is the SQLite-backed record store.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// Open opens or creates the store at dir/state.db.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	path := filepath.Join(dir, "state.db")
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.Exec("PRAGMA temp_store = MEMORY"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragma: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// OpenMemory opens an in-memory store for tests.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS restrictions (
			username TEXT PRIMARY KEY,
			active INTEGER NOT NULL,
			device_blocked INTEGER NOT NULL,
			updated_at DATETIME NOT NULL,
			record BLOB NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_restrictions_active ON restrictions(active);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save upserts a user's record.
func (s *Store) Save(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record for %s: %w", rec.Username, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO restrictions (username, active, device_blocked, updated_at, record)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			active = excluded.active,
			device_blocked = excluded.device_blocked,
			updated_at = excluded.updated_at,
			record = excluded.record
	`, rec.Username, rec.Active, rec.DeviceBlocked, clock.Now().UTC(), data)
	if err != nil {
		return fmt.Errorf("saving record for %s: %w", rec.Username, err)
	}
	return nil
}

// Get returns a user's record or ErrNotFound.
func (s *Store) Get(username string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := s.db.QueryRow(
		"SELECT record FROM restrictions WHERE username = ?", username,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding record for %s: %w", username, err)
	}
	return &rec, nil
}

// Delete removes a user's record. Deleting an absent record is fine.
func (s *Store) Delete(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	_, err := s.db.Exec("DELETE FROM restrictions WHERE username = ?", username)
	return err
}

// List returns all records ordered by username.
func (s *Store) List() ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query("SELECT record FROM restrictions ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// ListActive returns records with an active restriction.
func (s *Store) ListActive() ([]*Record, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, r := range all {
		if r.Active {
			active = append(active, r)
		}
	}
	return active, nil
}

// CountDeviceBlocked returns how many users currently have the device block.
// The machine wide lockout stays until this drops to zero.
func (s *Store) CountDeviceBlocked() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM restrictions WHERE device_blocked = 1",
	).Scan(&n)
	return n, err
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
