// Package sessionstore is the CLI's equivalent of browser session storage:
// a small SQLite key/value table (e.g. the location to resume after a forced
// re-login) plus the last known state of WhatsApp device-link sessions.
package sessionstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

const (
	sqlGetValue    = `SELECT value FROM session_values WHERE key = ?`
	sqlSetValue    = `INSERT INTO session_values (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	sqlDeleteValue = `DELETE FROM session_values WHERE key = ?`

	sqlGetLink = `SELECT session_id, status, connected_at, updated_at FROM link_sessions WHERE session_id = ?`
	sqlSetLink = `INSERT INTO link_sessions (session_id, status, connected_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET status = excluded.status,
			connected_at = COALESCE(link_sessions.connected_at, excluded.connected_at),
			updated_at = excluded.updated_at`
	sqlListLinks = `SELECT session_id, status, connected_at, updated_at FROM link_sessions ORDER BY updated_at DESC`
)

// linkStatusConnected is the status that stamps connected_at.
const linkStatusConnected = "connected"

// Store is a SQLite-backed session store. Safe for concurrent use.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

// LinkSession is the last observed state of a WhatsApp device-link session.
type LinkSession struct {
	ID          string    `json:"session_id"`
	Status      string    `json:"status"`
	ConnectedAt time.Time `json:"connected_at,omitzero"` // zero until the session first reports connected
	UpdatedAt   time.Time `json:"updated_at"`
}

// Open opens (creating if needed) the database at dbPath and applies
// migrations. Use ":memory:" for tests.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := dbPath
	if dbPath != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern; also keeps a ":memory:" database on one connection.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("session store ready", slog.String("db_path", dbPath))

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value stored under key and whether it was present.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string

	err := s.db.QueryRowContext(ctx, sqlGetValue, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("sessionstore: reading %q: %w", key, err)
	}

	return value, true, nil
}

// Set stores value under key, replacing any previous value. It satisfies
// apiclient.SessionStorage.
func (s *Store) Set(key, value string) error {
	return s.SetContext(context.Background(), key, value)
}

// SetContext is Set with a caller-supplied context.
func (s *Store) SetContext(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, sqlSetValue, key, value, s.nowFunc().UnixMilli()); err != nil {
		return fmt.Errorf("sessionstore: writing %q: %w", key, err)
	}

	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, sqlDeleteValue, key); err != nil {
		return fmt.Errorf("sessionstore: deleting %q: %w", key, err)
	}

	return nil
}

// Take returns the value under key and deletes it.
func (s *Store) Take(ctx context.Context, key string) (string, bool, error) {
	value, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return value, ok, err
	}

	return value, true, s.Delete(ctx, key)
}

// RecordLinkStatus upserts the status of a device-link session. The first
// "connected" status stamps ConnectedAt; later statuses keep it.
func (s *Store) RecordLinkStatus(ctx context.Context, sessionID, status string) error {
	now := s.nowFunc().UnixMilli()

	var connectedAt sql.NullInt64
	if status == linkStatusConnected {
		connectedAt = sql.NullInt64{Int64: now, Valid: true}
	}

	if _, err := s.db.ExecContext(ctx, sqlSetLink, sessionID, status, connectedAt, now); err != nil {
		return fmt.Errorf("sessionstore: recording link session %s: %w", sessionID, err)
	}

	return nil
}

// LinkSession returns the stored state of a device-link session, or nil if
// it was never recorded.
func (s *Store) LinkSession(ctx context.Context, sessionID string) (*LinkSession, error) {
	ls, err := scanLink(s.db.QueryRowContext(ctx, sqlGetLink, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // nil = never recorded
	}

	if err != nil {
		return nil, fmt.Errorf("sessionstore: reading link session %s: %w", sessionID, err)
	}

	return ls, nil
}

// LinkSessions returns all recorded device-link sessions, most recently
// updated first.
func (s *Store) LinkSessions(ctx context.Context) ([]LinkSession, error) {
	rows, err := s.db.QueryContext(ctx, sqlListLinks)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: listing link sessions: %w", err)
	}
	defer rows.Close()

	var out []LinkSession

	for rows.Next() {
		ls, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("sessionstore: scanning link session: %w", err)
		}

		out = append(out, *ls)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sessionstore: iterating link sessions: %w", err)
	}

	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (*LinkSession, error) {
	var (
		ls          LinkSession
		connectedAt sql.NullInt64
		updatedAt   int64
	)

	if err := row.Scan(&ls.ID, &ls.Status, &connectedAt, &updatedAt); err != nil {
		return nil, err
	}

	if connectedAt.Valid {
		ls.ConnectedAt = time.UnixMilli(connectedAt.Int64)
	}

	ls.UpdatedAt = time.UnixMilli(updatedAt)

	return &ls, nil
}
