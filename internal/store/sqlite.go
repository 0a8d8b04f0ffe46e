// Package store persists sync history and exported memos in an embedded
// SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Tavisco/palm-sync/conduit"
)

// DBFile is the database file name inside the data directory.
const DBFile = "hotsync.db"

// ErrSessionNotFound is returned when a session id is unknown.
var ErrSessionNotFound = errors.New("store: session not found")

// Session is one stored sync session.
type Session struct {
	ID        string
	UserName  string
	Databases []string
	MemoCount int
	SyncedAt  time.Time
}

// StoredMemo is a memo exported from a device.
type StoredMemo struct {
	SessionID string
	UserName  string
	RecordID  uint32
	Category  uint8
	Title     string
	Text      string
	SyncedAt  time.Time
}

// SQLiteStore stores sessions and memos using modernc.org/sqlite, which is
// pure Go.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serializes writes
}

var _ conduit.MemoSink = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates dataDir/hotsync.db and runs the schema
// migrations.
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	return Open(filepath.Join(dataDir, DBFile))
}

// Open opens the database at path. ":memory:" gives a private in-memory
// database.
func Open(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// one connection keeps in-memory databases alive and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating sqlite: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_name TEXT NOT NULL DEFAULT '',
			databases TEXT NOT NULL DEFAULT '',
			memo_count INTEGER NOT NULL DEFAULT 0,
			synced_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memos (
			user_name TEXT NOT NULL,
			record_id INTEGER NOT NULL,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			category INTEGER NOT NULL DEFAULT 0,
			title TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL,
			synced_at DATETIME NOT NULL,
			PRIMARY KEY (user_name, record_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_synced ON sessions(synced_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveMemos records the session and upserts its memos. Memos are keyed by
// user name and record id, so a later sync replaces earlier copies.
func (s *SQLiteStore) SaveMemos(ctx context.Context, session conduit.SessionRecord, memos []conduit.Memo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	syncedAt := session.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}
	syncedAt = syncedAt.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, user_name, databases, memo_count, synced_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET user_name = excluded.user_name, databases = excluded.databases,
		 memo_count = excluded.memo_count, synced_at = excluded.synced_at`,
		session.ID, session.UserName, strings.Join(session.Databases, "\n"), len(memos), syncedAt,
	)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", session.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO memos (user_name, record_id, session_id, category, title, body, synced_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_name, record_id) DO UPDATE SET session_id = excluded.session_id,
		 category = excluded.category, title = excluded.title, body = excluded.body,
		 synced_at = excluded.synced_at`,
	)
	if err != nil {
		return fmt.Errorf("preparing memo insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range memos {
		if _, err := stmt.ExecContext(ctx, session.UserName, int64(m.ID), session.ID, int(m.Category), m.Title(), m.Text, syncedAt); err != nil {
			return fmt.Errorf("saving memo 0x%08X: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

// Session returns the stored session id.
func (s *SQLiteStore) Session(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_name, databases, memo_count, synced_at FROM sessions WHERE id = ?`, id)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	return sess, err
}

// Sessions returns the most recent sessions, newest first. A limit <= 0
// returns all of them.
func (s *SQLiteStore) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_name, databases, memo_count, synced_at FROM sessions
		 ORDER BY synced_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}

	return out, rows.Err()
}

// Memos returns the memos stored for userName ordered by record id. An
// empty userName returns the memos of every user.
func (s *SQLiteStore) Memos(ctx context.Context, userName string) ([]StoredMemo, error) {
	query := `SELECT session_id, user_name, record_id, category, title, body, synced_at FROM memos`
	var args []any
	if userName != "" {
		query += ` WHERE user_name = ?`
		args = append(args, userName)
	}
	query += ` ORDER BY user_name, record_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing memos: %w", err)
	}
	defer rows.Close()

	var out []StoredMemo
	for rows.Next() {
		var (
			m        StoredMemo
			recordID int64
			category int
		)
		if err := rows.Scan(&m.SessionID, &m.UserName, &recordID, &category, &m.Title, &m.Text, &m.SyncedAt); err != nil {
			return nil, fmt.Errorf("scanning memo: %w", err)
		}
		m.RecordID = uint32(recordID) //nolint:gosec
		m.Category = uint8(category)  //nolint:gosec
		out = append(out, m)
	}

	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var (
		sess Session
		dbs  string
	)
	if err := row.Scan(&sess.ID, &sess.UserName, &dbs, &sess.MemoCount, &sess.SyncedAt); err != nil {
		return nil, err
	}
	if dbs != "" {
		sess.Databases = strings.Split(dbs, "\n")
	}

	return &sess, nil
}
