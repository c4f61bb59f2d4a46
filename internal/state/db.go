// Package state is the SQLite storage backend: chat records plus an
// append-only event log per chat.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/exedev/mcpchat/internal/transcript"
)

// timeFormat is fixed-width so timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// DB is a SQLite-backed chat store. It implements transcript.Backend.
type DB struct {
	db   *sql.DB
	path string
}

// OpenDB opens (or creates) the chat database at dbPath.
func OpenDB(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", abs)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Single connection for writes, WAL allows concurrent reads
	db.SetMaxOpenConns(2)

	s := &DB{db: db, path: abs}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *DB) migrate() error {
	ddl := `
	CREATE TABLE IF NOT EXISTS chats (
		id            TEXT PRIMARY KEY,
		title         TEXT NOT NULL,
		model         TEXT NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		data          TEXT NOT NULL,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id     TEXT NOT NULL,
		type        TEXT NOT NULL,
		data        TEXT,
		created_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_chat ON events(chat_id);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
	`
	_, err := s.db.Exec(ddl)
	return err
}

// Path returns the database file path.
func (s *DB) Path() string { return s.path }

// --- Chat records ---

func (s *DB) Key(id string) string {
	return "sqlite:" + s.path + "#" + id
}

func (s *DB) Read(ctx context.Context, id string) ([]byte, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM chats WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, transcript.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}

// Write upserts the complete chat row in one statement.
func (s *DB) Write(ctx context.Context, rec transcript.Record) error {
	now := time.Now().UTC().Format(timeFormat)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, title, model, message_count, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			model = excluded.model,
			message_count = excluded.message_count,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		rec.ID, rec.Title, rec.Model, rec.Messages, string(rec.Data), now, now,
	)
	return err
}

// List returns all chats, most recently updated first.
func (s *DB) List(ctx context.Context) ([]transcript.Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, model, message_count, updated_at FROM chats ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []transcript.Summary
	for rows.Next() {
		var sum transcript.Summary
		var updated string
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Model, &sum.Messages, &updated); err != nil {
			return nil, err
		}
		sum.UpdatedAt, _ = time.Parse(timeFormat, updated)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteChat removes a chat and its events.
func (s *DB) DeleteChat(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE chat_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return transcript.ErrNotFound
	}
	return tx.Commit()
}

// --- Event log (append-only) ---

// Event is one row of a chat's event log.
type Event struct {
	ID        int64           `json:"id"`
	ChatID    string          `json:"chat_id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt string          `json:"created_at"`
}

func (s *DB) AppendEvent(ctx context.Context, chatID, eventType string, data interface{}) (int64, error) {
	var dataStr string
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return 0, err
		}
		dataStr = string(b)
	}
	now := time.Now().UTC().Format(timeFormat)
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO events (chat_id, type, data, created_at) VALUES (?, ?, ?, ?)`,
		chatID, eventType, dataStr, now,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// EventCount returns the number of logged events of a chat.
func (s *DB) EventCount(ctx context.Context, chatID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE chat_id = ?`, chatID).Scan(&count)
	return count, err
}

// Events returns the log of a chat in insertion order.
func (s *DB) Events(ctx context.Context, chatID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, type, COALESCE(data, ''), created_at FROM events WHERE chat_id = ? ORDER BY id`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var data string
		if err := rows.Scan(&e.ID, &e.ChatID, &e.Type, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		if data != "" {
			e.Data = json.RawMessage(data)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Lifecycle ---

func (s *DB) Close() error {
	return s.db.Close()
}
