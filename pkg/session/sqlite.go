package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/turnwheel/turnwheel/pkg/chat"
	"github.com/turnwheel/turnwheel/pkg/sqliteutil"
)

// SQLiteStore persists sessions in a single-file SQLite database. Messages
// are stored as one JSON document per session; this store exists for durable
// transcripts, not for querying individual messages.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	total_cost REAL NOT NULL DEFAULT 0,
	iterations INTEGER NOT NULL DEFAULT 0,
	messages TEXT NOT NULL DEFAULT '[]'
);`

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sqliteutil.OpenDB(path)
	if err != nil {
		return nil, fmt.Errorf("opening session database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating session schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) AddSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		return ErrEmptyID
	}
	messages, err := json.Marshal(sess.Messages)
	if err != nil {
		return fmt.Errorf("marshaling session messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, input_tokens, output_tokens, total_cost, iterations, messages)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.CreatedAt.Format(time.RFC3339Nano),
		sess.InputTokens, sess.OutputTokens, sess.TotalCost, sess.Iterations, string(messages))
	return err
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, input_tokens, output_tokens, total_cost, iterations, messages
		 FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (s *SQLiteStore) GetSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, input_tokens, output_tokens, total_cost, iterations, messages
		 FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		return ErrEmptyID
	}
	messages, err := json.Marshal(sess.Messages)
	if err != nil {
		return fmt.Errorf("marshaling session messages: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET input_tokens = ?, output_tokens = ?, total_cost = ?, iterations = ?, messages = ?
		 WHERE id = ?`,
		sess.InputTokens, sess.OutputTokens, sess.TotalCost, sess.Iterations, string(messages), sess.ID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess      Session
		createdAt string
		messages  string
	)
	err := row.Scan(&sess.ID, &createdAt, &sess.InputTokens, &sess.OutputTokens, &sess.TotalCost, &sess.Iterations, &messages)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if sess.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing session created_at: %w", err)
	}
	if err := json.Unmarshal([]byte(messages), &sess.Messages); err != nil {
		return nil, fmt.Errorf("unmarshaling session messages: %w", err)
	}
	if sess.Messages == nil {
		sess.Messages = []chat.Message{}
	}
	return &sess, nil
}
