package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/previewd/internal/history"
)

// Sink appends session history events to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	// Append-only audit table; no primary key needed.
	stmt := `CREATE TABLE IF NOT EXISTS preview_history(
		occurred_at TIMESTAMP NOT NULL,
		event TEXT NOT NULL,
		key TEXT NOT NULL,
		session_id TEXT NOT NULL,
		pid INTEGER NOT NULL,
		endpoint TEXT NULL,
		exit_code INTEGER NULL,
		detail TEXT NULL
	);`
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_preview_history_key ON preview_history(key);`)
	return err
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	endpoint := interface{}(nil)
	if e.Endpoint != "" {
		endpoint = e.Endpoint
	}
	exitCode := interface{}(nil)
	if e.ExitCode != nil {
		exitCode = *e.ExitCode
	}
	detail := interface{}(nil)
	if e.Detail != "" {
		detail = e.Detail
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preview_history(occurred_at, event, key, session_id, pid, endpoint, exit_code, detail)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), string(e.Type), e.Key, e.SessionID, e.PID, endpoint, exitCode, detail)
	return err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
