package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/vpsman/internal/history"
)

// Sink writes history events to SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS vpsman_history(
			id TEXT PRIMARY KEY,
			occurred_at TIMESTAMP NOT NULL,
			type TEXT NOT NULL,
			subject TEXT NOT NULL,
			detail TEXT NULL,
			error TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_vpsman_history_subject ON vpsman_history(subject);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vpsman_history(id, occurred_at, type, subject, detail, error)
		VALUES(?, ?, ?, ?, ?, ?);`,
		e.ID, e.OccurredAt.UTC(), string(e.Type), e.Subject, detailJSON(e.Detail), nullable(e.Error))
	return err
}

// Count returns the number of stored events for subject.
func (s *Sink) Count(ctx context.Context, subject string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vpsman_history WHERE subject = ?;`, subject).Scan(&n)
	return n, err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func detailJSON(d map[string]string) any {
	if len(d) == 0 {
		return nil
	}
	b, _ := json.Marshal(d)
	return string(b)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
