package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/vpsman/internal/store/sqldb"
)

// New opens (and migrates) a SQLite state database at path using the
// CGO-free modernc.org/sqlite driver. Use ":memory:" for an in-memory db.
func New(path string) (*sqldb.DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if p == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		d.SetMaxOpenConns(1)
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	db, err := sqldb.Open(context.Background(), d, sqldb.SQLite)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	return db, nil
}
