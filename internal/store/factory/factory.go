package factory

import (
	"errors"
	"strings"

	"github.com/loykin/vpsman/internal/store"
	"github.com/loykin/vpsman/internal/store/jsonfile"
	pg "github.com/loykin/vpsman/internal/store/postgres"
	sq "github.com/loykin/vpsman/internal/store/sqlite"
)

// NewFromDSN selects a repository implementation based on DSN.
// Supported:
//   - json:     "json://<dir>" or a bare directory path
//   - sqlite:   "sqlite://<path>", or a bare path ending in .db/.sqlite
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(dsn string) (store.Repository, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	switch {
	case ld == "":
		return nil, errors.New("empty DSN")
	case strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://"):
		return pg.New(d)
	case strings.HasPrefix(ld, "sqlite://"):
		return sq.New(d[len("sqlite://"):])
	case strings.HasPrefix(ld, "json://"):
		return jsonfile.New(d[len("json://"):])
	case ld == ":memory:" || strings.HasSuffix(ld, ".db") || strings.HasSuffix(ld, ".sqlite"):
		return sq.New(d)
	case strings.Contains(ld, "://"):
		return nil, errors.New("unsupported DSN scheme: " + d)
	}
	return jsonfile.New(d)
}
