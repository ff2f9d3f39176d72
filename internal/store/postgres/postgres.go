package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/vpsman/internal/store/sqldb"
)

// New connects to PostgreSQL through the pgx stdlib driver and creates
// the schema when missing.
func New(dsn string) (*sqldb.DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := sqldb.Open(ctx, d, sqldb.Postgres)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	return db, nil
}
