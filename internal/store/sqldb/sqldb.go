// Package sqldb implements store.Repository over database/sql for the
// sqlite and postgres dialects. Insertion order is kept by an
// autoincrement seq column that upserts never touch.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/vpsman/internal/apperr"
	"github.com/loykin/vpsman/internal/store"
)

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

type DB struct {
	db      *sql.DB
	dialect Dialect
}

// Open wraps an already opened handle and creates the schema.
func Open(ctx context.Context, db *sql.DB, dialect Dialect) (*DB, error) {
	d := &DB{db: db, dialect: dialect}
	if err := d.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return d, nil
}

func (d *DB) Close() error { return d.db.Close() }

// RawDB exposes the underlying handle for maintenance and tests.
func (d *DB) RawDB() *sql.DB { return d.db }

func (d *DB) ensureSchema(ctx context.Context) error {
	seq := "INTEGER PRIMARY KEY AUTOINCREMENT"
	ts := "TIMESTAMP"
	if d.dialect == Postgres {
		seq = "BIGSERIAL PRIMARY KEY"
		ts = "TIMESTAMPTZ"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS applications(
			seq ` + seq + `,
			name TEXT NOT NULL UNIQUE,
			path TEXT NOT NULL,
			command TEXT NOT NULL,
			port INTEGER NOT NULL,
			is_running BOOLEAN NOT NULL,
			environment TEXT NULL,
			pid INTEGER NOT NULL,
			imported BOOLEAN NOT NULL,
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS domains(
			seq ` + seq + `,
			domain TEXT NOT NULL UNIQUE,
			target_port INTEGER NOT NULL,
			ssl_certificate TEXT NULL,
			is_active BOOLEAN NOT NULL,
			application TEXT NULL,
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_domains_application ON domains(application);`,
	}
	for _, q := range stmts {
		if _, err := d.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// rebind turns ? placeholders into $n for postgres.
func (d *DB) rebind(q string) string {
	if d.dialect != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const appColumns = `name, path, command, port, is_running, environment, pid, imported, created_at, updated_at`

func (d *DB) ListApplications(ctx context.Context) ([]store.Application, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+appColumns+` FROM applications ORDER BY seq;`)
	if err != nil {
		return nil, apperr.IO("sqldb.list_applications", "", err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.Application, 0)
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, apperr.IO("sqldb.list_applications", "", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.IO("sqldb.list_applications", "", err)
	}
	return out, nil
}

func (d *DB) GetApplication(ctx context.Context, name string) (store.Application, error) {
	row := d.db.QueryRowContext(ctx, d.rebind(`SELECT `+appColumns+` FROM applications WHERE name=?;`), name)
	a, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Application{}, apperr.NotFoundf("store.get_application", name, "application %s not found", name)
	}
	if err != nil {
		return store.Application{}, apperr.IO("sqldb.get_application", name, err)
	}
	return a, nil
}

func (d *DB) SaveApplication(ctx context.Context, app store.Application) error {
	if err := store.ValidateApplicationName(app.Name); err != nil {
		return err
	}
	now := time.Now().UTC()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	app.UpdatedAt = now
	var env any
	if len(app.Environment) > 0 {
		b, err := json.Marshal(app.Environment)
		if err != nil {
			return apperr.Invalid("sqldb.save_application", app.Name, "environment: %v", err)
		}
		env = string(b)
	}
	// created_at is left alone on conflict
	_, err := d.db.ExecContext(ctx, d.rebind(`
		INSERT INTO applications(`+appColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			path=excluded.path,
			command=excluded.command,
			port=excluded.port,
			is_running=excluded.is_running,
			environment=excluded.environment,
			pid=excluded.pid,
			imported=excluded.imported,
			updated_at=excluded.updated_at;`),
		app.Name, app.Path, app.Command, app.Port, app.IsRunning, env, app.PID, app.Imported, app.CreatedAt.UTC(), app.UpdatedAt)
	if err != nil {
		return apperr.IO("sqldb.save_application", app.Name, err)
	}
	return nil
}

func (d *DB) DeleteApplication(ctx context.Context, name string) error {
	res, err := d.db.ExecContext(ctx, d.rebind(`DELETE FROM applications WHERE name=?;`), name)
	if err != nil {
		return apperr.IO("sqldb.delete_application", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("store.delete_application", name, "application %s not found", name)
	}
	return nil
}

const domainColumns = `domain, target_port, ssl_certificate, is_active, application, created_at, updated_at`

func (d *DB) ListDomains(ctx context.Context) ([]store.Domain, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+domainColumns+` FROM domains ORDER BY seq;`)
	if err != nil {
		return nil, apperr.IO("sqldb.list_domains", "", err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.Domain, 0)
	for rows.Next() {
		dom, err := scanDomain(rows)
		if err != nil {
			return nil, apperr.IO("sqldb.list_domains", "", err)
		}
		out = append(out, dom)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.IO("sqldb.list_domains", "", err)
	}
	return out, nil
}

func (d *DB) GetDomain(ctx context.Context, domain string) (store.Domain, error) {
	row := d.db.QueryRowContext(ctx, d.rebind(`SELECT `+domainColumns+` FROM domains WHERE domain=?;`), domain)
	dom, err := scanDomain(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Domain{}, apperr.NotFoundf("store.get_domain", domain, "domain %s not found", domain)
	}
	if err != nil {
		return store.Domain{}, apperr.IO("sqldb.get_domain", domain, err)
	}
	return dom, nil
}

func (d *DB) SaveDomain(ctx context.Context, dom store.Domain) error {
	if dom.Domain == "" {
		return apperr.Invalid("store.save_domain", "", "domain is required")
	}
	now := time.Now().UTC()
	if dom.CreatedAt.IsZero() {
		dom.CreatedAt = now
	}
	dom.UpdatedAt = now
	_, err := d.db.ExecContext(ctx, d.rebind(`
		INSERT INTO domains(`+domainColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			target_port=excluded.target_port,
			ssl_certificate=excluded.ssl_certificate,
			is_active=excluded.is_active,
			application=excluded.application,
			updated_at=excluded.updated_at;`),
		dom.Domain, dom.TargetPort, nullString(dom.SSLCertificate), dom.IsActive, nullString(dom.Application), dom.CreatedAt.UTC(), dom.UpdatedAt)
	if err != nil {
		return apperr.IO("sqldb.save_domain", dom.Domain, err)
	}
	return nil
}

func (d *DB) DeleteDomain(ctx context.Context, domain string) error {
	res, err := d.db.ExecContext(ctx, d.rebind(`DELETE FROM domains WHERE domain=?;`), domain)
	if err != nil {
		return apperr.IO("sqldb.delete_domain", domain, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("store.delete_domain", domain, "domain %s not found", domain)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanApplication(s scanner) (store.Application, error) {
	var (
		a   store.Application
		env sql.NullString
	)
	if err := s.Scan(&a.Name, &a.Path, &a.Command, &a.Port, &a.IsRunning, &env, &a.PID, &a.Imported, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return store.Application{}, err
	}
	if env.Valid && env.String != "" {
		if err := json.Unmarshal([]byte(env.String), &a.Environment); err != nil {
			return store.Application{}, fmt.Errorf("decode environment of %s: %w", a.Name, err)
		}
	}
	return a, nil
}

func scanDomain(s scanner) (store.Domain, error) {
	var (
		d        store.Domain
		ssl, app sql.NullString
	)
	if err := s.Scan(&d.Domain, &d.TargetPort, &ssl, &d.IsActive, &app, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return store.Domain{}, err
	}
	d.SSLCertificate = ssl.String
	d.Application = app.String
	return d, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
