// Package jsonfile stores applications and domains as two JSON arrays
// (applications.json, domains.json) in a state directory.
package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/loykin/vpsman/internal/apperr"
	"github.com/loykin/vpsman/internal/fsutil"
	"github.com/loykin/vpsman/internal/store"
)

const (
	ApplicationsFile = "applications.json"
	DomainsFile      = "domains.json"
)

// Store rewrites the whole document on every save. Each list has its own
// mutex so a read-modify-write never interleaves with another.
type Store struct {
	dir    string
	appsMu sync.Mutex
	domsMu sync.Mutex
}

// New creates dir and both documents (as []) when missing.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, apperr.Invalid("jsonfile.open", "", "empty state directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.IO("jsonfile.open", dir, err)
	}
	for _, name := range []string{ApplicationsFile, DomainsFile} {
		p := filepath.Join(dir, name)
		ok, err := fsutil.Exists(p)
		if err != nil {
			return nil, apperr.IO("jsonfile.open", p, err)
		}
		if !ok {
			if err := fsutil.WriteFileAtomic(p, []byte("[]"), 0o644); err != nil {
				return nil, apperr.IO("jsonfile.open", p, err)
			}
		}
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) Close() error { return nil }

func (s *Store) ListApplications(_ context.Context) ([]store.Application, error) {
	s.appsMu.Lock()
	defer s.appsMu.Unlock()
	return load[store.Application](s.path(ApplicationsFile))
}

func (s *Store) GetApplication(_ context.Context, name string) (store.Application, error) {
	s.appsMu.Lock()
	defer s.appsMu.Unlock()
	apps, err := load[store.Application](s.path(ApplicationsFile))
	if err != nil {
		return store.Application{}, err
	}
	for _, a := range apps {
		if a.Name == name {
			return a, nil
		}
	}
	return store.Application{}, apperr.NotFoundf("store.get_application", name, "application %s not found", name)
}

func (s *Store) SaveApplication(_ context.Context, app store.Application) error {
	if err := store.ValidateApplicationName(app.Name); err != nil {
		return err
	}
	s.appsMu.Lock()
	defer s.appsMu.Unlock()
	p := s.path(ApplicationsFile)
	apps, err := load[store.Application](p)
	if err != nil {
		return err
	}
	i := indexOf(apps, func(a store.Application) bool { return a.Name == app.Name })
	var prev store.Application
	if i >= 0 {
		prev = apps[i]
	}
	store.Stamp(&app.CreatedAt, &app.UpdatedAt, prev.CreatedAt)
	return save(p, upsert(apps, i, app))
}

func (s *Store) DeleteApplication(_ context.Context, name string) error {
	s.appsMu.Lock()
	defer s.appsMu.Unlock()
	p := s.path(ApplicationsFile)
	apps, err := load[store.Application](p)
	if err != nil {
		return err
	}
	i := indexOf(apps, func(a store.Application) bool { return a.Name == name })
	if i < 0 {
		return apperr.NotFoundf("store.delete_application", name, "application %s not found", name)
	}
	return save(p, append(apps[:i], apps[i+1:]...))
}

func (s *Store) ListDomains(_ context.Context) ([]store.Domain, error) {
	s.domsMu.Lock()
	defer s.domsMu.Unlock()
	return load[store.Domain](s.path(DomainsFile))
}

func (s *Store) GetDomain(_ context.Context, domain string) (store.Domain, error) {
	s.domsMu.Lock()
	defer s.domsMu.Unlock()
	doms, err := load[store.Domain](s.path(DomainsFile))
	if err != nil {
		return store.Domain{}, err
	}
	for _, d := range doms {
		if d.Domain == domain {
			return d, nil
		}
	}
	return store.Domain{}, apperr.NotFoundf("store.get_domain", domain, "domain %s not found", domain)
}

func (s *Store) SaveDomain(_ context.Context, d store.Domain) error {
	if d.Domain == "" {
		return apperr.Invalid("store.save_domain", "", "domain is required")
	}
	s.domsMu.Lock()
	defer s.domsMu.Unlock()
	p := s.path(DomainsFile)
	doms, err := load[store.Domain](p)
	if err != nil {
		return err
	}
	i := indexOf(doms, func(x store.Domain) bool { return x.Domain == d.Domain })
	var prev store.Domain
	if i >= 0 {
		prev = doms[i]
	}
	store.Stamp(&d.CreatedAt, &d.UpdatedAt, prev.CreatedAt)
	return save(p, upsert(doms, i, d))
}

func (s *Store) DeleteDomain(_ context.Context, domain string) error {
	s.domsMu.Lock()
	defer s.domsMu.Unlock()
	p := s.path(DomainsFile)
	doms, err := load[store.Domain](p)
	if err != nil {
		return err
	}
	i := indexOf(doms, func(x store.Domain) bool { return x.Domain == domain })
	if i < 0 {
		return apperr.NotFoundf("store.delete_domain", domain, "domain %s not found", domain)
	}
	return save(p, append(doms[:i], doms[i+1:]...))
}

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// load reads a JSON array. A missing or blank document is an empty list.
func load[T any](path string) ([]T, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []T{}, nil
		}
		return nil, apperr.IO("jsonfile.load", path, err)
	}
	out := make([]T, 0)
	if len(bytes.TrimSpace(b)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, apperr.IO("jsonfile.load", path, fmt.Errorf("decode: %w", err))
	}
	return out, nil
}

func save[T any](path string, list []T) error {
	if list == nil {
		list = []T{}
	}
	b, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return apperr.IO("jsonfile.save", path, fmt.Errorf("encode: %w", err))
	}
	if err := fsutil.WriteFileAtomic(path, b, 0o644); err != nil {
		return apperr.IO("jsonfile.save", path, err)
	}
	return nil
}

func indexOf[T any](list []T, match func(T) bool) int {
	for i, v := range list {
		if match(v) {
			return i
		}
	}
	return -1
}

func upsert[T any](list []T, i int, v T) []T {
	if i >= 0 {
		list[i] = v
		return list
	}
	return append(list, v)
}
