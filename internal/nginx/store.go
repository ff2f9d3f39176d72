// Package nginx manages reverse-proxy site files: one file per domain in
// the available directory, linked into the enabled directory, applied by
// validating and reloading nginx.
package nginx

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/loykin/vpsman/internal/apperr"
	"github.com/loykin/vpsman/internal/command"
	"github.com/loykin/vpsman/internal/fsutil"
	"github.com/loykin/vpsman/internal/metrics"
)

// Site is a proxy configuration found in the enabled directory.
type Site struct {
	Domain     string `json:"domain"`
	TargetPort int    `json:"targetPort"`
	File       string `json:"file"`
}

type Store struct {
	cfg       Config
	runner    command.Runner
	proxyPass *regexp.Regexp // also accepts cfg.UpstreamHost
}

func New(cfg Config, r command.Runner) *Store {
	if r == nil {
		r = command.Exec{}
	}
	cfg = cfg.withDefaults()
	return &Store{cfg: cfg, runner: r, proxyPass: proxyPassPattern(cfg.UpstreamHost)}
}

func (s *Store) Config() Config { return s.cfg }

func (s *Store) paths(domain string) (file, link string) {
	name := domain + s.cfg.Suffix
	return filepath.Join(s.cfg.AvailableDir, name), filepath.Join(s.cfg.EnabledDir, name)
}

// Create renders and writes the site file, links it into the enabled
// directory, then validates and reloads nginx (Absent -> Written ->
// Enabled -> Live). Any failure is a *TransitionError.
func (s *Store) Create(ctx context.Context, domain string, port int) error {
	content, err := s.Render(domain, port)
	if err != nil {
		return err
	}
	file, link := s.paths(domain)
	u := undo{file: file, link: link}
	reached := StateAbsent

	fail := func(step Step, cause error) error {
		metrics.IncProxyTransition("create", string(step), false)
		te := &TransitionError{Op: "create", Domain: domain, Step: step, Reached: reached, Err: cause}
		if s.cfg.Rollback {
			te.RolledBack = s.compensate(domain, reached, u)
		}
		slog.Error("reverse proxy create failed", "domain", domain, "step", step, "state", reached, "rolled_back", te.RolledBack, "error", cause)
		return te
	}

	existed, err := fsutil.Exists(file)
	if err == nil && existed {
		// #nosec G304 -- path built from a validated domain
		u.prevContent, err = os.ReadFile(file)
	}
	if err == nil {
		err = os.MkdirAll(s.cfg.AvailableDir, 0o755)
	}
	if err != nil {
		return fail(StepWrite, apperr.IO("nginx.write", domain, err))
	}
	if err := fsutil.WriteFileAtomic(file, []byte(content), 0o644); err != nil {
		return fail(StepWrite, apperr.IO("nginx.write", domain, err))
	}
	u.createdFile = !existed
	reached = StateWritten

	u.prevTarget, _ = os.Readlink(link)
	created, err := s.link(file, link)
	if err != nil {
		return fail(StepEnable, apperr.IO("nginx.enable", domain, err))
	}
	u.createdLink = created
	reached = StateEnabled

	if step, err := s.apply(ctx, domain); err != nil {
		return fail(step, err)
	}
	metrics.IncProxyTransition("create", string(StepReload), true)
	slog.Info("reverse proxy created", "domain", domain, "port", port, "file", file)
	return nil
}

// Remove unlinks and deletes the site file, then validates and reloads.
// NotFound (and no reload) when neither link nor file exists.
func (s *Store) Remove(ctx context.Context, domain string) error {
	if err := ValidateDomain(domain); err != nil {
		return err
	}
	file, link := s.paths(domain)
	hasLink, err := fsutil.LinkExists(link)
	if err != nil {
		return apperr.IO("nginx.remove", domain, err)
	}
	hasFile, err := fsutil.Exists(file)
	if err != nil {
		return apperr.IO("nginx.remove", domain, err)
	}
	if !hasLink && !hasFile {
		return apperr.NotFoundf("nginx.remove", domain, "no proxy configuration for %s", domain)
	}

	fail := func(step Step, reached State, cause error) error {
		metrics.IncProxyTransition("remove", string(step), false)
		slog.Error("reverse proxy remove failed", "domain", domain, "step", step, "state", reached, "error", cause)
		return &TransitionError{Op: "remove", Domain: domain, Step: step, Reached: reached, Err: cause}
	}

	if hasLink {
		if err := os.Remove(link); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fail(StepUnlink, StateEnabled, apperr.IO("nginx.unlink", domain, err))
		}
	}
	if hasFile {
		if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fail(StepDelete, StateWritten, apperr.IO("nginx.delete", domain, err))
		}
	}
	if step, err := s.apply(ctx, domain); err != nil {
		return fail(step, StateAbsent, err)
	}
	metrics.IncProxyTransition("remove", string(StepReload), true)
	slog.Info("reverse proxy removed", "domain", domain)
	return nil
}

// Exists reports the on-disk state of domain's artifact.
func (s *Store) Exists(domain string) (State, error) {
	if err := ValidateDomain(domain); err != nil {
		return StateAbsent, err
	}
	file, link := s.paths(domain)
	hasLink, err := fsutil.LinkExists(link)
	if err != nil {
		return StateAbsent, apperr.IO("nginx.exists", domain, err)
	}
	if hasLink {
		return StateEnabled, nil
	}
	hasFile, err := fsutil.Exists(file)
	if err != nil {
		return StateAbsent, apperr.IO("nginx.exists", domain, err)
	}
	if hasFile {
		return StateWritten, nil
	}
	return StateAbsent, nil
}

// ListSites returns the file names in the enabled directory that carry the
// configured suffix.
func (s *Store) ListSites(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.cfg.EnabledDir)
	if err != nil {
		return nil, apperr.IO("nginx.list", "", err)
	}
	sites := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), s.cfg.Suffix) {
			continue
		}
		sites = append(sites, e.Name())
	}
	return sites, nil
}

// DetectExisting parses every enabled site file. Files without both a
// server_name and a proxy_pass to localhost or the configured upstream
// host are skipped.
func (s *Store) DetectExisting(ctx context.Context) ([]Site, error) {
	names, err := s.ListSites(ctx)
	if err != nil {
		return nil, err
	}
	sites := make([]Site, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(s.cfg.EnabledDir, name)
		b, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("skipping unreadable site", "file", path, "error", err)
			continue
		}
		domain, port, ok := parseSite(string(b), s.proxyPass)
		if !ok {
			slog.Debug("site has no local proxy_pass", "file", path)
			continue
		}
		sites = append(sites, Site{Domain: domain, TargetPort: port, File: name})
	}
	return sites, nil
}

// link makes link point at file. It reports whether a new link was made.
func (s *Store) link(file, link string) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return false, err
	}
	if cur, err := os.Readlink(link); err == nil {
		if cur == file {
			return false, nil
		}
		if err := os.Remove(link); err != nil {
			return false, err
		}
	} else if ok, _ := fsutil.LinkExists(link); ok {
		// a regular file is in the way
		if err := os.Remove(link); err != nil {
			return false, err
		}
	}
	if err := os.Symlink(file, link); err != nil {
		return false, err
	}
	return true, nil
}

// apply runs the validate then the reload command. Empty commands are skipped.
func (s *Store) apply(ctx context.Context, domain string) (Step, error) {
	if c := s.cfg.ValidateCommand; c != "" {
		if out, err := s.runner.Run(ctx, c); err != nil {
			return StepValidate, apperr.Command("nginx.validate", domain, err, out)
		}
	}
	if c := s.cfg.ReloadCommand; c != "" {
		if out, err := s.runner.Run(ctx, c); err != nil {
			return StepReload, apperr.Command("nginx.reload", domain, err, out)
		}
	}
	return "", nil
}

// undo records what a Create call changed so a failure can put it back.
type undo struct {
	file, link  string
	createdFile bool
	createdLink bool
	prevContent []byte // site file content before an overwrite
	prevTarget  string // symlink target replaced by link
}

// compensate undoes what this Create call did, newest step first. An
// overwritten site file gets its previous content back.
func (s *Store) compensate(domain string, reached State, u undo) bool {
	ok := true
	if reached >= StateEnabled && u.createdLink {
		if err := os.Remove(u.link); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("rollback: remove link failed", "domain", domain, "error", err)
			ok = false
		} else if u.prevTarget != "" {
			if err := os.Symlink(u.prevTarget, u.link); err != nil {
				slog.Warn("rollback: restore link failed", "domain", domain, "error", err)
				ok = false
			}
		}
	}
	if reached >= StateWritten {
		switch {
		case u.createdFile:
			if err := os.Remove(u.file); err != nil && !errors.Is(err, os.ErrNotExist) {
				slog.Warn("rollback: remove file failed", "domain", domain, "error", err)
				ok = false
			}
		case u.prevContent != nil:
			if err := fsutil.WriteFileAtomic(u.file, u.prevContent, 0o644); err != nil {
				slog.Warn("rollback: restore file failed", "domain", domain, "error", err)
				ok = false
			}
		}
	}
	return ok
}
