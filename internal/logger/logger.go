package logger

import (
	"fmt"
	"os"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for application output files.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

const megabyte = 1024 * 1024

// Config describes where a managed application's stdout and stderr go.
// With only Dir set the files are Dir/<name>.stdout.log and
// Dir/<name>.stderr.log. Rotation parameters follow lumberjack semantics.
type Config struct {
	Dir        string `json:"dir,omitempty" mapstructure:"dir"`
	StdoutPath string `json:"stdout,omitempty" mapstructure:"stdout"` // overrides Dir
	StderrPath string `json:"stderr,omitempty" mapstructure:"stderr"` // overrides Dir
	MaxSizeMB  int    `json:"max_size_mb,omitempty" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups,omitempty" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days,omitempty" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress,omitempty" mapstructure:"compress"`
}

// Paths resolves the stdout and stderr destinations for the named
// application. A stream with no destination is returned as "".
func (c Config) Paths(name string) (string, string, error) {
	if name == "" && c.Dir != "" {
		return "", "", fmt.Errorf("log files: empty application name")
	}
	stdout := c.StdoutPath
	stderr := c.StderrPath
	if stdout == "" && c.Dir != "" {
		stdout = filepath.Join(c.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if stderr == "" && c.Dir != "" {
		stderr = filepath.Join(c.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	return stdout, stderr, nil
}

// Files opens the stdout and stderr destinations of the named application
// in append mode. The descriptors are meant to be inherited by the child,
// so its output does not depend on the process that started it. A file
// already past MaxSizeMB is rotated first. A stream with no destination is
// returned as nil.
func (c Config) Files(name string) (*os.File, *os.File, error) {
	stdout, stderr, err := c.Paths(name)
	if err != nil {
		return nil, nil, err
	}
	var outF, errF *os.File
	if stdout != "" {
		if outF, err = c.open(stdout); err != nil {
			return nil, nil, err
		}
	}
	if stderr != "" {
		if errF, err = c.open(stderr); err != nil {
			if outF != nil {
				_ = outF.Close()
			}
			return nil, nil, err
		}
	}
	return outF, errF, nil
}

func (c Config) open(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	if err := c.rotateIfLarge(path); err != nil {
		return nil, err
	}
	// #nosec G304 -- path comes from operator configuration
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
}

// rotateIfLarge moves path aside through lumberjack when it has grown past
// the size limit, which also prunes old backups.
func (c Config) rotateIfLarge(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if fi.Size() < int64(valOr(c.MaxSizeMB, DefaultMaxSizeMB))*megabyte {
		return nil
	}
	l := c.rotating(path)
	if err := l.Rotate(); err != nil {
		return fmt.Errorf("rotate %s: %w", path, err)
	}
	return l.Close()
}

func (c Config) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
