package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env composes child process environments from a base (the daemon's own
// environment by default) plus global overrides.
type Env struct {
	Var Var // global variables (K->V)
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	e.env = Parse(os.Environ())
}

// FromList replaces the base with the given K=V pairs.
func (e *Env) FromList(kvs []string) {
	e.env = Parse(kvs)
}

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Merge composes the final environment list applying order:
// base (OS env unless FromList was used), then global e.Var overrides,
// then each layer in order. ${VAR} references are expanded against the
// composed map (single pass, no recursion). The result is sorted by key.
func (e *Env) Merge(layers ...map[string]string) []string {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var, len(e.env)+len(e.Var))
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		if k != "" {
			m[k] = v
		}
	}
	for _, layer := range layers {
		for k, v := range layer {
			if k == "" || strings.ContainsRune(k, '=') {
				continue
			}
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

// Parse turns K=V pairs into a map, skipping malformed entries.
func Parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(k string) string {
		if v, ok := m[k]; ok {
			return v
		}
		return "${" + k + "}"
	})
}
