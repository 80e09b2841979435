// Package retry implements the retry policy applied around one unit of
// pipeline work: error-kind matching, capped attempts, and jittered backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
)

// Matcher decides whether an error belongs to a named kind. Matchers are
// resolved once, at config load time; an unresolvable name fails the load,
// never a run.
type Matcher struct {
	Name  string
	Match func(error) bool
}

// ByName references a kind from the registry, resolved at load time.
func ByName(name string) MatcherSpec {
	return MatcherSpec{name: name}
}

// ByKind wraps a live matcher function, bypassing the registry.
func ByKind(name string, match func(error) bool) MatcherSpec {
	return MatcherSpec{name: name, match: match}
}

// MatcherSpec is the tagged union of the two ways a retryable kind can be
// referenced: by registry name or by a live matcher.
type MatcherSpec struct {
	name  string
	match func(error) bool
}

// Resolve turns the spec into a concrete Matcher, consulting reg for
// by-name specs.
func (s MatcherSpec) Resolve(reg *Registry) (Matcher, error) {
	if s.match != nil {
		return Matcher{Name: s.name, Match: s.match}, nil
	}
	return reg.Lookup(s.name)
}

// Registry maps kind names to matchers. The zero value is unusable; use
// NewRegistry, which installs the built-in kinds.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Matcher
}

// NewRegistry returns a registry pre-populated with the built-in kinds:
//
//	any        matches every error (the catch-all default)
//	transient  net.Error and errors marked retryable via Transient
//	timeout    context deadline and net timeout errors
//	not_exist  os.ErrNotExist chains
func NewRegistry() *Registry {
	r := &Registry{kinds: make(map[string]Matcher)}
	r.Register("any", func(error) bool { return true })
	r.Register("transient", func(err error) bool {
		var t *transientError
		if errors.As(err, &t) {
			return true
		}
		var ne net.Error
		return errors.As(err, &ne)
	})
	r.Register("timeout", func(err error) bool {
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		var ne net.Error
		return errors.As(err, &ne) && ne.Timeout()
	})
	r.Register("not_exist", func(err error) bool {
		return errors.Is(err, os.ErrNotExist)
	})
	return r
}

// Register adds or replaces a named kind.
func (r *Registry) Register(name string, match func(error) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[name] = Matcher{Name: name, Match: match}
}

// Lookup returns the matcher for name, or an error listing the known kinds.
func (r *Registry) Lookup(name string) (Matcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.kinds[name]
	if !ok {
		return Matcher{}, fmt.Errorf("unknown error kind %q (known: %s)", name, strings.Join(r.names(), ", "))
	}
	return m, nil
}

// Names returns the registered kind names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	out := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ResolveNames resolves a list of kind names against reg, failing fast on
// the first unknown name. An empty list resolves to the catch-all.
func ResolveNames(names []string, reg *Registry) ([]Matcher, error) {
	if len(names) == 0 {
		m, err := reg.Lookup("any")
		if err != nil {
			return nil, err
		}
		return []Matcher{m}, nil
	}
	out := make([]Matcher, 0, len(names))
	for _, name := range names {
		m, err := reg.Lookup(name)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// transientError marks an error as transient for the built-in kind.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so the built-in "transient" kind matches it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}
