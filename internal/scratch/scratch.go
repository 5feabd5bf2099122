// Package scratch tracks the local files one invocation creates so they can
// be removed on every exit path with a single deferred Release.
package scratch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var ErrReleased = errors.New("scratch scope already released")

// Scope owns a private temp directory. Every file handed out by Path lives
// inside it.
type Scope struct {
	mu       sync.Mutex
	dir      string
	files    []string
	released bool
}

// New creates a scope below parent. An empty parent means os.TempDir().
func New(parent string) (*Scope, error) {
	dir, err := os.MkdirTemp(parent, "transform-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Scope{dir: dir}, nil
}

func (s *Scope) Dir() string { return s.dir }

// Path reserves a file name inside the scope without creating it. Callers
// that write to the path get it removed by Release.
func (s *Scope) Path(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return "", ErrReleased
	}
	p := filepath.Join(s.dir, filepath.Base(name))
	s.files = append(s.files, p)
	return p, nil
}

// Files lists every path reserved so far.
func (s *Scope) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.files...)
}

// Release removes the scope directory and everything in it. It is safe to
// call more than once.
func (s *Scope) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove scratch dir %s: %w", s.dir, err)
	}
	return nil
}
