// Package session keeps the variable scope that persists across
// evaluations and the recent execution contexts used for failure
// reporting.
package session

import (
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/tinylru"
	"go.starlark.net/starlark"

	"github.com/robbyt/go-aeval/internal/helpers"
)

// Session is the persisted scope of one evaluator together with a bounded
// cache of its execution contexts.
//
// Every method is safe for concurrent use, but an evaluation spans several
// calls: two concurrent non-isolated evaluations race on the scope and the
// last commit wins.
type Session struct {
	mu         sync.Mutex
	executions tinylru.LRU
	latest     *ExecutionContext
	count      int

	globals starlark.StringDict
	locals  starlark.StringDict

	cacheSize  int
	logHandler slog.Handler
	logger     *slog.Logger
}

// New creates an empty Session.
func New(opts ...Option) (*Session, error) {
	s := &Session{}
	s.applyDefaults()

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("error applying session option: %w", err)
		}
	}

	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid session configuration: %w", err)
	}

	if s.logger != nil {
		s.logHandler = s.logger.Handler()
		s.logger = s.logger.WithGroup("session")
	} else {
		s.logHandler, s.logger = helpers.SetupLogger(s.logHandler, "aeval", "session")
	}

	s.globals = make(starlark.StringDict)
	s.locals = make(starlark.StringDict)
	s.executions.Resize(s.cacheSize)
	return s, nil
}

func (s *Session) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("session.Session{Executions: %d, Variables: %d}",
		s.executions.Len(), len(s.globals)+len(s.locals))
}

// Begin creates the execution context for code and caches it. It becomes
// the latest context.
func (s *Session) Begin(code string, isolated bool) *ExecutionContext {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	ec := newExecutionContext(s.count, code)
	ec.Isolated = isolated

	_, _, evictedKey, _, evicted := s.executions.SetEvicted(ec.ID, ec)
	if evicted {
		s.logger.Debug("Execution context evicted", "id", evictedKey)
	}
	s.latest = ec
	return ec
}

// Lookup returns the cached execution context with the given id. The
// latest context is always found, even with a cache too small to hold it.
func (s *Session) Lookup(id uuid.UUID) (*ExecutionContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(id)
}

func (s *Session) lookup(id uuid.UUID) (*ExecutionContext, bool) {
	if s.latest != nil && s.latest.ID == id {
		return s.latest, true
	}
	v, ok := s.executions.Peek(id)
	if !ok {
		return nil, false
	}
	return v.(*ExecutionContext), true
}

// LookupFile returns the execution context whose synthetic file name is
// filename.
func (s *Session) LookupFile(filename string) (*ExecutionContext, bool) {
	no, id, ok := ParseFilename(filename)
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ec, ok := s.lookup(id)
	if !ok || ec.No != no {
		return nil, false
	}
	return ec, true
}

// Source returns the code of the execution that filename belongs to.
func (s *Session) Source(filename string) (string, bool) {
	ec, ok := s.LookupFile(filename)
	if !ok {
		return "", false
	}
	return ec.Code, true
}

// LatestFile returns the synthetic file name of the latest execution, or
// "" before the first one.
func (s *Session) LatestFile() string {
	if ec := s.Latest(); ec != nil {
		return ec.Filename
	}
	return ""
}

// Latest returns the most recently begun execution context.
func (s *Session) Latest() *ExecutionContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Len returns the number of cached execution contexts.
func (s *Session) Len() int {
	return s.executions.Len()
}

// Scope returns the scope a non-isolated evaluation starts with: copies of
// the persisted globals and locals with the overrides merged on top. host
// refreshes the persisted globals but stays beneath persisted locals. A
// global override hides the persisted local of the same name for this
// evaluation; a local override wins over everything.
func (s *Session) Scope(host, globals, locals starlark.StringDict) (starlark.StringDict, starlark.StringDict) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := maps.Clone(s.globals)
	if g == nil {
		g = make(starlark.StringDict)
	}
	maps.Copy(g, host)
	maps.Copy(g, globals)

	l := maps.Clone(s.locals)
	if l == nil {
		l = make(starlark.StringDict)
	}
	for name := range globals {
		delete(l, name)
	}
	maps.Copy(l, locals)
	return g, l
}

// Commit merges the scope ec ended with into the persisted scope. Failed
// and isolated executions leave the session untouched; Commit reports
// whether it merged.
func (s *Session) Commit(ec *ExecutionContext) bool {
	if ec == nil || ec.Isolated || ec.Err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	maps.Copy(s.globals, ec.Globals)
	maps.Copy(s.locals, ec.Locals)
	s.logger.Debug("Scope committed", "execution", ec.No,
		"globals", len(s.globals), "locals", len(s.locals))
	return true
}

// Variables returns a copy of the persisted scope; locals shadow globals.
func (s *Session) Variables() starlark.StringDict {
	s.mu.Lock()
	defer s.mu.Unlock()

	vars := maps.Clone(s.globals)
	maps.Copy(vars, s.locals)
	return vars
}

// Globals returns a copy of the persisted globals.
func (s *Session) Globals() starlark.StringDict {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.globals)
}

// Locals returns a copy of the persisted locals.
func (s *Session) Locals() starlark.StringDict {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.locals)
}

// Reset forgets the persisted scope and every cached execution context.
// Execution numbers keep counting.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.globals = make(starlark.StringDict)
	s.locals = make(starlark.StringDict)
	s.executions = tinylru.LRU{}
	s.executions.Resize(s.cacheSize)
	s.latest = nil
}
