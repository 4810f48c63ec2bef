// Package params implements the layered filter-parameter store: one
// process-wide global scope and one scope per session. Session values and
// enable flags override global values; a session's scope is evicted in
// bulk when the session ends.
package params

import (
	"fmt"
	"sync"

	"github.com/siegeon/dynfilter"
)

// SessionHandle identifies one session to the store and exposes its
// teardown notification. The store registers a one-shot cleanup callback
// the first time a session acquires scoped state; the host session must
// invoke registered callbacks exactly when it ends. Handles must be
// comparable (pointer identity is the expected implementation).
type SessionHandle interface {
	// OnClose registers a callback to run when the session ends.
	OnClose(func())
}

// set holds the enable flag and parameter values for one filter in one
// scope. Values are either concrete or dynfilter.Deferred.
type set struct {
	enabled bool
	values  map[string]interface{}
}

func newSet() *set {
	return &set{enabled: true, values: make(map[string]interface{})}
}

// sessionScope holds all scoped sets for one session. A session is
// single-threaded from the caller's perspective; the mutex only
// serializes same-session calls against the cleanup callback.
type sessionScope struct {
	mu   sync.Mutex
	sets map[string]*set
}

// Store is the two-level parameter store. The global map is guarded by a
// read-write mutex; the session map is a sync.Map so unrelated sessions
// never contend on one lock.
type Store struct {
	mu     sync.RWMutex
	global map[string]*set

	sessions sync.Map // SessionHandle -> *sessionScope
}

func NewStore() *Store {
	return &Store{global: make(map[string]*set)}
}

// SetGlobal upserts a global parameter value for filterName, creating the
// global set on first use. An empty paramName is inferred when the filter
// has exactly one registered parameter; with no parameters registered yet
// the name is required.
func (s *Store) SetGlobal(filterName, paramName string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.global[filterName]
	if paramName == "" {
		name, err := inferParam(filterName, g)
		if err != nil {
			return err
		}
		paramName = name
	}

	if g == nil {
		g = newSet()
		s.global[filterName] = g
	}
	g.values[paramName] = value
	return nil
}

// SetScoped upserts a session-scoped value. The filter must already have
// a global set, and the parameter must be one of its global keys: global
// registration is the source of truth for which parameters exist.
func (s *Store) SetScoped(sess SessionHandle, filterName, paramName string, value interface{}) error {
	paramName, err := s.checkScoped(filterName, paramName, true)
	if err != nil {
		return err
	}

	scope := s.scopeFor(sess)
	scope.mu.Lock()
	defer scope.mu.Unlock()

	sc := scope.sets[filterName]
	if sc == nil {
		sc = newSet()
		scope.sets[filterName] = sc
	}
	sc.values[paramName] = value
	return nil
}

// Enable turns filterName back on for sess, creating the scoped set if
// needed.
func (s *Store) Enable(sess SessionHandle, filterName string) error {
	return s.setEnabled(sess, filterName, true)
}

// Disable turns filterName off for sess. A disabled filter resolves every
// parameter to absent for that session, regardless of global state, and
// the rewriter omits its condition.
func (s *Store) Disable(sess SessionHandle, filterName string) error {
	return s.setEnabled(sess, filterName, false)
}

func (s *Store) setEnabled(sess SessionHandle, filterName string, enabled bool) error {
	if _, err := s.checkScoped(filterName, "", false); err != nil {
		return err
	}

	scope := s.scopeFor(sess)
	scope.mu.Lock()
	defer scope.mu.Unlock()

	sc := scope.sets[filterName]
	if sc == nil {
		sc = newSet()
		scope.sets[filterName] = sc
	}
	sc.enabled = enabled
	return nil
}

// checkScoped validates a scoped operation against the global scope and
// resolves an omitted parameter name. checkParam is false for enable /
// disable, which only require the global set to exist.
func (s *Store) checkScoped(filterName, paramName string, checkParam bool) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g := s.global[filterName]
	if g == nil {
		return "", fmt.Errorf("%w: %q has no global registration", ErrUnknownFilter, filterName)
	}
	if !checkParam {
		return "", nil
	}

	if paramName == "" {
		return inferParam(filterName, g)
	}
	if _, ok := g.values[paramName]; !ok {
		return "", fmt.Errorf("%w: filter %q has no parameter %q", ErrUnknownParameter, filterName, paramName)
	}
	return paramName, nil
}

// Enabled reports whether filterName is enabled for sess. Only an
// explicit per-session disable turns a filter off; absence of scoped
// state means enabled.
func (s *Store) Enabled(sess SessionHandle, filterName string) bool {
	scope := s.lookupScope(sess)
	if scope == nil {
		return true
	}

	scope.mu.Lock()
	defer scope.mu.Unlock()
	sc := scope.sets[filterName]
	return sc == nil || sc.enabled
}

// Resolve returns the current value of one filter parameter for sess
// (which may be nil for global-only resolution). Precedence: a disabled
// scoped set resolves to absent; an enabled scoped value wins; otherwise
// the global value; otherwise absent. Deferred values are invoked on
// every call, never cached.
func (s *Store) Resolve(sess SessionHandle, filterName, paramName string) (interface{}, bool) {
	if scope := s.lookupScope(sess); scope != nil {
		scope.mu.Lock()
		sc := scope.sets[filterName]
		if sc != nil && !sc.enabled {
			scope.mu.Unlock()
			return nil, false
		}
		if sc != nil {
			if v, ok := sc.values[paramName]; ok {
				scope.mu.Unlock()
				return materialize(v), true
			}
		}
		scope.mu.Unlock()
	}

	s.mu.RLock()
	g := s.global[filterName]
	var v interface{}
	var ok bool
	if g != nil {
		v, ok = g.values[paramName]
	}
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}
	return materialize(v), true
}

// GlobalParameters returns the registered parameter names for filterName,
// or nil when the filter has no global set.
func (s *Store) GlobalParameters(filterName string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g := s.global[filterName]
	if g == nil {
		return nil
	}
	names := make([]string, 0, len(g.values))
	for name := range g.values {
		names = append(names, name)
	}
	return names
}

// ClearSession removes every scoped set for sess. Clearing an unknown or
// already-cleared session is a no-op.
func (s *Store) ClearSession(sess SessionHandle) {
	if sess == nil {
		return
	}
	s.sessions.Delete(sess)
}

// scopeFor returns the session's scope, creating it on first use and
// registering the one-shot teardown cleanup with the session.
func (s *Store) scopeFor(sess SessionHandle) *sessionScope {
	if existing, ok := s.sessions.Load(sess); ok {
		return existing.(*sessionScope)
	}

	scope := &sessionScope{sets: make(map[string]*set)}
	actual, loaded := s.sessions.LoadOrStore(sess, scope)
	if !loaded {
		sess.OnClose(func() { s.ClearSession(sess) })
	}
	return actual.(*sessionScope)
}

func (s *Store) lookupScope(sess SessionHandle) *sessionScope {
	if sess == nil {
		return nil
	}
	if v, ok := s.sessions.Load(sess); ok {
		return v.(*sessionScope)
	}
	return nil
}

// inferParam implements the omitted-parameter rule: exactly one
// registered parameter, or the call is ambiguous.
func inferParam(filterName string, g *set) (string, error) {
	if g == nil || len(g.values) != 1 {
		n := 0
		if g != nil {
			n = len(g.values)
		}
		return "", fmt.Errorf("%w: filter %q has %d registered parameters, name one explicitly",
			ErrAmbiguousParameter, filterName, n)
	}
	for name := range g.values {
		return name, nil
	}
	panic("unreachable")
}

// materialize evaluates the value sum type: a Deferred is invoked,
// anything else passes through.
func materialize(v interface{}) interface{} {
	if d, ok := v.(dynfilter.Deferred); ok {
		return d()
	}
	return v
}
