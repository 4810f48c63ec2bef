package engine

import (
	"sync"
	"time"

	"github.com/siegeon/dynfilter/annotations"
	"github.com/siegeon/dynfilter/plan"
)

// Session is one caller's scope over the engine: per-session parameter
// values and enable flags, cleared when the session ends. A session is
// single-threaded from the caller's perspective.
//
// The lifecycle contract is explicit: the host integration calls Close
// when the session ends; the parameter store registers its eviction
// callback through OnClose on first scoped use.
type Session struct {
	engine *Engine
	name   string

	mu        sync.Mutex
	callbacks []func()
	closed    bool
}

// NewSession creates a session against the engine.
func (e *Engine) NewSession(name string) *Session {
	return &Session{engine: e, name: name}
}

// Name returns the session's display name.
func (s *Session) Name() string {
	return s.name
}

// OnClose registers a callback to run once when the session ends. A
// callback registered after Close runs immediately.
func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.callbacks = append(s.callbacks, fn)
	s.mu.Unlock()
}

// Close ends the session, firing registered callbacks (which evict this
// session's scoped parameters). Closing twice is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	callbacks := s.callbacks
	s.callbacks = nil
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}

	if s.engine.collector.Enabled() {
		s.engine.collector.Add(annotations.Event{
			Name:  annotations.SessionCleared,
			Start: time.Now(),
			Data:  map[string]interface{}{"session": s.name},
		})
	}
}

// EnableFilter re-enables a filter previously disabled for this session.
func (s *Session) EnableFilter(filterName string) error {
	return s.engine.store.Enable(s, filterName)
}

// DisableFilter turns a filter off for this session only.
func (s *Session) DisableFilter(filterName string) error {
	return s.engine.store.Disable(s, filterName)
}

// SetParameter sets a session-scoped parameter value. Pass an empty
// paramName to infer it when the filter has exactly one parameter. The
// value may be a dynfilter.Deferred.
func (s *Session) SetParameter(filterName, paramName string, value interface{}) error {
	return s.engine.store.SetScoped(s, filterName, paramName, value)
}

// ParameterValue resolves a parameter for this session: scoped value if
// present and enabled, global value otherwise. The second return is
// false when the parameter resolves to absent.
func (s *Session) ParameterValue(filterName, paramName string) (interface{}, bool) {
	return s.engine.store.Resolve(s, filterName, paramName)
}

// ClearParameters drops every scoped value and enable flag of this
// session without ending it.
func (s *Session) ClearParameters() {
	s.engine.store.ClearSession(s)
}

// Query rewrites and executes a plan under this session.
func (s *Session) Query(root plan.Node) (*Relation, error) {
	return s.engine.Query(root, s)
}
