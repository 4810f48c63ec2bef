package params

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/siegeon/dynfilter"
)

// fakeSession implements SessionHandle with an explicit Close that fires
// registered callbacks once, the contract the engine's Session follows.
type fakeSession struct {
	mu        sync.Mutex
	callbacks []func()
	closed    bool
}

func (s *fakeSession) OnClose(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

func (s *fakeSession) Close() {
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
}

func TestSetGlobalAndResolve(t *testing.T) {
	s := NewStore()

	require.NoError(t, s.SetGlobal("TenantFilter", "tenantID", int64(5)))

	v, ok := s.Resolve(nil, "TenantFilter", "tenantID")
	require.True(t, ok)
	require.Equal(t, int64(5), v)

	_, ok = s.Resolve(nil, "TenantFilter", "other")
	require.False(t, ok)
	_, ok = s.Resolve(nil, "Nothing", "tenantID")
	require.False(t, ok)
}

func TestSetGlobalInference(t *testing.T) {
	s := NewStore()

	// Nothing registered yet: inference has nothing to pick.
	err := s.SetGlobal("TenantFilter", "", int64(1))
	require.ErrorIs(t, err, ErrAmbiguousParameter)

	require.NoError(t, s.SetGlobal("TenantFilter", "tenantID", int64(1)))

	// Exactly one parameter: inferred.
	require.NoError(t, s.SetGlobal("TenantFilter", "", int64(2)))
	v, _ := s.Resolve(nil, "TenantFilter", "tenantID")
	require.Equal(t, int64(2), v)

	// Two parameters: ambiguous again.
	require.NoError(t, s.SetGlobal("TenantFilter", "region", "eu"))
	err = s.SetGlobal("TenantFilter", "", int64(3))
	require.ErrorIs(t, err, ErrAmbiguousParameter)
}

func TestSetScopedValidation(t *testing.T) {
	s := NewStore()
	sess := &fakeSession{}

	err := s.SetScoped(sess, "TenantFilter", "tenantID", int64(9))
	require.ErrorIs(t, err, ErrUnknownFilter)

	require.NoError(t, s.SetGlobal("TenantFilter", "tenantID", int64(1)))

	err = s.SetScoped(sess, "TenantFilter", "nope", int64(9))
	require.ErrorIs(t, err, ErrUnknownParameter)

	// Omitted name with one parameter is equivalent to naming it.
	require.NoError(t, s.SetScoped(sess, "TenantFilter", "", int64(9)))
	v, ok := s.Resolve(sess, "TenantFilter", "tenantID")
	require.True(t, ok)
	require.Equal(t, int64(9), v)

	require.NoError(t, s.SetGlobal("TenantFilter", "region", "eu"))
	err = s.SetScoped(sess, "TenantFilter", "", int64(9))
	require.ErrorIs(t, err, ErrAmbiguousParameter)
}

func TestScopePrecedenceAndClear(t *testing.T) {
	s := NewStore()
	sess := &fakeSession{}

	require.NoError(t, s.SetGlobal("TenantFilter", "tenantID", "A"))
	require.NoError(t, s.SetScoped(sess, "TenantFilter", "tenantID", "B"))

	v, ok := s.Resolve(sess, "TenantFilter", "tenantID")
	require.True(t, ok)
	require.Equal(t, "B", v)

	// Another session still sees the global value.
	other := &fakeSession{}
	v, ok = s.Resolve(other, "TenantFilter", "tenantID")
	require.True(t, ok)
	require.Equal(t, "A", v)

	s.ClearSession(sess)
	v, ok = s.Resolve(sess, "TenantFilter", "tenantID")
	require.True(t, ok)
	require.Equal(t, "A", v)

	// Idempotent.
	s.ClearSession(sess)
	s.ClearSession(nil)
}

func TestDisableResolvesAbsent(t *testing.T) {
	s := NewStore()
	sess := &fakeSession{}

	require.NoError(t, s.SetGlobal("SoftDelete", "isDeleted", false))
	require.True(t, s.Enabled(sess, "SoftDelete"))

	require.NoError(t, s.Disable(sess, "SoftDelete"))
	require.False(t, s.Enabled(sess, "SoftDelete"))

	// Disabled scoped set hides even the global value.
	_, ok := s.Resolve(sess, "SoftDelete", "isDeleted")
	require.False(t, ok)

	// Other sessions are unaffected.
	_, ok = s.Resolve(&fakeSession{}, "SoftDelete", "isDeleted")
	require.True(t, ok)

	require.NoError(t, s.Enable(sess, "SoftDelete"))
	v, ok := s.Resolve(sess, "SoftDelete", "isDeleted")
	require.True(t, ok)
	require.Equal(t, false, v)
}

func TestEnableRequiresGlobalRegistration(t *testing.T) {
	s := NewStore()
	sess := &fakeSession{}

	require.ErrorIs(t, s.Enable(sess, "Nope"), ErrUnknownFilter)
	require.ErrorIs(t, s.Disable(sess, "Nope"), ErrUnknownFilter)
}

func TestDeferredValuesReevaluate(t *testing.T) {
	s := NewStore()
	sess := &fakeSession{}

	calls := 0
	require.NoError(t, s.SetGlobal("Window", "from", dynfilter.Deferred(func() interface{} {
		calls++
		return calls
	})))

	v, ok := s.Resolve(nil, "Window", "from")
	require.True(t, ok)
	require.Equal(t, 1, v)

	v, _ = s.Resolve(nil, "Window", "from")
	require.Equal(t, 2, v, "deferred values are never memoized")

	// Scoped deferred wins over global and is also re-invoked.
	scoped := 0
	require.NoError(t, s.SetScoped(sess, "Window", "from", dynfilter.Deferred(func() interface{} {
		scoped += 10
		return scoped
	})))
	v, _ = s.Resolve(sess, "Window", "from")
	require.Equal(t, 10, v)
	v, _ = s.Resolve(sess, "Window", "from")
	require.Equal(t, 20, v)
}

func TestSessionTeardownEvictsScope(t *testing.T) {
	s := NewStore()
	sess := &fakeSession{}

	require.NoError(t, s.SetGlobal("TenantFilter", "tenantID", "global"))
	require.NoError(t, s.SetScoped(sess, "TenantFilter", "tenantID", "scoped"))

	sess.Close()

	v, ok := s.Resolve(sess, "TenantFilter", "tenantID")
	require.True(t, ok)
	require.Equal(t, "global", v)

	// A second teardown, or teardown after manual clear, is a no-op.
	sess.Close()
	s.ClearSession(sess)
}

func TestCleanupRegisteredOncePerSession(t *testing.T) {
	s := NewStore()
	sess := &fakeSession{}

	require.NoError(t, s.SetGlobal("TenantFilter", "tenantID", "g"))
	require.NoError(t, s.SetScoped(sess, "TenantFilter", "tenantID", "a"))
	require.NoError(t, s.SetScoped(sess, "TenantFilter", "tenantID", "b"))
	require.NoError(t, s.Disable(sess, "TenantFilter"))

	sess.mu.Lock()
	defer sess.mu.Unlock()
	require.Len(t, sess.callbacks, 1)
}

func TestGlobalParameters(t *testing.T) {
	s := NewStore()

	require.Nil(t, s.GlobalParameters("Nope"))

	require.NoError(t, s.SetGlobal("Window", "from", 1))
	require.NoError(t, s.SetGlobal("Window", "to", 2))
	require.ElementsMatch(t, []string{"from", "to"}, s.GlobalParameters("Window"))
}

func TestConcurrentSessions(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.SetGlobal("TenantFilter", "tenantID", int64(-1)))

	const sessions = 32
	const writes = 100

	var wg sync.WaitGroup
	errs := make(chan error, sessions)
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess := &fakeSession{}
			want := fmt.Sprintf("tenant-%d", i)
			for j := 0; j < writes; j++ {
				if err := s.SetScoped(sess, "TenantFilter", "tenantID", want); err != nil {
					errs <- err
					return
				}
				v, ok := s.Resolve(sess, "TenantFilter", "tenantID")
				if !ok || v != want {
					errs <- fmt.Errorf("session %d read %v", i, v)
					return
				}
			}
			sess.Close()
			if v, _ := s.Resolve(sess, "TenantFilter", "tenantID"); v != int64(-1) {
				errs <- fmt.Errorf("session %d not evicted, read %v", i, v)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
}

func TestErrorsAreSentinels(t *testing.T) {
	s := NewStore()
	err := s.SetScoped(&fakeSession{}, "Nope", "p", 1)
	require.True(t, errors.Is(err, ErrUnknownFilter))
}
