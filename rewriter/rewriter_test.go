package rewriter

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/siegeon/dynfilter"
	"github.com/siegeon/dynfilter/params"
	"github.com/siegeon/dynfilter/plan"
	"github.com/siegeon/dynfilter/registry"
)

type fakeSession struct {
	mu        sync.Mutex
	callbacks []func()
}

func (s *fakeSession) OnClose(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

// translatorFunc adapts a function to the Translator interface.
type translatorFunc func(predicate interface{}, binding *plan.Binding, placeholders []plan.Placeholder) (plan.Expr, error)

func (f translatorFunc) Translate(predicate interface{}, binding *plan.Binding, placeholders []plan.Placeholder) (plan.Expr, error) {
	return f(predicate, binding, placeholders)
}

func accountFixture(t *testing.T) (*registry.Registry, *params.Store, *plan.Binding) {
	t.Helper()

	reg := registry.New()
	schema := registry.NewEntitySchema("Account", nil).
		AddColumn("id", "id").
		AddColumn("tenantID", "tenant_id").
		AddColumn("isDeleted", "is_deleted")
	reg.RegisterSchema(schema)

	_, err := reg.RegisterColumnFilter("Account", "TenantFilter", "tenantID")
	require.NoError(t, err)

	store := params.NewStore()
	require.NoError(t, store.SetGlobal("TenantFilter", "tenantID", int64(1)))

	return reg, store, plan.NewBinding(schema)
}

func TestRewriteWrapsScan(t *testing.T) {
	reg, store, binding := accountFixture(t)
	r := New(reg, store, nil, Options{})

	root, err := r.Rewrite(&plan.Scan{Binding: binding}, &fakeSession{})
	require.NoError(t, err)

	filter, ok := root.(*plan.Filter)
	require.True(t, ok, "scan with annotations must be wrapped in a filter node")
	require.IsType(t, &plan.Scan{}, filter.Input)

	// The condition is (tenant_id = :p) or (:p is null) with the
	// structural placeholder name.
	or, ok := filter.Predicate.(plan.Or)
	require.True(t, ok)
	require.Len(t, or.Conds, 2)

	cmp := or.Conds[0].(plan.Compare)
	require.Equal(t, plan.OpEQ, cmp.Op)
	require.Equal(t, plan.Column{Name: "tenant_id"}, cmp.Left, "logical name resolved to physical column")
	require.Equal(t, plan.Placeholder{Name: dynfilter.ParamName("TenantFilter", "tenantID")}, cmp.Right)
	require.IsType(t, plan.IsNull{}, or.Conds[1])
}

func TestRewriteFusesIntoExistingFilter(t *testing.T) {
	reg, store, binding := accountFixture(t)
	r := New(reg, store, nil, Options{})

	caller := plan.Compare{Op: plan.OpGT, Left: plan.Column{Name: "id"}, Right: plan.Const{Value: int64(100)}}
	root, err := r.Rewrite(&plan.Filter{
		Input:     &plan.Scan{Binding: binding},
		Binding:   binding,
		Predicate: caller,
	}, &fakeSession{})
	require.NoError(t, err)

	filter, ok := root.(*plan.Filter)
	require.True(t, ok)
	require.IsType(t, &plan.Scan{}, filter.Input, "no second filter node synthesized around the scan")

	and, ok := filter.Predicate.(plan.And)
	require.True(t, ok, "injected conditions are ANDed with the caller's predicate")
	require.Equal(t, caller, and.Conds[len(and.Conds)-1], "caller predicate preserved")
}

func TestRewriteDeduplicatesEntityAcrossPaths(t *testing.T) {
	reg, store, binding := accountFixture(t)
	r := New(reg, store, nil, Options{})

	// The same entity reached twice: once directly, once through an
	// association join. Only the first occurrence is injected.
	root, err := r.Rewrite(&plan.Join{
		Left:  &plan.Scan{Binding: binding},
		Right: &plan.Scan{Binding: binding},
		On:    plan.Compare{Op: plan.OpEQ, Left: plan.Column{Name: "id"}, Right: plan.Column{Name: "id"}},
	}, &fakeSession{})
	require.NoError(t, err)

	join := root.(*plan.Join)
	require.IsType(t, &plan.Filter{}, join.Left)
	require.IsType(t, &plan.Scan{}, join.Right, "second occurrence left untouched")
}

func TestRewriteCompositionOrderAndDisable(t *testing.T) {
	reg := registry.New()
	schema := registry.NewEntitySchema("Account", nil).
		AddColumn("col1", "col1").
		AddColumn("col2", "col2")
	reg.RegisterSchema(schema)

	_, err := reg.RegisterColumnFilter("Account", "F1", "col1")
	require.NoError(t, err)
	_, err = reg.RegisterColumnFilter("Account", "F2", "col2")
	require.NoError(t, err)

	store := params.NewStore()
	require.NoError(t, store.SetGlobal("F1", "col1", int64(5)))
	require.NoError(t, store.SetGlobal("F2", "col2", int64(7)))

	r := New(reg, store, nil, Options{})
	sess := &fakeSession{}

	root, err := r.Rewrite(&plan.Scan{Binding: plan.NewBinding(schema)}, sess)
	require.NoError(t, err)

	and, ok := root.(*plan.Filter).Predicate.(plan.And)
	require.True(t, ok)
	require.Len(t, and.Conds, 2, "both filters composed in registration order")

	first := and.Conds[0].(plan.Or).Conds[0].(plan.Compare)
	require.Equal(t, plan.Column{Name: "col1"}, first.Left)

	// Disabling F2 removes its condition from a fresh traversal.
	require.NoError(t, store.Disable(sess, "F2"))
	root, err = r.Rewrite(&plan.Scan{Binding: plan.NewBinding(schema)}, sess)
	require.NoError(t, err)

	or, ok := root.(*plan.Filter).Predicate.(plan.Or)
	require.True(t, ok, "single remaining condition is not wrapped in And")
	require.Equal(t, plan.Column{Name: "col1"}, or.Conds[0].(plan.Compare).Left)
}

func TestRewriteInheritedFilterAppliedOnce(t *testing.T) {
	reg := registry.New()
	base := registry.NewEntitySchema("Entity", nil).AddColumn("isDeleted", "is_deleted")
	sub := registry.NewEntitySchema("Account", base).AddColumn("tenantID", "tenant_id")
	reg.RegisterSchema(base)
	reg.RegisterSchema(sub)

	// Annotation surfaces on both the base and the subtype.
	_, err := reg.RegisterColumnFilter("Entity", "SoftDelete", "isDeleted")
	require.NoError(t, err)
	_, err = reg.RegisterColumnFilter("Account", "SoftDelete", "isDeleted")
	require.NoError(t, err)

	store := params.NewStore()
	require.NoError(t, store.SetGlobal("SoftDelete", "isDeleted", false))

	r := New(reg, store, nil, Options{})
	root, err := r.Rewrite(&plan.Scan{Binding: plan.NewBinding(sub)}, &fakeSession{})
	require.NoError(t, err)

	// Exactly one condition: an Or, not an And of two identical Ors.
	require.IsType(t, plan.Or{}, root.(*plan.Filter).Predicate)
}

func TestRewriteUnresolvableColumn(t *testing.T) {
	reg := registry.New()
	schema := registry.NewEntitySchema("Projection", nil).AddColumn("id", "id")
	reg.RegisterSchema(schema)

	// The filter names a property this binding's shape does not carry.
	_, err := reg.RegisterColumnFilter("Projection", "TenantFilter", "tenantID")
	require.NoError(t, err)

	store := params.NewStore()
	require.NoError(t, store.SetGlobal("TenantFilter", "tenantID", int64(1)))

	// Default: silently skipped, scan left bare.
	r := New(reg, store, nil, Options{})
	root, err := r.Rewrite(&plan.Scan{Binding: plan.NewBinding(schema)}, &fakeSession{})
	require.NoError(t, err)
	require.IsType(t, &plan.Scan{}, root)

	// Strict mode: loud failure.
	strict := New(reg, store, nil, Options{StrictColumns: true})
	_, err = strict.Rewrite(&plan.Scan{Binding: plan.NewBinding(schema)}, &fakeSession{})
	require.ErrorIs(t, err, ErrUnresolvableColumn)
}

func TestRewritePredicateMode(t *testing.T) {
	reg := registry.New()
	schema := registry.NewEntitySchema("Order", nil).
		AddColumn("placedAt", "placed_at")
	reg.RegisterSchema(schema)

	predicate := "placedAt between from and to" // opaque to the engine
	_, err := reg.RegisterPredicateFilter("Order", "Window", predicate, []string{"from", "to"})
	require.NoError(t, err)

	store := params.NewStore()
	require.NoError(t, store.SetGlobal("Window", "from", int64(0)))
	require.NoError(t, store.SetGlobal("Window", "to", int64(10)))

	var gotPredicate interface{}
	var gotPlaceholders []plan.Placeholder
	translated := plan.Translated{
		Desc:   "window",
		Params: []string{dynfilter.ParamName("Window", "from"), dynfilter.ParamName("Window", "to")},
		Fn:     func(plan.Row, plan.Binds) (bool, error) { return true, nil },
	}

	tr := translatorFunc(func(p interface{}, b *plan.Binding, ph []plan.Placeholder) (plan.Expr, error) {
		gotPredicate = p
		gotPlaceholders = ph
		return translated, nil
	})

	r := New(reg, store, tr, Options{})
	root, err := r.Rewrite(&plan.Scan{Binding: plan.NewBinding(schema)}, &fakeSession{})
	require.NoError(t, err)

	require.Equal(t, predicate, gotPredicate, "stored predicate handed to the translator")
	require.Equal(t, []plan.Placeholder{
		{Name: dynfilter.ParamName("Window", "from")},
		{Name: dynfilter.ParamName("Window", "to")},
	}, gotPlaceholders, "placeholders bound in declaration order")

	// The translated expression is inserted verbatim.
	require.Equal(t, "window", root.(*plan.Filter).Predicate.String())
}

func TestRewriteNoTranslatorForPredicateFilter(t *testing.T) {
	reg := registry.New()
	schema := registry.NewEntitySchema("Order", nil).AddColumn("id", "id")
	reg.RegisterSchema(schema)
	_, err := reg.RegisterPredicateFilter("Order", "Window", "pred", []string{"from"})
	require.NoError(t, err)

	store := params.NewStore()
	require.NoError(t, store.SetGlobal("Window", "from", 1))

	r := New(reg, store, nil, Options{})
	_, err = r.Rewrite(&plan.Scan{Binding: plan.NewBinding(schema)}, &fakeSession{})
	require.Error(t, err)
}

func TestRewriteLeavesUnfilteredEntitiesAlone(t *testing.T) {
	reg := registry.New()
	schema := registry.NewEntitySchema("Plain", nil).AddColumn("id", "id")
	reg.RegisterSchema(schema)

	r := New(reg, params.NewStore(), nil, Options{})

	scan := &plan.Scan{Binding: plan.NewBinding(schema)}
	caller := plan.Compare{Op: plan.OpEQ, Left: plan.Column{Name: "id"}, Right: plan.Const{Value: int64(1)}}

	root, err := r.Rewrite(&plan.Filter{Input: scan, Binding: plan.NewBinding(schema), Predicate: caller}, &fakeSession{})
	require.NoError(t, err)
	require.Equal(t, caller, root.(*plan.Filter).Predicate, "predicate untouched when no filters apply")

	bare, err := r.Rewrite(&plan.Scan{Binding: plan.NewBinding(schema)}, &fakeSession{})
	require.NoError(t, err)
	require.IsType(t, &plan.Scan{}, bare)
}
