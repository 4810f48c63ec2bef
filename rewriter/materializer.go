package rewriter

import (
	"errors"
	"fmt"

	"github.com/siegeon/dynfilter"
	"github.com/siegeon/dynfilter/plan"
	"github.com/siegeon/dynfilter/registry"
)

// ErrUnresolvableColumn is returned (only under Options.StrictColumns)
// when a column filter's logical property cannot be mapped to a physical
// column of the current binding's schema. The default behavior skips the
// filter silently, since the entity shape may legitimately vary across
// bindings.
var ErrUnresolvableColumn = errors.New("unresolvable column")

// Translator converts a caller-supplied predicate (written against the
// entity's public shape) into a plan expression. The first bound variable
// of the predicate is the entity row itself, represented by binding; the
// remaining variables are bound to placeholders in declaration order. The
// returned expression is inserted verbatim.
type Translator interface {
	Translate(predicate interface{}, binding *plan.Binding, placeholders []plan.Placeholder) (plan.Expr, error)
}

// Materializer turns one filter definition into one boolean plan
// condition for one binding. It emits placeholders, never values: the
// same plan shape is reused across executions and only the bound
// parameter values vary.
type Materializer struct {
	Translator    Translator
	StrictColumns bool
}

// Condition builds the condition for def, or (nil, nil) when the filter
// contributes nothing for this binding. Callers resolve the enabled flag
// before calling; a disabled filter is never materialized.
//
// Column mode emits (column = :p) or (:p is null): a parameter that
// resolves to absent at bind time disables exactly this condition without
// a plan rewrite. Predicate mode delegates to the Translator; an absent
// parameter there flows into the translated expression as null rather
// than disabling it (disable a predicate filter with the session flag).
func (m *Materializer) Condition(def *registry.FilterDefinition, binding *plan.Binding) (plan.Expr, error) {
	if def.ColumnMode() {
		return m.columnCondition(def, binding)
	}
	return m.predicateCondition(def, binding)
}

func (m *Materializer) columnCondition(def *registry.FilterDefinition, binding *plan.Binding) (plan.Expr, error) {
	physical, ok := binding.PhysicalColumn(def.Column)
	if !ok {
		if m.StrictColumns {
			return nil, fmt.Errorf("%w: filter %q column %q on %s",
				ErrUnresolvableColumn, def.Name, def.Column, binding.Entity())
		}
		return nil, nil
	}

	p := plan.Placeholder{Name: dynfilter.ParamName(def.Name, def.Column)}
	return plan.Or{Conds: []plan.Expr{
		plan.Compare{Op: plan.OpEQ, Left: plan.Column{Name: physical}, Right: p},
		plan.IsNull{X: p},
	}}, nil
}

func (m *Materializer) predicateCondition(def *registry.FilterDefinition, binding *plan.Binding) (plan.Expr, error) {
	if m.Translator == nil {
		return nil, fmt.Errorf("filter %q: no predicate translator configured", def.Name)
	}

	placeholders := make([]plan.Placeholder, len(def.ParamNames))
	for i, name := range def.ParamNames {
		placeholders[i] = plan.Placeholder{Name: dynfilter.ParamName(def.Name, name)}
	}

	expr, err := m.Translator.Translate(def.Predicate, binding, placeholders)
	if err != nil {
		return nil, fmt.Errorf("translating filter %q: %w", def.Name, err)
	}
	return expr, nil
}
