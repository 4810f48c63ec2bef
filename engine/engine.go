// Package engine ties the filter subsystem to a query pipeline: it owns
// the registry, the parameter store, and the rewriter, exposes the two
// hooks a host integration needs (plan transform and parameter bind),
// and executes rewritten plans against a row source.
package engine

import (
	"fmt"
	"time"

	"github.com/siegeon/dynfilter"
	"github.com/siegeon/dynfilter/annotations"
	"github.com/siegeon/dynfilter/params"
	"github.com/siegeon/dynfilter/plan"
	"github.com/siegeon/dynfilter/registry"
	"github.com/siegeon/dynfilter/rewriter"
)

// Config wires an Engine. Registry and Source are required; Translator
// is only needed when predicate-mode filters are registered.
type Config struct {
	Registry   *registry.Registry
	Source     RowSource
	Translator rewriter.Translator
	Options    rewriter.Options
	Handler    annotations.Handler
}

// Engine is the long-lived owner of the shared filter state. Construct
// one at startup and thread it through the query pipeline; multiple
// independent engines can coexist in one process.
type Engine struct {
	registry  *registry.Registry
	store     *params.Store
	source    RowSource
	rewriter  *rewriter.Rewriter
	collector *annotations.Collector
}

func New(cfg Config) *Engine {
	store := params.NewStore()
	rw := rewriter.New(cfg.Registry, store, cfg.Translator, cfg.Options)

	var collector *annotations.Collector
	if cfg.Handler != nil {
		collector = annotations.NewCollector(cfg.Handler)
		rw.SetCollector(collector)
	}

	// Seed the store's global sets from the registry: each declared
	// parameter starts out registered with a nil value (resolving to
	// null, so every condition is disabled until a value is set). This
	// is what makes omitted-parameter inference, scoped overrides, and
	// enable/disable work before any global value has been assigned.
	for _, def := range cfg.Registry.Definitions() {
		for _, param := range def.ParameterNames() {
			// Only inference can fail, and a name is always given here.
			_ = store.SetGlobal(def.Name, param, nil)
		}
	}

	return &Engine{
		registry:  cfg.Registry,
		store:     store,
		source:    cfg.Source,
		rewriter:  rw,
		collector: collector,
	}
}

// Registry returns the engine's filter metadata.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Store returns the engine's parameter value store.
func (e *Engine) Store() *params.Store {
	return e.store
}

// SetGlobalParameter upserts a process-wide parameter value. Pass an
// empty paramName to infer it when the filter has exactly one parameter.
// The value may be a dynfilter.Deferred.
func (e *Engine) SetGlobalParameter(filterName, paramName string, value interface{}) error {
	return e.store.SetGlobal(filterName, paramName, value)
}

// RewritePlan is the plan-transform hook: invoked once per compiled
// query with the root plan node, it returns the rewritten root.
func (e *Engine) RewritePlan(root plan.Node, sess *Session) (plan.Node, error) {
	return e.rewriter.Rewrite(root, sess)
}

// BindParameter is the parameter-bind hook: invoked once per placeholder
// at execution time. Placeholders that are not this engine's, and
// parameters that resolve to absent, return (nil, false) so the caller
// leaves the placeholder at its default — which makes the OR-null escape
// clause pass.
func (e *Engine) BindParameter(sess *Session, placeholder string) (interface{}, bool) {
	if !dynfilter.IsParamName(placeholder) {
		return nil, false
	}
	filterName, paramName, err := dynfilter.SplitParamName(placeholder)
	if err != nil {
		return nil, false
	}

	var handle params.SessionHandle
	if sess != nil {
		handle = sess
	}
	value, ok := e.store.Resolve(handle, filterName, paramName)
	if value == nil {
		// A registered-but-unset (nil) parameter is absent: the
		// placeholder stays at its default and the OR-null clause
		// passes.
		ok = false
	}

	if e.collector.Enabled() {
		if ok {
			e.collector.Add(annotations.Event{
				Name:  annotations.ParamResolved,
				Start: time.Now(),
				Data:  map[string]interface{}{"placeholder": placeholder, "value": value, "scope": scopeName(sess)},
			})
		} else {
			e.collector.Add(annotations.Event{
				Name:  annotations.ParamAbsent,
				Start: time.Now(),
				Data:  map[string]interface{}{"placeholder": placeholder},
			})
		}
	}
	return value, ok
}

// Execute runs an already-rewritten plan: binds every placeholder once
// through the bind hook, then evaluates the plan against the row source.
func (e *Engine) Execute(root plan.Node, sess *Session) (*Relation, error) {
	binds := make(plan.Binds)
	for _, name := range plan.Placeholders(root) {
		if value, ok := e.BindParameter(sess, name); ok {
			binds[name] = value
		}
	}

	columns, rows, err := e.run(root, binds)
	if err != nil {
		return nil, err
	}

	tuples := make([]Tuple, len(rows))
	for i, row := range rows {
		tuple := make(Tuple, len(columns))
		for j, col := range columns {
			tuple[j] = row[col]
		}
		tuples[i] = tuple
	}
	return NewRelation(columns, tuples), nil
}

// Query rewrites and executes a plan for one session: the two hooks in
// the order a host pipeline calls them.
func (e *Engine) Query(root plan.Node, sess *Session) (*Relation, error) {
	rewritten, err := e.RewritePlan(root, sess)
	if err != nil {
		return nil, err
	}
	return e.Execute(rewritten, sess)
}

// run evaluates a plan node to (ordered columns, rows).
func (e *Engine) run(n plan.Node, binds plan.Binds) ([]string, []plan.Row, error) {
	switch node := n.(type) {
	case *plan.Scan:
		rows, err := e.source.Scan(node.Binding.Entity())
		if err != nil {
			return nil, nil, err
		}
		return node.Binding.Schema.ColumnOrder(), rows, nil

	case *plan.Filter:
		columns, rows, err := e.run(node.Input, binds)
		if err != nil {
			return nil, nil, err
		}
		if node.Predicate == nil {
			return columns, rows, nil
		}
		var kept []plan.Row
		for _, row := range rows {
			pass, err := plan.EvalBool(node.Predicate, row, binds)
			if err != nil {
				return nil, nil, err
			}
			if pass {
				kept = append(kept, row)
			}
		}
		return columns, kept, nil

	case *plan.Join:
		leftCols, leftRows, err := e.run(node.Left, binds)
		if err != nil {
			return nil, nil, err
		}
		rightCols, rightRows, err := e.run(node.Right, binds)
		if err != nil {
			return nil, nil, err
		}

		// Nested-loop join over merged rows. Physical column names must
		// be distinct across the two sides.
		columns := append(append([]string(nil), leftCols...), rightCols...)
		var out []plan.Row
		for _, l := range leftRows {
			for _, r := range rightRows {
				merged := make(plan.Row, len(l)+len(r))
				for k, v := range l {
					merged[k] = v
				}
				for k, v := range r {
					merged[k] = v
				}
				if node.On != nil {
					pass, err := plan.EvalBool(node.On, merged, binds)
					if err != nil {
						return nil, nil, err
					}
					if !pass {
						continue
					}
				}
				out = append(out, merged)
			}
		}
		return columns, out, nil

	case *plan.Project:
		_, rows, err := e.run(node.Input, binds)
		if err != nil {
			return nil, nil, err
		}
		return node.Columns, rows, nil

	default:
		return nil, nil, fmt.Errorf("unknown plan node %T", n)
	}
}

func scopeName(sess *Session) string {
	if sess == nil {
		return "global"
	}
	return "session"
}
