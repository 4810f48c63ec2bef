// Package rewriter implements the plan-transform pass: it walks a logical
// query plan, finds every scan and filter node bound to an entity type
// with filter annotations, and injects the composed filter conditions
// exactly once per entity occurrence.
package rewriter

import (
	"time"

	"github.com/siegeon/dynfilter"
	"github.com/siegeon/dynfilter/annotations"
	"github.com/siegeon/dynfilter/params"
	"github.com/siegeon/dynfilter/plan"
	"github.com/siegeon/dynfilter/registry"
)

// MetadataSource looks up the filter definitions visible on an entity
// type, inherited annotations included. *registry.Registry implements it.
type MetadataSource interface {
	Annotations(entity dynfilter.TypeID) []*registry.FilterDefinition
}

// Enablement resolves the per-session enabled flag for a filter, once per
// filter per traversal. *params.Store implements it.
type Enablement interface {
	Enabled(sess params.SessionHandle, filterName string) bool
}

// Options configure a Rewriter, in the manner of planner option structs.
type Options struct {
	// StrictColumns makes an unresolvable column filter a hard error
	// instead of a silent skip.
	StrictColumns bool
}

// Rewriter is the plan-transform hook's implementation. It is stateless
// across queries; all per-traversal state lives in the traversal value.
type Rewriter struct {
	meta       MetadataSource
	enablement Enablement
	mat        *Materializer
	opts       Options
	collector  *annotations.Collector
}

func New(meta MetadataSource, enablement Enablement, translator Translator, opts Options) *Rewriter {
	return &Rewriter{
		meta:       meta,
		enablement: enablement,
		mat:        &Materializer{Translator: translator, StrictColumns: opts.StrictColumns},
		opts:       opts,
	}
}

// SetCollector attaches an annotation collector for rewrite tracing.
func (r *Rewriter) SetCollector(c *annotations.Collector) {
	r.collector = c
}

// Options returns the rewriter options.
func (r *Rewriter) Options() Options {
	return r.opts
}

// Rewrite transforms root so every reachable occurrence of a filtered
// entity carries its composed filter conditions. Filter nodes are
// rewritten in place (fusing with the caller's predicate); scans with
// applicable filters are wrapped in a synthesized filter node. Running
// Rewrite on an already-rewritten plan composes the same conditions onto
// the same entity occurrences, so end-to-end behavior is unchanged.
func (r *Rewriter) Rewrite(root plan.Node, sess params.SessionHandle) (plan.Node, error) {
	t := &traversal{
		r:        r,
		sess:     sess,
		injected: make(map[dynfilter.TypeID]bool),
	}

	start := time.Now()
	node, err := t.visit(root)
	if err != nil {
		r.collector.AddTiming(annotations.ErrorRewrite, start, map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	r.collector.AddTiming(annotations.RewriteComplete, start, map[string]interface{}{
		"entities.checked": len(t.injected),
		"filters.injected": t.injectedCount,
	})
	return node, nil
}

// traversal holds the per-query state: one traversal, one injected set.
// It must never be shared across queries or goroutines.
type traversal struct {
	r             *Rewriter
	sess          params.SessionHandle
	injected      map[dynfilter.TypeID]bool
	injectedCount int
}

func (t *traversal) visit(n plan.Node) (plan.Node, error) {
	switch node := n.(type) {
	case *plan.Filter:
		// A filter node is visited before the scan it wraps when the
		// caller supplied an explicit predicate; fusing into the same
		// node preserves that predicate.
		if node.Binding != nil && !t.injected[node.Binding.Entity()] {
			t.injected[node.Binding.Entity()] = true

			cond, count, err := t.compose(node.Binding)
			if err != nil {
				return nil, err
			}
			if cond != nil {
				if node.Predicate != nil {
					cond = conjoin(cond, node.Predicate)
				}
				node.Predicate = cond
				t.injectedCount += count
				t.event(annotations.FilterFused, node.Binding.Entity(), count)
			}
		}

		input, err := t.visit(node.Input)
		if err != nil {
			return nil, err
		}
		node.Input = input
		return node, nil

	case *plan.Scan:
		entity := node.Binding.Entity()
		if t.injected[entity] {
			return node, nil
		}
		// Mark either way: the same entity reappearing later in the
		// plan (association traversal, inheritance) is already handled.
		t.injected[entity] = true

		cond, count, err := t.compose(node.Binding)
		if err != nil {
			return nil, err
		}
		if cond == nil {
			return node, nil
		}

		t.injectedCount += count
		t.event(annotations.FilterInjected, entity, count)
		return &plan.Filter{
			Input:     node,
			Binding:   node.Binding,
			Predicate: cond,
		}, nil

	case *plan.Join:
		left, err := t.visit(node.Left)
		if err != nil {
			return nil, err
		}
		right, err := t.visit(node.Right)
		if err != nil {
			return nil, err
		}
		node.Left, node.Right = left, right
		return node, nil

	case *plan.Project:
		input, err := t.visit(node.Input)
		if err != nil {
			return nil, err
		}
		node.Input = input
		return node, nil

	default:
		// Unrecognized node kinds pass through unchanged.
		return n, nil
	}
}

// compose builds the conjunction of every applicable, enabled filter
// condition for binding, in registration order, deduplicated by filter
// name. Returns (nil, 0, nil) when nothing applies.
func (t *traversal) compose(binding *plan.Binding) (plan.Expr, int, error) {
	defs := t.r.meta.Annotations(binding.Entity())
	if len(defs) == 0 {
		return nil, 0, nil
	}

	var conds []plan.Expr
	seen := make(map[string]bool)
	for _, def := range defs {
		// A type may surface the same annotation through both its own
		// metadata and a base type's; apply it once.
		if seen[def.Name] {
			continue
		}
		seen[def.Name] = true

		if !t.r.enablement.Enabled(t.sess, def.Name) {
			t.filterEvent(annotations.FilterDisabled, binding.Entity(), def.Name, "")
			continue
		}

		cond, err := t.r.mat.Condition(def, binding)
		if err != nil {
			return nil, 0, err
		}
		if cond == nil {
			t.filterEvent(annotations.FilterSkipped, binding.Entity(), def.Name, "column not in binding schema")
			continue
		}
		conds = append(conds, cond)
	}

	switch len(conds) {
	case 0:
		return nil, 0, nil
	case 1:
		return conds[0], 1, nil
	default:
		return plan.And{Conds: conds}, len(conds), nil
	}
}

// conjoin ANDs the injected conditions with a pre-existing predicate,
// flattening one level to keep plans readable.
func conjoin(injected, existing plan.Expr) plan.Expr {
	if a, ok := injected.(plan.And); ok {
		return plan.And{Conds: append(a.Conds, existing)}
	}
	return plan.And{Conds: []plan.Expr{injected, existing}}
}

func (t *traversal) event(name string, entity dynfilter.TypeID, count int) {
	if !t.r.collector.Enabled() {
		return
	}
	t.r.collector.Add(annotations.Event{
		Name:  name,
		Start: time.Now(),
		Data: map[string]interface{}{
			"entity":  entity,
			"filters": count,
		},
	})
}

func (t *traversal) filterEvent(name string, entity dynfilter.TypeID, filter, reason string) {
	if !t.r.collector.Enabled() {
		return
	}
	data := map[string]interface{}{
		"entity": entity,
		"filter": filter,
	}
	if reason != "" {
		data["reason"] = reason
	}
	t.r.collector.Add(annotations.Event{Name: name, Start: time.Now(), Data: data})
}
