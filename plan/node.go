// Package plan models the logical query plan the rewriter operates on: a
// closed set of tagged node variants (scan, filter, and passthrough
// kinds), the boolean expression language filter predicates are written
// in, and evaluation of both against in-memory rows.
package plan

import (
	"fmt"
	"strings"

	"github.com/siegeon/dynfilter"
	"github.com/siegeon/dynfilter/registry"
)

// Row is one physical row: physical column name to value. A missing key
// and a nil value both read as null.
type Row map[string]interface{}

// Binds maps placeholder names to their bound values for one execution.
// A missing or nil entry is an absent parameter.
type Binds map[string]interface{}

// Binding identifies the row variable a node ranges over: its entity type
// and the schema used to resolve logical property names.
type Binding struct {
	Schema *registry.EntitySchema
}

func NewBinding(schema *registry.EntitySchema) *Binding {
	return &Binding{Schema: schema}
}

// Entity returns the bound entity type.
func (b *Binding) Entity() dynfilter.TypeID {
	return b.Schema.Type
}

// PhysicalColumn resolves a logical property to the binding's physical
// column. The logical and physical names may differ; callers must not
// assume they are equal.
func (b *Binding) PhysicalColumn(logical string) (string, bool) {
	return b.Schema.PhysicalColumn(logical)
}

// Node is a logical plan node. The variant set is closed: Scan, Filter,
// Join, Project. The rewriter matches on the concrete type and recurses
// into children of kinds it does not rewrite.
type Node interface {
	String() string
	node()
}

// Scan yields every row of one entity's backing relation.
type Scan struct {
	Binding *Binding
}

func (*Scan) node() {}

func (s *Scan) String() string {
	return fmt.Sprintf("Scan(%s)", s.Binding.Entity())
}

// Filter narrows its input to rows where Predicate evaluates true.
// Binding names the row variable the predicate is written against.
type Filter struct {
	Input     Node
	Binding   *Binding
	Predicate Expr
}

func (*Filter) node() {}

func (f *Filter) String() string {
	return fmt.Sprintf("Filter(%s, %s)", f.Predicate, f.Input)
}

// Join pairs rows of Left and Right where On evaluates true over the
// merged row. The rewriter treats it as a passthrough kind and recurses
// into both sides, so an entity reached through an association is
// filtered at its own scan.
type Join struct {
	Left  Node
	Right Node
	On    Expr
}

func (*Join) node() {}

func (j *Join) String() string {
	return fmt.Sprintf("Join(%s, %s, %s)", j.On, j.Left, j.Right)
}

// Project narrows the output columns. Passthrough for the rewriter.
type Project struct {
	Input   Node
	Columns []string
}

func (*Project) node() {}

func (p *Project) String() string {
	return fmt.Sprintf("Project(%s, %s)", strings.Join(p.Columns, ","), p.Input)
}

// Placeholders returns every placeholder name appearing in the plan, in
// first-appearance order without duplicates. The bind hook is invoked
// once per returned name.
func Placeholders(root Node) []string {
	var names []string
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	var walkExpr func(Expr)
	walkExpr = func(e Expr) {
		switch ex := e.(type) {
		case Placeholder:
			add(ex.Name)
		case Compare:
			walkExpr(ex.Left)
			walkExpr(ex.Right)
		case IsNull:
			walkExpr(ex.X)
		case And:
			for _, c := range ex.Conds {
				walkExpr(c)
			}
		case Or:
			for _, c := range ex.Conds {
				walkExpr(c)
			}
		case Translated:
			for _, name := range ex.Params {
				add(name)
			}
		}
	}

	var walkNode func(Node)
	walkNode = func(n Node) {
		switch node := n.(type) {
		case *Scan:
		case *Filter:
			if node.Predicate != nil {
				walkExpr(node.Predicate)
			}
			walkNode(node.Input)
		case *Join:
			if node.On != nil {
				walkExpr(node.On)
			}
			walkNode(node.Left)
			walkNode(node.Right)
		case *Project:
			walkNode(node.Input)
		}
	}

	walkNode(root)
	return names
}
