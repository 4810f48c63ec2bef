package plan

import (
	"fmt"
	"strings"

	"github.com/siegeon/dynfilter"
)

// CompareOp represents comparison operators.
type CompareOp string

const (
	OpEQ  CompareOp = "="
	OpNE  CompareOp = "!="
	OpLT  CompareOp = "<"
	OpLTE CompareOp = "<="
	OpGT  CompareOp = ">"
	OpGTE CompareOp = ">="
)

// Expr is a plan expression, evaluated against one row and one set of
// placeholder bindings. Boolean expressions return bool; value
// expressions (Column, Placeholder, Const) return the value.
type Expr interface {
	Eval(row Row, binds Binds) (interface{}, error)
	String() string
}

// Column reads a physical column from the current row. A column missing
// from the row reads as null, not as an error: the entity shape may vary
// across bindings.
type Column struct {
	Name string
}

func (c Column) Eval(row Row, binds Binds) (interface{}, error) {
	return row[c.Name], nil
}

func (c Column) String() string {
	return c.Name
}

// Placeholder reads a named parameter slot from the execution's bindings.
// An unbound placeholder reads as null, which is the disable-by-null
// escape hatch: the surrounding OR-IsNull clause then passes.
type Placeholder struct {
	Name string
}

func (p Placeholder) Eval(row Row, binds Binds) (interface{}, error) {
	return binds[p.Name], nil
}

func (p Placeholder) String() string {
	return ":" + p.Name
}

// Const is a literal value.
type Const struct {
	Value interface{}
}

func (c Const) Eval(row Row, binds Binds) (interface{}, error) {
	return c.Value, nil
}

func (c Const) String() string {
	return fmt.Sprintf("%v", c.Value)
}

// Compare evaluates both sides and compares them. Null semantics follow
// SQL: a comparison with a null operand is false for every operator,
// including !=.
type Compare struct {
	Op    CompareOp
	Left  Expr
	Right Expr
}

func (c Compare) Eval(row Row, binds Binds) (interface{}, error) {
	left, err := c.Left.Eval(row, binds)
	if err != nil {
		return nil, err
	}
	right, err := c.Right.Eval(row, binds)
	if err != nil {
		return nil, err
	}

	if left == nil || right == nil {
		return false, nil
	}

	cmp := dynfilter.CompareValues(left, right)
	switch c.Op {
	case OpEQ:
		return cmp == 0, nil
	case OpNE:
		return cmp != 0, nil
	case OpLT:
		return cmp < 0, nil
	case OpLTE:
		return cmp <= 0, nil
	case OpGT:
		return cmp > 0, nil
	case OpGTE:
		return cmp >= 0, nil
	default:
		return nil, fmt.Errorf("unknown comparison operator %q", c.Op)
	}
}

func (c Compare) String() string {
	return fmt.Sprintf("(%s %s %s)", c.Left, c.Op, c.Right)
}

// IsNull is true when its operand evaluates to null.
type IsNull struct {
	X Expr
}

func (n IsNull) Eval(row Row, binds Binds) (interface{}, error) {
	v, err := n.X.Eval(row, binds)
	if err != nil {
		return nil, err
	}
	return v == nil, nil
}

func (n IsNull) String() string {
	return fmt.Sprintf("(%s is null)", n.X)
}

// And is a boolean conjunction, evaluated left to right with
// short-circuiting. Condition order is significant to the rewriter
// (registration order), so it is preserved here.
type And struct {
	Conds []Expr
}

func (a And) Eval(row Row, binds Binds) (interface{}, error) {
	for _, cond := range a.Conds {
		pass, err := EvalBool(cond, row, binds)
		if err != nil {
			return nil, err
		}
		if !pass {
			return false, nil
		}
	}
	return true, nil
}

func (a And) String() string {
	return joinConds("and", a.Conds)
}

// Or is a boolean disjunction, evaluated left to right with
// short-circuiting.
type Or struct {
	Conds []Expr
}

func (o Or) Eval(row Row, binds Binds) (interface{}, error) {
	for _, cond := range o.Conds {
		pass, err := EvalBool(cond, row, binds)
		if err != nil {
			return nil, err
		}
		if pass {
			return true, nil
		}
	}
	return false, nil
}

func (o Or) String() string {
	return joinConds("or", o.Conds)
}

// Translated is an opaque boolean expression produced by the predicate
// translation facility. The rewriter inserts it verbatim and never
// inspects its structure; Params lists the placeholders it reads so the
// bind hook still sees them.
type Translated struct {
	Desc   string
	Params []string
	Fn     func(row Row, binds Binds) (bool, error)
}

func (t Translated) Eval(row Row, binds Binds) (interface{}, error) {
	return t.Fn(row, binds)
}

func (t Translated) String() string {
	if t.Desc != "" {
		return t.Desc
	}
	return "(translated)"
}

// EvalBool evaluates a boolean expression, rejecting non-boolean results.
func EvalBool(e Expr, row Row, binds Binds) (bool, error) {
	v, err := e.Eval(row, binds)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expression %s is not boolean (got %T)", e, v)
	}
	return b, nil
}

func joinConds(op string, conds []Expr) string {
	parts := make([]string, len(conds))
	for i, c := range conds {
		parts[i] = c.String()
	}
	return "(" + op + " " + strings.Join(parts, " ") + ")"
}
