package engine

import (
	"sort"
	"strings"

	"github.com/siegeon/dynfilter"
)

// Tuple is one result row, positionally matching the relation's columns.
type Tuple []interface{}

// Relation is a materialized query result.
type Relation struct {
	columns []string
	tuples  []Tuple
}

func NewRelation(columns []string, tuples []Tuple) *Relation {
	return &Relation{columns: columns, tuples: tuples}
}

// Columns returns the relation's column names in order.
func (r *Relation) Columns() []string {
	return r.columns
}

// Size returns the number of tuples.
func (r *Relation) Size() int {
	return len(r.tuples)
}

func (r *Relation) IsEmpty() bool {
	return len(r.tuples) == 0
}

// Tuples returns the underlying tuples. Callers must not mutate them.
func (r *Relation) Tuples() []Tuple {
	return r.tuples
}

// Sorted returns the tuples in a deterministic total order, for row-set
// comparison regardless of plan shape.
func (r *Relation) Sorted() []Tuple {
	sorted := make([]Tuple, len(r.tuples))
	copy(sorted, r.tuples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return compareTuples(sorted[i], sorted[j]) < 0
	})
	return sorted
}

// Equal reports whether two relations hold the same row set, ignoring
// tuple order. Useful for behavioral plan comparisons.
func (r *Relation) Equal(other *Relation) bool {
	if r.Size() != other.Size() || len(r.columns) != len(other.columns) {
		return false
	}
	for i, col := range r.columns {
		if other.columns[i] != col {
			return false
		}
	}

	a, b := r.Sorted(), other.Sorted()
	for i := range a {
		if compareTuples(a[i], b[i]) != 0 {
			return false
		}
	}
	return true
}

func (r *Relation) String() string {
	var sb strings.Builder
	sb.WriteString(strings.Join(r.columns, " | "))
	for _, t := range r.tuples {
		sb.WriteString("\n")
		for i, v := range t {
			if i > 0 {
				sb.WriteString(" | ")
			}
			sb.WriteString(formatValue(v))
		}
	}
	return sb.String()
}

func compareTuples(a, b Tuple) int {
	for i := range a {
		if i >= len(b) {
			return 1
		}
		if c := dynfilter.CompareValues(a[i], b[i]); c != 0 {
			return c
		}
	}
	if len(a) < len(b) {
		return -1
	}
	return 0
}
