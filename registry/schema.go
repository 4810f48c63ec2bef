package registry

import (
	"github.com/siegeon/dynfilter"
)

// EntitySchema maps an entity type's logical property names to the
// physical column identifiers of its backing relation. Schemas form an
// inheritance chain through Base; a subtype sees its base's columns and
// filter annotations.
type EntitySchema struct {
	Type dynfilter.TypeID
	Base *EntitySchema

	columns map[string]string
	order   []string // logical names in declaration order, base first
}

// NewEntitySchema creates a schema for entity, optionally deriving from a
// base schema.
func NewEntitySchema(entity dynfilter.TypeID, base *EntitySchema) *EntitySchema {
	s := &EntitySchema{
		Type:    entity,
		Base:    base,
		columns: make(map[string]string),
	}
	if base != nil {
		s.order = append(s.order, base.order...)
	}
	return s
}

// AddColumn declares a logical property and its physical column. A
// redeclaration on a subtype overrides the base's mapping but keeps the
// base's column position.
func (s *EntitySchema) AddColumn(logical, physical string) *EntitySchema {
	if _, shadowed := s.lookup(logical); !shadowed {
		s.order = append(s.order, logical)
	}
	s.columns[logical] = physical
	return s
}

// PhysicalColumn resolves a logical property name to its physical column,
// walking the base chain. The second return is false when the property is
// unknown to this schema; callers decide whether that is fatal.
func (s *EntitySchema) PhysicalColumn(logical string) (string, bool) {
	return s.lookup(logical)
}

func (s *EntitySchema) lookup(logical string) (string, bool) {
	for cur := s; cur != nil; cur = cur.Base {
		if phys, ok := cur.columns[logical]; ok {
			return phys, true
		}
	}
	return "", false
}

// ColumnOrder returns the physical columns in declaration order, base
// columns first. This fixes the column order of relations produced by
// scanning this entity.
func (s *EntitySchema) ColumnOrder() []string {
	cols := make([]string, 0, len(s.order))
	for _, logical := range s.order {
		phys, _ := s.lookup(logical)
		cols = append(cols, phys)
	}
	return cols
}

// RegisterSchema records the schema for its entity type, making the
// type's inheritance chain visible to Annotations.
func (r *Registry) RegisterSchema(schema *EntitySchema) {
	r.schemas[schema.Type] = schema
}

// Schema returns the registered schema for entity, or nil.
func (r *Registry) Schema(entity dynfilter.TypeID) *EntitySchema {
	return r.schemas[entity]
}
