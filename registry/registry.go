// Package registry holds the configuration-time filter metadata: filter
// definitions attached to entity types, and the entity schemas used to
// resolve logical property names and inherited filter annotations.
//
// Registration happens once, before query traffic; lookups at query time
// take no locks. Registering concurrently with queries is a documented
// precondition violation, not a runtime-checked one.
package registry

import (
	"fmt"
	"strings"

	"github.com/siegeon/dynfilter"
)

// FilterDefinition is one named filter attached to an entity type, in
// exactly one of two modes:
//
//   - column mode: Column names a logical property; the rewriter emits a
//     column == parameter equality with an OR-null escape hatch.
//   - predicate mode: Predicate is an opaque expression handed to the
//     translation facility, with ParamNames bound in declaration order
//     after the entity itself.
type FilterDefinition struct {
	Name   string
	Entity dynfilter.TypeID

	// Column mode.
	Column string

	// Predicate mode.
	Predicate  interface{}
	ParamNames []string
}

// ColumnMode reports whether this definition is a single-column filter.
func (d *FilterDefinition) ColumnMode() bool {
	return d.Column != ""
}

// ParameterNames returns the declared parameter names for either mode.
// A column-mode filter has exactly one parameter, named after its column.
func (d *FilterDefinition) ParameterNames() []string {
	if d.ColumnMode() {
		return []string{d.Column}
	}
	return d.ParamNames
}

// Registry maps entity types to their ordered filter definitions and
// schemas. Populate it during configuration; it is read-only afterwards.
type Registry struct {
	filters map[dynfilter.TypeID][]*FilterDefinition
	schemas map[dynfilter.TypeID]*EntitySchema
	all     []*FilterDefinition
}

func New() *Registry {
	return &Registry{
		filters: make(map[dynfilter.TypeID][]*FilterDefinition),
		schemas: make(map[dynfilter.TypeID]*EntitySchema),
	}
}

// RegisterColumnFilter attaches a single-column equality filter to entity.
func (r *Registry) RegisterColumnFilter(entity dynfilter.TypeID, name, column string) (*FilterDefinition, error) {
	if err := validateFilterName(name); err != nil {
		return nil, err
	}
	if column == "" {
		return nil, fmt.Errorf("filter %q: column name must not be empty", name)
	}

	def := &FilterDefinition{Name: name, Entity: entity, Column: column}
	r.filters[entity] = append(r.filters[entity], def)
	r.all = append(r.all, def)
	return def, nil
}

// RegisterPredicateFilter attaches a general-predicate filter to entity.
// The predicate's first bound variable is the entity itself; paramNames
// bind the remaining variables in order.
func (r *Registry) RegisterPredicateFilter(entity dynfilter.TypeID, name string, predicate interface{}, paramNames []string) (*FilterDefinition, error) {
	if err := validateFilterName(name); err != nil {
		return nil, err
	}
	if predicate == nil {
		return nil, fmt.Errorf("filter %q: predicate must not be nil", name)
	}

	def := &FilterDefinition{
		Name:       name,
		Entity:     entity,
		Predicate:  predicate,
		ParamNames: append([]string(nil), paramNames...),
	}
	r.filters[entity] = append(r.filters[entity], def)
	r.all = append(r.all, def)
	return def, nil
}

// Definitions returns every registered filter definition across all
// entity types, in registration order.
func (r *Registry) Definitions() []*FilterDefinition {
	return r.all
}

// Lookup returns the filters registered directly on entity, in
// registration order. Inherited annotations are collected by Annotations.
func (r *Registry) Lookup(entity dynfilter.TypeID) []*FilterDefinition {
	return r.filters[entity]
}

// Annotations returns every filter definition visible on entity,
// including definitions inherited through the schema's base chain,
// base-first in registration order, deduplicated by filter name. A
// subtype that inherits a filter from its base sees it exactly once.
func (r *Registry) Annotations(entity dynfilter.TypeID) []*FilterDefinition {
	chain := r.typeChain(entity)

	var defs []*FilterDefinition
	seen := make(map[string]bool)
	for _, t := range chain {
		for _, def := range r.filters[t] {
			if seen[def.Name] {
				continue
			}
			seen[def.Name] = true
			defs = append(defs, def)
		}
	}
	return defs
}

// typeChain returns entity's inheritance chain, root base first. An
// entity with no registered schema is its own one-element chain.
func (r *Registry) typeChain(entity dynfilter.TypeID) []dynfilter.TypeID {
	schema := r.schemas[entity]
	if schema == nil {
		return []dynfilter.TypeID{entity}
	}

	var chain []dynfilter.TypeID
	for s := schema; s != nil; s = s.Base {
		chain = append(chain, s.Type)
	}
	// Reverse so the base type's filters compose first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func validateFilterName(name string) error {
	if name == "" {
		return fmt.Errorf("filter name must not be empty")
	}
	if strings.Contains(name, dynfilter.Delimiter) {
		return fmt.Errorf("filter name %q must not contain %q", name, dynfilter.Delimiter)
	}
	return nil
}
