package integration

import (
	"fmt"
	"sort"
)

// FieldType selects the coercion applied to a mapped field
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeInt     FieldType = "int"
	FieldTypeFloat   FieldType = "float"
	FieldTypeDecimal FieldType = "decimal"
	FieldTypeBool    FieldType = "bool"
	FieldTypeDate    FieldType = "date"
	// FieldTypeRef extracts a reference id. With RefEntity set the id is
	// rewritten to the canonical id of the referenced entity.
	FieldTypeRef FieldType = "ref"
)

// FieldSpec declares how one source field maps into the canonical schema
type FieldSpec struct {
	Source    string    `yaml:"source" validate:"required"`
	Target    string    `yaml:"target" validate:"required,excludes=/"`
	Type      FieldType `yaml:"type" validate:"required,oneof=string int float decimal bool date ref"`
	Required  bool      `yaml:"required"`
	RefEntity string    `yaml:"ref_entity"`
}

// EntityMapping declares the field transforms of one entity type
type EntityMapping struct {
	EntityType string      `yaml:"-"`
	Fields     []FieldSpec `yaml:"fields" validate:"required,min=1,dive"`
}

// RequiredCount returns the number of required fields
func (m EntityMapping) RequiredCount() int {
	n := 0
	for _, f := range m.Fields {
		if f.Required {
			n++
		}
	}
	return n
}

// MappingSet is the full mapping declaration for one source
type MappingSet struct {
	Source   string                   `yaml:"source" validate:"required"`
	Entities map[string]EntityMapping `yaml:"entities" validate:"required,min=1,dive"`
}

// For returns the mapping of an entity type
func (s *MappingSet) For(entityType string) (EntityMapping, bool) {
	m, ok := s.Entities[entityType]
	if ok {
		m.EntityType = entityType
	}
	return m, ok
}

// EntityTypes returns the declared entity types, sorted
func (s *MappingSet) EntityTypes() []string {
	types := make([]string, 0, len(s.Entities))
	for t := range s.Entities {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// CheckTargets reports duplicate target names and dangling reference types
func (s *MappingSet) CheckTargets() error {
	for _, entityType := range s.EntityTypes() {
		seen := make(map[string]bool)
		for _, f := range s.Entities[entityType].Fields {
			if f.Target == OverflowField {
				return fmt.Errorf("entity %s: target %q is reserved", entityType, f.Target)
			}
			if seen[f.Target] {
				return fmt.Errorf("entity %s: duplicate target %q", entityType, f.Target)
			}
			seen[f.Target] = true
			if f.RefEntity != "" {
				if f.Type != FieldTypeRef {
					return fmt.Errorf("entity %s: field %s has ref_entity but type %s", entityType, f.Target, f.Type)
				}
				if _, ok := s.Entities[f.RefEntity]; !ok {
					return fmt.Errorf("entity %s: field %s references unknown entity %s", entityType, f.Target, f.RefEntity)
				}
			}
		}
	}
	return nil
}
