// Package schema holds the static definitions of every importable entity
// type: its columns, value types, reference edges to other entity types,
// and the fixed dependency order the import pipeline executes in.
//
// Definitions are registered once at init time from catalog.go and never
// change afterwards. Everything downstream (parser detection, validation,
// mapping, orchestration) reads this registry; nothing writes it.
package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// EntityType identifies one of the fixed importable entity types.
type EntityType string

// ColumnType describes how a column's values are validated and coerced.
type ColumnType int

const (
	ColText ColumnType = iota
	ColNumber
	ColDate
	ColBool
	// ColReference holds the external identifier of a row of another
	// entity type (RefEntity names which one).
	ColReference
	// ColCategory holds a free-text value reconciled against an
	// organization's canonical vocabulary (Category names which one).
	ColCategory
)

// String returns a human-readable name for the column type.
func (t ColumnType) String() string {
	switch t {
	case ColText:
		return "text"
	case ColNumber:
		return "number"
	case ColDate:
		return "date"
	case ColBool:
		return "boolean"
	case ColReference:
		return "reference"
	case ColCategory:
		return "category"
	default:
		return "unknown"
	}
}

// ColumnDefinition describes one expected column of an entity file.
type ColumnDefinition struct {
	Name     string
	Required bool
	Type     ColumnType
	// RefEntity is set for ColReference columns: the entity type whose
	// external identifier this column holds.
	RefEntity EntityType
	// Category is set for ColCategory columns: the vocabulary name used
	// to look up canonical values for the owning organization.
	Category string
	// Tips is a short operator-facing hint shown in templates.
	Tips string
}

// EntityDefinition is the immutable configuration for one entity type.
type EntityDefinition struct {
	Type  EntityType
	Label string
	// Columns in template order. Exactly one column is the external
	// identifier column named by ExternalIDColumn.
	Columns []ColumnDefinition
	// ExternalIDColumn names the column carrying the source system's
	// identifier for each row. Unique within a file and a batch.
	ExternalIDColumn string
	// DependsOn lists the entity types that must import before this one.
	DependsOn []EntityType
	// Priority breaks ties between types at the same dependency depth.
	// Lower imports first.
	Priority int
	// FileAliases are normalized file base names that detect this type.
	FileAliases []string
}

// Column returns the definition for a column by name (case-insensitive).
func (d EntityDefinition) Column(name string) (ColumnDefinition, bool) {
	for _, col := range d.Columns {
		if strings.EqualFold(col.Name, name) {
			return col, true
		}
	}
	return ColumnDefinition{}, false
}

// RequiredColumns returns the names of all required columns.
func (d EntityDefinition) RequiredColumns() []string {
	var out []string
	for _, col := range d.Columns {
		if col.Required {
			out = append(out, col.Name)
		}
	}
	return out
}

// ReferenceColumns returns the columns that reference other entity types.
func (d EntityDefinition) ReferenceColumns() []ColumnDefinition {
	var out []ColumnDefinition
	for _, col := range d.Columns {
		if col.Type == ColReference {
			out = append(out, col)
		}
	}
	return out
}

// CategoryColumns returns the columns reconciled against canonical values.
func (d EntityDefinition) CategoryColumns() []ColumnDefinition {
	var out []ColumnDefinition
	for _, col := range d.Columns {
		if col.Type == ColCategory {
			out = append(out, col)
		}
	}
	return out
}

var (
	registry   = make(map[EntityType]EntityDefinition)
	registryMu sync.RWMutex
)

// Register adds an entity definition to the registry.
// Panics if the type is already registered or the definition is malformed;
// registration happens at init time where a panic is the right failure.
func Register(def EntityDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[def.Type]; exists {
		panic(fmt.Sprintf("entity type already registered: %s", def.Type))
	}
	if def.ExternalIDColumn == "" {
		panic(fmt.Sprintf("entity type %s has no external id column", def.Type))
	}
	if _, ok := findColumn(def.Columns, def.ExternalIDColumn); !ok {
		panic(fmt.Sprintf("entity type %s: external id column %q not in columns", def.Type, def.ExternalIDColumn))
	}

	registry[def.Type] = def
}

func findColumn(cols []ColumnDefinition, name string) (ColumnDefinition, bool) {
	for _, col := range cols {
		if strings.EqualFold(col.Name, name) {
			return col, true
		}
	}
	return ColumnDefinition{}, false
}

// Get returns an entity definition by type.
// Returns false if not found.
func Get(t EntityType) (EntityDefinition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[t]
	return def, ok
}

// All returns all registered entity definitions sorted by priority.
func All() []EntityDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]EntityDefinition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority != result[j].Priority {
			return result[i].Priority < result[j].Priority
		}
		return result[i].Type < result[j].Type
	})

	return result
}

// Count returns the number of registered entity types.
func Count() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// Clear removes all registered entity types.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[EntityType]EntityDefinition)
}
