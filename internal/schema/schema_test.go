package schema

import (
	"strings"
	"testing"
)

// ============================================================================
// Registry Tests
// ============================================================================

func TestCatalogRegistered(t *testing.T) {
	if got := Count(); got != 12 {
		t.Fatalf("Count() = %d, want 12", got)
	}

	for _, typ := range []EntityType{
		TypeOrganizations, TypeUsers, TypeContacts, TypeAccounts,
		TypeCases, TypeCaseContacts, TypeCaseAssignments, TypeUpdates,
		TypeEvents, TypeTasks, TypeDocuments, TypeTimeEntries,
	} {
		def, ok := Get(typ)
		if !ok {
			t.Errorf("Get(%s) not found", typ)
			continue
		}
		if def.ExternalIDColumn != ExternalIDColumn {
			t.Errorf("%s: external id column = %q, want %q", typ, def.ExternalIDColumn, ExternalIDColumn)
		}
		if _, ok := def.Column(def.ExternalIDColumn); !ok {
			t.Errorf("%s: external id column %q missing from columns", typ, def.ExternalIDColumn)
		}
	}
}

func TestRegisterPanicsOnDuplicate(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Register of duplicate type did not panic")
		}
	}()

	Register(EntityDefinition{
		Type:             TypeCases,
		ExternalIDColumn: "legacy_id",
		Columns:          []ColumnDefinition{{Name: "legacy_id", Required: true, Type: ColText}},
	})
}

func TestRegisterPanicsWithoutExternalID(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Register without external id column did not panic")
		}
	}()

	Register(EntityDefinition{
		Type:    EntityType("orphans"),
		Columns: []ColumnDefinition{{Name: "name", Type: ColText}},
	})
}

func TestAllSortedByPriority(t *testing.T) {
	defs := All()
	for i := 1; i < len(defs); i++ {
		if defs[i-1].Priority > defs[i].Priority {
			t.Errorf("All() not sorted: %s (%d) before %s (%d)",
				defs[i-1].Type, defs[i-1].Priority, defs[i].Type, defs[i].Priority)
		}
	}
}

// ============================================================================
// Column Lookup Tests
// ============================================================================

func TestColumnLookup(t *testing.T) {
	def, ok := Get(TypeCases)
	if !ok {
		t.Fatal("cases not registered")
	}

	tests := []struct {
		name     string
		column   string
		wantOK   bool
		wantType ColumnType
	}{
		{name: "exact match", column: "title", wantOK: true, wantType: ColText},
		{name: "case insensitive", column: "TITLE", wantOK: true, wantType: ColText},
		{name: "reference column", column: "organization_id", wantOK: true, wantType: ColReference},
		{name: "category column", column: "case_type", wantOK: true, wantType: ColCategory},
		{name: "date column", column: "opened_date", wantOK: true, wantType: ColDate},
		{name: "unknown column", column: "nope", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			col, ok := def.Column(tt.column)
			if ok != tt.wantOK {
				t.Fatalf("Column(%q) ok = %v, want %v", tt.column, ok, tt.wantOK)
			}
			if ok && col.Type != tt.wantType {
				t.Errorf("Column(%q).Type = %v, want %v", tt.column, col.Type, tt.wantType)
			}
		})
	}
}

func TestReferenceColumns(t *testing.T) {
	def, _ := Get(TypeTimeEntries)
	refs := def.ReferenceColumns()
	if len(refs) != 2 {
		t.Fatalf("time_entries reference columns = %d, want 2", len(refs))
	}

	targets := map[EntityType]bool{}
	for _, col := range refs {
		targets[col.RefEntity] = true
	}
	if !targets[TypeCases] || !targets[TypeUsers] {
		t.Errorf("time_entries references = %v, want cases and users", targets)
	}
}

func TestCategoryColumns(t *testing.T) {
	tests := []struct {
		typ      EntityType
		want     int
		category string
	}{
		{typ: TypeCases, want: 1, category: CategoryCaseType},
		{typ: TypeUpdates, want: 1, category: CategoryUpdateType},
		{typ: TypeEvents, want: 1, category: CategoryEventType},
		{typ: TypeOrganizations, want: 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			def, _ := Get(tt.typ)
			cats := def.CategoryColumns()
			if len(cats) != tt.want {
				t.Fatalf("%s category columns = %d, want %d", tt.typ, len(cats), tt.want)
			}
			if tt.want > 0 && cats[0].Category != tt.category {
				t.Errorf("%s category = %q, want %q", tt.typ, cats[0].Category, tt.category)
			}
		})
	}
}

func TestRequiredColumns(t *testing.T) {
	def, _ := Get(TypeOrganizations)
	required := def.RequiredColumns()
	want := []string{"legacy_id", "name"}
	if len(required) != len(want) {
		t.Fatalf("organizations required = %v, want %v", required, want)
	}
	for i := range want {
		if !strings.EqualFold(required[i], want[i]) {
			t.Errorf("required[%d] = %q, want %q", i, required[i], want[i])
		}
	}
}

func TestColumnTypeString(t *testing.T) {
	tests := []struct {
		typ  ColumnType
		want string
	}{
		{ColText, "text"},
		{ColNumber, "number"},
		{ColDate, "date"},
		{ColBool, "boolean"},
		{ColReference, "reference"},
		{ColCategory, "category"},
		{ColumnType(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("ColumnType(%d).String() = %q, want %q", tt.typ, got, tt.want)
		}
	}
}
