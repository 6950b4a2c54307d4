package schema

// catalog.go registers the twelve entity types accepted from legacy
// case-management exports. The dependency edges form a fixed DAG; the
// priority values break ordering ties and never change at runtime.

// Entity type identifiers. The import order is derived from DependsOn
// edges, not from these constants.
const (
	TypeOrganizations   EntityType = "organizations"
	TypeUsers           EntityType = "users"
	TypeContacts        EntityType = "contacts"
	TypeAccounts        EntityType = "accounts"
	TypeCases           EntityType = "cases"
	TypeCaseContacts    EntityType = "case_contacts"
	TypeCaseAssignments EntityType = "case_assignments"
	TypeUpdates         EntityType = "updates"
	TypeEvents          EntityType = "events"
	TypeTasks           EntityType = "tasks"
	TypeDocuments       EntityType = "documents"
	TypeTimeEntries     EntityType = "time_entries"
)

// Category vocabulary names used by ColCategory columns.
const (
	CategoryCaseType   = "case_type"
	CategoryUpdateType = "update_type"
	CategoryEventType  = "event_type"
)

// ExternalIDColumn is the column every export file uses for the source
// system's row identifier.
const ExternalIDColumn = "legacy_id"

func init() {
	Register(EntityDefinition{
		Type:             TypeOrganizations,
		Label:            "Organizations",
		ExternalIDColumn: ExternalIDColumn,
		Priority:         10,
		FileAliases:      []string{"organization", "organizations", "orgs"},
		Columns: []ColumnDefinition{
			{Name: "legacy_id", Required: true, Type: ColText, Tips: "Source system organization ID"},
			{Name: "name", Required: true, Type: ColText},
			{Name: "org_type", Type: ColText},
			{Name: "phone", Type: ColText},
			{Name: "email", Type: ColText},
			{Name: "address", Type: ColText},
			{Name: "city", Type: ColText},
			{Name: "state", Type: ColText},
			{Name: "postal_code", Type: ColText},
			{Name: "active", Type: ColBool},
			{Name: "created_date", Type: ColDate},
		},
	})

	Register(EntityDefinition{
		Type:             TypeUsers,
		Label:            "Users",
		ExternalIDColumn: ExternalIDColumn,
		Priority:         20,
		FileAliases:      []string{"user", "users", "staff"},
		Columns: []ColumnDefinition{
			{Name: "legacy_id", Required: true, Type: ColText, Tips: "Source system user ID"},
			{Name: "first_name", Required: true, Type: ColText},
			{Name: "last_name", Required: true, Type: ColText},
			{Name: "email", Required: true, Type: ColText},
			{Name: "role", Type: ColText},
			{Name: "active", Type: ColBool},
		},
	})

	Register(EntityDefinition{
		Type:             TypeContacts,
		Label:            "Contacts",
		ExternalIDColumn: ExternalIDColumn,
		Priority:         30,
		DependsOn:        []EntityType{TypeOrganizations},
		FileAliases:      []string{"contact", "contacts", "people"},
		Columns: []ColumnDefinition{
			{Name: "legacy_id", Required: true, Type: ColText, Tips: "Source system contact ID"},
			{Name: "organization_id", Type: ColReference, RefEntity: TypeOrganizations, Tips: "legacy_id of the owning organization"},
			{Name: "first_name", Required: true, Type: ColText},
			{Name: "last_name", Required: true, Type: ColText},
			{Name: "email", Type: ColText},
			{Name: "phone", Type: ColText},
			{Name: "date_of_birth", Type: ColDate},
		},
	})

	Register(EntityDefinition{
		Type:             TypeAccounts,
		Label:            "Accounts",
		ExternalIDColumn: ExternalIDColumn,
		Priority:         40,
		DependsOn:        []EntityType{TypeOrganizations},
		FileAliases:      []string{"account", "accounts"},
		Columns: []ColumnDefinition{
			{Name: "legacy_id", Required: true, Type: ColText},
			{Name: "organization_id", Required: true, Type: ColReference, RefEntity: TypeOrganizations},
			{Name: "name", Required: true, Type: ColText},
			{Name: "account_number", Type: ColText},
			{Name: "balance", Type: ColNumber},
			{Name: "opened_date", Type: ColDate},
		},
	})

	Register(EntityDefinition{
		Type:             TypeCases,
		Label:            "Cases",
		ExternalIDColumn: ExternalIDColumn,
		Priority:         50,
		DependsOn:        []EntityType{TypeOrganizations, TypeContacts},
		FileAliases:      []string{"case", "cases", "matters"},
		Columns: []ColumnDefinition{
			{Name: "legacy_id", Required: true, Type: ColText, Tips: "Source system case ID"},
			{Name: "organization_id", Required: true, Type: ColReference, RefEntity: TypeOrganizations},
			{Name: "contact_id", Type: ColReference, RefEntity: TypeContacts, Tips: "legacy_id of the primary contact"},
			{Name: "title", Required: true, Type: ColText},
			{Name: "case_type", Type: ColCategory, Category: CategoryCaseType},
			{Name: "status", Type: ColText},
			{Name: "opened_date", Type: ColDate},
			{Name: "closed_date", Type: ColDate},
			{Name: "description", Type: ColText},
		},
	})

	Register(EntityDefinition{
		Type:             TypeCaseContacts,
		Label:            "Case Contacts",
		ExternalIDColumn: ExternalIDColumn,
		Priority:         60,
		DependsOn:        []EntityType{TypeCases, TypeContacts},
		FileAliases:      []string{"case_contact", "case_contacts", "casecontacts"},
		Columns: []ColumnDefinition{
			{Name: "legacy_id", Required: true, Type: ColText},
			{Name: "case_id", Required: true, Type: ColReference, RefEntity: TypeCases},
			{Name: "contact_id", Required: true, Type: ColReference, RefEntity: TypeContacts},
			{Name: "role", Type: ColText},
		},
	})

	Register(EntityDefinition{
		Type:             TypeCaseAssignments,
		Label:            "Case Assignments",
		ExternalIDColumn: ExternalIDColumn,
		Priority:         70,
		DependsOn:        []EntityType{TypeCases, TypeUsers},
		FileAliases:      []string{"case_assignment", "case_assignments", "assignments"},
		Columns: []ColumnDefinition{
			{Name: "legacy_id", Required: true, Type: ColText},
			{Name: "case_id", Required: true, Type: ColReference, RefEntity: TypeCases},
			{Name: "user_id", Required: true, Type: ColReference, RefEntity: TypeUsers},
			{Name: "assigned_date", Type: ColDate},
			{Name: "is_primary", Type: ColBool},
		},
	})

	Register(EntityDefinition{
		Type:             TypeUpdates,
		Label:            "Case Updates",
		ExternalIDColumn: ExternalIDColumn,
		Priority:         80,
		DependsOn:        []EntityType{TypeCases},
		FileAliases:      []string{"update", "updates", "case_updates"},
		Columns: []ColumnDefinition{
			{Name: "legacy_id", Required: true, Type: ColText},
			{Name: "case_id", Required: true, Type: ColReference, RefEntity: TypeCases},
			{Name: "update_type", Type: ColCategory, Category: CategoryUpdateType, Tips: "Reconciled against the organization's update types"},
			{Name: "subject", Type: ColText},
			{Name: "body", Required: true, Type: ColText},
			{Name: "created_date", Type: ColDate},
		},
	})

	Register(EntityDefinition{
		Type:             TypeEvents,
		Label:            "Events",
		ExternalIDColumn: ExternalIDColumn,
		Priority:         90,
		DependsOn:        []EntityType{TypeCases},
		FileAliases:      []string{"event", "events", "calendar"},
		Columns: []ColumnDefinition{
			{Name: "legacy_id", Required: true, Type: ColText},
			{Name: "case_id", Required: true, Type: ColReference, RefEntity: TypeCases},
			{Name: "event_type", Type: ColCategory, Category: CategoryEventType},
			{Name: "title", Required: true, Type: ColText},
			{Name: "start_time", Type: ColDate},
			{Name: "end_time", Type: ColDate},
			{Name: "location", Type: ColText},
		},
	})

	Register(EntityDefinition{
		Type:             TypeTasks,
		Label:            "Tasks",
		ExternalIDColumn: ExternalIDColumn,
		Priority:         100,
		DependsOn:        []EntityType{TypeCases, TypeUsers},
		FileAliases:      []string{"task", "tasks"},
		Columns: []ColumnDefinition{
			{Name: "legacy_id", Required: true, Type: ColText},
			{Name: "case_id", Required: true, Type: ColReference, RefEntity: TypeCases},
			{Name: "user_id", Type: ColReference, RefEntity: TypeUsers, Tips: "legacy_id of the assignee"},
			{Name: "title", Required: true, Type: ColText},
			{Name: "due_date", Type: ColDate},
			{Name: "completed", Type: ColBool},
		},
	})

	Register(EntityDefinition{
		Type:             TypeDocuments,
		Label:            "Documents",
		ExternalIDColumn: ExternalIDColumn,
		Priority:         110,
		DependsOn:        []EntityType{TypeCases},
		FileAliases:      []string{"document", "documents", "files"},
		Columns: []ColumnDefinition{
			{Name: "legacy_id", Required: true, Type: ColText},
			{Name: "case_id", Required: true, Type: ColReference, RefEntity: TypeCases},
			{Name: "file_name", Required: true, Type: ColText},
			{Name: "doc_date", Type: ColDate},
			{Name: "description", Type: ColText},
		},
	})

	Register(EntityDefinition{
		Type:             TypeTimeEntries,
		Label:            "Time Entries",
		ExternalIDColumn: ExternalIDColumn,
		Priority:         120,
		DependsOn:        []EntityType{TypeCases, TypeUsers},
		FileAliases:      []string{"time_entry", "time_entries", "timeentries", "timesheet"},
		Columns: []ColumnDefinition{
			{Name: "legacy_id", Required: true, Type: ColText},
			{Name: "case_id", Required: true, Type: ColReference, RefEntity: TypeCases},
			{Name: "user_id", Required: true, Type: ColReference, RefEntity: TypeUsers},
			{Name: "entry_date", Required: true, Type: ColDate},
			{Name: "hours", Required: true, Type: ColNumber},
			{Name: "billable", Type: ColBool},
			{Name: "notes", Type: ColText},
		},
	})
}
