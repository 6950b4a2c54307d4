// Package core provides the business logic for bulk legacy-data imports.
//
// This package is the heart of the importer, containing all domain logic
// independent of any transport layer. It is used by the web handlers, the
// importctl CLI, and tests without modification.
//
// # Architecture
//
// The package is organized around a session pipeline:
//
//   - Sessions: An [ImportSession] collects the uploaded files for one
//     organization and walks a fixed state machine
//     (uploaded -> validated -> mapped -> executing -> completed).
//   - Parsing: [ParseFile] turns delimited text into a [ParsedFile] with a
//     detected entity type, a normalized header, and cleaned rows.
//   - Validation: [Service.Validate] runs structural, row, and cross-file
//     reference checks and returns every [ValidationIssue] at once. A session
//     advances only when no issue has severity error.
//   - Mapping: Category columns (case types, update types, event types) carry
//     free-form legacy values. [Service.CollectMappings] gathers the distinct
//     values and suggests canonical matches; the caller confirms a
//     [MappingPlan] before execution.
//   - Execution: [Service.Execute] creates an [ImportBatch], imports records
//     in dependency order, isolates per-record failures, and appends an
//     immutable log. Batches for one organization never run concurrently.
//   - Corrections: Failed records can be fixed and re-imported through a new
//     batch that references the original. Original records are never mutated.
//
// # Entity Catalog
//
// The importable entity types, their columns, and their dependency edges live
// in the schema package. Import order is derived from the dependency graph,
// never hardcoded.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - IMP001-IMP006: Import execution errors (references, duplicates, store)
//   - VAL001-VAL005: Validation errors (formats, missing columns)
//   - FILE001-FILE004: File errors (size, encoding, format)
//   - SES001-SES004: Session errors (state, not found, busy)
//
// # Audit Trail
//
// Every batch keeps an append-only log of what happened during execution.
// Log entries are never updated or deleted; rollback voids imported entities
// logically and records the void as another log entry.
package core
