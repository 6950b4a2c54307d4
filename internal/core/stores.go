package core

// stores.go declares the persistence contracts the pipeline runs against.
// Implementations live in internal/store: a pgx-backed pair for production
// and an in-memory pair for tests and dev mode. Every call names the
// organization explicitly; nothing infers tenancy from ambient state.

import (
	"context"

	"github.com/google/uuid"

	"github.com/casevault/importer/internal/schema"
)

// NewEntity is the payload for creating one case-management entity during
// batch execution. Fields carries cleaned cell values keyed by column name;
// References carries already-resolved internal IDs for reference columns.
type NewEntity struct {
	Org        uuid.UUID
	Type       schema.EntityType
	ExternalID string
	BatchID    uuid.UUID
	Fields     map[string]string
	References map[string]uuid.UUID
}

// CanonicalValue is one entry of an organization's controlled vocabulary
// for a category column.
type CanonicalValue struct {
	ID       uuid.UUID `json:"id"`
	Org      uuid.UUID `json:"organizationId"`
	Category string    `json:"category"`
	Value    string    `json:"value"`
}

// RecordStore is the entity side of persistence: the case-management tables
// imports write into and read references from.
type RecordStore interface {
	// CreateEntity stores one entity and returns its internal ID. A
	// duplicate (org, type, external ID) among live entities is an error.
	CreateEntity(ctx context.Context, e NewEntity) (uuid.UUID, error)

	// LookupByExternalID resolves a source-system identifier to an internal
	// ID. Voided entities do not resolve.
	LookupByExternalID(ctx context.Context, org uuid.UUID, typ schema.EntityType, externalID string) (uuid.UUID, bool, error)

	// ResolveExternalIDs is the batch form of LookupByExternalID. IDs that
	// do not resolve are absent from the result.
	ResolveExternalIDs(ctx context.Context, org uuid.UUID, typ schema.EntityType, externalIDs []string) (map[string]uuid.UUID, error)

	// ListCanonicalValues returns the organization's vocabulary for one
	// category, sorted by value.
	ListCanonicalValues(ctx context.Context, org uuid.UUID, category string) ([]CanonicalValue, error)

	// CreateCanonicalValue adds a vocabulary entry. Creating a value that
	// already exists returns the existing entry.
	CreateCanonicalValue(ctx context.Context, org uuid.UUID, category, value string) (CanonicalValue, error)

	// VoidBatchEntities logically voids every entity a batch created and
	// returns how many were voided. Voided rows stay in storage but stop
	// resolving in lookups.
	VoidBatchEntities(ctx context.Context, org uuid.UUID, batchID uuid.UUID) (int64, error)
}

// BatchStore is the import bookkeeping side of persistence: batches,
// records, and the append-only log.
type BatchStore interface {
	CreateBatch(ctx context.Context, b *ImportBatch) error
	GetBatch(ctx context.Context, org, id uuid.UUID) (*ImportBatch, error)

	// ListBatches returns the organization's batches, newest first.
	ListBatches(ctx context.Context, org uuid.UUID) ([]*ImportBatch, error)

	// SetBatchStatus moves a batch from one status to another. The move
	// fails if the batch is not currently in from, which also serves as an
	// optimistic guard against double execution.
	SetBatchStatus(ctx context.Context, org, id uuid.UUID, from, to BatchStatus) error

	// FinishBatch records final counts, the error text, and the finish
	// timestamp alongside the closing status transition. The move must be
	// legal from the batch's current status.
	FinishBatch(ctx context.Context, org, id uuid.UUID, to BatchStatus, imported, failed int, execErr string) error

	CreateRecords(ctx context.Context, records []*ImportRecord) error

	// ListRecords returns a batch's records in creation order. A non-empty
	// status narrows the list to records in that status.
	ListRecords(ctx context.Context, org, batchID uuid.UUID, status RecordStatus) ([]*ImportRecord, error)
	GetRecord(ctx context.Context, org, id uuid.UUID) (*ImportRecord, error)

	// SetRecordResult settles one record. Records settle once; moving a
	// settled record again is an error.
	SetRecordResult(ctx context.Context, org, id uuid.UUID, status RecordStatus, entityID uuid.UUID, message string) error

	AppendLog(ctx context.Context, entry *ImportLogEntry) error

	// ListLog returns a batch's audit trail in append order.
	ListLog(ctx context.Context, org, batchID uuid.UUID) ([]*ImportLogEntry, error)
}
