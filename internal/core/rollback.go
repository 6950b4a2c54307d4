package core

// rollback.go undoes a completed batch without destroying history. Every
// entity the batch created is voided in place; voided entities stop
// resolving in lookups but stay in storage. The batch's records and log
// are untouched, and the rollback itself becomes a log entry.

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/casevault/importer/internal/schema"
)

// RollbackPreview summarizes what rolling a batch back would void.
type RollbackPreview struct {
	BatchID  uuid.UUID                 `json:"batchId"`
	Entities int                       `json:"entities"`
	ByType   map[schema.EntityType]int `json:"byType"`
}

// PreviewRollback reports what RollbackBatch would void, without changing
// anything.
func (s *Service) PreviewRollback(ctx context.Context, org, batchID uuid.UUID) (RollbackPreview, error) {
	batch, err := s.batches.GetBatch(ctx, org, batchID)
	if err != nil {
		return RollbackPreview{}, err
	}
	if batch.Status != BatchCompleted {
		return RollbackPreview{}, fmt.Errorf("%w: batch is %s", ErrNotRollbackable, batch.Status)
	}

	imported, err := s.batches.ListRecords(ctx, org, batchID, RecordImported)
	if err != nil {
		return RollbackPreview{}, err
	}

	preview := RollbackPreview{
		BatchID: batchID,
		ByType:  make(map[schema.EntityType]int),
	}
	for _, r := range imported {
		preview.Entities++
		preview.ByType[r.Type]++
	}
	return preview, nil
}

// RollbackBatch voids every entity a completed batch created and moves the
// batch to rolled_back. Returns the updated batch and how many entities
// were voided. Rollbacks take the organization's import lock so they never
// interleave with a running batch.
func (s *Service) RollbackBatch(ctx context.Context, org, batchID uuid.UUID) (ImportBatch, int64, error) {
	release, err := s.orgs.Acquire(ctx, org)
	if err != nil {
		return ImportBatch{}, 0, err
	}
	defer release()

	batch, err := s.batches.GetBatch(ctx, org, batchID)
	if err != nil {
		return ImportBatch{}, 0, err
	}
	if batch.Status != BatchCompleted {
		return ImportBatch{}, 0, fmt.Errorf("%w: batch is %s", ErrNotRollbackable, batch.Status)
	}

	// Void before the status move: voiding is idempotent, so a failure
	// past this point is safe to retry.
	voided, err := s.records.VoidBatchEntities(ctx, org, batchID)
	if err != nil {
		return ImportBatch{}, 0, fmt.Errorf("void batch entities: %w", err)
	}

	if err := s.batches.SetBatchStatus(ctx, org, batchID, BatchCompleted, BatchRolledBack); err != nil {
		return ImportBatch{}, voided, fmt.Errorf("mark batch rolled back: %w", err)
	}

	out := *batch
	out.Status = BatchRolledBack
	s.appendLog(ctx, &out, LogRolledBack, "", uuid.Nil,
		fmt.Sprintf("%d entities voided", voided))

	s.log.InfoContext(ctx, "batch rolled back",
		"batch_id", batchID,
		"org_id", org,
		"voided", voided,
	)
	return out, voided, nil
}
