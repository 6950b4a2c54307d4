package core

// queries.go is the read side of batches, records, and the audit log.
// Thin pass-throughs; tenancy stays explicit all the way down.

import (
	"context"

	"github.com/google/uuid"
)

// GetBatch returns one batch.
func (s *Service) GetBatch(ctx context.Context, org, id uuid.UUID) (*ImportBatch, error) {
	return s.batches.GetBatch(ctx, org, id)
}

// ListBatches returns the organization's batches, newest first.
func (s *Service) ListBatches(ctx context.Context, org uuid.UUID) ([]*ImportBatch, error) {
	return s.batches.ListBatches(ctx, org)
}

// ListRecords returns a batch's records in creation order. A non-empty
// status narrows the list to records in that status.
func (s *Service) ListRecords(ctx context.Context, org, batchID uuid.UUID, status RecordStatus) ([]*ImportRecord, error) {
	if _, err := s.batches.GetBatch(ctx, org, batchID); err != nil {
		return nil, err
	}
	return s.batches.ListRecords(ctx, org, batchID, status)
}

// GetRecord returns one record.
func (s *Service) GetRecord(ctx context.Context, org, id uuid.UUID) (*ImportRecord, error) {
	return s.batches.GetRecord(ctx, org, id)
}

// ListLog returns a batch's audit trail in append order.
func (s *Service) ListLog(ctx context.Context, org, batchID uuid.UUID) ([]*ImportLogEntry, error) {
	if _, err := s.batches.GetBatch(ctx, org, batchID); err != nil {
		return nil, err
	}
	return s.batches.ListLog(ctx, org, batchID)
}
