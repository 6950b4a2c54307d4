package core

// orchestrator.go executes a mapped session as a durable batch. Execution
// walks entity types in dependency order and isolates failures at the row:
// one bad row fails one record, never the batch. Failure does propagate
// along references, in two forms:
//
//   - type level: when a prerequisite type that was part of the batch ends
//     with zero imported records, every record of the dependent type fails
//     without an attempt;
//   - row level: a row referencing a specific in-batch row that failed
//     fails without an attempt.
//
// A batch only ends failed when the machinery itself dies (store down,
// panic, cancellation); a batch whose records all failed individually
// still completes.

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/casevault/importer/internal/schema"
)

// Execute turns a mapped session into an import batch and runs it to the
// end. The call blocks until the batch settles; per-organization
// serialization means a second Execute for the same organization waits for
// the first.
func (s *Service) Execute(ctx context.Context, sessionID uuid.UUID) (ImportBatch, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ImportBatch{}, ErrSessionNotFound
	}
	if sess.State != StateMapped {
		state := sess.State
		s.mu.Unlock()
		return ImportBatch{}, fmt.Errorf("%w: cannot execute in state %s", ErrInvalidState, state)
	}
	sess.State = StateExecuting
	sess.UpdatedAt = s.now()
	org := sess.Org
	plan := sess.Plan
	files := make([]*ParsedFile, len(sess.Files))
	copy(files, sess.Files)
	s.mu.Unlock()

	batch, err := s.runSession(ctx, org, sessionID, files, plan)

	s.mu.Lock()
	if sess, ok := s.sessions[sessionID]; ok {
		if err != nil {
			sess.State = StateMapped
		} else {
			sess.State = StateCompleted
			sess.BatchID = batch.ID
		}
		sess.UpdatedAt = s.now()
	}
	s.mu.Unlock()

	return batch, err
}

// runSession creates the batch with its record snapshot and drives it
// through execution under the organization's lock.
func (s *Service) runSession(ctx context.Context, org, sessionID uuid.UUID, files []*ParsedFile, plan *MappingPlan) (ImportBatch, error) {
	release, err := s.orgs.Acquire(ctx, org)
	if err != nil {
		return ImportBatch{}, err
	}
	defer release()

	if err := s.limiter.Acquire(ctx); err != nil {
		return ImportBatch{}, err
	}
	defer s.limiter.Release()

	now := s.now()
	batch := &ImportBatch{
		ID:        uuid.New(),
		Org:       org,
		SessionID: sessionID,
		Status:    BatchPending,
		CreatedAt: now,
	}
	for _, f := range files {
		batch.Files = append(batch.Files, f.Name)
	}

	records := snapshotRecords(batch, files, s.now)
	batch.TotalRecords = len(records)

	if err := s.batches.CreateBatch(ctx, batch); err != nil {
		return ImportBatch{}, fmt.Errorf("create batch: %w", err)
	}
	s.appendLog(ctx, batch, LogBatchCreated, "", uuid.Nil,
		fmt.Sprintf("%d records across %d files", len(records), len(files)))

	if err := s.batches.CreateRecords(ctx, records); err != nil {
		s.failBatch(ctx, batch, err)
		return *batch, fmt.Errorf("create records: %w", err)
	}

	return s.runBatch(ctx, batch, records, plan)
}

// runBatch executes a batch whose records are already persisted as
// pending. Shared by session execution and correction execution.
func (s *Service) runBatch(ctx context.Context, batch *ImportBatch, records []*ImportRecord, plan *MappingPlan) (result ImportBatch, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicErr := fmt.Errorf("execution panicked: %v", r)
			s.log.Error("batch execution panicked", "batch_id", batch.ID, "panic", r)
			s.failBatch(ctx, batch, panicErr)
			result, err = *batch, panicErr
		}
	}()

	if err := s.batches.SetBatchStatus(ctx, batch.Org, batch.ID, BatchPending, BatchRunning); err != nil {
		s.failBatch(ctx, batch, err)
		return *batch, fmt.Errorf("start batch: %w", err)
	}
	batch.Status = BatchRunning
	batch.StartedAt = s.now()
	s.appendLog(ctx, batch, LogBatchStarted, "", uuid.Nil, "")

	order, err := schema.ImportOrder()
	if err != nil {
		s.failBatch(ctx, batch, err)
		return *batch, err
	}

	// Reference resolution keys on the source-system ID even for correction
	// batches, whose records carry prefixed identifiers.
	byType := make(map[schema.EntityType][]*ImportRecord)
	inBatch := make(map[schema.EntityType]map[string]bool)
	for _, r := range records {
		byType[r.Type] = append(byType[r.Type], r)
		if inBatch[r.Type] == nil {
			inBatch[r.Type] = make(map[string]bool)
		}
		inBatch[r.Type][referenceKey(r.ExternalID)] = true
	}

	// success maps external ID -> created entity per type, feeding both
	// reference resolution and failure propagation.
	success := make(map[schema.EntityType]map[string]uuid.UUID)
	createdValues := make(map[string]bool)

	for _, typ := range order {
		typeRecords := byType[typ]
		if len(typeRecords) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			s.failBatch(ctx, batch, err)
			return *batch, err
		}

		def, ok := schema.Get(typ)
		if !ok {
			err := fmt.Errorf("entity type %s is not registered", typ)
			s.failBatch(ctx, batch, err)
			return *batch, err
		}

		// Type-level propagation: a prerequisite that took part in this
		// batch and imported nothing sinks all of its dependents.
		if dead := deadPrerequisite(def, byType, success); dead != "" {
			s.appendLog(ctx, batch, LogTypeSkipped, typ, uuid.Nil,
				fmt.Sprintf("no %s records were imported", dead))
			for _, r := range typeRecords {
				msg := fmt.Sprintf("not attempted: no %s records were imported", dead)
				if err := s.settleRecord(ctx, batch, r, RecordFailed, uuid.Nil, msg); err != nil {
					s.failBatch(ctx, batch, err)
					return *batch, err
				}
				batch.FailedCount++
			}
			continue
		}

		s.appendLog(ctx, batch, LogTypeStarted, typ, uuid.Nil,
			fmt.Sprintf("%d records", len(typeRecords)))

		resolved, err := s.preResolveReferences(ctx, batch.Org, def, typeRecords, inBatch)
		if err != nil {
			s.failBatch(ctx, batch, err)
			return *batch, err
		}

		typeImported, typeFailed := 0, 0
		for _, r := range typeRecords {
			st, entityID, msg, err := s.importRecord(ctx, batch, def, r, plan, inBatch, success, resolved, createdValues)
			if err != nil {
				s.failBatch(ctx, batch, err)
				return *batch, err
			}
			if err := s.settleRecord(ctx, batch, r, st, entityID, msg); err != nil {
				s.failBatch(ctx, batch, err)
				return *batch, err
			}
			if st == RecordImported {
				if success[typ] == nil {
					success[typ] = make(map[string]uuid.UUID)
				}
				success[typ][referenceKey(r.ExternalID)] = entityID
				typeImported++
			} else {
				typeFailed++
			}
		}
		batch.ImportedCount += typeImported
		batch.FailedCount += typeFailed

		s.appendLog(ctx, batch, LogTypeCompleted, typ, uuid.Nil,
			fmt.Sprintf("%d imported, %d failed", typeImported, typeFailed))
	}

	if err := s.batches.FinishBatch(ctx, batch.Org, batch.ID, BatchCompleted, batch.ImportedCount, batch.FailedCount, ""); err != nil {
		s.failBatch(ctx, batch, err)
		return *batch, fmt.Errorf("finish batch: %w", err)
	}
	batch.Status = BatchCompleted
	batch.FinishedAt = s.now()
	s.appendLog(ctx, batch, LogBatchCompleted, "", uuid.Nil,
		fmt.Sprintf("%d imported, %d failed", batch.ImportedCount, batch.FailedCount))

	s.log.Info("batch completed",
		"batch_id", batch.ID,
		"org_id", batch.Org,
		"imported", batch.ImportedCount,
		"failed", batch.FailedCount,
		"duration_ms", time.Since(batch.StartedAt).Milliseconds(),
	)
	return *batch, nil
}

// importRecord works out the outcome of one record: mapping resolution,
// reference resolution, then entity creation. A non-nil error means the
// store itself broke and the batch must stop; record-level problems come
// back as a failed status instead.
func (s *Service) importRecord(
	ctx context.Context,
	batch *ImportBatch,
	def schema.EntityDefinition,
	r *ImportRecord,
	plan *MappingPlan,
	inBatch map[schema.EntityType]map[string]bool,
	success map[schema.EntityType]map[string]uuid.UUID,
	resolved map[schema.EntityType]map[string]uuid.UUID,
	createdValues map[string]bool,
) (RecordStatus, uuid.UUID, string, error) {
	fields := make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}

	if plan != nil {
		for _, col := range def.CategoryColumns() {
			raw := strings.TrimSpace(fields[col.Name])
			if raw == "" {
				continue
			}
			mapped, createNew, ok := plan.Resolve(col.Category, raw)
			if !ok {
				return RecordFailed, uuid.Nil,
					fmt.Sprintf("category value %q in %s has no mapping", raw, col.Name), nil
			}
			if createNew {
				key := col.Category + "\x00" + strings.ToLower(mapped)
				if !createdValues[key] {
					if _, err := s.records.CreateCanonicalValue(ctx, batch.Org, col.Category, mapped); err != nil {
						return RecordPending, uuid.Nil, "", fmt.Errorf("create canonical value: %w", err)
					}
					s.appendLog(ctx, batch, LogValueCreated, r.Type, uuid.Nil,
						fmt.Sprintf("%s %q", col.Category, mapped))
					createdValues[key] = true
				}
			}
			fields[col.Name] = mapped
		}
	}

	refs := make(map[string]uuid.UUID)
	for _, col := range def.ReferenceColumns() {
		raw := strings.TrimSpace(fields[col.Name])
		if raw == "" {
			continue
		}
		folded := strings.ToLower(raw)

		if inBatch[col.RefEntity][folded] {
			id, ok := success[col.RefEntity][folded]
			if !ok {
				return RecordFailed, uuid.Nil,
					fmt.Sprintf("not attempted: depends on %s %q, which failed", col.RefEntity, raw), nil
			}
			refs[col.Name] = id
			continue
		}

		id, ok := resolved[col.RefEntity][folded]
		if !ok {
			return RecordFailed, uuid.Nil,
				fmt.Sprintf("unresolved reference: %s %q does not exist", col.RefEntity, raw), nil
		}
		refs[col.Name] = id
	}

	// Entities answer to the source-system identifier; only the record
	// bookkeeping carries the correction prefix.
	entityID, err := s.records.CreateEntity(ctx, NewEntity{
		Org:        batch.Org,
		Type:       r.Type,
		ExternalID: originalExternalID(r.ExternalID),
		BatchID:    batch.ID,
		Fields:     fields,
		References: refs,
	})
	if err != nil {
		if storeBroken(err) {
			return RecordPending, uuid.Nil, "", err
		}
		return RecordFailed, uuid.Nil, FormatUserError(err), nil
	}

	return RecordImported, entityID, "", nil
}

// preResolveReferences resolves, in one store call per target type, every
// reference the type's records make to entities outside the batch.
func (s *Service) preResolveReferences(
	ctx context.Context,
	org uuid.UUID,
	def schema.EntityDefinition,
	typeRecords []*ImportRecord,
	inBatch map[schema.EntityType]map[string]bool,
) (map[schema.EntityType]map[string]uuid.UUID, error) {
	wanted := make(map[schema.EntityType]map[string]bool)
	for _, col := range def.ReferenceColumns() {
		for _, r := range typeRecords {
			raw := strings.TrimSpace(r.Fields[col.Name])
			if raw == "" {
				continue
			}
			folded := strings.ToLower(raw)
			if inBatch[col.RefEntity][folded] {
				continue
			}
			if wanted[col.RefEntity] == nil {
				wanted[col.RefEntity] = make(map[string]bool)
			}
			wanted[col.RefEntity][folded] = true
		}
	}

	out := make(map[schema.EntityType]map[string]uuid.UUID, len(wanted))
	for typ, ids := range wanted {
		list := make([]string, 0, len(ids))
		for id := range ids {
			list = append(list, id)
		}
		found, err := s.records.ResolveExternalIDs(ctx, org, typ, list)
		if err != nil {
			return nil, fmt.Errorf("resolve %s references: %w", typ, err)
		}
		folded := make(map[string]uuid.UUID, len(found))
		for id, entityID := range found {
			folded[strings.ToLower(id)] = entityID
		}
		out[typ] = folded
	}
	return out, nil
}

// deadPrerequisite returns the first dependency that took part in the
// batch and imported nothing, or "" when the type may proceed.
func deadPrerequisite(def schema.EntityDefinition, byType map[schema.EntityType][]*ImportRecord, success map[schema.EntityType]map[string]uuid.UUID) schema.EntityType {
	for _, dep := range def.DependsOn {
		if len(byType[dep]) == 0 {
			continue
		}
		if len(success[dep]) == 0 {
			return dep
		}
	}
	return ""
}

// settleRecord writes one record's final status and logs failures.
func (s *Service) settleRecord(ctx context.Context, batch *ImportBatch, r *ImportRecord, st RecordStatus, entityID uuid.UUID, msg string) error {
	if err := s.batches.SetRecordResult(ctx, batch.Org, r.ID, st, entityID, msg); err != nil {
		return fmt.Errorf("settle record %s: %w", r.ID, err)
	}
	r.Status = st
	r.EntityID = entityID
	r.Message = msg
	if st == RecordFailed {
		s.appendLog(ctx, batch, LogRecordFailed, r.Type, r.ID, msg)
	}
	return nil
}

// failBatch marks a batch failed after an infrastructure error. Best
// effort: the batch may be unreachable for the same reason the execution
// died, so errors here are only logged.
func (s *Service) failBatch(ctx context.Context, batch *ImportBatch, cause error) {
	batch.Status = BatchFailed
	batch.Error = cause.Error()
	batch.FinishedAt = s.now()
	if err := s.batches.FinishBatch(ctx, batch.Org, batch.ID, BatchFailed, batch.ImportedCount, batch.FailedCount, cause.Error()); err != nil {
		s.log.Error("could not mark batch failed", "batch_id", batch.ID, "error", err)
		return
	}
	s.appendLog(ctx, batch, LogBatchFailed, "", uuid.Nil, cause.Error())
}

// appendLog writes one audit entry. Log failures never stop execution.
func (s *Service) appendLog(ctx context.Context, batch *ImportBatch, event LogEvent, typ schema.EntityType, recordID uuid.UUID, msg string) {
	entry := &ImportLogEntry{
		ID:       uuid.New(),
		BatchID:  batch.ID,
		Org:      batch.Org,
		At:       s.now(),
		Event:    event,
		Type:     typ,
		RecordID: recordID,
		Message:  msg,
	}
	if err := s.batches.AppendLog(ctx, entry); err != nil {
		s.log.Error("could not append batch log", "batch_id", batch.ID, "event", event, "error", err)
	}
}

// snapshotRecords freezes the session's rows into pending records, in
// import order so record listings read naturally.
func snapshotRecords(batch *ImportBatch, files []*ParsedFile, now func() time.Time) []*ImportRecord {
	var records []*ImportRecord
	order, err := schema.ImportOrder()
	if err != nil {
		order = nil
	}

	ordered := make([]*ParsedFile, 0, len(files))
	for _, typ := range order {
		for _, f := range files {
			if f.Type == typ {
				ordered = append(ordered, f)
			}
		}
	}
	if len(ordered) != len(files) {
		ordered = files
	}

	for _, f := range ordered {
		def, ok := schema.Get(f.Type)
		if !ok {
			continue
		}
		for i := range f.Rows {
			fields := make(map[string]string, len(def.Columns))
			for _, col := range def.Columns {
				if v := f.CellAt(i, col.Name); v != "" {
					fields[col.Name] = v
				}
			}
			ts := now()
			records = append(records, &ImportRecord{
				ID:         uuid.New(),
				BatchID:    batch.ID,
				Org:        batch.Org,
				Type:       f.Type,
				ExternalID: f.ExternalID(i),
				File:       f.Name,
				Row:        i + 1,
				Fields:     fields,
				Status:     RecordPending,
				CreatedAt:  ts,
				UpdatedAt:  ts,
			})
		}
	}
	return records
}

// storeBroken separates infrastructure failures from row-level store
// rejections. Duplicates and constraint violations fail the record;
// connectivity loss and cancellation fail the batch.
func storeBroken(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"context canceled",
		"context deadline exceeded",
		"failed to connect",
		"conn closed",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
