package core

// correction.go re-imports the failed records of a completed batch. A
// correction starts as a draft: the batch's failed rows with their field
// values, editable until confirmed. Confirming revalidates the rows and
// executes them as a fresh batch that points back at the original through
// OriginalBatchID. The original batch and its records never change.

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/casevault/importer/internal/schema"
)

// Correction records carry a synthetic external identifier so their
// bookkeeping never collides with the failed originals:
// corr-<first 8 of the correction batch ID>-<original identifier>.
// The prefix is reserved; validation rejects source IDs of this shape.
var correctionPrefix = regexp.MustCompile(`^corr-[0-9a-f]{8}-`)

// correctionExternalID builds the synthetic identifier for one corrected
// record. Prefixes never stack: correcting a correction strips the old one
// first.
func correctionExternalID(batchID uuid.UUID, externalID string) string {
	return "corr-" + batchID.String()[:8] + "-" + originalExternalID(externalID)
}

// originalExternalID returns the source-system identifier behind a possibly
// synthetic one.
func originalExternalID(externalID string) string {
	return correctionPrefix.ReplaceAllString(externalID, "")
}

// referenceKey folds an external identifier for reference and success map
// lookups. Keys strip the correction prefix so corrected rows still answer
// to the source-system ID their siblings reference.
func referenceKey(externalID string) string {
	return correctionPrefix.ReplaceAllString(strings.ToLower(externalID), "")
}

// CorrectionRow is one failed record staged for re-import. Fields starts as
// the record's snapshot and takes the user's edits; Include controls
// whether the row joins the correction batch.
type CorrectionRow struct {
	RecordID   uuid.UUID         `json:"recordId"`
	Type       schema.EntityType `json:"entityType"`
	ExternalID string            `json:"externalId"`
	File       string            `json:"file,omitempty"`
	Row        int               `json:"row,omitempty"`
	Message    string            `json:"message,omitempty"`
	Fields     map[string]string `json:"fields"`
	Include    bool              `json:"include"`
}

// CorrectionDraft is the editable staging area for one batch's failed
// records. At most one draft exists per original batch.
type CorrectionDraft struct {
	ID              uuid.UUID       `json:"id"`
	Org             uuid.UUID       `json:"organizationId"`
	OriginalBatchID uuid.UUID       `json:"originalBatchId"`
	Rows            []CorrectionRow `json:"rows"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// CorrectionEdit changes one draft row. Fields merge by column name, with
// an empty value clearing the cell; a nil Include leaves the flag alone.
type CorrectionEdit struct {
	RecordID uuid.UUID         `json:"recordId"`
	Fields   map[string]string `json:"fields,omitempty"`
	Include  *bool             `json:"include,omitempty"`
}

// ListFailedRecords returns a batch's failed records, the raw material for
// a correction.
func (s *Service) ListFailedRecords(ctx context.Context, org, batchID uuid.UUID) ([]*ImportRecord, error) {
	if _, err := s.batches.GetBatch(ctx, org, batchID); err != nil {
		return nil, err
	}
	return s.batches.ListRecords(ctx, org, batchID, RecordFailed)
}

// StartCorrection opens a draft over a completed batch's failed records.
// Calling it again for the same batch returns the existing draft with any
// edits intact rather than a second one.
func (s *Service) StartCorrection(ctx context.Context, org, batchID uuid.UUID) (CorrectionDraft, error) {
	batch, err := s.batches.GetBatch(ctx, org, batchID)
	if err != nil {
		return CorrectionDraft{}, err
	}
	if batch.Status != BatchCompleted {
		return CorrectionDraft{}, fmt.Errorf("%w: batch is %s", ErrInvalidState, batch.Status)
	}
	if batch.FailedCount == 0 {
		return CorrectionDraft{}, ErrNothingToCorrect
	}

	s.mu.RLock()
	if id, ok := s.draftByBatch[batchID]; ok {
		existing := cloneDraft(s.drafts[id])
		s.mu.RUnlock()
		return existing, nil
	}
	s.mu.RUnlock()

	failed, err := s.batches.ListRecords(ctx, org, batchID, RecordFailed)
	if err != nil {
		return CorrectionDraft{}, err
	}
	if len(failed) == 0 {
		return CorrectionDraft{}, ErrNothingToCorrect
	}

	rows := make([]CorrectionRow, 0, len(failed))
	for _, r := range failed {
		fields := make(map[string]string, len(r.Fields))
		for k, v := range r.Fields {
			fields[k] = v
		}
		rows = append(rows, CorrectionRow{
			RecordID:   r.ID,
			Type:       r.Type,
			ExternalID: r.ExternalID,
			File:       r.File,
			Row:        r.Row,
			Message:    r.Message,
			Fields:     fields,
			Include:    true,
		})
	}
	sort.Slice(rows, func(a, b int) bool {
		if rows[a].File != rows[b].File {
			return rows[a].File < rows[b].File
		}
		return rows[a].Row < rows[b].Row
	})

	now := s.now()
	draft := &CorrectionDraft{
		ID:              uuid.New(),
		Org:             org,
		OriginalBatchID: batchID,
		Rows:            rows,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another caller may have raced the store reads; the first draft wins.
	if id, ok := s.draftByBatch[batchID]; ok {
		return cloneDraft(s.drafts[id]), nil
	}
	s.drafts[draft.ID] = draft
	s.draftByBatch[batchID] = draft.ID

	s.log.InfoContext(ctx, "correction draft opened",
		"draft_id", draft.ID,
		"batch_id", batchID,
		"org_id", org,
		"rows", len(rows),
	)
	return cloneDraft(draft), nil
}

// GetCorrection returns a snapshot of one draft.
func (s *Service) GetCorrection(org, draftID uuid.UUID) (CorrectionDraft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	draft, ok := s.drafts[draftID]
	if !ok || draft.Org != org {
		return CorrectionDraft{}, ErrCorrectionNotFound
	}
	return cloneDraft(draft), nil
}

// GetCorrectionForBatch returns the open draft over one batch, if any.
func (s *Service) GetCorrectionForBatch(org, batchID uuid.UUID) (CorrectionDraft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.draftByBatch[batchID]
	if !ok {
		return CorrectionDraft{}, ErrCorrectionNotFound
	}
	draft := s.drafts[id]
	if draft == nil || draft.Org != org {
		return CorrectionDraft{}, ErrCorrectionNotFound
	}
	return cloneDraft(draft), nil
}

// ListCorrections returns the organization's open drafts, newest first.
func (s *Service) ListCorrections(org uuid.UUID) []CorrectionDraft {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []CorrectionDraft
	for _, draft := range s.drafts {
		if draft.Org != org {
			continue
		}
		out = append(out, cloneDraft(draft))
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out
}

// EditCorrection applies field edits and include flags to draft rows. A bad
// edit leaves the draft unchanged.
func (s *Service) EditCorrection(ctx context.Context, org, draftID uuid.UUID, edits []CorrectionEdit) (CorrectionDraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft, ok := s.drafts[draftID]
	if !ok || draft.Org != org {
		return CorrectionDraft{}, ErrCorrectionNotFound
	}

	byRecord := make(map[uuid.UUID]*CorrectionRow, len(draft.Rows))
	for i := range draft.Rows {
		byRecord[draft.Rows[i].RecordID] = &draft.Rows[i]
	}

	for _, e := range edits {
		row, ok := byRecord[e.RecordID]
		if !ok {
			return CorrectionDraft{}, fmt.Errorf("%w: record %s is not part of this draft", ErrRecordNotFound, e.RecordID)
		}
		def, ok := schema.Get(row.Type)
		if !ok {
			continue
		}
		for name := range e.Fields {
			if _, ok := def.Column(name); !ok {
				return CorrectionDraft{}, fmt.Errorf("column %q is not part of %s", name, def.Label)
			}
		}
	}

	for _, e := range edits {
		row := byRecord[e.RecordID]
		def, defOK := schema.Get(row.Type)
		for name, value := range e.Fields {
			if defOK {
				if col, ok := def.Column(name); ok {
					name = col.Name
				}
			}
			if value = CleanCell(value); value == "" {
				delete(row.Fields, name)
			} else {
				row.Fields[name] = value
			}
		}
		if e.Include != nil {
			row.Include = *e.Include
		}
	}
	draft.UpdatedAt = s.now()

	return cloneDraft(draft), nil
}

// DeleteCorrection abandons a draft without importing anything.
func (s *Service) DeleteCorrection(org, draftID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft, ok := s.drafts[draftID]
	if !ok || draft.Org != org {
		return ErrCorrectionNotFound
	}
	delete(s.drafts, draftID)
	delete(s.draftByBatch, draft.OriginalBatchID)
	return nil
}

// ConfirmCorrection validates the included rows and executes them as a new
// batch. The call blocks until the batch settles, like Execute. Validation
// problems come back as issues with ErrValidationFailed and leave the draft
// editable; the draft is only discarded once execution succeeds.
func (s *Service) ConfirmCorrection(ctx context.Context, org, draftID uuid.UUID) (ImportBatch, []ValidationIssue, error) {
	s.mu.RLock()
	draft, ok := s.drafts[draftID]
	if !ok || draft.Org != org {
		s.mu.RUnlock()
		return ImportBatch{}, nil, ErrCorrectionNotFound
	}
	snapshot := cloneDraft(draft)
	s.mu.RUnlock()

	original, err := s.batches.GetBatch(ctx, org, snapshot.OriginalBatchID)
	if err != nil {
		return ImportBatch{}, nil, err
	}
	if original.Status != BatchCompleted {
		return ImportBatch{}, nil, fmt.Errorf("%w: original batch is %s", ErrInvalidState, original.Status)
	}

	var rows []CorrectionRow
	for _, row := range snapshot.Rows {
		if row.Include {
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return ImportBatch{}, nil, fmt.Errorf("%w: no rows are included", ErrNothingToCorrect)
	}

	issues := validateCorrectionRows(rows)
	if HasErrors(issues) {
		return ImportBatch{}, issues, ErrValidationFailed
	}

	batch, err := s.runCorrection(ctx, org, snapshot.OriginalBatchID, rows)
	if err != nil {
		return batch, issues, err
	}

	s.mu.Lock()
	delete(s.drafts, draftID)
	delete(s.draftByBatch, snapshot.OriginalBatchID)
	s.mu.Unlock()

	return batch, issues, nil
}

// runCorrection executes corrected rows as a fresh batch under the same
// locks as a session import. Corrected values import literally; the
// mapping stage already happened when the original batch ran.
func (s *Service) runCorrection(ctx context.Context, org, originalBatchID uuid.UUID, rows []CorrectionRow) (ImportBatch, error) {
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
		ID:              uuid.New(),
		Org:             org,
		OriginalBatchID: originalBatchID,
		Status:          BatchPending,
		TotalRecords:    len(rows),
		CreatedAt:       now,
	}

	records := correctionRecords(batch, rows, s.now)

	if err := s.batches.CreateBatch(ctx, batch); err != nil {
		return ImportBatch{}, fmt.Errorf("create correction batch: %w", err)
	}
	s.appendLog(ctx, batch, LogBatchCreated, "", uuid.Nil,
		fmt.Sprintf("correction of batch %s, %d records", originalBatchID, len(records)))
	s.appendLog(ctx, batch, LogCorrection, "", uuid.Nil, correctionLogMessage(originalBatchID, rows))

	if err := s.batches.CreateRecords(ctx, records); err != nil {
		s.failBatch(ctx, batch, err)
		return *batch, fmt.Errorf("create correction records: %w", err)
	}

	return s.runBatch(ctx, batch, records, nil)
}

// correctionRecords freezes the rows into pending records for the new
// batch, in import order. Each record keeps the original's file and row for
// traceability and takes a synthetic external identifier derived from the
// new batch.
func correctionRecords(batch *ImportBatch, rows []CorrectionRow, now func() time.Time) []*ImportRecord {
	rank := typeRank()
	sort.SliceStable(rows, func(a, b int) bool {
		if rank[rows[a].Type] != rank[rows[b].Type] {
			return rank[rows[a].Type] < rank[rows[b].Type]
		}
		if rows[a].File != rows[b].File {
			return rows[a].File < rows[b].File
		}
		return rows[a].Row < rows[b].Row
	})

	records := make([]*ImportRecord, 0, len(rows))
	for _, row := range rows {
		fields := make(map[string]string, len(row.Fields))
		for k, v := range row.Fields {
			fields[k] = v
		}
		ts := now()
		records = append(records, &ImportRecord{
			ID:         uuid.New(),
			BatchID:    batch.ID,
			Org:        batch.Org,
			Type:       row.Type,
			ExternalID: correctionExternalID(batch.ID, correctionRowExternalID(row)),
			File:       row.File,
			Row:        row.Row,
			Fields:     fields,
			Status:     RecordPending,
			CreatedAt:  ts,
			UpdatedAt:  ts,
		})
	}
	return records
}

// correctionRowExternalID reads the row's external identifier, preferring
// the edited field value over the one captured when the record failed. Rows
// that failed for a missing identifier only gain one through editing.
func correctionRowExternalID(row CorrectionRow) string {
	if def, ok := schema.Get(row.Type); ok {
		if v := strings.TrimSpace(row.Fields[def.ExternalIDColumn]); v != "" {
			return v
		}
	}
	return row.ExternalID
}

// correctionLogMessage is the audit trail's cross-reference: which batch is
// being corrected and which source-system identifiers the new records
// answer to.
func correctionLogMessage(originalBatchID uuid.UUID, rows []CorrectionRow) string {
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, originalExternalID(correctionRowExternalID(row)))
	}
	sort.Strings(ids)
	return fmt.Sprintf("corrects batch %s: %s", originalBatchID, strings.Join(ids, ", "))
}

// validateCorrectionRows reruns the row checks over the edited fields:
// identifier present, unique within the correction, and not reserved;
// required cells filled; typed cells parseable.
func validateCorrectionRows(rows []CorrectionRow) []ValidationIssue {
	type seenAt struct {
		file string
		row  int
	}
	seen := make(map[schema.EntityType]map[string]seenAt)

	var issues []ValidationIssue
	for _, row := range rows {
		def, ok := schema.Get(row.Type)
		if !ok {
			issues = append(issues, rowIssue(row.File, row.Type, row.Row, "", "",
				fmt.Sprintf("unknown entity type %q", row.Type)))
			continue
		}

		extID := strings.TrimSpace(row.Fields[def.ExternalIDColumn])
		switch {
		case extID == "":
			issues = append(issues, rowIssue(row.File, row.Type, row.Row, def.ExternalIDColumn, "",
				"required value is missing"))
		case correctionPrefix.MatchString(strings.ToLower(extID)):
			issues = append(issues, rowIssue(row.File, row.Type, row.Row, def.ExternalIDColumn, extID,
				"external IDs beginning with corr- are reserved"))
		default:
			folded := referenceKey(extID)
			byID, ok := seen[row.Type]
			if !ok {
				byID = make(map[string]seenAt)
				seen[row.Type] = byID
			}
			if prev, dup := byID[folded]; dup {
				issues = append(issues, rowIssue(row.File, row.Type, row.Row, def.ExternalIDColumn, extID,
					fmt.Sprintf("duplicate external ID; already used in %s row %d", prev.file, prev.row)))
			} else {
				byID[folded] = seenAt{file: row.File, row: row.Row}
			}
		}

		for _, col := range def.Columns {
			if col.Name == def.ExternalIDColumn {
				continue
			}
			val := row.Fields[col.Name]
			if val == "" {
				if col.Required {
					issues = append(issues, rowIssue(row.File, row.Type, row.Row, col.Name, "",
						"required value is missing"))
				}
				continue
			}
			switch col.Type {
			case schema.ColDate:
				if _, ok := ParseDate(val); !ok {
					issues = append(issues, rowIssue(row.File, row.Type, row.Row, col.Name, val,
						fmt.Sprintf("%q is not a valid date", val)))
				}
			case schema.ColNumber:
				if _, ok := ParseNumber(val); !ok {
					issues = append(issues, rowIssue(row.File, row.Type, row.Row, col.Name, val,
						fmt.Sprintf("%q is not a valid number", val)))
				}
			case schema.ColBool:
				if _, ok := ParseBool(val); !ok {
					issues = append(issues, rowIssue(row.File, row.Type, row.Row, col.Name, val,
						fmt.Sprintf("%q is not a valid yes/no value", val)))
				}
			}
		}
	}

	SortIssues(issues)
	return issues
}

// typeRank maps each entity type to its position in the import order.
func typeRank() map[schema.EntityType]int {
	order, err := schema.ImportOrder()
	if err != nil {
		return nil
	}
	rank := make(map[schema.EntityType]int, len(order))
	for i, typ := range order {
		rank[typ] = i
	}
	return rank
}

// cloneDraft deep-copies a draft so callers can read it without the lock.
func cloneDraft(d *CorrectionDraft) CorrectionDraft {
	out := *d
	out.Rows = make([]CorrectionRow, len(d.Rows))
	for i, row := range d.Rows {
		fields := make(map[string]string, len(row.Fields))
		for k, v := range row.Fields {
			fields[k] = v
		}
		row.Fields = fields
		out.Rows[i] = row
	}
	return out
}
