package web

// handlers_batches.go is the read side of executed imports plus rollback:
// batch listings, per-record outcomes, the audit log (browsable and as a
// CSV download), and dry-run/committed rollback.

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/casevault/importer/internal/core"
)

// handleListBatches returns the organization's batches, newest first.
func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}

	batches, err := s.service.ListBatches(r.Context(), org)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
}

// handleGetBatch returns one batch with its counts and status.
func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	batchID, ok := uuidParam(w, r, "batchID")
	if !ok {
		return
	}

	batch, err := s.service.GetBatch(r.Context(), org, batchID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// handleListRecords returns a batch's per-row outcomes. An optional
// ?status=pending|imported|failed query narrows the list.
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	batchID, ok := uuidParam(w, r, "batchID")
	if !ok {
		return
	}

	status := core.RecordStatus(r.URL.Query().Get("status"))
	switch status {
	case "", core.RecordPending, core.RecordImported, core.RecordFailed:
	default:
		writeError(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	records, err := s.service.ListRecords(r.Context(), org, batchID, status)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

// handleGetLog returns a batch's audit trail in append order.
func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	batchID, ok := uuidParam(w, r, "batchID")
	if !ok {
		return
	}

	entries, err := s.service.ListLog(r.Context(), org, batchID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"log": entries})
}

// handleDownloadLog streams the audit trail as a CSV attachment.
func (s *Server) handleDownloadLog(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	batchID, ok := uuidParam(w, r, "batchID")
	if !ok {
		return
	}

	entries, err := s.service.ListLog(r.Context(), org, batchID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("import_log_%s.csv", timestamp)
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	csvWriter := csv.NewWriter(w)
	csvWriter.Write([]string{"at", "event", "entity_type", "record_id", "message"})

	for _, e := range entries {
		recordID := ""
		if e.RecordID != uuid.Nil {
			recordID = e.RecordID.String()
		}
		csvWriter.Write([]string{
			e.At.Format(time.RFC3339),
			string(e.Event),
			string(e.Type),
			recordID,
			e.Message,
		})
	}

	csvWriter.Flush()
}

// handlePreviewRollback reports what a rollback would remove without
// touching anything.
func (s *Server) handlePreviewRollback(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	batchID, ok := uuidParam(w, r, "batchID")
	if !ok {
		return
	}

	preview, err := s.service.PreviewRollback(r.Context(), org, batchID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// handleRollback removes every entity the batch imported and marks it
// rolled back.
func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	batchID, ok := uuidParam(w, r, "batchID")
	if !ok {
		return
	}

	batch, removed, err := s.service.RollbackBatch(r.Context(), org, batchID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch":           batch,
		"entitiesRemoved": removed,
	})
}
