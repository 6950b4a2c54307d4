package web

// handlers_corrections.go exposes the fix-and-reimport flow. A correction
// draft hangs off the batch whose failures it re-imports, so all routes key
// on the batch ID; the draft ID stays internal to the API responses.

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/casevault/importer/internal/core"
)

// handleStartCorrection opens a correction draft over the batch's failed
// records.
func (s *Server) handleStartCorrection(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	batchID, ok := uuidParam(w, r, "batchID")
	if !ok {
		return
	}

	draft, err := s.service.StartCorrection(r.Context(), org, batchID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, draft)
}

// handleGetCorrection returns the open draft over the batch.
func (s *Server) handleGetCorrection(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	batchID, ok := uuidParam(w, r, "batchID")
	if !ok {
		return
	}

	draft, err := s.service.GetCorrectionForBatch(org, batchID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// handleDeleteCorrection discards the open draft without importing
// anything.
func (s *Server) handleDeleteCorrection(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	batchID, ok := uuidParam(w, r, "batchID")
	if !ok {
		return
	}

	draft, err := s.service.GetCorrectionForBatch(org, batchID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.service.DeleteCorrection(org, draft.ID); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// correctionEditRequest is the body of PUT records/{recordRef}. A nil
// Include leaves the inclusion flag alone.
type correctionEditRequest struct {
	Fields  map[string]string `json:"fields,omitempty"`
	Include *bool             `json:"include,omitempty"`
}

// handleEditCorrectionRecord updates one row of the draft. The record is
// addressed by its record ID, or by its external ID when that is
// unambiguous within the draft.
func (s *Server) handleEditCorrectionRecord(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	batchID, ok := uuidParam(w, r, "batchID")
	if !ok {
		return
	}

	draft, err := s.service.GetCorrectionForBatch(org, batchID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	recordID, err := resolveCorrectionRecord(draft, chi.URLParam(r, "recordRef"))
	if err != nil {
		s.respondErrorStatus(w, r, err, statusOr(err, http.StatusBadRequest))
		return
	}

	var req correctionEditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := s.service.EditCorrection(r.Context(), org, draft.ID, []core.CorrectionEdit{{
		RecordID: recordID,
		Fields:   req.Fields,
		Include:  req.Include,
	}})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// resolveCorrectionRecord maps a path reference onto a record ID in the
// draft. UUIDs pass through; anything else is matched against external
// IDs.
func resolveCorrectionRecord(draft core.CorrectionDraft, ref string) (uuid.UUID, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return id, nil
	}

	var match uuid.UUID
	n := 0
	for _, row := range draft.Rows {
		if row.ExternalID == ref {
			match = row.RecordID
			n++
		}
	}
	switch n {
	case 0:
		return uuid.Nil, core.ErrRecordNotFound
	case 1:
		return match, nil
	default:
		return uuid.Nil, fmt.Errorf("external id %q matches %d draft records, address it by record id", ref, n)
	}
}

// handleConfirmCorrection validates the included rows and imports them as
// a new batch. Validation failures come back with the full issue list and
// leave the draft open for another round of edits.
func (s *Server) handleConfirmCorrection(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	batchID, ok := uuidParam(w, r, "batchID")
	if !ok {
		return
	}

	draft, err := s.service.GetCorrectionForBatch(org, batchID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	batch, issues, err := s.service.ConfirmCorrection(r.Context(), org, draft.ID)
	if err != nil {
		if len(issues) > 0 {
			s.respondErrorIssues(w, r, err, issues)
			return
		}
		user := core.MapError(err)
		slog.Error("correction execution failed",
			"batch_id", batchID,
			"org_id", org,
			"error", err.Error(),
			"code", user.Code,
			"request_id", middleware.GetReqID(r.Context()),
		)
		body := map[string]any{
			"error":   user.Message,
			"message": user.Message,
			"action":  user.Action,
			"code":    user.Code,
		}
		if batch.ID != uuid.Nil {
			body["batch"] = batch
		}
		writeJSON(w, statusFor(err), body)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"batch": batch})
}
