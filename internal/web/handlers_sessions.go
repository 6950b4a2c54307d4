package web

// handlers_sessions.go drives the staged import pipeline over HTTP: create
// a session, attach files, validate, confirm mappings, execute. Every
// handler resolves the organization scope first and refuses to touch
// another organization's session.

import (
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/casevault/importer/internal/core"
	"github.com/casevault/importer/internal/schema"
)

// fileSummary is the API shape of one attached file.
type fileSummary struct {
	Name    string            `json:"name"`
	Type    schema.EntityType `json:"entityType"`
	Rows    int               `json:"rows"`
	Columns []string          `json:"columns"`
}

func summarizeFile(f *core.ParsedFile) fileSummary {
	return fileSummary{
		Name:    f.Name,
		Type:    f.Type,
		Rows:    f.RowCount(),
		Columns: f.Header,
	}
}

// sessionView is the API shape of one session, with the dependency order
// its files will import in.
type sessionView struct {
	ID          uuid.UUID                `json:"id"`
	Org         uuid.UUID                `json:"organizationId"`
	State       core.SessionState        `json:"state"`
	Files       []fileSummary            `json:"files"`
	Issues      []core.ValidationIssue   `json:"issues,omitempty"`
	Values      []core.CategoryValue     `json:"values,omitempty"`
	Suggestions []core.MappingSuggestion `json:"suggestions,omitempty"`
	ImportOrder []schema.EntityType      `json:"importOrder,omitempty"`
	BatchID     uuid.UUID                `json:"batchId,omitempty"`
	CreatedAt   string                   `json:"createdAt"`
	UpdatedAt   string                   `json:"updatedAt"`
}

func viewSession(sess core.ImportSession) sessionView {
	files := make([]fileSummary, 0, len(sess.Files))
	present := make(map[schema.EntityType]bool, len(sess.Files))
	for _, f := range sess.Files {
		files = append(files, summarizeFile(f))
		present[f.Type] = true
	}

	var order []schema.EntityType
	if full, err := schema.ImportOrder(); err == nil {
		for _, typ := range full {
			if present[typ] {
				order = append(order, typ)
			}
		}
	}

	return sessionView{
		ID:          sess.ID,
		Org:         sess.Org,
		State:       sess.State,
		Files:       files,
		Issues:      sess.Issues,
		Values:      sess.Values,
		Suggestions: sess.Suggestions,
		ImportOrder: order,
		BatchID:     sess.BatchID,
		CreatedAt:   sess.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   sess.UpdatedAt.Format(time.RFC3339),
	}
}

// orgSession loads a session and verifies it belongs to the caller's
// organization. A foreign session reads as not found.
func (s *Server) orgSession(org, sessionID uuid.UUID) (core.ImportSession, error) {
	sess, err := s.service.GetSession(sessionID)
	if err != nil {
		return core.ImportSession{}, err
	}
	if sess.Org != org {
		return core.ImportSession{}, core.ErrSessionNotFound
	}
	return sess, nil
}

// handleCreateSession starts an empty import session for the organization.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}

	sess, err := s.service.CreateSession(r.Context(), org)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewSession(sess))
}

// handleListSessions summarizes the organization's sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": s.service.ListSessions(org),
	})
}

// handleGetSession returns one session's full state.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	sessionID, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return
	}

	sess, err := s.orgSession(org, sessionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSession(sess))
}

// handleDeleteSession abandons a session.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	sessionID, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return
	}
	if _, err := s.orgSession(org, sessionID); err != nil {
		s.respondError(w, r, err)
		return
	}

	if err := s.service.DeleteSession(sessionID); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fileUploadResult reports what happened to one uploaded file.
type fileUploadResult struct {
	Name   string                 `json:"name"`
	OK     bool                   `json:"ok"`
	File   *fileSummary           `json:"file,omitempty"`
	Issues []core.ValidationIssue `json:"issues,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// handleAddFiles attaches one or more uploaded files to the session. A file
// that cannot be parsed is reported per-file; it does not sink the other
// files in the same request.
func (s *Server) handleAddFiles(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	sessionID, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return
	}
	if _, err := s.orgSession(org, sessionID); err != nil {
		s.respondError(w, r, err)
		return
	}

	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize*4)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		writeError(w, http.StatusBadRequest, "file too large or invalid form")
		return
	}

	var headers []*multipart.FileHeader
	for _, field := range []string{"files", "file"} {
		headers = append(headers, r.MultipartForm.File[field]...)
	}
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}

	results := make([]fileUploadResult, 0, len(headers))
	for _, fh := range headers {
		results = append(results, s.addOneFile(r, sessionID, fh))
	}

	status := http.StatusOK
	for _, res := range results {
		if !res.OK {
			status = http.StatusUnprocessableEntity
			break
		}
	}
	writeJSON(w, status, map[string]any{"files": results})
}

// addOneFile parses and attaches a single upload.
func (s *Server) addOneFile(r *http.Request, sessionID uuid.UUID, fh *multipart.FileHeader) fileUploadResult {
	f, err := fh.Open()
	if err != nil {
		return fileUploadResult{Name: fh.Filename, Error: "could not read upload"}
	}
	defer f.Close()

	file, issues, err := s.service.AddFile(r.Context(), sessionID, fh.Filename, f)
	if err != nil {
		return fileUploadResult{
			Name:   fh.Filename,
			Issues: issues,
			Error:  core.MapError(err).Message,
		}
	}

	summary := summarizeFile(file)
	return fileUploadResult{
		Name:   file.Name,
		OK:     true,
		File:   &summary,
		Issues: issues,
	}
}

// handleRemoveFile detaches one file from the session.
func (s *Server) handleRemoveFile(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	sessionID, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return
	}
	if _, err := s.orgSession(org, sessionID); err != nil {
		s.respondError(w, r, err)
		return
	}

	name := chi.URLParam(r, "fileName")
	if err := s.service.RemoveFile(r.Context(), sessionID, name); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleValidate runs the full validation pass over the session's files.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	sessionID, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return
	}
	if _, err := s.orgSession(org, sessionID); err != nil {
		s.respondError(w, r, err)
		return
	}

	issues, err := s.service.Validate(r.Context(), sessionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	errs, warns := core.CountBySeverity(issues)
	writeJSON(w, http.StatusOK, map[string]any{
		"issues":   issues,
		"errors":   errs,
		"warnings": warns,
		"ok":       errs == 0,
	})
}

// handleGetMappings returns the distinct category values in the session
// with suggested canonical matches.
func (s *Server) handleGetMappings(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	sessionID, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return
	}
	if _, err := s.orgSession(org, sessionID); err != nil {
		s.respondError(w, r, err)
		return
	}

	values, suggestions, err := s.service.CollectMappings(r.Context(), sessionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"values":      values,
		"suggestions": suggestions,
	})
}

// mappingRequest is the body of PUT mappings.
type mappingRequest struct {
	Decisions    []core.TypeMapping  `json:"decisions"`
	Policy       core.UnmappedPolicy `json:"policy"`
	DefaultValue string              `json:"defaultValue,omitempty"`
}

// handleSetMappings confirms mapping decisions and the unmapped policy.
func (s *Server) handleSetMappings(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	sessionID, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return
	}
	if _, err := s.orgSession(org, sessionID); err != nil {
		s.respondError(w, r, err)
		return
	}

	var req mappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Policy == "" {
		req.Policy = core.PolicySkip
	}

	if err := s.service.SetMappings(r.Context(), sessionID, req.Decisions, req.Policy, req.DefaultValue); err != nil {
		s.respondErrorStatus(w, r, err, statusOr(err, http.StatusBadRequest))
		return
	}

	sess, err := s.service.GetSession(sessionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSession(sess))
}

// handleExecute turns the mapped session into a batch and runs it. The
// response carries the settled batch; when execution dies on
// infrastructure the failed batch still comes back so the client can
// inspect it.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	sessionID, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return
	}
	if _, err := s.orgSession(org, sessionID); err != nil {
		s.respondError(w, r, err)
		return
	}

	batch, err := s.service.Execute(r.Context(), sessionID)
	if err != nil {
		user := core.MapError(err)
		slog.Error("import execution failed",
			"session_id", sessionID,
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
