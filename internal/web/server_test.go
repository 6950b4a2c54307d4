package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/casevault/importer/internal/config"
	"github.com/casevault/importer/internal/core"
	"github.com/casevault/importer/internal/store"
)

// ----------------------------------------------------------------------------
// HTTP API Tests
// ----------------------------------------------------------------------------

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		Import: config.ImportConfig{
			MaxFileSize:    8 << 20,
			ExecuteTimeout: 5 * time.Second,
		},
	}
}

func newTestService() *core.Service {
	mem := store.NewMemory()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return core.NewService(mem, mem, log, core.Options{})
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(testConfig(), newTestService(), nil)
}

func doRequest(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func orgRequest(method, path string, org uuid.UUID, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("X-Organization-ID", org.String())
	return req
}

func jsonRequest(t *testing.T, method, path string, org uuid.UUID, v any) *http.Request {
	t.Helper()
	buf, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := orgRequest(method, path, org, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// uploadRequest builds a multipart upload carrying each file under the
// "files" form field.
func uploadRequest(t *testing.T, path string, org uuid.UUID, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := io.WriteString(part, content); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := orgRequest(http.MethodPost, path, org, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func createSession(t *testing.T, s *Server, org uuid.UUID) string {
	t.Helper()
	rec := doRequest(s, orgRequest(http.MethodPost, "/api/sessions", org, nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session = %d: %s", rec.Code, rec.Body.String())
	}
	var sess struct {
		ID uuid.UUID `json:"id"`
	}
	decodeBody(t, rec, &sess)
	if sess.ID == uuid.Nil {
		t.Fatal("created session has no ID")
	}
	return sess.ID.String()
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Status      string `json:"status"`
		EntityTypes int    `json:"entityTypes"`
		Imports     struct {
			Active        int `json:"active"`
			MaxConcurrent int `json:"maxConcurrent"`
		} `json:"imports"`
	}
	decodeBody(t, rec, &body)
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if body.EntityTypes != 12 {
		t.Errorf("entityTypes = %d, want 12", body.EntityTypes)
	}
	if body.Imports.MaxConcurrent == 0 {
		t.Error("imports.maxConcurrent = 0, want the limiter cap")
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestHealthEndpoint_DegradedStore(t *testing.T) {
	ping := func(context.Context) error { return errors.New("conn closed") }
	s := NewServer(testConfig(), newTestService(), ping)

	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz = %d, want 503 when the store ping fails", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
	}
	decodeBody(t, rec, &body)
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}
}

func TestEntityTypeRegistry(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/api/entity-types", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("entity-types = %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		ImportOrder []string `json:"importOrder"`
		Types       []struct {
			Type             string `json:"type"`
			Label            string `json:"label"`
			ExternalIDColumn string `json:"externalIdColumn"`
		} `json:"types"`
	}
	decodeBody(t, rec, &body)
	if len(body.ImportOrder) != 12 || len(body.Types) != 12 {
		t.Fatalf("registry = %d order, %d types, want 12 each", len(body.ImportOrder), len(body.Types))
	}
	if body.ImportOrder[0] != "organizations" {
		t.Errorf("importOrder[0] = %q, want organizations", body.ImportOrder[0])
	}

	rec = doRequest(s, httptest.NewRequest(http.MethodGet, "/api/entity-types/cases/template", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("template = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "cases_template.csv") {
		t.Errorf("Content-Disposition = %q, want a cases template attachment", cd)
	}
	if !strings.HasPrefix(rec.Body.String(), "legacy_id,organization_id,") {
		t.Errorf("template body = %q, want the cases header", rec.Body.String())
	}

	rec = doRequest(s, httptest.NewRequest(http.MethodGet, "/api/entity-types/nonsense/template", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown template = %d, want 404", rec.Code)
	}
}

func TestImportFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	org := uuid.New()

	sessionID := createSession(t, s, org)
	base := "/api/sessions/" + sessionID

	// Attach two files in one multipart request.
	rec := doRequest(s, uploadRequest(t, base+"/files", org, map[string]string{
		"organizations.csv": "legacy_id,name\nORG-1,Acme\nORG-2,Globex\n",
		"contacts.csv":      "legacy_id,organization_id,first_name,last_name\nC-1,ORG-1,Ada,Smith\n",
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("upload = %d: %s", rec.Code, rec.Body.String())
	}
	var uploaded struct {
		Files []struct {
			Name string `json:"name"`
			OK   bool   `json:"ok"`
		} `json:"files"`
	}
	decodeBody(t, rec, &uploaded)
	if len(uploaded.Files) != 2 || !uploaded.Files[0].OK || !uploaded.Files[1].OK {
		t.Fatalf("upload results = %+v, want both files accepted", uploaded.Files)
	}

	rec = doRequest(s, orgRequest(http.MethodPost, base+"/validate", org, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("validate = %d: %s", rec.Code, rec.Body.String())
	}
	var validation struct {
		OK     bool `json:"ok"`
		Errors int  `json:"errors"`
	}
	decodeBody(t, rec, &validation)
	if !validation.OK || validation.Errors != 0 {
		t.Fatalf("validation = %+v, want clean", validation)
	}

	rec = doRequest(s, jsonRequest(t, http.MethodPut, base+"/mappings", org, map[string]any{
		"policy": "use-original",
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("set mappings = %d: %s", rec.Code, rec.Body.String())
	}
	var mapped struct {
		State       string   `json:"state"`
		ImportOrder []string `json:"importOrder"`
	}
	decodeBody(t, rec, &mapped)
	if mapped.State != "mapped" {
		t.Errorf("state after mappings = %q, want mapped", mapped.State)
	}
	if len(mapped.ImportOrder) != 2 || mapped.ImportOrder[0] != "organizations" {
		t.Errorf("importOrder = %v, want organizations before contacts", mapped.ImportOrder)
	}

	rec = doRequest(s, orgRequest(http.MethodPost, base+"/execute", org, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("execute = %d: %s", rec.Code, rec.Body.String())
	}
	var executed struct {
		Batch struct {
			ID            uuid.UUID `json:"id"`
			Status        string    `json:"status"`
			TotalRecords  int       `json:"totalRecords"`
			ImportedCount int       `json:"importedCount"`
			FailedCount   int       `json:"failedCount"`
		} `json:"batch"`
	}
	decodeBody(t, rec, &executed)
	b := executed.Batch
	if b.Status != "completed" || b.TotalRecords != 3 || b.ImportedCount != 3 || b.FailedCount != 0 {
		t.Fatalf("batch = %+v, want 3 of 3 imported", b)
	}

	// The session is settled; a second execute conflicts.
	rec = doRequest(s, orgRequest(http.MethodPost, base+"/execute", org, nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("re-execute = %d, want 409", rec.Code)
	}
	var conflict struct {
		Code string `json:"code"`
	}
	decodeBody(t, rec, &conflict)
	if conflict.Code != "SES002" {
		t.Errorf("re-execute code = %q, want SES002", conflict.Code)
	}

	batchBase := "/api/batches/" + b.ID.String()

	rec = doRequest(s, orgRequest(http.MethodGet, "/api/batches", org, nil))
	var listing struct {
		Batches []struct {
			ID uuid.UUID `json:"id"`
		} `json:"batches"`
	}
	decodeBody(t, rec, &listing)
	if len(listing.Batches) != 1 || listing.Batches[0].ID != b.ID {
		t.Errorf("batch listing = %+v, want the executed batch", listing.Batches)
	}

	rec = doRequest(s, orgRequest(http.MethodGet, batchBase+"/records?status=imported", org, nil))
	var records struct {
		Records []struct {
			ExternalID string `json:"externalId"`
			Status     string `json:"status"`
		} `json:"records"`
	}
	decodeBody(t, rec, &records)
	if len(records.Records) != 3 {
		t.Fatalf("imported records = %d, want 3", len(records.Records))
	}

	rec = doRequest(s, orgRequest(http.MethodGet, batchBase+"/log", org, nil))
	var trail struct {
		Log []struct {
			Event string `json:"event"`
		} `json:"log"`
	}
	decodeBody(t, rec, &trail)
	if len(trail.Log) == 0 || trail.Log[0].Event != "batch_created" {
		t.Errorf("log = %+v, want batch_created first", trail.Log)
	}

	rec = doRequest(s, orgRequest(http.MethodGet, batchBase+"/log/download", org, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("log download = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "import_log_") {
		t.Errorf("Content-Disposition = %q, want a log attachment", cd)
	}
	if !strings.HasPrefix(rec.Body.String(), "at,event,entity_type,record_id,message") {
		t.Errorf("log CSV = %q, want the header row first", rec.Body.String())
	}

	// Rollback: preview first, then commit, then refuse the repeat.
	rec = doRequest(s, orgRequest(http.MethodGet, batchBase+"/rollback/preview", org, nil))
	var preview struct {
		Entities int `json:"entities"`
	}
	decodeBody(t, rec, &preview)
	if preview.Entities != 3 {
		t.Errorf("rollback preview = %d entities, want 3", preview.Entities)
	}

	rec = doRequest(s, orgRequest(http.MethodPost, batchBase+"/rollback", org, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("rollback = %d: %s", rec.Code, rec.Body.String())
	}
	var rolled struct {
		Batch struct {
			Status string `json:"status"`
		} `json:"batch"`
		EntitiesRemoved int `json:"entitiesRemoved"`
	}
	decodeBody(t, rec, &rolled)
	if rolled.Batch.Status != "rolled_back" || rolled.EntitiesRemoved != 3 {
		t.Errorf("rollback = %+v, want rolled_back with 3 removed", rolled)
	}

	rec = doRequest(s, orgRequest(http.MethodPost, batchBase+"/rollback", org, nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("second rollback = %d, want 409", rec.Code)
	}
}

func TestCorrectionFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	org := uuid.New()
	sessionID := createSession(t, s, org)
	base := "/api/sessions/" + sessionID

	// The organization imports clean; both cases fail on an unmapped case
	// type under the skip policy.
	rec := doRequest(s, uploadRequest(t, base+"/files", org, map[string]string{
		"organizations.csv": "legacy_id,name\nORG-1,Acme\n",
		"cases.csv": "legacy_id,organization_id,title,case_type\n" +
			"CASE-1,ORG-1,Contract dispute,Litigation\n" +
			"CASE-2,ORG-1,Estate plan,Estates\n",
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("upload = %d: %s", rec.Code, rec.Body.String())
	}
	if rec := doRequest(s, orgRequest(http.MethodPost, base+"/validate", org, nil)); rec.Code != http.StatusOK {
		t.Fatalf("validate = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(s, orgRequest(http.MethodGet, base+"/mappings", org, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get mappings = %d: %s", rec.Code, rec.Body.String())
	}
	var mappings struct {
		Values []struct {
			Category string `json:"category"`
			Value    string `json:"value"`
		} `json:"values"`
	}
	decodeBody(t, rec, &mappings)
	if len(mappings.Values) != 2 {
		t.Fatalf("category values = %+v, want the two case types", mappings.Values)
	}

	if rec := doRequest(s, jsonRequest(t, http.MethodPut, base+"/mappings", org, map[string]any{"policy": "skip"})); rec.Code != http.StatusOK {
		t.Fatalf("set mappings = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(s, orgRequest(http.MethodPost, base+"/execute", org, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("execute = %d: %s", rec.Code, rec.Body.String())
	}
	var executed struct {
		Batch struct {
			ID            uuid.UUID `json:"id"`
			Status        string    `json:"status"`
			ImportedCount int       `json:"importedCount"`
			FailedCount   int       `json:"failedCount"`
		} `json:"batch"`
	}
	decodeBody(t, rec, &executed)
	if executed.Batch.Status != "completed" || executed.Batch.ImportedCount != 1 || executed.Batch.FailedCount != 2 {
		t.Fatalf("batch = %+v, want 1 imported and 2 failed", executed.Batch)
	}

	corrBase := "/api/batches/" + executed.Batch.ID.String() + "/corrections"

	rec = doRequest(s, orgRequest(http.MethodPost, corrBase, org, nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("start correction = %d: %s", rec.Code, rec.Body.String())
	}
	var draft struct {
		ID   uuid.UUID `json:"id"`
		Rows []struct {
			RecordID   uuid.UUID `json:"recordId"`
			ExternalID string    `json:"externalId"`
			Include    bool      `json:"include"`
		} `json:"rows"`
	}
	decodeBody(t, rec, &draft)
	if len(draft.Rows) != 2 {
		t.Fatalf("draft rows = %d, want both failed cases", len(draft.Rows))
	}

	// Drop the second case, addressing the row by its external ID.
	rec = doRequest(s, jsonRequest(t, http.MethodPut, corrBase+"/records/CASE-2", org, map[string]any{
		"include": false,
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("edit record = %d: %s", rec.Code, rec.Body.String())
	}
	var edited struct {
		Rows []struct {
			ExternalID string `json:"externalId"`
			Include    bool   `json:"include"`
		} `json:"rows"`
	}
	decodeBody(t, rec, &edited)
	for _, row := range edited.Rows {
		if row.ExternalID == "CASE-2" && row.Include {
			t.Error("CASE-2 still included after the edit")
		}
	}

	rec = doRequest(s, orgRequest(http.MethodGet, corrBase+"/workbook", org, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("workbook = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("Content-Type = %q, want an xlsx attachment", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "corrections_") {
		t.Errorf("Content-Disposition = %q, want a corrections attachment", cd)
	}
	if rec.Body.Len() == 0 {
		t.Error("workbook body is empty")
	}

	rec = doRequest(s, orgRequest(http.MethodPost, corrBase+"/confirm", org, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm = %d: %s", rec.Code, rec.Body.String())
	}
	var confirmed struct {
		Batch struct {
			OriginalBatchID uuid.UUID `json:"originalBatchId"`
			Status          string    `json:"status"`
			ImportedCount   int       `json:"importedCount"`
		} `json:"batch"`
	}
	decodeBody(t, rec, &confirmed)
	if confirmed.Batch.OriginalBatchID != executed.Batch.ID {
		t.Errorf("correction points at %s, want the original batch", confirmed.Batch.OriginalBatchID)
	}
	if confirmed.Batch.Status != "completed" || confirmed.Batch.ImportedCount != 1 {
		t.Errorf("correction batch = %+v, want the included row imported", confirmed.Batch)
	}

	// Importing the correction discards the draft.
	if rec := doRequest(s, orgRequest(http.MethodGet, corrBase, org, nil)); rec.Code != http.StatusNotFound {
		t.Errorf("draft after confirm = %d, want 404", rec.Code)
	}
}

func TestRequestGuards(t *testing.T) {
	s := newTestServer(t)
	org := uuid.New()

	noOrg := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	badOrg := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	badOrg.Header.Set("X-Organization-ID", "not-a-uuid")

	tests := []struct {
		name     string
		req      *http.Request
		wantCode int
		wantIn   string
	}{
		{"missing organization header", noOrg, http.StatusBadRequest, "X-Organization-ID"},
		{"malformed organization header", badOrg, http.StatusBadRequest, "invalid X-Organization-ID"},
		{"unknown session", orgRequest(http.MethodGet, "/api/sessions/"+uuid.NewString(), org, nil), http.StatusNotFound, "SES001"},
		{"malformed session id", orgRequest(http.MethodGet, "/api/sessions/xyz", org, nil), http.StatusBadRequest, "invalid sessionID"},
		{"unknown batch", orgRequest(http.MethodGet, "/api/batches/"+uuid.NewString(), org, nil), http.StatusNotFound, ""},
		{"bad records filter", orgRequest(http.MethodGet, "/api/batches/"+uuid.NewString()+"/records?status=bogus", org, nil), http.StatusBadRequest, "invalid status filter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(s, tt.req)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantIn != "" && !strings.Contains(rec.Body.String(), tt.wantIn) {
				t.Errorf("body = %q, want it to mention %q", rec.Body.String(), tt.wantIn)
			}
		})
	}
}

func TestUploadRejections(t *testing.T) {
	s := newTestServer(t)
	org := uuid.New()
	sessionID := createSession(t, s, org)

	// A file that matches no known entity type fails per-file.
	rec := doRequest(s, uploadRequest(t, "/api/sessions/"+sessionID+"/files", org, map[string]string{
		"mystery.csv": "alpha,beta\n1,2\n",
	}))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("upload = %d, want 422: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Files []struct {
			OK    bool   `json:"ok"`
			Error string `json:"error"`
		} `json:"files"`
	}
	decodeBody(t, rec, &body)
	if len(body.Files) != 1 || body.Files[0].OK || body.Files[0].Error == "" {
		t.Errorf("upload result = %+v, want a per-file rejection", body.Files)
	}

	// A request with no multipart payload at all is a bad request.
	rec = doRequest(s, orgRequest(http.MethodPost, "/api/sessions/"+sessionID+"/files", org, strings.NewReader("")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty upload = %d, want 400", rec.Code)
	}
}

func TestSessionsAreTenantScoped(t *testing.T) {
	s := newTestServer(t)
	orgA, orgB := uuid.New(), uuid.New()
	sessionID := createSession(t, s, orgA)

	if rec := doRequest(s, orgRequest(http.MethodGet, "/api/sessions/"+sessionID, orgB, nil)); rec.Code != http.StatusNotFound {
		t.Errorf("foreign session read = %d, want 404", rec.Code)
	}
	if rec := doRequest(s, orgRequest(http.MethodDelete, "/api/sessions/"+sessionID, orgB, nil)); rec.Code != http.StatusNotFound {
		t.Errorf("foreign session delete = %d, want 404", rec.Code)
	}
	if rec := doRequest(s, orgRequest(http.MethodDelete, "/api/sessions/"+sessionID, orgA, nil)); rec.Code != http.StatusNoContent {
		t.Errorf("own session delete = %d, want 204", rec.Code)
	}
}

func TestExecuteRequiresMappedSession(t *testing.T) {
	s := newTestServer(t)
	org := uuid.New()
	sessionID := createSession(t, s, org)

	rec := doRequest(s, uploadRequest(t, "/api/sessions/"+sessionID+"/files", org, map[string]string{
		"organizations.csv": "legacy_id,name\nORG-1,Acme\n",
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("upload = %d: %s", rec.Code, rec.Body.String())
	}

	// Straight to execute, skipping validation and mappings.
	rec = doRequest(s, orgRequest(http.MethodPost, "/api/sessions/"+sessionID+"/execute", org, nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("execute = %d, want 409", rec.Code)
	}
	var body struct {
		Code string `json:"code"`
	}
	decodeBody(t, rec, &body)
	if body.Code != "SES002" {
		t.Errorf("code = %q, want SES002", body.Code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAPIKey = true
	cfg.Security.APIKeys = []string{"test-key-1"}
	s := NewServer(cfg, newTestService(), nil)
	org := uuid.New()

	if rec := doRequest(s, orgRequest(http.MethodPost, "/api/sessions", org, nil)); rec.Code != http.StatusUnauthorized {
		t.Errorf("no key = %d, want 401", rec.Code)
	}

	req := orgRequest(http.MethodPost, "/api/sessions", org, nil)
	req.Header.Set("X-API-Key", "wrong")
	if rec := doRequest(s, req); rec.Code != http.StatusForbidden {
		t.Errorf("wrong key = %d, want 403", rec.Code)
	}

	req = orgRequest(http.MethodPost, "/api/sessions", org, nil)
	req.Header.Set("X-API-Key", "test-key-1")
	if rec := doRequest(s, req); rec.Code != http.StatusCreated {
		t.Errorf("valid key = %d, want 201", rec.Code)
	}

	// Health probes stay open.
	if rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/healthz", nil)); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d, want 200 without a key", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrSessionNotFound, http.StatusNotFound},
		{core.ErrBatchNotFound, http.StatusNotFound},
		{core.ErrRecordNotFound, http.StatusNotFound},
		{core.ErrCorrectionNotFound, http.StatusNotFound},
		{core.ErrFileNotFound, http.StatusNotFound},
		{core.ErrInvalidState, http.StatusConflict},
		{core.ErrInvalidTransition, http.StatusConflict},
		{core.ErrNotRollbackable, http.StatusConflict},
		{core.ErrNothingToCorrect, http.StatusConflict},
		{core.ErrRecordSettled, http.StatusConflict},
		{core.ErrDuplicateEntity, http.StatusConflict},
		{core.ErrValidationFailed, http.StatusUnprocessableEntity},
		{core.ErrUnresolvedValues, http.StatusUnprocessableEntity},
		{core.ErrFileRejected, http.StatusUnprocessableEntity},
		{core.ErrImportBusy, http.StatusTooManyRequests},
		{fmt.Errorf("execute: %w", core.ErrValidationFailed), http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}

	if got := statusOr(errors.New("boom"), http.StatusBadRequest); got != http.StatusBadRequest {
		t.Errorf("statusOr(unmatched) = %d, want the fallback", got)
	}
	if got := statusOr(core.ErrImportBusy, http.StatusBadRequest); got != http.StatusTooManyRequests {
		t.Errorf("statusOr(sentinel) = %d, want the sentinel status", got)
	}
}
