package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// requireOrg reads the organization scope from the X-Organization-ID
// header. Every data route is tenant-scoped; a missing or malformed header
// fails the request before any store access.
func requireOrg(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get("X-Organization-ID")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing X-Organization-ID header")
		return uuid.Nil, false
	}
	org, err := uuid.Parse(raw)
	if err != nil || org == uuid.Nil {
		writeError(w, http.StatusBadRequest, "invalid X-Organization-ID header")
		return uuid.Nil, false
	}
	return org, true
}

// uuidParam parses a UUID path parameter.
func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
