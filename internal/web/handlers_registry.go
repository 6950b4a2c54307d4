package web

// handlers_registry.go serves the static entity type registry: what can be
// imported, which columns each file needs, and the order types import in.

import (
	"encoding/csv"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/casevault/importer/internal/schema"
)

// columnView is one column of an entity template.
type columnView struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Required   bool              `json:"required"`
	References schema.EntityType `json:"references,omitempty"`
	Category   string            `json:"category,omitempty"`
	Tips       string            `json:"tips,omitempty"`
}

// entityTypeView is the API shape of one registered entity type.
type entityTypeView struct {
	Type             schema.EntityType   `json:"type"`
	Label            string              `json:"label"`
	ExternalIDColumn string              `json:"externalIdColumn"`
	DependsOn        []schema.EntityType `json:"dependsOn,omitempty"`
	FileAliases      []string            `json:"fileAliases,omitempty"`
	Columns          []columnView        `json:"columns"`
}

// handleListEntityTypes returns every registered entity type with the
// dependency-resolved import order.
func (s *Server) handleListEntityTypes(w http.ResponseWriter, r *http.Request) {
	order, err := schema.ImportOrder()
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	defs := schema.All()
	types := make([]entityTypeView, 0, len(defs))
	for _, def := range defs {
		cols := make([]columnView, 0, len(def.Columns))
		for _, col := range def.Columns {
			cols = append(cols, columnView{
				Name:       col.Name,
				Type:       col.Type.String(),
				Required:   col.Required,
				References: col.RefEntity,
				Category:   col.Category,
				Tips:       col.Tips,
			})
		}
		types = append(types, entityTypeView{
			Type:             def.Type,
			Label:            def.Label,
			ExternalIDColumn: def.ExternalIDColumn,
			DependsOn:        def.DependsOn,
			FileAliases:      def.FileAliases,
			Columns:          cols,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"importOrder": order,
		"types":       types,
	})
}

// handleDownloadTemplate returns a CSV template with the headers for one
// entity type.
func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	typ := schema.EntityType(chi.URLParam(r, "entityType"))
	def, ok := schema.Get(typ)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown entity type")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_template.csv"`, typ))

	header := make([]string, 0, len(def.Columns))
	for _, col := range def.Columns {
		header = append(header, col.Name)
	}

	csvWriter := csv.NewWriter(w)
	csvWriter.Write(header)
	csvWriter.Flush()
}
