package core

// crossfile.go resolves references between files. A reference cell names
// the external ID of a row that must exist either in another file of the
// same session or among entities already in storage. External IDs compare
// case-insensitively; legacy exports are not consistent about case.

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/casevault/importer/internal/schema"
)

// ValidateReferences checks every non-empty reference cell across the
// files. Resolution order is session first, storage second; an ID found in
// neither is an error on the referencing row.
func ValidateReferences(ctx context.Context, records RecordStore, org uuid.UUID, files []*ParsedFile) ([]ValidationIssue, error) {
	inSession := sessionExternalIDs(files)

	// One storage lookup per target type, covering every ID the session
	// files do not supply.
	missing := make(map[schema.EntityType]map[string]bool)
	for _, f := range files {
		def, ok := schema.Get(f.Type)
		if !ok {
			continue
		}
		for _, col := range def.ReferenceColumns() {
			if !f.HasColumn(col.Name) {
				continue
			}
			for i := range f.Rows {
				ref := strings.TrimSpace(f.CellAt(i, col.Name))
				if ref == "" {
					continue
				}
				folded := strings.ToLower(ref)
				if inSession[col.RefEntity][folded] {
					continue
				}
				if missing[col.RefEntity] == nil {
					missing[col.RefEntity] = make(map[string]bool)
				}
				missing[col.RefEntity][folded] = true
			}
		}
	}

	stored := make(map[schema.EntityType]map[string]bool)
	for typ, ids := range missing {
		list := make([]string, 0, len(ids))
		for id := range ids {
			list = append(list, id)
		}
		resolved, err := records.ResolveExternalIDs(ctx, org, typ, list)
		if err != nil {
			return nil, fmt.Errorf("resolve %s references: %w", typ, err)
		}
		found := make(map[string]bool, len(resolved))
		for id := range resolved {
			found[strings.ToLower(id)] = true
		}
		stored[typ] = found
	}

	var issues []ValidationIssue
	for _, f := range files {
		def, ok := schema.Get(f.Type)
		if !ok {
			continue
		}
		for _, col := range def.ReferenceColumns() {
			if !f.HasColumn(col.Name) {
				continue
			}
			for i := range f.Rows {
				ref := strings.TrimSpace(f.CellAt(i, col.Name))
				if ref == "" {
					continue
				}
				folded := strings.ToLower(ref)
				if inSession[col.RefEntity][folded] || stored[col.RefEntity][folded] {
					continue
				}
				issues = append(issues, referenceIssue(f.Name, f.Type, i+1, col.Name, ref,
					fmt.Sprintf("references %s %q, which is in neither this import nor the system", col.RefEntity, ref)))
			}
		}
	}

	return issues, nil
}

// sessionExternalIDs indexes the external IDs each file supplies, folded
// for case-insensitive matching.
func sessionExternalIDs(files []*ParsedFile) map[schema.EntityType]map[string]bool {
	out := make(map[schema.EntityType]map[string]bool)
	for _, f := range files {
		byID, ok := out[f.Type]
		if !ok {
			byID = make(map[string]bool)
			out[f.Type] = byID
		}
		for i := range f.Rows {
			if extID := f.ExternalID(i); extID != "" {
				byID[strings.ToLower(extID)] = true
			}
		}
	}
	return out
}
