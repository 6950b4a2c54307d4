package core

// validate.go runs the all-or-nothing validation gate. Every check runs
// and every issue is reported in one pass; nothing imports until the pass
// is clean of errors. Files are independent until the cross-file stage, so
// structural and row checks run concurrently per file.

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/sync/errgroup"

	"github.com/casevault/importer/internal/schema"
)

// ValidateFiles checks every file structurally and row by row, then checks
// external ID uniqueness across files of the same type. Issues come back
// sorted for stable display.
func ValidateFiles(ctx context.Context, files []*ParsedFile) ([]ValidationIssue, error) {
	perFile := make([][]ValidationIssue, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			issues := validateStructure(f)
			issues = append(issues, validateRows(f)...)
			perFile[i] = issues
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var issues []ValidationIssue
	for _, fi := range perFile {
		issues = append(issues, fi...)
	}
	issues = append(issues, validateCrossFileDuplicates(files)...)

	SortIssues(issues)
	return issues, nil
}

// validateStructure checks the file's shape: required columns present,
// unknown columns flagged with a nearest-match hint, duplicate headers
// flagged.
func validateStructure(f *ParsedFile) []ValidationIssue {
	def, ok := schema.Get(f.Type)
	if !ok {
		return []ValidationIssue{structureIssue(f.Name, f.Type, fmt.Sprintf("unknown entity type %q", f.Type))}
	}

	var issues []ValidationIssue

	for _, col := range def.RequiredColumns() {
		if !f.HasColumn(col) {
			issues = append(issues, structureIssue(f.Name, f.Type, fmt.Sprintf("missing required column %q", col)))
		}
	}

	known := make([]string, len(def.Columns))
	for i, col := range def.Columns {
		known[i] = col.Name
	}

	seen := make(map[string]bool, len(f.Header))
	for _, h := range f.Header {
		name := strings.ToLower(h)
		if name == "" {
			continue
		}
		if seen[name] {
			issues = append(issues, structureWarning(f.Name, f.Type, h,
				fmt.Sprintf("column %q appears more than once; the first occurrence is used", h)))
			continue
		}
		seen[name] = true

		if _, ok := def.Column(h); ok {
			continue
		}
		msg := fmt.Sprintf("column %q is not part of %s and will be ignored", h, def.Label)
		if near, ok := nearestColumn(h, known); ok {
			msg = fmt.Sprintf("column %q is not part of %s; did you mean %q?", h, def.Label, near)
		}
		issues = append(issues, structureWarning(f.Name, f.Type, h, msg))
	}

	if len(f.Rows) == 0 {
		issues = append(issues, structureWarning(f.Name, f.Type, "", "file has a header but no data rows"))
	}

	return issues
}

// validateRows checks each data row: external ID present and unique within
// the file, required cells filled, typed cells parseable, reference cells
// filled when required.
func validateRows(f *ParsedFile) []ValidationIssue {
	def, ok := schema.Get(f.Type)
	if !ok {
		return nil
	}

	var issues []ValidationIssue
	seenIDs := make(map[string]int, len(f.Rows))

	for i := range f.Rows {
		rowNum := i + 1

		if row := f.Rows[i]; len(row) > len(f.Header) && !isBlankRow(row[len(f.Header):]) {
			issues = append(issues, rowWarning(f.Name, f.Type, rowNum, "", "",
				fmt.Sprintf("row has %d cells but the header has %d; extra cells are ignored", len(row), len(f.Header))))
		}

		extID := f.ExternalID(i)
		switch {
		case extID == "":
			issues = append(issues, rowIssue(f.Name, f.Type, rowNum, def.ExternalIDColumn, "",
				"required value is missing"))
		case correctionPrefix.MatchString(strings.ToLower(extID)):
			issues = append(issues, rowIssue(f.Name, f.Type, rowNum, def.ExternalIDColumn, extID,
				"external IDs beginning with corr- are reserved"))
		default:
			folded := strings.ToLower(extID)
			if first, dup := seenIDs[folded]; dup {
				issues = append(issues, rowIssue(f.Name, f.Type, rowNum, def.ExternalIDColumn, extID,
					fmt.Sprintf("duplicate external ID; first used in row %d", first)))
			} else {
				seenIDs[folded] = rowNum
			}
		}

		for _, col := range def.Columns {
			if col.Name == def.ExternalIDColumn {
				continue
			}
			if !f.HasColumn(col.Name) {
				continue
			}
			val := f.CellAt(i, col.Name)

			if val == "" {
				if col.Required {
					issues = append(issues, rowIssue(f.Name, f.Type, rowNum, col.Name, "",
						"required value is missing"))
				}
				continue
			}

			switch col.Type {
			case schema.ColDate:
				d, ok := ParseDate(val)
				switch {
				case !ok:
					issues = append(issues, rowIssue(f.Name, f.Type, rowNum, col.Name, val,
						fmt.Sprintf("%q is not a valid date", val)))
				case d.Year() < 1900:
					issues = append(issues, rowWarning(f.Name, f.Type, rowNum, col.Name, val,
						fmt.Sprintf("date %q is before 1900; check the source value", val)))
				case d.After(time.Now().AddDate(1, 0, 0)):
					issues = append(issues, rowWarning(f.Name, f.Type, rowNum, col.Name, val,
						fmt.Sprintf("date %q is more than a year in the future", val)))
				}
			case schema.ColNumber:
				if _, ok := ParseNumber(val); !ok {
					issues = append(issues, rowIssue(f.Name, f.Type, rowNum, col.Name, val,
						fmt.Sprintf("%q is not a valid number", val)))
				}
			case schema.ColBool:
				if _, ok := ParseBool(val); !ok {
					issues = append(issues, rowIssue(f.Name, f.Type, rowNum, col.Name, val,
						fmt.Sprintf("%q is not a valid yes/no value", val)))
				}
			}
		}
	}

	return issues
}

// validateCrossFileDuplicates flags external IDs repeated across files of
// the same entity type. Within-file duplicates are already reported by
// validateRows.
func validateCrossFileDuplicates(files []*ParsedFile) []ValidationIssue {
	type first struct {
		file string
		row  int
	}
	seen := make(map[schema.EntityType]map[string]first)

	var issues []ValidationIssue
	for _, f := range files {
		byID, ok := seen[f.Type]
		if !ok {
			byID = make(map[string]first)
			seen[f.Type] = byID
		}
		for i := range f.Rows {
			extID := f.ExternalID(i)
			if extID == "" {
				continue
			}
			folded := strings.ToLower(extID)
			if prev, dup := byID[folded]; dup {
				if prev.file != f.Name {
					issues = append(issues, rowIssue(f.Name, f.Type, i+1, "", extID,
						fmt.Sprintf("duplicate external ID; already used in %s row %d", prev.file, prev.row)))
				}
				continue
			}
			byID[folded] = first{file: f.Name, row: i + 1}
		}
	}
	return issues
}

// nearestColumn finds the closest known column name for an unrecognized
// header, for typo hints.
func nearestColumn(name string, known []string) (string, bool) {
	ranks := fuzzy.RankFindNormalizedFold(name, known)
	if len(ranks) == 0 {
		return "", false
	}
	sort.Sort(ranks)

	best := ranks[0]
	if similarity(best.Distance, name, best.Target) < SimilarityThreshold {
		return "", false
	}
	return known[best.OriginalIndex], true
}
