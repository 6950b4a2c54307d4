package core

// issues.go defines the closed set of problems validation can report.
// Every issue a session surfaces is one of these kinds; handlers and the
// CLI render them without needing to know which check produced them.

import (
	"fmt"
	"sort"

	"github.com/casevault/importer/internal/schema"
)

// IssueSeverity splits issues into blocking errors and advisory warnings.
// A session only advances past validation when no issue is an error.
type IssueSeverity string

const (
	SeverityError   IssueSeverity = "error"
	SeverityWarning IssueSeverity = "warning"
)

// IssueKind identifies which stage of checking produced an issue.
type IssueKind string

const (
	// IssueParse covers unreadable input: malformed delimited text, bad
	// encoding, or an empty file.
	IssueParse IssueKind = "parse"
	// IssueStructure covers file-shape problems: unrecognized entity type,
	// missing required columns, duplicate columns.
	IssueStructure IssueKind = "structure"
	// IssueRow covers single-row problems: empty required cells, values
	// that do not coerce to the column type, duplicate external IDs.
	IssueRow IssueKind = "row"
	// IssueReference covers cross-file problems: a reference cell naming an
	// external ID that exists neither in the session files nor in storage.
	IssueReference IssueKind = "reference"
	// IssueExecution covers storage failures while a batch runs.
	IssueExecution IssueKind = "execution"
)

// ValidationIssue is one problem found in an import session. Row is 1-based
// counting data rows (the header is row 0); zero means the issue applies to
// the whole file.
type ValidationIssue struct {
	Severity IssueSeverity     `json:"severity"`
	Kind     IssueKind         `json:"kind"`
	File     string            `json:"file,omitempty"`
	Type     schema.EntityType `json:"entityType,omitempty"`
	Row      int               `json:"row,omitempty"`
	Column   string            `json:"column,omitempty"`
	Value    string            `json:"value,omitempty"`
	Message  string            `json:"message"`
}

func (i ValidationIssue) String() string {
	switch {
	case i.File != "" && i.Row > 0 && i.Column != "":
		return fmt.Sprintf("%s row %d, %s: %s", i.File, i.Row, i.Column, i.Message)
	case i.File != "" && i.Row > 0:
		return fmt.Sprintf("%s row %d: %s", i.File, i.Row, i.Message)
	case i.File != "":
		return fmt.Sprintf("%s: %s", i.File, i.Message)
	default:
		return i.Message
	}
}

// HasErrors reports whether any issue blocks the session.
func HasErrors(issues []ValidationIssue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// CountBySeverity returns how many issues are errors and how many are
// warnings.
func CountBySeverity(issues []ValidationIssue) (errors, warnings int) {
	for _, i := range issues {
		if i.Severity == SeverityError {
			errors++
		} else {
			warnings++
		}
	}
	return errors, warnings
}

// SortIssues orders issues for stable display: by file, then row, then
// column, then message.
func SortIssues(issues []ValidationIssue) {
	sort.SliceStable(issues, func(a, b int) bool {
		if issues[a].File != issues[b].File {
			return issues[a].File < issues[b].File
		}
		if issues[a].Row != issues[b].Row {
			return issues[a].Row < issues[b].Row
		}
		if issues[a].Column != issues[b].Column {
			return issues[a].Column < issues[b].Column
		}
		return issues[a].Message < issues[b].Message
	})
}

func parseIssue(file string, row int, msg string) ValidationIssue {
	return ValidationIssue{Severity: SeverityError, Kind: IssueParse, File: file, Row: row, Message: msg}
}

func structureIssue(file string, typ schema.EntityType, msg string) ValidationIssue {
	return ValidationIssue{Severity: SeverityError, Kind: IssueStructure, File: file, Type: typ, Message: msg}
}

func structureWarning(file string, typ schema.EntityType, column, msg string) ValidationIssue {
	return ValidationIssue{Severity: SeverityWarning, Kind: IssueStructure, File: file, Type: typ, Column: column, Message: msg}
}

func rowIssue(file string, typ schema.EntityType, row int, column, value, msg string) ValidationIssue {
	return ValidationIssue{Severity: SeverityError, Kind: IssueRow, File: file, Type: typ, Row: row, Column: column, Value: value, Message: msg}
}

func rowWarning(file string, typ schema.EntityType, row int, column, value, msg string) ValidationIssue {
	return ValidationIssue{Severity: SeverityWarning, Kind: IssueRow, File: file, Type: typ, Row: row, Column: column, Value: value, Message: msg}
}

func referenceIssue(file string, typ schema.EntityType, row int, column, value, msg string) ValidationIssue {
	return ValidationIssue{Severity: SeverityError, Kind: IssueReference, File: file, Type: typ, Row: row, Column: column, Value: value, Message: msg}
}
