package core

import (
	"context"
	"strings"
	"testing"
)

// ----------------------------------------------------------------------------
// Validation Tests
// ----------------------------------------------------------------------------

// mustParse builds a ParsedFile from literal content, failing the test on
// parse rejection.
func mustParse(t *testing.T, name, content string) *ParsedFile {
	t.Helper()
	file, issues := ParseFile(name, strings.NewReader(content), 0)
	if file == nil {
		t.Fatalf("ParseFile(%s) rejected: %v", name, issues)
	}
	return file
}

func TestValidateFiles_StructureChecks(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  string
		wantMsg  string
		severity IssueSeverity
	}{
		{
			name:     "missing required column",
			file:     "users.csv",
			content:  "legacy_id,first_name,last_name\nU-1,Ada,Smith\n",
			wantMsg:  `missing required column "email"`,
			severity: SeverityError,
		},
		{
			name:     "unknown column with a near match",
			file:     "organizations.csv",
			content:  "legacy_id,name,phne\nORG-1,Acme,555-0100\n",
			wantMsg:  `did you mean "phone"`,
			severity: SeverityWarning,
		},
		{
			name:     "unknown column without a hint",
			file:     "organizations.csv",
			content:  "legacy_id,name,zzz\nORG-1,Acme,x\n",
			wantMsg:  "will be ignored",
			severity: SeverityWarning,
		},
		{
			name:     "duplicate header",
			file:     "organizations.csv",
			content:  "legacy_id,name,name\nORG-1,Acme,Acme Legal\n",
			wantMsg:  `column "name" appears more than once`,
			severity: SeverityWarning,
		},
		{
			name:     "header with no data rows",
			file:     "organizations.csv",
			content:  "legacy_id,name\n",
			wantMsg:  "no data rows",
			severity: SeverityWarning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := mustParse(t, tt.file, tt.content)
			issues, err := ValidateFiles(context.Background(), []*ParsedFile{f})
			if err != nil {
				t.Fatalf("ValidateFiles: %v", err)
			}

			found := false
			for _, i := range issues {
				if !strings.Contains(i.Message, tt.wantMsg) {
					continue
				}
				found = true
				if i.Kind != IssueStructure {
					t.Errorf("Kind = %s, want structure", i.Kind)
				}
				if i.Severity != tt.severity {
					t.Errorf("Severity = %s, want %s", i.Severity, tt.severity)
				}
			}
			if !found {
				t.Errorf("no issue matching %q in %v", tt.wantMsg, issues)
			}
		})
	}
}

func TestValidateFiles_RowChecks(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantMsg string
		wantCol string
		wantRow int
	}{
		{
			name:    "missing external ID",
			file:    "organizations.csv",
			content: "legacy_id,name\n,Acme\n",
			wantMsg: "required value is missing",
			wantCol: "legacy_id",
			wantRow: 1,
		},
		{
			name:    "reserved correction prefix",
			file:    "organizations.csv",
			content: "legacy_id,name\ncorr-deadbeef-ORG-1,Acme\n",
			wantMsg: "reserved",
			wantCol: "legacy_id",
			wantRow: 1,
		},
		{
			name:    "duplicate external ID ignores case",
			file:    "organizations.csv",
			content: "legacy_id,name\nORG-1,Acme\norg-1,Globex\n",
			wantMsg: "duplicate external ID; first used in row 1",
			wantCol: "legacy_id",
			wantRow: 2,
		},
		{
			name:    "required cell empty",
			file:    "users.csv",
			content: "legacy_id,first_name,last_name,email\nU-1,,Smith,ada@example.com\n",
			wantMsg: "required value is missing",
			wantCol: "first_name",
			wantRow: 1,
		},
		{
			name:    "unparseable date",
			file:    "organizations.csv",
			content: "legacy_id,name,created_date\nORG-1,Acme,13/45/2020\n",
			wantMsg: "not a valid date",
			wantCol: "created_date",
			wantRow: 1,
		},
		{
			name:    "unparseable number",
			file:    "accounts.csv",
			content: "legacy_id,organization_id,name,balance\nACC-1,ORG-1,Operating,12abc\n",
			wantMsg: "not a valid number",
			wantCol: "balance",
			wantRow: 1,
		},
		{
			name:    "unparseable yes-no value",
			file:    "organizations.csv",
			content: "legacy_id,name,active\nORG-1,Acme,maybe\n",
			wantMsg: "not a valid yes/no value",
			wantCol: "active",
			wantRow: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := mustParse(t, tt.file, tt.content)
			issues, err := ValidateFiles(context.Background(), []*ParsedFile{f})
			if err != nil {
				t.Fatalf("ValidateFiles: %v", err)
			}

			found := false
			for _, i := range issues {
				if i.Kind == IssueRow && i.Row == tt.wantRow && i.Column == tt.wantCol &&
					strings.Contains(i.Message, tt.wantMsg) {
					found = true
				}
			}
			if !found {
				t.Errorf("no row issue %q at row %d column %q in %v", tt.wantMsg, tt.wantRow, tt.wantCol, issues)
			}
		})
	}
}

func TestValidateFiles_CleanFilePasses(t *testing.T) {
	f := mustParse(t, "organizations.csv",
		"legacy_id,name,active,created_date\nORG-1,Acme,yes,2020-01-15\nORG-2,Globex,no,6/1/2021\n")
	issues, err := ValidateFiles(context.Background(), []*ParsedFile{f})
	if err != nil {
		t.Fatalf("ValidateFiles: %v", err)
	}
	if len(issues) != 0 {
		t.Errorf("unexpected issues: %v", issues)
	}
}

func TestValidateFiles_ImplausibleDates(t *testing.T) {
	f := mustParse(t, "organizations.csv",
		"legacy_id,name,created_date\nORG-1,Acme,1/15/1885\nORG-2,Globex,2099-06-01\n")
	issues, err := ValidateFiles(context.Background(), []*ParsedFile{f})
	if err != nil {
		t.Fatalf("ValidateFiles: %v", err)
	}
	if HasErrors(issues) {
		t.Fatalf("implausible dates should warn, not block: %v", issues)
	}

	var before, future bool
	for _, i := range issues {
		if i.Severity != SeverityWarning || i.Kind != IssueRow || i.Column != "created_date" {
			continue
		}
		if i.Row == 1 && strings.Contains(i.Message, "before 1900") {
			before = true
		}
		if i.Row == 2 && strings.Contains(i.Message, "in the future") {
			future = true
		}
	}
	if !before {
		t.Errorf("no before-1900 warning at row 1 in %v", issues)
	}
	if !future {
		t.Errorf("no far-future warning at row 2 in %v", issues)
	}
}

func TestValidateFiles_LongRowWarning(t *testing.T) {
	f := mustParse(t, "organizations.csv", "legacy_id,name\nORG-1,Acme,extra-cell\n")
	issues, err := ValidateFiles(context.Background(), []*ParsedFile{f})
	if err != nil {
		t.Fatalf("ValidateFiles: %v", err)
	}
	if HasErrors(issues) {
		t.Fatalf("a long row should warn, not block: %v", issues)
	}

	found := false
	for _, i := range issues {
		if i.Severity == SeverityWarning && i.Row == 1 && strings.Contains(i.Message, "extra cells are ignored") {
			found = true
		}
	}
	if !found {
		t.Errorf("no long-row warning in %v", issues)
	}
}

func TestValidateFiles_CrossFileDuplicates(t *testing.T) {
	a := mustParse(t, "organizations.csv", "legacy_id,name\nORG-1,Acme\n")
	b := mustParse(t, "orgs.csv", "legacy_id,name\norg-1,Globex\n")

	issues, err := ValidateFiles(context.Background(), []*ParsedFile{a, b})
	if err != nil {
		t.Fatalf("ValidateFiles: %v", err)
	}

	var dup *ValidationIssue
	for i := range issues {
		if strings.Contains(issues[i].Message, "already used in") {
			dup = &issues[i]
		}
	}
	if dup == nil {
		t.Fatalf("no cross-file duplicate in %v", issues)
	}
	if dup.File != "orgs.csv" || dup.Row != 1 || dup.Severity != SeverityError {
		t.Errorf("duplicate reported at %s row %d (%s), want orgs.csv row 1 error", dup.File, dup.Row, dup.Severity)
	}
	if !strings.Contains(dup.Message, "organizations.csv row 1") {
		t.Errorf("message = %q, want it to point at the first use", dup.Message)
	}
}

func TestValidateFiles_SortedOutput(t *testing.T) {
	files := []*ParsedFile{
		mustParse(t, "users.csv",
			"legacy_id,first_name,last_name,email\n,Ada,Smith,ada@example.com\nU-2,,Jones,bob@example.com\n"),
		mustParse(t, "organizations.csv", "legacy_id,name\n,\n"),
	}

	issues, err := ValidateFiles(context.Background(), files)
	if err != nil {
		t.Fatalf("ValidateFiles: %v", err)
	}
	if len(issues) < 4 {
		t.Fatalf("issues = %d, want at least four across both files", len(issues))
	}
	for i := 1; i < len(issues); i++ {
		prev, cur := issues[i-1], issues[i]
		if prev.File > cur.File || (prev.File == cur.File && prev.Row > cur.Row) {
			t.Errorf("issues out of order: %v before %v", prev, cur)
		}
	}
}

func TestHasErrors(t *testing.T) {
	warnings := []ValidationIssue{{Severity: SeverityWarning}}
	if HasErrors(warnings) {
		t.Error("HasErrors = true for warnings only")
	}
	mixed := append(warnings, ValidationIssue{Severity: SeverityError})
	if !HasErrors(mixed) {
		t.Error("HasErrors = false with an error present")
	}

	errs, warns := CountBySeverity(mixed)
	if errs != 1 || warns != 1 {
		t.Errorf("CountBySeverity = (%d, %d), want (1, 1)", errs, warns)
	}
}
