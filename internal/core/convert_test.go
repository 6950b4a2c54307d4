package core

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

// ----------------------------------------------------------------------------
// CleanCell Tests
// ----------------------------------------------------------------------------

func TestCleanCell(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain value", input: "CASE-1001", want: "CASE-1001"},
		{name: "surrounding whitespace", input: "  CASE-1001  ", want: "CASE-1001"},
		{name: "excel formula wrapper", input: `="0012345"`, want: "0012345"},
		{name: "excel formula wrapper empty", input: `=""`, want: ""},
		{name: "bare equals prefix", input: "=TOTAL", want: "TOTAL"},
		{name: "double quoted", input: `"Smith, Jane"`, want: "Smith, Jane"},
		{name: "single quoted", input: "'pending'", want: "pending"},
		{name: "quotes then whitespace", input: `" padded "`, want: "padded"},
		{name: "empty", input: "", want: ""},
		{name: "only whitespace", input: "   ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanCell(tt.input); got != tt.want {
				t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// MakeHeaderIndex Tests
// ----------------------------------------------------------------------------

func TestMakeHeaderIndex(t *testing.T) {
	idx := MakeHeaderIndex([]string{"Legacy_ID", "  Name ", "name", "Opened_Date"})

	if got, ok := idx["legacy_id"]; !ok || got != 0 {
		t.Errorf("idx[legacy_id] = %d, %v; want 0, true", got, ok)
	}
	// Duplicate headers keep the first position.
	if got, ok := idx["name"]; !ok || got != 1 {
		t.Errorf("idx[name] = %d, %v; want 1, true", got, ok)
	}
	if got, ok := idx["opened_date"]; !ok || got != 3 {
		t.Errorf("idx[opened_date] = %d, %v; want 3, true", got, ok)
	}
	if _, ok := idx["missing"]; ok {
		t.Error("idx[missing] should not exist")
	}
}

// ----------------------------------------------------------------------------
// ParseDate Tests
// ----------------------------------------------------------------------------

func TestParseDate(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantOK    bool
		wantYear  int
		wantMonth time.Month
		wantDay   int
	}{
		// ISO
		{name: "iso", input: "2024-01-15", wantOK: true, wantYear: 2024, wantMonth: time.January, wantDay: 15},
		{name: "iso leap day", input: "2024-02-29", wantOK: true, wantYear: 2024, wantMonth: time.February, wantDay: 29},
		{name: "iso slashes", input: "2024/01/15", wantOK: true, wantYear: 2024, wantMonth: time.January, wantDay: 15},

		// US
		{name: "us padded", input: "01/15/2024", wantOK: true, wantYear: 2024, wantMonth: time.January, wantDay: 15},
		{name: "us unpadded", input: "1/5/2024", wantOK: true, wantYear: 2024, wantMonth: time.January, wantDay: 5},
		{name: "us dashes", input: "01-15-2024", wantOK: true, wantYear: 2024, wantMonth: time.January, wantDay: 15},
		{name: "us dots", input: "01.15.2024", wantOK: true, wantYear: 2024, wantMonth: time.January, wantDay: 15},

		// Text and compact
		{name: "text month", input: "Jan 15, 2024", wantOK: true, wantYear: 2024, wantMonth: time.January, wantDay: 15},
		{name: "day first text month", input: "15 Jan 2024", wantOK: true, wantYear: 2024, wantMonth: time.January, wantDay: 15},
		{name: "compact", input: "20240115", wantOK: true, wantYear: 2024, wantMonth: time.January, wantDay: 15},

		// Timestamps truncate to the day
		{name: "timestamp space", input: "2024-01-15 10:30:00", wantOK: true, wantYear: 2024, wantMonth: time.January, wantDay: 15},
		{name: "timestamp T", input: "2024-01-15T10:30:00", wantOK: true, wantYear: 2024, wantMonth: time.January, wantDay: 15},
		{name: "us timestamp", input: "1/15/2024 09:00", wantOK: true, wantYear: 2024, wantMonth: time.January, wantDay: 15},

		// Two-digit years
		{name: "two digit recent", input: "6/1/25", wantOK: true, wantYear: 2025, wantMonth: time.June, wantDay: 1},
		{name: "two digit last century", input: "6/1/99", wantOK: true, wantYear: 1999, wantMonth: time.June, wantDay: 1},
		{name: "two digit far future shifts back", input: "6/1/68", wantOK: true, wantYear: 1968, wantMonth: time.June, wantDay: 1},

		// With whitespace
		{name: "padded input", input: "  2024-01-15  ", wantOK: true, wantYear: 2024, wantMonth: time.January, wantDay: 15},

		// Invalid
		{name: "empty", input: "", wantOK: false},
		{name: "whitespace only", input: "   ", wantOK: false},
		{name: "not a date", input: "yesterday", wantOK: false},
		{name: "nonexistent day", input: "2023-02-30", wantOK: false},
		{name: "bare number", input: "15", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDate(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParseDate(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if !tt.wantOK {
				return
			}
			if got.Year() != tt.wantYear || got.Month() != tt.wantMonth || got.Day() != tt.wantDay {
				t.Errorf("ParseDate(%q) = %v, want %d-%02d-%02d",
					tt.input, got, tt.wantYear, tt.wantMonth, tt.wantDay)
			}
			if got.Hour() != 0 || got.Minute() != 0 || got.Second() != 0 {
				t.Errorf("ParseDate(%q) kept time of day: %v", tt.input, got)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// ParseNumber Tests
// ----------------------------------------------------------------------------

func TestParseNumber(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{name: "integer", input: "123", want: "123", wantOK: true},
		{name: "negative", input: "-456", want: "-456", wantOK: true},
		{name: "explicit positive", input: "+7", want: "+7", wantOK: true},
		{name: "decimal", input: "123.45", want: "123.45", wantOK: true},
		{name: "leading point", input: ".5", want: ".5", wantOK: true},
		{name: "trailing point", input: "99.", want: "99.", wantOK: true},
		{name: "dollar and commas", input: "$1,234.56", want: "1234.56", wantOK: true},
		{name: "euro", input: "€950", want: "950", wantOK: true},
		{name: "pound", input: "£950", want: "950", wantOK: true},
		{name: "millions", input: "1,000,000", want: "1000000", wantOK: true},
		{name: "accounting negative", input: "(123.45)", want: "-123.45", wantOK: true},
		{name: "accounting with currency", input: "($1,234.56)", want: "-1234.56", wantOK: true},
		{name: "accounting with spaces", input: "( 88.5 )", want: "-88.5", wantOK: true},
		{name: "padded", input: "  42  ", want: "42", wantOK: true},

		{name: "empty", input: "", wantOK: false},
		{name: "whitespace", input: "   ", wantOK: false},
		{name: "letters", input: "twelve", wantOK: false},
		{name: "mixed", input: "12h30", wantOK: false},
		{name: "lone currency", input: "$", wantOK: false},
		{name: "double decimal", input: "1.2.3", wantOK: false},
		{name: "double sign", input: "--4", wantOK: false},
		{name: "trailing sign", input: "4-", wantOK: false},
		{name: "nan", input: "NaN", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseNumber(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParseNumber(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if tt.wantOK && got != tt.want {
				t.Errorf("ParseNumber(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// ParseBool Tests
// ----------------------------------------------------------------------------

func TestParseBool(t *testing.T) {
	trues := []string{"true", "TRUE", "t", "yes", "Yes", "y", "1", " y "}
	for _, in := range trues {
		if v, ok := ParseBool(in); !ok || !v {
			t.Errorf("ParseBool(%q) = %v, %v; want true, true", in, v, ok)
		}
	}

	falses := []string{"false", "FALSE", "f", "no", "No", "n", "0", " n "}
	for _, in := range falses {
		if v, ok := ParseBool(in); !ok || v {
			t.Errorf("ParseBool(%q) = %v, %v; want false, true", in, v, ok)
		}
	}

	invalid := []string{"", "   ", "maybe", "2", "yep", "on"}
	for _, in := range invalid {
		if _, ok := ParseBool(in); ok {
			t.Errorf("ParseBool(%q) ok = true, want false", in)
		}
	}
}

// ----------------------------------------------------------------------------
// ToPg* Tests
// ----------------------------------------------------------------------------

func TestToPgText(t *testing.T) {
	if got := ToPgText("  hello  "); !got.Valid || got.String != "hello" {
		t.Errorf("ToPgText trimmed = %+v, want valid %q", got, "hello")
	}
	if got := ToPgText("   "); got.Valid {
		t.Errorf("ToPgText(blank) = %+v, want NULL", got)
	}
}

func TestToPgDate(t *testing.T) {
	got := ToPgDate("03/01/2024")
	if !got.Valid {
		t.Fatal("ToPgDate(03/01/2024) returned NULL")
	}
	if got.Time.Year() != 2024 || got.Time.Month() != time.March || got.Time.Day() != 1 {
		t.Errorf("ToPgDate(03/01/2024) = %v", got.Time)
	}
	if got := ToPgDate("not a date"); got.Valid {
		t.Errorf("ToPgDate(not a date) = %+v, want NULL", got)
	}
}

func TestToPgNumeric(t *testing.T) {
	got := ToPgNumeric("$2,500.75")
	if !got.Valid {
		t.Fatal("ToPgNumeric($2,500.75) returned NULL")
	}
	f, err := got.Float64Value()
	if err != nil || !f.Valid {
		t.Fatalf("Float64Value: %v valid=%v", err, f.Valid)
	}
	if f.Float64 != 2500.75 {
		t.Errorf("ToPgNumeric($2,500.75) = %v, want 2500.75", f.Float64)
	}

	if got := ToPgNumeric("abc"); got.Valid {
		t.Errorf("ToPgNumeric(abc) = %+v, want NULL", got)
	}
	// pgtype.Numeric does not take scientific notation; it comes back NULL
	// even though the pattern itself allows it.
	if got := ToPgNumeric("1.5e10"); got.Valid {
		t.Errorf("ToPgNumeric(1.5e10) = %+v, want NULL", got)
	}
}

func TestToPgBool(t *testing.T) {
	if got := ToPgBool("yes"); !got.Valid || !got.Bool {
		t.Errorf("ToPgBool(yes) = %+v, want valid true", got)
	}
	if got := ToPgBool("0"); !got.Valid || got.Bool {
		t.Errorf("ToPgBool(0) = %+v, want valid false", got)
	}
	if got := ToPgBool("junk"); got.Valid {
		t.Errorf("ToPgBool(junk) = %+v, want NULL", got)
	}
}

func TestToPgUUID(t *testing.T) {
	id := uuid.New()
	got := ToPgUUID(id.String())
	if !got.Valid {
		t.Fatalf("ToPgUUID(%s) returned NULL", id)
	}
	if PgUUIDToString(got) != id.String() {
		t.Errorf("round trip = %s, want %s", PgUUIDToString(got), id)
	}

	if got := ToPgUUID(""); got.Valid {
		t.Errorf("ToPgUUID(empty) = %+v, want NULL", got)
	}
	if got := ToPgUUID("not-a-uuid"); got.Valid {
		t.Errorf("ToPgUUID(not-a-uuid) = %+v, want NULL", got)
	}
	if got := PgUUIDToString(ToPgUUID("")); got != "" {
		t.Errorf("PgUUIDToString(NULL) = %q, want empty", got)
	}
}
