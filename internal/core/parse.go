package core

// parse.go turns delimited text exports into ParsedFiles. Legacy systems
// disagree on almost everything, so parsing tolerates what it can: the
// delimiter is sniffed, the header row is searched for rather than assumed
// first, blank rows are dropped, and malformed lines become issues instead
// of aborting the file.

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/casevault/importer/internal/schema"
)

// MaxFileSize is the default per-file upload limit.
var MaxFileSize int64 = 100 * 1024 * 1024

// MaxHeaderSearchRows is how many leading rows are scanned for the header.
var MaxHeaderSearchRows = 20

// ParsedFile is one upload after parsing: typed, with a located header and
// cleaned data rows. Row numbering in issues is 1-based over Rows; the
// physical line of data row i is Lines[i] for messages that point into the
// original file.
type ParsedFile struct {
	Name      string            `json:"name"`
	Type      schema.EntityType `json:"entityType"`
	Delimiter rune              `json:"-"`
	Header    []string          `json:"header"`
	Rows      [][]string        `json:"-"`
	Lines     []int             `json:"-"`

	headerIdx HeaderIndex
}

// RowCount returns the number of data rows.
func (f *ParsedFile) RowCount() int { return len(f.Rows) }

// HasColumn reports whether the header carries the named column.
func (f *ParsedFile) HasColumn(column string) bool {
	_, ok := f.headerIdx[strings.ToLower(column)]
	return ok
}

// Cell returns the named column's value from a row, empty when the column
// is absent or the row is short.
func (f *ParsedFile) Cell(row []string, column string) string {
	pos, ok := f.headerIdx[strings.ToLower(column)]
	if !ok || pos >= len(row) {
		return ""
	}
	return row[pos]
}

// CellAt returns the named column's value from data row i.
func (f *ParsedFile) CellAt(i int, column string) string {
	if i < 0 || i >= len(f.Rows) {
		return ""
	}
	return f.Cell(f.Rows[i], column)
}

// ExternalID returns the source-system identifier of data row i.
func (f *ParsedFile) ExternalID(i int) string {
	def, ok := schema.Get(f.Type)
	if !ok {
		return ""
	}
	return f.CellAt(i, def.ExternalIDColumn)
}

// ParseFile reads one delimited export. Returned issues carry everything
// wrong with the file; the ParsedFile is nil only when nothing usable could
// be read. maxBytes of 0 falls back to MaxFileSize.
func ParseFile(name string, r io.Reader, maxBytes int64) (*ParsedFile, []ValidationIssue) {
	if maxBytes <= 0 {
		maxBytes = MaxFileSize
	}

	prepared, count := PrepareReader(io.LimitReader(r, maxBytes+1))

	br := bufio.NewReaderSize(prepared, 64*1024)
	delim := sniffDelimiter(br)

	cr := csv.NewReader(br)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var issues []ValidationIssue
	var records [][]string
	var lines []int

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				issues = append(issues, parseIssue(name, 0, fmt.Sprintf("line %d: %v", perr.Line, perr.Err)))
				continue
			}
			issues = append(issues, parseIssue(name, 0, err.Error()))
			break
		}
		line, _ := cr.FieldPos(0)
		records = append(records, rec)
		lines = append(lines, line)
	}

	if count() > maxBytes {
		return nil, append(issues, parseIssue(name, 0,
			fmt.Sprintf("file exceeds the %dMB limit", maxBytes/(1024*1024))))
	}

	headerAt := -1
	var typ schema.EntityType

	if t, ok := schema.DetectEntityType(name, nil); ok {
		// File name identifies the type; the header is the first row with
		// content. Missing columns surface during structural validation.
		typ = t
		for i, rec := range records {
			if i >= MaxHeaderSearchRows {
				break
			}
			if !isBlankRow(rec) {
				headerAt = i
				break
			}
		}
	} else {
		// Fall back to recognizing the header by its column signature.
		for i, rec := range records {
			if i >= MaxHeaderSearchRows {
				break
			}
			if isBlankRow(rec) {
				continue
			}
			cleaned := cleanRow(rec)
			if t, ok := schema.DetectEntityType("", cleaned); ok {
				typ = t
				headerAt = i
				break
			}
		}
	}

	if len(records) == 0 {
		return nil, append(issues, parseIssue(name, 0, "file is empty"))
	}
	if headerAt < 0 {
		if typ == "" {
			return nil, append(issues, structureIssue(name, "",
				"cannot determine entity type from the file name or its columns"))
		}
		return nil, append(issues, parseIssue(name, 0, "no header row found"))
	}

	file := &ParsedFile{
		Name:      name,
		Type:      typ,
		Delimiter: delim,
		Header:    cleanRow(records[headerAt]),
	}
	file.headerIdx = MakeHeaderIndex(file.Header)

	for i := headerAt + 1; i < len(records); i++ {
		if isBlankRow(records[i]) {
			continue
		}
		file.Rows = append(file.Rows, cleanRow(records[i]))
		file.Lines = append(file.Lines, lines[i])
	}

	return file, issues
}

// sniffDelimiter inspects the first line for the most frequent candidate
// delimiter. Characters inside double quotes do not count. Defaults to
// comma.
func sniffDelimiter(br *bufio.Reader) rune {
	sample, _ := br.Peek(64 * 1024)
	if i := bytes.IndexByte(sample, '\n'); i >= 0 {
		sample = sample[:i]
	}

	counts := map[rune]int{',': 0, ';': 0, '\t': 0, '|': 0}
	inQuotes := false
	for _, b := range sample {
		if b == '"' {
			inQuotes = !inQuotes
			continue
		}
		if inQuotes {
			continue
		}
		if _, ok := counts[rune(b)]; ok {
			counts[rune(b)]++
		}
	}

	best := ','
	for _, cand := range []rune{';', '\t', '|'} {
		if counts[cand] > counts[best] {
			best = cand
		}
	}
	return best
}

func cleanRow(row []string) []string {
	out := make([]string, len(row))
	for i, cell := range row {
		out[i] = CleanCell(cell)
	}
	return out
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
