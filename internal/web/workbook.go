package web

// workbook.go renders a correction draft as an xlsx workbook, one sheet per
// entity type, so failed records can be reviewed and fixed in a
// spreadsheet. The leading underscore columns carry bookkeeping the
// spreadsheet reader should not edit.

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/xuri/excelize/v2"

	"github.com/casevault/importer/internal/core"
	"github.com/casevault/importer/internal/schema"
)

// handleCorrectionWorkbook streams the open draft as an xlsx attachment.
func (s *Server) handleCorrectionWorkbook(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	batchID, ok := uuidParam(w, r, "batchID")
	if !ok {
		return
	}

	draft, err := s.service.GetCorrectionForBatch(org, batchID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("corrections_%s.xlsx", timestamp)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	if err := writeCorrectionWorkbook(draft, w); err != nil {
		// Headers are out; all we can do is log
		slog.Error("workbook write failed",
			"batch_id", batchID,
			"error", err.Error(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	}
}

// writeCorrectionWorkbook builds the workbook. Sheets follow the import
// dependency order so the reader fixes prerequisites first.
func writeCorrectionWorkbook(draft core.CorrectionDraft, w io.Writer) error {
	byType := make(map[schema.EntityType][]core.CorrectionRow)
	for _, row := range draft.Rows {
		byType[row.Type] = append(byType[row.Type], row)
	}

	order, err := schema.ImportOrder()
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	first := true
	for _, typ := range order {
		rows, present := byType[typ]
		if !present {
			continue
		}
		def, ok := schema.Get(typ)
		if !ok {
			continue
		}

		sheet := string(typ)
		if first {
			f.SetSheetName("Sheet1", sheet)
			first = false
		} else {
			if _, err := f.NewSheet(sheet); err != nil {
				return err
			}
		}

		if err := writeCorrectionSheet(f, sheet, def, rows); err != nil {
			return err
		}
	}

	if first {
		// No rows at all; leave the default empty sheet
		sw, err := f.NewStreamWriter("Sheet1")
		if err != nil {
			return err
		}
		if err := sw.SetRow("A1", []interface{}{"no failed records"}); err != nil {
			return err
		}
		if err := sw.Flush(); err != nil {
			return err
		}
	}

	_, err = f.WriteTo(w)
	return err
}

// writeCorrectionSheet streams one entity type's rows onto its sheet.
func writeCorrectionSheet(f *excelize.File, sheet string, def schema.EntityDefinition, rows []core.CorrectionRow) error {
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}

	header := []interface{}{"_record_id", "_source_row", "_error", "_include"}
	for _, col := range def.Columns {
		header = append(header, col.Name)
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	for i, row := range rows {
		values := []interface{}{
			row.RecordID.String(),
			row.Row,
			row.Message,
			row.Include,
		}
		for _, col := range def.Columns {
			values = append(values, row.Fields[col.Name])
		}

		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := sw.SetRow(cell, values); err != nil {
			return err
		}
	}

	return sw.Flush()
}
