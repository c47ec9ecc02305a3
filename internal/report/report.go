package report

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/toricodesthings/batch-summarizer/internal/extract"
	"github.com/toricodesthings/batch-summarizer/internal/runstate"
)

const (
	Prefix         = "extraction_report_"
	DocumentsSheet = "Documents"
	MethodsSheet   = "Methods"
)

var documentHeaders = []string{
	"Path",
	"Format",
	"Status",
	"Method",
	"Pages",
	"Characters",
	"Words",
	"Reason",
	"MIME Type",
}

// Build renders the extraction report as an XLSX workbook.
func Build(rep extract.Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", DocumentsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(MethodsSheet); err != nil {
		return nil, err
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	writeRow := func(sheet string, row int, values ...any) {
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}

	writeRow(DocumentsSheet, 1, toAny(documentHeaders)...)
	for i, o := range rep.Outcomes {
		var method any
		var pages, chars, words any
		if o.Status == extract.StatusSuccess {
			w, c := extract.BuildCounts(o.Result.Text)
			method, pages, chars, words = string(o.Result.Method), o.Result.PageCount, c, w
		}
		writeRow(DocumentsSheet, i+2, o.Doc.Path, o.Doc.Format, string(o.Status), method, pages, chars, words, o.Reason, o.MIMEType)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(documentHeaders))
	_ = f.SetCellStyle(DocumentsSheet, "A1", lastCol+"1", header)
	_ = f.SetColWidth(DocumentsSheet, "A", "A", 60)
	_ = f.SetColWidth(DocumentsSheet, "B", "G", 12)
	_ = f.SetColWidth(DocumentsSheet, "H", "H", 48)
	_ = f.SetColWidth(DocumentsSheet, "I", "I", 28)

	writeRow(MethodsSheet, 1, "Method", "Documents")
	row := 2
	for _, m := range rep.Stats.Methods() {
		writeRow(MethodsSheet, row, string(m), rep.Stats[m])
		row++
	}
	writeRow(MethodsSheet, row, "Total", rep.Stats.Total())
	_ = f.SetCellStyle(MethodsSheet, "A1", "B1", header)
	_ = f.SetColWidth(MethodsSheet, "A", "A", 20)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteExtraction writes dir/extraction_report_<ts>.xlsx and returns its path.
func WriteExtraction(dir string, rep extract.Report, now time.Time, log *slog.Logger) (string, error) {
	if log == nil {
		log = slog.Default()
	}
	start := time.Now()
	data, err := Build(rep)
	if err != nil {
		return "", err
	}
	path, err := runstate.WriteTimestamped(dir, Prefix, ".xlsx", now, data)
	if err != nil {
		return "", err
	}
	log.Info("report.xlsx.ok",
		"path", path,
		"rows", len(rep.Outcomes),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return path, nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
