package cabinet

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/xuri/excelize/v2"
)

// ExportFormat is the file format of a record export
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatXLSX ExportFormat = "xlsx"
)

// ParseExportFormat returns the format named by s, defaulting to CSV when s is empty
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(s) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// ContentType is the MIME type of the exported file
func (f ExportFormat) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

const exportSheet = "Records"

// exportRows flattens records into a header row and one row per record.
// Field columns are the sorted union of every record's field keys.
func exportRows(records []*Record) [][]string {
	keySet := map[string]bool{}
	flat := make([]map[string]any, len(records))
	for i, rec := range records {
		if rec.Fields == nil {
			flat[i] = map[string]any{}
			continue
		}
		flat[i] = rec.Fields.Map()
		for k := range flat[i] {
			keySet[k] = true
		}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	header := []string{"id", "document_id", "type", "status"}
	for _, k := range keys {
		header = append(header, "field_"+k)
	}

	rows := [][]string{header}
	for i, rec := range records {
		row := []string{rec.ID, rec.DocumentID, string(rec.Type), string(rec.Status)}
		for _, k := range keys {
			row = append(row, cellValue(flat[i][k]))
		}
		rows = append(rows, row)
	}
	return rows
}

func cellValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// ExportRecords writes every record to w in the given format
func (s *Service) ExportRecords(w io.Writer, format ExportFormat) error {
	records, err := s.db.ListRecords(RecordFilter{})
	if err != nil {
		return fmt.Errorf("listing records: %w", err)
	}
	rows := exportRows(records)

	switch format {
	case FormatXLSX:
		return writeXLSX(w, rows)
	default:
		cw := csv.NewWriter(w)
		if err := cw.WriteAll(rows); err != nil {
			return fmt.Errorf("writing csv: %w", err)
		}
		return nil
	}
}

func writeXLSX(w io.Writer, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), exportSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	for r, row := range rows {
		for c, value := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return fmt.Errorf("xlsx cell: %w", err)
			}
			if err := f.SetCellValue(exportSheet, cell, value); err != nil {
				return fmt.Errorf("xlsx cell %s: %w", cell, err)
			}
		}
	}
	if len(rows) > 0 {
		last, _ := excelize.ColumnNumberToName(len(rows[0]))
		_ = f.SetColWidth(exportSheet, "A", last, 18)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}
