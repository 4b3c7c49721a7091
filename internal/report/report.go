// Package report renders the entry log as an Excel workbook.
package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"entrytracker/internal/model"
	"entrytracker/internal/occupancy"
)

const (
	entriesSheet = "Entries"
	dailySheet   = "Daily"
)

var (
	entryHeaders = []string{"Timestamp", "Type", "Person Name", "Person ID", "Enrollment No"}
	dailyHeaders = []string{"Date", "Entries", "Exits", "Net"}
)

// EntriesXLSX writes entries (in the order given) plus a per-day summary
// computed in loc. Timestamps are rendered in loc as well.
func EntriesXLSX(entries []model.Entry, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.UTC
	}
	f := excelize.NewFile()

	index, err := f.NewSheet(entriesSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	if _, err := f.NewSheet(dailySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}

	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		var name, id, enroll string
		if e.Person != nil {
			name, id, enroll = e.Person.Name, e.Person.ID, e.Person.EnrollmentNo
		}
		if name == "" {
			name = "Anonymous"
		}
		rows = append(rows, []any{e.Timestamp.In(loc).Format("2006-01-02 15:04:05"), string(e.Type), name, id, enroll})
	}
	if err := writeTable(f, entriesSheet, entryHeaders, rows, headerStyle, []float64{22, 10, 28, 34, 18}); err != nil {
		f.Close()
		return nil, err
	}

	days := occupancy.Daily(entries, loc)
	rows = rows[:0]
	for _, d := range days {
		rows = append(rows, []any{d.Date, d.Entries, d.Exits, d.Net})
	}
	if err := writeTable(f, dailySheet, dailyHeaders, rows, headerStyle, []float64{14, 10, 10, 10}); err != nil {
		f.Close()
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeTable(f *excelize.File, sheet string, headers []string, rows [][]any, headerStyle int, widths []float64) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("set header %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return err
		}
		if col < len(widths) {
			if err := f.SetColWidth(sheet, name, name, widths[col]); err != nil {
				return fmt.Errorf("set column width: %w", err)
			}
		}
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}
