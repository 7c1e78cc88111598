package httpapi

import (
	"bytes"
	"fmt"

	"irepair-admin/internal/resolver"
	"irepair-admin/internal/views"

	"github.com/xuri/excelize/v2"
)

// GenerateViewExport writes items as one sheet, one column per view column
func GenerateViewExport(def views.Definition, items []resolver.Item) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := def.Title
	if len(sheetName) > 31 {
		sheetName = sheetName[:31]
	}
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if sheetName != "Sheet1" {
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return nil, fmt.Errorf("failed to delete default sheet: %w", err)
		}
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	headers := make([]any, 0, len(def.Columns)+1)
	headers = append(headers, "ID")
	for _, col := range def.Columns {
		headers = append(headers, col.Header)
	}
	if err := f.SetSheetRow(sheetName, "A1", &headers); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := f.SetCellStyle(sheetName, "A1", last, headerStyle); err != nil {
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}

	for i, item := range items {
		row := make([]any, 0, len(headers))
		row = append(row, item.ID)
		for _, col := range def.Columns {
			row = append(row, item.Display[col.Key])
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	lastCol, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return nil, fmt.Errorf("failed to convert column: %w", err)
	}
	if err := f.SetColWidth(sheetName, "A", lastCol, 22); err != nil {
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
