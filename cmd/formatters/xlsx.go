package formatters

import (
	"bytes"
	"fmt"
	"time"

	"github.com/tealeg/xlsx/v3"

	"github.com/efektum/mystery-hours/cmd/reports"
)

// DefaultSheetName matches the sheet name spreadsheet tools create by default
const DefaultSheetName = "Sheet1"

// XLSXFormatter writes a single-sheet workbook with a bold header row
type XLSXFormatter struct {
	sheetName string
}

// NewXLSXFormatter creates a new XLSX formatter writing to the named sheet
func NewXLSXFormatter(sheetName string) *XLSXFormatter {
	return &XLSXFormatter{sheetName: sheetName}
}

// Format converts the table to an XLSX workbook
func (f *XLSXFormatter) Format(table *reports.Table) ([]byte, error) {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet(f.sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to add sheet: %w", err)
	}

	headerStyle := xlsx.NewStyle()
	headerStyle.Font.Bold = true
	headerStyle.ApplyFont = true

	header := sheet.AddRow()
	for _, col := range table.Columns {
		cell := header.AddCell()
		cell.SetString(col)
		cell.SetStyle(headerStyle)
	}

	for _, values := range table.Rows {
		row := sheet.AddRow()
		for _, v := range values {
			setCell(row.AddCell(), v)
		}
	}

	var buffer bytes.Buffer
	if err := file.Write(&buffer); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	return buffer.Bytes(), nil
}

func setCell(cell *xlsx.Cell, v any) {
	switch val := v.(type) {
	case nil:
		// left blank
	case string:
		cell.SetString(val)
	case int64:
		cell.SetInt64(val)
	case int:
		cell.SetInt(val)
	case int32:
		cell.SetInt64(int64(val))
	case float64:
		cell.SetFloat(val)
	case float32:
		cell.SetFloat(float64(val))
	case bool:
		cell.SetBool(val)
	case time.Time:
		cell.SetDateTime(val)
	default:
		cell.SetString(fmt.Sprintf("%v", val))
	}
}

// Extension returns the file extension for XLSX files
func (f *XLSXFormatter) Extension() string {
	return ".xlsx"
}

// MIMEType returns the MIME type for XLSX
func (f *XLSXFormatter) MIMEType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}
