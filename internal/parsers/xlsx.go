package parsers

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/venxtra/venxtra/internal/models"
)

// XlsxParser extracts one section per sheet. Row cells join with " | " so
// line items stay on one line for the extraction service, and the raw rows
// ride along as an embedded table.
type XlsxParser struct{}

func (p *XlsxParser) Parse(fileName string, data []byte) ([]Section, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("xlsx open failed: %w", err)
	}
	defer wb.Close()

	var sections []Section
	for _, sheet := range wb.GetSheetList() {
		rows, err := wb.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("xlsx read sheet %q: %w", sheet, err)
		}

		var (
			lines     []string
			tableRows [][]string
		)
		lines = append(lines, fmt.Sprintf("Sheet: %s", sheet))
		for _, row := range rows {
			cells := make([]string, 0, len(row))
			for _, cell := range row {
				if c := strings.TrimSpace(cell); c != "" {
					cells = append(cells, c)
				}
			}
			if len(cells) == 0 {
				continue
			}
			lines = append(lines, strings.Join(cells, " | "))
			tableRows = append(tableRows, cells)
		}
		if len(tableRows) == 0 {
			continue
		}

		section := Section{
			Locator: fmt.Sprintf("sheet_%s", sheet),
			Text:    strings.Join(lines, "\n"),
		}
		section.Tables = []models.EmbeddedTable{{
			TableID: fmt.Sprintf("%s_table_0", sheet),
			Rows:    tableRows,
		}}
		sections = append(sections, section)
	}

	if len(sections) == 0 {
		return nil, fmt.Errorf("no data found in workbook %q", fileName)
	}
	return sections, nil
}
