package parsers

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

func buildWorkbook(t *testing.T, sheets map[string][][]any) []byte {
	t.Helper()
	wb := excelize.NewFile()
	defer wb.Close()

	first := true
	for name, rows := range sheets {
		if first {
			require.NoError(t, wb.SetSheetName("Sheet1", name))
			first = false
		} else {
			_, err := wb.NewSheet(name)
			require.NoError(t, err)
		}
		for i, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			require.NoError(t, err)
			require.NoError(t, wb.SetSheetRow(name, cell, &row))
		}
	}

	var buf bytes.Buffer
	require.NoError(t, wb.Write(&buf))
	return buf.Bytes()
}

func TestXlsxParseSheetSections(t *testing.T) {
	data := buildWorkbook(t, map[string][][]any{
		"Pricing": {
			{"Item", "Qty", "Total"},
			{"Widget", 2, 100},
		},
	})

	sections, err := (&XlsxParser{}).Parse("quote.xlsx", data)
	require.NoError(t, err)
	require.Len(t, sections, 1)

	s := sections[0]
	assert.Equal(t, "sheet_Pricing", s.Locator)
	assert.Contains(t, s.Text, "Sheet: Pricing")
	assert.Contains(t, s.Text, "Item | Qty | Total")
	assert.Contains(t, s.Text, "Widget | 2 | 100")

	require.Len(t, s.Tables, 1)
	assert.Equal(t, "Pricing_table_0", s.Tables[0].TableID)
	assert.Equal(t, [][]string{{"Item", "Qty", "Total"}, {"Widget", "2", "100"}}, s.Tables[0].Rows)
}

func TestXlsxParseSkipsEmptySheets(t *testing.T) {
	data := buildWorkbook(t, map[string][][]any{
		"Data": {{"a", "b"}},
	})

	wb, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	_, err = wb.NewSheet("Empty")
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, wb.Write(&buf))
	require.NoError(t, wb.Close())

	sections, err := (&XlsxParser{}).Parse("book.xlsx", buf.Bytes())
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "sheet_Data", sections[0].Locator)
}

func TestXlsxParseRejectsGarbage(t *testing.T) {
	_, err := (&XlsxParser{}).Parse("book.xlsx", []byte("not a workbook"))
	assert.Error(t, err)
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	_, err := r.Parse("notes.txt", []byte("hello"))
	assert.ErrorContains(t, err, "unsupported file type")
}

func TestFullTextJoinsSections(t *testing.T) {
	text := FullText([]Section{
		{Locator: "page_1", Text: "first page"},
		{Locator: "page_2", Text: "  "},
		{Locator: "page_3", Text: "third page"},
	})
	assert.Equal(t, "first page\n\nthird page", text)
}
