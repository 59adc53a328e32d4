// Package parsers turns uploaded document bytes into located text sections
// ready for chunking. Each section carries a locator ("page_3",
// "sheet_Pricing") that survives into chunk provenance.
package parsers

import (
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/venxtra/venxtra/internal/models"
)

// Section is one located slice of document text, e.g. a PDF page or a
// spreadsheet sheet.
type Section struct {
	Locator string
	Text    string
	Tables  []models.EmbeddedTable
}

// Parser extracts sections from one document format.
type Parser interface {
	Parse(fileName string, data []byte) ([]Section, error)
}

// Registry dispatches to a format parser by file extension.
type Registry struct {
	pdf  Parser
	docx Parser
	xlsx Parser
	log  *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		pdf:  &PDFParser{log: log},
		docx: &DocxParser{},
		xlsx: &XlsxParser{},
		log:  log,
	}
}

// Parse picks the parser for the file's extension and runs it.
func (r *Registry) Parse(fileName string, data []byte) ([]Section, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".pdf":
		return r.pdf.Parse(fileName, data)
	case ".docx", ".doc":
		return r.docx.Parse(fileName, data)
	case ".xlsx", ".xls":
		return r.xlsx.Parse(fileName, data)
	default:
		return nil, fmt.Errorf("unsupported file type %q", ext)
	}
}

// FullText joins the sections for storage as the document's raw text.
func FullText(sections []Section) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}
