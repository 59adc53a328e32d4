package parsers

import (
	"bytes"
	"fmt"
	"strings"

	"code.sajari.com/docconv"
)

const docxMime = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// DocxParser extracts Word documents as a single section; Word files carry
// no stable page boundaries, so the locator is the whole document.
type DocxParser struct{}

func (p *DocxParser) Parse(fileName string, data []byte) ([]Section, error) {
	res, err := docconv.Convert(bytes.NewReader(data), docxMime, true)
	if err != nil {
		return nil, fmt.Errorf("docx extraction failed: %w", err)
	}
	text := strings.TrimSpace(res.Body)
	if text == "" {
		return nil, fmt.Errorf("no text content found in %q", fileName)
	}
	return []Section{{Locator: "document", Text: text}}, nil
}
