package parsers

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"

	"code.sajari.com/docconv"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"
)

// PDFParser extracts one section per page. Primary path reads the content
// streams directly; when that produces nothing usable (scanned or exotic
// encodings) it falls back to docconv over the whole file, losing page
// boundaries but keeping the text.
type PDFParser struct {
	log *zap.Logger
}

func (p *PDFParser) Parse(fileName string, data []byte) ([]Section, error) {
	sections, err := p.parsePages(data)
	if err == nil && len(sections) > 0 {
		return sections, nil
	}
	if p.log != nil {
		p.log.Warn("page-level pdf extraction failed, falling back to docconv",
			zap.String("file", fileName),
			zap.Error(err))
	}

	res, convErr := docconv.Convert(bytes.NewReader(data), "application/pdf", true)
	if convErr != nil {
		return nil, fmt.Errorf("pdf extraction failed: %w", convErr)
	}
	text := strings.TrimSpace(res.Body)
	if text == "" {
		return nil, fmt.Errorf("no text content found in pdf %q", fileName)
	}
	return []Section{{Locator: "document", Text: text}}, nil
}

func (p *PDFParser) parsePages(data []byte) ([]Section, error) {
	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}

	var sections []Section
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		pageText := pageContentText(ctx, pageNr)
		if pageText == "" {
			continue
		}
		sections = append(sections, Section{
			Locator: fmt.Sprintf("page_%d", pageNr),
			Text:    pageText,
		})
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("no text content found")
	}
	return sections, nil
}

func pageContentText(ctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return streamText(data)
}

// pdfStringRe matches PDF string literals: (text here)
var pdfStringRe = regexp.MustCompile(`\(([^)]*)\)`)

// streamText walks content stream operators, collecting the string
// arguments of the text-showing operators Tj, TJ and '.
func streamText(data []byte) string {
	var sb strings.Builder

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		showsText := bytes.HasSuffix(line, []byte("Tj")) ||
			bytes.HasSuffix(line, []byte("TJ")) ||
			(bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")))
		if showsText {
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				if text := decodePDFString(m[1]); text != "" {
					sb.WriteString(text)
				}
			}
			continue
		}

		// Positioning operators become whitespace so words stay separated.
		if bytes.HasSuffix(line, []byte("Td")) || bytes.HasSuffix(line, []byte("TD")) {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		}
		if bytes.Equal(line, []byte("T*")) {
			sb.WriteByte('\n')
		}
	}

	return normalizeText(sb.String())
}

// decodePDFString resolves backslash escapes, including octal sequences.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\', '(', ')':
			sb.WriteByte(raw[i])
		default:
			if raw[i] >= '0' && raw[i] <= '7' {
				val := int(raw[i] - '0')
				for n := 0; n < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; n++ {
					i++
					val = val*8 + int(raw[i]-'0')
				}
				sb.WriteByte(byte(val))
			} else {
				sb.WriteByte(raw[i])
			}
		}
	}
	return sb.String()
}

// normalizeText collapses whitespace runs and drops non-printable runes.
func normalizeText(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsPrint(r):
			sb.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}
