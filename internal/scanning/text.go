package scanning

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// maxSummaryRunes bounds the text kept for documents that could not be rendered
const maxSummaryRunes = 500

// TextSummary returns the leading text of a document for the text-only path.
// PDFs go through a text extractor; everything else is read as UTF-8 with invalid bytes dropped.
func TextSummary(data []byte, contentType string) string {
	var text string
	if normalizeMimeType(contentType) == "application/pdf" {
		extracted, err := extractPDFText(data)
		if err == nil {
			text = extracted
		}
	}
	if text == "" {
		text = strings.ToValidUTF8(string(data), "")
	}

	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) > maxSummaryRunes {
		text = string([]rune(text)[:maxSummaryRunes])
	}
	return text
}

func extractPDFText(data []byte) (text string, err error) {
	// the parser panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("parsing PDF: %v", r)
		}
	}()

	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}

	var builder strings.Builder
	for i := 1; i <= doc.NumPage(); i++ {
		p := doc.Page(i)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("reading PDF page %d: %w", i, err)
		}
		builder.WriteString(content)
		builder.WriteString("\n")
		if builder.Len() > maxSummaryRunes*4 {
			break
		}
	}
	return builder.String(), nil
}
