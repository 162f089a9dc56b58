package dedupe

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	legalSuffix  = regexp.MustCompile(`\b(llc|inc|corp|co|ltd)\b`)
	whitespace   = regexp.MustCompile(`\s+`)
	invoiceSep   = regexp.MustCompile(`[\s\-_/\.#]`)
	invoiceLabel = regexp.MustCompile(`^(?:invoice|inv|no)+(\d)`)
	leadingZeros = regexp.MustCompile(`^0+`)
)

// NormalizeVendor canonicalizes a vendor display name for matching:
// lower-cased, punctuation dropped, legal suffixes removed, whitespace collapsed.
func NormalizeVendor(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, s)
	s = legalSuffix.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// NormalizeInvoiceNumber canonicalizes an invoice number for matching:
// lower-cased, separators and a leading "inv"/"invoice"/"no" label stripped, leading zeros stripped.
func NormalizeInvoiceNumber(s string) string {
	s = strings.ToLower(s)
	s = invoiceSep.ReplaceAllString(s, "")
	s = invoiceLabel.ReplaceAllString(s, "${1}")
	return leadingZeros.ReplaceAllString(s, "")
}
