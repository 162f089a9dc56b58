package cabinet

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zombor/file-cabinet/internal/dedupe"
	"github.com/zombor/file-cabinet/internal/document"
	"github.com/zombor/file-cabinet/internal/scanning"
)

// Assembly is everything Assemble merges into an extraction and a record
type Assembly struct {
	Document       *Document
	Classification *scanning.Classification
	Meta           *scanning.ExtractionMeta
	Fields         document.Fields
	ExtractionID   string
	RecordID       string
	Company        string
	Now            time.Time
}

// Assemble builds the extraction and record persisted for one ingestion
func Assemble(a Assembly) (*Extraction, *Record) {
	direction := document.DirectionOf(a.Fields)

	raw := map[string]any{
		"classifier": map[string]any{
			"payload": a.Classification.Payload,
			"kind":    a.Classification.Kind,
			"model":   a.Classification.Model,
		},
		"direction":  string(direction),
		"extraction": a.Meta.Payload,
	}
	if suggestion, ok := Suggest(a.Fields, a.Company); ok {
		raw["suggestion"] = suggestion
	}

	ext := &Extraction{
		ID:         a.ExtractionID,
		DocumentID: a.Document.ID,
		Model:      a.Meta.Model,
		Schema:     a.Meta.Schema,
		Fields:     a.Fields,
		Confidence: a.Classification.Confidence,
		Raw:        raw,
		CreatedAt:  a.Now,
	}

	rec := newRecord(a.RecordID, a.Document.ID, a.Classification.Type, a.Fields, a.Now)
	rec.ExtractionID = ext.ID
	return ext, rec
}

// newRecord stamps the normalized dedupe keys, direction and open status onto a record
func newRecord(id, documentID string, docType document.DocumentType, fields document.Fields, now time.Time) *Record {
	c := candidateOf(fields)
	return &Record{
		ID:                id,
		DocumentID:        documentID,
		Type:              docType,
		Schema:            fields.Schema(),
		Fields:            fields,
		Status:            StatusOpen,
		Direction:         document.DirectionOf(fields),
		VendorNorm:        dedupe.NormalizeVendor(c.Vendor),
		InvoiceNumberNorm: dedupe.NormalizeInvoiceNumber(c.InvoiceNumber),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// candidateOf is the duplicate detector's view of extracted fields
func candidateOf(fields document.Fields) dedupe.Candidate {
	switch f := fields.(type) {
	case *document.InvoiceFields:
		total := f.Total
		return dedupe.Candidate{
			Vendor:        f.Vendor,
			InvoiceNumber: f.InvoiceNumber,
			Total:         &total,
			InvoiceDate:   f.InvoiceDate,
		}
	case *document.ReceiptFields:
		total := f.Total
		return dedupe.Candidate{
			Vendor:      f.Merchant,
			Total:       &total,
			InvoiceDate: f.Datetime,
		}
	}
	return dedupe.Candidate{}
}

// candidateFromMap reads a candidate from loosely typed user-supplied fields
func candidateFromMap(fields map[string]any) dedupe.Candidate {
	var c dedupe.Candidate
	c.Vendor, _ = document.ToString(fields["vendor"])
	c.InvoiceNumber, _ = document.ToString(fields["invoice_number"])
	if n, ok := document.ToNumber(fields["total"]); ok {
		c.Total = &n
	}
	if d, ok := document.ToString(fields["invoice_date"]); ok {
		c.InvoiceDate = document.NormalizeDate(d)
	}
	return c
}

// Suggest phrases the extraction as a question for the user. It reports false when fields is nil.
func Suggest(fields document.Fields, company string) (string, bool) {
	if fields == nil {
		return "", false
	}

	kind := "document"
	vendor := ""
	var qty float64
	var total *float64

	switch f := fields.(type) {
	case *document.InvoiceFields:
		kind = "invoice"
		vendor = f.Vendor
		for _, item := range f.LineItems {
			if item.Qty != nil {
				qty += *item.Qty
			}
		}
		total = &f.Total
	case *document.ReceiptFields:
		vendor = f.Merchant
		total = &f.Total
	case *document.GenericSummary:
		vendor, _ = document.ToString(f.Extra["vendor"])
		if n, ok := document.ToNumber(f.Extra["total"]); ok {
			total = &n
		}
		if _, ok := f.Extra["estimate_number"]; ok {
			kind = "estimate"
		}
	}
	if kind == "document" && document.DirectionOf(fields) != "" {
		kind = "invoice"
	}
	if vendor == "" {
		vendor = "Unknown vendor"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "I think this is an %s from %s", kind, vendor)
	if qty > 0 {
		fmt.Fprintf(&b, " for ~%s units", strconv.FormatFloat(qty, 'f', -1, 64))
	}
	if total != nil {
		fmt.Fprintf(&b, " totaling $%.2f", *total)
	}
	fmt.Fprintf(&b, ". Would you like me to add this to %s's database?", company)
	return b.String(), true
}
