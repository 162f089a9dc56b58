package cabinet

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zombor/file-cabinet/internal/document"
)

// Source is where a document came from
type Source string

const (
	SourceUpload Source = "upload"
	SourceCLI    Source = "cli"
)

// Status is the payment state of a record
type Status string

const (
	StatusOpen Status = "open"
	StatusPaid Status = "paid"
)

// ParseStatus returns the status named by s, or false if s is not open or paid
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusOpen, StatusPaid:
		return Status(s), true
	}
	return "", false
}

// Document is an ingested source file
type Document struct {
	ID          string                `json:"id"`
	Type        document.DocumentType `json:"type"`
	Mime        string                `json:"mime"`
	Source      Source                `json:"source"`
	Filename    string                `json:"filename"`
	StoragePath string                `json:"storage_path"`
	Pages       int                   `json:"pages"`
	HashSHA256  string                `json:"hash_sha256"`
	CreatedAt   time.Time             `json:"created_at"`
}

// Extraction is one model run over a document
type Extraction struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id"`
	Model      string          `json:"model"`
	Schema     document.Schema `json:"schema"`
	Fields     document.Fields `json:"fields"`
	Confidence float64         `json:"confidence"`
	Raw        map[string]any  `json:"raw"`
	CreatedAt  time.Time       `json:"created_at"`
}

type extractionAlias Extraction

// UnmarshalJSON decodes fields into the variant named by schema
func (e *Extraction) UnmarshalJSON(data []byte) error {
	aux := struct {
		Fields json.RawMessage `json:"fields"`
		*extractionAlias
	}{extractionAlias: (*extractionAlias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	fields, err := document.Decode(e.Schema, aux.Fields)
	if err != nil {
		return fmt.Errorf("decoding extraction %s: %w", e.ID, err)
	}
	e.Fields = fields
	return nil
}

// Record is the committed business entity derived from an extraction
type Record struct {
	ID                string                `json:"id"`
	DocumentID        string                `json:"document_id"`
	ExtractionID      string                `json:"extraction_id"`
	Type              document.DocumentType `json:"type"`
	Schema            document.Schema       `json:"schema"`
	Fields            document.Fields       `json:"fields"`
	Status            Status                `json:"status"`
	Direction         document.Direction    `json:"direction,omitempty"`
	VendorNorm        string                `json:"vendor_norm"`
	InvoiceNumberNorm string                `json:"invoice_number_norm"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

type recordAlias Record

// UnmarshalJSON decodes fields into the variant named by schema
func (r *Record) UnmarshalJSON(data []byte) error {
	aux := struct {
		Fields json.RawMessage `json:"fields"`
		*recordAlias
	}{recordAlias: (*recordAlias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	fields, err := document.Decode(r.Schema, aux.Fields)
	if err != nil {
		return fmt.Errorf("decoding record %s: %w", r.ID, err)
	}
	r.Fields = fields
	return nil
}

// RecordFilter narrows ListRecords
type RecordFilter struct {
	Type  document.DocumentType
	Query string // case-insensitive substring of the fields JSON
}

// Bill is the payables view of an incoming invoice record
type Bill struct {
	ID      string  `json:"id"`
	Vendor  string  `json:"vendor"`
	Total   float64 `json:"total"`
	DueDate string  `json:"due_date"`
	Number  string  `json:"number"`
	Memo    string  `json:"memo"`
	Status  Status  `json:"status"`
}
