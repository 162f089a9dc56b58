package document

import (
	"encoding/json"
	"fmt"
)

// DocumentType is the stored document category
type DocumentType string

const (
	TypeInvoice       DocumentType = "invoice"
	TypeReceipt       DocumentType = "receipt"
	TypePurchaseOrder DocumentType = "purchase_order"
	TypeEmail         DocumentType = "email"
	TypeOther         DocumentType = "other"
)

// ParseDocumentType maps a stored or user-supplied type name to a DocumentType.
// Unknown names map to TypeOther.
func ParseDocumentType(s string) DocumentType {
	switch DocumentType(s) {
	case TypeInvoice, TypeReceipt, TypePurchaseOrder, TypeEmail:
		return DocumentType(s)
	}
	return TypeOther
}

// Direction tells receivables (outgoing) from payables (incoming)
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// ParseDirection returns the direction or "" when s is not a known direction
func ParseDirection(s string) Direction {
	switch Direction(s) {
	case DirectionIncoming, DirectionOutgoing:
		return Direction(s)
	}
	return ""
}

// Schema identifies the shape of a Fields value
type Schema string

const (
	SchemaInvoice Schema = "invoice_v1"
	SchemaReceipt Schema = "receipt_v1"
	SchemaGeneric Schema = "generic_v1"
)

// SchemaFor returns the extraction schema used for a document type
func SchemaFor(t DocumentType) Schema {
	switch t {
	case TypeInvoice:
		return SchemaInvoice
	case TypeReceipt:
		return SchemaReceipt
	default:
		return SchemaGeneric
	}
}

// Fields is one of *InvoiceFields, *ReceiptFields or *GenericSummary
type Fields interface {
	Schema() Schema
	// Map returns the flattened JSON object form, overflow keys included
	Map() map[string]any
	isFields()
}

// LineItem is one row of an invoice
type LineItem struct {
	Qty         *float64 `json:"qty,omitempty"`
	Description string   `json:"description"`
	UnitPrice   *float64 `json:"unit_price,omitempty"`
	Amount      *float64 `json:"amount,omitempty"`

	Extra map[string]any `json:"-"`
}

// InvoiceFields are the canonical invoice attributes
type InvoiceFields struct {
	Vendor        string     `json:"vendor"`
	InvoiceNumber string     `json:"invoice_number"`
	InvoiceDate   string     `json:"invoice_date,omitempty"`
	DueDate       string     `json:"due_date,omitempty"`
	Currency      string     `json:"currency,omitempty"`
	Total         float64    `json:"total"`
	Tax           *float64   `json:"tax,omitempty"`
	PaymentTerms  string     `json:"payment_terms,omitempty"`
	LineItems     []LineItem `json:"line_items"`
	Direction     Direction  `json:"direction,omitempty"`

	Extra map[string]any `json:"-"`
}

// ReceiptFields are the canonical receipt attributes
type ReceiptFields struct {
	Merchant  string    `json:"merchant"`
	Datetime  string    `json:"datetime,omitempty"`
	Subtotal  *float64  `json:"subtotal,omitempty"`
	Tip       *float64  `json:"tip,omitempty"`
	Total     float64   `json:"total"`
	Category  string    `json:"category,omitempty"`
	Direction Direction `json:"direction,omitempty"`

	Extra map[string]any `json:"-"`
}

// GenericSummary is the best-effort result for documents without a dedicated schema
type GenericSummary struct {
	Summary   string    `json:"summary"`
	Direction Direction `json:"direction,omitempty"`

	Extra map[string]any `json:"-"`
}

func (*InvoiceFields) Schema() Schema  { return SchemaInvoice }
func (*ReceiptFields) Schema() Schema  { return SchemaReceipt }
func (*GenericSummary) Schema() Schema { return SchemaGeneric }

func (*InvoiceFields) isFields()  {}
func (*ReceiptFields) isFields()  {}
func (*GenericSummary) isFields() {}

type lineItemAlias LineItem
type invoiceAlias InvoiceFields
type receiptAlias ReceiptFields
type genericAlias GenericSummary

func (f *InvoiceFields) MarshalJSON() ([]byte, error) {
	a := invoiceAlias(*f)
	if a.LineItems == nil {
		a.LineItems = []LineItem{}
	}
	return marshalWithExtra(&a, f.Extra)
}

func (f *InvoiceFields) UnmarshalJSON(data []byte) error {
	extra, err := unmarshalWithExtra(data, (*invoiceAlias)(f), invoiceKeys)
	if err != nil {
		return err
	}
	f.Extra = extra
	return nil
}

func (li LineItem) MarshalJSON() ([]byte, error) {
	a := lineItemAlias(li)
	return marshalWithExtra(&a, li.Extra)
}

func (li *LineItem) UnmarshalJSON(data []byte) error {
	extra, err := unmarshalWithExtra(data, (*lineItemAlias)(li), lineItemKeys)
	if err != nil {
		return err
	}
	li.Extra = extra
	return nil
}

func (f *ReceiptFields) MarshalJSON() ([]byte, error) {
	return marshalWithExtra((*receiptAlias)(f), f.Extra)
}

func (f *ReceiptFields) UnmarshalJSON(data []byte) error {
	extra, err := unmarshalWithExtra(data, (*receiptAlias)(f), receiptKeys)
	if err != nil {
		return err
	}
	f.Extra = extra
	return nil
}

func (f *GenericSummary) MarshalJSON() ([]byte, error) {
	return marshalWithExtra((*genericAlias)(f), f.Extra)
}

func (f *GenericSummary) UnmarshalJSON(data []byte) error {
	extra, err := unmarshalWithExtra(data, (*genericAlias)(f), genericKeys)
	if err != nil {
		return err
	}
	f.Extra = extra
	return nil
}

func (f *InvoiceFields) Map() map[string]any  { return toMap(f) }
func (f *ReceiptFields) Map() map[string]any  { return toMap(f) }
func (f *GenericSummary) Map() map[string]any { return toMap(f) }

// marshalWithExtra writes the declared fields and then any overflow keys that don't collide with them
func marshalWithExtra(v any, extra map[string]any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return data, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	for k, val := range extra {
		if _, declared := obj[k]; declared {
			continue
		}
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("marshaling overflow field %q: %w", k, err)
		}
		obj[k] = raw
	}
	return json.Marshal(obj)
}

func unmarshalWithExtra(data []byte, v any, declared map[string]bool) (map[string]any, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	var extra map[string]any
	for k, val := range obj {
		if declared[k] {
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = val
	}
	return extra, nil
}

func toMap(f Fields) map[string]any {
	data, err := json.Marshal(f)
	if err != nil {
		return map[string]any{}
	}
	m := make(map[string]any)
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{}
	}
	return m
}

var (
	invoiceKeys = keySet("vendor", "invoice_number", "invoice_date", "due_date", "currency", "total", "tax",
		"payment_terms", "line_items", "direction")
	receiptKeys  = keySet("merchant", "datetime", "subtotal", "tip", "total", "category", "direction")
	genericKeys  = keySet("summary", "direction")
	lineItemKeys = keySet("qty", "description", "unit_price", "amount")
)

func keySet(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

// Decode parses stored JSON into the variant named by schema
func Decode(schema Schema, data []byte) (Fields, error) {
	var f Fields
	switch schema {
	case SchemaInvoice:
		f = &InvoiceFields{}
	case SchemaReceipt:
		f = &ReceiptFields{}
	default:
		f = &GenericSummary{}
	}
	if len(data) == 0 || string(data) == "null" {
		return f, nil
	}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("decoding %s fields: %w", schema, err)
	}
	return f, nil
}

// DirectionOf returns the direction carried by any variant
func DirectionOf(f Fields) Direction {
	switch v := f.(type) {
	case *InvoiceFields:
		return v.Direction
	case *ReceiptFields:
		return v.Direction
	case *GenericSummary:
		return v.Direction
	}
	return ""
}

// SetDirection stamps the direction onto any variant
func SetDirection(f Fields, d Direction) {
	switch v := f.(type) {
	case *InvoiceFields:
		v.Direction = d
	case *ReceiptFields:
		v.Direction = d
	case *GenericSummary:
		v.Direction = d
	}
}
