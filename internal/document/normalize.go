package document

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	defaultVendor   = "Unknown Vendor"
	defaultMerchant = "Unknown Merchant"
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindDate
	kindDirection
	kindLineItems
)

type fieldSpec struct {
	name string
	kind fieldKind
}

var (
	invoiceSpec = []fieldSpec{
		{"vendor", kindString},
		{"invoice_number", kindString},
		{"invoice_date", kindDate},
		{"due_date", kindDate},
		{"currency", kindString},
		{"total", kindNumber},
		{"tax", kindNumber},
		{"payment_terms", kindString},
		{"line_items", kindLineItems},
		{"direction", kindDirection},
	}
	receiptSpec = []fieldSpec{
		{"merchant", kindString},
		{"datetime", kindDate},
		{"subtotal", kindNumber},
		{"tip", kindNumber},
		{"total", kindNumber},
		{"category", kindString},
		{"direction", kindDirection},
	}
	genericSpec = []fieldSpec{
		{"summary", kindString},
		{"direction", kindDirection},
	}
	lineItemSpec = []fieldSpec{
		{"qty", kindNumber},
		{"description", kindString},
		{"unit_price", kindNumber},
		{"amount", kindNumber},
	}
)

// lineItemAliases are alternate keys models use for line item attributes
var lineItemAliases = map[string]string{
	"quantity": "qty",
	"price":    "unit_price",
	"cost":     "amount",
	"total":    "amount",
}

// Normalize turns raw model output into the canonical fields for docType.
// docID seeds the synthesized invoice number when the model found none.
func Normalize(docType DocumentType, docID string, raw map[string]any) (Fields, error) {
	schema := SchemaFor(docType)

	var spec []fieldSpec
	switch schema {
	case SchemaInvoice:
		spec = invoiceSpec
	case SchemaReceipt:
		spec = receiptSpec
	default:
		spec = genericSpec
	}

	declared, extra, err := coerceObject(raw, spec)
	if err != nil {
		return nil, &ValidationError{Schema: schema, Err: err}
	}

	switch schema {
	case SchemaInvoice:
		setDefault(declared, "vendor", defaultVendor)
		setDefault(declared, "invoice_number", fallbackInvoiceNumber(docID))
		setDefault(declared, "total", 0.0)
	case SchemaReceipt:
		setDefault(declared, "merchant", defaultMerchant)
		setDefault(declared, "total", 0.0)
	default:
		setDefault(declared, "summary", "")
	}

	itemExtras := splitLineItemExtras(declared)
	if err := Validate(schema, declared); err != nil {
		return nil, err
	}

	data, err := json.Marshal(declared)
	if err != nil {
		return nil, fmt.Errorf("marshaling normalized fields: %w", err)
	}
	fields, err := Decode(schema, data)
	if err != nil {
		return nil, err
	}
	setExtra(fields, extra)
	if inv, ok := fields.(*InvoiceFields); ok {
		for i, e := range itemExtras {
			if i < len(inv.LineItems) {
				inv.LineItems[i].Extra = e
			}
		}
	}
	return fields, nil
}

// splitLineItemExtras removes keys outside the line item schema from each item and returns them by index
func splitLineItemExtras(declared map[string]any) []map[string]any {
	items, _ := declared["line_items"].([]any)
	var extras []map[string]any
	for i, entry := range items {
		item, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		for k, v := range item {
			if lineItemKeys[k] {
				continue
			}
			if extras == nil {
				extras = make([]map[string]any, len(items))
			}
			if extras[i] == nil {
				extras[i] = make(map[string]any)
			}
			extras[i][k] = v
			delete(item, k)
		}
	}
	return extras
}

func fallbackInvoiceNumber(docID string) string {
	if docID == "" {
		return "INV-UNKNOWN"
	}
	if len(docID) > 6 {
		docID = docID[len(docID)-6:]
	}
	return "INV-" + docID
}

func setDefault(m map[string]any, key string, value any) {
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}

func setExtra(f Fields, extra map[string]any) {
	if len(extra) == 0 {
		return
	}
	switch v := f.(type) {
	case *InvoiceFields:
		v.Extra = extra
	case *ReceiptFields:
		v.Extra = extra
	case *GenericSummary:
		v.Extra = extra
	}
}

// coerceObject splits raw into declared and overflow keys and coerces declared values to their
// schema types. Nulls, blank strings and unparseable optional values are dropped.
func coerceObject(raw map[string]any, spec []fieldSpec) (map[string]any, map[string]any, error) {
	kinds := make(map[string]fieldKind, len(spec))
	for _, f := range spec {
		kinds[f.name] = f.kind
	}

	declared := make(map[string]any)
	var extra map[string]any
	for k, v := range raw {
		kind, ok := kinds[k]
		if !ok {
			if v == nil {
				continue
			}
			if extra == nil {
				extra = make(map[string]any)
			}
			extra[k] = v
			continue
		}
		if v == nil {
			continue
		}

		switch kind {
		case kindString:
			if s, ok := ToString(v); ok && s != "" {
				declared[k] = s
			}
		case kindNumber:
			if n, ok := ToNumber(v); ok {
				declared[k] = n
			}
		case kindDate:
			if s, ok := ToString(v); ok && s != "" {
				declared[k] = NormalizeDate(s)
			}
		case kindDirection:
			if s, ok := v.(string); ok {
				if d := ParseDirection(strings.ToLower(strings.TrimSpace(s))); d != "" {
					declared[k] = string(d)
				}
			}
		case kindLineItems:
			items, err := coerceLineItems(v)
			if err != nil {
				return nil, nil, err
			}
			declared[k] = items
		}
	}
	return declared, extra, nil
}

func coerceLineItems(v any) ([]any, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("line_items: expected an array, got %T", v)
	}
	items := make([]any, 0, len(list))
	for i, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("line_items[%d]: expected an object, got %T", i, entry)
		}
		renamed := make(map[string]any, len(obj))
		for k, val := range obj {
			if alias, ok := lineItemAliases[k]; ok {
				if _, exists := obj[alias]; !exists {
					k = alias
				}
			}
			renamed[k] = val
		}
		item, extra, err := coerceObject(renamed, lineItemSpec)
		if err != nil {
			return nil, fmt.Errorf("line_items[%d]: %w", i, err)
		}
		for k, val := range extra {
			item[k] = val
		}
		items = append(items, item)
	}
	return items, nil
}

// ToString reads a scalar JSON value as trimmed text
func ToString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

// ToNumber reads a JSON number or a currency string such as "$1,234.50"
func ToNumber(v any) (float64, bool) {
	var n float64
	switch t := v.(type) {
	case float64:
		n = t
	case int:
		n = float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	case string:
		s := strings.TrimSpace(t)
		s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
