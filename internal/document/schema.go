package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// InvoiceSchema is the JSON schema the extractor asks the model to follow for invoices
var InvoiceSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"vendor":         map[string]any{"type": "string"},
		"invoice_number": map[string]any{"type": "string"},
		"invoice_date":   map[string]any{"type": "string"},
		"due_date":       map[string]any{"type": "string"},
		"currency":       map[string]any{"type": "string"},
		"total":          map[string]any{"type": "number"},
		"tax":            map[string]any{"type": "number"},
		"payment_terms":  map[string]any{"type": "string"},
		"direction":      map[string]any{"type": "string", "enum": []any{"incoming", "outgoing"}},
		"line_items": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"qty":         map[string]any{"type": "number"},
					"description": map[string]any{"type": "string", "minLength": 1},
					"unit_price":  map[string]any{"type": "number"},
					"amount":      map[string]any{"type": "number"},
				},
				"required":             []any{"description"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []any{"vendor", "invoice_number", "total"},
	"additionalProperties": false,
}

// ReceiptSchema is the JSON schema for receipts
var ReceiptSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"merchant":  map[string]any{"type": "string"},
		"datetime":  map[string]any{"type": "string"},
		"subtotal":  map[string]any{"type": "number"},
		"tip":       map[string]any{"type": "number"},
		"total":     map[string]any{"type": "number"},
		"category":  map[string]any{"type": "string"},
		"direction": map[string]any{"type": "string", "enum": []any{"incoming", "outgoing"}},
	},
	"required":             []any{"merchant", "total"},
	"additionalProperties": false,
}

// GenericSchema is the JSON schema for the best-effort summary
var GenericSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"summary":   map[string]any{"type": "string"},
		"direction": map[string]any{"type": "string", "enum": []any{"incoming", "outgoing"}},
	},
	"required": []any{"summary"},
}

// SchemaDocument returns the JSON schema for s
func SchemaDocument(s Schema) map[string]any {
	switch s {
	case SchemaInvoice:
		return InvoiceSchema
	case SchemaReceipt:
		return ReceiptSchema
	default:
		return GenericSchema
	}
}

// SchemaJSON returns the schema for s as compact JSON, for embedding in prompts
func SchemaJSON(s Schema) string {
	data, err := json.Marshal(SchemaDocument(s))
	if err != nil {
		return "{}"
	}
	return string(data)
}

var (
	compiledMu      sync.Mutex
	compiledSchemas = map[Schema]*jsonschema.Schema{}
)

func compiled(s Schema) (*jsonschema.Schema, error) {
	compiledMu.Lock()
	defer compiledMu.Unlock()

	if sch, ok := compiledSchemas[s]; ok {
		return sch, nil
	}

	data, err := json.Marshal(SchemaDocument(s))
	if err != nil {
		return nil, fmt.Errorf("marshaling schema: %w", err)
	}

	url := string(s) + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("adding schema resource: %w", err)
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	compiledSchemas[s] = sch
	return sch, nil
}

// Validate checks a JSON-decoded object against the schema s
func Validate(s Schema, obj map[string]any) error {
	sch, err := compiled(s)
	if err != nil {
		return err
	}
	// the validator only understands values as produced by encoding/json
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("marshaling fields: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshaling fields: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		return &ValidationError{Schema: s, Err: err}
	}
	return nil
}

// ValidationError reports fields that fail the canonical schema
type ValidationError struct {
	Schema Schema
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validating %s fields: %v", e.Schema, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
