package scanning

import (
	"context"
	"fmt"

	"github.com/zombor/file-cabinet/internal/document"
)

// ExtractionMeta describes how fields were extracted
type ExtractionMeta struct {
	Model   string          `json:"model"`
	Schema  document.Schema `json:"schema"`
	Payload map[string]any  `json:"payload"`
}

// Extractor pulls type-specific fields out of document pages
type Extractor struct {
	gateway Asker
	model   string
}

// NewExtractor creates an Extractor asking model
func NewExtractor(gateway Asker, model string) *Extractor {
	return &Extractor{gateway: gateway, model: model}
}

// Extract asks for the fields of docType's schema. Types without a dedicated schema get a summary.
func (e *Extractor) Extract(ctx context.Context, docType document.DocumentType, pages []Page) (map[string]any, *ExtractionMeta, error) {
	schema := document.SchemaFor(docType)

	var prompt Prompt
	switch schema {
	case document.SchemaInvoice:
		prompt = invoicePrompt()
	case document.SchemaReceipt:
		prompt = receiptPrompt()
	default:
		prompt = summaryPrompt()
	}

	resp, err := e.gateway.Ask(ctx, prompt, pages, e.model)
	if err != nil {
		return nil, nil, fmt.Errorf("extracting %s fields: %w", schema, err)
	}

	raw := resp.Payload
	if schema == document.SchemaGeneric {
		summary, _ := raw["summary"].(string)
		raw = map[string]any{"summary": summary}
	}

	return raw, &ExtractionMeta{Model: resp.Model, Schema: schema, Payload: resp.Payload}, nil
}

// Scanner classifies and extracts documents
type Scanner interface {
	Classify(ctx context.Context, pages []Page) (*Classification, error)
	Extract(ctx context.Context, docType document.DocumentType, pages []Page) (map[string]any, *ExtractionMeta, error)
}

// VisionScanner implements Scanner with a vision model behind a Gateway
type VisionScanner struct {
	*Classifier
	*Extractor
}

// NewVisionScanner wires a classifier and an extractor to one gateway
func NewVisionScanner(gateway Asker, classifierModel, extractionModel, company string) *VisionScanner {
	return &VisionScanner{
		Classifier: NewClassifier(gateway, classifierModel, company),
		Extractor:  NewExtractor(gateway, extractionModel),
	}
}
