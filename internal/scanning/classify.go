package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/zombor/file-cabinet/internal/document"
)

// Asker is the part of the Gateway the classifier and extractor depend on
type Asker interface {
	Ask(ctx context.Context, prompt Prompt, pages []Page, model string) (*Response, error)
}

// Classification is the classifier's verdict for one source file
type Classification struct {
	Type       document.DocumentType `json:"doc_type"`
	Kind       string                `json:"kind"` // raw taxonomy value, e.g. vendor_bill_ap
	Confidence float64               `json:"confidence"`
	Direction  document.Direction    `json:"direction,omitempty"`
	Model      string                `json:"model"`
	Payload    map[string]any        `json:"payload"`
}

// kindTypes collapses the classifier taxonomy onto stored document types
var kindTypes = map[string]document.DocumentType{
	"invoice":        document.TypeInvoice,
	"invoice_ar":     document.TypeInvoice,
	"vendor_bill_ap": document.TypeInvoice,
	"receipt":        document.TypeReceipt,
	"estimate":       document.TypePurchaseOrder,
	"purchase_order": document.TypePurchaseOrder,
	"email":          document.TypeEmail,
}

// TypeForKind maps a taxonomy value to the stored document type; unknown kinds are TypeOther
func TypeForKind(kind string) document.DocumentType {
	if t, ok := kindTypes[strings.ToLower(strings.TrimSpace(kind))]; ok {
		return t
	}
	return document.TypeOther
}

// DirectionForKind is the direction implied by a taxonomy value, or "" when it implies none
func DirectionForKind(kind string) document.Direction {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "vendor_bill_ap":
		return document.DirectionIncoming
	case "invoice_ar":
		return document.DirectionOutgoing
	}
	return ""
}

// Classifier assigns a document type, direction and confidence
type Classifier struct {
	gateway Asker
	model   string
	company string
}

// NewClassifier creates a Classifier asking model on behalf of company
func NewClassifier(gateway Asker, model string, company string) *Classifier {
	return &Classifier{gateway: gateway, model: model, company: company}
}

// Classify asks the model what kind of document the pages show
func (c *Classifier) Classify(ctx context.Context, pages []Page) (*Classification, error) {
	resp, err := c.gateway.Ask(ctx, classifierPrompt(c.company), pages, c.model)
	if err != nil {
		return nil, fmt.Errorf("classifying document: %w", err)
	}

	kind, _ := resp.Payload["type"].(string)
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		kind = "other"
	}

	direction := document.ParseDirection(stringValue(resp.Payload["direction"]))
	if direction == "" {
		direction = DirectionForKind(kind)
	}

	result := &Classification{
		Type:       TypeForKind(kind),
		Kind:       kind,
		Confidence: clampConfidence(resp.Payload["confidence"]),
		Direction:  direction,
		Model:      resp.Model,
		Payload:    resp.Payload,
	}

	slog.Info("Classified document",
		"kind", result.Kind,
		"type", result.Type,
		"direction", result.Direction,
		"confidence", result.Confidence,
		"model", result.Model,
	)
	return result, nil
}

func stringValue(v any) string {
	s, _ := v.(string)
	return strings.ToLower(strings.TrimSpace(s))
}

// clampConfidence reads a confidence value into [0,1]; anything missing or unreadable is 0
func clampConfidence(v any) float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
