package scanning

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/file-cabinet/internal/document"
)

type mockAsker struct {
	payload map[string]any
	model   string
	askErr  error

	prompts []Prompt
	models  []string
}

func newMockAsker() *mockAsker {
	return &mockAsker{payload: map[string]any{}}
}

func (m *mockAsker) Ask(ctx context.Context, prompt Prompt, pages []Page, model string) (*Response, error) {
	m.prompts = append(m.prompts, prompt)
	m.models = append(m.models, model)
	if m.askErr != nil {
		return nil, m.askErr
	}
	used := m.model
	if used == "" {
		used = model
	}
	return &Response{Payload: m.payload, Model: used}, nil
}

var _ = Describe("Classifier", func() {
	var (
		asker  *mockAsker
		result *Classification
		err    error
	)

	BeforeEach(func() {
		asker = newMockAsker()
	})

	JustBeforeEach(func() {
		classifier := NewClassifier(asker, "o3", "Acme Builders")
		result, err = classifier.Classify(context.Background(), []Page{{Data: []byte("jpeg")}})
	})

	It("should name the company in the prompt", func() {
		Expect(asker.prompts).To(HaveLen(1))
		Expect(asker.prompts[0].System).To(ContainSubstring("'Acme Builders'"))
		Expect(asker.models).To(Equal([]string{"o3"}))
	})

	When("the model reports a vendor bill without a direction", func() {
		BeforeEach(func() {
			asker.payload = map[string]any{"type": "vendor_bill_ap", "confidence": 0.92}
		})

		It("should classify as an incoming invoice", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Type).To(Equal(document.TypeInvoice))
			Expect(result.Kind).To(Equal("vendor_bill_ap"))
			Expect(result.Direction).To(Equal(document.DirectionIncoming))
			Expect(result.Confidence).To(Equal(0.92))
		})
	})

	When("the model reports our own invoice", func() {
		BeforeEach(func() {
			asker.payload = map[string]any{"type": "invoice_ar"}
		})

		It("should classify as an outgoing invoice", func() {
			Expect(result.Type).To(Equal(document.TypeInvoice))
			Expect(result.Direction).To(Equal(document.DirectionOutgoing))
		})
	})

	When("the model states a direction explicitly", func() {
		BeforeEach(func() {
			asker.payload = map[string]any{"type": "vendor_bill_ap", "direction": "Outgoing"}
		})

		It("should keep the stated direction", func() {
			Expect(result.Direction).To(Equal(document.DirectionOutgoing))
		})
	})

	When("the answer has no type", func() {
		BeforeEach(func() {
			asker.payload = map[string]any{"confidence": "high"}
		})

		It("should fall back to other with zero confidence", func() {
			Expect(result.Kind).To(Equal("other"))
			Expect(result.Type).To(Equal(document.TypeOther))
			Expect(result.Confidence).To(BeZero())
		})
	})

	When("the fallback model answered", func() {
		BeforeEach(func() {
			asker.model = DefaultFallbackModel
			asker.payload = map[string]any{"type": "receipt"}
		})

		It("should record the model that actually answered", func() {
			Expect(result.Model).To(Equal(DefaultFallbackModel))
			Expect(result.Type).To(Equal(document.TypeReceipt))
		})
	})

	When("the gateway fails", func() {
		BeforeEach(func() {
			asker.askErr = &GatewayError{Model: "o3", Message: "boom"}
		})

		It("returns the gateway error", func() {
			var gwErr *GatewayError
			Expect(errors.As(err, &gwErr)).To(BeTrue())
			Expect(result).To(BeNil())
		})
	})
})

var _ = DescribeTable("TypeForKind",
	func(kind string, expected document.DocumentType) {
		Expect(TypeForKind(kind)).To(Equal(expected))
	},
	Entry("plain invoice", "invoice", document.TypeInvoice),
	Entry("receivable", "invoice_ar", document.TypeInvoice),
	Entry("payable", "VENDOR_BILL_AP", document.TypeInvoice),
	Entry("receipt", "receipt", document.TypeReceipt),
	Entry("estimate", "estimate", document.TypePurchaseOrder),
	Entry("purchase order", "purchase_order", document.TypePurchaseOrder),
	Entry("email", " email ", document.TypeEmail),
	Entry("shipping record", "shipping_record", document.TypeOther),
	Entry("unknown", "letter", document.TypeOther),
)

var _ = DescribeTable("clampConfidence",
	func(v any, expected float64) {
		Expect(clampConfidence(v)).To(Equal(expected))
	},
	Entry("in range", 0.5, 0.5),
	Entry("above one", 1.7, 1.0),
	Entry("negative", -0.2, 0.0),
	Entry("numeric string", "0.8", 0.8),
	Entry("word", "high", 0.0),
	Entry("missing", nil, 0.0),
)

var _ = Describe("Extractor", func() {
	var (
		asker   *mockAsker
		docType document.DocumentType
		raw     map[string]any
		meta    *ExtractionMeta
		err     error
	)

	BeforeEach(func() {
		asker = newMockAsker()
	})

	JustBeforeEach(func() {
		extractor := NewExtractor(asker, "gpt-4o")
		raw, meta, err = extractor.Extract(context.Background(), docType, []Page{{Data: []byte("jpeg")}})
	})

	When("extracting an invoice", func() {
		BeforeEach(func() {
			docType = document.TypeInvoice
			asker.payload = map[string]any{"vendor": "Acme", "invoice_number": "1024", "total": 100.0}
		})

		It("should use the invoice schema", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(meta.Schema).To(Equal(document.SchemaInvoice))
			Expect(meta.Model).To(Equal("gpt-4o"))
			Expect(asker.prompts[0].User).To(ContainSubstring("invoice_number"))
		})

		It("should return the raw payload", func() {
			Expect(raw).To(HaveKeyWithValue("vendor", "Acme"))
		})
	})

	When("extracting a receipt", func() {
		BeforeEach(func() {
			docType = document.TypeReceipt
			asker.payload = map[string]any{"merchant": "Cafe", "total": 4.5}
		})

		It("should use the receipt schema", func() {
			Expect(meta.Schema).To(Equal(document.SchemaReceipt))
			Expect(asker.prompts[0].User).To(ContainSubstring("merchant"))
		})
	})

	When("extracting a type without a dedicated schema", func() {
		BeforeEach(func() {
			docType = document.TypeEmail
			asker.payload = map[string]any{"summary": "Shipping notice", "from": "ops@example.com"}
		})

		It("should keep only the summary", func() {
			Expect(meta.Schema).To(Equal(document.SchemaGeneric))
			Expect(raw).To(Equal(map[string]any{"summary": "Shipping notice"}))
			Expect(meta.Payload).To(HaveKey("from"))
		})
	})

	When("the gateway fails", func() {
		BeforeEach(func() {
			docType = document.TypeInvoice
			asker.askErr = &MalformedResponseError{Model: "gpt-4o", Content: "nope"}
		})

		It("returns the error", func() {
			var mErr *MalformedResponseError
			Expect(errors.As(err, &mErr)).To(BeTrue())
			Expect(meta).To(BeNil())
		})
	})
})
