package scanning

import (
	"fmt"

	"github.com/zombor/file-cabinet/internal/document"
)

// classifierPrompt teaches the model that "invoice" can mean receivables (ours) or payables (a vendor bill)
func classifierPrompt(company string) Prompt {
	return Prompt{
		System: fmt.Sprintf("You classify business documents from images for the company '%s'. "+
			"Return JSON only with fields: "+
			"`type` in {invoice_ar, vendor_bill_ap, receipt, estimate, purchase_order, email, shipping_record, other}, "+
			"`confidence` in [0,1], and `direction` in {incoming, outgoing}. "+
			"Important: the word 'invoice' is ambiguous. "+
			"If a vendor is billing us (payables), set type=vendor_bill_ap and direction=incoming. "+
			"If it is OUR invoice to a customer (receivables), set type=invoice_ar and direction=outgoing. "+
			"Use visible headers (Invoice/Estimate), Bill To / Ship To, Remit/Pay To, who is charging whom, "+
			"line items, totals, and payment instructions to decide.", company),
		User: "Classify the document shown in the following images.",
	}
}

func invoicePrompt() Prompt {
	return Prompt{
		System: "You are an expert at reading invoices from images into strict JSON.",
		User: "Extract an invoice into JSON matching this schema. Use the page images to read values. " +
			"Schema: " + document.SchemaJSON(document.SchemaInvoice) + ". " +
			"Required fields: vendor, invoice_number, total. Do not add keys that are not in the schema. " +
			"For line items, include cost/amount for each row when visible.",
	}
}

func receiptPrompt() Prompt {
	return Prompt{
		System: "You are an expert at reading receipts from images into strict JSON.",
		User: "Extract a purchase receipt into JSON matching this schema. Use the page images to read values. " +
			"Schema: " + document.SchemaJSON(document.SchemaReceipt) + ". " +
			"Required fields: merchant, total. Do not add keys that are not in the schema. " +
			"If unclear, leave fields out rather than guessing.",
	}
}

func summaryPrompt() Prompt {
	return Prompt{
		System: "Summarize the main contents of the document as JSON.",
		User:   `Return JSON with {"summary": "..."} capturing totals, parties, dates if visible.`,
	}
}
