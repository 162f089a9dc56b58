package cabinet

import (
	"errors"
	"fmt"

	"github.com/zombor/file-cabinet/internal/document"
)

// billOf projects an incoming invoice record to a Bill; other records are not bills
func billOf(rec *Record) (Bill, bool) {
	inv, ok := rec.Fields.(*document.InvoiceFields)
	if !ok || rec.Type != document.TypeInvoice || rec.Direction != document.DirectionIncoming {
		return Bill{}, false
	}

	vendor := inv.Vendor
	if vendor == "" {
		vendor = "Unknown vendor"
	}

	memo := ""
	for _, key := range []string{"memo", "summary", "description"} {
		if s, ok := document.ToString(inv.Extra[key]); ok && s != "" {
			memo = s
			break
		}
	}

	status := rec.Status
	if status == "" {
		status = StatusOpen
	}

	return Bill{
		ID:      rec.ID,
		Vendor:  vendor,
		Total:   inv.Total,
		DueDate: inv.DueDate,
		Number:  inv.InvoiceNumber,
		Memo:    memo,
		Status:  status,
	}, true
}

// ListPayables returns vendor bills by status: open (the default), paid or all
func (s *Service) ListPayables(status string) ([]Bill, error) {
	if status == "" {
		status = string(StatusOpen)
	}
	if _, ok := ParseStatus(status); !ok && status != "all" {
		return nil, fmt.Errorf("%q: %w", status, ErrInvalidStatus)
	}

	records, err := s.db.ListRecords(RecordFilter{Type: document.TypeInvoice})
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}

	bills := make([]Bill, 0, len(records))
	for _, rec := range records {
		bill, ok := billOf(rec)
		if !ok {
			continue
		}
		if status != "all" && string(bill.Status) != status {
			continue
		}
		bills = append(bills, bill)
	}
	return bills, nil
}

// MarkPaid marks the given records paid and returns how many changed and the bills still open.
// Unknown ids are skipped.
func (s *Service) MarkPaid(ids []string) (int, []Bill, error) {
	now := s.timeSource.Now()
	updated := 0
	for _, id := range ids {
		rec, err := s.db.GetRecord(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return updated, nil, fmt.Errorf("getting record %s: %w", id, err)
		}
		rec.Status = StatusPaid
		rec.UpdatedAt = now
		if err := s.db.SaveRecord(rec); err != nil {
			return updated, nil, fmt.Errorf("updating record %s: %w", id, err)
		}
		updated++
	}

	open, err := s.ListPayables(string(StatusOpen))
	if err != nil {
		return updated, nil, err
	}
	return updated, open, nil
}
