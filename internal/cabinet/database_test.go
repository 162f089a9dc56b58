package cabinet

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/file-cabinet/internal/document"
)

// describeDB runs the DB contract against one backend
func describeDB(name string, open func(path string) (DB, error)) {
	Describe(name, func() {
		var (
			db  DB
			now time.Time
			doc *Document
			ext *Extraction
			rec *Record
		)

		BeforeEach(func() {
			var err error
			db, err = open(filepath.Join(GinkgoT().TempDir(), "cabinet.db"))
			Expect(err).NotTo(HaveOccurred())

			now = time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
			doc = &Document{
				ID:          "doc_1",
				Type:        document.TypeInvoice,
				Mime:        "application/pdf",
				Source:      SourceUpload,
				Filename:    "bill.pdf",
				StoragePath: "doc_1.pdf",
				Pages:       2,
				HashSHA256:  "abc123",
				CreatedAt:   now,
			}
			fields := &document.InvoiceFields{
				Vendor:        "Acme Corp",
				InvoiceNumber: "INV-100",
				Total:         1250,
				Direction:     document.DirectionIncoming,
				Extra:         map[string]any{"memo": "March supplies"},
			}
			ext = &Extraction{
				ID:         "ext_1",
				DocumentID: "doc_1",
				Model:      "o3",
				Schema:     document.SchemaInvoice,
				Fields:     fields,
				Confidence: 0.9,
				Raw:        map[string]any{"direction": "incoming"},
				CreatedAt:  now,
			}
			rec = newRecord("rec_1", "doc_1", document.TypeInvoice, fields, now)
			rec.ExtractionID = "ext_1"
		})

		AfterEach(func() {
			if db != nil {
				db.Close()
			}
		})

		Describe("SaveIngestion", func() {
			var err error

			JustBeforeEach(func() {
				err = db.SaveIngestion(doc, ext, rec)
			})

			It("should store the document, extraction and record", func() {
				Expect(err).NotTo(HaveOccurred())

				savedDoc, getErr := db.GetDocument("doc_1")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(savedDoc.HashSHA256).To(Equal("abc123"))
				Expect(savedDoc.Pages).To(Equal(2))
				Expect(savedDoc.CreatedAt.Equal(now)).To(BeTrue())

				savedExt, getErr := db.GetExtraction("ext_1")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(savedExt.Confidence).To(Equal(0.9))
				Expect(savedExt.Raw).To(HaveKeyWithValue("direction", "incoming"))

				savedRec, getErr := db.GetRecord("rec_1")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(savedRec.VendorNorm).To(Equal("acme"))
				Expect(savedRec.Direction).To(Equal(document.DirectionIncoming))
				inv, ok := savedRec.Fields.(*document.InvoiceFields)
				Expect(ok).To(BeTrue())
				Expect(inv.Total).To(Equal(1250.0))
				Expect(inv.Extra).To(HaveKeyWithValue("memo", "March supplies"))
			})

			It("should index the document by hash", func() {
				id, found, getErr := db.DocumentIDByHash("abc123")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(found).To(BeTrue())
				Expect(id).To(Equal("doc_1"))
			})

			When("another document has the same hash", func() {
				BeforeEach(func() {
					Expect(db.SaveDocument(&Document{ID: "doc_0", HashSHA256: "abc123", CreatedAt: now})).To(Succeed())
				})

				It("should return ErrDuplicateHash and store nothing", func() {
					Expect(err).To(MatchError(ErrDuplicateHash))
					_, getErr := db.GetRecord("rec_1")
					Expect(getErr).To(MatchError(ErrNotFound))
				})
			})
		})

		Describe("DocumentIDByHash", func() {
			It("should report unknown hashes as not found", func() {
				_, found, err := db.DocumentIDByHash("nope")
				Expect(err).NotTo(HaveOccurred())
				Expect(found).To(BeFalse())
			})
		})

		Describe("ListRecords", func() {
			BeforeEach(func() {
				Expect(db.SaveIngestion(doc, ext, rec)).To(Succeed())

				Expect(db.SaveDocument(&Document{ID: "doc_2", HashSHA256: "def456", CreatedAt: now})).To(Succeed())
				receipt := newRecord("rec_2", "doc_2", document.TypeReceipt,
					&document.ReceiptFields{Merchant: "Corner Cafe", Total: 8.2}, now.Add(time.Minute))
				Expect(db.SaveRecord(receipt)).To(Succeed())
			})

			It("should return records newest first", func() {
				records, err := db.ListRecords(RecordFilter{})
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(2))
				Expect(records[0].ID).To(Equal("rec_2"))
				Expect(records[1].ID).To(Equal("rec_1"))
			})

			It("should filter by type", func() {
				records, err := db.ListRecords(RecordFilter{Type: document.TypeReceipt})
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(1))
				Expect(records[0].ID).To(Equal("rec_2"))
			})

			It("should match the query case-insensitively against fields", func() {
				records, err := db.ListRecords(RecordFilter{Query: "CORNER"})
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(1))
				Expect(records[0].ID).To(Equal("rec_2"))
			})

			It("should return vendor records by normalized vendor", func() {
				records, err := db.VendorRecords("acme")
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(1))
				Expect(records[0].InvoiceNumberNorm).To(Equal("100"))
			})
		})

		Describe("SaveRecord", func() {
			BeforeEach(func() {
				Expect(db.SaveIngestion(doc, ext, rec)).To(Succeed())
			})

			It("should update an existing record", func() {
				rec.Status = StatusPaid
				Expect(db.SaveRecord(rec)).To(Succeed())

				saved, err := db.GetRecord("rec_1")
				Expect(err).NotTo(HaveOccurred())
				Expect(saved.Status).To(Equal(StatusPaid))
			})
		})

		Describe("DeleteRecord", func() {
			It("should return ErrNotFound for an unknown record", func() {
				Expect(db.DeleteRecord("rec_missing")).To(MatchError(ErrNotFound))
			})
		})

		Describe("DeleteExtraction", func() {
			BeforeEach(func() {
				Expect(db.SaveIngestion(doc, ext, rec)).To(Succeed())
			})

			It("should clear the record's extraction", func() {
				Expect(db.DeleteExtraction("ext_1")).To(Succeed())

				_, err := db.GetExtraction("ext_1")
				Expect(err).To(MatchError(ErrNotFound))

				saved, err := db.GetRecord("rec_1")
				Expect(err).NotTo(HaveOccurred())
				Expect(saved.ExtractionID).To(BeEmpty())
			})
		})

		Describe("DeleteDocument", func() {
			BeforeEach(func() {
				Expect(db.SaveIngestion(doc, ext, rec)).To(Succeed())
			})

			It("should cascade to extractions and records and free the hash", func() {
				Expect(db.DeleteDocument("doc_1")).To(Succeed())

				_, err := db.GetExtraction("ext_1")
				Expect(err).To(MatchError(ErrNotFound))
				_, err = db.GetRecord("rec_1")
				Expect(err).To(MatchError(ErrNotFound))

				_, found, err := db.DocumentIDByHash("abc123")
				Expect(err).NotTo(HaveOccurred())
				Expect(found).To(BeFalse())
			})

			It("should return ErrNotFound for an unknown document", func() {
				Expect(db.DeleteDocument("doc_missing")).To(MatchError(ErrNotFound))
			})
		})
	})
}

var _ = Describe("DB", func() {
	describeDB("BoltDB", func(path string) (DB, error) {
		db, err := NewBoltDB(path)
		if err != nil {
			return nil, err
		}
		return db, nil
	})

	describeDB("SQLiteDB", func(path string) (DB, error) {
		db, err := NewSQLiteDB(path)
		if err != nil {
			return nil, err
		}
		return db, nil
	})
})
