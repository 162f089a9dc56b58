package cabinet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/file-cabinet/internal/dedupe"
	"github.com/zombor/file-cabinet/internal/document"
	"github.com/zombor/file-cabinet/internal/metrics"
	"github.com/zombor/file-cabinet/internal/scanning"
)

var (
	// ErrDuplicate is returned when the exact same bytes were already ingested
	ErrDuplicate = errors.New("duplicate document")
	// ErrInvalidStatus is returned for a status other than open or paid
	ErrInvalidStatus = errors.New("invalid status")
)

// IngestionError is returned for files the cabinet does not accept
type IngestionError struct {
	Filename string
	Reason   string
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingesting %s: %s", e.Filename, e.Reason)
}

const (
	exactNotice    = "Looks like you've already uploaded this exact file."
	likelyNotice   = "This appears to be the same invoice (same vendor and invoice number)."
	possibleNotice = "This looks similar to a previous invoice. Want to review the matches?"

	// textOnlyModel marks extractions produced without a model call
	textOnlyModel = "text-only"
	// defaultConfirmModel is recorded when a confirmation names no model
	defaultConfirmModel = "o3"
)

var extensionMimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".heic": "image/heic",
	".heif": "image/heif",
	".pdf":  "application/pdf",
	".eml":  "message/rfc822",
	".msg":  "application/vnd.ms-outlook",
	".txt":  "text/plain",
}

// ContentTypeFor returns the MIME type of a supported filename, or false when the extension is not accepted
func ContentTypeFor(filename string) (string, bool) {
	ct, ok := extensionMimeTypes[strings.ToLower(filepath.Ext(filename))]
	return ct, ok
}

// IDGenerator generates prefixed entity ids
type IDGenerator interface {
	Generate(prefix string) string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates prefix_ plus 12 hex characters of a random UUID
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate(prefix string) string {
	id := uuid.New()
	return prefix + "_" + hex.EncodeToString(id[:6])
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

// Renderer rasterizes source files into pages
type Renderer interface {
	Render(data []byte, contentType string) ([]scanning.Page, error)
}

// Options configures a Service
type Options struct {
	// Company is the business the cabinet files documents for
	Company string
	Policy  dedupe.Policy
	// Source is stamped on ingested documents
	Source  Source
	Metrics *metrics.Metrics
}

// Service runs the ingestion pipeline and manages stored documents and records
type Service struct {
	db          DB
	storage     Storage
	renderer    Renderer
	scanner     scanning.Scanner
	detector    *dedupe.Detector
	index       dedupe.Index
	company     string
	source      Source
	metrics     *metrics.Metrics
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, storage Storage, renderer Renderer, scanner scanning.Scanner, opts Options) *Service {
	return NewServiceWithDeps(db, storage, renderer, scanner, opts, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, renderer Renderer, scanner scanning.Scanner, opts Options, idGen IDGenerator, timeSrc TimeSource) *Service {
	if opts.Source == "" {
		opts.Source = SourceUpload
	}
	return &Service{
		db:          db,
		storage:     storage,
		renderer:    renderer,
		scanner:     scanner,
		detector:    dedupe.NewDetector(opts.Policy),
		index:       &dbIndex{db: db},
		company:     opts.Company,
		source:      opts.Source,
		metrics:     opts.Metrics,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// IngestResult is everything one ingestion produced
type IngestResult struct {
	Document   *Document       `json:"document,omitempty"`
	Extraction *Extraction     `json:"extraction,omitempty"`
	Record     *Record         `json:"record,omitempty"`
	Duplicate  *dedupe.Verdict `json:"duplicate,omitempty"`
	Notice     string          `json:"notice,omitempty"`
	Suggestion string          `json:"suggestion,omitempty"`
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func exactVerdict(documentID string) dedupe.Verdict {
	return dedupe.Verdict{
		Certainty: dedupe.CertaintyExact,
		Reason:    "identical bytes",
		Matches:   []dedupe.Match{{Type: "document", ID: documentID}},
	}
}

func noticeFor(v dedupe.Verdict) string {
	switch v.Certainty {
	case dedupe.CertaintyExact:
		return exactNotice
	case dedupe.CertaintyLikely:
		return likelyNotice
	case dedupe.CertaintyPossible:
		return possibleNotice
	}
	return ""
}

// resolveContentType prefers the declared type unless it is missing or generic
func resolveContentType(declared, fallback string) string {
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil || mediaType == "" || mediaType == "application/octet-stream" {
		return fallback
	}
	return mediaType
}

// Ingest runs one source file through render, classify, extract, normalize and dedupe, then persists it.
// An exact duplicate returns ErrDuplicate before any model call.
func (s *Service) Ingest(ctx context.Context, filename string, data []byte, contentType string) (*IngestResult, error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		s.metrics.ObserveIngest(outcome, time.Since(start))
	}()

	fallbackType, ok := ContentTypeFor(filename)
	if !ok {
		outcome = "rejected"
		return nil, &IngestionError{Filename: filename, Reason: fmt.Sprintf("unsupported file type: %q", filepath.Ext(filename))}
	}
	contentType = resolveContentType(contentType, fallbackType)
	hash := hashOf(data)

	verdict, err := s.detector.Check(ctx, hash, dedupe.Candidate{}, s.index)
	if err != nil {
		return nil, fmt.Errorf("checking for duplicates: %w", err)
	}
	if verdict.Certainty == dedupe.CertaintyExact {
		outcome = "duplicate"
		s.metrics.IncVerdict(string(verdict.Certainty))
		slog.Info("Rejected exact duplicate", "filename", filename, "existing_document_id", verdict.Matches[0].ID)
		return &IngestResult{Duplicate: &verdict, Notice: exactNotice}, ErrDuplicate
	}

	now := s.timeSource.Now()
	doc := &Document{
		ID:         s.idGenerator.Generate("doc"),
		Mime:       contentType,
		Source:     s.source,
		Filename:   filename,
		HashSHA256: hash,
		CreatedAt:  now,
	}

	doc.StoragePath, err = s.storage.Save(doc.ID+strings.ToLower(filepath.Ext(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	result, err := s.process(ctx, doc, data)
	if err != nil {
		slog.Error("Failed to process document",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.discard(doc.StoragePath)
		return nil, err
	}

	if err := s.db.SaveIngestion(result.Document, result.Extraction, result.Record); err != nil {
		s.discard(doc.StoragePath)
		if errors.Is(err, ErrDuplicateHash) {
			existing, _, lookupErr := s.db.DocumentIDByHash(hash)
			if lookupErr != nil {
				return nil, fmt.Errorf("looking up duplicate document: %w", lookupErr)
			}
			outcome = "duplicate"
			v := exactVerdict(existing)
			s.metrics.IncVerdict(string(v.Certainty))
			return &IngestResult{Duplicate: &v, Notice: exactNotice}, ErrDuplicate
		}
		return nil, fmt.Errorf("saving ingestion: %w", err)
	}

	outcome = "ok"
	slog.Info("Ingested document",
		"document_id", doc.ID,
		"record_id", result.Record.ID,
		"type", doc.Type,
		"model", result.Extraction.Model,
	)
	return result, nil
}

// process turns a stored document into its extraction and record without persisting them
func (s *Service) process(ctx context.Context, doc *Document, data []byte) (*IngestResult, error) {
	classification, meta, raw, pageCount, err := s.analyze(ctx, doc, data)
	if err != nil {
		return nil, err
	}
	doc.Type = classification.Type
	doc.Pages = pageCount

	fields, err := document.Normalize(classification.Type, doc.ID, raw)
	if err != nil {
		return nil, fmt.Errorf("normalizing fields: %w", err)
	}
	if document.DirectionOf(fields) == "" {
		document.SetDirection(fields, classification.Direction)
	}

	extraction, record := Assemble(Assembly{
		Document:       doc,
		Classification: classification,
		Meta:           meta,
		Fields:         fields,
		ExtractionID:   s.idGenerator.Generate("ext"),
		RecordID:       s.idGenerator.Generate("rec"),
		Company:        s.company,
		Now:            doc.CreatedAt,
	})

	verdict, err := s.detector.Check(ctx, "", candidateOf(fields), s.index)
	if err != nil {
		return nil, fmt.Errorf("checking for duplicates: %w", err)
	}
	s.metrics.IncVerdict(string(verdict.Certainty))

	result := &IngestResult{Document: doc, Extraction: extraction, Record: record}
	result.Suggestion, _ = extraction.Raw["suggestion"].(string)
	if verdict.IsDuplicate() {
		result.Duplicate = &verdict
		result.Notice = noticeFor(verdict)
	}
	return result, nil
}

// analyze classifies and extracts a document; a document that cannot be rendered gets a text summary instead
func (s *Service) analyze(ctx context.Context, doc *Document, data []byte) (*scanning.Classification, *scanning.ExtractionMeta, map[string]any, int, error) {
	pages, err := s.renderer.Render(data, doc.Mime)
	if err != nil || len(pages) == 0 {
		slog.Warn("Could not render document, falling back to text summary",
			"document_id", doc.ID,
			"content_type", doc.Mime,
			"error", err,
		)
		s.metrics.IncRenderFailure()
		c, meta, raw := textOnly(doc, data)
		return c, meta, raw, 0, nil
	}

	classification, err := s.scanner.Classify(ctx, pages)
	if err != nil {
		return nil, nil, nil, 0, err
	}
	raw, meta, err := s.scanner.Extract(ctx, classification.Type, pages)
	if err != nil {
		return nil, nil, nil, 0, err
	}
	return classification, meta, raw, len(pages), nil
}

func textOnly(doc *Document, data []byte) (*scanning.Classification, *scanning.ExtractionMeta, map[string]any) {
	docType := document.TypeOther
	if ext := strings.ToLower(filepath.Ext(doc.Filename)); ext == ".eml" || ext == ".msg" {
		docType = document.TypeEmail
	}
	summary := scanning.TextSummary(data, doc.Mime)

	classification := &scanning.Classification{
		Type:    docType,
		Kind:    string(docType),
		Model:   textOnlyModel,
		Payload: map[string]any{"type": string(docType), "confidence": 0.0},
	}
	meta := &scanning.ExtractionMeta{
		Model:   textOnlyModel,
		Schema:  document.SchemaGeneric,
		Payload: map[string]any{"summary": summary},
	}
	return classification, meta, map[string]any{"summary": summary}
}

func (s *Service) discard(key string) {
	if err := s.storage.Delete(key); err != nil {
		slog.Warn("Failed to delete file", "filename", key, "error", err)
	}
}

// ProposedDocument identifies the uploaded file in a duplicate pre-check
type ProposedDocument struct {
	HashSHA256 string `json:"hash_sha256"`
	Filename   string `json:"filename"`
}

// ProposedRecord is what would be stored if the user confirms
type ProposedRecord struct {
	Document ProposedDocument `json:"document"`
	Fields   map[string]any   `json:"fields"`
}

// DupCheckResult is the answer to a duplicate pre-check
type DupCheckResult struct {
	Notice    string         `json:"notice,omitempty"`
	Duplicate dedupe.Verdict `json:"duplicate_suspect"`
	Proposed  ProposedRecord `json:"proposed_record"`
}

// CheckDuplicate runs the detector on an upload and user-supplied fields without storing anything.
// An exact match returns the result together with ErrDuplicate.
func (s *Service) CheckDuplicate(ctx context.Context, filename string, data []byte, fields map[string]any) (*DupCheckResult, error) {
	hash := hashOf(data)
	candidate := candidateFromMap(fields)

	proposed := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		proposed[k] = v
	}
	proposed["vendor_norm"] = dedupe.NormalizeVendor(candidate.Vendor)
	proposed["invoice_number_norm"] = dedupe.NormalizeInvoiceNumber(candidate.InvoiceNumber)

	verdict, err := s.detector.Check(ctx, hash, candidate, s.index)
	if err != nil {
		return nil, fmt.Errorf("checking for duplicates: %w", err)
	}
	s.metrics.IncVerdict(string(verdict.Certainty))

	result := &DupCheckResult{
		Notice:    noticeFor(verdict),
		Duplicate: verdict,
		Proposed: ProposedRecord{
			Document: ProposedDocument{HashSHA256: hash, Filename: filename},
			Fields:   proposed,
		},
	}
	if verdict.Certainty == dedupe.CertaintyExact {
		return result, ErrDuplicate
	}
	return result, nil
}

// ConfirmRequest asks for a record to be created for a stored document
type ConfirmRequest struct {
	DocumentID string         `json:"doc_id"`
	Type       string         `json:"type"`
	Fields     map[string]any `json:"fields"`
	Model      string         `json:"model"`
	// Schema is informational; the stored schema follows Type
	Schema     string         `json:"schema"`
	Confidence float64        `json:"confidence"`
	Raw        map[string]any `json:"raw_json"`
}

// ConfirmRecord creates an extraction and a record for a known document
func (s *Service) ConfirmRecord(ctx context.Context, req ConfirmRequest) (*Record, error) {
	doc, err := s.db.GetDocument(req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}

	kind := strings.ToLower(strings.TrimSpace(req.Type))
	docType := scanning.TypeForKind(kind)
	fields, err := document.Normalize(docType, doc.ID, req.Fields)
	if err != nil {
		return nil, fmt.Errorf("normalizing fields: %w", err)
	}
	if document.DirectionOf(fields) == "" {
		document.SetDirection(fields, scanning.DirectionForKind(kind))
	}

	model := req.Model
	if model == "" {
		model = defaultConfirmModel
	}
	raw := req.Raw
	if raw == nil {
		raw = map[string]any{}
	}

	now := s.timeSource.Now()
	ext := &Extraction{
		ID:         s.idGenerator.Generate("ext"),
		DocumentID: doc.ID,
		Model:      model,
		Schema:     fields.Schema(),
		Fields:     fields,
		Confidence: clamp01(req.Confidence),
		Raw:        raw,
		CreatedAt:  now,
	}
	rec := newRecord(s.idGenerator.Generate("rec"), doc.ID, docType, fields, now)
	rec.ExtractionID = ext.ID

	if err := s.db.SaveExtraction(ext); err != nil {
		return nil, fmt.Errorf("saving extraction: %w", err)
	}
	if err := s.db.SaveRecord(rec); err != nil {
		return nil, fmt.Errorf("saving record: %w", err)
	}
	return rec, nil
}

func clamp01(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// ListRecords returns records matching filter, newest first
func (s *Service) ListRecords(filter RecordFilter) ([]*Record, error) {
	records, err := s.db.ListRecords(filter)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	return records, nil
}

// GetRecord retrieves a record by ID
func (s *Service) GetRecord(id string) (*Record, error) {
	rec, err := s.db.GetRecord(id)
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}
	return rec, nil
}

// SetRecordStatus marks a record open or paid
func (s *Service) SetRecordStatus(id string, status string) (*Record, error) {
	st, ok := ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("%q: %w", status, ErrInvalidStatus)
	}
	rec, err := s.db.GetRecord(id)
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}
	rec.Status = st
	rec.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveRecord(rec); err != nil {
		return nil, fmt.Errorf("saving record: %w", err)
	}
	return rec, nil
}

// DeleteRecord removes a record
func (s *Service) DeleteRecord(id string) error {
	if err := s.db.DeleteRecord(id); err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	return nil
}

// DeleteExtraction removes an extraction; records keep existing without it
func (s *Service) DeleteExtraction(id string) error {
	if err := s.db.DeleteExtraction(id); err != nil {
		return fmt.Errorf("deleting extraction: %w", err)
	}
	return nil
}

// DeleteDocument removes a document, everything derived from it and its file
func (s *Service) DeleteDocument(id string) error {
	doc, err := s.db.GetDocument(id)
	if err != nil {
		return fmt.Errorf("getting document for deletion: %w", err)
	}

	if err := s.db.DeleteDocument(id); err != nil {
		return fmt.Errorf("deleting document from database: %w", err)
	}

	// the rows are gone, so a leftover file is only logged
	s.discard(doc.StoragePath)
	return nil
}

// GetDocumentFile retrieves the stored file for a document
func (s *Service) GetDocumentFile(id string) ([]byte, string, error) {
	doc, err := s.db.GetDocument(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting document: %w", err)
	}

	data, err := s.storage.Get(doc.StoragePath)
	if err != nil {
		return nil, "", fmt.Errorf("getting document file: %w", err)
	}

	return data, doc.Mime, nil
}

// dbIndex lets the duplicate detector read from a DB
type dbIndex struct {
	db DB
}

func (i *dbIndex) DocumentIDByHash(ctx context.Context, hash string) (string, bool, error) {
	return i.db.DocumentIDByHash(hash)
}

func (i *dbIndex) VendorRecords(ctx context.Context, vendorNorm string) ([]dedupe.PriorRecord, error) {
	records, err := i.db.VendorRecords(vendorNorm)
	if err != nil {
		return nil, err
	}

	prior := make([]dedupe.PriorRecord, 0, len(records))
	for _, rec := range records {
		c := candidateOf(rec.Fields)
		prior = append(prior, dedupe.PriorRecord{
			ID:                rec.ID,
			VendorNorm:        rec.VendorNorm,
			InvoiceNumber:     c.InvoiceNumber,
			InvoiceNumberNorm: rec.InvoiceNumberNorm,
			Total:             c.Total,
			InvoiceDate:       c.InvoiceDate,
		})
	}
	return prior, nil
}
