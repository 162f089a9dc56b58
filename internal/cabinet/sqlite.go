package cabinet

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/zombor/file-cabinet/internal/document"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	mime TEXT NOT NULL,
	source TEXT NOT NULL,
	filename TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	pages INTEGER NOT NULL,
	hash_sha256 TEXT,
	created_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS documents_hash_sha256 ON documents(hash_sha256);
CREATE TABLE IF NOT EXISTS extractions (
	id TEXT PRIMARY KEY,
	doc_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	model TEXT NOT NULL,
	schema TEXT NOT NULL,
	fields TEXT NOT NULL,
	confidence REAL NOT NULL,
	raw_json TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	extraction_id TEXT REFERENCES extractions(id) ON DELETE SET NULL,
	type TEXT NOT NULL,
	schema TEXT NOT NULL,
	fields TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'open',
	direction TEXT NOT NULL DEFAULT '',
	vendor_norm TEXT NOT NULL DEFAULT '',
	invoice_number_norm TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS records_vendor_norm ON records(vendor_norm);
`

const recordColumns = `id, document_id, extraction_id, type, schema, fields, status, direction, vendor_norm, invoice_number_norm, created_at, updated_at`

// SQLiteDB implements the DB interface on a SQLite file
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens (and migrates) the SQLite database at path
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// one writer; keeps the pragmas on a single connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return &SQLiteDB{db: db}, nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// sqliteTime is fixed width so text ordering is time ordering
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(sqliteTime, s)
	return t
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func insertDocument(e execer, doc *Document) error {
	_, err := e.Exec(`
		INSERT INTO documents (id, type, mime, source, filename, storage_path, pages, hash_sha256, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type=excluded.type,
			mime=excluded.mime,
			source=excluded.source,
			filename=excluded.filename,
			storage_path=excluded.storage_path,
			pages=excluded.pages,
			hash_sha256=excluded.hash_sha256,
			created_at=excluded.created_at`,
		doc.ID, string(doc.Type), doc.Mime, string(doc.Source), doc.Filename, doc.StoragePath, doc.Pages,
		nullable(doc.HashSHA256), formatTime(doc.CreatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("saving document %s: %w", doc.ID, ErrDuplicateHash)
	}
	if err != nil {
		return fmt.Errorf("saving document %s: %w", doc.ID, err)
	}
	return nil
}

func insertExtraction(e execer, ext *Extraction) error {
	fields, err := json.Marshal(ext.Fields)
	if err != nil {
		return fmt.Errorf("marshaling extraction fields: %w", err)
	}
	raw, err := json.Marshal(ext.Raw)
	if err != nil {
		return fmt.Errorf("marshaling extraction raw payload: %w", err)
	}
	_, err = e.Exec(`
		INSERT INTO extractions (id, doc_id, model, schema, fields, confidence, raw_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			doc_id=excluded.doc_id,
			model=excluded.model,
			schema=excluded.schema,
			fields=excluded.fields,
			confidence=excluded.confidence,
			raw_json=excluded.raw_json,
			created_at=excluded.created_at`,
		ext.ID, ext.DocumentID, ext.Model, string(ext.Schema), string(fields), ext.Confidence, string(raw),
		formatTime(ext.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving extraction %s: %w", ext.ID, err)
	}
	return nil
}

func insertRecord(e execer, rec *Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshaling record fields: %w", err)
	}
	_, err = e.Exec(`
		INSERT INTO records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_id=excluded.document_id,
			extraction_id=excluded.extraction_id,
			type=excluded.type,
			schema=excluded.schema,
			fields=excluded.fields,
			status=excluded.status,
			direction=excluded.direction,
			vendor_norm=excluded.vendor_norm,
			invoice_number_norm=excluded.invoice_number_norm,
			created_at=excluded.created_at,
			updated_at=excluded.updated_at`,
		rec.ID, rec.DocumentID, nullable(rec.ExtractionID), string(rec.Type), string(rec.Schema), string(fields),
		string(rec.Status), string(rec.Direction), rec.VendorNorm, rec.InvoiceNumberNorm,
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving record %s: %w", rec.ID, err)
	}
	return nil
}

// SaveDocument saves a document to the database
func (s *SQLiteDB) SaveDocument(doc *Document) error {
	return insertDocument(s.db, doc)
}

// SaveExtraction saves an extraction to the database
func (s *SQLiteDB) SaveExtraction(ext *Extraction) error {
	return insertExtraction(s.db, ext)
}

// SaveRecord saves a record to the database
func (s *SQLiteDB) SaveRecord(rec *Record) error {
	return insertRecord(s.db, rec)
}

// SaveIngestion saves a document, its extraction and its record in one transaction
func (s *SQLiteDB) SaveIngestion(doc *Document, ext *Extraction, rec *Record) error {
	return s.inTx(func(tx *sql.Tx) error {
		if err := insertDocument(tx, doc); err != nil {
			return err
		}
		if err := insertExtraction(tx, ext); err != nil {
			return err
		}
		return insertRecord(tx, rec)
	})
}

func (s *SQLiteDB) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID
func (s *SQLiteDB) GetDocument(id string) (*Document, error) {
	var (
		doc       Document
		docType   string
		source    string
		hash      sql.NullString
		createdAt string
	)
	err := s.db.QueryRow(`
		SELECT id, type, mime, source, filename, storage_path, pages, hash_sha256, created_at
		FROM documents WHERE id = ?`, id,
	).Scan(&doc.ID, &docType, &doc.Mime, &source, &doc.Filename, &doc.StoragePath, &doc.Pages, &hash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying document: %w", err)
	}
	doc.Type = document.DocumentType(docType)
	doc.Source = Source(source)
	doc.HashSHA256 = hash.String
	doc.CreatedAt = parseTime(createdAt)
	return &doc, nil
}

// GetExtraction retrieves an extraction by ID
func (s *SQLiteDB) GetExtraction(id string) (*Extraction, error) {
	var (
		ext       Extraction
		schema    string
		fields    string
		raw       string
		createdAt string
	)
	err := s.db.QueryRow(`
		SELECT id, doc_id, model, schema, fields, confidence, raw_json, created_at
		FROM extractions WHERE id = ?`, id,
	).Scan(&ext.ID, &ext.DocumentID, &ext.Model, &schema, &fields, &ext.Confidence, &raw, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("extraction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying extraction: %w", err)
	}
	ext.Schema = document.Schema(schema)
	if ext.Fields, err = document.Decode(ext.Schema, []byte(fields)); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), &ext.Raw); err != nil {
		return nil, fmt.Errorf("decoding extraction raw payload: %w", err)
	}
	ext.CreatedAt = parseTime(createdAt)
	return &ext, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec          Record
		extractionID sql.NullString
		recType      string
		schema       string
		fields       string
		status       string
		direction    string
		createdAt    string
		updatedAt    string
	)
	err := row.Scan(&rec.ID, &rec.DocumentID, &extractionID, &recType, &schema, &fields, &status, &direction,
		&rec.VendorNorm, &rec.InvoiceNumberNorm, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	rec.ExtractionID = extractionID.String
	rec.Type = document.DocumentType(recType)
	rec.Schema = document.Schema(schema)
	if rec.Fields, err = document.Decode(rec.Schema, []byte(fields)); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	rec.Direction = document.Direction(direction)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}

// GetRecord retrieves a record by ID
func (s *SQLiteDB) GetRecord(id string) (*Record, error) {
	rec, err := scanRecord(s.db.QueryRow(`SELECT `+recordColumns+` FROM records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying record: %w", err)
	}
	return rec, nil
}

// DocumentIDByHash looks up the document holding a content hash
func (s *SQLiteDB) DocumentIDByHash(hash string) (string, bool, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM documents WHERE hash_sha256 = ?`, hash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying document hash: %w", err)
	}
	return id, true, nil
}

func (s *SQLiteDB) queryRecords(query string, args ...any) ([]*Record, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return records, nil
}

// ListRecords returns records matching filter, newest first
func (s *SQLiteDB) ListRecords(filter RecordFilter) ([]*Record, error) {
	var (
		where []string
		args  []any
	)
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}

	query := `SELECT ` + recordColumns + ` FROM records`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	records, err := s.queryRecords(query, args...)
	if err != nil {
		return nil, err
	}
	if filter.Query == "" {
		return records, nil
	}

	// match on the re-encoded fields so both stores agree on what the query sees
	needle := strings.ToLower(filter.Query)
	matched := make([]*Record, 0, len(records))
	for _, rec := range records {
		if matchesQuery(rec, needle) {
			matched = append(matched, rec)
		}
	}
	return matched, nil
}

// VendorRecords returns records for a normalized vendor
func (s *SQLiteDB) VendorRecords(vendorNorm string) ([]*Record, error) {
	return s.queryRecords(`SELECT `+recordColumns+` FROM records WHERE vendor_norm = ? ORDER BY created_at DESC, id DESC`, vendorNorm)
}

func deleteByID(e execer, table, id string) error {
	res, err := e.Exec(`DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", table, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", strings.TrimSuffix(table, "s"), id, ErrNotFound)
	}
	return nil
}

// DeleteRecord removes a record from the database
func (s *SQLiteDB) DeleteRecord(id string) error {
	return deleteByID(s.db, "records", id)
}

// DeleteExtraction removes an extraction and clears it from records that point at it
func (s *SQLiteDB) DeleteExtraction(id string) error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE records SET extraction_id = NULL WHERE extraction_id = ?`, id); err != nil {
			return fmt.Errorf("clearing record extraction: %w", err)
		}
		return deleteByID(tx, "extractions", id)
	})
}

// DeleteDocument removes a document and everything derived from it
func (s *SQLiteDB) DeleteDocument(id string) error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM records WHERE document_id = ?`, id); err != nil {
			return fmt.Errorf("deleting document records: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM extractions WHERE doc_id = ?`, id); err != nil {
			return fmt.Errorf("deleting document extractions: %w", err)
		}
		return deleteByID(tx, "documents", id)
	})
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
