package cabinet

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const (
	documentsBucket   = "documents"
	extractionsBucket = "extractions"
	recordsBucket     = "records"
	hashesBucket      = "hashes"
)

var (
	// ErrNotFound is returned when an entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicateHash is returned when a different document already has the same content hash
	ErrDuplicateHash = errors.New("document with identical content already stored")
)

// DB defines the interface for database operations
type DB interface {
	// SaveDocument upserts a document by id
	SaveDocument(doc *Document) error
	// SaveExtraction upserts an extraction by id
	SaveExtraction(ext *Extraction) error
	// SaveRecord upserts a record by id
	SaveRecord(rec *Record) error
	// SaveIngestion stores a document with its extraction and record in one transaction
	SaveIngestion(doc *Document, ext *Extraction, rec *Record) error

	GetDocument(id string) (*Document, error)
	GetExtraction(id string) (*Extraction, error)
	GetRecord(id string) (*Record, error)

	// DocumentIDByHash returns the id of the document stored with hash
	DocumentIDByHash(hash string) (string, bool, error)
	// ListRecords returns matching records, newest first
	ListRecords(filter RecordFilter) ([]*Record, error)
	// VendorRecords returns records whose normalized vendor equals vendorNorm
	VendorRecords(vendorNorm string) ([]*Record, error)

	DeleteRecord(id string) error
	// DeleteExtraction removes an extraction and clears record references to it
	DeleteExtraction(id string) error
	// DeleteDocument removes a document with its extractions and records
	DeleteDocument(id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{documentsBucket, extractionsBucket, recordsBucket, hashesBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func put(tx *bbolt.Tx, bucket, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s %s: %w", bucket, id, err)
	}
	return tx.Bucket([]byte(bucket)).Put([]byte(id), data)
}

func get(tx *bbolt.Tx, bucket, id string, v any) error {
	data := tx.Bucket([]byte(bucket)).Get([]byte(id))
	if data == nil {
		return fmt.Errorf("%s %s: %w", strings.TrimSuffix(bucket, "s"), id, ErrNotFound)
	}
	return json.Unmarshal(data, v)
}

// putDocument stores doc and claims its hash; the hash check and write share tx
func putDocument(tx *bbolt.Tx, doc *Document) error {
	hashes := tx.Bucket([]byte(hashesBucket))
	if doc.HashSHA256 != "" {
		if owner := hashes.Get([]byte(doc.HashSHA256)); owner != nil && string(owner) != doc.ID {
			return fmt.Errorf("hash %s owned by %s: %w", doc.HashSHA256, owner, ErrDuplicateHash)
		}
	}

	var prev Document
	if err := get(tx, documentsBucket, doc.ID, &prev); err == nil && prev.HashSHA256 != "" && prev.HashSHA256 != doc.HashSHA256 {
		if err := hashes.Delete([]byte(prev.HashSHA256)); err != nil {
			return err
		}
	}

	if doc.HashSHA256 != "" {
		if err := hashes.Put([]byte(doc.HashSHA256), []byte(doc.ID)); err != nil {
			return err
		}
	}
	return put(tx, documentsBucket, doc.ID, doc)
}

// SaveDocument saves a document to the database
func (b *BoltDB) SaveDocument(doc *Document) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return putDocument(tx, doc)
	})
}

// SaveExtraction saves an extraction to the database
func (b *BoltDB) SaveExtraction(ext *Extraction) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, extractionsBucket, ext.ID, ext)
	})
}

// SaveRecord saves a record to the database
func (b *BoltDB) SaveRecord(rec *Record) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, recordsBucket, rec.ID, rec)
	})
}

// SaveIngestion saves a document, its extraction and its record atomically
func (b *BoltDB) SaveIngestion(doc *Document, ext *Extraction, rec *Record) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := putDocument(tx, doc); err != nil {
			return err
		}
		if err := put(tx, extractionsBucket, ext.ID, ext); err != nil {
			return err
		}
		return put(tx, recordsBucket, rec.ID, rec)
	})
}

// GetDocument retrieves a document by ID
func (b *BoltDB) GetDocument(id string) (*Document, error) {
	var doc *Document
	err := b.db.View(func(tx *bbolt.Tx) error {
		return get(tx, documentsBucket, id, &doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// GetExtraction retrieves an extraction by ID
func (b *BoltDB) GetExtraction(id string) (*Extraction, error) {
	var ext *Extraction
	err := b.db.View(func(tx *bbolt.Tx) error {
		return get(tx, extractionsBucket, id, &ext)
	})
	if err != nil {
		return nil, err
	}
	return ext, nil
}

// GetRecord retrieves a record by ID
func (b *BoltDB) GetRecord(id string) (*Record, error) {
	var rec *Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		return get(tx, recordsBucket, id, &rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// DocumentIDByHash looks up the document holding a content hash
func (b *BoltDB) DocumentIDByHash(hash string) (string, bool, error) {
	var id string
	err := b.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket([]byte(hashesBucket)).Get([]byte(hash)); v != nil {
			id = string(v)
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return id, id != "", nil
}

func (b *BoltDB) scanRecords(keep func(rec *Record) bool) ([]*Record, error) {
	records := make([]*Record, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(recordsBucket)).ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshaling record: %w", err)
			}
			if keep(&rec) {
				records = append(records, &rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortRecords(records)
	return records, nil
}

// ListRecords returns records matching filter, newest first
func (b *BoltDB) ListRecords(filter RecordFilter) ([]*Record, error) {
	query := strings.ToLower(filter.Query)
	return b.scanRecords(func(rec *Record) bool {
		if filter.Type != "" && rec.Type != filter.Type {
			return false
		}
		return matchesQuery(rec, query)
	})
}

// VendorRecords returns records for a normalized vendor
func (b *BoltDB) VendorRecords(vendorNorm string) ([]*Record, error) {
	return b.scanRecords(func(rec *Record) bool {
		return rec.VendorNorm == vendorNorm
	})
}

// DeleteRecord removes a record from the database
func (b *BoltDB) DeleteRecord(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordsBucket))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("record %s: %w", id, ErrNotFound)
		}
		return bucket.Delete([]byte(id))
	})
}

// DeleteExtraction removes an extraction and clears it from records that point at it
func (b *BoltDB) DeleteExtraction(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(extractionsBucket))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("extraction %s: %w", id, ErrNotFound)
		}
		if err := bucket.Delete([]byte(id)); err != nil {
			return err
		}
		return updateRecords(tx, func(rec *Record) bool {
			if rec.ExtractionID != id {
				return false
			}
			rec.ExtractionID = ""
			return true
		})
	})
}

// DeleteDocument removes a document and everything derived from it
func (b *BoltDB) DeleteDocument(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		var doc Document
		if err := get(tx, documentsBucket, id, &doc); err != nil {
			return err
		}

		if doc.HashSHA256 != "" {
			hashes := tx.Bucket([]byte(hashesBucket))
			if bytes.Equal(hashes.Get([]byte(doc.HashSHA256)), []byte(id)) {
				if err := hashes.Delete([]byte(doc.HashSHA256)); err != nil {
					return err
				}
			}
		}

		if err := deleteWhere(tx, extractionsBucket, func(v []byte) (bool, error) {
			var ext struct {
				DocumentID string `json:"document_id"`
			}
			err := json.Unmarshal(v, &ext)
			return ext.DocumentID == id, err
		}); err != nil {
			return err
		}
		if err := deleteWhere(tx, recordsBucket, func(v []byte) (bool, error) {
			var rec struct {
				DocumentID string `json:"document_id"`
			}
			err := json.Unmarshal(v, &rec)
			return rec.DocumentID == id, err
		}); err != nil {
			return err
		}

		return tx.Bucket([]byte(documentsBucket)).Delete([]byte(id))
	})
}

// deleteWhere collects matching keys first; bolt cursors must not be mutated during ForEach
func deleteWhere(tx *bbolt.Tx, bucket string, match func(v []byte) (bool, error)) error {
	b := tx.Bucket([]byte(bucket))
	var keys [][]byte
	err := b.ForEach(func(k, v []byte) error {
		ok, err := match(v)
		if err != nil {
			return fmt.Errorf("unmarshaling %s: %w", bucket, err)
		}
		if ok {
			keys = append(keys, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func updateRecords(tx *bbolt.Tx, change func(rec *Record) bool) error {
	b := tx.Bucket([]byte(recordsBucket))
	var changed []*Record
	err := b.ForEach(func(k, v []byte) error {
		var rec Record
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("unmarshaling record: %w", err)
		}
		if change(&rec) {
			changed = append(changed, &rec)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, rec := range changed {
		if err := put(tx, recordsBucket, rec.ID, rec); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// sortRecords orders records newest first, breaking ties by id
func sortRecords(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID > records[j].ID
	})
}

func matchesQuery(rec *Record, query string) bool {
	if query == "" {
		return true
	}
	if rec.Fields == nil {
		return false
	}
	data, err := json.Marshal(rec.Fields)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), query)
}
