package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/cubeshell/uploader/internal/upload"
)

const (
	recordsBucket  = "records"
	metadataBucket = "metadata"
	schemaVersion  = 1
)

// BboltRepository stores one resume record per task id as a keyed row.
// bbolt transactions make every Save atomic: a failed write never corrupts
// the previously saved record.
type BboltRepository struct {
	db *bbolt.DB
}

// NewBboltRepository opens (or creates) the record database at dbPath.
func NewBboltRepository(dbPath string) (*BboltRepository, error) {
	options := &bbolt.Options{
		Timeout: 1 * time.Second,
	}

	db, err := bbolt.Open(dbPath, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := &BboltRepository{
		db: db,
	}

	if err := repo.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return repo, nil
}

// initialize sets up buckets and schema
func (r *BboltRepository) initialize() error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(recordsBucket))
		if err != nil {
			return fmt.Errorf("failed to create records bucket: %w", err)
		}

		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return fmt.Errorf("failed to create metadata bucket: %w", err)
		}

		versionBytes := []byte(fmt.Sprintf("%d", schemaVersion))

		err = meta.Put([]byte("schema_version"), versionBytes)
		if err != nil {
			return fmt.Errorf("failed to store schema version: %w", err)
		}

		return nil
	})
}

// Save persists a resume record, replacing any previous one for the same id.
func (r *BboltRepository) Save(record *upload.Record) error {
	if record == nil {
		return errors.New("cannot save nil record")
	}

	if record.ID == "" {
		return errors.New("record id cannot be empty")
	}

	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordsBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", recordsBucket)
		}

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}

		err = bucket.Put([]byte(record.ID), data)
		if err != nil {
			return fmt.Errorf("failed to save record: %w", err)
		}

		return nil
	})
}

// Load retrieves the resume record for a task id.
func (r *BboltRepository) Load(id string) (*upload.Record, error) {
	if id == "" {
		return nil, errors.New("record id cannot be empty")
	}

	var data []byte

	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordsBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", recordsBucket)
		}

		raw := bucket.Get([]byte(id))
		if raw == nil {
			return upload.ErrRecordNotFound
		}

		data = append(data, raw...)

		return nil
	})
	if err != nil {
		return nil, err
	}

	record := &upload.Record{}

	if err := json.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	return record, nil
}

// LoadAll retrieves every stored resume record.
func (r *BboltRepository) LoadAll() ([]*upload.Record, error) {
	var records []*upload.Record

	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordsBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", recordsBucket)
		}

		return bucket.ForEach(func(k, v []byte) error {
			record := &upload.Record{}

			if err := json.Unmarshal(v, record); err != nil {
				return fmt.Errorf("failed to unmarshal record: %w", err)
			}

			records = append(records, record)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// Delete removes a record. Deleting an absent id is not an error; the engine
// discards stale records without checking for their existence first.
func (r *BboltRepository) Delete(id string) error {
	if id == "" {
		return errors.New("record id cannot be empty")
	}

	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(recordsBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", recordsBucket)
		}

		return bucket.Delete([]byte(id))
	})
}

// Close closes the database
func (r *BboltRepository) Close() error {
	return r.db.Close()
}
