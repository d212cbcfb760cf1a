package repository

import (
	"errors"
	"sync"

	"github.com/cubeshell/uploader/internal/upload"
)

// MemoryRepository keeps records in memory. It backs tests and ad-hoc runs
// where resume across process restarts is not needed.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]upload.Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[string]upload.Record),
	}
}

func (r *MemoryRepository) Save(record *upload.Record) error {
	if record == nil {
		return errors.New("cannot save nil record")
	}

	if record.ID == "" {
		return errors.New("record id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[record.ID] = *record

	return nil
}

func (r *MemoryRepository) Load(id string) (*upload.Record, error) {
	if id == "" {
		return nil, errors.New("record id cannot be empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[id]
	if !ok {
		return nil, upload.ErrRecordNotFound
	}

	return &record, nil
}

func (r *MemoryRepository) LoadAll() ([]*upload.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]*upload.Record, 0, len(r.records))

	for _, record := range r.records {
		copied := record
		records = append(records, &copied)
	}

	return records, nil
}

func (r *MemoryRepository) Delete(id string) error {
	if id == "" {
		return errors.New("record id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.records, id)

	return nil
}

func (r *MemoryRepository) Close() error {
	return nil
}
