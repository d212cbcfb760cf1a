package upload

import (
	"errors"
	"time"
)

// ErrRecordNotFound is returned by a RecordStore when no resume record
// exists for a task id.
var ErrRecordNotFound = errors.New("resume record not found")

// Record is the persisted projection of a task, one per task id. It is
// created or updated on every chunk commit and deleted only when the task
// completes; failed and cancelled records are retained so a later run can
// resume.
type Record struct {
	ID          string    `json:"id"`
	RemotePath  string    `json:"remotePath"`
	LocalPath   string    `json:"localPath"`
	FileSize    int64     `json:"fileSize"`
	Fingerprint string    `json:"fileFingerprint"`
	ChunkSize   int64     `json:"chunkSize"`
	Transferred int64     `json:"bytesTransferred"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// RecordStore persists resume records. Save must be atomic: a failed write
// never corrupts a previously saved record. Each task owns exactly one
// record, so Save needs no locking between tasks.
type RecordStore interface {
	Load(id string) (*Record, error)
	Save(record *Record) error
	Delete(id string) error
}

// Matches reports whether the record may seed a resume for the given task
// state. A record written for a different path pair, chunk size or file
// identity is stale.
func (r *Record) Matches(t *Task, fingerprint string) bool {
	return r.LocalPath == t.LocalPath &&
		r.RemotePath == t.RemotePath &&
		r.ChunkSize == t.ChunkSize &&
		r.FileSize == t.TotalSize &&
		r.Fingerprint == fingerprint
}
