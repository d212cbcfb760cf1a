package repository

import "github.com/cubeshell/uploader/internal/upload"

// Repository persists resume records. It extends upload.RecordStore with
// lifecycle management for backends that hold resources.
type Repository interface {
	upload.RecordStore
	LoadAll() ([]*upload.Record, error)
	Close() error
}
