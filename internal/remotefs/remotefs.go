// Package remotefs defines the minimal capability an upload engine needs
// from a remote file backend. Session establishment, authentication and
// transport belong to the adapter packages and their callers.
package remotefs

import (
	"errors"
	"io"
)

// ErrNotExist is returned by Stat when the remote path is absent.
var ErrNotExist = errors.New("remote file does not exist")

// FileInfo describes a remote file.
type FileInfo struct {
	Size int64
}

// FS is the remote access capability.
//
// OpenWrite must guarantee that written bytes land starting exactly at the
// given offset with no duplication; an offset of zero truncates any existing
// file. MkdirAll is idempotent: an already-existing directory is not an error.
type FS interface {
	Stat(path string) (FileInfo, error)
	MkdirAll(path string) error
	OpenWrite(path string, offset int64) (io.WriteCloser, error)
}
