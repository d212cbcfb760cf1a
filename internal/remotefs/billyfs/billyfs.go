// Package billyfs adapts a billy.Filesystem to the remotefs capability.
// With osfs it targets a local or mounted directory; with memfs it backs
// tests without touching the disk.
package billyfs

import (
	"fmt"
	"io"
	"os"

	"github.com/go-git/go-billy/v5"

	"github.com/cubeshell/uploader/internal/remotefs"
)

// FS implements remotefs.FS on top of go-billy.
type FS struct {
	fs billy.Filesystem
}

func New(fs billy.Filesystem) *FS {
	return &FS{fs: fs}
}

func (f *FS) Stat(path string) (remotefs.FileInfo, error) {
	info, err := f.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return remotefs.FileInfo{}, remotefs.ErrNotExist
		}

		return remotefs.FileInfo{}, fmt.Errorf("billyfs: stat %q: %w", path, err)
	}

	return remotefs.FileInfo{Size: info.Size()}, nil
}

func (f *FS) MkdirAll(path string) error {
	if err := f.fs.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("billyfs: mkdirall %q: %w", path, err)
	}

	return nil
}

func (f *FS) OpenWrite(path string, offset int64) (io.WriteCloser, error) {
	flag := os.O_WRONLY | os.O_CREATE
	if offset == 0 {
		flag |= os.O_TRUNC
	}

	file, err := f.fs.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("billyfs: openfile %q: %w", path, err)
	}

	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			file.Close()
			return nil, fmt.Errorf("billyfs: seek %q to %d: %w", path, offset, err)
		}
	}

	return file, nil
}
