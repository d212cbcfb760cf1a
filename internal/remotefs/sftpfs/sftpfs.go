// Package sftpfs adapts an already-established *sftp.Client to the remotefs
// capability. The SSH session and its authentication are owned by the caller;
// this package never dials or closes the connection.
package sftpfs

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/sftp"

	"github.com/cubeshell/uploader/internal/remotefs"
)

// FS implements remotefs.FS over an SFTP session.
type FS struct {
	client *sftp.Client
}

func New(client *sftp.Client) *FS {
	return &FS{client: client}
}

func (f *FS) Stat(path string) (remotefs.FileInfo, error) {
	info, err := f.client.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return remotefs.FileInfo{}, remotefs.ErrNotExist
		}

		return remotefs.FileInfo{}, fmt.Errorf("sftpfs: stat %q: %w", path, err)
	}

	return remotefs.FileInfo{Size: info.Size()}, nil
}

func (f *FS) MkdirAll(path string) error {
	if err := f.client.MkdirAll(path); err != nil {
		return fmt.Errorf("sftpfs: mkdirall %q: %w", path, err)
	}

	return nil
}

func (f *FS) OpenWrite(path string, offset int64) (io.WriteCloser, error) {
	flag := os.O_WRONLY | os.O_CREATE
	if offset == 0 {
		flag |= os.O_TRUNC
	}

	file, err := f.client.OpenFile(path, flag)
	if err != nil {
		return nil, fmt.Errorf("sftpfs: openfile %q: %w", path, err)
	}

	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			file.Close()
			return nil, fmt.Errorf("sftpfs: seek %q to %d: %w", path, offset, err)
		}
	}

	return file, nil
}
