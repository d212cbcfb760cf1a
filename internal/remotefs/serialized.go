package remotefs

import (
	"io"
	"sync"
)

// Serialized wraps an FS so that at most one remote operation, including
// every write on every opened file, is in flight at a time. Use it when the
// underlying session multiplexes all tasks over a single connection that is
// not safe for concurrent use. Local reads and bookkeeping in callers still
// proceed independently; only the wire operations are funneled.
func Serialized(fs FS) FS {
	if _, ok := fs.(*serializedFS); ok {
		return fs
	}

	return &serializedFS{fs: fs}
}

type serializedFS struct {
	mu sync.Mutex
	fs FS
}

func (s *serializedFS) Stat(path string) (FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.fs.Stat(path)
}

func (s *serializedFS) MkdirAll(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.fs.MkdirAll(path)
}

func (s *serializedFS) OpenWrite(path string, offset int64) (io.WriteCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.fs.OpenWrite(path, offset)
	if err != nil {
		return nil, err
	}

	return &serializedWriter{mu: &s.mu, w: w}, nil
}

type serializedWriter struct {
	mu *sync.Mutex
	w  io.WriteCloser
}

func (w *serializedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.w.Write(p)
}

func (w *serializedWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.w.Close()
}
