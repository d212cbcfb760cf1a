package upload

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cubeshell/uploader/internal/status"
	"github.com/cubeshell/uploader/internal/uperrors"
)

// DefaultChunkSize is the fixed transfer unit: 4 MiB.
const DefaultChunkSize int64 = 4 << 20

// Task is one file transfer. It is mutated only by the Worker that owns it;
// other goroutines read it through the atomic accessors.
type Task struct {
	mu          sync.RWMutex
	ID          string        `json:"id"`
	LocalPath   string        `json:"localPath"`
	RemotePath  string        `json:"remotePath"`
	Filename    string        `json:"filename"`
	TotalSize   int64         `json:"totalSize"`
	ChunkSize   int64         `json:"chunkSize"`
	Transferred int64         `json:"transferred"`
	Status      status.Status `json:"status"`
	ErrorDetail string        `json:"error,omitempty"`

	lastErr error
}

// NewTask builds a task for the given file pair. The total size is fixed
// here from the local file; a missing or unreadable file means the task
// never starts.
func NewTask(id, localPath, remotePath string, chunkSize int64) (*Task, error) {
	if id == "" {
		return nil, errors.New("task id cannot be empty")
	}

	info, err := localStat(localPath)
	if err != nil {
		return nil, uperrors.NewLocalFileError(err, localPath)
	}

	if info.IsDir() {
		return nil, uperrors.NewLocalFileError(errors.New("path is a directory"), localPath)
	}

	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	return &Task{
		ID:         id,
		LocalPath:  localPath,
		RemotePath: remotePath,
		Filename:   filepath.Base(localPath),
		TotalSize:  info.Size(),
		ChunkSize:  chunkSize,
		Status:     status.Pending,
	}, nil
}

func (t *Task) MarshalJSON() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	type Alias Task

	return json.Marshal(&struct {
		*Alias

		Status      int32 `json:"status"`
		Transferred int64 `json:"transferred"`
	}{
		Status:      t.GetStatus(),
		Transferred: t.GetTransferred(),
		Alias:       (*Alias)(t),
	})
}

// GetStatus returns the current task status.
func (t *Task) GetStatus() status.Status {
	return atomic.LoadInt32(&t.Status)
}

func (t *Task) setStatus(s status.Status) {
	atomic.StoreInt32(&t.Status, s)
}

// GetTransferred returns the committed byte count.
func (t *Task) GetTransferred() int64 {
	return atomic.LoadInt64(&t.Transferred)
}

func (t *Task) setTransferred(n int64) {
	atomic.StoreInt64(&t.Transferred, n)
}

// Percent returns floor(transferred*100/total). A zero-length task reports
// 100 once it has completed.
func (t *Task) Percent() int {
	total := t.TotalSize
	if total <= 0 {
		if t.GetStatus() == status.Completed {
			return 100
		}

		return 0
	}

	return int(t.GetTransferred() * 100 / total)
}

// GetError returns the failure that terminated the task, if any.
func (t *Task) GetError() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.lastErr
}

func (t *Task) setError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastErr = err
	if err != nil {
		t.ErrorDetail = err.Error()
	}
}
