// Package engine coordinates batches of upload tasks: it bounds how many
// run at once, routes cancellation, and keeps one task's failure from
// touching its siblings.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/cubeshell/uploader/internal/config"
	"github.com/cubeshell/uploader/internal/events"
	"github.com/cubeshell/uploader/internal/logging"
	"github.com/cubeshell/uploader/internal/remotefs"
	"github.com/cubeshell/uploader/internal/status"
	"github.com/cubeshell/uploader/internal/upload"
	"github.com/cubeshell/uploader/internal/uperrors"
)

var (
	// ErrTaskExists is returned when an id is submitted while a task with
	// the same id is still active.
	ErrTaskExists = errors.New("upload task already active")

	// ErrTaskNotFound is returned when an operation names no active task.
	ErrTaskNotFound = errors.New("upload task not found")

	// ErrNoRemoteFS is returned when uploads are requested before a remote
	// backend has been supplied.
	ErrNoRemoteFS = errors.New("remote filesystem not set")

	// ErrEngineClosed is returned after Close.
	ErrEngineClosed = errors.New("engine is closed")
)

// Request names one file pair in a batch.
type Request struct {
	LocalPath  string
	RemotePath string
}

// Engine owns the set of in-flight tasks. Each task runs on its own
// goroutine; a weighted semaphore bounds how many transfer at once, and
// excess submissions queue until a slot frees.
type Engine struct {
	mu       sync.RWMutex
	cfg      *config.Config
	store    upload.RecordStore
	bus      *events.Bus
	logger   *slog.Logger
	remote   remotefs.FS
	workers  map[string]*upload.Worker
	outcomes map[string]status.Status
	closed   bool

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	ctx        context.Context
	cancelFunc context.CancelFunc
}

// New builds an engine. The remote backend may be supplied later through
// SetRemoteFS for deferred-connection scenarios.
func New(cfg *config.Config, store upload.RecordStore, bus *events.Bus, logger *slog.Logger) *Engine {
	if cfg == nil {
		defaults := config.DefaultConfig()
		cfg = &defaults
	}

	if logger == nil {
		logger = logging.Discard()
	}

	if bus == nil {
		bus = events.NewBus(logger)
	}

	maxConcurrent := cfg.MaxConcurrentUploads
	if maxConcurrent <= 0 {
		maxConcurrent = config.DefaultConfig().MaxConcurrentUploads
	}

	ctx, cancelFunc := context.WithCancel(context.Background())

	return &Engine{
		cfg:        cfg,
		store:      store,
		bus:        bus,
		logger:     logger,
		workers:    make(map[string]*upload.Worker),
		outcomes:   make(map[string]status.Status),
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
		ctx:        ctx,
		cancelFunc: cancelFunc,
	}
}

// Bus exposes the event bus for observer registration.
func (e *Engine) Bus() *events.Bus {
	return e.bus
}

// SetRemoteFS supplies or replaces the remote backend. Unless the
// configuration opts into parallel remote I/O, the backend is wrapped so all
// remote operations are serialized; a single multiplexed session is not
// assumed safe for concurrent use. Running tasks keep the backend they
// started with.
func (e *Engine) SetRemoteFS(fs remotefs.FS) {
	if fs != nil && !e.cfg.ParallelRemoteIO {
		fs = remotefs.Serialized(fs)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.remote = fs
}

// Upload submits one file transfer. A missing or unreadable local file means
// the task never starts: the error is returned and surfaced to observers as
// a failure event.
func (e *Engine) Upload(id, localPath, remotePath string) error {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}

	if e.remote == nil {
		e.mu.Unlock()
		return ErrNoRemoteFS
	}

	if _, active := e.workers[id]; active {
		e.mu.Unlock()
		return ErrTaskExists
	}

	remote := e.remote
	e.mu.Unlock()

	task, err := upload.NewTask(id, localPath, remotePath, upload.DefaultChunkSize)
	if err != nil {
		kind, ok := uperrors.KindOf(err)
		if !ok {
			kind = uperrors.KindLocalFile
		}

		e.bus.PublishFailed(events.FailureEvent{
			TaskID:   id,
			Filename: filepath.Base(localPath),
			Kind:     kind,
			Detail:   err.Error(),
		})

		e.recordOutcome(id, status.Failed)

		return err
	}

	worker := upload.NewWorker(task, remote, e.store, e.bus, e.logger, upload.Config{
		MaxRetries: e.cfg.MaxRetries,
		RetryDelay: e.cfg.RetryDelay,
	})

	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}

	if _, active := e.workers[id]; active {
		e.mu.Unlock()
		return ErrTaskExists
	}

	e.workers[id] = worker
	e.mu.Unlock()

	e.wg.Add(1)

	go e.runWorker(id, worker)

	return nil
}

// BatchUpload submits every entry of the mapping. The returned map carries
// per-id submission errors; transfer outcomes arrive through the event bus
// and Outcomes. One entry failing to submit does not stop the others.
func (e *Engine) BatchUpload(mapping map[string]Request) map[string]error {
	results := make(map[string]error, len(mapping))

	for id, req := range mapping {
		results[id] = e.Upload(id, req.LocalPath, req.RemotePath)
	}

	return results
}

// Cancel requests a cooperative stop for an active task. It returns
// immediately; the worker observes the request at its next chunk boundary.
func (e *Engine) Cancel(id string) error {
	e.mu.RLock()
	worker, ok := e.workers[id]
	e.mu.RUnlock()

	if !ok {
		return ErrTaskNotFound
	}

	worker.Cancel()

	return nil
}

// Status reports the state of a task, active or retired.
func (e *Engine) Status(id string) (status.Status, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if worker, ok := e.workers[id]; ok {
		return worker.Task().GetStatus(), nil
	}

	if s, ok := e.outcomes[id]; ok {
		return s, nil
	}

	return 0, ErrTaskNotFound
}

// Active returns the ids of tasks that have not reached a terminal state.
func (e *Engine) Active() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.workers))
	for id := range e.workers {
		ids = append(ids, id)
	}

	return ids
}

// Outcomes returns the terminal status of every retired task.
func (e *Engine) Outcomes() map[string]status.Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	outcomes := make(map[string]status.Status, len(e.outcomes))
	for id, s := range e.outcomes {
		outcomes[id] = s
	}

	return outcomes
}

// Wait blocks until every submitted task has reached a terminal state.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Close cancels all active tasks and waits for them to retire. Their resume
// records are retained, so a later engine can pick the transfers back up.
func (e *Engine) Close() {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()
		return
	}

	e.closed = true
	e.mu.Unlock()

	e.cancelFunc()
	e.wg.Wait()
}

func (e *Engine) runWorker(id string, worker *upload.Worker) {
	defer e.wg.Done()
	defer e.retire(id, worker)

	if err := e.sem.Acquire(e.ctx, 1); err != nil {
		// engine closed while the task was queued
		worker.Cancel()

		if err := worker.Run(e.ctx); err != nil {
			e.logger.Warn("upload failed", "task", id, "err", err)
		}

		return
	}

	defer e.sem.Release(1)

	if err := worker.Run(e.ctx); err != nil {
		e.logger.Warn("upload failed", "task", id, "err", err)
	}
}

// retire moves a task out of the active set once it is terminal. The same id
// may then be submitted again, which is how a partial upload resumes.
func (e *Engine) retire(id string, worker *upload.Worker) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.workers, id)
	e.outcomes[id] = worker.Task().GetStatus()
}

func (e *Engine) recordOutcome(id string, s status.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.outcomes[id] = s
}
