package upload

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cubeshell/uploader/internal/events"
	"github.com/cubeshell/uploader/internal/logging"
	"github.com/cubeshell/uploader/internal/remotefs"
	"github.com/cubeshell/uploader/internal/status"
	"github.com/cubeshell/uploader/internal/uperrors"
)

var ErrAlreadyStarted = errors.New("upload already started")

// Config tunes one worker's transfer loop.
type Config struct {
	MaxRetries int
	RetryDelay time.Duration
}

func (c Config) normalized() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}

	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}

	return c
}

// Worker transfers exactly one task to a terminal state, producing a
// byte-identical remote copy of the local file. It owns the task and its
// resume record; nothing else mutates either while the worker runs.
type Worker struct {
	task   *Task
	remote remotefs.FS
	store  RecordStore
	bus    *events.Bus
	logger *slog.Logger
	cfg    Config

	started   atomic.Bool
	cancelled atomic.Bool
	cancelMu  sync.Mutex
	cancel    context.CancelFunc
}

func NewWorker(task *Task, remote remotefs.FS, store RecordStore, bus *events.Bus, logger *slog.Logger, cfg Config) *Worker {
	if logger == nil {
		logger = logging.Discard()
	}

	return &Worker{
		task:   task,
		remote: remote,
		store:  store,
		bus:    bus,
		logger: logger,
		cfg:    cfg.normalized(),
	}
}

// Task returns the task this worker owns.
func (w *Worker) Task() *Task {
	return w.task
}

// Cancel requests a cooperative stop. It never interrupts an in-flight
// chunk; the worker observes it before the next chunk begins. Safe to call
// before Run, while the task is still queued.
func (w *Worker) Cancel() {
	w.cancelled.Store(true)

	w.cancelMu.Lock()
	defer w.cancelMu.Unlock()

	if w.cancel != nil {
		w.cancel()
	}
}

// Run drives the chunk loop to a terminal status. It returns an error only
// when the task failed; completion and cancellation return nil, with the
// task status telling them apart.
func (w *Worker) Run(parent context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(parent)

	w.cancelMu.Lock()
	w.cancel = cancel
	w.cancelMu.Unlock()

	defer cancel()

	if w.cancelled.Load() {
		cancel()
	}

	return w.finish(w.run(ctx))
}

func (w *Worker) run(ctx context.Context) error {
	t := w.task

	if err := ctx.Err(); err != nil {
		return uperrors.NewCancelledError(err, t.RemotePath)
	}

	info, err := localStat(t.LocalPath)
	if err != nil {
		return uperrors.NewLocalFileError(err, t.LocalPath)
	}

	fp := Fingerprint(info)

	local, err := os.Open(t.LocalPath)
	if err != nil {
		return uperrors.NewLocalFileError(err, t.LocalPath)
	}

	defer func() {
		if err := local.Close(); err != nil {
			w.logger.Warn("failed to close local file", "path", t.LocalPath, "err", err)
		}
	}()

	offset := w.resumeOffset(fp)

	if dir := path.Dir(t.RemotePath); dir != "" && dir != "." && dir != "/" {
		if err := w.withRetries(ctx, dir, func() error { return w.remote.MkdirAll(dir) }); err != nil {
			return err
		}
	}

	t.setStatus(status.InProgress)
	t.setTransferred(offset)
	w.bus.PublishStarted(events.StartedEvent{TaskID: t.ID, Filename: t.Filename, TotalSize: t.TotalSize})

	if t.TotalSize == 0 {
		// still creates the (empty) remote file
		if err := w.withRetries(ctx, t.RemotePath, func() error { return w.writeChunk(nil, 0) }); err != nil {
			return err
		}

		w.bus.PublishProgress(events.ProgressEvent{TaskID: t.ID, Percent: 100, Filename: t.Filename})

		return nil
	}

	buf := make([]byte, t.ChunkSize)

	for offset < t.TotalSize {
		if ctx.Err() != nil {
			return uperrors.NewCancelledError(ctx.Err(), t.RemotePath)
		}

		n := t.ChunkSize
		if remaining := t.TotalSize - offset; remaining < n {
			n = remaining
		}

		rn, err := local.ReadAt(buf[:n], offset)
		if int64(rn) != n {
			if err == nil || errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}

			return uperrors.NewLocalFileError(err, t.LocalPath)
		}

		chunkOffset := offset
		if err := w.withRetries(ctx, t.RemotePath, func() error { return w.writeChunk(buf[:n], chunkOffset) }); err != nil {
			return err
		}

		offset += n
		t.setTransferred(offset)
		w.saveRecord(fp, offset)
		w.bus.PublishProgress(events.ProgressEvent{TaskID: t.ID, Percent: t.Percent(), Filename: t.Filename})
	}

	return nil
}

// resumeOffset decides where the transfer starts. A record resumes only when
// its fingerprint matches the current local file and the remote copy already
// holds at least that many bytes; anything else is stale and discarded.
func (w *Worker) resumeOffset(fp string) int64 {
	t := w.task

	rec, err := w.store.Load(t.ID)
	if err != nil {
		if !errors.Is(err, ErrRecordNotFound) {
			w.logger.Warn("failed to load resume record", "task", t.ID, "err", err)
		}

		return 0
	}

	if rec.Matches(t, fp) {
		if info, err := w.remote.Stat(t.RemotePath); err == nil && info.Size >= rec.Transferred {
			w.logger.Debug("resuming upload", "task", t.ID, "offset", rec.Transferred)
			return rec.Transferred
		}
	}

	w.logger.Debug("discarding stale resume record", "task", t.ID,
		"reason", uperrors.NewResumeMismatchError(errors.New("record no longer matches local file"), t.LocalPath))

	if err := w.store.Delete(t.ID); err != nil {
		w.logger.Warn("failed to delete stale resume record", "task", t.ID, "err", err)
	}

	return 0
}

// writeChunk opens the remote file at the chunk's offset, writes the chunk
// and closes it. A short write without an error is never treated as success.
func (w *Worker) writeChunk(data []byte, offset int64) error {
	wtr, err := w.remote.OpenWrite(w.task.RemotePath, offset)
	if err != nil {
		return err
	}

	if len(data) > 0 {
		n, err := wtr.Write(data)
		if err != nil {
			wtr.Close()
			return err
		}

		if n != len(data) {
			wtr.Close()
			return io.ErrShortWrite
		}
	}

	return wtr.Close()
}

func (w *Worker) withRetries(ctx context.Context, opPath string, op func() error) error {
	var lastErr error

	for attempt := 0; attempt < w.cfg.MaxRetries; attempt++ {
		err := op()
		if err == nil {
			return nil
		}

		if uperrors.IsCancelled(err) {
			return uperrors.NewCancelledError(err, opPath)
		}

		classified := uperrors.Classify(err, opPath)
		if !classified.Retryable {
			return classified
		}

		lastErr = classified
		if attempt+1 == w.cfg.MaxRetries {
			break
		}

		backoff := calculateBackoff(attempt, w.cfg.RetryDelay)
		w.logger.Debug("retrying remote operation", "path", opPath, "attempt", attempt+1, "backoff", backoff, "err", err)

		select {
		case <-ctx.Done():
			return uperrors.NewCancelledError(ctx.Err(), opPath)
		case <-time.After(backoff):
		}
	}

	return lastErr
}

func (w *Worker) saveRecord(fp string, transferred int64) {
	t := w.task

	rec := &Record{
		ID:          t.ID,
		RemotePath:  t.RemotePath,
		LocalPath:   t.LocalPath,
		FileSize:    t.TotalSize,
		Fingerprint: fp,
		ChunkSize:   t.ChunkSize,
		Transferred: transferred,
		UpdatedAt:   time.Now(),
	}

	if err := w.store.Save(rec); err != nil {
		w.logger.Warn("failed to save resume record", "task", t.ID, "err", err)
	}
}

func (w *Worker) finish(err error) error {
	t := w.task

	switch {
	case err == nil:
		t.setStatus(status.Completed)

		if derr := w.store.Delete(t.ID); derr != nil && !errors.Is(derr, ErrRecordNotFound) {
			w.logger.Warn("failed to delete resume record", "task", t.ID, "err", derr)
		}

		w.bus.PublishCompleted(events.CompletionEvent{TaskID: t.ID, Filename: t.Filename})

		return nil

	case uperrors.IsCancelled(err):
		// record retained so a later run can resume
		t.setStatus(status.Cancelled)
		return nil

	default:
		t.setStatus(status.Failed)
		t.setError(err)

		kind, ok := uperrors.KindOf(err)
		if !ok {
			kind = uperrors.Classify(err, t.RemotePath).Kind
		}

		w.bus.PublishFailed(events.FailureEvent{TaskID: t.ID, Filename: t.Filename, Kind: kind, Detail: err.Error()})

		return err
	}
}
