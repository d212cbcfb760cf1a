// Package events decouples upload workers from progress consumers. Workers
// publish; any number of independently registered observers receive. Events
// from one task arrive in emission order; there is no ordering across tasks.
package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/cubeshell/uploader/internal/logging"
	"github.com/cubeshell/uploader/internal/uperrors"
)

// StartedEvent is published once when a task's transfer loop begins.
type StartedEvent struct {
	TaskID    string
	Filename  string
	TotalSize int64
}

// ProgressEvent carries a whole-percent completion figure, monotonic per task.
type ProgressEvent struct {
	TaskID   string
	Percent  int
	Filename string
}

type CompletionEvent struct {
	TaskID   string
	Filename string
}

type FailureEvent struct {
	TaskID   string
	Filename string
	Kind     uperrors.Kind
	Detail   string
}

// Observer receives upload events. Implementations must tolerate concurrent
// calls for different tasks.
type Observer interface {
	OnStarted(e StartedEvent)
	OnProgress(e ProgressEvent)
	OnCompleted(e CompletionEvent)
	OnFailed(e FailureEvent)
}

// Bus fans events out to subscribed observers. Subscription and
// unsubscription are allowed at any time, including mid-transfer. A panic in
// one observer is recovered and logged; it never reaches the publishing
// worker or the other observers.
type Bus struct {
	mu        sync.RWMutex
	observers map[uuid.UUID]Observer
	logger    *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = logging.Discard()
	}

	return &Bus{
		observers: make(map[uuid.UUID]Observer),
		logger:    logger,
	}
}

// Subscribe registers an observer and returns a token for Unsubscribe.
func (b *Bus) Subscribe(o Observer) uuid.UUID {
	token := uuid.New()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.observers[token] = o

	return token
}

func (b *Bus) Unsubscribe(token uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.observers, token)
}

func (b *Bus) PublishStarted(e StartedEvent) {
	b.each(func(o Observer) { o.OnStarted(e) })
}

func (b *Bus) PublishProgress(e ProgressEvent) {
	b.each(func(o Observer) { o.OnProgress(e) })
}

func (b *Bus) PublishCompleted(e CompletionEvent) {
	b.each(func(o Observer) { o.OnCompleted(e) })
}

func (b *Bus) PublishFailed(e FailureEvent) {
	b.each(func(o Observer) { o.OnFailed(e) })
}

// each delivers synchronously on the publisher's goroutine, which preserves
// per-task emission order.
func (b *Bus) each(deliver func(Observer)) {
	b.mu.RLock()
	snapshot := make([]Observer, 0, len(b.observers))

	for _, o := range b.observers {
		snapshot = append(snapshot, o)
	}
	b.mu.RUnlock()

	for _, o := range snapshot {
		b.deliverSafe(o, deliver)
	}
}

func (b *Bus) deliverSafe(o Observer, deliver func(Observer)) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("observer panicked handling event", "panic", r)
		}
	}()

	deliver(o)
}
