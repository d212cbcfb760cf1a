package events_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubeshell/uploader/internal/events"
	"github.com/cubeshell/uploader/internal/uperrors"
)

type recordingObserver struct {
	mu       sync.Mutex
	order    []string
	percents []int
}

func (r *recordingObserver) OnStarted(e events.StartedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, "started:"+e.TaskID)
}

func (r *recordingObserver) OnProgress(e events.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, "progress:"+e.TaskID)
	r.percents = append(r.percents, e.Percent)
}

func (r *recordingObserver) OnCompleted(e events.CompletionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, "completed:"+e.TaskID)
}

func (r *recordingObserver) OnFailed(e events.FailureEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, "failed:"+e.TaskID)
}

type panickyObserver struct{}

func (panickyObserver) OnStarted(events.StartedEvent)     { panic("boom") }
func (panickyObserver) OnProgress(events.ProgressEvent)   { panic("boom") }
func (panickyObserver) OnCompleted(events.CompletionEvent) { panic("boom") }
func (panickyObserver) OnFailed(events.FailureEvent)      { panic("boom") }

func TestBusDeliversInEmissionOrder(t *testing.T) {
	bus := events.NewBus(nil)
	obs := &recordingObserver{}
	bus.Subscribe(obs)

	bus.PublishStarted(events.StartedEvent{TaskID: "a", Filename: "f", TotalSize: 10})
	bus.PublishProgress(events.ProgressEvent{TaskID: "a", Percent: 40, Filename: "f"})
	bus.PublishProgress(events.ProgressEvent{TaskID: "a", Percent: 80, Filename: "f"})
	bus.PublishCompleted(events.CompletionEvent{TaskID: "a", Filename: "f"})

	assert.Equal(t, []string{"started:a", "progress:a", "progress:a", "completed:a"}, obs.order)
	assert.Equal(t, []int{40, 80}, obs.percents)
}

func TestBusFansOutToAllObservers(t *testing.T) {
	bus := events.NewBus(nil)
	first := &recordingObserver{}
	second := &recordingObserver{}
	bus.Subscribe(first)
	bus.Subscribe(second)

	bus.PublishFailed(events.FailureEvent{TaskID: "x", Filename: "f", Kind: uperrors.KindConnectivity, Detail: "reset"})

	assert.Equal(t, []string{"failed:x"}, first.order)
	assert.Equal(t, []string{"failed:x"}, second.order)
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := events.NewBus(nil)
	obs := &recordingObserver{}
	token := bus.Subscribe(obs)

	bus.PublishProgress(events.ProgressEvent{TaskID: "a", Percent: 10, Filename: "f"})
	bus.Unsubscribe(token)
	bus.PublishProgress(events.ProgressEvent{TaskID: "a", Percent: 20, Filename: "f"})

	assert.Equal(t, []int{10}, obs.percents)
}

func TestBusObserverPanicIsIsolated(t *testing.T) {
	bus := events.NewBus(nil)
	healthy := &recordingObserver{}
	bus.Subscribe(panickyObserver{})
	bus.Subscribe(healthy)

	require.NotPanics(t, func() {
		bus.PublishStarted(events.StartedEvent{TaskID: "a", Filename: "f", TotalSize: 1})
		bus.PublishCompleted(events.CompletionEvent{TaskID: "a", Filename: "f"})
	})

	assert.Equal(t, []string{"started:a", "completed:a"}, healthy.order)
}

func TestBusConcurrentPublishers(t *testing.T) {
	bus := events.NewBus(nil)
	obs := &recordingObserver{}
	bus.Subscribe(obs)

	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for p := 0; p < 10; p++ {
				bus.PublishProgress(events.ProgressEvent{TaskID: "t", Percent: p, Filename: "f"})
			}
		}()
	}

	wg.Wait()

	assert.Len(t, obs.percents, 80)
}
