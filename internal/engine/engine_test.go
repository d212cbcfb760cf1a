package engine_test

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubeshell/uploader/internal/config"
	"github.com/cubeshell/uploader/internal/engine"
	"github.com/cubeshell/uploader/internal/events"
	"github.com/cubeshell/uploader/internal/remotefs"
	"github.com/cubeshell/uploader/internal/remotefs/billyfs"
	"github.com/cubeshell/uploader/internal/repository"
	"github.com/cubeshell/uploader/internal/status"
	"github.com/cubeshell/uploader/internal/uperrors"
)

// fakeRemote is an in-memory backend with per-path permission failures,
// an optional write gate and concurrency accounting.
type fakeRemote struct {
	mu         sync.Mutex
	files      map[string][]byte
	denyPrefix string
	gate       chan struct{} // writes block here when non-nil
	mkdirGate  chan struct{} // MkdirAll blocks here when non-nil
	writeDelay time.Duration

	active    int
	maxActive int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{files: make(map[string][]byte)}
}

func (f *fakeRemote) Stat(path string) (remotefs.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.files[path]
	if !ok {
		return remotefs.FileInfo{}, remotefs.ErrNotExist
	}

	return remotefs.FileInfo{Size: int64(len(data))}, nil
}

func (f *fakeRemote) MkdirAll(string) error {
	if f.mkdirGate != nil {
		<-f.mkdirGate
	}

	return nil
}

func (f *fakeRemote) OpenWrite(path string, offset int64) (io.WriteCloser, error) {
	if f.denyPrefix != "" && strings.HasPrefix(path, f.denyPrefix) {
		return nil, fmt.Errorf("open %s: %w", path, fs.ErrPermission)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data := f.files[path]
	if offset == 0 {
		data = nil
	} else if int64(len(data)) > offset {
		data = data[:offset]
	}

	f.files[path] = data

	return &fakeWriter{remote: f, path: path}, nil
}

func (f *fakeRemote) content(path string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]byte(nil), f.files[path]...)
}

type fakeWriter struct {
	remote *fakeRemote
	path   string
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	f := w.remote

	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	f.active++

	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()

	if f.writeDelay > 0 {
		time.Sleep(f.writeDelay)
	}

	f.mu.Lock()
	f.files[w.path] = append(f.files[w.path], p...)
	f.active--
	f.mu.Unlock()

	return len(p), nil
}

func (w *fakeWriter) Close() error {
	return nil
}

type collector struct {
	mu        sync.Mutex
	completed []events.CompletionEvent
	failed    []events.FailureEvent
}

func (c *collector) OnStarted(events.StartedEvent)   {}
func (c *collector) OnProgress(events.ProgressEvent) {}

func (c *collector) OnCompleted(e events.CompletionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed = append(c.completed, e)
}

func (c *collector) OnFailed(e events.FailureEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = append(c.failed, e)
}

func writeLocalFile(t *testing.T, name string, size int) string {
	t.Helper()

	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	return path
}

func testConfig() *config.Config {
	return &config.Config{
		MaxConcurrentUploads: 3,
		MaxRetries:           1,
		RetryDelay:           time.Millisecond,
	}
}

func newTestEngine(t *testing.T, cfg *config.Config, remote remotefs.FS) (*engine.Engine, *collector) {
	t.Helper()

	obs := &collector{}
	bus := events.NewBus(nil)
	bus.Subscribe(obs)

	eng := engine.New(cfg, repository.NewMemoryRepository(), bus, nil)
	eng.SetRemoteFS(remote)

	return eng, obs
}

func TestEngineBatchFailureIsolation(t *testing.T) {
	remote := newFakeRemote()
	remote.denyPrefix = "/deny"

	eng, obs := newTestEngine(t, testConfig(), remote)

	results := eng.BatchUpload(map[string]engine.Request{
		"a": {LocalPath: writeLocalFile(t, "a.bin", 5), RemotePath: "/ok/a.bin"},
		"b": {LocalPath: writeLocalFile(t, "b.bin", 6), RemotePath: "/deny/b.bin"},
		"c": {LocalPath: writeLocalFile(t, "c.bin", 7), RemotePath: "/ok/c.bin"},
	})

	for id, err := range results {
		require.NoError(t, err, "submission for %s", id)
	}

	eng.Wait()

	assert.Len(t, obs.completed, 2)
	require.Len(t, obs.failed, 1)
	assert.Equal(t, "b", obs.failed[0].TaskID)
	assert.Equal(t, uperrors.KindPermissionOrSpace, obs.failed[0].Kind)

	outcomes := eng.Outcomes()
	assert.Equal(t, status.Completed, outcomes["a"])
	assert.Equal(t, status.Failed, outcomes["b"])
	assert.Equal(t, status.Completed, outcomes["c"])

	for id, s := range outcomes {
		assert.True(t, status.IsTerminal(s), "retired task %s", id)
	}
}

func TestEngineRejectsDuplicateActiveID(t *testing.T) {
	remote := newFakeRemote()
	remote.gate = make(chan struct{})

	eng, _ := newTestEngine(t, testConfig(), remote)
	local := writeLocalFile(t, "a.bin", 5)

	require.NoError(t, eng.Upload("same", local, "/a.bin"))

	err := eng.Upload("same", local, "/a.bin")
	assert.ErrorIs(t, err, engine.ErrTaskExists)

	close(remote.gate)
	eng.Wait()
}

func TestEngineNoRemoteFS(t *testing.T) {
	eng := engine.New(testConfig(), repository.NewMemoryRepository(), events.NewBus(nil), nil)

	err := eng.Upload("a", "whatever", "/a.bin")
	assert.ErrorIs(t, err, engine.ErrNoRemoteFS)
}

func TestEngineBoundsConcurrency(t *testing.T) {
	remote := newFakeRemote()
	remote.writeDelay = 20 * time.Millisecond

	cfg := testConfig()
	cfg.MaxConcurrentUploads = 1
	cfg.ParallelRemoteIO = true // measure the engine's own bound, not the serializer's

	eng, obs := newTestEngine(t, cfg, remote)

	for i := 0; i < 3; i++ {
		local := writeLocalFile(t, "f.bin", 4)
		require.NoError(t, eng.Upload(fmt.Sprintf("t%d", i), local, fmt.Sprintf("/f%d.bin", i)))
	}

	eng.Wait()

	assert.Len(t, obs.completed, 3)
	assert.Equal(t, 1, remote.maxActive, "at most one transfer at a time")
}

func TestEngineCancel(t *testing.T) {
	remote := newFakeRemote()
	remote.mkdirGate = make(chan struct{})

	eng, obs := newTestEngine(t, testConfig(), remote)
	local := writeLocalFile(t, "a.bin", 5)

	require.NoError(t, eng.Upload("a", local, "/data/a.bin"))

	assert.ErrorIs(t, eng.Cancel("nope"), engine.ErrTaskNotFound)
	require.NoError(t, eng.Cancel("a"))

	close(remote.mkdirGate)
	eng.Wait()

	s, err := eng.Status("a")
	require.NoError(t, err)
	assert.Equal(t, status.Cancelled, s)
	assert.Empty(t, obs.completed)
	assert.Empty(t, remote.content("/data/a.bin"))
}

func TestEngineLocalFileMissing(t *testing.T) {
	remote := newFakeRemote()
	eng, obs := newTestEngine(t, testConfig(), remote)

	err := eng.Upload("gone", filepath.Join(t.TempDir(), "missing.bin"), "/a.bin")
	require.Error(t, err)

	require.Len(t, obs.failed, 1)
	assert.Equal(t, uperrors.KindLocalFile, obs.failed[0].Kind)

	s, serr := eng.Status("gone")
	require.NoError(t, serr)
	assert.Equal(t, status.Failed, s)
}

func TestEngineResubmitAfterTerminal(t *testing.T) {
	remote := newFakeRemote()
	eng, obs := newTestEngine(t, testConfig(), remote)
	local := writeLocalFile(t, "a.bin", 5)

	require.NoError(t, eng.Upload("a", local, "/a.bin"))
	eng.Wait()

	require.NoError(t, eng.Upload("a", local, "/a.bin"), "terminal ids may be submitted again")
	eng.Wait()

	assert.Len(t, obs.completed, 2)
}

func TestEngineUploadOverBilly(t *testing.T) {
	mem := memfs.New()
	eng, obs := newTestEngine(t, testConfig(), billyfs.New(mem))

	local := writeLocalFile(t, "doc.bin", 1000)
	require.NoError(t, eng.Upload("doc", local, "/docs/doc.bin"))
	eng.Wait()

	require.Len(t, obs.completed, 1)

	remoteFile, err := mem.Open("/docs/doc.bin")
	require.NoError(t, err)

	defer remoteFile.Close()

	got, err := io.ReadAll(remoteFile)
	require.NoError(t, err)

	want, err := os.ReadFile(local)
	require.NoError(t, err)

	assert.Equal(t, want, got)
}

func TestEngineCloseRejectsNewWork(t *testing.T) {
	remote := newFakeRemote()
	eng, _ := newTestEngine(t, testConfig(), remote)
	eng.Close()

	err := eng.Upload("a", "whatever", "/a.bin")
	assert.ErrorIs(t, err, engine.ErrEngineClosed)
}
