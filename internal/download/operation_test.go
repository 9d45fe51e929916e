package download

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "psadiag/internal/errors"
	"psadiag/internal/logger"
	"psadiag/internal/progress"
)

func payload(size int) []byte {
	return bytes.Repeat([]byte("psa"), size/3+1)[:size]
}

func newTestOperation(t *testing.T, url string, opts ...Option) (*Operation, string, *logger.MockLogger) {
	t.Helper()
	dest := filepath.Join(t.TempDir(), "pkg", "09.125.7z")
	log := logger.NewMockLogger()
	opts = append([]Option{WithChunkSize(1024), WithFlushEvery(1)}, opts...)
	return New(Target{URL: url, Destination: dest}, log, opts...), dest, log
}

func collect(op *Operation) ([]Event, Result) {
	var events []Event
	for ev := range op.Events() {
		events = append(events, ev)
	}
	return events, <-op.Result()
}

func TestDownloadCompletesWithDeclaredSize(t *testing.T) {
	body := payload(10 * 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	op, dest, _ := newTestOperation(t, srv.URL)
	op.Start(context.Background())
	events, res := collect(op)

	require.Equal(t, StateCompleted, res.State, res.Message)
	assert.True(t, res.OK())
	assert.Equal(t, int64(len(body)), res.Bytes)
	assert.Equal(t, int64(len(body)), res.Total)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), info.Size())

	require.NotEmpty(t, events)
	last := -1
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.Report.Permille, last)
		last = ev.Report.Permille
	}
	assert.Equal(t, progress.PermilleDone, events[len(events)-1].Report.Permille)
	assert.Equal(t, "00:00", events[len(events)-1].Report.ETA)
}

func TestDownloadUnknownSize(t *testing.T) {
	body := payload(4 * 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 4; i++ {
			_, _ = w.Write(body[i*1024 : (i+1)*1024])
			flusher.Flush()
		}
	}))
	defer srv.Close()

	op, dest, _ := newTestOperation(t, srv.URL)
	op.Start(context.Background())
	events, res := collect(op)

	require.Equal(t, StateCompleted, res.State, res.Message)
	assert.Zero(t, res.Total)
	for _, ev := range events {
		assert.Equal(t, progress.PermilleUnknown, ev.Report.Permille)
		assert.Contains(t, ev.Report.ETA, "MB")
	}

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, body, data)
}

func TestDownloadUsesClock(t *testing.T) {
	body := payload(2 * 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	var mu sync.Mutex
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}

	op, _, _ := newTestOperation(t, srv.URL, WithClock(tick))
	op.Start(context.Background())
	_, res := collect(op)

	require.Equal(t, StateCompleted, res.State, res.Message)
	assert.GreaterOrEqual(t, res.Elapsed, time.Second)
	assert.Zero(t, res.Elapsed%time.Second)
}

func TestDownloadCancelRemovesDestination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(1<<20))
		_, _ = w.Write(payload(4096))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	op, dest, _ := newTestOperation(t, srv.URL)
	op.Start(context.Background())

	select {
	case <-op.Events():
	case <-time.After(5 * time.Second):
		t.Fatal("no progress event")
	}
	op.Cancel()

	_, res := collect(op)
	assert.Equal(t, StateCancelled, res.State)
	assert.Contains(t, res.Message, "cancelled")
	_, err := os.Stat(dest)
	assert.True(t, os.IsNotExist(err), "partial file must be removed")
}

func TestDownloadContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload(2048))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	op, dest, _ := newTestOperation(t, srv.URL)
	op.Start(ctx)
	<-op.Events()
	cancel()

	_, res := collect(op)
	assert.Equal(t, StateCancelled, res.State)
	assert.NoFileExists(t, dest)
}

func TestDownloadPauseResume(t *testing.T) {
	body := payload(8 * 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	op, dest, _ := newTestOperation(t, srv.URL)
	require.True(t, op.Pause())
	assert.False(t, op.Pause(), "already paused")
	op.Start(context.Background())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StatePaused, op.State())
	assert.Empty(t, op.Events(), "no chunk may be read while paused")

	require.True(t, op.Resume())
	_, res := collect(op)

	require.Equal(t, StateCompleted, res.State, res.Message)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, body, data)
}

func TestDownloadCancelWhilePaused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload(8 * 1024))
	}))
	defer srv.Close()

	op, dest, _ := newTestOperation(t, srv.URL)
	op.Pause()
	op.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	op.Cancel()

	_, res := collect(op)
	assert.Equal(t, StateCancelled, res.State)
	assert.NoFileExists(t, dest)
}

func TestDownloadHTTPStatusFailures(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusForbidden, "403"},
		{http.StatusNotFound, "not found"},
		{http.StatusInternalServerError, "internal error"},
		{http.StatusBadGateway, "502"},
		{http.StatusServiceUnavailable, "temporarily unavailable"},
		{http.StatusTeapot, "rejected (HTTP 418)"},
		{http.StatusGatewayTimeout, "HTTP 504"},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			op, dest, log := newTestOperation(t, srv.URL)
			res := op.Run(context.Background())

			assert.Equal(t, StateFailed, res.State)
			assert.Contains(t, res.Message, tt.want)
			assert.True(t, apperrors.HasCode(res.Err, apperrors.CodeHTTPStatus))
			assert.NoFileExists(t, dest)
			assert.True(t, log.HasEntry(logger.LevelError, "download failed"))
		})
	}
}

func TestDownloadTruncatedBodyFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10000")
		_, _ = w.Write(payload(5000))
	}))
	defer srv.Close()

	op, _, _ := newTestOperation(t, srv.URL)
	res := op.Run(context.Background())

	assert.Equal(t, StateFailed, res.State)
	assert.Less(t, res.Bytes, int64(10000))
}

func TestDownloadConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	op, _, _ := newTestOperation(t, url)
	res := op.Run(context.Background())

	assert.Equal(t, StateFailed, res.State)
	assert.Contains(t, res.Message, "could not connect")
	assert.True(t, apperrors.HasCode(res.Err, apperrors.CodeTransfer))
}

type missingAfterWrite struct {
	OSFileSystem
}

func (missingAfterWrite) Stat(string) (os.FileInfo, error) {
	return nil, os.ErrNotExist
}

func TestDownloadMissingFileAfterTransfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload(100))
	}))
	defer srv.Close()

	op, _, _ := newTestOperation(t, srv.URL, WithFileSystem(missingAfterWrite{}))
	res := op.Run(context.Background())

	assert.Equal(t, StateFailed, res.State)
	assert.Contains(t, res.Message, "missing")
}

func TestTerminalStateIsFinal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload(100))
	}))
	defer srv.Close()

	op, _, _ := newTestOperation(t, srv.URL)
	res := op.Run(context.Background())
	require.Equal(t, StateCompleted, res.State)

	assert.False(t, op.Pause())
	assert.False(t, op.Resume())
	op.Cancel()
	assert.Equal(t, StateCompleted, op.State())

	again := op.Run(context.Background())
	assert.Equal(t, StateCompleted, again.State)
	assert.Equal(t, "download already started", again.Message)
}

func TestRemoteSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Length", "123456")
	}))
	defer srv.Close()

	size, err := RemoteSize(context.Background(), NewHTTPClient(time.Second), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(123456), size)
}

func TestStateMachine(t *testing.T) {
	var m stateMachine
	assert.Equal(t, StateRunning, m.load())
	assert.True(t, m.move(StateRunning, StatePaused))
	assert.True(t, m.finish(StateCompleted))
	assert.False(t, m.finish(StateFailed))
	assert.False(t, m.move(StateCompleted, StateRunning))
	assert.Equal(t, "completed", m.load().String())
}

func TestStateMachineSettle(t *testing.T) {
	tests := []struct {
		name  string
		from  State
		to    State
		ok    bool
		final State
	}{
		{"running completes", StateRunning, StateCompleted, true, StateCompleted},
		{"paused resumes before completing", StatePaused, StateCompleted, true, StateCompleted},
		{"paused resumes before failing", StatePaused, StateFailed, true, StateFailed},
		{"cancelled stays cancelled", StateCancelled, StateCompleted, false, StateCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m stateMachine
			m.v.Store(int32(tt.from))
			assert.Equal(t, tt.ok, m.settle(tt.to))
			assert.Equal(t, tt.final, m.load())
		})
	}
}

// pauseOnStat pauses the transfer after the body has been read completely.
type pauseOnStat struct {
	OSFileSystem
	op **Operation
}

func (f pauseOnStat) Stat(path string) (os.FileInfo, error) {
	(*f.op).Pause()
	return f.OSFileSystem.Stat(path)
}

func TestDownloadPausedAfterBodyStillCompletes(t *testing.T) {
	body := payload(2048)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	var op *Operation
	op, _, _ = newTestOperation(t, srv.URL, WithFileSystem(pauseOnStat{op: &op}))
	res := op.Run(context.Background())

	assert.Equal(t, StateCompleted, res.State, res.Message)
	assert.Equal(t, StateCompleted, op.State())
	assert.False(t, op.Pause())
}
