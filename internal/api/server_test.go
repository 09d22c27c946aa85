package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/preroll-recorder/internal/datastore"
	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/recording"
	"github.com/tphakala/preroll-recorder/internal/session"
)

type fakeRecorder struct {
	mu        sync.Mutex
	recording bool
	restarts  []string
	stopCtxOK bool
}

func (f *fakeRecorder) ManualStart(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recording {
		return errors.ErrAlreadyRecording
	}
	f.recording = true
	return nil
}

func (f *fakeRecorder) ManualStop(ctx context.Context) (*session.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.recording {
		return nil, errors.ErrNotRecording
	}
	f.recording = false
	_, f.stopCtxOK = ctx.Deadline()
	meta := session.New("/sessions/2026-10-17_20-15-03", time.Date(2026, 10, 17, 20, 15, 3, 0, time.UTC))
	meta.DurationSecs = 12.5
	return meta, nil
}

func (f *fakeRecorder) Status() recording.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := recording.Status{State: recording.StateIdle, MIDIDevices: []string{"Keystation 49"}}
	if f.recording {
		st.State = recording.StateRecording
	}
	return st
}

func (f *fakeRecorder) Levels() []recording.Level {
	return []recording.Level{{Device: "Scarlett 2i2", RMS: 0.12, Peak: 0.4}}
}

func (f *fakeRecorder) restart(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recording {
		return errors.New(errors.ErrAlreadyRecording).
			Component("recording").
			Category(errors.CategoryState).
			Build()
	}
	f.restarts = append(f.restarts, name)
	return nil
}

func (f *fakeRecorder) RestartMIDI() error                 { return f.restart("midi") }
func (f *fakeRecorder) RestartAudio() error                { return f.restart("audio") }
func (f *fakeRecorder) RestartVideo(context.Context) error { return f.restart("video") }

func newTestServer(t *testing.T) (*Server, *fakeRecorder, *datastore.Store) {
	t.Helper()
	store, err := datastore.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rec := &fakeRecorder{}
	srv := New(DefaultConfig(),
		WithRecorder(rec),
		WithSessions(store),
		WithMetrics(promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})),
		WithVersion("test"))
	return srv, rec, store
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, http.NoBody)
	}
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, "idle", body["recorder_state"])
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartStopFlow(t *testing.T) {
	t.Parallel()
	srv, fr, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/recording/start", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, recording.StateRecording, decode[recording.Status](t, rec).State)

	rec = do(t, srv, http.MethodPost, "/api/v1/recording/start", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	errResp := decode[ErrorResponse](t, rec)
	assert.Equal(t, http.StatusConflict, errResp.Code)
	assert.Len(t, errResp.CorrelationID, 8)

	rec = do(t, srv, http.MethodPost, "/api/v1/recording/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stop := decode[StopResponse](t, rec)
	require.NotNil(t, stop.Session)
	assert.InDelta(t, 12.5, stop.Session.DurationSecs, 1e-9)
	assert.True(t, fr.stopCtxOK, "stop runs with a deadline")

	rec = do(t, srv, http.MethodPost, "/api/v1/recording/stop", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStatusAndLevels(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/v1/recording/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[recording.Status](t, rec)
	assert.Equal(t, recording.StateIdle, st.State)
	assert.Equal(t, []string{"Keystation 49"}, st.MIDIDevices)

	rec = do(t, srv, http.MethodGet, "/api/v1/recording/levels", "")
	require.Equal(t, http.StatusOK, rec.Code)
	levels := decode[[]recording.Level](t, rec)
	require.Len(t, levels, 1)
	assert.Equal(t, "Scarlett 2i2", levels[0].Device)
}

func TestRestartPipeline(t *testing.T) {
	t.Parallel()
	srv, fr, _ := newTestServer(t)

	for _, p := range []string{"midi", "audio", "video"} {
		rec := do(t, srv, http.MethodPost, "/api/v1/recording/restart/"+p, "")
		assert.Equal(t, http.StatusOK, rec.Code, p)
	}
	assert.Equal(t, []string{"midi", "audio", "video"}, fr.restarts)

	rec := do(t, srv, http.MethodPost, "/api/v1/recording/restart/tape", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	do(t, srv, http.MethodPost, "/api/v1/recording/start", "")
	rec = do(t, srv, http.MethodPost, "/api/v1/recording/restart/audio", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "restart refused while recording")
}

func TestSessionEndpoints(t *testing.T) {
	t.Parallel()
	srv, _, store := newTestServer(t)
	ctx := t.Context()

	older := session.New("/s/a", time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC))
	older.AudioFiles = []session.AudioFile{{Filename: "recording.flac", Device: "Scarlett 2i2"}}
	newer := session.New("/s/b", time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC))
	newer.MIDIFiles = []session.MIDIFile{{Filename: "midi_Keystation_49.mid", Device: "Keystation 49", EventCount: 12}}
	require.NoError(t, store.SaveSession(ctx, older))
	require.NoError(t, store.SaveSession(ctx, newer))

	rec := do(t, srv, http.MethodGet, "/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]session.Summary](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID, "newest first")

	rec = do(t, srv, http.MethodGet, "/api/v1/sessions?audio=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[[]session.Summary](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, older.ID, list[0].ID)

	rec = do(t, srv, http.MethodGet, "/api/v1/sessions?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, srv, http.MethodGet, "/api/v1/sessions?midi=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/sessions/"+newer.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	meta := decode[session.Metadata](t, rec)
	require.Len(t, meta.MIDIFiles, 1)
	assert.Equal(t, "midi_Keystation_49.mid", meta.MIDIFiles[0].Filename)

	rec = do(t, srv, http.MethodPut, "/api/v1/sessions/"+newer.ID+"/favorite", `{"favorite":true}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, srv, http.MethodPut, "/api/v1/sessions/"+newer.ID+"/notes", `{"notes":"nice take"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, err := store.GetSession(ctx, newer.ID)
	require.NoError(t, err)
	assert.True(t, got.IsFavorite)
	assert.Equal(t, "nice take", got.Notes)

	rec = do(t, srv, http.MethodGet, "/api/v1/sessions?favorites=true", "")
	assert.Len(t, decode[[]session.Summary](t, rec), 1)

	rec = do(t, srv, http.MethodDelete, "/api/v1/sessions/"+older.ID, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/sessions/"+older.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, srv, http.MethodPut, "/api/v1/sessions/missing/favorite", `{"favorite":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutesOmittedWithoutComponents(t *testing.T) {
	t.Parallel()
	srv := New(nil)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/v1/recording/status", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/v1/sessions", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/metrics", "").Code)
}

func TestStartAndShutdown(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	srv := New(cfg)
	require.NoError(t, srv.Start())

	resp, err := http.Get("http://" + srv.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(t.Context()))
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	notFound := errors.Newf("missing").Category(errors.CategoryNotFound).Build()
	tests := []struct {
		err  error
		want int
	}{
		{errors.ErrAlreadyRecording, http.StatusConflict},
		{errors.ErrBusy, http.StatusConflict},
		{errors.ErrNoDevices, http.StatusUnprocessableEntity},
		{notFound, http.StatusNotFound},
		{errors.NewStd("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
