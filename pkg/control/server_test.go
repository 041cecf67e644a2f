package control

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkelly-oss/kkcode/pkg/state"
)

func newTestServer(t *testing.T) (*Server, *state.Store) {
	t.Helper()
	store, err := state.New(t.TempDir()+"/longagent-state.json", 0)
	require.NoError(t, err)
	return New("", store), store
}

func TestHandleGetSessionNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/sessions/missing", nil)
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)

	assert.Equal(t, 404, w.Code)
}

func TestHandleStopSetsStopRequested(t *testing.T) {
	srv, store := newTestServer(t)
	_, err := store.Update("s1", state.Patch{})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/sessions/s1/stop", nil)
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)

	require.Equal(t, 202, w.Code)

	var got state.SessionState
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.True(t, got.StopRequested)
}

func TestHandleRetryStageRequiresStageID(t *testing.T) {
	srv, store := newTestServer(t)
	_, err := store.Update("s1", state.Patch{})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/sessions/s1/retry-stage", nil)
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)

	assert.Equal(t, 400, w.Code)
}

func TestHandleListSessions(t *testing.T) {
	srv, store := newTestServer(t)
	_, err := store.Update("s1", state.Patch{})
	require.NoError(t, err)
	_, err = store.Update("s2", state.Patch{})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/sessions/", nil)
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	var got []state.SessionState
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Len(t, got, 2)
}

func TestHandleHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
}

func TestStartShutdownRoundtrip(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}
