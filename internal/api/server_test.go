package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/MixedView/internal/config"
	"github.com/bryanchriswhite/MixedView/internal/flags"
	"github.com/bryanchriswhite/MixedView/internal/output"
	"github.com/bryanchriswhite/MixedView/internal/viewer"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedStatus viewer.Status

func (s fixedStatus) Status() viewer.Status { return viewer.Status(s) }

type fakeDisplay struct{}

func (fakeDisplay) IsRunning() bool     { return true }
func (fakeDisplay) GetWindowID() uint32 { return 42 }

func newServer(t *testing.T, opts ...Option) (*Server, *config.Manager, *flags.Store) {
	t.Helper()
	mgr, err := config.NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	store := flags.New()
	return NewServer(mgr, store, opts...), mgr, store
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	s, _, _ := newServer(t)
	rec := get(t, s, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestFlagsEndpoints(t *testing.T) {
	s, _, store := newServer(t)
	store.Set(flags.CameraFPS, 139.5)
	store.Set(flags.CameraSource, "dummy")

	rec := get(t, s, "/api/flags")
	var all map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Equal(t, 139.5, all[flags.CameraFPS])
	assert.Equal(t, "dummy", all[flags.CameraSource])

	rec = get(t, s, "/api/flags/CAMERA_FPS")
	require.Equal(t, http.StatusOK, rec.Code)
	var one flags.Change
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, flags.CameraFPS, one.Key)
	assert.Equal(t, 139.5, one.Value)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/flags/NOPE").Code)
}

func TestCaptureStatus(t *testing.T) {
	s, _, _ := newServer(t)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s, "/api/capture/status").Code)

	s, _, _ = newServer(t, WithStatus(fixedStatus{Source: "webcam", Delivered: 7, Running: true}))
	rec := get(t, s, "/api/capture/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var st viewer.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "webcam", st.Source)
	assert.Equal(t, uint64(7), st.Delivered)
}

func TestConfigRoundTrip(t *testing.T) {
	s, mgr, _ := newServer(t)

	rec := get(t, s, "/api/config")
	var cfg config.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, config.DriverAuto, cfg.Camera.Driver)

	body := strings.NewReader(`{"camera":{"driver":"dummy"}}`)
	put := httptest.NewRecorder()
	s.Handler().ServeHTTP(put, httptest.NewRequest(http.MethodPut, "/api/config", body))
	require.Equal(t, http.StatusOK, put.Code, put.Body.String())
	assert.Equal(t, config.DriverDummy, mgr.Get().Camera.Driver)
	assert.Equal(t, 8080, mgr.Get().ServerPort, "fields absent from the body are kept")

	bad := httptest.NewRecorder()
	s.Handler().ServeHTTP(bad, httptest.NewRequest(http.MethodPut, "/api/config",
		bytes.NewBufferString(`{"camera":{"driver":"escapi"}}`)))
	assert.Equal(t, http.StatusBadRequest, bad.Code)
	assert.Equal(t, config.DriverDummy, mgr.Get().Camera.Driver)
}

func TestDisplayStatus(t *testing.T) {
	s, _, _ := newServer(t)
	var body map[string]any
	require.NoError(t, json.Unmarshal(get(t, s, "/api/display/status").Body.Bytes(), &body))
	assert.Equal(t, false, body["enabled"])

	s, _, _ = newServer(t, WithDisplay(fakeDisplay{}))
	require.NoError(t, json.Unmarshal(get(t, s, "/api/display/status").Body.Bytes(), &body))
	assert.Equal(t, true, body["running"])
	assert.Equal(t, float64(42), body["window_id"])
}

func TestIndexWithoutMirror(t *testing.T) {
	s, _, _ := newServer(t)
	rec := get(t, s, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "MixedView")
	assert.Equal(t, http.StatusNotFound, get(t, s, "/stream").Code)
}

func TestMirrorRoutes(t *testing.T) {
	m := output.NewMJPEGOutput(output.Config{Width: 64, Height: 32, FPS: 10})
	s, _, _ := newServer(t, WithMJPEG(m))

	rec := get(t, s, "/stream/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"running":false`)

	rec = get(t, s, "/")
	assert.Contains(t, rec.Body.String(), `src="/stream"`)
}

// The flag feed sends a snapshot on connect and then every change.
func TestFlagStream(t *testing.T) {
	s, _, store := newServer(t)
	store.Set(flags.CameraSource, "dummy")

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/flags/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var snapshot map[string]any
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, "dummy", snapshot[flags.CameraSource])

	// the subscription is registered before the snapshot is written
	store.Set(flags.CameraError, "dummy camera: unplugged")

	var change flags.Change
	require.NoError(t, conn.ReadJSON(&change))
	assert.Equal(t, flags.CameraError, change.Key)
	assert.Equal(t, "dummy camera: unplugged", change.Value)
}
