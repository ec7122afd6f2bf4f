package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dkeye/Huddle/internal/adapters/signal"
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/app/router"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) (*gin.Engine, *app.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := app.NewRegistry(10)
	rt := router.New(reg, app.SimplePolicy{}, router.Options{})
	cfg := &config.Config{Mode: "test", Secret: "test-secret", StaticPath: t.TempDir() + "/none"}
	srv := Server{Registry: reg, Signal: signal.NewSignalWSController(rt, signal.Options{})}
	return SetupRouter(context.Background(), cfg, srv), reg
}

func TestHealthz(t *testing.T) {
	engine, _ := newEngine(t)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","rooms":0,"participants":0}`, w.Body.String())
	assert.Contains(t, w.Header().Get("Set-Cookie"), "ct=")
}

func TestRoomsListing(t *testing.T) {
	engine, reg := newEngine(t)
	reg.Connect("a", "alice")
	created, err := reg.CreateRoom("a", "alice")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Rooms []app.RoomInfo `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Rooms, 1)
	assert.Equal(t, created.Room.ID, body.Rooms[0].ID)
	assert.Equal(t, 1, body.Rooms[0].MemberCount)
}

func TestProfileStoredInSession(t *testing.T) {
	engine, _ := newEngine(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/profile", strings.NewReader(`{"name":"  alice "}`))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"name":"alice"}`, w.Body.String())

	get := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	for _, c := range w.Result().Cookies() {
		get.AddCookie(c)
	}
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, get)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"name":"alice"}`, w.Body.String())
}

func TestProfileRejectsBadNames(t *testing.T) {
	engine, _ := newEngine(t)
	for _, body := range []string{`{"name":""}`, `{"name":"` + strings.Repeat("n", 80) + `"}`, `nope`} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/api/profile", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	engine, _ := newEngine(t)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "huddle_rooms")
}
