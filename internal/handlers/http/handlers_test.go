package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"roomsignal/internal/core/domain"
	"roomsignal/internal/core/ports"
	"roomsignal/internal/core/services"
	"roomsignal/internal/infrastructure/mediaengine/local"
	"roomsignal/internal/infrastructure/middleware"
	"roomsignal/internal/infrastructure/monitoring"
	"roomsignal/pkg/circuitbreaker"
	"roomsignal/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testAPI struct {
	router *gin.Engine
	rooms  ports.RoomService
	auth   ports.AuthService
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop().Sugar()

	engine, err := local.New(local.Config{
		Workers:  2,
		ListenIP: "127.0.0.1",
		MinPort:  40000,
		MaxPort:  40100,
		Codecs:   []string{"opus", "vp8"},
	}, log)
	require.NoError(t, err)

	events := services.NewRoomEventDispatcher(16, log)
	t.Cleanup(events.Close)
	rooms := services.NewRoomService(engine, events, 5, log)
	peers := services.NewPeerService(engine, log)
	orch := services.NewSessionOrchestrator(rooms, peers, engine, log)
	auth := services.NewAuthService("secret", "roomsignal", time.Hour)

	health := monitoring.NewHealthChecker()
	breaker := func() circuitbreaker.State { return circuitbreaker.StateClosed }
	health.AddEngineCheck(engine, breaker)

	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(logger.NewContextLogger(zap.NewNop())))
	NewRoomHandler(rooms, auth, 50).SetupRoutes(router)
	NewMediaHandler(engine, breaker, health, orch).SetupRoutes(router)

	return &testAPI{router: router, rooms: rooms, auth: auth}
}

func (a *testAPI) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func TestRoomHandler_Lifecycle(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodPost, "/api/v1/rooms", `{"id":"standup","title":"Daily standup","maxParticipants":3}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created domain.RoomInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, domain.RoomID("standup"), created.ID)
	assert.Equal(t, "Daily standup", created.Name)
	assert.Equal(t, 3, created.MaxParticipants)
	assert.Zero(t, created.CurrentParticipants)

	w = api.do(http.MethodPost, "/api/v1/rooms", `{"id":"standup"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"CONFLICT"`)

	w = api.do(http.MethodPost, "/api/v1/rooms", `{"title":"defaults"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var defaulted domain.RoomInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &defaulted))
	assert.Equal(t, 5, defaulted.MaxParticipants)
	assert.NotEmpty(t, defaulted.ID)

	w = api.do(http.MethodGet, "/api/v1/rooms", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []domain.RoomInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	w = api.do(http.MethodGet, "/api/v1/rooms/standup", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"currentParticipants":0`)

	w = api.do(http.MethodGet, "/api/v1/rooms/standup/router", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"rtpCapabilities"`)
	assert.Contains(t, w.Body.String(), "audio/opus")

	w = api.do(http.MethodDelete, "/api/v1/rooms/standup", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = api.do(http.MethodGet, "/api/v1/rooms/standup", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"NOT_FOUND"`)
	w = api.do(http.MethodDelete, "/api/v1/rooms/standup", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoomHandler_CreateValidation(t *testing.T) {
	api := newTestAPI(t)

	for _, body := range []string{
		`not json`,
		`{"maxParticipants":-1}`,
		`{"maxParticipants":51}`,
		`{"id":"has spaces"}`,
	} {
		w := api.do(http.MethodPost, "/api/v1/rooms", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Contains(t, w.Body.String(), `"code":"INVALID_INPUT"`, body)
	}
}

func TestRoomHandler_IssueToken(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodPost, "/api/v1/rooms/R/token", `{"displayName":"Alice"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp IssueTokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.RoomID("R"), resp.RoomID)
	assert.True(t, resp.ExpiresAt.After(time.Now()))

	claims, err := api.auth.ValidateJoinToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomID("R"), claims.RoomID)
	assert.Equal(t, "Alice", claims.DisplayName)

	w = api.do(http.MethodPost, "/api/v1/rooms/R/token", `{"displayName":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMediaHandler(t *testing.T) {
	api := newTestAPI(t)
	_, err := api.rooms.CreateRoom(context.Background(), "", 0, "R")
	require.NoError(t, err)

	w := api.do(http.MethodGet, "/api/v1/media/workers", "")
	require.Equal(t, http.StatusOK, w.Code)
	var workers WorkersResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &workers))
	require.Len(t, workers.Workers, 2)
	assert.Equal(t, 1, workers.Workers[0].Routers+workers.Workers[1].Routers)
	assert.Equal(t, "closed", workers.BreakerState)

	w = api.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"connections":0`)

	w = api.do(http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"media_engine":"healthy"`)
}
