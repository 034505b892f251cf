package tokens

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/livekit/protocol/livekit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kioskagent/core"
)

type recordingRooms struct {
	mu       sync.Mutex
	requests []*livekit.CreateRoomRequest
	err      error
}

func (r *recordingRooms) CreateRoom(ctx context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return &livekit.Room{Name: req.Name}, r.err
}

func newTestServer(t *testing.T, issuer *Issuer, mutate func(*ServerConfig)) http.Handler {
	t.Helper()
	cfg := DefaultServerConfig()
	cfg.Logger = core.NewNopLogger()
	cfg.RateLimit.CleanupInterval = 0
	if mutate != nil {
		mutate(&cfg)
	}
	srv := NewServer(issuer, cfg)
	t.Cleanup(srv.Close)
	return srv.Routes()
}

func postToken(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/token", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTokenEndpointIssues(t *testing.T) {
	rooms := &recordingRooms{}
	h := newTestServer(t, testIssuer(), func(c *ServerConfig) { c.Rooms = rooms })

	rec := postToken(h, `{"identity":"kiosk-1","roomName":"OPD Lobby"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "opd-lobby", resp.RoomName)
	assert.Equal(t, "kiosk-1", resp.Identity)

	require.Len(t, rooms.requests, 1)
	assert.Equal(t, "opd-lobby", rooms.requests[0].Name)
	assert.EqualValues(t, 300, rooms.requests[0].EmptyTimeout)
}

func TestTokenEndpointIssuesWhenRoomCreateFails(t *testing.T) {
	rooms := &recordingRooms{err: errors.New("twirp error")}
	h := newTestServer(t, testIssuer(), func(c *ServerConfig) { c.Rooms = rooms })

	rec := postToken(h, `{"identity":"kiosk-1","roomName":"lobby"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenEndpointErrors(t *testing.T) {
	tests := []struct {
		name   string
		issuer *Issuer
		body   string
		status int
		msg    string
	}{
		{"missing identity", testIssuer(), `{"roomName":"lobby"}`, http.StatusBadRequest, "identity"},
		{"missing room", testIssuer(), `{"identity":"kiosk"}`, http.StatusBadRequest, "roomName"},
		{"malformed", testIssuer(), `{"identity":`, http.StatusBadRequest, "JSON"},
		{"no credentials", NewIssuer(Config{}), `{"identity":"kiosk","roomName":"lobby"}`, http.StatusInternalServerError, "credentials"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postToken(newTestServer(t, tt.issuer, nil), tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.msg)
		})
	}
}

func TestTokenEndpointRejectsGet(t *testing.T) {
	h := newTestServer(t, testIssuer(), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/token", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		status int
		want   string
	}{
		{"healthy", "wss://kiosk.livekit.cloud", http.StatusOK, "healthy"},
		{"degraded", "", http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, NewIssuer(Config{URL: tt.url}), nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.status, rec.Code)

			var body map[string]interface{}
			require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.want, body["status"])
			assert.Equal(t, serviceName, body["service"])
			assert.Equal(t, tt.status == http.StatusOK, body["livekit"])
			assert.NotEmpty(t, body["timestamp"])
		})
	}
}

func TestTokenEndpointRateLimited(t *testing.T) {
	h := newTestServer(t, testIssuer(), func(c *ServerConfig) {
		c.RateLimit.RequestsPerSecond = 0.001
		c.RateLimit.BurstSize = 2
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, postToken(h, `{"identity":"kiosk","roomName":"lobby"}`).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t, testIssuer(), nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/token", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRoute(t *testing.T) {
	h := newTestServer(t, testIssuer(), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/chat")
}
