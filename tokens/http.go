package tokens

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/livekit/protocol/livekit"

	"kioskagent/core"
)

const (
	serviceName     = "kiosk-token-server"
	maxRequestBytes = 16 << 10
)

// RoomCreator is satisfied by the LiveKit room service client.
type RoomCreator interface {
	CreateRoom(ctx context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error)
}

type ServerConfig struct {
	AllowedOrigins []string
	RateLimit      RateLimiterConfig
	// Rooms, when set, creates each room with RoomConfig before the token
	// is issued so empty rooms expire on the kiosk timeout.
	Rooms  RoomCreator
	Logger *core.Logger
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		RateLimit:      DefaultRateLimiterConfig(),
	}
}

type Server struct {
	issuer  *Issuer
	config  ServerConfig
	logger  *core.Logger
	limiter *RateLimiter
	started time.Time
}

func NewServer(issuer *Issuer, config ServerConfig) *Server {
	logger := config.Logger
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Server{
		issuer:  issuer,
		config:  config,
		logger:  logger.With(map[string]interface{}{"component": "token-server"}),
		limiter: NewRateLimiter(config.RateLimit),
		started: time.Now(),
	}
}

// Routes builds the router: GET /, GET /health and POST /api/token.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.With(s.limiter.Middleware).Post("/token", s.handleToken)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Not Found", Path: r.URL.Path, Method: r.Method})
	})
	return r
}

// Close releases the rate limiter.
func (s *Server) Close() {
	s.limiter.Close()
}

type errorResponse struct {
	Error  string `json:"error"`
	Path   string `json:"path,omitempty"`
	Method string `json:"method,omitempty"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	LiveKit   bool   `json:"livekit"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": serviceName,
		"version": Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := LiveKitHealthy(s.issuer.URL())
	resp := healthResponse{
		Status:    "healthy",
		Service:   serviceName,
		Version:   Version,
		LiveKit:   healthy,
		Uptime:    formatUptime(time.Since(s.started)),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "could not read request body"})
		return
	}
	var req Request
	if err := sonic.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "request body must be a JSON object"})
		return
	}
	if err := ValidateRequest(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if s.config.Rooms != nil && s.issuer.Configured() {
		if _, err := s.config.Rooms.CreateRoom(r.Context(), RoomConfig(RoomOptions{RoomName: req.RoomName})); err != nil {
			s.logger.Warn("create room failed, issuing token anyway", "room", req.RoomName, "error", err)
		}
	}

	resp, err := s.issuer.Issue(req)
	switch {
	case errors.Is(err, ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	case errors.Is(err, ErrNotConfigured):
		s.logger.Error("token requested without livekit credentials")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "LiveKit credentials not configured"})
		return
	case err != nil:
		s.logger.Error("token generation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to generate token"})
		return
	}

	s.logger.Info("token issued", "identity", resp.Identity, "room", resp.RoomName)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := sonic.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"encode response"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
