// Package apiserver is the thin HTTP/JSON surface in front of the
// controller: submit/list/get over REST, JWT bearer auth, per-client rate
// limiting, and a websocket event stream of dispatch results. None of the
// intent-to-enforcement logic lives here — every request is a call into
// the core pipeline the caller constructs and wires in (see
// cmd/server/main.go).
package apiserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ibsfleet/controller/internal/dispatch"
	"github.com/ibsfleet/controller/internal/intent"
	"github.com/ibsfleet/controller/internal/logging"
	"github.com/ibsfleet/controller/internal/policy"
	"github.com/ibsfleet/controller/internal/security"
	"github.com/ibsfleet/controller/internal/store"
)

// Pipeline is the core the API surface calls into: parse, generate, dispatch.
type Pipeline interface {
	Parse(directive string) (*intent.ParsedIntent, error)
	Generate(pi *intent.ParsedIntent) ([]policy.Policy, error)
	Dispatch(ctx context.Context, policies []policy.Policy) []dispatch.Result
}

// Server is the HTTP/JSON API surface over Pipeline plus Store.
type Server struct {
	pipeline Pipeline
	store    *store.Store
	jwt      *security.JWTHandler
	limiter  *security.RateLimiter
	logger   *logging.Logger
	server   *http.Server

	upgrader websocket.Upgrader
	mu       sync.Mutex
	subs     map[*websocket.Conn]chan []byte
}

// Config configures the listener; Host/Port mirror config.ServerConfig.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	EventStreamPath string
}

// New returns a Server wired to pipeline/store/jwt/limiter.
func New(cfg Config, pipeline Pipeline, st *store.Store, jwt *security.JWTHandler, limiter *security.RateLimiter, logger *logging.Logger) *Server {
	s := &Server{
		pipeline: pipeline,
		store:    st,
		jwt:      jwt,
		limiter:  limiter,
		logger:   logger,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		subs:     map[*websocket.Conn]chan []byte{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/login", s.handleLogin)
	mux.HandleFunc("/api/v1/directives", s.authed(s.handleDirectives))
	mux.HandleFunc("/api/v1/directives/", s.authed(s.handleDirectiveByID))
	mux.HandleFunc("/api/v1/policies", s.authed(s.handlePolicies))
	eventPath := cfg.EventStreamPath
	if eventPath == "" {
		eventPath = "/api/v1/events"
	}
	mux.HandleFunc(eventPath, s.authed(s.handleEvents))

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  orDefault(cfg.ReadTimeout, 10*time.Second),
		WriteTimeout: orDefault(cfg.WriteTimeout, 10*time.Second),
	}
	return s
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Start begins serving in the background, reporting listener errors on errc.
func (s *Server) Start(errc chan<- error) {
	go func() {
		s.logger.WithField("addr", s.server.Addr).Info("api server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// authed wraps h with bearer-token validation and per-client rate limiting.
func (s *Server) authed(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		claims, err := s.jwt.ValidateToken(token)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if s.limiter != nil && !s.limiter.Allow(claims.UserID) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		h(w, r)
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(auth, prefix) {
		return strings.TrimPrefix(auth, prefix)
	}
	return ""
}

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	token, err := s.jwt.GenerateToken(req.UserID, req.Role, 24*time.Hour)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type submitRequest struct {
	Directive string `json:"directive"`
}

type submitResponse struct {
	ID      string               `json:"id"`
	Intent  *intent.ParsedIntent `json:"intent"`
	Results []resultView         `json:"results"`
}

type resultView struct {
	PolicyID   string `json:"policy_id"`
	PolicyType string `json:"policy_type"`
	Target     string `json:"target"`
	Success    bool   `json:"success"`
}

func (s *Server) handleDirectives(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.submit(w, r)
	case http.MethodGet:
		s.list(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Directive) == "" {
		http.Error(w, "bad request: missing directive", http.StatusBadRequest)
		return
	}

	pi, err := s.pipeline.Parse(req.Directive)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	policies, err := s.pipeline.Generate(pi)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	results := s.pipeline.Dispatch(r.Context(), policies)

	id := uuid.New().String()
	s.store.Put(id, store.Record{Directive: req.Directive, Intent: *pi, Results: results, CreatedAt: time.Now()})
	s.broadcast(id, results)

	resp := submitResponse{ID: id, Intent: pi}
	for _, res := range results {
		resp.Results = append(resp.Results, resultView{
			PolicyID: res.Policy.ID, PolicyType: string(res.Policy.Type),
			Target: res.Policy.TargetDevice, Success: res.Success,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.List())
}

func (s *Server) handleDirectiveByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/directives/")
	rec, ok := s.store.Get(id)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePolicies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.ListPolicies())
}

// handleEvents upgrades to a websocket and streams a JSON line per
// dispatched directive, as a plain broadcast feed (not JSON-RPC).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	ch := make(chan []byte, 16)
	s.mu.Lock()
	s.subs[conn] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subs, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for msg := range ch {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (s *Server) broadcast(directiveID string, results []dispatch.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) == 0 {
		return
	}

	event := map[string]interface{}{
		"directive_id": directiveID,
		"results":      results,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	for _, ch := range s.subs {
		select {
		case ch <- data:
		default:
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
