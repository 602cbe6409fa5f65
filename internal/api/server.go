package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/davral/epiring/internal/overlay"
	"github.com/davral/epiring/pkg"
	"github.com/davral/epiring/pkg/hash"
)

// Server exposes the node's HTTP API: key/value access, ring inspection,
// explicit lookups, and a WebSocket feed of overlay events.
type Server struct {
	node       *overlay.Node
	httpServer *http.Server
	wsHub      *WebSocketHub
	logger     *pkg.Logger
}

// NewServer creates a new HTTP API server for the given overlay node.
func NewServer(node *overlay.Node, logger *pkg.Logger) (*Server, error) {
	if node == nil {
		return nil, fmt.Errorf("node cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	return &Server{
		node:   node,
		wsHub:  NewWebSocketHub(logger),
		logger: logger.WithFields(pkg.Fields{"component": "http_api"}),
	}, nil
}

// Hub returns the WebSocket hub so it can be attached to the node as its
// event broadcaster.
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Start starts the HTTP server.
func (s *Server) Start(port int) error {
	go s.wsHub.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("GET /api/ring", s.ringHandler)
	mux.HandleFunc("GET /api/lookup/{key}", s.lookupHandler)
	mux.HandleFunc("GET /api/kv/{key}", s.getHandler)
	mux.HandleFunc("PUT /api/kv/{key}", s.setHandler)
	mux.HandleFunc("DELETE /api/kv/{key}", s.deleteHandler)
	mux.HandleFunc("/api/ws", s.wsHub.HandleWebSocket)

	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      corsMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().
		Int("port", port).
		Msg("Starting HTTP API server")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping HTTP API server")

	if s.wsHub != nil {
		s.wsHub.Stop()
	}

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}

	s.logger.Info().Msg("HTTP API server stopped")
	return nil
}

// handleInfo is one peer in a JSON response.
type handleInfo struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

func toHandleInfo(h *overlay.NodeHandle) *handleInfo {
	if h.IsNil() {
		return nil
	}
	return &handleInfo{ID: h.ID.Text(16), Address: h.Address()}
}

type ringInfo struct {
	Self         *handleInfo  `json:"self"`
	Predecessors []handleInfo `json:"predecessors"`
	Successors   []handleInfo `json:"successors"`
	CachedNodes  int          `json:"cached_nodes"`
	StoredKeys   int          `json:"stored_keys"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ringHandler(w http.ResponseWriter, r *http.Request) {
	predecessors, successors := s.node.Neighbors()

	info := ringInfo{
		Self:        toHandleInfo(s.node.Handle()),
		CachedNodes: s.node.CacheStats(),
		StoredKeys:  s.node.StorageStats().Entries,
	}
	for _, h := range predecessors {
		if hi := toHandleInfo(h); hi != nil {
			info.Predecessors = append(info.Predecessors, *hi)
		}
	}
	for _, h := range successors {
		if hi := toHandleInfo(h); hi != nil {
			info.Successors = append(info.Successors, *hi)
		}
	}

	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) lookupHandler(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		s.writeError(w, http.StatusBadRequest, "missing key")
		return
	}

	target := hash.HashString(key)
	siblings, err := s.node.Lookup(r.Context(), target)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	out := struct {
		Target   string       `json:"target"`
		Siblings []handleInfo `json:"siblings"`
	}{Target: target.Text(16)}
	for _, h := range siblings {
		if hi := toHandleInfo(h); hi != nil {
			out.Siblings = append(out.Siblings, *hi)
		}
	}

	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) getHandler(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	value, found, err := s.node.Get(r.Context(), key)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "key not found")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(value)
}

func (s *Server) setHandler(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	value, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var ttl time.Duration
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		ttl, err = time.ParseDuration(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid ttl")
			return
		}
	}

	if err := s.node.Set(r.Context(), key, value, ttl); err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

func (s *Server) deleteHandler(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	if err := s.node.Delete(r.Context(), key); err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// corsMiddleware adds CORS headers to responses.
func corsMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}
