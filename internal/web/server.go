// Package web exposes the HTTP surface of wsmon: the WebSocket
// subscription endpoint, the config discovery endpoint and the static
// web UI bundle.
package web

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"wsmon/internal/hub"
	"wsmon/pkg/config"
)

// Server registers WebSocket subscribers and serves the frontend.
type Server struct {
	cfg      *config.ServerConfig
	registry *hub.Registry
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// New creates a Server that registers accepted connections with registry.
func New(cfg *config.ServerConfig, registry *hub.Registry, log zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		log:      log,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.originAllowed,
	}
	return s
}

// Handler builds the HTTP mux: WebSocket endpoint, config discovery,
// static mounts and the root index document.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(config.WSPath, s.handleWebSocket)
	mux.HandleFunc("/config.json", s.handleConfig)
	mux.HandleFunc("/", s.handleRoot)

	// Mount static subdirectories only when they exist, mirroring the
	// frontend bundle layout.
	for _, sub := range []string{"scripts", "styles", "assets"} {
		dir := filepath.Join(s.cfg.StaticDir, sub)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			prefix := "/" + sub + "/"
			mux.Handle(prefix, http.StripPrefix(prefix, http.FileServer(http.Dir(dir))))
		}
	}

	return s.corsMiddleware(mux)
}

// originAllowed checks the request Origin against the configured
// allow-list. Requests without an Origin header (CLI clients, curl)
// are accepted; "*" in the list allows any origin.
func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// corsMiddleware adds cross-origin headers for allow-listed origins and
// answers preflight requests.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "*")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleWebSocket accepts one subscriber: upgrade, register, then block
// reading and discarding inbound frames purely to detect peer
// disconnect. Every exit path removes the connection from the registry.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error (including origin rejections).
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	conn := newWSConn(ws)
	s.registry.Add(conn)
	s.log.Info().
		Str("conn_id", conn.id).
		Str("remote", conn.remote).
		Msg("Client connected")

	defer func() {
		s.registry.Remove(conn)
		conn.Close()
		s.log.Info().
			Str("conn_id", conn.id).
			Str("remote", conn.remote).
			Msg("Client disconnected")
	}()

	// The protocol carries no meaningful client→server payload.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Str("conn_id", conn.id).Msg("Read error")
			}
			return
		}
	}
}

// handleConfig returns the WebSocket URL for the frontend to fetch
// dynamically at startup.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"wsUrl": s.cfg.WSURL()})
}

// handleRoot serves the index document, or a JSON 404 when the bundle
// has no index.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	indexPath := filepath.Join(s.cfg.StaticDir, "index.html")
	if info, err := os.Stat(indexPath); err == nil && !info.IsDir() {
		http.ServeFile(w, r, indexPath)
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "index.html not found"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
