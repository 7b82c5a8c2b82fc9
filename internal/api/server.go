package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bryanchriswhite/MixedView/internal/config"
	"github.com/bryanchriswhite/MixedView/internal/flags"
	"github.com/bryanchriswhite/MixedView/internal/logger"
	"github.com/bryanchriswhite/MixedView/internal/output"
	"github.com/bryanchriswhite/MixedView/internal/viewer"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// StatusProvider reports the capture session.
type StatusProvider interface {
	Status() viewer.Status
}

// Display is the part of the mirror window the API reports on.
type Display interface {
	IsRunning() bool
	GetWindowID() uint32
}

// Option configures a Server.
type Option func(*Server)

// WithStatus serves the capture status from p.
func WithStatus(p StatusProvider) Option {
	return func(s *Server) { s.status = p }
}

// WithMJPEG mounts the MJPEG mirror at /stream.
func WithMJPEG(m *output.MJPEGOutput) Option {
	return func(s *Server) { s.mjpeg = m }
}

// WithDisplay reports on the X11 mirror window.
func WithDisplay(d Display) Option {
	return func(s *Server) { s.display = d }
}

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	configMgr *config.Manager
	flags     *flags.Store
	status    StatusProvider
	mjpeg     *output.MJPEGOutput
	display   Display
	upgrader  websocket.Upgrader
	http      *http.Server
}

// NewServer creates a new API server
func NewServer(configMgr *config.Manager, store *flags.Store, opts ...Option) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		configMgr: configMgr,
		flags:     store,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // the API is bound to the local machine
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Observability flags. The stream route must precede {key}.
	api.HandleFunc("/flags", s.handleGetFlags).Methods("GET")
	api.HandleFunc("/flags/stream", s.handleFlagStream)
	api.HandleFunc("/flags/{key}", s.handleGetFlag).Methods("GET")

	// Capture session
	api.HandleFunc("/capture/status", s.handleCaptureStatus).Methods("GET")

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config", s.handleUpdateConfig).Methods("PUT")

	// Mirror window
	api.HandleFunc("/display/status", s.handleDisplayStatus).Methods("GET")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.mjpeg != nil {
		s.router.HandleFunc("/stream", s.mjpeg.GetHTTPHandler()).Methods("GET")
		s.router.HandleFunc("/stream/stats", s.mjpeg.GetStatsHandler()).Methods("GET")
		s.router.HandleFunc("/", s.mjpeg.GetViewerHandler()).Methods("GET")
	} else {
		s.router.HandleFunc("/", s.handleIndex).Methods("GET")
	}
}

// Handler returns the router wrapped with CORS headers.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until Shutdown is called. It returns nil at once when Shutdown
// already ran.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http.Addr = addr
	logger.WithComponent("api").Info().Str("addr", "http://localhost"+addr).Msg("Starting server")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for handlers until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HTTP Handlers

func (s *Server) handleGetFlags(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.flags.Snapshot())
}

func (s *Server) handleGetFlag(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	v, ok := s.flags.Load(key)
	if !ok {
		http.Error(w, fmt.Sprintf("flag %q not set", key), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, flags.Change{Key: key, Value: v})
}

// handleFlagStream sends the current flags, then one message per change.
func (s *Server) handleFlagStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	updates := s.flags.Subscribe()
	defer s.flags.Unsubscribe(updates)

	if err := conn.WriteJSON(s.flags.Snapshot()); err != nil {
		log.Debug().Err(err).Msg("WebSocket write failed")
		return
	}

	// the read side only exists to notice the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case change, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(change); err != nil {
				log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		}
	}
}

func (s *Server) handleCaptureStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		http.Error(w, "no capture session", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.status.Status())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.configMgr.Get()
	if err := json.NewDecoder(r.Body).Decode(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.configMgr.Update(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleDisplayStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"enabled":   false,
		"running":   false,
		"window_id": 0,
	}

	if s.display != nil {
		status["enabled"] = true
		status["running"] = s.display.IsRunning()
		status["window_id"] = s.display.GetWindowID()
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>MixedView</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Ubuntu, sans-serif;
            max-width: 800px;
            margin: 50px auto;
            padding: 20px;
            background: #f5f5f5;
        }
        .container {
            background: white;
            padding: 30px;
            border-radius: 8px;
            box-shadow: 0 2px 4px rgba(0,0,0,0.1);
        }
        h1 { color: #333; margin-top: 0; }
        a { color: #1976d2; text-decoration: none; }
        a:hover { text-decoration: underline; }
    </style>
</head>
<body>
    <div class="container">
        <h1>MixedView</h1>
        <p>The MJPEG mirror is disabled. Enable <code>mirror.mjpeg.enabled</code> to watch the camera here.</p>
        <h3>API Endpoints:</h3>
        <ul>
            <li><a href="/api/health">/api/health</a> - Server health check</li>
            <li><a href="/api/capture/status">/api/capture/status</a> - Capture session</li>
            <li><a href="/api/flags">/api/flags</a> - Observability flags</li>
            <li><a href="/api/config">/api/config</a> - Configuration</li>
        </ul>
    </div>
</body>
</html>`
