// Package server exposes the birthday page, its session WebSocket and the
// operator API over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	"github.com/ayusman/blowout/internal/app"
	"github.com/ayusman/blowout/internal/party"
	"github.com/ayusman/blowout/internal/server/api"
	"github.com/ayusman/blowout/internal/store"
)

// DefaultMaxFrameRate caps the landmark frames accepted per connection.
const DefaultMaxFrameRate = 30

// Config holds the server configuration.
type Config struct {
	Version string
	// Assets holds index.html and assets/. StaticDir, when set, replaces it
	// with a directory on disk.
	Assets    fs.FS
	StaticDir string
	Store     *store.Store
	Sessions  *party.Manager
	// App is the local camera pipeline; nil when the browser supplies
	// landmarks.
	App *app.App
	// MaxFrameRate is the per-connection landmark rate limit.
	MaxFrameRate int
	// PublicURL is encoded in the QR code instead of the request's host.
	PublicURL string
}

// Server is the HTTP surface of the greeting.
type Server struct {
	config Config
	router *httprouter.Router
	start  time.Time
}

// New creates a Server with all routes registered.
func New(config Config) *Server {
	if config.Sessions == nil {
		config.Sessions = party.NewManager(nil)
	}
	if config.MaxFrameRate <= 0 {
		config.MaxFrameRate = DefaultMaxFrameRate
	}
	if config.StaticDir != "" {
		config.Assets = os.DirFS(config.StaticDir)
	}

	s := &Server{
		config: config,
		router: httprouter.New(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.PanicHandler = func(w http.ResponseWriter, req *http.Request, v any) {
		log.Error().Interface("panic", v).Str("path", req.URL.Path).Msg("Handler panicked")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}

	r.GET("/api/health", s.handleHealth)
	r.GET("/version", s.handleVersion)
	r.GET("/api/qr", s.handleQR)
	r.Handler(http.MethodGet, "/api/session/ws", NewSessionHandler(s.config.Sessions, s.config.MaxFrameRate))

	if s.config.Store != nil {
		settings := api.NewSettingsHandler(s.config.Store)
		r.Handler(http.MethodGet, "/api/settings", settings)
		r.Handler(http.MethodPut, "/api/settings", settings)
	}

	if s.config.App != nil {
		r.Handler(http.MethodGet, "/api/stream", NewStreamHandler(s.config.App, s.config.MaxFrameRate))
		r.GET("/api/camera", s.handleCamera)
	}

	if s.config.Assets != nil {
		r.GET("/", s.handleIndex)
		if sub, err := fs.Sub(s.config.Assets, "assets"); err == nil {
			r.ServeFiles("/assets/*filepath", http.FS(sub))
		}
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully and closes every session.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		IdleTimeout:       10 * time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.config.Sessions.CloseAll()
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	response := map[string]any{
		"status":   "ok",
		"uptime":   time.Since(s.start).Round(time.Second).String(),
		"sessions": s.config.Sessions.Len(),
		"camera":   s.config.App != nil,
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("blowout v" + s.config.Version + "\n"))
}

func (s *Server) handleCamera(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.config.App.Stats())
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	data, err := fs.ReadFile(s.config.Assets, "index.html")
	if err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}
