// Package stubapp serves a stand-in for the reading-library web app: a page
// that fetches /api/v2/library and renders either the empty shelf or the
// recommendation card plus a grid of titles.
package stubapp

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"shelfkit/internal/library"
	"shelfkit/internal/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// LibraryPath is the endpoint the page fetches.
const LibraryPath = "/api/v2/library"

//go:embed assets/index.html
var indexHTML []byte

//go:embed assets/app.js
var appJS []byte

// Server is the stub app. The shelf it serves can be swapped at runtime.
type Server struct {
	mu     sync.RWMutex
	shelf  library.Shelf
	hits   int
	log    *zap.Logger
	router chi.Router
}

// New creates a stub app serving shelf.
func New(shelf library.Shelf, logger *zap.Logger) *Server {
	s := &Server{
		shelf: shelf,
		log:   logging.With(logger, logging.CategoryStub),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/", s.handleIndex)
	r.Get("/app.js", s.handleScript)
	r.Get(LibraryPath, s.handleLibrary)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	s.router = r
	return s
}

// SetShelf replaces the shelf served by the library endpoint.
func (s *Server) SetShelf(shelf library.Shelf) {
	s.mu.Lock()
	s.shelf = shelf
	s.mu.Unlock()
}

// Shelf returns the shelf currently served.
func (s *Server) Shelf() library.Shelf {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shelf
}

// Hits returns how many times the library endpoint answered. Requests
// fulfilled by a browser-side mock never reach it.
func (s *Server) Hits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hits
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info("stub app listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	<-errCh
	s.log.Info("stub app stopped")
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(indexHTML)
}

func (s *Server) handleScript(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(appJS)
}

func (s *Server) handleLibrary(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	shelf := s.shelf
	s.hits++
	s.mu.Unlock()

	body, err := shelf.JSON()
	if err != nil {
		s.log.Error("encode shelf", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(body)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
