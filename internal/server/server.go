package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger
}

// New creates the HTTP server shell the relay handlers mount into.
// allowedOrigin optionally exposes the routes cross-origin; when set, the
// allowed methods and headers are enumerated explicitly because responses
// may carry credentials-scoped correlation headers. Empty means same-origin
// only (no CORS headers at all).
func New(port int, logger *slog.Logger, allowedOrigin string) *Server {
	r := chi.NewRouter()

	// Apply middleware in order
	r.Use(CorrIDMiddleware)
	r.Use(LoggingMiddleware(logger))

	if allowedOrigin != "" {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{allowedOrigin},
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Content-Type", CorrIDHeader},
			ExposedHeaders: []string{CorrIDHeader},
			MaxAge:         300,
		}))
	}

	// Generous ceiling: streamed turns stay open well past a buffered call
	r.Use(TimeoutMiddleware(120 * time.Second))
	r.Use(middleware.Recoverer)

	// Wrap with OpenTelemetry HTTP instrumentation
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "askrelay")
	})

	return &Server{
		Router: r,
		Port:   port,
		logger: logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting server", slog.Int("port", s.Port))
	return http.ListenAndServe(fmt.Sprintf(":%d", s.Port), s.Router)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.Port),
		Handler: s.Router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", slog.Int("port", s.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	}
}
