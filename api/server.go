package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"property-feed-sync/utils"
)

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Addr         string
	Secret       string
	MaxBodyBytes int64
}

// Server exposes the ingestion endpoint and health checks.
type Server struct {
	router chi.Router
	cfg    ServerConfig
	logger *utils.Logger
}

// NewServer builds the router. health may be nil.
func NewServer(ingester Ingester, health *HealthChecker, cfg ServerConfig, logger *utils.Logger) *Server {
	if health == nil {
		health = NewHealthChecker(nil, logger)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", health.HandleHealth)
	r.Get("/health/ready", health.HandleReadiness)

	ingest := &ingestHandler{ingester: ingester, maxBody: cfg.MaxBodyBytes, logger: logger}
	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(cfg.Secret, logger))
		r.Method(http.MethodPost, "/api/feeds/ingest", ingest)
		r.Method(http.MethodPost, "/api/hektor-webhook", ingest)
	})

	return &Server{router: r, cfg: cfg, logger: logger}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("[api] Listening on %s", s.cfg.Addr)
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

	s.logger.Info("[api] Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// requestLogger logs one line per request with its id, status and latency.
func requestLogger(logger *utils.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("[api] %s %s %d %dB %v req=%s",
				r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(),
				time.Since(start).Round(time.Millisecond), middleware.GetReqID(r.Context()))
		})
	}
}
