package web

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hpungsan/almanac/internal/errors"
	"github.com/hpungsan/almanac/internal/ops"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// NewServer creates the HTTP server for the history API and pages.
func NewServer(svc *ops.HistoryService, database *sql.DB, logger *zap.Logger, version, bind string, port int) (*http.Server, error) {
	router, err := NewRouter(svc, database, logger, version)
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

// NewRouter builds the route tree. Split from NewServer for tests.
func NewRouter(svc *ops.HistoryService, database *sql.DB, logger *zap.Logger, version string) (http.Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Strip the "templates/" and "static/" prefixes.
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("template sub-FS: %w", err)
	}
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("static sub-FS: %w", err)
	}

	renderer, err := NewRenderer(templateSub, version, logger)
	if err != nil {
		return nil, err
	}
	h := &Handlers{
		db:       database,
		svc:      svc,
		renderer: renderer,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(securityHeaders)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		renderer.renderError(w, req, errors.NewNotFound("route", req.URL.Path))
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/capsules", http.StatusFound)
	})
	r.Get("/healthz", h.HandleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/capsules", h.HandleList)
	r.Get("/capsules/{id}/history", h.HandleHistoryPage)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServerFS(staticSub)))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/capsules", h.HandleList)
		r.Post("/capsules", h.HandleCreateCapsule)
		r.Post("/history/refresh-stale", h.HandleRefreshStale)

		r.Route("/capsules/{id}", func(r chi.Router) {
			r.Post("/members", h.HandleAddMember)
			r.Post("/posts", h.HandleAddPost)
			r.Get("/history", h.HandleGetHistory)
			r.Put("/history/prompt", h.HandleUpdatePrompt)
			r.Delete("/history/pins/{pinID}", h.HandleRemovePin)

			r.Route("/history/{period}", func(r chi.Router) {
				r.Post("/publish", h.HandlePublish)
				r.Post("/pins", h.HandleAddPin)
				r.Post("/exclusions", h.HandleAddExclusion)
				r.Delete("/exclusions/{postID}", h.HandleRemoveExclusion)
				r.Patch("/settings", h.HandleUpdateSettings)
				r.Post("/refine", h.HandleRefine)
			})
		})
	})

	return r, nil
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request at debug level.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// Run serves until ctx is cancelled, then shuts the server down gracefully.
func Run(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("almanac server running", zap.String("addr", "http://"+srv.Addr))
	if strings.HasPrefix(srv.Addr, "0.0.0.0") || strings.HasPrefix(srv.Addr, "[::]") || strings.HasPrefix(srv.Addr, ":") {
		logger.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
