// Package apiserver assembles the HTTP stack: router, middleware chain
// and graceful shutdown.
package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/crmtools/dedup-planner/internal/config"
	v1alpha1 "github.com/crmtools/dedup-planner/internal/handlers/v1alpha1"
	"github.com/crmtools/dedup-planner/internal/service"
	"github.com/crmtools/dedup-planner/pkg/metrics"
	"github.com/crmtools/dedup-planner/pkg/middleware"
)

const gracefulShutdownTimeout = 5 * time.Second

type Server struct {
	cfg      *config.Config
	jobs     *service.JobService
	listener net.Listener
}

func New(cfg *config.Config, jobs *service.JobService, listener net.Listener) *Server {
	return &Server{
		cfg:      cfg,
		jobs:     jobs,
		listener: listener,
	}
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	logger := zap.S().Named("api_server")

	router := chi.NewRouter()

	metricsMiddleware := metrics.NewMiddleware("dedup_planner")
	metricsMiddleware.MustRegisterDefault()

	router.Use(
		metricsMiddleware.Handler,
		cors.Handler(cors.Options{
			AllowedOrigins:   strings.Split(s.cfg.Service.CORSOrigins, ","),
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
			AllowCredentials: false,
		}),
		middleware.RequestID,
		middleware.Logger(),
		chimiddleware.Recoverer,
	)

	v1alpha1.NewServiceHandler(s.jobs).Routes(router)

	srv := &http.Server{
		Addr:    s.cfg.Service.Address,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		logger.Infof("shutdown signal received: %s", ctx.Err())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Infof("serving api on %s", s.listener.Addr())
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
