package apiserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsServer exposes the Prometheus registry on its own listener so
// scrapes never mix with API traffic.
type MetricsServer struct {
	address string
}

func NewMetricsServer(address string) *MetricsServer {
	return &MetricsServer{address: address}
}

func (m *MetricsServer) Run(ctx context.Context) error {
	logger := zap.S().Named("metrics_server")

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    m.address,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Infof("serving metrics on %s", m.address)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
