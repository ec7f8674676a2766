package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/groundwire/orchestrator/infrastructure/logging"
	"github.com/groundwire/orchestrator/infrastructure/metrics"
	"github.com/groundwire/orchestrator/infrastructure/middleware"
)

// route describes a single endpoint with an optional method guard.
type route struct {
	pattern string
	method  string
	handler http.HandlerFunc
}

// mountRoutes attaches the provided routes to router, wrapping handlers with
// method enforcement when a method is specified.
func mountRoutes(router *mux.Router, routes ...route) {
	for _, rt := range routes {
		if rt.pattern == "" || rt.handler == nil {
			continue
		}
		handler := rt.handler
		if rt.method != "" {
			handler = withMethod(rt.method, handler)
		}
		router.HandleFunc(rt.pattern, handler)
	}
}

// NewRouter builds the HTTP surface: gorilla/mux for path templates, layered
// with recovery, logging, and metrics middleware (outermost first).
func NewRouter(serviceName string, logger *logging.Logger, m *metrics.Metrics, routes ...route) *mux.Router {
	router := mux.NewRouter()
	mountRoutes(router, routes...)

	recovery := middleware.NewRecoveryMiddleware(logger)
	router.Use(recovery.Handler)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.MetricsMiddleware(serviceName, m))

	return router
}

// NewOrchestratorRouter builds the full /query, /ingest, /health, /metrics
// surface backed by svc, per the external interfaces contract.
func NewOrchestratorRouter(serviceName string, svc *Service) *mux.Router {
	router := NewRouter(serviceName, svc.Logger, svc.Metrics,
		route{pattern: "/query", method: http.MethodPost, handler: svc.handleQuery},
		route{pattern: "/ingest", method: http.MethodPost, handler: svc.handleIngest},
		route{pattern: "/ingest/{job_id}", method: http.MethodGet, handler: svc.handleGetIngestJob},
		route{pattern: "/health", method: http.MethodGet, handler: svc.handleHealth},
	)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return router
}
