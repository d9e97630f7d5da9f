// Package api wires the report handlers, the swagger UI and the prometheus
// endpoint into one router.
package api

import (
	"net/http"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "go-report-pipeline/docs" // registers the swagger document
	"go-report-pipeline/internal/api/handler"
	"go-report-pipeline/pkg/router"
)

// NewRouter returns a router serving the report API. gatherer backs
// /metrics; nil uses the default prometheus registry.
func NewRouter(h *handler.Handler, gatherer prometheus.Gatherer, logger log.Logger) *router.Router {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r := router.New(logger)
	RegisterRoutes(r, h)

	r.Mount("/swagger/", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
	r.Mount("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Mount("/healthz", http.HandlerFunc(h.Health))
	return r
}

// RegisterRoutes adds the /api/v1 routes. More specific routes come first.
func RegisterRoutes(r *router.Router, h *handler.Handler) {
	r.POST("/api/v1/reports", h.CreateReport)
	r.GET("/api/v1/reports", h.ListReports)
	r.GET("/api/v1/reports/*/summaries", h.GetReportSummaries)
	r.GET("/api/v1/reports/*/errors", h.GetReportErrors)
	r.GET("/api/v1/reports/*/logs", h.GetReportLogs)
	r.GET("/api/v1/reports/*/metrics", h.GetReportMetrics)
	r.PATCH("/api/v1/reports/*/cancel", h.CancelReport)
	r.POST("/api/v1/reports/*/retry", h.RetryReport)
	r.GET("/api/v1/reports/*", h.GetReport)
	r.DELETE("/api/v1/reports/*", h.DeleteReport)
	r.GET("/api/v1/download/*/*", h.DownloadFile)
}
