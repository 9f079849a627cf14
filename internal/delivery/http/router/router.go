package router

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/user/scraper-service/internal/delivery/http/handler"
	"github.com/user/scraper-service/internal/delivery/http/middleware"
)

func New(h *handler.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.HandleHealthCheck)
	mux.HandleFunc("POST /api/scrape/github", h.HandleScrapeGitHub)
	mux.HandleFunc("POST /api/scrape/website", h.HandleScrapeWebsite)
	mux.HandleFunc("POST /api/scrape/auto", h.HandleScrapeAuto)
	mux.HandleFunc("GET /api/data/{kind}", h.HandleGetData)
	mux.HandleFunc("POST /api/delete", h.HandleDelete)
	mux.HandleFunc("POST /api/clean", h.HandleClean)

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Apply middlewares
	var chainedHandler http.Handler = mux
	chainedHandler = middleware.Metrics(chainedHandler)
	chainedHandler = middleware.Logging(chainedHandler)

	return chainedHandler
}
