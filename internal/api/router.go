// Package api exposes the import job submission surface over HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/openartmap/openartmap/internal/api/middleware"
	"github.com/openartmap/openartmap/internal/catalog"
	"github.com/openartmap/openartmap/internal/importer"
)

// RouterDeps bundles all dependencies needed by the HTTP router.
type RouterDeps struct {
	Orchestrator   *importer.Orchestrator
	CatalogService *catalog.Service
	Logger         *slog.Logger
	BasePath       string
	// ImportDefaults seeds job config fields the submission envelope omits.
	ImportDefaults importer.Config
}

// Router sets up all HTTP routes for the application.
type Router struct {
	orchestrator   *importer.Orchestrator
	catalogService *catalog.Service
	logger         *slog.Logger
	basePath       string
	importDefaults importer.Config
}

// NewRouter creates a new Router with all routes configured.
func NewRouter(deps RouterDeps) *Router {
	return &Router{
		orchestrator:   deps.Orchestrator,
		catalogService: deps.CatalogService,
		logger:         deps.Logger,
		basePath:       deps.BasePath,
		importDefaults: deps.ImportDefaults,
	}
}

// Handler returns the fully configured HTTP handler.
func (r *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", r.handleHealth)
	mux.HandleFunc("POST /api/v1/imports", r.handleSubmitImport)
	mux.HandleFunc("POST /api/v1/imports/validate", r.handleValidateImport)
	mux.HandleFunc("GET /api/v1/imports", r.handleListImports)
	mux.HandleFunc("GET /api/v1/imports/{id}", r.handleGetImport)

	var handler http.Handler = mux
	if r.basePath != "" {
		handler = http.StripPrefix(r.basePath, mux)
	}
	return middleware.Logging(r.logger)(handler)
}
