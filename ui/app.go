package ui

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ablab/adapters/report"
	appsvc "ablab/app"
	"ablab/ports"
)

// App represents the HTTP API application
type App struct {
	router   *chi.Mux
	service  *appsvc.AnalysisService
	events   ports.EventReaderPort
	renderer *report.Renderer
}

// Config holds API application configuration
type Config struct {
	Port string
}

// NewApp creates a new API application
func NewApp(service *appsvc.AnalysisService, events ports.EventReaderPort) *App {
	app := &App{
		router:   chi.NewRouter(),
		service:  service,
		events:   events,
		renderer: report.NewRenderer(),
	}

	app.setupMiddleware()
	app.setupRoutes()

	return app
}

// setupMiddleware configures HTTP middleware
func (a *App) setupMiddleware() {
	a.router.Use(middleware.RequestID)
	a.router.Use(middleware.Logger)
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Compress(5))
}

// setupRoutes configures the application routes
func (a *App) setupRoutes() {
	a.router.Get("/health", a.handleHealth)

	// Design-time endpoints
	a.router.Post("/api/design", a.handleDesign)
	a.router.Post("/api/power/curve", a.handlePowerCurve)

	// Analysis endpoints
	a.router.Post("/api/analyze", a.handleAnalyze)
	a.router.Post("/api/decide", a.handleDecide)
	a.router.Post("/api/report", a.handleReport)

	// Synthetic scenarios for demos and smoke checks
	a.router.Get("/api/scenarios", a.handleListScenarios)
	a.router.Post("/api/scenarios/{name}/run", a.handleRunScenario)
}

// Start starts the HTTP server
func (a *App) Start(config Config) error {
	addr := ":" + config.Port
	log.Printf("Starting experiment analysis API on %s", addr)
	return http.ListenAndServe(addr, a.router)
}

// Router exposes the configured mux, mainly for tests.
func (a *App) Router() http.Handler {
	return a.router
}
