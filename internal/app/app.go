// Package app assembles the HTTP server: the legacy project-listing
// endpoint, health and metrics. The collaborative machinery itself runs
// in clients through internal/session; the server's job is serving the
// project list in the envelope shape older clients still parse.
package app

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/collabide/workspace/internal/shared/config"
	"github.com/collabide/workspace/internal/shared/metrics"
	"github.com/collabide/workspace/internal/shared/middleware"
	"github.com/collabide/workspace/internal/store"
)

// Application bundles the router and its dependencies.
type Application struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   store.Client
	metrics *metrics.Metrics
	router  *gin.Engine
	server  *http.Server
}

// New builds the application with all routes and middleware wired.
func New(cfg *config.Config, client store.Client, m *metrics.Metrics, logger *zap.Logger) *Application {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logging(logger),
		middleware.Metrics(m),
		middleware.CORS(middleware.DefaultCORSConfig()),
	)

	a := &Application{
		cfg:     cfg,
		logger:  logger,
		store:   client,
		metrics: m,
		router:  router,
	}
	a.registerRoutes()

	a.server = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return a
}

func (a *Application) registerRoutes() {
	a.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := a.router.Group("/api")
	api.GET("/projects", a.listProjects)
	api.GET("/projects/:id", a.getProject)
}

// Router exposes the gin engine, mainly for tests.
func (a *Application) Router() *gin.Engine {
	return a.router
}

// Run starts the HTTP server and blocks until it stops.
func (a *Application) Run() error {
	a.logger.Info("server listening", zap.String("address", a.cfg.Server.Address))
	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (a *Application) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}
