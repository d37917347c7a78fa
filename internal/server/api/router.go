package api

import (
	"context"
	"net/http"
	"time"

	"taskmail/internal/audit"
	"taskmail/internal/config"
	"taskmail/internal/database"
	"taskmail/internal/dispatch"
	"taskmail/internal/ratelimit"
	"taskmail/internal/server/api/middleware"
	"taskmail/internal/server/api/response"
	av1 "taskmail/internal/server/api/v1"
	"taskmail/internal/version"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Deps carries the wired components the router exposes.
type Deps struct {
	Service *dispatch.Service
	Client  *dispatch.Client
	Store   audit.Store
	Limiter *ratelimit.Limiter
	DB      *database.Database
}

// Router handles all routing logic
type Router struct {
	engine *gin.Engine
	config *config.Config
	logger *zap.Logger
}

// NewRouter creates and configures a new router
func NewRouter(cfg *config.Config, deps Deps, logger *zap.Logger) *Router {
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		engine: gin.New(),
		config: cfg,
		logger: logger,
	}

	m := middleware.New(cfg, logger)
	r.engine.Use(m.RequestID())
	r.engine.Use(m.Logger())
	r.engine.Use(m.Recovery())
	r.engine.Use(m.Secure())

	// Health and version stay outside auth
	r.engine.GET("/api/v1/health", healthHandler(deps.DB, logger))
	r.engine.GET("/api/v1/version", func(c *gin.Context) {
		response.New(c, logger).Success(version.GetInfo())
	})

	v1Router := r.engine.Group("/api/v1")
	if cfg.API.Auth.Enabled {
		v1Router.Use(m.Auth())
	} else {
		v1Router.Use(m.DevIdentity())
	}

	api := av1.NewAPI(deps.Service, deps.Client, deps.Store, deps.Limiter, logger)
	api.RegisterRoutes(v1Router)

	return r
}

// Handler returns the HTTP handler
func (r *Router) Handler() http.Handler {
	return r.engine
}

// healthHandler reports liveness and store reachability
func healthHandler(db *database.Database, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := response.New(c, logger)

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		status := map[string]string{"status": "ok"}
		if err := db.Ping(ctx); err != nil {
			logger.Error("Health check failed", zap.Error(err))
			status["status"] = "degraded"
			status["database"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}

		resp.Success(status)
	}
}
