// Package httpapi is the fleet's control and observability surface: a
// gin router exposing CRUD over hosts, per-host and fleet-wide lifecycle
// operations, a metrics query endpoint, and a Server-Sent-Events stream
// that drains the Event Bus for whatever UI is attached.
package httpapi

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sshfleet/sshfleet/internal/eventbus"
	"github.com/sshfleet/sshfleet/internal/fleet"
	"github.com/sshfleet/sshfleet/internal/httpapi/middleware"
)

// NewRouter builds the gin engine wired to manager and bus, with the same
// middleware stack shape as the control-plane convention this project
// follows: recovery first, dev-only CORS, request ID, then request
// logging.
func NewRouter(manager *fleet.Manager, bus *eventbus.Bus, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"127.0.0.1"})

	r.Use(gin.Recovery())

	if os.Getenv("ENV") == "dev" {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:5173"},
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Authorization"},
			ExposeHeaders:    []string{"X-Total-Count"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.Use(middleware.RequestID())
	r.Use(ZapLogger(log))

	h := &handler{manager: manager, bus: bus, log: log}

	r.GET("/api/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })

	api := r.Group("/api")
	{
		api.GET("/hosts", h.listHosts)
		api.POST("/hosts", h.addHost)
		api.PUT("/hosts/:name", h.editHost)
		api.DELETE("/hosts/:name", h.deleteHost)

		api.POST("/hosts/:name/start", h.startHost)
		api.POST("/hosts/:name/stop", h.stopHost)
		api.POST("/hosts/:name/restart", h.restartHost)
		api.POST("/hosts/:name/force-restart", h.forceRestartHost)
		api.POST("/hosts/:name/test-connection", h.testConnection)
		api.GET("/hosts/:name/metrics", h.hostMetrics)
		api.GET("/hosts/:name/logs", h.hostLogs)

		api.POST("/fleet/start-all", h.startAll)
		api.POST("/fleet/stop-all", h.stopAll)

		api.GET("/events", h.eventStream)
	}

	return r
}

// ZapLogger logs each request's method, route, status, and latency at a
// level matched to the response class, attaching any gin context errors
// collected along the way.
func ZapLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("latency", latency),
			zap.String("request_id", middleware.GetRequestID(c)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case status >= 500:
			log.Error("request", fields...)
		case status >= 400:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}
