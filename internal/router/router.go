package router

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/notification-api/internal/middleware"
	"github.com/jwalitptl/notification-api/internal/model"
	"github.com/jwalitptl/notification-api/pkg/metrics"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type RouterConfig struct {
	RateLimitEnabled bool
	RateLimit        rate.Limit
	RateBurst        int
	CORSConfig       middleware.CORSConfig
	MaxBodySize      int64
}

type Router struct {
	engine        *gin.Engine
	auth          *middleware.AuthMiddleware
	notifications Handler
	health        interface{ RegisterRoutes(gin.IRoutes) }
	metricsH      gin.HandlerFunc
	channel       gin.HandlerFunc
	config        RouterConfig
}

// NewRouter wires the middleware chain. channel serves the websocket upgrade
// and authenticates with a ticket, so it sits outside the session group.
func NewRouter(
	auth *middleware.AuthMiddleware,
	notifications Handler,
	health interface{ RegisterRoutes(gin.IRoutes) },
	metricsHandler gin.HandlerFunc,
	channel gin.HandlerFunc,
	m *metrics.Metrics,
	config RouterConfig,
) *Router {
	engine := gin.New()

	r := &Router{
		engine:        engine,
		auth:          auth,
		notifications: notifications,
		health:        health,
		metricsH:      metricsHandler,
		channel:       channel,
		config:        config,
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.Metrics(m),
		middleware.CORS(config.CORSConfig),
	)
	return r
}

func (r *Router) Setup() *gin.Engine {
	r.health.RegisterRoutes(r.engine)
	if r.metricsH != nil {
		r.engine.GET("/metrics", r.metricsH)
	}

	api := r.engine.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	notifications := api.Group("/notifications")
	notifications.GET("/ws", r.channel)

	protected := notifications.Group("")
	protected.Use(r.auth.Authenticate(), middleware.RequireRole(model.RoleAdmin, model.RoleRecruiter))
	if r.config.RateLimitEnabled {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  r.config.RateLimit,
			Burst: r.config.RateBurst,
		})
		protected.Use(limiter.RateLimit())
	}
	maxBody := r.config.MaxBodySize
	if maxBody <= 0 {
		maxBody = middleware.DefaultMaxBodySize
	}
	protected.Use(middleware.SizeLimit(maxBody))

	r.notifications.RegisterRoutes(protected)
	return r.engine
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
