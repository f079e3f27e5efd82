package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is satisfied by *sqlx.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// ConnectionCounter reports open real-time channels; optional.
type ConnectionCounter interface {
	ConnectionCount() int
}

type Handler struct {
	db    Pinger
	conns ConnectionCounter
}

func NewHandler(db Pinger, conns ConnectionCounter) *Handler {
	return &Handler{db: db, conns: conns}
}

func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", h.ReadinessCheck)
	r.GET("/health/live", h.LivenessCheck)
}

func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}

func (h *Handler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "DOWN",
			"reason": "Database connection failed",
		})
		return
	}

	body := gin.H{"status": "UP", "time": time.Now().UTC()}
	if h.conns != nil {
		body["connections"] = h.conns.ConnectionCount()
	}
	c.JSON(http.StatusOK, body)
}
