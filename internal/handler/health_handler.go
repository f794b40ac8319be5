package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is a dependency that answers a liveness round-trip.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthReporter is a component that knows whether it is working.
type HealthReporter interface {
	Healthy() bool
}

// ConnectionCounter reports open sockets.
type ConnectionCounter interface {
	ConnectionCount() int
}

type HealthHandler struct {
	store       Pinger
	subscriber  HealthReporter
	connections ConnectionCounter
}

func NewHealthHandler(store Pinger, subscriber HealthReporter, connections ConnectionCounter) *HealthHandler {
	return &HealthHandler{
		store:       store,
		subscriber:  subscriber,
		connections: connections,
	}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"service":     "realtime-service",
		"connections": h.connections.ConnectionCount(),
	})
}

// Ready reports 503 until the bridge subscription is live. The presence
// store is best effort: an unreachable store shows as degraded but the
// instance keeps taking connections.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := gin.H{"store": "ok", "bridge": "ok"}
	ready := true

	if err := h.store.Ping(ctx); err != nil {
		checks["store"] = "degraded"
	}
	if h.subscriber == nil || !h.subscriber.Healthy() {
		checks["bridge"] = "not subscribed"
		ready = false
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"checks": checks,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"checks": checks,
	})
}
