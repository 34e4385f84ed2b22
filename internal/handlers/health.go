package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Pinger is any dependency that can report liveness
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	store Pinger
	redis Pinger
}

// NewHealthHandler creates a new health handler. redis may be nil.
func NewHealthHandler(store Pinger, redis Pinger) *HealthHandler {
	return &HealthHandler{store: store, redis: redis}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	checks := fiber.Map{"store": "ok"}
	status := "healthy"
	code := fiber.StatusOK

	if err := h.store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		status = "unhealthy"
		code = fiber.StatusServiceUnavailable
	}

	// Redis only backs caching and locks, so losing it degrades rather than fails
	if h.redis != nil {
		checks["redis"] = "ok"
		if err := h.redis.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
			if code == fiber.StatusOK {
				status = "degraded"
			}
		}
	}

	return c.Status(code).JSON(fiber.Map{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
