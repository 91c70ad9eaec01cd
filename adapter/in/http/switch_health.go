package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"switch_server/adapter/in/worker"
)

// FetchReporter exposes per-provider fetch status for readiness checks.
type FetchReporter interface {
	FetchInfo() []worker.ProviderFetchInfo
}

type HealthHandler struct {
	redis   *redis.Client
	fetches FetchReporter
}

func NewHealthHandler(redisClient *redis.Client, fetches FetchReporter) *HealthHandler {
	return &HealthHandler{redis: redisClient, fetches: fetches}
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks["redis"] = "healthy"
		}
	} else {
		checks["redis"] = "not configured"
	}

	status := fiber.StatusOK
	readiness := "ready"
	if !allHealthy {
		status = fiber.StatusServiceUnavailable
		readiness = "not ready"
	}
	body := fiber.Map{
		"status":    readiness,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.fetches != nil {
		body["providers"] = h.fetches.FetchInfo()
	}
	return c.Status(status).JSON(body)
}
