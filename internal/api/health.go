package api

import (
	"context"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	db          *gorm.DB
	redisClient *redis.Client
	now         func() time.Time
}

// NewHealthHandler creates a new health check handler. redisClient may be nil.
func NewHealthHandler(db *gorm.DB, redisClient *redis.Client) *HealthHandler {
	return &HealthHandler{db: db, redisClient: redisClient, now: time.Now}
}

// SDKHealth answers GET /sdk/health for clients probing the collector.
func (h *HealthHandler) SDKHealth(c *fiber.Ctx) error {
	return c.JSON(models.HealthResponse{
		Status:    "healthy",
		Version:   models.SDKVersion,
		Timestamp: h.now().UTC().Format(models.TimestampLayout),
	})
}

// HealthCheck returns the health status of the service and its dependencies
func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	checks := fiber.Map{"database": h.checkDatabase()}
	overallStatus := "healthy"
	statusCode := fiber.StatusOK

	if checks["database"] != "healthy" {
		overallStatus = "degraded"
		statusCode = fiber.StatusServiceUnavailable
	}

	if h.redisClient != nil {
		redisStatus := h.checkRedis()
		checks["redis"] = redisStatus
		if redisStatus != "healthy" {
			overallStatus = "degraded"
			statusCode = fiber.StatusServiceUnavailable
		}
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    overallStatus,
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

func (h *HealthHandler) checkDatabase() string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sqlDB, err := h.db.DB()
	if err != nil {
		return "unhealthy"
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return "unhealthy"
	}
	return "healthy"
}

// checkRedis verifies Redis connectivity
func (h *HealthHandler) checkRedis() string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := h.redisClient.Ping(ctx).Err(); err != nil {
		return "unhealthy"
	}

	return "healthy"
}
