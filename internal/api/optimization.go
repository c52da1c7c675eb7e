package api

import (
	"github.com/Egham-7/tokentra/internal/services/middleware"
	"github.com/Egham-7/tokentra/internal/services/routing"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

type OptimizationHandler struct {
	store *routing.ConfigStore
}

func NewOptimizationHandler(store *routing.ConfigStore) *OptimizationHandler {
	return &OptimizationHandler{store: store}
}

// Config handles GET /api/v1/sdk/optimization/config.
func (h *OptimizationHandler) Config(c *fiber.Ctx) error {
	key, ok := middleware.APIKeyFrom(c)
	if !ok {
		return fiber.ErrUnauthorized
	}

	cfg, err := h.store.OrgConfig(c.UserContext(), key.OrgID)
	if err != nil {
		fiberlog.Errorf("[optimization] Failed to load config for org %s: %v", key.OrgID, err)
		return middleware.WriteError(c, err)
	}

	c.Set(fiber.HeaderCacheControl, "private, max-age=300")
	return c.JSON(cfg)
}
