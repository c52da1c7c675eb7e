package api

import (
	"strconv"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/Egham-7/tokentra/internal/services/apikey"
	"github.com/Egham-7/tokentra/internal/services/middleware"
	"github.com/Egham-7/tokentra/internal/services/usage"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

// AdminHandler issues and revokes SDK keys.
type AdminHandler struct {
	keys  *apikey.Service
	usage *usage.Service
}

func NewAdminHandler(keys *apikey.Service, usageService *usage.Service) *AdminHandler {
	return &AdminHandler{keys: keys, usage: usageService}
}

func (h *AdminHandler) CreateAPIKey(c *fiber.Ctx) error {
	var req models.APIKeyCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return middleware.WriteCode(c, fiber.StatusBadRequest, models.CodeInvalidRequest, "Invalid request body")
	}

	resp, err := h.keys.CreateAPIKey(c.UserContext(), &req)
	if err != nil {
		return middleware.WriteError(c, err)
	}

	fiberlog.Infof("[admin] %s created API key %s for org %s", middleware.AdminSubject(c), resp.ID, resp.OrganizationID)
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *AdminHandler) RevokeAPIKey(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.keys.RevokeAPIKey(c.UserContext(), id); err != nil {
		return middleware.WriteError(c, err)
	}

	fiberlog.Infof("[admin] %s revoked API key %s", middleware.AdminSubject(c), id)
	return c.SendStatus(fiber.StatusNoContent)
}

// GetUsage lists recent usage records of one key.
func (h *AdminHandler) GetUsage(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	records, err := h.usage.GetUsageByAPIKey(c.UserContext(), c.Params("id"), limit, offset)
	if err != nil {
		return middleware.WriteError(c, err)
	}

	return c.JSON(fiber.Map{
		"usage":  records,
		"limit":  limit,
		"offset": offset,
	})
}
