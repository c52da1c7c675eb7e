package api

import (
	"encoding/json"
	"strings"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/Egham-7/tokentra/internal/services/middleware"
	"github.com/Egham-7/tokentra/internal/services/transport"
	"github.com/Egham-7/tokentra/internal/services/validator"
	"github.com/gofiber/fiber/v2"
)

// LegacyHandler serves the track and batch endpoints used by the simple
// client. Both share the ingest pipeline and answer in the APIResponse
// envelope.
type LegacyHandler struct {
	ingest *IngestHandler
}

func NewLegacyHandler(ingest *IngestHandler) *LegacyHandler {
	return &LegacyHandler{ingest: ingest}
}

func failure(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(models.APIResponse{
		Success: false,
		Error:   &models.APIError{Code: code, Message: message},
	})
}

func fromError(c *fiber.Ctx, err error) error {
	appErr := models.SanitizeError(err)
	return failure(c, appErr.GetStatusCode(), appErr.Code, appErr.Message)
}

// Track handles POST /sdk/v1/track.
func (h *LegacyHandler) Track(c *fiber.Ctx) error {
	key, ok := middleware.APIKeyFrom(c)
	if !ok {
		return failure(c, fiber.StatusUnauthorized, models.CodeMissingAuth, "Authorization header required")
	}

	var body struct {
		Event json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal(c.Body(), &body); err != nil || len(body.Event) == 0 {
		return failure(c, fiber.StatusBadRequest, models.CodeInvalidRequest, "event required")
	}

	res := validator.Validate(body.Event)
	if !res.Valid {
		return failure(c, fiber.StatusBadRequest, models.CodeValidation, strings.Join(res.Errors, "; "))
	}

	records, err := h.ingest.store(c.UserContext(), key, []models.TelemetryPayload{*res.Event})
	if err != nil {
		return failure(c, fiber.StatusInternalServerError, models.CodeIngestion, "Failed to store event")
	}

	return c.JSON(models.APIResponse{
		Success: true,
		Data:    transport.TrackResult{Success: true, EventID: records[0].RequestID},
	})
}

// Batch handles POST /sdk/v1/batch.
func (h *LegacyHandler) Batch(c *fiber.Ctx) error {
	key, ok := middleware.APIKeyFrom(c)
	if !ok {
		return failure(c, fiber.StatusUnauthorized, models.CodeMissingAuth, "Authorization header required")
	}

	events, err := h.ingest.parseEvents(c.Body())
	if err != nil {
		return fromError(c, err)
	}

	batch := validator.ValidateBatch(events)
	result := models.BatchResult{Failed: len(batch.Invalid)}
	for _, inv := range limitDetails(batch.Invalid) {
		result.Errors = append(result.Errors, strings.Join(inv.Errors, "; "))
	}

	if len(batch.Valid) > 0 {
		if _, err := h.ingest.store(c.UserContext(), key, validPayloads(batch.Valid)); err != nil {
			return failure(c, fiber.StatusInternalServerError, models.CodeIngestion, "Failed to store events")
		}
		result.Processed = len(batch.Valid)
	}
	result.Success = result.Failed == 0

	return c.JSON(models.APIResponse{Success: true, Data: result})
}
