package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/Egham-7/tokentra/internal/services/attribution"
	"github.com/Egham-7/tokentra/internal/services/middleware"
	"github.com/Egham-7/tokentra/internal/services/usage"
	"github.com/Egham-7/tokentra/internal/services/validator"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxBatchSize = 100

	maxErrorDetails    = 10
	resolveConcurrency = 8
)

// BatchSubmitter hands stored batches to background processing.
type BatchSubmitter interface {
	Submit(task usage.BatchTask) bool
}

// IngestHandler accepts SDK telemetry: it validates, attributes, prices and
// stores events, then queues the batch for alert and budget evaluation.
type IngestHandler struct {
	resolver     *attribution.Resolver
	usage        *usage.Service
	submitter    BatchSubmitter
	maxBatchSize int
	now          func() time.Time
}

func NewIngestHandler(resolver *attribution.Resolver, usageService *usage.Service, submitter BatchSubmitter, maxBatchSize int) *IngestHandler {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	return &IngestHandler{
		resolver:     resolver,
		usage:        usageService,
		submitter:    submitter,
		maxBatchSize: maxBatchSize,
		now:          time.Now,
	}
}

type ingestResponse struct {
	Success   bool                      `json:"success"`
	Processed int                       `json:"processed"`
	Failed    int                       `json:"failed"`
	Errors    []validator.IndexedErrors `json:"errors,omitempty"`
}

type validationFailure struct {
	Code    string                    `json:"code"`
	Message string                    `json:"message"`
	Details []validator.IndexedErrors `json:"details"`
}

// Ingest handles POST /api/v1/sdk/ingest.
func (h *IngestHandler) Ingest(c *fiber.Ctx) error {
	key, ok := middleware.APIKeyFrom(c)
	if !ok {
		return middleware.WriteCode(c, fiber.StatusUnauthorized, models.CodeMissingAuth, "Authorization header required")
	}
	if res, ok := middleware.RateLimitFrom(c); ok {
		c.Set(middleware.HeaderRemainingMinute, strconv.Itoa(res.RemainingMinute))
		c.Set(middleware.HeaderRemainingDay, strconv.Itoa(res.RemainingDay))
	}

	events, err := h.parseEvents(c.Body())
	if err != nil {
		return middleware.WriteError(c, err)
	}

	batch := validator.ValidateBatch(events)
	if len(batch.Valid) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": validationFailure{
				Code:    models.CodeValidation,
				Message: "All events failed validation",
				Details: limitDetails(batch.Invalid),
			},
		})
	}

	if _, err := h.store(c.UserContext(), key, validPayloads(batch.Valid)); err != nil {
		return middleware.WriteCode(c, fiber.StatusInternalServerError, models.CodeIngestion, "Failed to store events")
	}

	resp := ingestResponse{
		Success:   true,
		Processed: len(batch.Valid),
		Failed:    len(batch.Invalid),
	}
	if len(batch.Invalid) > 0 {
		resp.Errors = limitDetails(batch.Invalid)
	}
	return c.JSON(resp)
}

// Status handles GET /api/v1/sdk/ingest.
func (h *IngestHandler) Status(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"version":   "2.0",
		"timestamp": h.now().UTC().Format(models.TimestampLayout),
	})
}

// parseEvents enforces the {events:[...]} envelope and batch size limits.
func (h *IngestHandler) parseEvents(body []byte) ([]json.RawMessage, error) {
	var envelope struct {
		Events json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, models.NewRequestError(models.CodeInvalidRequest, "events array required")
	}

	var events []json.RawMessage
	if len(envelope.Events) == 0 || envelope.Events[0] != '[' {
		return nil, models.NewRequestError(models.CodeInvalidRequest, "events array required")
	}
	if err := json.Unmarshal(envelope.Events, &events); err != nil {
		return nil, models.NewRequestError(models.CodeInvalidRequest, "events array required")
	}

	if len(events) > h.maxBatchSize {
		return nil, models.NewRequestError(models.CodeBatchTooLarge, fmt.Sprintf("Maximum %d events per batch", h.maxBatchSize))
	}
	if len(events) == 0 {
		return nil, models.NewRequestError(models.CodeEmptyBatch, "At least one event required")
	}
	return events, nil
}

func validPayloads(results []validator.Result) []models.TelemetryPayload {
	out := make([]models.TelemetryPayload, 0, len(results))
	for _, r := range results {
		if r.Event != nil {
			out = append(out, *r.Event)
		}
	}
	return out
}

func limitDetails(invalid []validator.IndexedErrors) []validator.IndexedErrors {
	if len(invalid) > maxErrorDetails {
		return invalid[:maxErrorDetails]
	}
	return invalid
}

// store normalizes, attributes and prices the payloads, persists them and
// queues the batch for evaluation.
func (h *IngestHandler) store(ctx context.Context, key *models.ValidatedAPIKey, payloads []models.TelemetryPayload) ([]models.UsageRecord, error) {
	now := h.now()
	records := make([]models.UsageRecord, len(payloads))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveConcurrency)
	for i, p := range payloads {
		g.Go(func() error {
			p = validator.NormalizeAt(p, now)
			attr, err := h.resolver.Resolve(gctx, key.OrgID, models.AttributionInput{
				Feature:     p.Feature,
				Team:        p.Team,
				Project:     p.Project,
				CostCenter:  p.CostCenter,
				UserID:      p.UserID,
				Environment: p.Environment,
				Metadata:    p.Metadata,
			})
			if err != nil {
				return err
			}
			records[i] = usage.BuildRecord(key.OrgID, key.ID, p, attr, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fiberlog.Errorf("[INGEST] Failed to resolve attribution: %v", err)
		return nil, err
	}

	if err := h.usage.StoreBatch(ctx, records); err != nil {
		fiberlog.Errorf("[INGEST] Failed to insert events: %v", err)
		return nil, err
	}

	if h.submitter != nil {
		h.submitter.Submit(usage.BatchTask{OrgID: key.OrgID, Records: records, RequestID: records[0].RequestID})
	}

	fiberlog.Debugf("[INGEST] Stored %d events for org %s", len(records), key.OrgID)
	return records, nil
}
