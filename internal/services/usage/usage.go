package usage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/Egham-7/tokentra/internal/services/pricing"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertBatchSize = 100

type Service struct {
	db           *gorm.DB
	appendRollup bool
}

type Option func(*Service)

// WithAppendOnlyRollup writes hourly rollup deltas as plain inserts. Use it
// on stores without upsert support, where the table engine sums the rows.
func WithAppendOnlyRollup() Option {
	return func(s *Service) {
		s.appendRollup = true
	}
}

func NewService(db *gorm.DB, opts ...Option) *Service {
	s := &Service{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) AutoMigrate() error {
	return s.db.AutoMigrate(&models.UsageRecord{}, &models.UsageHourly{})
}

// BuildRecord turns a validated, normalized payload into a usage record.
// When the caller sent neither an input nor an output cost, all costs are
// computed from the token counts.
func BuildRecord(orgID, apiKeyID string, p models.TelemetryPayload, attr models.ResolvedAttribution, now time.Time) models.UsageRecord {
	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		ts = now
	}

	var inputCost, outputCost, cachedCost float64
	if isZero(p.InputCost) && isZero(p.OutputCost) {
		cost := pricing.CalculateCost(p.Provider, p.Model, p.InputTokens, p.OutputTokens, p.CachedTokens)
		inputCost, outputCost, cachedCost = cost.InputCost, cost.OutputCost, cost.CachedCost
	} else {
		inputCost, outputCost, cachedCost = deref(p.InputCost), deref(p.OutputCost), deref(p.CachedCost)
	}

	var userIDs models.StringList
	if attr.UserID != "" {
		userIDs = models.StringList{attr.UserID}
	}

	return models.UsageRecord{
		OrganizationID:     orgID,
		APIKeyID:           apiKeyID,
		RequestID:          p.RequestID,
		Timestamp:          ts.UTC(),
		Provider:           p.Provider,
		Model:              p.Model,
		MethodPath:         p.MethodPath,
		InputTokens:        p.InputTokens,
		OutputTokens:       p.OutputTokens,
		CachedTokens:       p.CachedTokens,
		InputCost:          inputCost,
		OutputCost:         outputCost,
		CachedCost:         cachedCost,
		LatencyMs:          p.LatencyMs,
		TimeToFirstTokenMs: p.TimeToFirstTokenMs,
		Feature:            attr.Feature,
		TeamID:             attr.TeamID,
		ProjectID:          attr.ProjectID,
		CostCenterID:       attr.CostCenterID,
		UserIDs:            userIDs,
		Environment:        attr.Environment,
		Metadata:           attr.Metadata,
		WasCached:          p.WasCached,
		CacheHitType:       p.CacheHitType,
		OriginalModel:      p.OriginalModel,
		RoutedByRule:       p.RoutedByRule,
		IsError:            p.IsError,
		ErrorCode:          p.ErrorCode,
		ErrorType:          p.ErrorType,
		ErrorMessage:       p.ErrorMessage,
		PromptHash:         p.PromptHash,
		SDKVersion:         p.SDKVersion,
		SDKLanguage:        p.SDKLanguage,
		IsStreaming:        p.IsStreaming,
		Source:             models.UsageSourceSDK,
	}
}

func isZero(v *float64) bool {
	return v == nil || *v == 0
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// StoreBatch inserts the records and folds them into the hourly rollup in
// one transaction.
func (s *Service) StoreBatch(ctx context.Context, records []models.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(&records, insertBatchSize).Error; err != nil {
			return fmt.Errorf("failed to insert usage records: %w", err)
		}

		hours := rollup(records)
		if s.appendRollup {
			if err := tx.Create(&hours).Error; err != nil {
				return fmt.Errorf("failed to insert hourly usage: %w", err)
			}
			return nil
		}

		for _, h := range hours {
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "organization_id"}, {Name: "hour"}},
				DoUpdates: clause.Assignments(map[string]any{
					"total_cost":    gorm.Expr("sdk_usage_hourly.total_cost + ?", h.TotalCost),
					"total_tokens":  gorm.Expr("sdk_usage_hourly.total_tokens + ?", h.TotalTokens),
					"request_count": gorm.Expr("sdk_usage_hourly.request_count + ?", h.RequestCount),
					"error_count":   gorm.Expr("sdk_usage_hourly.error_count + ?", h.ErrorCount),
				}),
			}).Create(&h).Error
			if err != nil {
				return fmt.Errorf("failed to update hourly usage: %w", err)
			}
		}
		return nil
	})
}

// rollup groups records by (org, hour), oldest hour first.
func rollup(records []models.UsageRecord) []models.UsageHourly {
	type key struct {
		org  string
		hour time.Time
	}
	byKey := make(map[key]*models.UsageHourly)
	var order []key

	for _, r := range records {
		k := key{org: r.OrganizationID, hour: r.Timestamp.UTC().Truncate(time.Hour)}
		h, ok := byKey[k]
		if !ok {
			h = &models.UsageHourly{OrganizationID: k.org, Hour: k.hour}
			byKey[k] = h
			order = append(order, k)
		}
		h.TotalCost += r.Cost()
		h.TotalTokens += r.InputTokens + r.OutputTokens
		h.RequestCount++
		if r.IsError {
			h.ErrorCount++
		}
	}

	sort.SliceStable(order, func(i, j int) bool { return order[i].hour.Before(order[j].hour) })

	out := make([]models.UsageHourly, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	return out
}

// HourlyCosts returns up to limit hourly cost totals for the org since the
// given time, newest hour first.
func (s *Service) HourlyCosts(ctx context.Context, orgID string, since time.Time, limit int) ([]float64, error) {
	var costs []float64
	err := s.db.WithContext(ctx).
		Model(&models.UsageHourly{}).
		Where("organization_id = ? AND hour >= ?", orgID, since.UTC()).
		Group("hour").
		Order("hour DESC").
		Limit(limit).
		Pluck("SUM(total_cost)", &costs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get hourly usage: %w", err)
	}
	return costs, nil
}

func (s *Service) GetUsageByAPIKey(ctx context.Context, apiKeyID string, limit, offset int) ([]models.UsageRecord, error) {
	var records []models.UsageRecord
	err := s.db.WithContext(ctx).
		Where("api_key_id = ?", apiKeyID).
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	return records, nil
}
