package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/Egham-7/tokentra/internal/models"
	"gorm.io/gorm"
)

// ConfigStore builds an organization's OptimizationConfig from the database.
type ConfigStore struct {
	db *gorm.DB
}

func NewConfigStore(db *gorm.DB) *ConfigStore {
	return &ConfigStore{db: db}
}

func (s *ConfigStore) AutoMigrate() error {
	return s.db.AutoMigrate(&models.OrganizationSettings{}, &models.RoutingRuleRecord{}, &models.ModelMappingRecord{})
}

// OrgConfig loads settings, enabled rules (ascending priority) and mappings.
// Unset switches default to enabled; routing additionally needs at least one
// enabled rule.
func (s *ConfigStore) OrgConfig(ctx context.Context, orgID string) (models.OptimizationConfig, error) {
	db := s.db.WithContext(ctx)

	var settings models.OrganizationSettings
	err := db.Where("organization_id = ?", orgID).First(&settings).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.OptimizationConfig{}, fmt.Errorf("failed to load organization settings: %w", err)
	}

	var ruleRecords []models.RoutingRuleRecord
	if err := db.Where("organization_id = ? AND enabled = ?", orgID, true).
		Order("priority ASC").Order("created_at ASC").
		Find(&ruleRecords).Error; err != nil {
		return models.OptimizationConfig{}, fmt.Errorf("failed to load routing rules: %w", err)
	}

	var mappingRecords []models.ModelMappingRecord
	if err := db.Where("organization_id = ?", orgID).
		Order("created_at ASC").
		Find(&mappingRecords).Error; err != nil {
		return models.OptimizationConfig{}, fmt.Errorf("failed to load model mappings: %w", err)
	}

	rules := make([]models.RoutingRule, 0, len(ruleRecords))
	for _, r := range ruleRecords {
		rules = append(rules, r.ToRule())
	}

	mappings := make([]models.ModelMapping, 0, len(mappingRecords))
	for _, m := range mappingRecords {
		if m.SourceModel == "" || m.TargetModel == "" {
			continue
		}
		mappings = append(mappings, m.ToMapping())
	}

	threshold := models.DefaultCacheSimilarityThreshold
	if settings.CacheSimilarityThreshold != nil && *settings.CacheSimilarityThreshold > 0 {
		threshold = *settings.CacheSimilarityThreshold
	}

	return models.OptimizationConfig{
		Enabled:                  enabled(settings.OptimizationEnabled),
		EnableRouting:            enabled(settings.RoutingEnabled) && len(rules) > 0,
		EnableCaching:            enabled(settings.CachingEnabled),
		RoutingRules:             rules,
		ModelMappings:            mappings,
		CacheSimilarityThreshold: threshold,
	}, nil
}

func enabled(flag *bool) bool {
	return flag == nil || *flag
}

// SaveSettings upserts an organization's switches.
func (s *ConfigStore) SaveSettings(ctx context.Context, settings *models.OrganizationSettings) error {
	if err := s.db.WithContext(ctx).Save(settings).Error; err != nil {
		return fmt.Errorf("failed to save organization settings: %w", err)
	}
	return nil
}

func (s *ConfigStore) CreateRule(ctx context.Context, rule *models.RoutingRuleRecord) error {
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("failed to create routing rule: %w", err)
	}
	return nil
}

func (s *ConfigStore) CreateMapping(ctx context.Context, mapping *models.ModelMappingRecord) error {
	if err := s.db.WithContext(ctx).Create(mapping).Error; err != nil {
		return fmt.Errorf("failed to create model mapping: %w", err)
	}
	return nil
}
