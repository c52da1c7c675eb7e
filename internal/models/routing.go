package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// ConditionOperator is the comparison applied by a RoutingCondition.
type ConditionOperator string

const (
	OpEq       ConditionOperator = "eq"
	OpNeq      ConditionOperator = "neq"
	OpGt       ConditionOperator = "gt"
	OpGte      ConditionOperator = "gte"
	OpLt       ConditionOperator = "lt"
	OpLte      ConditionOperator = "lte"
	OpIn       ConditionOperator = "in"
	OpContains ConditionOperator = "contains"
)

// RoutingCondition compares one request field against a value.
type RoutingCondition struct {
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    any               `json:"value"`
}

type RoutingRule struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Priority       int                `json:"priority"`
	Conditions     []RoutingCondition `json:"conditions"`
	TargetModel    string             `json:"targetModel"`
	TargetProvider string             `json:"targetProvider"`
	FallbackModel  string             `json:"fallbackModel,omitempty"`
}

type ModelMapping struct {
	SourceModel    string   `json:"sourceModel"`
	TargetModel    string   `json:"targetModel"`
	TargetProvider string   `json:"targetProvider"`
	TaskTypes      []string `json:"taskTypes,omitempty"`
	MaxComplexity  *float64 `json:"maxComplexity,omitempty"`
	SavingsPercent float64  `json:"savingsPercent"`
}

// OptimizationConfig is served by GET /api/v1/sdk/optimization/config.
type OptimizationConfig struct {
	Enabled                  bool           `json:"enabled"`
	EnableRouting            bool           `json:"enableRouting"`
	EnableCaching            bool           `json:"enableCaching"`
	RoutingRules             []RoutingRule  `json:"routingRules"`
	ModelMappings            []ModelMapping `json:"modelMappings"`
	CacheSimilarityThreshold float64        `json:"cacheSimilarityThreshold"`
}

const DefaultCacheSimilarityThreshold = 0.92

// DisabledOptimizationConfig is used whenever the remote config is unavailable.
func DisabledOptimizationConfig() OptimizationConfig {
	return OptimizationConfig{
		RoutingRules:             []RoutingRule{},
		ModelMappings:            []ModelMapping{},
		CacheSimilarityThreshold: DefaultCacheSimilarityThreshold,
	}
}

// ChatMessage is the minimal message shape the routing engine inspects.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type RoutingRequest struct {
	Model       string        `json:"model"`
	Provider    string        `json:"provider"`
	Messages    []ChatMessage `json:"messages"`
	Feature     string        `json:"feature,omitempty"`
	Team        string        `json:"team,omitempty"`
	InputTokens *int64        `json:"inputTokens,omitempty"`
}

type RoutingDecision struct {
	ShouldRoute             bool    `json:"shouldRoute"`
	OriginalModel           string  `json:"originalModel"`
	TargetModel             string  `json:"targetModel"`
	TargetProvider          string  `json:"targetProvider"`
	RuleID                  string  `json:"ruleId,omitempty"`
	RuleName                string  `json:"ruleName,omitempty"`
	Reason                  string  `json:"reason"`
	EstimatedSavingsPercent float64 `json:"estimatedSavingsPercent"`
}

// RoutingConditions is the JSON column holding a rule's conditions.
type RoutingConditions []RoutingCondition

func (c RoutingConditions) Value() (driver.Value, error) {
	if c == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]RoutingCondition(c))
	return string(b), err
}

func (c *RoutingConditions) Scan(value any) error {
	if value == nil {
		*c = nil
		return nil
	}
	return scanJSON(value, c, "RoutingConditions")
}

func (RoutingConditions) GormDataType() string {
	return "json"
}

func (RoutingConditions) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return jsonColumnType(db)
}

// RoutingRuleRecord is the stored form of a RoutingRule.
type RoutingRuleRecord struct {
	ID             string            `gorm:"primaryKey;size:36" json:"id"`
	OrganizationID string            `gorm:"not null;size:36;index" json:"organization_id"`
	Name           string            `gorm:"not null;size:255" json:"name"`
	Priority       int               `gorm:"not null;default:0" json:"priority"`
	Enabled        bool              `gorm:"not null" json:"enabled"`
	Conditions     RoutingConditions `json:"conditions"`
	TargetModel    string            `gorm:"not null;size:100" json:"target_model"`
	TargetProvider string            `gorm:"not null;size:50" json:"target_provider"`
	FallbackModel  string            `gorm:"size:100" json:"fallback_model,omitempty"`
	CreatedAt      time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (RoutingRuleRecord) TableName() string { return "routing_rules" }

func (r *RoutingRuleRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

func (r RoutingRuleRecord) ToRule() RoutingRule {
	conds := []RoutingCondition(r.Conditions)
	if conds == nil {
		conds = []RoutingCondition{}
	}
	return RoutingRule{
		ID:             r.ID,
		Name:           r.Name,
		Priority:       r.Priority,
		Conditions:     conds,
		TargetModel:    r.TargetModel,
		TargetProvider: r.TargetProvider,
		FallbackModel:  r.FallbackModel,
	}
}

// ModelMappingRecord is the stored form of a ModelMapping.
type ModelMappingRecord struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	OrganizationID string     `gorm:"not null;size:36;index" json:"organization_id"`
	SourceModel    string     `gorm:"not null;size:100" json:"source_model"`
	TargetModel    string     `gorm:"not null;size:100" json:"target_model"`
	TargetProvider string     `gorm:"not null;size:50" json:"target_provider"`
	TaskTypes      StringList `json:"task_types,omitempty"`
	MaxComplexity  *float64   `json:"max_complexity,omitempty"`
	SavingsPercent float64    `gorm:"not null;default:0" json:"savings_percent"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (ModelMappingRecord) TableName() string { return "model_mappings" }

func (m *ModelMappingRecord) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

func (m ModelMappingRecord) ToMapping() ModelMapping {
	var tasks []string
	if len(m.TaskTypes) > 0 {
		tasks = []string(m.TaskTypes)
	}
	return ModelMapping{
		SourceModel:    m.SourceModel,
		TargetModel:    m.TargetModel,
		TargetProvider: m.TargetProvider,
		TaskTypes:      tasks,
		MaxComplexity:  m.MaxComplexity,
		SavingsPercent: m.SavingsPercent,
	}
}

// OrganizationSettings holds the per-org optimization switches. Nil flags
// mean "not configured" and are treated as enabled.
type OrganizationSettings struct {
	OrganizationID           string    `gorm:"primaryKey;size:36" json:"organization_id"`
	OptimizationEnabled      *bool     `json:"optimization_enabled,omitempty"`
	RoutingEnabled           *bool     `json:"routing_enabled,omitempty"`
	CachingEnabled           *bool     `json:"caching_enabled,omitempty"`
	CacheSimilarityThreshold *float64  `json:"cache_similarity_threshold,omitempty"`
	UpdatedAt                time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OrganizationSettings) TableName() string { return "organization_settings" }
