package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BudgetPeriod string

const (
	PeriodDaily     BudgetPeriod = "daily"
	PeriodWeekly    BudgetPeriod = "weekly"
	PeriodMonthly   BudgetPeriod = "monthly"
	PeriodQuarterly BudgetPeriod = "quarterly"
	PeriodYearly    BudgetPeriod = "yearly"
)

const (
	BudgetStatusActive   = "active"
	BudgetStatusPaused   = "paused"
	BudgetStatusArchived = "archived"
)

// DefaultBudgetThresholds apply when a budget has no alert thresholds.
var DefaultBudgetThresholds = []float64{50, 80, 100}

type Budget struct {
	ID              string       `gorm:"primaryKey;size:36" json:"id"`
	OrganizationID  string       `gorm:"not null;size:36;index" json:"organization_id"`
	Name            string       `gorm:"not null;size:255" json:"name"`
	Amount          float64      `gorm:"not null" json:"amount"`
	Period          BudgetPeriod `gorm:"not null;size:20;default:'monthly'" json:"period"`
	ScopeType       string       `gorm:"size:32;default:'organization'" json:"scope_type"`
	ScopeID         string       `gorm:"size:36" json:"scope_id,omitempty"`
	Status          string       `gorm:"not null;size:20;default:'active';index" json:"status"`
	AlertThresholds Float64List  `json:"alert_thresholds"`
	CreatedAt       time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Budget) TableName() string { return "budgets" }

func (b *Budget) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// Thresholds returns the configured thresholds or the defaults.
func (b Budget) Thresholds() []float64 {
	if len(b.AlertThresholds) == 0 {
		return DefaultBudgetThresholds
	}
	return b.AlertThresholds
}

// BudgetAlert records that a threshold was notified in a period. The unique
// index makes a second insert for the same period fail.
type BudgetAlert struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	BudgetID    string    `gorm:"not null;size:36;uniqueIndex:idx_budget_alert_period,priority:1" json:"budget_id"`
	Threshold   float64   `gorm:"not null;uniqueIndex:idx_budget_alert_period,priority:2" json:"threshold"`
	PeriodStart time.Time `gorm:"not null;uniqueIndex:idx_budget_alert_period,priority:3" json:"period_start"`
	PercentUsed float64   `gorm:"not null" json:"percent_used"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (BudgetAlert) TableName() string { return "budget_alerts" }

func (a *BudgetAlert) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// ScopeStat is a cost/count pair for one aggregation key.
type ScopeStat struct {
	Cost  float64 `json:"cost"`
	Count int     `json:"count"`
}

// AggregatedBatch summarizes one ingested batch.
type AggregatedBatch struct {
	TotalCost    float64              `json:"totalCost"`
	TotalTokens  int64                `json:"totalTokens"`
	RequestCount int                  `json:"requestCount"`
	ErrorCount   int                  `json:"errorCount"`
	ByFeature    map[string]ScopeStat `json:"byFeature"`
	ByTeam       map[string]ScopeStat `json:"byTeam"`
	ByProject    map[string]ScopeStat `json:"byProject"`
	ByModel      map[string]ScopeStat `json:"byModel"`
}
