package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AlertType string

const (
	AlertSpendThreshold AlertType = "spend_threshold"
	AlertErrorRate      AlertType = "error_rate"
	AlertUsageSpike     AlertType = "usage_spike"
)

// Alert scopes for spend_threshold alerts.
const (
	ScopeTotal   = "total"
	ScopeFeature = "feature"
	ScopeTeam    = "team"
	ScopeModel   = "model"
)

const (
	NotificationAlert  = "alert"
	NotificationBudget = "budget"

	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
)

// Alert is an org-defined rule evaluated against every ingested batch.
type Alert struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	OrganizationID string    `gorm:"not null;size:36;index" json:"organization_id"`
	Name           string    `gorm:"size:255" json:"name"`
	Type           AlertType `gorm:"not null;size:32" json:"type"`
	Threshold      float64   `gorm:"not null" json:"threshold"`
	Scope          string    `gorm:"size:32;default:'total'" json:"scope"`
	ScopeID        string    `gorm:"size:255" json:"scope_id,omitempty"`
	Enabled        bool      `gorm:"not null;index" json:"enabled"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Alert) TableName() string { return "alerts" }

func (a *Alert) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

type AlertEvent struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	OrganizationID string    `gorm:"not null;size:36;index" json:"organization_id"`
	AlertID        string    `gorm:"not null;size:36;index" json:"alert_id"`
	TriggeredAt    time.Time `gorm:"not null" json:"triggered_at"`
	Data           Metadata  `json:"data"`
}

func (AlertEvent) TableName() string { return "alert_events" }

func (e *AlertEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// AlertCooldown suppresses an alert until ExpiresAt.
type AlertCooldown struct {
	AlertID   string    `gorm:"primaryKey;size:36" json:"alert_id"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
}

func (AlertCooldown) TableName() string { return "alert_cooldowns" }

type Notification struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	OrganizationID string    `gorm:"not null;size:36;index" json:"organization_id"`
	Type           string    `gorm:"not null;size:20" json:"type"`
	Title          string    `gorm:"not null;size:255" json:"title"`
	Message        string    `gorm:"type:text" json:"message"`
	Priority       string    `gorm:"size:20" json:"priority"`
	Data           Metadata  `json:"data"`
	Read           bool      `gorm:"not null;default:false" json:"read"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
