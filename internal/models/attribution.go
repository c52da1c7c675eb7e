package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Team, Project and CostCenter are the named attribution targets an event
// can be charged to. Events reference them by name or by id.
type Team struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	OrganizationID string    `gorm:"not null;size:36;index" json:"organization_id"`
	Name           string    `gorm:"not null;size:255" json:"name"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Team) TableName() string { return "teams" }

func (t *Team) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

type Project struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	OrganizationID string    `gorm:"not null;size:36;index" json:"organization_id"`
	Name           string    `gorm:"not null;size:255" json:"name"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Project) TableName() string { return "projects" }

func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

type CostCenter struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	OrganizationID string    `gorm:"not null;size:36;index" json:"organization_id"`
	Name           string    `gorm:"not null;size:255" json:"name"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (CostCenter) TableName() string { return "cost_centers" }

func (c *CostCenter) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// AttributionInput is the free-form attribution carried on an event.
type AttributionInput struct {
	Feature     string
	Team        string
	Project     string
	CostCenter  string
	UserID      string
	Environment string
	Metadata    Metadata
}

// ResolvedAttribution has names replaced by ids. Unresolved names are empty.
type ResolvedAttribution struct {
	Feature      string
	TeamID       string
	ProjectID    string
	CostCenterID string
	UserID       string
	Environment  string
	Metadata     Metadata
}
