package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const UsageSourceSDK = "sdk"

// UsageRecord is one ingested, attributed and priced event.
type UsageRecord struct {
	ID                 string     `gorm:"primaryKey;size:36" json:"id"`
	OrganizationID     string     `gorm:"not null;size:36;index:idx_usage_org_time,priority:1" json:"org_id"`
	APIKeyID           string     `gorm:"size:36;index" json:"api_key_id"`
	RequestID          string     `gorm:"not null;size:64;index" json:"request_id"`
	Timestamp          time.Time  `gorm:"not null;index:idx_usage_org_time,priority:2" json:"timestamp"`
	Provider           string     `gorm:"not null;size:50" json:"provider"`
	Model              string     `gorm:"not null;size:100;index" json:"model"`
	MethodPath         string     `gorm:"size:100" json:"method_path,omitempty"`
	InputTokens        int64      `gorm:"not null;default:0" json:"input_tokens"`
	OutputTokens       int64      `gorm:"not null;default:0" json:"output_tokens"`
	CachedTokens       int64      `gorm:"not null;default:0" json:"cached_tokens"`
	InputCost          float64    `gorm:"not null;default:0" json:"input_cost"`
	OutputCost         float64    `gorm:"not null;default:0" json:"output_cost"`
	CachedCost         float64    `gorm:"not null;default:0" json:"cached_cost"`
	LatencyMs          int64      `gorm:"not null;default:0" json:"latency_ms"`
	TimeToFirstTokenMs *int64     `json:"time_to_first_token_ms,omitempty"`
	Feature            string     `gorm:"size:100;index" json:"feature,omitempty"`
	TeamID             string     `gorm:"size:36;index" json:"team_id,omitempty"`
	ProjectID          string     `gorm:"size:36;index" json:"project_id,omitempty"`
	CostCenterID       string     `gorm:"size:36" json:"cost_center_id,omitempty"`
	UserIDs            StringList `json:"user_ids"`
	Environment        string     `gorm:"size:20;default:'production'" json:"environment"`
	Metadata           Metadata   `json:"metadata"`
	WasCached          bool       `gorm:"not null;default:false" json:"was_cached"`
	CacheHitType       string     `gorm:"size:20" json:"cache_hit_type,omitempty"`
	OriginalModel      string     `gorm:"size:100" json:"original_model,omitempty"`
	RoutedByRule       string     `gorm:"size:100" json:"routed_by_rule,omitempty"`
	IsError            bool       `gorm:"not null;default:false" json:"is_error"`
	ErrorCode          string     `gorm:"size:100" json:"error_code,omitempty"`
	ErrorType          string     `gorm:"size:20" json:"error_type,omitempty"`
	ErrorMessage       string     `gorm:"size:1000" json:"error_message,omitempty"`
	PromptHash         string     `gorm:"size:64" json:"prompt_hash,omitempty"`
	SDKVersion         string     `gorm:"size:20" json:"sdk_version"`
	SDKLanguage        string     `gorm:"size:20" json:"sdk_language"`
	IsStreaming        bool       `gorm:"not null;default:false" json:"is_streaming"`
	Source             string     `gorm:"size:20;default:'sdk'" json:"source"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (UsageRecord) TableName() string {
	return "sdk_usage_records"
}

func (r *UsageRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// Cost is the amount charged for the record (input + output).
func (r UsageRecord) Cost() float64 {
	return r.InputCost + r.OutputCost
}

// UsageHourly is the per-organization hourly rollup.
type UsageHourly struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	OrganizationID string    `gorm:"not null;size:36;uniqueIndex:idx_hourly_org_hour,priority:1" json:"org_id"`
	Hour           time.Time `gorm:"not null;uniqueIndex:idx_hourly_org_hour,priority:2" json:"hour"`
	TotalCost      float64   `gorm:"not null;default:0" json:"total_cost"`
	TotalTokens    int64     `gorm:"not null;default:0" json:"total_tokens"`
	RequestCount   int64     `gorm:"not null;default:0" json:"request_count"`
	ErrorCount     int64     `gorm:"not null;default:0" json:"error_count"`
}

func (UsageHourly) TableName() string {
	return "sdk_usage_hourly"
}
