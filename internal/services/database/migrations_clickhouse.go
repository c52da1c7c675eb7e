package database

import (
	"fmt"

	"gorm.io/gorm"
)

// RunClickHouseMigrations creates the collector tables directly; gorm's
// AutoMigrate cannot introspect ClickHouse reliably. ClickHouse has no
// unique indexes, so budget alert dedup relies on the existence check.
func RunClickHouseMigrations(db *gorm.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS api_keys (
			id String,
			organization_id String,
			user_id String,
			name String,
			key_hash String,
			key_prefix String,
			scopes String,
			rate_limit_per_minute Nullable(Int64),
			rate_limit_per_day Nullable(Int64),
			expires_at Nullable(DateTime64(3)),
			revoked_at Nullable(DateTime64(3)),
			last_used_at Nullable(DateTime64(3)),
			created_at DateTime64(3) DEFAULT now64(3),
			updated_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY id`,

		`CREATE TABLE IF NOT EXISTS sdk_usage_records (
			id String,
			organization_id String,
			api_key_id String,
			request_id String,
			timestamp DateTime64(3),
			provider LowCardinality(String),
			model LowCardinality(String),
			method_path String,
			input_tokens Int64,
			output_tokens Int64,
			cached_tokens Int64,
			input_cost Float64,
			output_cost Float64,
			cached_cost Float64,
			latency_ms Int64,
			time_to_first_token_ms Nullable(Int64),
			feature String,
			team_id String,
			project_id String,
			cost_center_id String,
			user_ids String,
			environment LowCardinality(String) DEFAULT 'production',
			metadata String,
			was_cached UInt8,
			cache_hit_type String,
			original_model String,
			routed_by_rule String,
			is_error UInt8,
			error_code String,
			error_type String,
			error_message String,
			prompt_hash String,
			sdk_version String,
			sdk_language String,
			is_streaming UInt8,
			source LowCardinality(String) DEFAULT 'sdk',
			created_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (organization_id, timestamp)`,

		`CREATE TABLE IF NOT EXISTS sdk_usage_hourly (
			id UInt64,
			organization_id String,
			hour DateTime,
			total_cost Float64,
			total_tokens Int64,
			request_count Int64,
			error_count Int64
		) ENGINE = SummingMergeTree((total_cost, total_tokens, request_count, error_count))
		ORDER BY (organization_id, hour)`,

		`CREATE TABLE IF NOT EXISTS teams (
			id String,
			organization_id String,
			name String,
			created_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = MergeTree()
		ORDER BY (organization_id, id)`,

		`CREATE TABLE IF NOT EXISTS projects (
			id String,
			organization_id String,
			name String,
			created_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = MergeTree()
		ORDER BY (organization_id, id)`,

		`CREATE TABLE IF NOT EXISTS cost_centers (
			id String,
			organization_id String,
			name String,
			created_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = MergeTree()
		ORDER BY (organization_id, id)`,

		`CREATE TABLE IF NOT EXISTS alerts (
			id String,
			organization_id String,
			name String,
			type LowCardinality(String),
			threshold Float64,
			scope LowCardinality(String) DEFAULT 'total',
			scope_id String,
			enabled UInt8,
			created_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = MergeTree()
		ORDER BY (organization_id, id)`,

		`CREATE TABLE IF NOT EXISTS alert_events (
			id String,
			organization_id String,
			alert_id String,
			triggered_at DateTime64(3),
			data String
		) ENGINE = MergeTree()
		ORDER BY (organization_id, triggered_at)`,

		`CREATE TABLE IF NOT EXISTS alert_cooldowns (
			alert_id String,
			expires_at DateTime64(3)
		) ENGINE = ReplacingMergeTree(expires_at)
		ORDER BY alert_id`,

		`CREATE TABLE IF NOT EXISTS notifications (
			id String,
			organization_id String,
			type LowCardinality(String),
			title String,
			message String,
			priority LowCardinality(String),
			data String,
			read UInt8 DEFAULT 0,
			created_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = MergeTree()
		ORDER BY (organization_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS budgets (
			id String,
			organization_id String,
			name String,
			amount Float64,
			period LowCardinality(String) DEFAULT 'monthly',
			scope_type LowCardinality(String) DEFAULT 'organization',
			scope_id String,
			status LowCardinality(String) DEFAULT 'active',
			alert_thresholds String,
			created_at DateTime64(3) DEFAULT now64(3),
			updated_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY (organization_id, id)`,

		`CREATE TABLE IF NOT EXISTS budget_alerts (
			id String,
			budget_id String,
			threshold Float64,
			period_start DateTime64(3),
			percent_used Float64,
			created_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = ReplacingMergeTree()
		ORDER BY (budget_id, threshold, period_start)`,

		`CREATE TABLE IF NOT EXISTS routing_rules (
			id String,
			organization_id String,
			name String,
			priority Int64,
			enabled UInt8,
			conditions String,
			target_model String,
			target_provider String,
			fallback_model String,
			created_at DateTime64(3) DEFAULT now64(3),
			updated_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY (organization_id, id)`,

		`CREATE TABLE IF NOT EXISTS model_mappings (
			id String,
			organization_id String,
			source_model String,
			target_model String,
			target_provider String,
			task_types String,
			max_complexity Nullable(Float64),
			savings_percent Float64,
			created_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = MergeTree()
		ORDER BY (organization_id, id)`,

		`CREATE TABLE IF NOT EXISTS organization_settings (
			organization_id String,
			optimization_enabled Nullable(UInt8),
			routing_enabled Nullable(UInt8),
			caching_enabled Nullable(UInt8),
			cache_similarity_threshold Nullable(Float64),
			updated_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY organization_id`,
	}

	for _, query := range queries {
		if err := db.Exec(query).Error; err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}
