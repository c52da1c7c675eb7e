package budget

import (
	"context"
	"testing"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	s := NewService(db)
	require.NoError(t, s.AutoMigrate())
	require.NoError(t, db.AutoMigrate(&models.UsageRecord{}))
	return s, db
}

func TestPeriodStart(t *testing.T) {
	// Thursday
	now := time.Date(2025, time.August, 14, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		period models.BudgetPeriod
		want   time.Time
	}{
		{models.PeriodDaily, time.Date(2025, 8, 14, 0, 0, 0, 0, time.UTC)},
		{models.PeriodWeekly, time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC)},
		{models.PeriodMonthly, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)},
		{models.PeriodQuarterly, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)},
		{models.PeriodYearly, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"fortnightly", time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(string(tt.period), func(t *testing.T) {
			assert.Equal(t, tt.want, PeriodStart(tt.period, now))
		})
	}
}

func TestPeriodStartEdges(t *testing.T) {
	sunday := time.Date(2025, time.August, 10, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC), PeriodStart(models.PeriodWeekly, sunday))

	// week crossing a month boundary
	tuesday := time.Date(2025, time.July, 1, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 29, 0, 0, 0, 0, time.UTC), PeriodStart(models.PeriodWeekly, tuesday))

	dec := time.Date(2025, time.December, 31, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC), PeriodStart(models.PeriodQuarterly, dec))

	loc := time.FixedZone("UTC-5", -5*3600)
	local := time.Date(2025, time.August, 1, 2, 0, 0, 0, time.UTC).In(loc)
	got := PeriodStart(models.PeriodMonthly, local)
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, loc), got)
}

func TestPeriodSpend(t *testing.T) {
	s, db := setupService(t)
	ctx := context.Background()
	start := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

	records := []models.UsageRecord{
		{OrganizationID: "org-1", RequestID: "r1", Timestamp: start.Add(time.Hour), Provider: "openai", Model: "gpt-4o", InputCost: 1, OutputCost: 2},
		{OrganizationID: "org-1", RequestID: "r2", Timestamp: start.Add(2 * time.Hour), Provider: "openai", Model: "gpt-4o", InputCost: 0.5, OutputCost: 0.5},
		{OrganizationID: "org-1", RequestID: "old", Timestamp: start.Add(-time.Hour), Provider: "openai", Model: "gpt-4o", InputCost: 100},
		{OrganizationID: "org-2", RequestID: "r3", Timestamp: start.Add(time.Hour), Provider: "openai", Model: "gpt-4o", InputCost: 100},
	}
	require.NoError(t, db.Create(&records).Error)

	spend, err := s.PeriodSpend(ctx, "org-1", start, nil)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, spend, 1e-9)

	spend, err = s.PeriodSpend(ctx, "org-1", start, []string{"r2"})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, spend, 1e-9)

	spend, err = s.PeriodSpend(ctx, "org-empty", start, nil)
	require.NoError(t, err)
	assert.Zero(t, spend)
}

func TestRecordAlertOncePerPeriod(t *testing.T) {
	s, _ := setupService(t)
	ctx := context.Background()
	start := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

	created, err := s.RecordAlert(ctx, &models.BudgetAlert{BudgetID: "b1", Threshold: 80, PeriodStart: start, PercentUsed: 85})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.RecordAlert(ctx, &models.BudgetAlert{BudgetID: "b1", Threshold: 80, PeriodStart: start, PercentUsed: 90})
	require.NoError(t, err)
	assert.False(t, created)

	exists, err := s.AlertExists(ctx, "b1", 80, start)
	require.NoError(t, err)
	assert.True(t, exists)

	// next period notifies again
	created, err = s.RecordAlert(ctx, &models.BudgetAlert{BudgetID: "b1", Threshold: 80, PeriodStart: start.AddDate(0, 1, 0), PercentUsed: 81})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestActiveBudgets(t *testing.T) {
	s, _ := setupService(t)
	ctx := context.Background()

	require.NoError(t, s.CreateBudget(ctx, &models.Budget{OrganizationID: "org-1", Name: "main", Amount: 100}))
	require.NoError(t, s.CreateBudget(ctx, &models.Budget{OrganizationID: "org-1", Name: "old", Amount: 100, Status: models.BudgetStatusArchived}))
	require.NoError(t, s.CreateBudget(ctx, &models.Budget{OrganizationID: "org-2", Name: "other", Amount: 100}))

	budgets, err := s.ActiveBudgets(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, budgets, 1)
	assert.Equal(t, "main", budgets[0].Name)
	assert.Equal(t, models.PeriodMonthly, budgets[0].Period)
	assert.Equal(t, models.DefaultBudgetThresholds, budgets[0].Thresholds())

	assert.Error(t, s.CreateBudget(ctx, &models.Budget{Name: "x"}))
}
