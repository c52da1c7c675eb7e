package budget

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	"gorm.io/gorm"
)

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (s *Service) AutoMigrate() error {
	return s.db.AutoMigrate(&models.Budget{}, &models.BudgetAlert{})
}

func (s *Service) CreateBudget(ctx context.Context, b *models.Budget) error {
	if b.OrganizationID == "" {
		return models.NewValidationError("organization_id is required", nil)
	}
	if b.Status == "" {
		b.Status = models.BudgetStatusActive
	}
	if b.Period == "" {
		b.Period = models.PeriodMonthly
	}
	if err := s.db.WithContext(ctx).Create(b).Error; err != nil {
		return fmt.Errorf("failed to create budget: %w", err)
	}
	return nil
}

func (s *Service) ActiveBudgets(ctx context.Context, orgID string) ([]models.Budget, error) {
	var budgets []models.Budget
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND status = ?", orgID, models.BudgetStatusActive).
		Order("created_at ASC").
		Find(&budgets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get active budgets: %w", err)
	}
	return budgets, nil
}

// PeriodSpend sums input and output cost of the org's usage records with a
// timestamp at or after since. Records whose request id is in exclude are
// left out so a batch that is already stored is not counted twice.
func (s *Service) PeriodSpend(ctx context.Context, orgID string, since time.Time, exclude []string) (float64, error) {
	q := s.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Select("COALESCE(SUM(input_cost + output_cost), 0)").
		Where("organization_id = ? AND timestamp >= ?", orgID, since.UTC())
	if len(exclude) > 0 {
		q = q.Where("request_id NOT IN ?", exclude)
	}

	var total float64
	if err := q.Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("failed to sum period spend: %w", err)
	}
	return total, nil
}

func (s *Service) AlertExists(ctx context.Context, budgetID string, threshold float64, periodStart time.Time) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.BudgetAlert{}).
		Where("budget_id = ? AND threshold = ? AND period_start = ?", budgetID, threshold, periodStart.UTC()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check budget alert: %w", err)
	}
	return count > 0, nil
}

// RecordAlert inserts the alert row and reports whether this call created
// it. A unique-key conflict means another evaluation got there first.
func (s *Service) RecordAlert(ctx context.Context, alert *models.BudgetAlert) (bool, error) {
	alert.PeriodStart = alert.PeriodStart.UTC()
	err := s.db.WithContext(ctx).Create(alert).Error
	if err == nil {
		return true, nil
	}
	if isDuplicateKey(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to record budget alert: %w", err)
}

// isDuplicateKey covers drivers that do not translate constraint errors.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}
