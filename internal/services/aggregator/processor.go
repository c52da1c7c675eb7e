package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/Egham-7/tokentra/internal/services/budget"
	"github.com/Egham-7/tokentra/internal/services/usage"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultCooldown = time.Hour

	spikeWindow  = 7 * 24 * time.Hour
	spikeMaxRows = 168
)

type Option func(*Processor)

// WithCooldown sets how long a triggered alert stays silent.
func WithCooldown(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.cooldown = d
		}
	}
}

// WithLocation sets the time zone budget periods are computed in.
func WithLocation(loc *time.Location) Option {
	return func(p *Processor) {
		if loc != nil {
			p.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// Processor evaluates alerts and budgets for each ingested batch.
type Processor struct {
	db       *gorm.DB
	budgets  *budget.Service
	usage    *usage.Service
	cooldown time.Duration
	loc      *time.Location
	now      func() time.Time
}

func NewProcessor(db *gorm.DB, budgets *budget.Service, usage *usage.Service, opts ...Option) *Processor {
	p := &Processor{
		db:       db,
		budgets:  budgets,
		usage:    usage,
		cooldown: DefaultCooldown,
		loc:      time.UTC,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) AutoMigrate() error {
	return p.db.AutoMigrate(&models.Alert{}, &models.AlertEvent{}, &models.AlertCooldown{}, &models.Notification{})
}

// ProcessEvents runs alert and budget evaluation for one org's batch.
func (p *Processor) ProcessEvents(ctx context.Context, orgID string, records []models.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	agg := Aggregate(records)
	now := p.now()

	var alertErr, budgetErr error
	var g errgroup.Group
	g.Go(func() error {
		alertErr = p.checkAlerts(ctx, orgID, agg, now)
		return alertErr
	})
	g.Go(func() error {
		budgetErr = p.checkBudgets(ctx, orgID, agg, requestIDs(records), now)
		return budgetErr
	})
	_ = g.Wait()

	return errors.Join(alertErr, budgetErr)
}

func requestIDs(records []models.UsageRecord) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		if r.RequestID != "" {
			ids = append(ids, r.RequestID)
		}
	}
	return ids
}

func (p *Processor) checkAlerts(ctx context.Context, orgID string, agg models.AggregatedBatch, now time.Time) error {
	var alerts []models.Alert
	if err := p.db.WithContext(ctx).
		Where("organization_id = ? AND enabled = ?", orgID, true).
		Find(&alerts).Error; err != nil {
		return fmt.Errorf("failed to get alerts: %w", err)
	}

	for _, alert := range alerts {
		triggered, err := p.evaluateAlert(ctx, orgID, alert, agg, now)
		if err != nil {
			fiberlog.Errorf("[aggregator] Failed to evaluate alert %s: %v", alert.ID, err)
			continue
		}
		if !triggered {
			continue
		}
		if err := p.triggerAlert(ctx, orgID, alert, agg, now); err != nil {
			fiberlog.Errorf("[aggregator] Failed to trigger alert %s: %v", alert.ID, err)
			continue
		}
		fiberlog.Infof("[aggregator] Alert triggered: %s", alert.ID)
	}
	return nil
}

func (p *Processor) evaluateAlert(ctx context.Context, orgID string, alert models.Alert, agg models.AggregatedBatch, now time.Time) (bool, error) {
	cooling, err := p.inCooldown(ctx, alert.ID, now)
	if err != nil {
		return false, err
	}
	if cooling {
		return false, nil
	}

	switch alert.Type {
	case models.AlertSpendThreshold:
		return spendExceeded(alert, agg), nil
	case models.AlertErrorRate:
		if agg.RequestCount == 0 {
			return false, nil
		}
		return errorRate(agg) >= alert.Threshold, nil
	case models.AlertUsageSpike:
		return p.usageSpike(ctx, orgID, alert, agg, now)
	default:
		return false, nil
	}
}

func (p *Processor) inCooldown(ctx context.Context, alertID string, now time.Time) (bool, error) {
	var cd models.AlertCooldown
	err := p.db.WithContext(ctx).Where("alert_id = ?", alertID).First(&cd).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get cooldown: %w", err)
	}
	return cd.ExpiresAt.After(now), nil
}

func spendExceeded(alert models.Alert, agg models.AggregatedBatch) bool {
	var bucket map[string]models.ScopeStat
	switch alert.Scope {
	case models.ScopeTotal, "":
		return agg.TotalCost >= alert.Threshold
	case models.ScopeFeature:
		bucket = agg.ByFeature
	case models.ScopeTeam:
		bucket = agg.ByTeam
	case models.ScopeModel:
		bucket = agg.ByModel
	default:
		return false
	}

	if alert.ScopeID == "" {
		return false
	}
	stat, ok := bucket[alert.ScopeID]
	return ok && stat.Cost >= alert.Threshold
}

func errorRate(agg models.AggregatedBatch) float64 {
	return float64(agg.ErrorCount) / float64(agg.RequestCount) * 100
}

// usageSpike compares the batch cost with the org's average hourly cost over
// the last week; the threshold is a percentage above that average.
func (p *Processor) usageSpike(ctx context.Context, orgID string, alert models.Alert, agg models.AggregatedBatch, now time.Time) (bool, error) {
	costs, err := p.usage.HourlyCosts(ctx, orgID, now.Add(-spikeWindow), spikeMaxRows)
	if err != nil {
		return false, err
	}
	if len(costs) == 0 {
		return false, nil
	}

	var sum float64
	for _, c := range costs {
		sum += c
	}
	avg := sum / float64(len(costs))

	return agg.TotalCost >= avg*(1+alert.Threshold/100), nil
}

func (p *Processor) triggerAlert(ctx context.Context, orgID string, alert models.Alert, agg models.AggregatedBatch, now time.Time) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event := models.AlertEvent{
			OrganizationID: orgID,
			AlertID:        alert.ID,
			TriggeredAt:    now,
			Data: models.Metadata{
				"totalCost":    agg.TotalCost,
				"requestCount": agg.RequestCount,
				"errorCount":   agg.ErrorCount,
			},
		}
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("failed to create alert event: %w", err)
		}

		cd := models.AlertCooldown{AlertID: alert.ID, ExpiresAt: now.Add(p.cooldown).UTC()}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "alert_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"expires_at"}),
		}).Create(&cd).Error; err != nil {
			return fmt.Errorf("failed to set cooldown: %w", err)
		}

		n := models.Notification{
			OrganizationID: orgID,
			Type:           models.NotificationAlert,
			Title:          fmt.Sprintf("Alert: %s", alert.Type),
			Message:        alertMessage(alert, agg),
			Priority:       models.PriorityHigh,
			Data:           models.Metadata{"alert_id": alert.ID},
		}
		if err := tx.Create(&n).Error; err != nil {
			return fmt.Errorf("failed to create notification: %w", err)
		}
		return nil
	})
}

func alertMessage(alert models.Alert, agg models.AggregatedBatch) string {
	switch alert.Type {
	case models.AlertSpendThreshold:
		return fmt.Sprintf("Spend threshold of $%.2f exceeded. Current spend: $%.4f", alert.Threshold, agg.TotalCost)
	case models.AlertErrorRate:
		return fmt.Sprintf("Error rate of %.1f%% exceeds threshold of %s%%", errorRate(agg), strconv.FormatFloat(alert.Threshold, 'f', -1, 64))
	case models.AlertUsageSpike:
		return fmt.Sprintf("Usage spike detected. Current cost: $%.4f", agg.TotalCost)
	default:
		return fmt.Sprintf("Alert triggered: %s", alert.Type)
	}
}

func (p *Processor) checkBudgets(ctx context.Context, orgID string, agg models.AggregatedBatch, exclude []string, now time.Time) error {
	budgets, err := p.budgets.ActiveBudgets(ctx, orgID)
	if err != nil {
		return err
	}

	for _, b := range budgets {
		if err := p.checkBudget(ctx, orgID, b, agg, exclude, now); err != nil {
			fiberlog.Errorf("[aggregator] Failed to check budget %s: %v", b.ID, err)
		}
	}
	return nil
}

func (p *Processor) checkBudget(ctx context.Context, orgID string, b models.Budget, agg models.AggregatedBatch, exclude []string, now time.Time) error {
	if b.Amount <= 0 {
		fiberlog.Debugf("[aggregator] Budget %s has no amount, skipping", b.ID)
		return nil
	}

	start := budget.PeriodStart(b.Period, now.In(p.loc))

	persisted, err := p.budgets.PeriodSpend(ctx, orgID, start, exclude)
	if err != nil {
		return err
	}
	spend := persisted + agg.TotalCost
	percent := spend / b.Amount * 100

	for _, threshold := range b.Thresholds() {
		if percent < threshold {
			continue
		}
		if err := p.notifyBudget(ctx, orgID, b, threshold, percent, start); err != nil {
			fiberlog.Errorf("[aggregator] Failed to record budget alert %s at %v%%: %v", b.ID, threshold, err)
		}
	}
	return nil
}

func (p *Processor) notifyBudget(ctx context.Context, orgID string, b models.Budget, threshold, percent float64, periodStart time.Time) error {
	exists, err := p.budgets.AlertExists(ctx, b.ID, threshold, periodStart)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	created, err := p.budgets.RecordAlert(ctx, &models.BudgetAlert{
		BudgetID:    b.ID,
		Threshold:   threshold,
		PeriodStart: periodStart,
		PercentUsed: percent,
	})
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	n := models.Notification{
		OrganizationID: orgID,
		Type:           models.NotificationBudget,
		Title:          fmt.Sprintf("Budget Alert: %s", b.Name),
		Message:        fmt.Sprintf("Budget \"%s\" has reached %.1f%% of $%.2f limit", b.Name, percent, b.Amount),
		Priority:       budgetPriority(threshold),
		Data: models.Metadata{
			"budget_id":    b.ID,
			"threshold":    threshold,
			"percent_used": percent,
		},
	}
	if err := p.db.WithContext(ctx).Create(&n).Error; err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	fiberlog.Infof("[aggregator] Budget alert: %s at %.1f%%", b.Name, percent)
	return nil
}

func budgetPriority(threshold float64) string {
	switch {
	case threshold >= 100:
		return models.PriorityCritical
	case threshold >= 80:
		return models.PriorityHigh
	default:
		return models.PriorityMedium
	}
}

// PruneCooldowns deletes expired cooldown rows.
func (p *Processor) PruneCooldowns(ctx context.Context) (int64, error) {
	res := p.db.WithContext(ctx).Where("expires_at <= ?", p.now().UTC()).Delete(&models.AlertCooldown{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune alert cooldowns: %w", res.Error)
	}
	return res.RowsAffected, nil
}
