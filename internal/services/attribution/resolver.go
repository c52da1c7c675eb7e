package attribution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/Egham-7/tokentra/internal/utils/ttlcache"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const DefaultCacheTTL = 5 * time.Minute

type kind struct {
	name  string
	model any
}

var (
	kindTeam       = kind{name: "team", model: &models.Team{}}
	kindProject    = kind{name: "project", model: &models.Project{}}
	kindCostCenter = kind{name: "cost_center", model: &models.CostCenter{}}
)

type Option func(*Resolver)

func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Resolver) { r.ttl = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// Resolver maps team, project and cost center names on events to the ids
// stored for the organization.
type Resolver struct {
	db    *gorm.DB
	cache *ttlcache.Cache[string]
	ttl   time.Duration
	now   func() time.Time
}

func NewResolver(db *gorm.DB, opts ...Option) *Resolver {
	r := &Resolver{db: db, ttl: DefaultCacheTTL, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	r.cache = ttlcache.New[string](r.ttl, ttlcache.WithClock(r.now))
	return r
}

func (r *Resolver) AutoMigrate() error {
	return r.db.AutoMigrate(&models.Team{}, &models.Project{}, &models.CostCenter{})
}

// Resolve never fails on a lookup problem: names that cannot be resolved
// come back empty.
func (r *Resolver) Resolve(ctx context.Context, orgID string, in models.AttributionInput) (models.ResolvedAttribution, error) {
	out := models.ResolvedAttribution{
		Feature:     in.Feature,
		UserID:      in.UserID,
		Environment: in.Environment,
		Metadata:    in.Metadata,
	}
	if out.Environment == "" {
		out.Environment = models.DefaultEnvironment
	}
	if out.Metadata == nil {
		out.Metadata = models.Metadata{}
	}

	out.TeamID = r.resolve(ctx, kindTeam, orgID, in.Team)
	out.ProjectID = r.resolve(ctx, kindProject, orgID, in.Project)
	out.CostCenterID = r.resolve(ctx, kindCostCenter, orgID, in.CostCenter)

	return out, nil
}

func (r *Resolver) resolve(ctx context.Context, k kind, orgID, value string) string {
	if value == "" {
		return ""
	}
	if IsUUID(value) {
		return value
	}

	key := fmt.Sprintf("%s:%s:%s", k.name, orgID, strings.ToLower(value))
	id, err := r.cache.GetOrLoad(key, func() (string, error) {
		return r.lookup(ctx, k, orgID, value)
	})
	if err != nil {
		fiberlog.Errorf("[attribution] Failed to resolve %s %q: %v", k.name, value, err)
		return ""
	}
	return id
}

// lookup returns "" without error when no row matches, so misses are cached.
func (r *Resolver) lookup(ctx context.Context, k kind, orgID, name string) (string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(k.model).
		Where("organization_id = ? AND LOWER(name) = LOWER(?)", orgID, name).
		Order("name ASC").
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return "", fmt.Errorf("failed to look up %s: %w", k.name, err)
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

func (r *Resolver) ClearCache() {
	r.cache.Clear()
}

// Prune drops expired lookups, misses included.
func (r *Resolver) Prune() int {
	return r.cache.Prune()
}

// IsUUID reports whether s is a canonical 36-character UUID.
func IsUUID(s string) bool {
	return len(s) == 36 && uuid.Validate(s) == nil
}
