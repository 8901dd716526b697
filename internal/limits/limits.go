// Package limits resolves, assigns and resets per-owner resource quotas
// across the system -> team -> user hierarchy, with three provenance
// tiers ordered manual > product > default.
package limits

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/keyplane/control-plane/internal/config"
	"github.com/keyplane/control-plane/internal/crypto"
	"github.com/keyplane/control-plane/internal/database"
	"github.com/keyplane/control-plane/internal/gateway"
	"github.com/keyplane/control-plane/internal/roles"
	"gorm.io/gorm/clause"
)

// SystemOwnerID is the singleton owner id for system-wide default rows.
const SystemOwnerID uint = 0

const (
	SourceManual  = "manual"
	SourceProduct = "product"
	SourceDefault = "default"

	LimitControlPlane = "control_plane"
	LimitDataPlane    = "data_plane"

	UnitCount  = "count"
	UnitDollar = "dollar"
	UnitGB     = "gb"
)

const (
	ResourceBudget          = "max_budget_per_key"
	ResourceRPM             = "rpm_per_key"
	ResourceVectorDBCount   = "vector_db_count"
	ResourceVectorDBStorage = "vector_db_storage_gb"
	ResourceUserCount       = "user_count"
	ResourceKeyCount        = "key_count"
)

// KnownResourceTypes is the deterministic enumeration used by inheritance
// merges and team-wide resets.
var KnownResourceTypes = []string{
	ResourceBudget,
	ResourceRPM,
	ResourceVectorDBCount,
	ResourceVectorDBStorage,
	ResourceUserCount,
	ResourceKeyCount,
}

type resourceMeta struct {
	LimitType string
	Unit      string
}

var resourceMetas = map[string]resourceMeta{
	ResourceBudget:          {LimitDataPlane, UnitDollar},
	ResourceRPM:             {LimitDataPlane, UnitCount},
	ResourceVectorDBCount:   {LimitControlPlane, UnitCount},
	ResourceVectorDBStorage: {LimitControlPlane, UnitGB},
	ResourceUserCount:       {LimitControlPlane, UnitCount},
	ResourceKeyCount:        {LimitControlPlane, UnitCount},
}

// ErrLimitNotFound is returned when a reset cascade exhausts every tier.
// Callers map it to 404 separately from generic not-found conditions.
var ErrLimitNotFound = errors.New("no limit value available")

// ErrPartialFanOut reports that a team budget change persisted locally but
// one or more per-key gateway updates failed.
var ErrPartialFanOut = errors.New("budget fan-out incomplete")

// BudgetUpdater is the slice of the gateway client the engine needs for
// budget fan-out.
type BudgetUpdater interface {
	UpdateMaxBudget(token string, maxBudget float64) error
}

type Engine struct {
	// NewGateway builds a budget updater for a region. Tests substitute a
	// recording fake.
	NewGateway func(region *database.Region) (BudgetUpdater, error)
}

func NewEngine() *Engine {
	return &Engine{NewGateway: defaultGateway}
}

func defaultGateway(region *database.Region) (BudgetUpdater, error) {
	apiKey, err := crypto.Decrypt(region.GatewayAPIKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt gateway key for region %d: %w", region.ID, err)
	}
	timeout, err := time.ParseDuration(config.Cfg.GatewayTimeout)
	if err != nil {
		timeout = 10 * time.Second
	}
	return gateway.NewClient(region.GatewayAPIURL, apiKey, timeout), nil
}

type SetParams struct {
	OwnerType    roles.OwnerType
	OwnerID      uint
	ResourceType string
	LimitType    string
	Unit         string
	MaxValue     float64
	CurrentValue *float64
	LimitedBy    string
	SetBy        string
}

// SetLimit upserts the unique (owner_type, owner_id, resource_type) record.
// The unique index serializes concurrent writers: last writer wins, two
// rows for the same key can never coexist. When the owner is a team and
// the resource is the per-key budget, the new ceiling fans out to every
// gateway token of the team's keys before SetLimit returns; partial
// fan-out failure surfaces as ErrPartialFanOut alongside the persisted
// record.
func (e *Engine) SetLimit(p SetParams) (*database.LimitedResource, error) {
	meta, ok := resourceMetas[p.ResourceType]
	if ok {
		if p.LimitType == "" {
			p.LimitType = meta.LimitType
		}
		if p.Unit == "" {
			p.Unit = meta.Unit
		}
	}
	if p.LimitedBy == "" {
		p.LimitedBy = SourceManual
	}

	record := database.LimitedResource{
		OwnerType:    string(p.OwnerType),
		OwnerID:      p.OwnerID,
		ResourceType: p.ResourceType,
		LimitType:    p.LimitType,
		Unit:         p.Unit,
		MaxValue:     p.MaxValue,
		CurrentValue: p.CurrentValue,
		LimitedBy:    p.LimitedBy,
		SetBy:        p.SetBy,
	}

	err := database.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_type"}, {Name: "owner_id"}, {Name: "resource_type"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"limit_type", "unit", "max_value", "current_value", "limited_by", "set_by", "updated_at",
		}),
	}).Create(&record).Error
	if err != nil {
		return nil, fmt.Errorf("upsert limit: %w", err)
	}

	var saved database.LimitedResource
	if err := database.DB.Where(
		"owner_type = ? AND owner_id = ? AND resource_type = ?",
		p.OwnerType, p.OwnerID, p.ResourceType,
	).First(&saved).Error; err != nil {
		return nil, fmt.Errorf("reload limit: %w", err)
	}

	if p.OwnerType == roles.OwnerTeam && p.ResourceType == ResourceBudget {
		if err := e.fanOutTeamBudget(p.OwnerID, p.MaxValue); err != nil {
			return &saved, err
		}
	}

	return &saved, nil
}

// fanOutTeamBudget pushes a team's per-key budget ceiling to the gateway
// record of every key owned by the team or by one of its members.
func (e *Engine) fanOutTeamBudget(teamID uint, maxValue float64) error {
	memberIDs, err := database.ListTeamMemberIDs(teamID)
	if err != nil {
		return fmt.Errorf("list team members: %w", err)
	}

	var keys []database.PrivateAIKey
	q := database.DB.Where("team_id = ?", teamID)
	if len(memberIDs) > 0 {
		q = database.DB.Where("team_id = ? OR owner_id IN ?", teamID, memberIDs)
	}
	if err := q.Find(&keys).Error; err != nil {
		return fmt.Errorf("list team keys: %w", err)
	}

	failed := 0
	for _, key := range keys {
		region, err := database.GetRegionByID(key.RegionID)
		if err != nil {
			log.Printf("budget fan-out: region %d for key %d: %v", key.RegionID, key.ID, err)
			failed++
			continue
		}
		updater, err := e.NewGateway(region)
		if err != nil {
			log.Printf("budget fan-out: gateway for key %d: %v", key.ID, err)
			failed++
			continue
		}
		token, err := crypto.Decrypt(key.GatewayToken)
		if err != nil {
			log.Printf("budget fan-out: token for key %d: %v", key.ID, err)
			failed++
			continue
		}
		if err := updater.UpdateMaxBudget(token, maxValue); err != nil {
			log.Printf("budget fan-out: update key %d: %v", key.ID, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d key updates failed", ErrPartialFanOut, failed, len(keys))
	}
	return nil
}

// GetSystemLimits returns the global default rows.
func (e *Engine) GetSystemLimits() ([]database.LimitedResource, error) {
	return ownerLimits(roles.OwnerSystem, SystemOwnerID)
}

// GetTeamLimits returns a team's limit rows in resource_type order.
func (e *Engine) GetTeamLimits(team *database.Team) ([]database.LimitedResource, error) {
	return ownerLimits(roles.OwnerTeam, team.ID)
}

func ownerLimits(ownerType roles.OwnerType, ownerID uint) ([]database.LimitedResource, error) {
	var rows []database.LimitedResource
	if err := database.DB.Where("owner_type = ? AND owner_id = ?", ownerType, ownerID).
		Order("resource_type").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load limits: %w", err)
	}
	return rows, nil
}

// GetUserLimits merges limits key-by-key across the known resource types:
// an individual override wins, else the team's record substitutes, else
// the system default, else the type is omitted.
func (e *Engine) GetUserLimits(user *database.User) ([]database.LimitedResource, error) {
	userRows, err := indexedLimits(roles.OwnerUser, user.ID)
	if err != nil {
		return nil, err
	}
	var teamRows map[string]database.LimitedResource
	if user.TeamID != nil {
		teamRows, err = indexedLimits(roles.OwnerTeam, *user.TeamID)
		if err != nil {
			return nil, err
		}
	}
	systemRows, err := indexedLimits(roles.OwnerSystem, SystemOwnerID)
	if err != nil {
		return nil, err
	}

	merged := make([]database.LimitedResource, 0, len(KnownResourceTypes))
	for _, rt := range mergeOrder(userRows, teamRows, systemRows) {
		if row, ok := userRows[rt]; ok {
			merged = append(merged, row)
			continue
		}
		if row, ok := teamRows[rt]; ok {
			merged = append(merged, row)
			continue
		}
		if row, ok := systemRows[rt]; ok {
			merged = append(merged, row)
		}
	}
	return merged, nil
}

// mergeOrder walks KnownResourceTypes first, then any ad hoc types present
// in storage, alphabetically, so the merge stays deterministic even for
// resource types added outside the enumeration.
func mergeOrder(maps ...map[string]database.LimitedResource) []string {
	seen := make(map[string]bool, len(KnownResourceTypes))
	order := make([]string, 0, len(KnownResourceTypes))
	for _, rt := range KnownResourceTypes {
		seen[rt] = true
		order = append(order, rt)
	}
	var extra []string
	for _, m := range maps {
		for rt := range m {
			if !seen[rt] {
				seen[rt] = true
				extra = append(extra, rt)
			}
		}
	}
	sort.Strings(extra)
	return append(order, extra...)
}

func indexedLimits(ownerType roles.OwnerType, ownerID uint) (map[string]database.LimitedResource, error) {
	rows, err := ownerLimits(ownerType, ownerID)
	if err != nil {
		return nil, err
	}
	idx := make(map[string]database.LimitedResource, len(rows))
	for _, row := range rows {
		idx[row.ResourceType] = row
	}
	return idx, nil
}

// ResetLimit moves a record's provenance down the cascade: a
// product-sourced value when the owning team has one attached, else the
// system default. A reset never produces a manual record. Exhausting both
// tiers yields ErrLimitNotFound.
func (e *Engine) ResetLimit(ownerType roles.OwnerType, ownerID uint, resourceType string) (*database.LimitedResource, error) {
	value, source, err := resolveResetValue(ownerType, ownerID, resourceType)
	if err != nil {
		return nil, err
	}
	return e.SetLimit(SetParams{
		OwnerType:    ownerType,
		OwnerID:      ownerID,
		ResourceType: resourceType,
		MaxValue:     value,
		LimitedBy:    source,
		SetBy:        "cascade",
	})
}

func resolveResetValue(ownerType roles.OwnerType, ownerID uint, resourceType string) (float64, string, error) {
	if ownerType == roles.OwnerTeam {
		products, err := database.GetTeamProducts(ownerID)
		if err != nil {
			return 0, "", fmt.Errorf("load team products: %w", err)
		}
		for _, p := range products {
			if v, ok := ProductValue(&p, resourceType); ok {
				return v, SourceProduct, nil
			}
		}
	}

	var row database.LimitedResource
	err := database.DB.Where(
		"owner_type = ? AND owner_id = ? AND resource_type = ?",
		roles.OwnerSystem, SystemOwnerID, resourceType,
	).First(&row).Error
	if err == nil {
		return row.MaxValue, SourceDefault, nil
	}
	return 0, "", fmt.Errorf("%w: %s for %s %d", ErrLimitNotFound, resourceType, ownerType, ownerID)
}

// ResetTeamLimits cascades every resource type the team has a record for,
// in known-type order, and returns the resulting records.
func (e *Engine) ResetTeamLimits(team *database.Team) ([]database.LimitedResource, error) {
	existing, err := indexedLimits(roles.OwnerTeam, team.ID)
	if err != nil {
		return nil, err
	}

	var fanOutErr error
	results := make([]database.LimitedResource, 0, len(existing))
	for _, rt := range mergeOrder(existing) {
		if _, ok := existing[rt]; !ok {
			continue
		}
		record, err := e.ResetLimit(roles.OwnerTeam, team.ID, rt)
		if err != nil {
			// Partial fan-out still yields a persisted record; finish the
			// sweep but surface the failure.
			if record == nil {
				return nil, err
			}
			if fanOutErr == nil {
				fanOutErr = err
			}
		}
		results = append(results, *record)
	}
	return results, fanOutErr
}

// DefaultSystemLimits are the floor values seeded for the system owner on
// startup. Existing rows are never overwritten, so operator overrides
// survive restarts.
var DefaultSystemLimits = map[string]float64{
	ResourceBudget:          20,
	ResourceRPM:             60,
	ResourceVectorDBCount:   1,
	ResourceVectorDBStorage: 1,
	ResourceUserCount:       5,
	ResourceKeyCount:        2,
}

func (e *Engine) EnsureSystemDefaults() error {
	for _, rt := range KnownResourceTypes {
		v, ok := DefaultSystemLimits[rt]
		if !ok {
			continue
		}
		var count int64
		database.DB.Model(&database.LimitedResource{}).Where(
			"owner_type = ? AND owner_id = ? AND resource_type = ?",
			roles.OwnerSystem, SystemOwnerID, rt,
		).Count(&count)
		if count > 0 {
			continue
		}
		if _, err := e.SetLimit(SetParams{
			OwnerType:    roles.OwnerSystem,
			OwnerID:      SystemOwnerID,
			ResourceType: rt,
			MaxValue:     v,
			LimitedBy:    SourceDefault,
			SetBy:        "seed",
		}); err != nil {
			return fmt.Errorf("seed system limit %s: %w", rt, err)
		}
	}
	return nil
}

// ProductValue maps a resource type onto a product's bundled default. A
// zero value means the product does not define that resource.
func ProductValue(p *database.Product, resourceType string) (float64, bool) {
	var v float64
	switch resourceType {
	case ResourceBudget:
		v = p.MaxBudgetPerKey
	case ResourceRPM:
		v = p.RPMPerKey
	case ResourceVectorDBCount:
		v = p.VectorDBCount
	case ResourceVectorDBStorage:
		v = p.VectorDBStorageGB
	case ResourceUserCount:
		v = p.UserCount
	case ResourceKeyCount:
		v = p.KeyCount
	default:
		return 0, false
	}
	return v, v > 0
}

// SeedTeamLimits writes product-sourced rows for every resource type the
// product defines. Used on product attach and trial bootstrap.
func (e *Engine) SeedTeamLimits(team *database.Team, product *database.Product) error {
	for _, rt := range KnownResourceTypes {
		v, ok := ProductValue(product, rt)
		if !ok {
			continue
		}
		if _, err := e.SetLimit(SetParams{
			OwnerType:    roles.OwnerTeam,
			OwnerID:      team.ID,
			ResourceType: rt,
			MaxValue:     v,
			LimitedBy:    SourceProduct,
			SetBy:        "product:" + product.Name,
		}); err != nil && !errors.Is(err, ErrPartialFanOut) {
			return err
		}
	}
	return nil
}
