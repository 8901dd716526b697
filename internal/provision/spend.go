package provision

import (
	"fmt"
	"log"

	"github.com/keyplane/control-plane/internal/crypto"
	"github.com/keyplane/control-plane/internal/database"
)

// SpendInfo reports a key's spend. The gateway is the source of truth;
// Cached is set when the live read failed and the value is the stored
// display fallback.
type SpendInfo struct {
	KeyID          uint     `json:"key_id"`
	Spend          float64  `json:"spend"`
	MaxBudget      *float64 `json:"max_budget,omitempty"`
	BudgetDuration string   `json:"budget_duration,omitempty"`
	Cached         bool     `json:"cached"`
}

// GetSpend reads through to the gateway's live spend figure and refreshes
// the cached copy. On gateway failure it falls back to the cached value.
func (o *Orchestrator) GetSpend(caller *database.User, keyID uint) (*SpendInfo, error) {
	key, err := database.GetPrivateAIKeyByID(keyID)
	if err != nil {
		return nil, fmt.Errorf("%w: Key not found", ErrNotFound)
	}
	if !o.CanView(caller, key) {
		return nil, fmt.Errorf("%w: Key not found", ErrNotFound)
	}

	info, err := o.liveKeyInfo(key)
	if err != nil {
		log.Printf("get spend for key %d: %v", key.ID, err)
		return &SpendInfo{KeyID: key.ID, Spend: key.CachedSpend, Cached: true}, nil
	}

	database.DB.Model(key).Update("cached_spend", info.Spend)
	return &SpendInfo{
		KeyID:          key.ID,
		Spend:          info.Spend,
		MaxBudget:      info.MaxBudget,
		BudgetDuration: info.BudgetDuration,
	}, nil
}

// UpdateBudgetPeriod mutates gateway-side budget duration, then re-reads
// spend for confirmation. The control plane keeps no authoritative copy.
func (o *Orchestrator) UpdateBudgetPeriod(caller *database.User, keyID uint, duration string) (*SpendInfo, error) {
	if duration == "" {
		return nil, fmt.Errorf("%w: budget_duration is required", ErrValidation)
	}
	key, err := database.GetPrivateAIKeyByID(keyID)
	if err != nil {
		return nil, fmt.Errorf("%w: Key not found", ErrNotFound)
	}
	if err := o.authorizeDelete(caller, key); err != nil {
		return nil, err
	}

	region, err := database.GetRegionByID(key.RegionID)
	if err != nil {
		return nil, fmt.Errorf("%w: Region not found", ErrNotFound)
	}
	gw, err := o.NewGateway(region)
	if err != nil {
		log.Printf("update budget period for key %d: %v", key.ID, err)
		return nil, fmt.Errorf("%w: gateway unavailable", ErrExternal)
	}
	token, err := crypto.Decrypt(key.GatewayToken)
	if err != nil {
		return nil, fmt.Errorf("%w: budget update failed", ErrExternal)
	}
	if err := gw.UpdateBudgetDuration(token, duration); err != nil {
		log.Printf("update budget period for key %d: %v", key.ID, err)
		return nil, fmt.Errorf("%w: budget update failed", ErrExternal)
	}

	info, err := gw.GetKeyInfo(token)
	if err != nil {
		log.Printf("re-read spend for key %d: %v", key.ID, err)
		return &SpendInfo{KeyID: key.ID, Spend: key.CachedSpend, Cached: true}, nil
	}
	database.DB.Model(key).Update("cached_spend", info.Spend)
	return &SpendInfo{
		KeyID:          key.ID,
		Spend:          info.Spend,
		MaxBudget:      info.MaxBudget,
		BudgetDuration: info.BudgetDuration,
	}, nil
}

func (o *Orchestrator) liveKeyInfo(key *database.PrivateAIKey) (*SpendInfo, error) {
	region, err := database.GetRegionByID(key.RegionID)
	if err != nil {
		return nil, fmt.Errorf("region %d: %w", key.RegionID, err)
	}
	gw, err := o.NewGateway(region)
	if err != nil {
		return nil, err
	}
	token, err := crypto.Decrypt(key.GatewayToken)
	if err != nil {
		return nil, err
	}
	info, err := gw.GetKeyInfo(token)
	if err != nil {
		return nil, err
	}
	return &SpendInfo{
		Spend:          info.Spend,
		MaxBudget:      info.MaxBudget,
		BudgetDuration: info.BudgetDuration,
	}, nil
}
