package provision

import (
	"fmt"

	"github.com/keyplane/control-plane/internal/database"
	"github.com/keyplane/control-plane/internal/roles"
)

type ListFilter struct {
	OwnerID *uint
	TeamID  *uint
}

// ListKeys applies the visibility rules: system admins see everything
// (optionally filtered), team admins see their members' keys plus
// team-owned keys, regular users see their own keys plus team-owned keys
// unless the team sets force_user_keys.
func (o *Orchestrator) ListKeys(caller *database.User, filter ListFilter) ([]database.PrivateAIKey, error) {
	if err := roles.ValidateUserTypeConstraints(caller); err != nil {
		return nil, ErrForbidden
	}

	var keys []database.PrivateAIKey

	if caller.IsAdmin {
		q := database.DB.Order("id")
		if filter.OwnerID != nil {
			q = q.Where("owner_id = ?", *filter.OwnerID)
		}
		if filter.TeamID != nil {
			q = q.Where("team_id = ?", *filter.TeamID)
		}
		if err := q.Find(&keys).Error; err != nil {
			return nil, fmt.Errorf("list keys: %w", err)
		}
		return keys, nil
	}

	if roles.EffectiveRole(caller) == roles.RoleTeamAdmin && caller.TeamID != nil {
		memberIDs, err := database.ListTeamMemberIDs(*caller.TeamID)
		if err != nil {
			return nil, fmt.Errorf("list team members: %w", err)
		}
		if err := database.DB.Where("team_id = ? OR owner_id IN ?", *caller.TeamID, memberIDs).
			Order("id").Find(&keys).Error; err != nil {
			return nil, fmt.Errorf("list keys: %w", err)
		}
		return keys, nil
	}

	includeTeamKeys := false
	if caller.TeamID != nil {
		team, err := database.GetTeamByID(*caller.TeamID)
		if err == nil && !team.ForceUserKeys {
			includeTeamKeys = true
		}
	}

	q := database.DB.Where("owner_id = ?", caller.ID)
	if includeTeamKeys {
		q = database.DB.Where("owner_id = ? OR team_id = ?", caller.ID, *caller.TeamID)
	}
	if err := q.Order("id").Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

// CanView reports whether a key would appear in the caller's listing; used
// by read paths like spend lookups.
func (o *Orchestrator) CanView(caller *database.User, key *database.PrivateAIKey) bool {
	keys, err := o.ListKeys(caller, ListFilter{})
	if err != nil {
		return false
	}
	for _, k := range keys {
		if k.ID == key.ID {
			return true
		}
	}
	return false
}
