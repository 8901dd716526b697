package provision

import (
	"context"
	"fmt"
	"log"

	"github.com/keyplane/control-plane/internal/crypto"
	"github.com/keyplane/control-plane/internal/database"
	"github.com/keyplane/control-plane/internal/roles"
)

// DeleteKey tears down both halves of a key. The gateway token goes first
// so billing stops accruing as early as possible; the database teardown
// terminates active backends before dropping so the DROP cannot fail with
// "database in use".
func (o *Orchestrator) DeleteKey(ctx context.Context, caller *database.User, keyID uint) error {
	key, err := database.GetPrivateAIKeyByID(keyID)
	if err != nil {
		return fmt.Errorf("%w: Key not found", ErrNotFound)
	}

	if err := o.authorizeDelete(caller, key); err != nil {
		return err
	}

	region, err := database.GetRegionByID(key.RegionID)
	if err != nil {
		return fmt.Errorf("%w: Region not found", ErrNotFound)
	}

	gw, err := o.NewGateway(region)
	if err != nil {
		log.Printf("delete key %d: gateway for region %d: %v", key.ID, region.ID, err)
		return fmt.Errorf("%w: gateway unavailable", ErrExternal)
	}
	token, err := crypto.Decrypt(key.GatewayToken)
	if err != nil {
		return fmt.Errorf("%w: key teardown failed", ErrExternal)
	}
	if err := gw.DeleteKey(token); err != nil {
		log.Printf("delete key %d: gateway token: %v", key.ID, err)
		return fmt.Errorf("%w: key teardown failed", ErrExternal)
	}

	admin, err := o.NewAdmin(region)
	if err != nil {
		log.Printf("delete key %d: db admin for region %d: %v", key.ID, region.ID, err)
		return fmt.Errorf("%w: database admin unavailable", ErrExternal)
	}
	if err := admin.DeleteDatabase(ctx, key.DatabaseName, key.Username); err != nil {
		log.Printf("delete key %d: database: %v", key.ID, err)
		return fmt.Errorf("%w: key teardown failed", ErrExternal)
	}

	if err := database.DB.Delete(&database.PrivateAIKey{}, key.ID).Error; err != nil {
		return fmt.Errorf("remove key record: %w", err)
	}
	return nil
}

// authorizeDelete: system admin, or a team admin whose team matches the
// key's team (directly or via the owner's team), or the individual owner.
// Everyone else gets not-found so the check never confirms the key exists.
func (o *Orchestrator) authorizeDelete(caller *database.User, key *database.PrivateAIKey) error {
	if err := roles.ValidateUserTypeConstraints(caller); err != nil {
		return ErrForbidden
	}
	if caller.IsAdmin {
		return nil
	}
	if key.OwnerID != nil && *key.OwnerID == caller.ID {
		return nil
	}
	if roles.EffectiveRole(caller) == roles.RoleTeamAdmin && caller.TeamID != nil {
		if keyTeam := keyTeamID(key); keyTeam != nil && *keyTeam == *caller.TeamID {
			return nil
		}
	}
	return fmt.Errorf("%w: Key not found", ErrNotFound)
}

// keyTeamID resolves the team a key belongs to: its own team for
// team-owned keys, else the owner's team.
func keyTeamID(key *database.PrivateAIKey) *uint {
	if key.TeamID != nil {
		return key.TeamID
	}
	if key.OwnerID != nil {
		owner, err := database.GetUserByID(*key.OwnerID)
		if err == nil {
			return owner.TeamID
		}
	}
	return nil
}
