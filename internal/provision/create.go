package provision

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/keyplane/control-plane/internal/crypto"
	"github.com/keyplane/control-plane/internal/database"
	"github.com/keyplane/control-plane/internal/dbadmin"
	"github.com/keyplane/control-plane/internal/logutil"
	"github.com/keyplane/control-plane/internal/roles"
)

type CreateRequest struct {
	Name     string
	RegionID uint
	OwnerID  *uint
	TeamID   *uint
}

// CreatedKey carries the one-time plaintext credentials alongside the
// persisted record, which stores them encrypted.
type CreatedKey struct {
	Key      *database.PrivateAIKey
	Password string
	Token    string
}

// sagaStep pairs a forward action with its compensation. A nil undo marks
// a step whose side effects cannot be safely unwound; the create flow's
// database DDL is the documented case.
type sagaStep struct {
	name string
	run  func() error
	undo func() error
}

// runSaga executes steps in order. On failure it runs the compensations of
// completed steps in reverse, best effort, and returns the original error.
func runSaga(steps []sagaStep) error {
	var done []sagaStep
	for _, s := range steps {
		if err := s.run(); err != nil {
			for i := len(done) - 1; i >= 0; i-- {
				if done[i].undo == nil {
					continue
				}
				if uerr := done[i].undo(); uerr != nil {
					log.Printf("compensation for step %s failed: %v", done[i].name, uerr)
				}
			}
			return fmt.Errorf("step %s: %w", s.name, err)
		}
		done = append(done, s)
	}
	return nil
}

// CreateKey provisions a key pair: gateway token first, then the isolated
// database (which records the token), then the local record. The token is
// deleted if any later step fails; a mid-DDL failure can still orphan the
// database and role on the region's server; retrying the create after
// that produces a fresh database rather than repairing the old one.
func (o *Orchestrator) CreateKey(ctx context.Context, caller *database.User, req CreateRequest) (*CreatedKey, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if req.OwnerID != nil && req.TeamID != nil {
		return nil, fmt.Errorf("%w: cannot specify both owner_id and team_id", ErrValidation)
	}
	if req.OwnerID == nil && req.TeamID == nil {
		req.OwnerID = &caller.ID
	}

	if err := o.authorizeCreate(caller, req); err != nil {
		return nil, err
	}

	region, err := database.GetRegionByID(req.RegionID)
	if err != nil || !region.IsActive {
		return nil, fmt.Errorf("%w: Region not found or inactive", ErrNotFound)
	}

	// Billing/display identity and the id the gateway attributes spend to.
	var email string
	var gatewayOwnerID uint
	var owningTeamID *uint
	if req.TeamID != nil {
		team, err := database.GetTeamByID(*req.TeamID)
		if err != nil {
			return nil, fmt.Errorf("%w: Team not found", ErrNotFound)
		}
		email = team.AdminEmail
		gatewayOwnerID = team.ID
		owningTeamID = &team.ID
	} else {
		owner, err := database.GetUserByID(*req.OwnerID)
		if err != nil {
			return nil, fmt.Errorf("%w: Owner not found", ErrNotFound)
		}
		email = owner.Email
		gatewayOwnerID = owner.ID
		owningTeamID = owner.TeamID
	}

	// Dedicated regions are visible only to their associated teams; answer
	// not-found to everyone else.
	if region.IsDedicated && !caller.IsAdmin {
		if owningTeamID == nil || !database.IsTeamAssignedToRegion(region.ID, *owningTeamID) {
			return nil, fmt.Errorf("%w: Region not found or inactive", ErrNotFound)
		}
	}

	gw, err := o.NewGateway(region)
	if err != nil {
		log.Printf("create key: gateway for region %d: %v", region.ID, err)
		return nil, fmt.Errorf("%w: gateway unavailable", ErrExternal)
	}
	admin, err := o.NewAdmin(region)
	if err != nil {
		log.Printf("create key: db admin for region %d: %v", region.ID, err)
		return nil, fmt.Errorf("%w: database admin unavailable", ErrExternal)
	}

	dbName := generateIdent("paik")
	dbUser := generateIdent("paik_user")
	dbPassword := uuid.NewString()

	var token string
	key := &database.PrivateAIKey{
		Name:          req.Name,
		DatabaseName:  dbName,
		Host:          region.PostgresHost,
		Username:      dbUser,
		GatewayAPIURL: region.GatewayAPIURL,
		RegionID:      region.ID,
		OwnerID:       req.OwnerID,
		TeamID:        req.TeamID,
	}

	steps := []sagaStep{
		{
			name: "gateway-token",
			run: func() error {
				t, err := gw.CreateKey(email, req.Name, gatewayOwnerID)
				token = t
				return err
			},
			undo: func() error { return gw.DeleteKey(token) },
		},
		{
			// Sequential DDL against the region's admin connection. There
			// is no undo: Postgres DDL already committed when a later
			// statement fails stays committed, and the orphaned database
			// needs manual cleanup.
			name: "provision-database",
			run: func() error {
				return admin.CreateDatabase(ctx, dbadmin.DatabaseSpec{
					Name:         dbName,
					User:         dbUser,
					Password:     dbPassword,
					GatewayToken: token,
				})
			},
		},
		{
			name: "persist-record",
			run: func() error {
				encPassword, err := crypto.Encrypt(dbPassword)
				if err != nil {
					return err
				}
				encToken, err := crypto.Encrypt(token)
				if err != nil {
					return err
				}
				key.Password = encPassword
				key.GatewayToken = encToken
				return database.DB.Create(key).Error
			},
		},
	}

	if err := runSaga(steps); err != nil {
		log.Printf("create key %s: %v", logutil.SanitizeForLog(req.Name), err)
		return nil, fmt.Errorf("%w: key provisioning failed", ErrExternal)
	}

	return &CreatedKey{Key: key, Password: dbPassword, Token: token}, nil
}

// authorizeCreate is a capability check, not an ownership check: user and
// key_creator roles create only for themselves, a team admin only for
// their own team or its members, a system admin for anyone.
func (o *Orchestrator) authorizeCreate(caller *database.User, req CreateRequest) error {
	if err := roles.ValidateUserTypeConstraints(caller); err != nil {
		return ErrForbidden
	}

	switch roles.EffectiveRole(caller) {
	case roles.RoleSystemAdmin:
		return nil
	case roles.RoleTeamAdmin:
		if req.TeamID != nil {
			if caller.TeamID == nil || *req.TeamID != *caller.TeamID {
				return ErrForbidden
			}
			return nil
		}
		if *req.OwnerID == caller.ID {
			return nil
		}
		target, err := database.GetUserByID(*req.OwnerID)
		if err != nil {
			return fmt.Errorf("%w: Owner not found", ErrNotFound)
		}
		if target.TeamID == nil || caller.TeamID == nil || *target.TeamID != *caller.TeamID {
			return ErrForbidden
		}
		return nil
	case roles.RoleUser, roles.RoleKeyCreator:
		if req.TeamID != nil || *req.OwnerID != caller.ID {
			return ErrForbidden
		}
		return nil
	default:
		return ErrForbidden
	}
}

// generateIdent returns a globally unique, lowercase Postgres identifier.
func generateIdent(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
