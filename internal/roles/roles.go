package roles

import (
	"errors"
	"fmt"

	"github.com/keyplane/control-plane/internal/database"
)

// ErrForbidden is deliberately vague so a failed check never confirms that
// a resource exists.
var ErrForbidden = errors.New("not authorized")

// OwnerType is a position in the quota hierarchy: system is the root, team
// a child of system, user a child of team.
type OwnerType string

const (
	OwnerSystem OwnerType = "system"
	OwnerTeam   OwnerType = "team"
	OwnerUser   OwnerType = "user"
)

func ParseOwnerType(s string) (OwnerType, error) {
	switch OwnerType(s) {
	case OwnerSystem, OwnerTeam, OwnerUser:
		return OwnerType(s), nil
	}
	return "", fmt.Errorf("unknown owner type %q", s)
}

// Role is a closed enum spanning two vocabularies: system users draw from
// {system_admin, user, sales}, team users from {admin, key_creator,
// read_only}. A role string is never valid across axes.
type Role string

const (
	RoleSystemAdmin Role = "system_admin"
	RoleUser        Role = "user"
	RoleSales       Role = "sales"
	RoleTeamAdmin   Role = "admin"
	RoleKeyCreator  Role = "key_creator"
	RoleReadOnly    Role = "read_only"
)

func (r Role) IsSystemRole() bool {
	switch r {
	case RoleSystemAdmin, RoleUser, RoleSales:
		return true
	case RoleTeamAdmin, RoleKeyCreator, RoleReadOnly:
		return false
	}
	return false
}

func (r Role) IsTeamRole() bool {
	switch r {
	case RoleTeamAdmin, RoleKeyCreator, RoleReadOnly:
		return true
	case RoleSystemAdmin, RoleUser, RoleSales:
		return false
	}
	return false
}

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleSystemAdmin, RoleUser, RoleSales, RoleTeamAdmin, RoleKeyCreator, RoleReadOnly:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// rank orders roles for minimum-role gates. The scale mixes team-axis and
// system-axis roles ("user" ranks above "admin" but below "key_creator"),
// which looks unintentional but is load-bearing for existing callers;
// TestMinimumRoleRankingPinsCrossAxisOrdering pins it.
var rank = map[Role]int{
	RoleTeamAdmin:   0,
	RoleUser:        1,
	RoleKeyCreator:  2,
	RoleReadOnly:    3,
	RoleSystemAdmin: 4,
}

// MeetsMinimum reports whether caller satisfies a minimum-role gate:
// the caller's rank must be less than or equal to the required minimum
// rank. System admins always pass.
func MeetsMinimum(caller, minimum Role) bool {
	if caller == RoleSystemAdmin {
		return true
	}
	cr, ok := rank[caller]
	if !ok {
		return false
	}
	mr, ok := rank[minimum]
	if !ok {
		return false
	}
	return cr <= mr
}

// EffectiveRole derives the role used for all access decisions. IsAdmin
// overrides any stored role.
func EffectiveRole(u *database.User) Role {
	if u.IsAdmin {
		return RoleSystemAdmin
	}
	return Role(u.Role)
}

// ValidateUserTypeConstraints rejects users whose admin flag, team
// membership and role vocabulary disagree: a system admin can never hold a
// team_id, and a role must match the axis implied by team_id nullness.
func ValidateUserTypeConstraints(u *database.User) error {
	if u.IsAdmin {
		if u.TeamID != nil {
			return errors.New("system admin cannot be a team member")
		}
		return nil
	}

	role, err := ParseRole(u.Role)
	if err != nil {
		return err
	}
	switch {
	case role.IsSystemRole():
		if u.TeamID != nil {
			return fmt.Errorf("system role %q is not valid for a team member", role)
		}
	case role.IsTeamRole():
		if u.TeamID == nil {
			return fmt.Errorf("team role %q requires team membership", role)
		}
	}
	return nil
}

// CheckAccess grants access iff the user passes type-constraint
// validation, the effective role is in allowed, and (when requireTeam is
// set) the user belongs to a team. System admins bypass the team
// requirement unconditionally. Every failure is ErrForbidden.
func CheckAccess(u *database.User, allowed []Role, requireTeam bool) error {
	if u == nil {
		return ErrForbidden
	}
	if err := ValidateUserTypeConstraints(u); err != nil {
		return ErrForbidden
	}
	eff := EffectiveRole(u)
	found := false
	for _, r := range allowed {
		if eff == r {
			found = true
			break
		}
	}
	if !found {
		return ErrForbidden
	}
	if requireTeam && !u.IsAdmin && u.TeamID == nil {
		return ErrForbidden
	}
	return nil
}
