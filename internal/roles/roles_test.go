package roles

import (
	"errors"
	"testing"

	"github.com/keyplane/control-plane/internal/database"
)

func uintPtr(v uint) *uint { return &v }

func TestParseOwnerType(t *testing.T) {
	for _, s := range []string{"system", "team", "user"} {
		if _, err := ParseOwnerType(s); err != nil {
			t.Errorf("ParseOwnerType(%q): %v", s, err)
		}
	}
	if _, err := ParseOwnerType("region"); err == nil {
		t.Error("expected error for unknown owner type")
	}
}

func TestParseRoleRejectsUnknown(t *testing.T) {
	if _, err := ParseRole("owner"); err == nil {
		t.Error("expected error for unknown role")
	}
	if _, err := ParseRole(""); err == nil {
		t.Error("expected error for empty role")
	}
}

func TestRoleAxes(t *testing.T) {
	systemRoles := []Role{RoleSystemAdmin, RoleUser, RoleSales}
	teamRoles := []Role{RoleTeamAdmin, RoleKeyCreator, RoleReadOnly}

	for _, r := range systemRoles {
		if !r.IsSystemRole() || r.IsTeamRole() {
			t.Errorf("%s should be a system role only", r)
		}
	}
	for _, r := range teamRoles {
		if !r.IsTeamRole() || r.IsSystemRole() {
			t.Errorf("%s should be a team role only", r)
		}
	}
}

// TestMinimumRoleRankingPinsCrossAxisOrdering pins the rank scale
// admin < user < key_creator < read_only < system_admin. The mix of team
// and system roles on one scale is intentional; changing the relative
// order silently changes every minimum-role gate.
func TestMinimumRoleRankingPinsCrossAxisOrdering(t *testing.T) {
	order := []Role{RoleTeamAdmin, RoleUser, RoleKeyCreator, RoleReadOnly, RoleSystemAdmin}
	for i, r := range order {
		if rank[r] != i {
			t.Errorf("rank[%s] = %d, want %d", r, rank[r], i)
		}
	}
}

func TestMeetsMinimum(t *testing.T) {
	cases := []struct {
		caller, minimum Role
		want            bool
	}{
		{RoleSystemAdmin, RoleTeamAdmin, true}, // system admin always passes
		{RoleSystemAdmin, RoleReadOnly, true},
		{RoleTeamAdmin, RoleTeamAdmin, true},
		{RoleTeamAdmin, RoleReadOnly, true},
		{RoleUser, RoleTeamAdmin, false}, // user outranked by team admin
		{RoleUser, RoleKeyCreator, true}, // but passes a key_creator gate
		{RoleKeyCreator, RoleUser, false},
		{RoleReadOnly, RoleReadOnly, true},
		{RoleReadOnly, RoleKeyCreator, false},
		{RoleSales, RoleReadOnly, false}, // unranked role never passes
	}
	for _, c := range cases {
		if got := MeetsMinimum(c.caller, c.minimum); got != c.want {
			t.Errorf("MeetsMinimum(%s, %s) = %v, want %v", c.caller, c.minimum, got, c.want)
		}
	}
}

func TestEffectiveRoleAdminOverride(t *testing.T) {
	u := &database.User{Role: string(RoleReadOnly), IsAdmin: true}
	if got := EffectiveRole(u); got != RoleSystemAdmin {
		t.Errorf("EffectiveRole = %s, want system_admin", got)
	}
	u.IsAdmin = false
	if got := EffectiveRole(u); got != RoleReadOnly {
		t.Errorf("EffectiveRole = %s, want read_only", got)
	}
}

func TestValidateUserTypeConstraints(t *testing.T) {
	cases := []struct {
		name    string
		user    database.User
		wantErr bool
	}{
		{"admin without team", database.User{IsAdmin: true}, false},
		{"admin with team", database.User{IsAdmin: true, TeamID: uintPtr(1)}, true},
		{"system role without team", database.User{Role: "user"}, false},
		{"system role with team", database.User{Role: "user", TeamID: uintPtr(1)}, true},
		{"team role with team", database.User{Role: "key_creator", TeamID: uintPtr(1)}, false},
		{"team role without team", database.User{Role: "key_creator"}, true},
		{"unknown role", database.User{Role: "owner"}, true},
	}
	for _, c := range cases {
		err := ValidateUserTypeConstraints(&c.user)
		if (err != nil) != c.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", c.name, err, c.wantErr)
		}
	}
}

func TestCheckAccess(t *testing.T) {
	tid := uintPtr(7)

	member := &database.User{Role: string(RoleKeyCreator), TeamID: tid}
	if err := CheckAccess(member, []Role{RoleKeyCreator}, true); err != nil {
		t.Errorf("member should pass: %v", err)
	}
	if err := CheckAccess(member, []Role{RoleTeamAdmin}, false); !errors.Is(err, ErrForbidden) {
		t.Errorf("role not in allowed set should be ErrForbidden, got %v", err)
	}

	// System admins bypass the team requirement.
	admin := &database.User{Role: string(RoleSystemAdmin), IsAdmin: true}
	if err := CheckAccess(admin, []Role{RoleSystemAdmin}, true); err != nil {
		t.Errorf("system admin should bypass team requirement: %v", err)
	}

	loner := &database.User{Role: string(RoleUser)}
	if err := CheckAccess(loner, []Role{RoleUser}, true); !errors.Is(err, ErrForbidden) {
		t.Errorf("teamless user with requireTeam should be ErrForbidden, got %v", err)
	}

	// Inconsistent users fail closed.
	broken := &database.User{Role: string(RoleTeamAdmin)}
	if err := CheckAccess(broken, []Role{RoleTeamAdmin}, false); !errors.Is(err, ErrForbidden) {
		t.Errorf("constraint violation should be ErrForbidden, got %v", err)
	}

	if err := CheckAccess(nil, []Role{RoleUser}, false); !errors.Is(err, ErrForbidden) {
		t.Errorf("nil user should be ErrForbidden, got %v", err)
	}
}
