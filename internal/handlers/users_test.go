package handlers

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/keyplane/control-plane/internal/database"
)

func TestCreateUserRoleDefaults(t *testing.T) {
	setupTestDB(t)
	team := createTestTeam(t, "acme")

	// No role, no team: system-axis default.
	rec := httptest.NewRecorder()
	CreateUser(rec, newRequest(t, http.MethodPost, "/api/v1/users", nil, map[string]interface{}{
		"email": "solo@example.com", "password": "pw",
	}, nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeMap(t, rec); resp["role"] != "user" {
		t.Errorf("teamless default role = %v, want user", resp["role"])
	}

	// No role, with team: most restrictive team role.
	rec = httptest.NewRecorder()
	CreateUser(rec, newRequest(t, http.MethodPost, "/api/v1/users", nil, map[string]interface{}{
		"email": "viewer@acme.test", "password": "pw", "team_id": team.ID,
	}, nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeMap(t, rec); resp["role"] != "read_only" {
		t.Errorf("team default role = %v, want read_only", resp["role"])
	}
}

func TestCreateUserRejectsAxisMismatch(t *testing.T) {
	setupTestDB(t)
	team := createTestTeam(t, "acme")

	cases := []map[string]interface{}{
		{"email": "a@x.test", "password": "pw", "role": "key_creator"},                      // team role, no team
		{"email": "b@x.test", "password": "pw", "role": "user", "team_id": team.ID},        // system role with team
		{"email": "c@x.test", "password": "pw", "is_admin": true, "team_id": team.ID},      // admin with team
		{"email": "d@x.test", "password": "pw", "role": "owner"},                           // unknown role
	}
	for _, body := range cases {
		rec := httptest.NewRecorder()
		CreateUser(rec, newRequest(t, http.MethodPost, "/api/v1/users", nil, body, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%v: expected 400, got %d", body, rec.Code)
		}
	}

	// Unknown team is a 404, not a 400.
	rec := httptest.NewRecorder()
	CreateUser(rec, newRequest(t, http.MethodPost, "/api/v1/users", nil, map[string]interface{}{
		"email": "e@x.test", "password": "pw", "team_id": 999,
	}, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown team: expected 404, got %d", rec.Code)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	setupTestDB(t)
	database.DB.Create(&database.User{Email: "dup@example.com", PasswordHash: "x", Role: "user"})

	rec := httptest.NewRecorder()
	CreateUser(rec, newRequest(t, http.MethodPost, "/api/v1/users", nil, map[string]interface{}{
		"email": "dup@example.com", "password": "pw",
	}, nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestDeleteUser(t *testing.T) {
	setupTestDB(t)
	admin := createTestAdmin(t)
	victim := database.User{Email: "victim@example.com", PasswordHash: "x", Role: "user"}
	database.DB.Create(&victim)
	sessionID, _ := SessionStore.Create(victim.ID)

	rec := httptest.NewRecorder()
	DeleteUser(rec, newRequest(t, http.MethodDelete, "/api/v1/users/"+strconv.Itoa(int(victim.ID)),
		map[string]string{"userId": strconv.Itoa(int(victim.ID))}, nil, admin))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, err := database.GetUserByID(victim.ID); err == nil {
		t.Error("user should be gone")
	}
	if _, ok := SessionStore.Get(sessionID); ok {
		t.Error("victim's sessions must be revoked")
	}

	// Self-deletion is refused.
	rec = httptest.NewRecorder()
	DeleteUser(rec, newRequest(t, http.MethodDelete, "/api/v1/users/"+strconv.Itoa(int(admin.ID)),
		map[string]string{"userId": strconv.Itoa(int(admin.ID))}, nil, admin))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("self delete: expected 400, got %d", rec.Code)
	}
}

func TestDeleteUserWithKeysConflicts(t *testing.T) {
	setupTestDB(t)
	admin := createTestAdmin(t)
	owner := database.User{Email: "owner@example.com", PasswordHash: "x", Role: "user"}
	database.DB.Create(&owner)
	database.DB.Create(&database.PrivateAIKey{
		Name: "k", DatabaseName: "paik_1", Host: "h", Username: "u",
		RegionID: 1, OwnerID: &owner.ID,
	})

	rec := httptest.NewRecorder()
	DeleteUser(rec, newRequest(t, http.MethodDelete, "/api/v1/users/"+strconv.Itoa(int(owner.ID)),
		map[string]string{"userId": strconv.Itoa(int(owner.ID))}, nil, admin))
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 while keys exist, got %d", rec.Code)
	}
}

func TestUpdateUserRole(t *testing.T) {
	setupTestDB(t)
	team := createTestTeam(t, "acme")
	user := database.User{Email: "dev@example.com", PasswordHash: "x", Role: "user"}
	database.DB.Create(&user)
	id := strconv.Itoa(int(user.ID))

	// Move onto the team axis together with a team assignment.
	rec := httptest.NewRecorder()
	UpdateUserRole(rec, newRequest(t, http.MethodPut, "/api/v1/users/"+id+"/role",
		map[string]string{"userId": id},
		map[string]interface{}{"role": "key_creator", "team_id": team.ID}, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	updated, _ := database.GetUserByID(user.ID)
	if updated.Role != "key_creator" || updated.TeamID == nil {
		t.Errorf("update not applied: role=%q team=%v", updated.Role, updated.TeamID)
	}

	// Leaving the team while keeping a team role violates the axis rule.
	rec = httptest.NewRecorder()
	UpdateUserRole(rec, newRequest(t, http.MethodPut, "/api/v1/users/"+id+"/role",
		map[string]string{"userId": id},
		map[string]interface{}{"team_id": 0}, nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("axis violation: expected 400, got %d", rec.Code)
	}

	// team_id 0 clears the team when the role moves back to the system axis.
	rec = httptest.NewRecorder()
	UpdateUserRole(rec, newRequest(t, http.MethodPut, "/api/v1/users/"+id+"/role",
		map[string]string{"userId": id},
		map[string]interface{}{"role": "user", "team_id": 0}, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	updated, _ = database.GetUserByID(user.ID)
	if updated.TeamID != nil {
		t.Error("team_id 0 should clear the membership")
	}
}
