package handlers

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/keyplane/control-plane/internal/database"
)

func TestListTeamsScoping(t *testing.T) {
	setupTestDB(t)
	admin := createTestAdmin(t)
	acme := createTestTeam(t, "acme")
	createTestTeam(t, "rival")
	member := database.User{Email: "dev@acme.test", PasswordHash: "x", Role: "key_creator", TeamID: &acme.ID}
	database.DB.Create(&member)

	rec := httptest.NewRecorder()
	ListTeams(rec, newRequest(t, http.MethodGet, "/api/v1/teams", nil, nil, admin))
	if got := decodeList(t, rec); len(got) != 2 {
		t.Errorf("admin sees %d teams, want 2", len(got))
	}

	rec = httptest.NewRecorder()
	ListTeams(rec, newRequest(t, http.MethodGet, "/api/v1/teams", nil, nil, &member))
	got := decodeList(t, rec)
	if len(got) != 1 || got[0]["name"] != "acme" {
		t.Errorf("member should see only their own team: %v", got)
	}

	loner := database.User{Email: "solo@example.com", PasswordHash: "x", Role: "user"}
	database.DB.Create(&loner)
	rec = httptest.NewRecorder()
	ListTeams(rec, newRequest(t, http.MethodGet, "/api/v1/teams", nil, nil, &loner))
	if got := decodeList(t, rec); len(got) != 0 {
		t.Errorf("teamless user should see no teams: %v", got)
	}
}

func TestGetTeamCrossTenantAnswersNotFound(t *testing.T) {
	setupTestDB(t)
	acme := createTestTeam(t, "acme")
	rival := createTestTeam(t, "rival")
	member := database.User{Email: "dev@acme.test", PasswordHash: "x", Role: "key_creator", TeamID: &acme.ID}
	database.DB.Create(&member)

	rec := httptest.NewRecorder()
	GetTeam(rec, newRequest(t, http.MethodGet, "/api/v1/teams/"+strconv.Itoa(int(rival.ID)),
		map[string]string{"teamId": strconv.Itoa(int(rival.ID))}, nil, &member))
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign team: expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	GetTeam(rec, newRequest(t, http.MethodGet, "/api/v1/teams/"+strconv.Itoa(int(acme.ID)),
		map[string]string{"teamId": strconv.Itoa(int(acme.ID))}, nil, &member))
	if rec.Code != http.StatusOK {
		t.Errorf("own team: expected 200, got %d", rec.Code)
	}
}

func TestUpdateTeamForceUserKeys(t *testing.T) {
	setupTestDB(t)
	team := createTestTeam(t, "acme")
	lead := database.User{Email: "lead@acme.test", PasswordHash: "x", Role: "admin", TeamID: &team.ID}
	database.DB.Create(&lead)
	member := database.User{Email: "dev@acme.test", PasswordHash: "x", Role: "key_creator", TeamID: &team.ID}
	database.DB.Create(&member)
	id := strconv.Itoa(int(team.ID))

	// A team admin may flip force_user_keys for their own team.
	rec := httptest.NewRecorder()
	UpdateTeam(rec, newRequest(t, http.MethodPut, "/api/v1/teams/"+id,
		map[string]string{"teamId": id},
		map[string]interface{}{"force_user_keys": true}, &lead))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	updated, _ := database.GetTeamByID(team.ID)
	if !updated.ForceUserKeys {
		t.Error("force_user_keys not set")
	}

	// But nothing else.
	rec = httptest.NewRecorder()
	UpdateTeam(rec, newRequest(t, http.MethodPut, "/api/v1/teams/"+id,
		map[string]string{"teamId": id},
		map[string]interface{}{"name": "renamed"}, &lead))
	if rec.Code != http.StatusForbidden {
		t.Errorf("team admin renaming: expected 403, got %d", rec.Code)
	}

	// Regular members cannot flip it either.
	rec = httptest.NewRecorder()
	UpdateTeam(rec, newRequest(t, http.MethodPut, "/api/v1/teams/"+id,
		map[string]string{"teamId": id},
		map[string]interface{}{"force_user_keys": false}, &member))
	if rec.Code != http.StatusForbidden {
		t.Errorf("member flip: expected 403, got %d", rec.Code)
	}

	// System admins may rename.
	admin := createTestAdmin(t)
	rec = httptest.NewRecorder()
	UpdateTeam(rec, newRequest(t, http.MethodPut, "/api/v1/teams/"+id,
		map[string]string{"teamId": id},
		map[string]interface{}{"name": "renamed", "is_active": false}, admin))
	if rec.Code != http.StatusOK {
		t.Fatalf("admin rename: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	updated, _ = database.GetTeamByID(team.ID)
	if updated.Name != "renamed" || updated.IsActive {
		t.Errorf("admin update not applied: %+v", updated)
	}
}

func TestCreateAndDeleteTeam(t *testing.T) {
	setupTestDB(t)

	rec := httptest.NewRecorder()
	CreateTeam(rec, newRequest(t, http.MethodPost, "/api/v1/teams", nil,
		map[string]string{"name": "acme", "admin_email": "admin@acme.test"}, nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeMap(t, rec)
	teamID := uint(resp["id"].(float64))

	// Duplicate name conflicts.
	rec = httptest.NewRecorder()
	CreateTeam(rec, newRequest(t, http.MethodPost, "/api/v1/teams", nil,
		map[string]string{"name": "acme", "admin_email": "other@acme.test"}, nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate name: expected 409, got %d", rec.Code)
	}

	// Deletion is blocked while the team owns keys.
	database.DB.Create(&database.PrivateAIKey{
		Name: "k", DatabaseName: "paik_1", Host: "h", Username: "u",
		RegionID: 1, TeamID: &teamID,
	})
	id := strconv.Itoa(int(teamID))
	rec = httptest.NewRecorder()
	DeleteTeam(rec, newRequest(t, http.MethodDelete, "/api/v1/teams/"+id,
		map[string]string{"teamId": id}, nil, nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 while keys exist, got %d", rec.Code)
	}

	database.DB.Where("team_id = ?", teamID).Delete(&database.PrivateAIKey{})
	rec = httptest.NewRecorder()
	DeleteTeam(rec, newRequest(t, http.MethodDelete, "/api/v1/teams/"+id,
		map[string]string{"teamId": id}, nil, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, err := database.GetTeamByID(teamID); err == nil {
		t.Error("team should be gone")
	}
}

func TestAttachTeamProductSeedsLimits(t *testing.T) {
	setupTestDB(t)
	team := createTestTeam(t, "acme")
	product := database.Product{Name: "pro", MaxBudgetPerKey: 100, RPMPerKey: 600}
	database.DB.Create(&product)

	params := map[string]string{
		"teamId":    strconv.Itoa(int(team.ID)),
		"productId": strconv.Itoa(int(product.ID)),
	}
	rec := httptest.NewRecorder()
	AttachTeamProduct(rec, newRequest(t, http.MethodPost,
		"/api/v1/teams/1/products/1", params, nil, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	products, _ := database.GetTeamProducts(team.ID)
	if len(products) != 1 {
		t.Fatalf("product not attached")
	}
	rows, err := Limits.GetTeamLimits(team)
	if err != nil {
		t.Fatalf("GetTeamLimits: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 seeded limits, got %d", len(rows))
	}
	for _, row := range rows {
		if row.LimitedBy != "product" {
			t.Errorf("%s: LimitedBy = %q, want product", row.ResourceType, row.LimitedBy)
		}
	}

	// Detach removes the association but leaves limit rows in place.
	rec = httptest.NewRecorder()
	DetachTeamProduct(rec, newRequest(t, http.MethodDelete,
		"/api/v1/teams/1/products/1", params, nil, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("detach: expected 200, got %d", rec.Code)
	}
	products, _ = database.GetTeamProducts(team.ID)
	if len(products) != 0 {
		t.Error("product still attached")
	}
	rows, _ = Limits.GetTeamLimits(team)
	if len(rows) != 2 {
		t.Error("detach must not remove limit rows")
	}
}
