package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/keyplane/control-plane/internal/database"
	"github.com/keyplane/control-plane/internal/middleware"
	"github.com/keyplane/control-plane/internal/roles"
	"github.com/go-chi/chi/v5"
)

func teamResponseFor(t *database.Team) map[string]interface{} {
	return map[string]interface{}{
		"id":              t.ID,
		"name":            t.Name,
		"admin_email":     t.AdminEmail,
		"is_active":       t.IsActive,
		"is_trial":        t.IsTrial,
		"force_user_keys": t.ForceUserKeys,
		"created_at":      formatTimestamp(t.CreatedAt),
	}
}

// getTeamScoped loads a team only when the caller may see it: system
// admins see every team, members see their own. Anyone else gets 404 so
// the lookup never confirms a foreign team exists.
func getTeamScoped(w http.ResponseWriter, r *http.Request) *database.Team {
	id, err := strconv.Atoi(chi.URLParam(r, "teamId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid team ID")
		return nil
	}
	caller := middleware.GetUser(r)
	if caller == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return nil
	}
	if !caller.IsAdmin && (caller.TeamID == nil || *caller.TeamID != uint(id)) {
		writeError(w, http.StatusNotFound, "Team not found")
		return nil
	}
	team, err := database.GetTeamByID(uint(id))
	if err != nil {
		writeError(w, http.StatusNotFound, "Team not found")
		return nil
	}
	return team
}

func ListTeams(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUser(r)
	var teams []database.Team
	q := database.DB.Order("id")
	if !caller.IsAdmin {
		if caller.TeamID == nil {
			writeJSON(w, http.StatusOK, []interface{}{})
			return
		}
		q = q.Where("id = ?", *caller.TeamID)
	}
	if err := q.Find(&teams).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list teams")
		return
	}
	result := make([]map[string]interface{}, 0, len(teams))
	for i := range teams {
		result = append(result, teamResponseFor(&teams[i]))
	}
	writeJSON(w, http.StatusOK, result)
}

func GetTeam(w http.ResponseWriter, r *http.Request) {
	team := getTeamScoped(w, r)
	if team == nil {
		return
	}
	writeJSON(w, http.StatusOK, teamResponseFor(team))
}

func CreateTeam(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name       string `json:"name"`
		AdminEmail string `json:"admin_email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Name == "" || body.AdminEmail == "" {
		writeError(w, http.StatusBadRequest, "Name and admin_email are required")
		return
	}

	team := database.Team{Name: body.Name, AdminEmail: body.AdminEmail}
	if err := database.DB.Create(&team).Error; err != nil {
		writeError(w, http.StatusConflict, "Team name already exists")
		return
	}
	writeJSON(w, http.StatusCreated, teamResponseFor(&team))
}

// UpdateTeam toggles team flags. Team admins may flip force_user_keys for
// their own team; everything else is system-admin only.
func UpdateTeam(w http.ResponseWriter, r *http.Request) {
	team := getTeamScoped(w, r)
	if team == nil {
		return
	}
	caller := middleware.GetUser(r)

	var body struct {
		Name          *string `json:"name"`
		AdminEmail    *string `json:"admin_email"`
		IsActive      *bool   `json:"is_active"`
		ForceUserKeys *bool   `json:"force_user_keys"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !caller.IsAdmin {
		if roles.EffectiveRole(caller) != roles.RoleTeamAdmin ||
			body.Name != nil || body.AdminEmail != nil || body.IsActive != nil {
			writeError(w, http.StatusForbidden, "Not authorized")
			return
		}
	}

	if body.Name != nil {
		team.Name = *body.Name
	}
	if body.AdminEmail != nil {
		team.AdminEmail = *body.AdminEmail
	}
	if body.IsActive != nil {
		team.IsActive = *body.IsActive
	}
	if body.ForceUserKeys != nil {
		team.ForceUserKeys = *body.ForceUserKeys
	}
	if err := database.DB.Save(team).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update team")
		return
	}
	writeJSON(w, http.StatusOK, teamResponseFor(team))
}

func DeleteTeam(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "teamId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid team ID")
		return
	}
	if _, err := database.GetTeamByID(uint(id)); err != nil {
		writeError(w, http.StatusNotFound, "Team not found")
		return
	}

	var keyCount int64
	database.DB.Model(&database.PrivateAIKey{}).Where("team_id = ?", id).Count(&keyCount)
	if keyCount > 0 {
		writeError(w, http.StatusConflict, "Team still owns private AI keys")
		return
	}

	if err := database.DeleteTeam(uint(id)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete team")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "Team deleted"})
}

// AttachTeamProduct attaches a product and seeds product-sourced limits
// for every resource type the product defines.
func AttachTeamProduct(w http.ResponseWriter, r *http.Request) {
	teamID, err := strconv.Atoi(chi.URLParam(r, "teamId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid team ID")
		return
	}
	productID, err := strconv.Atoi(chi.URLParam(r, "productId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid product ID")
		return
	}

	team, err := database.GetTeamByID(uint(teamID))
	if err != nil {
		writeError(w, http.StatusNotFound, "Team not found")
		return
	}
	var product database.Product
	if err := database.DB.First(&product, productID).Error; err != nil {
		writeError(w, http.StatusNotFound, "Product not found")
		return
	}

	if err := database.AttachProductToTeam(team.ID, product.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to attach product")
		return
	}
	if err := Limits.SeedTeamLimits(team, &product); err != nil {
		writeError(w, http.StatusInternalServerError, "Product attached but limit seeding failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "Product attached"})
}

func DetachTeamProduct(w http.ResponseWriter, r *http.Request) {
	teamID, err := strconv.Atoi(chi.URLParam(r, "teamId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid team ID")
		return
	}
	productID, err := strconv.Atoi(chi.URLParam(r, "productId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid product ID")
		return
	}
	if err := database.DetachProductFromTeam(uint(teamID), uint(productID)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to detach product")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "Product detached"})
}
