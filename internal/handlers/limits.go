package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/keyplane/control-plane/internal/database"
	"github.com/keyplane/control-plane/internal/limits"
	"github.com/keyplane/control-plane/internal/middleware"
	"github.com/keyplane/control-plane/internal/roles"
	"github.com/go-chi/chi/v5"
)

func limitResponse(lr *database.LimitedResource) map[string]interface{} {
	return map[string]interface{}{
		"id":            lr.ID,
		"owner_type":    lr.OwnerType,
		"owner_id":      lr.OwnerID,
		"resource_type": lr.ResourceType,
		"limit_type":    lr.LimitType,
		"unit":          lr.Unit,
		"max_value":     lr.MaxValue,
		"current_value": lr.CurrentValue,
		"limited_by":    lr.LimitedBy,
		"set_by":        lr.SetBy,
		"updated_at":    formatTimestamp(lr.UpdatedAt),
	}
}

func limitListResponse(rows []database.LimitedResource) []map[string]interface{} {
	result := make([]map[string]interface{}, 0, len(rows))
	for i := range rows {
		result = append(result, limitResponse(&rows[i]))
	}
	return result
}

func GetSystemLimits(w http.ResponseWriter, r *http.Request) {
	rows, err := Limits.GetSystemLimits()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load limits")
		return
	}
	writeJSON(w, http.StatusOK, limitListResponse(rows))
}

func GetTeamLimits(w http.ResponseWriter, r *http.Request) {
	team := getTeamScoped(w, r)
	if team == nil {
		return
	}
	rows, err := Limits.GetTeamLimits(team)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load limits")
		return
	}
	writeJSON(w, http.StatusOK, limitListResponse(rows))
}

// GetUserLimits resolves the effective limit per resource type through
// the user, team, system cascade. Users may read their own; team admins
// their members; system admins anyone.
func GetUserLimits(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	caller := middleware.GetUser(r)
	target, err := database.GetUserByID(uint(id))
	if err != nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if !caller.IsAdmin && caller.ID != target.ID {
		isTeamAdmin := roles.EffectiveRole(caller) == roles.RoleTeamAdmin &&
			caller.TeamID != nil && target.TeamID != nil && *caller.TeamID == *target.TeamID
		if !isTeamAdmin {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
	}
	rows, err := Limits.GetUserLimits(target)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load limits")
		return
	}
	writeJSON(w, http.StatusOK, limitListResponse(rows))
}

// SetLimit upserts a single limit value. System-admin only; the owner
// is addressed in the body rather than the path so one endpoint covers
// all three scopes.
func SetLimit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OwnerType    string   `json:"owner_type"`
		OwnerID      uint     `json:"owner_id"`
		ResourceType string   `json:"resource_type"`
		LimitType    string   `json:"limit_type"`
		Unit         string   `json:"unit"`
		MaxValue     float64  `json:"max_value"`
		CurrentValue *float64 `json:"current_value"`
		LimitedBy    string   `json:"limited_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	ownerType, err := roles.ParseOwnerType(body.OwnerType)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid owner_type")
		return
	}
	if body.ResourceType == "" {
		writeError(w, http.StatusBadRequest, "resource_type is required")
		return
	}
	switch ownerType {
	case roles.OwnerTeam:
		if _, err := database.GetTeamByID(body.OwnerID); err != nil {
			writeError(w, http.StatusNotFound, "Team not found")
			return
		}
	case roles.OwnerUser:
		if _, err := database.GetUserByID(body.OwnerID); err != nil {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
	}

	caller := middleware.GetUser(r)
	saved, err := Limits.SetLimit(limits.SetParams{
		OwnerType:    ownerType,
		OwnerID:      body.OwnerID,
		ResourceType: body.ResourceType,
		LimitType:    body.LimitType,
		Unit:         body.Unit,
		MaxValue:     body.MaxValue,
		CurrentValue: body.CurrentValue,
		LimitedBy:    body.LimitedBy,
		SetBy:        caller.Email,
	})
	if err != nil && !errors.Is(err, limits.ErrPartialFanOut) {
		writeError(w, http.StatusInternalServerError, "Failed to set limit")
		return
	}
	resp := limitResponse(saved)
	if errors.Is(err, limits.ErrPartialFanOut) {
		resp["warning"] = "Limit saved but some gateway tokens were not updated"
	}
	writeJSON(w, http.StatusOK, resp)
}

// ResetLimit restores one limit to its product value, or the system
// default when no product defines it.
func ResetLimit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OwnerType    string `json:"owner_type"`
		OwnerID      uint   `json:"owner_id"`
		ResourceType string `json:"resource_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	ownerType, err := roles.ParseOwnerType(body.OwnerType)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid owner_type")
		return
	}
	saved, err := Limits.ResetLimit(ownerType, body.OwnerID, body.ResourceType)
	if err != nil && !errors.Is(err, limits.ErrPartialFanOut) {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, limitResponse(saved))
}

// ResetTeamLimits walks every limit the team currently has and resets
// each to its product or default value.
func ResetTeamLimits(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "teamId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid team ID")
		return
	}
	team, err := database.GetTeamByID(uint(id))
	if err != nil {
		writeError(w, http.StatusNotFound, "Team not found")
		return
	}
	rows, err := Limits.ResetTeamLimits(team)
	if err != nil && !errors.Is(err, limits.ErrPartialFanOut) {
		writeDomainError(w, err)
		return
	}
	resp := map[string]interface{}{"limits": limitListResponse(rows)}
	if errors.Is(err, limits.ErrPartialFanOut) {
		resp["warning"] = "Limits reset but some gateway tokens were not updated"
	}
	writeJSON(w, http.StatusOK, resp)
}
