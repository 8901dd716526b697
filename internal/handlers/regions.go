package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/keyplane/control-plane/internal/crypto"
	"github.com/keyplane/control-plane/internal/database"
	"github.com/keyplane/control-plane/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// regionResponse never includes admin credentials or the gateway key,
// even masked. Admins re-enter secrets on update instead of reading them
// back.
func regionResponse(rg *database.Region) map[string]interface{} {
	return map[string]interface{}{
		"id":              rg.ID,
		"name":            rg.Name,
		"postgres_host":   rg.PostgresHost,
		"postgres_port":   rg.PostgresPort,
		"litellm_api_url": rg.GatewayAPIURL,
		"is_active":       rg.IsActive,
		"is_dedicated":    rg.IsDedicated,
		"created_at":      formatTimestamp(rg.CreatedAt),
	}
}

// ListRegions returns regions usable by the caller: every shared active
// region, plus dedicated regions assigned to the caller's team. System
// admins see everything including inactive regions.
func ListRegions(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUser(r)
	var regions []database.Region
	if err := database.DB.Order("id").Find(&regions).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list regions")
		return
	}
	result := make([]map[string]interface{}, 0, len(regions))
	for i := range regions {
		rg := &regions[i]
		if !caller.IsAdmin {
			if !rg.IsActive {
				continue
			}
			if rg.IsDedicated {
				if caller.TeamID == nil || !database.IsTeamAssignedToRegion(rg.ID, *caller.TeamID) {
					continue
				}
			}
		}
		result = append(result, regionResponse(rg))
	}
	writeJSON(w, http.StatusOK, result)
}

func GetRegion(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "regionId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid region ID")
		return
	}
	region, err := database.GetRegionByID(uint(id))
	if err != nil {
		writeError(w, http.StatusNotFound, "Region not found")
		return
	}
	writeJSON(w, http.StatusOK, regionResponse(region))
}

func CreateRegion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name                  string `json:"name"`
		PostgresHost          string `json:"postgres_host"`
		PostgresPort          int    `json:"postgres_port"`
		PostgresAdminUser     string `json:"postgres_admin_user"`
		PostgresAdminPassword string `json:"postgres_admin_password"`
		GatewayAPIURL         string `json:"litellm_api_url"`
		GatewayAPIKey         string `json:"litellm_api_key"`
		IsDedicated           bool   `json:"is_dedicated"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Name == "" || body.PostgresHost == "" || body.PostgresAdminUser == "" || body.GatewayAPIURL == "" {
		writeError(w, http.StatusBadRequest, "Name, postgres_host, postgres_admin_user and litellm_api_url are required")
		return
	}
	if body.PostgresPort == 0 {
		body.PostgresPort = 5432
	}

	encPassword, err := crypto.Encrypt(body.PostgresAdminPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encrypt credentials")
		return
	}
	encKey, err := crypto.Encrypt(body.GatewayAPIKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encrypt credentials")
		return
	}

	region := database.Region{
		Name:                  body.Name,
		PostgresHost:          body.PostgresHost,
		PostgresPort:          body.PostgresPort,
		PostgresAdminUser:     body.PostgresAdminUser,
		PostgresAdminPassword: encPassword,
		GatewayAPIURL:         body.GatewayAPIURL,
		GatewayAPIKey:         encKey,
		IsActive:              true,
		IsDedicated:           body.IsDedicated,
	}
	if err := database.DB.Create(&region).Error; err != nil {
		writeError(w, http.StatusConflict, "Region name already exists")
		return
	}
	writeJSON(w, http.StatusCreated, regionResponse(&region))
}

func UpdateRegion(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "regionId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid region ID")
		return
	}
	region, err := database.GetRegionByID(uint(id))
	if err != nil {
		writeError(w, http.StatusNotFound, "Region not found")
		return
	}

	var body struct {
		Name                  *string `json:"name"`
		PostgresHost          *string `json:"postgres_host"`
		PostgresPort          *int    `json:"postgres_port"`
		PostgresAdminUser     *string `json:"postgres_admin_user"`
		PostgresAdminPassword *string `json:"postgres_admin_password"`
		GatewayAPIURL         *string `json:"litellm_api_url"`
		GatewayAPIKey         *string `json:"litellm_api_key"`
		IsActive              *bool   `json:"is_active"`
		IsDedicated           *bool   `json:"is_dedicated"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if body.Name != nil {
		region.Name = *body.Name
	}
	if body.PostgresHost != nil {
		region.PostgresHost = *body.PostgresHost
	}
	if body.PostgresPort != nil {
		region.PostgresPort = *body.PostgresPort
	}
	if body.PostgresAdminUser != nil {
		region.PostgresAdminUser = *body.PostgresAdminUser
	}
	if body.PostgresAdminPassword != nil {
		enc, err := crypto.Encrypt(*body.PostgresAdminPassword)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to encrypt credentials")
			return
		}
		region.PostgresAdminPassword = enc
	}
	if body.GatewayAPIURL != nil {
		region.GatewayAPIURL = *body.GatewayAPIURL
	}
	if body.GatewayAPIKey != nil {
		enc, err := crypto.Encrypt(*body.GatewayAPIKey)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to encrypt credentials")
			return
		}
		region.GatewayAPIKey = enc
	}
	if body.IsActive != nil {
		region.IsActive = *body.IsActive
	}
	if body.IsDedicated != nil {
		region.IsDedicated = *body.IsDedicated
	}

	if err := database.DB.Save(region).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update region")
		return
	}
	writeJSON(w, http.StatusOK, regionResponse(region))
}

func DeleteRegion(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "regionId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid region ID")
		return
	}
	var keyCount int64
	database.DB.Model(&database.PrivateAIKey{}).Where("region_id = ?", id).Count(&keyCount)
	if keyCount > 0 {
		writeError(w, http.StatusConflict, "Region still hosts private AI keys")
		return
	}
	database.DB.Where("region_id = ?", id).Delete(&database.RegionTeam{})
	if err := database.DB.Delete(&database.Region{}, id).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete region")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "Region deleted"})
}

// AssignRegionTeam grants a team access to a dedicated region.
func AssignRegionTeam(w http.ResponseWriter, r *http.Request) {
	regionID, err := strconv.Atoi(chi.URLParam(r, "regionId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid region ID")
		return
	}
	teamID, err := strconv.Atoi(chi.URLParam(r, "teamId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid team ID")
		return
	}
	region, err := database.GetRegionByID(uint(regionID))
	if err != nil {
		writeError(w, http.StatusNotFound, "Region not found")
		return
	}
	if !region.IsDedicated {
		writeError(w, http.StatusBadRequest, "Region is not dedicated")
		return
	}
	if _, err := database.GetTeamByID(uint(teamID)); err != nil {
		writeError(w, http.StatusNotFound, "Team not found")
		return
	}
	link := database.RegionTeam{RegionID: uint(regionID), TeamID: uint(teamID)}
	if err := database.DB.Where(&link).FirstOrCreate(&link).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to assign team")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "Team assigned to region"})
}

func UnassignRegionTeam(w http.ResponseWriter, r *http.Request) {
	regionID, err := strconv.Atoi(chi.URLParam(r, "regionId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid region ID")
		return
	}
	teamID, err := strconv.Atoi(chi.URLParam(r, "teamId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid team ID")
		return
	}
	if err := database.DB.Where("region_id = ? AND team_id = ?", regionID, teamID).
		Delete(&database.RegionTeam{}).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to unassign team")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "Team unassigned from region"})
}
