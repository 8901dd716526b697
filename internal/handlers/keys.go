package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/keyplane/control-plane/internal/database"
	"github.com/keyplane/control-plane/internal/middleware"
	"github.com/keyplane/control-plane/internal/provision"
	"github.com/go-chi/chi/v5"
)

// Orch runs key provisioning. Injected from main; tests swap in an
// orchestrator with fake gateway and database factories.
var Orch *provision.Orchestrator

func keyResponse(k *database.PrivateAIKey) map[string]interface{} {
	return map[string]interface{}{
		"id":              k.ID,
		"name":            k.Name,
		"database_name":   k.DatabaseName,
		"host":            k.Host,
		"username":        k.Username,
		"litellm_api_url": k.GatewayAPIURL,
		"region_id":       k.RegionID,
		"owner_id":        k.OwnerID,
		"team_id":         k.TeamID,
		"cached_spend":    k.CachedSpend,
		"created_at":      formatTimestamp(k.CreatedAt),
	}
}

// CreateKey provisions a private AI key. The response is the only place
// the database password and gateway token ever appear in plaintext.
func CreateKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		RegionID uint   `json:"region_id"`
		OwnerID  *uint  `json:"owner_id"`
		TeamID   *uint  `json:"team_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	caller := middleware.GetUser(r)
	created, err := Orch.CreateKey(r.Context(), caller, provision.CreateRequest{
		Name:     body.Name,
		RegionID: body.RegionID,
		OwnerID:  body.OwnerID,
		TeamID:   body.TeamID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := keyResponse(created.Key)
	resp["password"] = created.Password
	resp["litellm_token"] = created.Token
	writeJSON(w, http.StatusCreated, resp)
}

func ListKeys(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUser(r)
	var filter provision.ListFilter
	if v := r.URL.Query().Get("owner_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid owner_id")
			return
		}
		u := uint(id)
		filter.OwnerID = &u
	}
	if v := r.URL.Query().Get("team_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid team_id")
			return
		}
		u := uint(id)
		filter.TeamID = &u
	}
	keys, err := Orch.ListKeys(caller, filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	result := make([]map[string]interface{}, 0, len(keys))
	for i := range keys {
		result = append(result, keyResponse(&keys[i]))
	}
	writeJSON(w, http.StatusOK, result)
}

func GetKey(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "keyId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid key ID")
		return
	}
	caller := middleware.GetUser(r)
	key, err := database.GetPrivateAIKeyByID(uint(id))
	if err != nil || !Orch.CanView(caller, key) {
		writeError(w, http.StatusNotFound, "Key not found")
		return
	}
	writeJSON(w, http.StatusOK, keyResponse(key))
}

func DeleteKey(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "keyId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid key ID")
		return
	}
	caller := middleware.GetUser(r)
	if err := Orch.DeleteKey(r.Context(), caller, uint(id)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "Key deleted"})
}

func GetKeySpend(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "keyId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid key ID")
		return
	}
	caller := middleware.GetUser(r)
	info, err := Orch.GetSpend(caller, uint(id))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func UpdateKeyBudgetPeriod(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "keyId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid key ID")
		return
	}
	var body struct {
		BudgetDuration string `json:"budget_duration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	caller := middleware.GetUser(r)
	info, err := Orch.UpdateBudgetPeriod(caller, uint(id), body.BudgetDuration)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
