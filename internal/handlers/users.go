package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/keyplane/control-plane/internal/auth"
	"github.com/keyplane/control-plane/internal/database"
	"github.com/keyplane/control-plane/internal/middleware"
	"github.com/keyplane/control-plane/internal/roles"
	"github.com/go-chi/chi/v5"
)

func ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := database.ListUsers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}

	result := make([]map[string]interface{}, 0, len(users))
	for i := range users {
		result = append(result, userResponseFor(&users[i]))
	}
	writeJSON(w, http.StatusOK, result)
}

func CreateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
		IsAdmin  bool   `json:"is_admin"`
		TeamID   *uint  `json:"team_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Email == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}
	if body.Role == "" {
		if body.TeamID != nil {
			body.Role = string(roles.RoleReadOnly)
		} else {
			body.Role = string(roles.RoleUser)
		}
	}
	if _, err := roles.ParseRole(body.Role); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.TeamID != nil {
		if _, err := database.GetTeamByID(*body.TeamID); err != nil {
			writeError(w, http.StatusNotFound, "Team not found")
			return
		}
	}

	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	user := database.User{
		Email:        body.Email,
		PasswordHash: hash,
		Role:         body.Role,
		IsAdmin:      body.IsAdmin,
		TeamID:       body.TeamID,
	}
	if err := roles.ValidateUserTypeConstraints(&user); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := database.CreateUser(&user); err != nil {
		writeError(w, http.StatusConflict, "Email already registered")
		return
	}
	writeJSON(w, http.StatusCreated, userResponseFor(&user))
}

func DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	currentUser := middleware.GetUser(r)
	if currentUser != nil && currentUser.ID == uint(id) {
		writeError(w, http.StatusBadRequest, "Cannot delete your own account")
		return
	}

	// Provisioned keys must be torn down through the orchestrator first.
	var keyCount int64
	database.DB.Model(&database.PrivateAIKey{}).Where("owner_id = ?", id).Count(&keyCount)
	if keyCount > 0 {
		writeError(w, http.StatusConflict, "User still owns private AI keys")
		return
	}

	if err := database.DeleteUser(uint(id)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete user")
		return
	}
	SessionStore.DeleteByUserID(uint(id))
	writeJSON(w, http.StatusOK, map[string]string{"detail": "User deleted"})
}

func UpdateUserRole(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	var body struct {
		Role    string `json:"role"`
		IsAdmin *bool  `json:"is_admin"`
		TeamID  *uint  `json:"team_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := database.GetUserByID(uint(id))
	if err != nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	if body.Role != "" {
		if _, err := roles.ParseRole(body.Role); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		user.Role = body.Role
	}
	if body.IsAdmin != nil {
		user.IsAdmin = *body.IsAdmin
	}
	if body.TeamID != nil {
		if *body.TeamID == 0 {
			user.TeamID = nil
		} else {
			if _, err := database.GetTeamByID(*body.TeamID); err != nil {
				writeError(w, http.StatusNotFound, "Team not found")
				return
			}
			user.TeamID = body.TeamID
		}
	}

	if err := roles.ValidateUserTypeConstraints(user); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := database.DB.Save(user).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update user")
		return
	}
	writeJSON(w, http.StatusOK, userResponseFor(user))
}
