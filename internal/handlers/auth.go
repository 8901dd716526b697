package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/keyplane/control-plane/internal/auth"
	"github.com/keyplane/control-plane/internal/config"
	"github.com/keyplane/control-plane/internal/database"
	"github.com/keyplane/control-plane/internal/limits"
	"github.com/keyplane/control-plane/internal/logutil"
	"github.com/keyplane/control-plane/internal/middleware"
	"github.com/keyplane/control-plane/internal/roles"
)

var (
	SessionStore *auth.SessionStore
	Limits       *limits.Engine
)

func Login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := database.GetUserByEmail(body.Email)
	if err != nil || !user.IsActive || !auth.CheckPassword(body.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	sessionID, err := SessionStore.Create(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(auth.SessionDuration.Seconds()),
	})
	writeJSON(w, http.StatusOK, userResponseFor(user))
}

func Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(auth.SessionCookie); err == nil {
		SessionStore.Delete(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:   auth.SessionCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	writeJSON(w, http.StatusOK, map[string]string{"detail": "Logged out"})
}

func GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, userResponseFor(user))
}

// SignupTrial is the sign-up-without-password flow: a bare email creates a
// trial team with its admin user, attaches the trial product and seeds
// team limits from it. The generated password is returned exactly once.
func SignupTrial(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		TeamName string `json:"team_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	body.Email = strings.TrimSpace(strings.ToLower(body.Email))
	if body.Email == "" || !strings.Contains(body.Email, "@") {
		writeError(w, http.StatusBadRequest, "A valid email is required")
		return
	}
	if _, err := database.GetUserByEmail(body.Email); err == nil {
		writeError(w, http.StatusConflict, "Email already registered")
		return
	}
	if body.TeamName == "" {
		body.TeamName = body.Email
	}

	password, err := auth.GeneratePassword()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate password")
		return
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	team := database.Team{
		Name:       body.TeamName,
		AdminEmail: body.Email,
		IsTrial:    true,
	}
	if err := database.DB.Create(&team).Error; err != nil {
		writeError(w, http.StatusConflict, "Team name already exists")
		return
	}

	user := database.User{
		Email:        body.Email,
		PasswordHash: hash,
		Role:         string(roles.RoleTeamAdmin),
		TeamID:       &team.ID,
	}
	if err := roles.ValidateUserTypeConstraints(&user); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := database.CreateUser(&user); err != nil {
		database.DB.Delete(&database.Team{}, team.ID)
		writeError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	// Trial product attach is best effort: a missing catalog entry leaves
	// the team on system defaults.
	var product database.Product
	if err := database.DB.Where("name = ?", config.Cfg.TrialProduct).First(&product).Error; err == nil {
		if err := database.AttachProductToTeam(team.ID, product.ID); err == nil {
			if err := Limits.SeedTeamLimits(&team, &product); err != nil {
				log.Printf("seed trial limits for team %d: %v", team.ID, err)
			}
		}
	} else {
		log.Printf("trial product %q not found; team %d starts on system defaults",
			logutil.SanitizeForLog(config.Cfg.TrialProduct), team.ID)
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"user":     userResponseFor(&user),
		"team_id":  team.ID,
		"password": password,
		"detail":   "Store this password now; it is not shown again",
	})
}

// ExpireTrialTeams deactivates trial teams older than the configured trial
// duration. Called from the cron sweep in main.
func ExpireTrialTeams() {
	duration, err := time.ParseDuration(config.Cfg.TrialDuration)
	if err != nil {
		duration = 720 * time.Hour
	}
	cutoff := time.Now().Add(-duration)

	var teams []database.Team
	if err := database.DB.Where("is_trial = ? AND is_active = ? AND created_at < ?", true, true, cutoff).
		Find(&teams).Error; err != nil {
		log.Printf("trial sweep: %v", err)
		return
	}
	for _, team := range teams {
		if err := database.DB.Model(&team).Update("is_active", false).Error; err != nil {
			log.Printf("trial sweep: deactivate team %d: %v", team.ID, err)
			continue
		}
		log.Printf("trial sweep: deactivated team %d (%s)", team.ID, logutil.SanitizeForLog(team.Name))
	}
}

func userResponseFor(u *database.User) map[string]interface{} {
	resp := map[string]interface{}{
		"id":         u.ID,
		"email":      u.Email,
		"is_admin":   u.IsAdmin,
		"role":       string(roles.EffectiveRole(u)),
		"is_active":  u.IsActive,
		"created_at": formatTimestamp(u.CreatedAt),
	}
	if u.TeamID != nil {
		resp["team_id"] = *u.TeamID
	}
	return resp
}
