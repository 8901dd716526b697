package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/keyplane/control-plane/internal/auth"
	"github.com/keyplane/control-plane/internal/config"
	"github.com/keyplane/control-plane/internal/database"
	"github.com/keyplane/control-plane/internal/limits"
	"github.com/keyplane/control-plane/internal/middleware"
	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type nopUpdater struct{}

func (nopUpdater) UpdateMaxBudget(string, float64) error { return nil }

// setupTestDB wires a fresh in-memory database plus the package globals
// the handlers expect from main.
func setupTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	database.DB = db
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	SessionStore = auth.NewSessionStore()
	Limits = &limits.Engine{
		NewGateway: func(region *database.Region) (limits.BudgetUpdater, error) {
			return nopUpdater{}, nil
		},
	}
	config.Cfg.AuthDisabled = false
	config.Cfg.TrialProduct = "trial"
	config.Cfg.TrialDuration = "720h"
}

// newRequest builds a request with chi URL params, an optional JSON body
// and an optional authenticated user.
func newRequest(t *testing.T, method, path string, params map[string]string, body interface{}, user *database.User) *http.Request {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	r := httptest.NewRequest(method, path, reader)
	r.Header.Set("Content-Type", "application/json")

	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
	if user != nil {
		r = middleware.WithUser(r, user)
	}
	return r
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var result map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return result
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) []map[string]interface{} {
	t.Helper()
	var result []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return result
}

func createTestAdmin(t *testing.T) *database.User {
	t.Helper()
	u := &database.User{Email: "root@example.com", PasswordHash: "x", IsAdmin: true, Role: "system_admin"}
	if err := database.DB.Create(u).Error; err != nil {
		t.Fatalf("create admin: %v", err)
	}
	return u
}

func createTestTeam(t *testing.T, name string) *database.Team {
	t.Helper()
	team := &database.Team{Name: name, AdminEmail: "admin@" + name + ".test"}
	if err := database.DB.Create(team).Error; err != nil {
		t.Fatalf("create team: %v", err)
	}
	return team
}
