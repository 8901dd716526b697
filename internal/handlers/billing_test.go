package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/keyplane/control-plane/internal/database"
)

func postWebhook(t *testing.T, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	BillingWebhook(rec, newRequest(t, http.MethodPost, "/api/v1/billing/webhook", nil, payload, nil))
	return rec
}

func webhookEvent(eventType, email string) map[string]interface{} {
	return map[string]interface{}{
		"type": eventType,
		"data": map[string]interface{}{
			"object": map[string]interface{}{"customer_email": email},
		},
	}
}

func TestBillingWebhookLifecycle(t *testing.T) {
	setupTestDB(t)
	team := database.Team{Name: "acme", AdminEmail: "billing@acme.test", IsTrial: true}
	if err := database.DB.Create(&team).Error; err != nil {
		t.Fatalf("create team: %v", err)
	}

	// A payment success activates the team and ends the trial.
	rec := postWebhook(t, webhookEvent("invoice.paid", "billing@acme.test"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	updated, _ := database.GetTeamByID(team.ID)
	if !updated.IsActive || updated.IsTrial {
		t.Errorf("after payment: IsActive=%v IsTrial=%v", updated.IsActive, updated.IsTrial)
	}

	// A failure event deactivates it.
	rec = postWebhook(t, webhookEvent("invoice.payment_failed", "billing@acme.test"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	updated, _ = database.GetTeamByID(team.ID)
	if updated.IsActive {
		t.Error("payment failure should deactivate the team")
	}

	// Resuming the subscription reactivates.
	rec = postWebhook(t, webhookEvent("customer.subscription.resumed", "billing@acme.test"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	updated, _ = database.GetTeamByID(team.ID)
	if !updated.IsActive {
		t.Error("subscription resume should reactivate the team")
	}
}

func TestBillingWebhookIgnoresUnknownAndUnmatched(t *testing.T) {
	setupTestDB(t)
	team := database.Team{Name: "acme", AdminEmail: "billing@acme.test"}
	database.DB.Create(&team)

	// Unknown event types are acknowledged so the provider stops retrying.
	rec := postWebhook(t, webhookEvent("charge.refunded", "billing@acme.test"))
	if rec.Code != http.StatusOK {
		t.Errorf("unknown event: expected 200, got %d", rec.Code)
	}
	updated, _ := database.GetTeamByID(team.ID)
	if !updated.IsActive {
		t.Error("unknown event must not change team state")
	}

	// Known event for an unknown customer is acknowledged too.
	rec = postWebhook(t, webhookEvent("invoice.paid", "nobody@example.com"))
	if rec.Code != http.StatusOK {
		t.Errorf("unmatched customer: expected 200, got %d", rec.Code)
	}

	// Missing type is the caller's fault.
	rec = postWebhook(t, map[string]interface{}{"data": map[string]interface{}{}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing type: expected 400, got %d", rec.Code)
	}
}
