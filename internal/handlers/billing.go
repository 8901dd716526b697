package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/keyplane/control-plane/internal/billing"
	"github.com/keyplane/control-plane/internal/database"
)

// BillingWebhook ingests payment-provider events. Classification drives
// team activation: success events reactivate the team tied to the event's
// customer email, failure events deactivate it, unknown events are
// acknowledged and ignored so the provider does not retry forever.
func BillingWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read payload")
		return
	}
	var event struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				CustomerEmail string `json:"customer_email"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid event payload")
		return
	}
	if event.Type == "" {
		writeError(w, http.StatusBadRequest, "Event type is required")
		return
	}

	category := billing.Classify(event.Type)
	if category == billing.CategoryUnknown {
		log.Printf("Billing: ignoring unhandled event type %s", event.Type)
		writeJSON(w, http.StatusOK, map[string]string{"detail": "Event ignored"})
		return
	}

	email := event.Data.Object.CustomerEmail
	if email == "" {
		log.Printf("Billing: %s event without customer email", event.Type)
		writeJSON(w, http.StatusOK, map[string]string{"detail": "Event ignored"})
		return
	}

	var team database.Team
	if err := database.DB.Where("admin_email = ?", email).First(&team).Error; err != nil {
		log.Printf("Billing: no team for customer %s", email)
		writeJSON(w, http.StatusOK, map[string]string{"detail": "Event ignored"})
		return
	}

	active := category == billing.CategorySuccess
	updates := map[string]interface{}{"is_active": active}
	if active && team.IsTrial {
		// A paying customer is no longer on trial.
		updates["is_trial"] = false
	}
	if err := database.DB.Model(&team).Updates(updates).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update team")
		return
	}
	log.Printf("Billing: %s event set team %d active=%v", event.Type, team.ID, active)
	writeJSON(w, http.StatusOK, map[string]string{"detail": "Event processed"})
}
