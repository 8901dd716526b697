// Package billing classifies webhook events from the payment provider.
// Signature verification and event persistence live at the collaborator
// boundary; this is only the classification table.
package billing

// EventCategory buckets provider event types by what they mean for a
// team's standing.
type EventCategory string

const (
	CategorySuccess EventCategory = "success"
	CategoryFailure EventCategory = "failure"
	CategoryUnknown EventCategory = "unknown"
)

var eventCategories = map[string]EventCategory{
	// Payment succeeded or a subscription became active again.
	"invoice.paid":                  CategorySuccess,
	"customer.subscription.created": CategorySuccess,
	"customer.subscription.resumed": CategorySuccess,

	// Payment stopped, failed, or the customer walked away.
	"customer.subscription.deleted":         CategoryFailure,
	"customer.subscription.paused":          CategoryFailure,
	"invoice.payment_failed":                CategoryFailure,
	"payment_intent.payment_failed":         CategoryFailure,
	"checkout.session.expired":              CategoryFailure,
	"checkout.session.async_payment_failed": CategoryFailure,
}

// Classify maps a provider event type onto a category. Unlisted event
// types are CategoryUnknown and should be acknowledged without action.
func Classify(eventType string) EventCategory {
	if c, ok := eventCategories[eventType]; ok {
		return c
	}
	return CategoryUnknown
}
