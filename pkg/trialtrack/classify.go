package trialtrack

import "strings"

// Event types recognized by the classifier. Anything else is a no-op.
const (
	EventInitialPurchase = "INITIAL_PURCHASE"
	EventRenewal         = "RENEWAL"
	EventCancellation    = "CANCELLATION"
	EventBillingIssue    = "BILLING_ISSUE"
	EventExpiration      = "EXPIRATION"
	EventUncancellation  = "UNCANCELLATION"
)

// periodTypeTrial marks an initial purchase that started a free trial.
const periodTypeTrial = "TRIAL"

// Cancel reasons that indicate a payment problem rather than a deliberate opt-out.
var billingCancelReasons = map[string]bool{
	"BILLING_ERROR":    true,
	"CUSTOMER_SUPPORT": true,
}

// Classify maps an event to a lifecycle status. The second return value is
// false for unrecognized event types, in which case the caller must skip all
// downstream writes.
func Classify(eventType, cancelReason, periodType string) (Status, bool) {
	switch strings.TrimSpace(eventType) {
	case EventInitialPurchase:
		if strings.EqualFold(strings.TrimSpace(periodType), periodTypeTrial) {
			return StatusInTrial, true
		}
		return StatusConverted, true
	case EventRenewal:
		return StatusConverted, true
	case EventCancellation:
		if billingCancelReasons[strings.ToUpper(strings.TrimSpace(cancelReason))] {
			return StatusBillingIssue, true
		}
		return StatusCancelled, true
	case EventBillingIssue:
		return StatusBillingIssue, true
	case EventExpiration:
		return StatusCancelled, true
	case EventUncancellation:
		return StatusInTrial, true
	}
	return StatusNone, false
}
