package stripewebhook

import (
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/jewelcraft/jewelcraft-backend/pkg/enums"
)

var providerStatuses = map[stripe.SubscriptionStatus]enums.SubscriptionStatus{
	stripe.SubscriptionStatusActive:            enums.SubscriptionStatusActive,
	stripe.SubscriptionStatusCanceled:          enums.SubscriptionStatusCanceled,
	stripe.SubscriptionStatusPastDue:           enums.SubscriptionStatusPastDue,
	stripe.SubscriptionStatusPaused:            enums.SubscriptionStatusPaused,
	stripe.SubscriptionStatusTrialing:          enums.SubscriptionStatusActive,
	stripe.SubscriptionStatusUnpaid:            enums.SubscriptionStatusPastDue,
	stripe.SubscriptionStatusIncomplete:        enums.SubscriptionStatusPastDue,
	stripe.SubscriptionStatusIncompleteExpired: enums.SubscriptionStatusCanceled,
}

// MapStatus folds a Stripe subscription status into the internal vocabulary.
// Unknown values map to past_due so access is restricted until a known
// status arrives.
func MapStatus(raw string) enums.SubscriptionStatus {
	key := stripe.SubscriptionStatus(strings.ToLower(strings.TrimSpace(raw)))
	if status, ok := providerStatuses[key]; ok {
		return status
	}
	return enums.SubscriptionStatusPastDue
}
