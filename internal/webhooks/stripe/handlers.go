package stripewebhook

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/jewelcraft/jewelcraft-backend/internal/billing"
	"github.com/jewelcraft/jewelcraft-backend/internal/shops"
	"github.com/jewelcraft/jewelcraft-backend/pkg/db"
	"github.com/jewelcraft/jewelcraft-backend/pkg/db/models"
	"github.com/jewelcraft/jewelcraft-backend/pkg/enums"
	pkgerrors "github.com/jewelcraft/jewelcraft-backend/pkg/errors"
)

// txScope carries the repositories bound to the transaction a handler runs in.
type txScope struct {
	billing billing.Repository
	shops   shops.Repository
	now     time.Time
}

type handlerFunc func(ctx context.Context, scope txScope, event stripe.Event) error

// defaultHandlers returns the event types the reconciler applies. Types
// missing here are acknowledged without any state change.
func defaultHandlers() map[stripe.EventType]handlerFunc {
	return map[stripe.EventType]handlerFunc{
		stripe.EventTypeCustomerSubscriptionCreated: handleSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated: handleSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted: handleSubscriptionDeleted,
		stripe.EventTypeInvoicePaymentFailed:        handleInvoicePaymentFailed,
		stripe.EventTypeInvoicePaymentSucceeded:     handleInvoicePaymentSucceeded,
	}
}

func handleSubscriptionCreated(ctx context.Context, scope txScope, event stripe.Event) error {
	obj, err := ParseSubscription(event)
	if err != nil {
		return err
	}
	if err := obj.RequireOwner(); err != nil {
		return err
	}

	plan, err := resolvePlan(ctx, scope, obj.PriceID)
	if err != nil {
		return err
	}

	existing, err := scope.billing.FindSubscriptionByStripeID(ctx, obj.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if existing != nil {
		return nil
	}

	sub := &models.Subscription{
		ID:                   uuid.New(),
		UserID:               obj.UserID,
		PlanID:               plan.ID,
		StripeSubscriptionID: obj.ID,
		Status:               MapStatus(obj.Status),
		CurrentPeriodStart:   obj.PeriodStart,
		CurrentPeriodEnd:     obj.PeriodEnd,
		CancelAtPeriodEnd:    obj.CancelAtPeriodEnd,
		CanceledAt:           obj.CanceledAt,
	}

	if _, err := scope.billing.SupersedeSubscriptionsForUser(ctx, obj.UserID, sub.ID, scope.now); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel superseded subscriptions")
	}
	if err := scope.billing.CreateSubscription(ctx, sub); err != nil {
		if db.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "subscription created concurrently")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription")
	}
	if _, err := scope.shops.AssignSubscription(ctx, obj.UserID, sub.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "assign shops to subscription")
	}
	return nil
}

func handleSubscriptionUpdated(ctx context.Context, scope txScope, event stripe.Event) error {
	obj, err := ParseSubscription(event)
	if err != nil {
		return err
	}
	sub, err := requireSubscription(ctx, scope, obj.ID)
	if err != nil {
		return err
	}

	if !sub.Status.IsTerminal() {
		sub.Status = MapStatus(obj.Status)
	}
	sub.CancelAtPeriodEnd = obj.CancelAtPeriodEnd
	if obj.PeriodStart != nil {
		sub.CurrentPeriodStart = obj.PeriodStart
	}
	if obj.PeriodEnd != nil {
		sub.CurrentPeriodEnd = obj.PeriodEnd
	}
	if obj.CanceledAt != nil {
		sub.CanceledAt = obj.CanceledAt
	}
	if obj.PriceID != "" {
		changed, err := priceChanged(ctx, scope, sub.PlanID, obj.PriceID)
		if err != nil {
			return err
		}
		if changed {
			plan, err := resolvePlan(ctx, scope, obj.PriceID)
			if err != nil {
				return err
			}
			sub.PlanID = plan.ID
		}
	}

	if err := scope.billing.UpdateSubscription(ctx, sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription")
	}
	return nil
}

func handleSubscriptionDeleted(ctx context.Context, scope txScope, event stripe.Event) error {
	obj, err := ParseSubscription(event)
	if err != nil {
		return err
	}
	sub, err := requireSubscription(ctx, scope, obj.ID)
	if err != nil {
		return err
	}

	sub.Status = enums.SubscriptionStatusCanceled
	switch {
	case obj.CanceledAt != nil:
		sub.CanceledAt = obj.CanceledAt
	case sub.CanceledAt == nil:
		now := scope.now
		sub.CanceledAt = &now
	}

	if err := scope.billing.UpdateSubscription(ctx, sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel subscription")
	}
	return nil
}

func handleInvoicePaymentFailed(ctx context.Context, scope txScope, event stripe.Event) error {
	return applyInvoiceOutcome(ctx, scope, event, func(current enums.SubscriptionStatus) (enums.SubscriptionStatus, bool) {
		if current.IsTerminal() || current == enums.SubscriptionStatusPastDue {
			return current, false
		}
		return enums.SubscriptionStatusPastDue, true
	})
}

func handleInvoicePaymentSucceeded(ctx context.Context, scope txScope, event stripe.Event) error {
	return applyInvoiceOutcome(ctx, scope, event, func(current enums.SubscriptionStatus) (enums.SubscriptionStatus, bool) {
		if current != enums.SubscriptionStatusPastDue {
			return current, false
		}
		return enums.SubscriptionStatusActive, true
	})
}

// applyInvoiceOutcome loads the invoice's subscription and applies transition.
// Invoices without a subscription reference are ignored.
func applyInvoiceOutcome(ctx context.Context, scope txScope, event stripe.Event, transition func(enums.SubscriptionStatus) (enums.SubscriptionStatus, bool)) error {
	obj, err := ParseInvoice(event)
	if err != nil {
		return err
	}
	if obj.SubscriptionID == "" {
		return nil
	}
	sub, err := requireSubscription(ctx, scope, obj.SubscriptionID)
	if err != nil {
		return err
	}

	next, changed := transition(sub.Status)
	if !changed {
		return nil
	}
	sub.Status = next
	if err := scope.billing.UpdateSubscription(ctx, sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription status")
	}
	return nil
}

func requireSubscription(ctx context.Context, scope txScope, stripeSubscriptionID string) (*models.Subscription, error) {
	sub, err := scope.billing.FindSubscriptionByStripeID(ctx, stripeSubscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "subscription %s not found", stripeSubscriptionID)
	}
	return sub, nil
}

// priceChanged reports whether priceID differs from the price of the plan the
// subscription is on. A plan row that no longer exists counts as changed.
func priceChanged(ctx context.Context, scope txScope, planID, priceID string) (bool, error) {
	current, err := scope.billing.FindPlanByID(ctx, planID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load current plan")
	}
	return current == nil || current.StripePriceID != priceID, nil
}

func resolvePlan(ctx context.Context, scope txScope, priceID string) (*models.Plan, error) {
	plan, err := scope.billing.FindPlanByStripePriceID(ctx, priceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve plan")
	}
	if plan == nil {
		return nil, pkgerrors.Newf(pkgerrors.CodeIntegrity, "no plan for price %s", priceID)
	}
	return plan, nil
}
