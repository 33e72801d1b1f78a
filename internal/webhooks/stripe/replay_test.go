package stripewebhook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/jewelcraft/jewelcraft-backend/pkg/db/dbtest"
	"github.com/jewelcraft/jewelcraft-backend/pkg/enums"
	pkgerrors "github.com/jewelcraft/jewelcraft-backend/pkg/errors"
)

func TestReplayClearsErrorAfterFix(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	payload := eventPayload(t, "evt_fix", stripe.EventTypeCustomerSubscriptionCreated,
		subscriptionObject("sub_fix", "active", "u1", "price_late", 1700000000, 1702678400))

	require.Equal(t, StatusError, h.process(t, payload).Status)
	row := h.ledgerRow(t, "evt_fix")
	require.NotNil(t, row)
	require.NotNil(t, row.ErrorMessage)

	dbtest.SeedPlan(t, h.conn, "plan_late", "price_late")
	result, err := h.reconciler.Replay(ctx, "evt_fix")
	require.NoError(t, err)
	assert.Equal(t, Result{Status: StatusProcessed}, result)

	row = h.ledgerRow(t, "evt_fix")
	require.NotNil(t, row)
	assert.True(t, row.Processed)
	assert.Nil(t, row.ErrorMessage, "a successful replay clears the previous error")
	assert.Equal(t, 2, row.Attempts)

	sub := h.subscription(t, "sub_fix")
	require.NotNil(t, sub)
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)

	again, err := h.reconciler.Replay(ctx, "evt_fix")
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyProcessed, again.Status)
}

func TestReplayUnknownEvent(t *testing.T) {
	h := newHarness(t)
	_, err := h.reconciler.Replay(context.Background(), "evt_missing")
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	_, err = h.reconciler.Replay(context.Background(), "")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestReplayPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	dbtest.SeedShops(t, h.conn, "u1", 1)

	created := eventPayload(t, "evt_p1", stripe.EventTypeCustomerSubscriptionCreated,
		subscriptionObject("sub_p", "active", "u1", "price_p", 1700000000, 1702678400))
	require.Equal(t, StatusError, h.process(t, created).Status)
	orphan := eventPayload(t, "evt_p2", stripe.EventTypeInvoicePaymentFailed, invoiceObject("in_p", "sub_nowhere"))
	require.Equal(t, StatusError, h.process(t, orphan).Status)
	done := eventPayload(t, "evt_p3", stripe.EventType("customer.tax_id.created"), map[string]any{"id": "txi"})
	require.Equal(t, StatusProcessed, h.process(t, done).Status)

	dbtest.SeedPlan(t, h.conn, "plan_p", "price_p")
	outcomes, err := h.reconciler.ReplayPending(ctx, 10)
	require.NoError(t, err)

	got := map[string]string{}
	for _, outcome := range outcomes {
		got[outcome.EventID] = outcome.Result.Status
	}
	assert.Equal(t, map[string]string{
		"evt_p1": StatusProcessed,
		"evt_p2": StatusError,
	}, got)

	row := h.ledgerRow(t, "evt_p2")
	require.NotNil(t, row)
	assert.False(t, row.Processed)
	assert.Equal(t, 2, row.Attempts)

	shopList := h.shopsOf(t, "u1")
	require.Len(t, shopList, 1)
	require.NotNil(t, shopList[0].SubscriptionID)
}
