package stripewebhook

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/jewelcraft/jewelcraft-backend/internal/billing"
	"github.com/jewelcraft/jewelcraft-backend/internal/ledger"
	"github.com/jewelcraft/jewelcraft-backend/internal/shops"
	"github.com/jewelcraft/jewelcraft-backend/pkg/db"
	"github.com/jewelcraft/jewelcraft-backend/pkg/db/dbtest"
	"github.com/jewelcraft/jewelcraft-backend/pkg/db/models"
	"github.com/jewelcraft/jewelcraft-backend/pkg/enums"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	conn       *gorm.DB
	reconciler *Reconciler
}

type harnessOption func(*ReconcilerParams)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	params := ReconcilerParams{
		LedgerRepo:        ledger.NewRepository(conn),
		BillingRepo:       billing.NewRepository(conn),
		ShopRepo:          shops.NewRepository(conn),
		TransactionRunner: db.NewFromGorm(conn),
		Clock:             func() time.Time { return fixedNow },
	}
	for _, opt := range opts {
		opt(&params)
	}
	reconciler, err := NewReconciler(params)
	require.NoError(t, err)
	return &harness{conn: conn, reconciler: reconciler}
}

func (h *harness) process(t *testing.T, payload []byte) Result {
	t.Helper()
	return h.reconciler.Process(context.Background(), payload, decodeEvent(t, payload))
}

func (h *harness) ledgerRow(t *testing.T, eventID string) *models.WebhookRecord {
	t.Helper()
	var record models.WebhookRecord
	err := h.conn.Where("event_id = ?", eventID).First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	require.NoError(t, err)
	return &record
}

func (h *harness) subscription(t *testing.T, stripeID string) *models.Subscription {
	t.Helper()
	var sub models.Subscription
	err := h.conn.Where("stripe_subscription_id = ?", stripeID).First(&sub).Error
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	require.NoError(t, err)
	return &sub
}

func (h *harness) countSubscriptions(t *testing.T, userID string, status enums.SubscriptionStatus) int64 {
	t.Helper()
	var count int64
	require.NoError(t, h.conn.Model(&models.Subscription{}).
		Where("user_id = ? AND status = ?", userID, status).
		Count(&count).Error)
	return count
}

func (h *harness) shopsOf(t *testing.T, ownerID string) []models.Shop {
	t.Helper()
	var list []models.Shop
	require.NoError(t, h.conn.Where("owner_id = ?", ownerID).Find(&list).Error)
	return list
}

func (h *harness) seedSubscription(t *testing.T, userID, stripeID, planID string, status enums.SubscriptionStatus) *models.Subscription {
	t.Helper()
	start := fixedNow.Add(-30 * 24 * time.Hour)
	end := fixedNow.Add(24 * time.Hour)
	sub := &models.Subscription{
		ID:                   uuid.New(),
		UserID:               userID,
		PlanID:               planID,
		StripeSubscriptionID: stripeID,
		Status:               status,
		CurrentPeriodStart:   &start,
		CurrentPeriodEnd:     &end,
	}
	if status == enums.SubscriptionStatusCanceled {
		canceled := fixedNow.Add(-time.Hour)
		sub.CanceledAt = &canceled
	}
	require.NoError(t, h.conn.Create(sub).Error)
	return sub
}

func decodeEvent(t *testing.T, payload []byte) stripe.Event {
	t.Helper()
	var event stripe.Event
	require.NoError(t, json.Unmarshal(payload, &event))
	return event
}

func eventPayload(t *testing.T, id string, eventType stripe.EventType, object map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":     id,
		"object": "event",
		"type":   eventType,
		"data":   map[string]any{"object": object},
	})
	require.NoError(t, err)
	return body
}

func subscriptionObject(id, status, userID, priceID string, start, end int64) map[string]any {
	item := map[string]any{"price": map[string]any{"id": priceID}}
	if start > 0 {
		item["current_period_start"] = start
	}
	if end > 0 {
		item["current_period_end"] = end
	}
	obj := map[string]any{
		"id":                   id,
		"object":               "subscription",
		"status":               status,
		"cancel_at_period_end": false,
		"items":                map[string]any{"data": []any{item}},
	}
	if userID != "" {
		obj["metadata"] = map[string]any{"user_id": userID}
	}
	return obj
}

func invoiceObject(id, subscriptionID string) map[string]any {
	obj := map[string]any{"id": id, "object": "invoice"}
	if subscriptionID != "" {
		obj["parent"] = map[string]any{
			"type":                 "subscription_details",
			"subscription_details": map[string]any{"subscription": subscriptionID},
		}
	}
	return obj
}

// failingShops wraps a shop repository and fails every reassignment.
type failingShops struct {
	shops.Repository
}

func (f failingShops) WithTx(tx *gorm.DB) shops.Repository {
	return failingShops{Repository: f.Repository.WithTx(tx)}
}

func (f failingShops) AssignSubscription(context.Context, string, uuid.UUID) (int64, error) {
	return 0, gorm.ErrInvalidDB
}

// racingLedger hides existing rows from the first lookups to mimic a
// concurrent delivery winning the insert.
type racingLedger struct {
	ledger.Repository
	misses int
}

func (r *racingLedger) FindByEventID(ctx context.Context, eventID string) (*models.WebhookRecord, error) {
	if r.misses > 0 {
		r.misses--
		return nil, nil
	}
	return r.Repository.FindByEventID(ctx, eventID)
}

// staleLedger serves every row as unprocessed, as seen by a delivery that
// claimed the row before a concurrent one committed.
type staleLedger struct {
	ledger.Repository
}

func (s staleLedger) FindByEventID(ctx context.Context, eventID string) (*models.WebhookRecord, error) {
	record, err := s.Repository.FindByEventID(ctx, eventID)
	if record != nil {
		record.Processed = false
		record.ProcessedAt = nil
	}
	return record, err
}

// staleBilling never finds subscriptions by external id.
type staleBilling struct {
	billing.Repository
}

func (s staleBilling) WithTx(tx *gorm.DB) billing.Repository {
	return staleBilling{Repository: s.Repository.WithTx(tx)}
}

func (staleBilling) FindSubscriptionByStripeID(context.Context, string) (*models.Subscription, error) {
	return nil, nil
}

// priceLookupDown fails every plan lookup by Stripe price.
type priceLookupDown struct {
	billing.Repository
}

func (p priceLookupDown) WithTx(tx *gorm.DB) billing.Repository {
	return priceLookupDown{Repository: p.Repository.WithTx(tx)}
}

func (priceLookupDown) FindPlanByStripePriceID(context.Context, string) (*models.Plan, error) {
	return nil, gorm.ErrInvalidDB
}

type fakeCache struct {
	seen   map[string]bool
	marked []string
	err    error
}

func (f *fakeCache) Seen(_ context.Context, eventID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.seen[eventID], nil
}

func (f *fakeCache) Mark(_ context.Context, eventID string) error {
	f.marked = append(f.marked, eventID)
	return nil
}
