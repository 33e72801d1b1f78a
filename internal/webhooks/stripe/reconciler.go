package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/jewelcraft/jewelcraft-backend/internal/billing"
	"github.com/jewelcraft/jewelcraft-backend/internal/ledger"
	"github.com/jewelcraft/jewelcraft-backend/internal/shops"
	"github.com/jewelcraft/jewelcraft-backend/pkg/db/models"
	dbtypes "github.com/jewelcraft/jewelcraft-backend/pkg/db/types"
	pkgerrors "github.com/jewelcraft/jewelcraft-backend/pkg/errors"
	"github.com/jewelcraft/jewelcraft-backend/pkg/logger"
	"github.com/jewelcraft/jewelcraft-backend/pkg/metrics"
)

// Acknowledgement statuses returned to Stripe.
const (
	StatusAlreadyProcessed = "already_processed"
	StatusProcessed        = "processed"
	StatusError            = "error"
)

const internalErrorMessage = "internal error"

// errProcessedConcurrently aborts a handler transaction whose ledger row was
// marked processed by another delivery in the meantime.
var errProcessedConcurrently = errors.New("event processed by a concurrent delivery")

// Result is the outcome of reconciling one event.
type Result struct {
	Status  string
	Message string
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventCache interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

type ReconcilerParams struct {
	LedgerRepo        ledger.Repository
	BillingRepo       billing.Repository
	ShopRepo          shops.Repository
	TransactionRunner txRunner
	// Cache is optional; without it every lookup goes to the ledger.
	Cache   eventCache
	Metrics *metrics.WebhookMetrics
	Logger  *logger.Logger
	Clock   func() time.Time
}

// Reconciler applies verified Stripe events to subscriptions and shops,
// deduplicating by event id through the webhook ledger.
type Reconciler struct {
	ledger   ledger.Repository
	billing  billing.Repository
	shops    shops.Repository
	txRunner txRunner
	cache    eventCache
	metrics  *metrics.WebhookMetrics
	logg     *logger.Logger
	now      func() time.Time
	handlers map[stripe.EventType]handlerFunc
}

func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	if params.LedgerRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repo required")
	}
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	if params.ShopRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "shop repo required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Reconciler{
		ledger:   params.LedgerRepo,
		billing:  params.BillingRepo,
		shops:    params.ShopRepo,
		txRunner: params.TransactionRunner,
		cache:    params.Cache,
		metrics:  params.Metrics,
		logg:     logg,
		now:      func() time.Time { return clock().UTC() },
		handlers: defaultHandlers(),
	}, nil
}

// Process reconciles one verified event. payload is the raw request body and
// is stored on the ledger row for replay. It never returns an error: every
// failure is folded into a Result with StatusError.
func (r *Reconciler) Process(ctx context.Context, payload []byte, event stripe.Event) (result Result) {
	started := time.Now()
	ctx = r.logg.WithEvent(ctx, event.ID, string(event.Type))

	var recordID uuid.UUID
	defer func() {
		if rec := recover(); rec != nil {
			err := pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("panic: %v", rec))
			r.logFailure(ctx, "stripe_webhook.panic", err)
			if recordID != uuid.Nil {
				r.markFailed(ctx, recordID, err)
			}
			result = Result{Status: StatusError, Message: internalErrorMessage}
		}
		r.metrics.Observe(string(event.Type), result.Status, time.Since(started))
	}()

	if event.ID == "" {
		err := pkgerrors.New(pkgerrors.CodeValidation, "event id required")
		r.logFailure(ctx, "stripe_webhook.invalid_event", err)
		return Result{Status: StatusError, Message: err.Message()}
	}

	if r.cache != nil {
		seen, err := r.cache.Seen(ctx, event.ID)
		if err != nil {
			r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "stripe_webhook.cache_unavailable")
		} else if seen {
			return Result{Status: StatusAlreadyProcessed}
		}
	}

	record, err := r.claim(ctx, payload, event)
	if err != nil {
		r.logFailure(ctx, "stripe_webhook.ledger_error", err)
		return Result{Status: StatusError, Message: internalErrorMessage}
	}
	if record.Processed {
		r.remember(ctx, event.ID)
		r.logg.Info(ctx, "stripe_webhook.already_processed")
		return Result{Status: StatusAlreadyProcessed}
	}
	recordID = record.ID

	handler, known := r.handlers[event.Type]
	err = r.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if known {
			scope := txScope{
				billing: r.billing.WithTx(tx),
				shops:   r.shops.WithTx(tx),
				now:     r.now(),
			}
			if err := handler(ctx, scope, event); err != nil {
				return err
			}
		}
		marked, err := r.ledger.WithTx(tx).MarkProcessed(ctx, record.ID, r.now())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark event processed")
		}
		if !marked {
			return errProcessedConcurrently
		}
		return nil
	})
	if errors.Is(err, errProcessedConcurrently) {
		return r.concurrentWinner(ctx, event.ID)
	}
	if err != nil {
		if r.markFailed(ctx, record.ID, err) {
			// Another delivery already applied the event.
			return r.concurrentWinner(ctx, event.ID)
		}
		r.logFailure(ctx, "stripe_webhook.handler_failed", err)
		return Result{Status: StatusError, Message: publicMessage(err)}
	}

	r.remember(ctx, event.ID)
	if !known {
		r.logg.Info(ctx, "stripe_webhook.unhandled_type")
	} else {
		r.logg.Info(ctx, "stripe_webhook.processed")
	}
	return Result{Status: StatusProcessed}
}

// claim returns the ledger row for the event, inserting it when absent. An
// existing unprocessed row has its attempt counter bumped.
func (r *Reconciler) claim(ctx context.Context, payload []byte, event stripe.Event) (*models.WebhookRecord, error) {
	record, err := r.ledger.FindByEventID(ctx, event.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger row")
	}

	if record == nil {
		fresh := &models.WebhookRecord{
			ID:        uuid.New(),
			EventID:   event.ID,
			EventType: string(event.Type),
			Payload:   dbtypes.RawJSON(payload),
			Attempts:  1,
		}
		created, err := r.ledger.Insert(ctx, fresh)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert ledger row")
		}
		if created {
			return fresh, nil
		}
		// Lost the insert race; continue with the winner's row.
		record, err = r.ledger.FindByEventID(ctx, event.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload ledger row")
		}
		if record == nil {
			return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger row vanished after conflicting insert")
		}
	}

	if record.Processed {
		return record, nil
	}
	if err := r.ledger.RecordAttempt(ctx, record.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record ledger attempt")
	}
	record.Attempts++
	return record, nil
}

// markFailed stores cause on the ledger row. It reports true when the row had
// already been marked processed by another delivery and was left as is.
func (r *Reconciler) markFailed(ctx context.Context, id uuid.UUID, cause error) bool {
	marked, err := r.ledger.MarkFailed(ctx, id, cause.Error())
	if err != nil {
		r.logFailure(ctx, "stripe_webhook.ledger_mark_failed", err)
		return false
	}
	return !marked
}

func (r *Reconciler) concurrentWinner(ctx context.Context, eventID string) Result {
	r.remember(ctx, eventID)
	r.logg.Info(ctx, "stripe_webhook.processed_concurrently")
	return Result{Status: StatusAlreadyProcessed}
}

func (r *Reconciler) remember(ctx context.Context, eventID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Mark(ctx, eventID); err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "stripe_webhook.cache_mark_failed")
	}
}

func (r *Reconciler) logFailure(ctx context.Context, msg string, err error) {
	r.logg.Error(r.logg.WithFields(ctx, pkgerrors.Dump(err).Fields()), msg, err)
}

// publicMessage exposes the message of data-integrity style failures and
// hides infrastructure errors behind a generic one.
func publicMessage(err error) string {
	typed := pkgerrors.As(err)
	if typed == nil {
		return internalErrorMessage
	}
	switch typed.Code() {
	case pkgerrors.CodeValidation,
		pkgerrors.CodeNotFound,
		pkgerrors.CodeConflict,
		pkgerrors.CodeStateConflict,
		pkgerrors.CodeIntegrity:
		return typed.Message()
	}
	return internalErrorMessage
}
