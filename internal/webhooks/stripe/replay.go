package stripewebhook

import (
	"context"
	"encoding/json"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/jewelcraft/jewelcraft-backend/pkg/errors"
)

// ReplayOutcome reports the result of replaying one ledgered event.
type ReplayOutcome struct {
	EventID   string
	EventType string
	Result    Result
}

// Replay re-runs a ledgered event from its stored payload. The signature was
// checked when the row was first written, so it is not verified again.
func (r *Reconciler) Replay(ctx context.Context, eventID string) (Result, error) {
	if eventID == "" {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "event id required")
	}
	record, err := r.ledger.FindByEventID(ctx, eventID)
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger row")
	}
	if record == nil {
		return Result{}, pkgerrors.Newf(pkgerrors.CodeNotFound, "event %s not in ledger", eventID)
	}
	if record.Processed {
		return Result{Status: StatusAlreadyProcessed}, nil
	}

	var event stripe.Event
	if err := json.Unmarshal(record.Payload, &event); err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeIntegrity, err, "decode stored payload")
	}
	if event.ID != record.EventID {
		return Result{}, pkgerrors.Newf(pkgerrors.CodeIntegrity, "stored payload carries event %q, ledger row is %q", event.ID, record.EventID)
	}

	ctx = r.logg.WithField(ctx, "replay", true)
	return r.Process(ctx, record.Payload, event), nil
}

// ReplayPending replays unprocessed ledger rows oldest first. Per-event
// failures are reported in the outcomes; only a failure to list the ledger
// is returned as an error.
func (r *Reconciler) ReplayPending(ctx context.Context, limit int) ([]ReplayOutcome, error) {
	records, err := r.ledger.ListUnprocessed(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list unprocessed events")
	}
	outcomes := make([]ReplayOutcome, 0, len(records))
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		result, err := r.Replay(ctx, record.EventID)
		if err != nil {
			result = Result{Status: StatusError, Message: err.Error()}
		}
		outcomes = append(outcomes, ReplayOutcome{
			EventID:   record.EventID,
			EventType: record.EventType,
			Result:    result,
		})
	}
	return outcomes, nil
}
