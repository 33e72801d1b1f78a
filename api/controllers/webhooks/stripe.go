package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	"github.com/jewelcraft/jewelcraft-backend/api/responses"
	stripewebhook "github.com/jewelcraft/jewelcraft-backend/internal/webhooks/stripe"
	pkgerrors "github.com/jewelcraft/jewelcraft-backend/pkg/errors"
	"github.com/jewelcraft/jewelcraft-backend/pkg/logger"
)

const signatureHeader = "Stripe-Signature"

// EventVerifier authenticates a raw delivery and decodes its envelope.
type EventVerifier interface {
	Verify(payload []byte, header string) (stripe.Event, error)
}

// EventProcessor reconciles a verified event.
type EventProcessor interface {
	Process(ctx context.Context, payload []byte, event stripe.Event) stripewebhook.Result
}

// StripeWebhook verifies Stripe deliveries and hands them to the reconciler.
// Anything that fails before verification completes is rejected with 400 and
// never reaches the ledger; every verified event is acknowledged with 200.
func StripeWebhook(verifier EventVerifier, processor EventProcessor, maxBody int64, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			responses.WriteError(ctx, logg, w, pkgerrors.Newf(pkgerrors.CodeMethod, "method %s not allowed", r.Method))
			return
		}
		if verifier == nil || processor == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhook not configured"))
			return
		}

		if maxBody > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		}
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.Newf(pkgerrors.CodeValidation, "request body exceeds %d bytes", tooLarge.Limit))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		event, err := verifier.Verify(payload, r.Header.Get(signatureHeader))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result := processor.Process(ctx, payload, event)
		responses.WriteWebhookAck(w, result.Status, result.Message)
	}
}
