package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/jewelcraft/jewelcraft-backend/pkg/config"
	pkgerrors "github.com/jewelcraft/jewelcraft-backend/pkg/errors"
	"github.com/jewelcraft/jewelcraft-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"

	signingSecretPrefix = "whsec_"
)

var (
	errSecretRequired     = errors.New("stripe webhook secret is required")
	errSecretMalformed    = fmt.Errorf("stripe webhook secret must start with %q", signingSecretPrefix)
	errInvalidStripeEnv   = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
	errNegativeTolerance  = errors.New("stripe webhook tolerance must be non-negative")
	signatureFailureTypes = []error{
		webhook.ErrNotSigned,
		webhook.ErrInvalidHeader,
		webhook.ErrNoValidSignature,
		webhook.ErrTooOld,
	}
)

// Verifier authenticates Stripe webhook deliveries with the endpoint signing
// secret and decodes the event envelope.
type Verifier struct {
	environment   string
	signingSecret string
	tolerance     time.Duration
}

// NewVerifier validates the Stripe settings once at boot.
func NewVerifier(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Verifier, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	signingSecret := strings.TrimSpace(cfg.Secret)
	if signingSecret == "" {
		return nil, errSecretRequired
	}
	if !strings.HasPrefix(signingSecret, signingSecretPrefix) {
		return nil, errSecretMalformed
	}
	if cfg.Tolerance < 0 {
		return nil, errNegativeTolerance
	}

	if logg != nil {
		logg.Info(ctx, fmt.Sprintf("stripe webhook verifier initialized (%s)", env))
	}

	return &Verifier{
		environment:   env,
		signingSecret: signingSecret,
		tolerance:     cfg.Tolerance,
	}, nil
}

// Verify checks the Stripe-Signature header against the raw payload and
// returns the decoded event. Signature problems map to CodeSignature, a body
// that is signed but not a valid event maps to CodeValidation.
func (v *Verifier) Verify(payload []byte, header string) (stripe.Event, error) {
	if v == nil {
		return stripe.Event{}, pkgerrors.New(pkgerrors.CodeInternal, "stripe verifier unavailable")
	}
	if strings.TrimSpace(header) == "" {
		return stripe.Event{}, pkgerrors.New(pkgerrors.CodeSignature, "stripe signature missing")
	}

	event, err := webhook.ConstructEventWithOptions(payload, header, v.signingSecret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		for _, sigErr := range signatureFailureTypes {
			if errors.Is(err, sigErr) {
				return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeSignature, err, "verify signature")
			}
		}
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode stripe event")
	}
	if strings.TrimSpace(event.ID) == "" || event.Type == "" {
		return stripe.Event{}, pkgerrors.New(pkgerrors.CodeValidation, "stripe event id and type are required")
	}
	return event, nil
}

// Environment reports the normalized Stripe environment in use.
func (v *Verifier) Environment() string {
	if v == nil {
		return ""
	}
	return v.environment
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}
