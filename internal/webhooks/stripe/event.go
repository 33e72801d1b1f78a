package stripewebhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/jewelcraft/jewelcraft-backend/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// SubscriptionObject is the version-normalized view of a subscription
// payload. Period fields come from the first item and fall back to the
// top-level fields older API versions carried.
type SubscriptionObject struct {
	ID                string     `json:"id" validate:"required"`
	Status            string     `json:"status" validate:"required"`
	UserID            string     `json:"metadata.user_id"`
	PriceID           string     `json:"items.data[0].price.id"`
	PeriodStart       *time.Time `json:"current_period_start"`
	PeriodEnd         *time.Time `json:"current_period_end"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	CanceledAt        *time.Time `json:"canceled_at"`
}

// subscriptionOwner lists what a creation event must carry on top of the
// base subscription fields.
type subscriptionOwner struct {
	UserID  string `json:"metadata.user_id" validate:"required"`
	PriceID string `json:"items.data[0].price.id" validate:"required"`
}

// InvoiceObject is the version-normalized view of an invoice payload. An
// empty SubscriptionID means the invoice is not tied to a subscription.
type InvoiceObject struct {
	ID             string `json:"id" validate:"required"`
	SubscriptionID string `json:"subscription"`
}

type subscriptionWire struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	Metadata           map[string]string `json:"metadata"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CanceledAt         int64             `json:"canceled_at"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Items              struct {
		Data []subscriptionItemWire `json:"data"`
	} `json:"items"`
}

type subscriptionItemWire struct {
	Price *struct {
		ID string `json:"id"`
	} `json:"price"`
	Plan *struct {
		ID string `json:"id"`
	} `json:"plan"`
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
}

type invoiceWire struct {
	ID           string          `json:"id"`
	Subscription json.RawMessage `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription json.RawMessage `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Subscription json.RawMessage `json:"subscription"`
			Parent       *struct {
				SubscriptionItemDetails *struct {
					Subscription json.RawMessage `json:"subscription"`
				} `json:"subscription_item_details"`
			} `json:"parent"`
		} `json:"data"`
	} `json:"lines"`
}

func eventObject(event stripe.Event) ([]byte, error) {
	if event.Data == nil || len(bytes.TrimSpace(event.Data.Raw)) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeIntegrity, "event data.object missing")
	}
	return event.Data.Raw, nil
}

// ParseSubscription normalizes the data.object of a customer.subscription.*
// event.
func ParseSubscription(event stripe.Event) (*SubscriptionObject, error) {
	raw, err := eventObject(event)
	if err != nil {
		return nil, err
	}
	var wire subscriptionWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeIntegrity, err, "decode subscription object")
	}

	obj := &SubscriptionObject{
		ID:                strings.TrimSpace(wire.ID),
		Status:            strings.TrimSpace(wire.Status),
		UserID:            strings.TrimSpace(wire.Metadata["user_id"]),
		CancelAtPeriodEnd: wire.CancelAtPeriodEnd,
		CanceledAt:        epochToTime(wire.CanceledAt),
		PeriodStart:       epochToTime(wire.CurrentPeriodStart),
		PeriodEnd:         epochToTime(wire.CurrentPeriodEnd),
	}
	if len(wire.Items.Data) > 0 {
		item := wire.Items.Data[0]
		switch {
		case item.Price != nil:
			obj.PriceID = strings.TrimSpace(item.Price.ID)
		case item.Plan != nil:
			obj.PriceID = strings.TrimSpace(item.Plan.ID)
		}
		if start := epochToTime(item.CurrentPeriodStart); start != nil {
			obj.PeriodStart = start
		}
		if end := epochToTime(item.CurrentPeriodEnd); end != nil {
			obj.PeriodEnd = end
		}
	}

	if err := validate.Struct(obj); err != nil {
		return nil, integrityError("subscription", err)
	}
	return obj, nil
}

// RequireOwner checks the fields a creation event cannot do without.
func (s *SubscriptionObject) RequireOwner() error {
	if err := validate.Struct(subscriptionOwner{UserID: s.UserID, PriceID: s.PriceID}); err != nil {
		return integrityError("subscription", err)
	}
	return nil
}

// ParseInvoice normalizes the data.object of an invoice.* event.
func ParseInvoice(event stripe.Event) (*InvoiceObject, error) {
	raw, err := eventObject(event)
	if err != nil {
		return nil, err
	}
	var wire invoiceWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeIntegrity, err, "decode invoice object")
	}

	obj := &InvoiceObject{ID: strings.TrimSpace(wire.ID)}
	candidates := []json.RawMessage{wire.Subscription}
	if wire.Parent != nil && wire.Parent.SubscriptionDetails != nil {
		candidates = append(candidates, wire.Parent.SubscriptionDetails.Subscription)
	}
	if len(wire.Lines.Data) > 0 {
		line := wire.Lines.Data[0]
		if line.Parent != nil && line.Parent.SubscriptionItemDetails != nil {
			candidates = append(candidates, line.Parent.SubscriptionItemDetails.Subscription)
		}
		candidates = append(candidates, line.Subscription)
	}
	for _, candidate := range candidates {
		id, err := expandableID(candidate)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeIntegrity, err, "decode invoice subscription reference")
		}
		if id != "" {
			obj.SubscriptionID = id
			break
		}
	}

	if err := validate.Struct(obj); err != nil {
		return nil, integrityError("invoice", err)
	}
	return obj, nil
}

// expandableID reads a Stripe expandable field, which is either an id string
// or the expanded object carrying an id.
func expandableID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", err
		}
		return strings.TrimSpace(id), nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", err
	}
	return strings.TrimSpace(obj.ID), nil
}

// epochToTime converts Stripe epoch seconds to UTC; zero means absent.
func epochToTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func integrityError(object string, err error) error {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return pkgerrors.Wrap(pkgerrors.CodeIntegrity, err, object+" payload invalid")
	}
	details := map[string]string{}
	fields := make([]string, 0, len(errs))
	for _, fieldErr := range errs {
		details[fieldErr.Field()] = "is required"
		if fieldErr.Tag() != "required" {
			details[fieldErr.Field()] = "is invalid"
		}
		fields = append(fields, fieldErr.Field())
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s %s", field, details[field]))
	}
	return pkgerrors.New(pkgerrors.CodeIntegrity, fmt.Sprintf("%s payload invalid: %s", object, strings.Join(parts, ", "))).WithDetails(details)
}
