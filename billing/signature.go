package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	credits "github.com/xraph/credits"
)

// SignatureHeader is the request header carrying the webhook signature.
const SignatureHeader = "Stripe-Signature"

// DefaultTolerance bounds the age of a signed timestamp.
const DefaultTolerance = webhook.DefaultTolerance

// Sign returns a signature header for payload, in the "t=<unix>,v1=<hex>"
// format VerifySignature accepts.
func Sign(payload []byte, secret string, at time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
	}).Header
}

// VerifySignature checks a Stripe-Signature header against payload. Any v1
// entry may match, which lets providers roll secrets. A tolerance of zero
// disables the timestamp age check.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration) error {
	if secret == "" {
		return fmt.Errorf("%w: no secret configured", credits.ErrInvalidSignature)
	}

	var err error
	if tolerance > 0 {
		err = webhook.ValidatePayloadWithTolerance(payload, header, secret, tolerance)
	} else {
		err = webhook.ValidatePayloadIgnoringTolerance(payload, header, secret)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", credits.ErrInvalidSignature, err)
	}
	return nil
}

// ConstructEvent verifies the signature within DefaultTolerance and maps
// the payload to an Event. The event's API version is not checked; only
// envelope fields and object metadata are read.
func ConstructEvent(payload []byte, header, secret string) (*Event, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: no secret configured", credits.ErrInvalidSignature)
	}
	se, err := webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
		Tolerance:                DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return nil, fmt.Errorf("%w: %w", credits.ErrInvalidSignature, err)
		}
		return nil, credits.ValidationError{Field: "event", Message: "malformed JSON"}
	}
	return FromStripeEvent(&se)
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

// ParseEvent decodes an unsigned webhook payload.
func ParseEvent(payload []byte) (*Event, error) {
	var se stripe.Event
	if err := json.Unmarshal(payload, &se); err != nil {
		return nil, credits.ValidationError{Field: "event", Message: "malformed JSON"}
	}
	return FromStripeEvent(&se)
}
