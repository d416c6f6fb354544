package payments

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
)

var (
	// ErrSignatureInvalid means the payload could not be authenticated
	// against the webhook secret. The request must be rejected before any
	// persistence happens.
	ErrSignatureInvalid = errors.New("webhook signature invalid")

	// ErrPayloadMalformed means the payload authenticated but could not be
	// parsed into a usable event.
	ErrPayloadMalformed = errors.New("webhook payload malformed")
)

const eventTypeCheckoutCompleted = "checkout.session.completed"

// CompletedCheckout is the verified, provider-neutral view of a
// checkout.session.completed delivery. Only the session id is trusted from
// the event body; amounts and line items are re-fetched from the provider.
type CompletedCheckout struct {
	EventID   string
	EventType string
	SessionID string
}

type Verifier struct {
	secret string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// VerifyAndParse authenticates the raw payload against the Stripe-Signature
// header and extracts the checkout session reference. A (nil, nil) return
// means the event verified but is of a type the reconciler does not handle.
func (v *Verifier) VerifyAndParse(payload []byte, sigHeader string) (*CompletedCheckout, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, v.secret)
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) ||
			errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) ||
			errors.Is(err, webhook.ErrTooOld) {
			return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrPayloadMalformed, err)
	}

	if event.Type != eventTypeCheckoutCompleted {
		return nil, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadMalformed, err)
	}
	if session.ID == "" {
		return nil, fmt.Errorf("%w: event %s carries no session id", ErrPayloadMalformed, event.ID)
	}

	return &CompletedCheckout{
		EventID:   event.ID,
		EventType: event.Type,
		SessionID: session.ID,
	}, nil
}
