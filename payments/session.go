package payments

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"go.uber.org/zap"
)

// Session is the subset of a Stripe checkout session the order
// materializer needs, with line items expanded.
type Session struct {
	ID            string
	CustomerEmail string
	UserRef       string // client_reference_id; empty for guest checkout
	AmountTotal   int64
	Currency      string
	Lines         []Line
}

// Line is one purchased line item. ProductRef is the Stripe product id the
// catalog maps to an internal product.
type Line struct {
	ProductRef string
	Quantity   int64
	UnitAmount int64
}

// SessionFetcher retrieves the authoritative session state from the payment
// provider. Injected so tests can substitute a fake.
type SessionFetcher interface {
	FetchSession(ctx context.Context, id string) (*Session, error)
}

type StripeClient struct {
	api    *client.API
	logger *zap.Logger
}

func NewStripeClient(apiKey string, logger *zap.Logger) *StripeClient {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeClient{api: api, logger: logger}
}

func (c *StripeClient) FetchSession(ctx context.Context, id string) (*Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("line_items")
	params.AddExpand("line_items.data.price.product")

	s, err := c.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch checkout session %s: %w", id, err)
	}

	session := &Session{
		ID:          s.ID,
		UserRef:     s.ClientReferenceID,
		AmountTotal: s.AmountTotal,
		Currency:    string(s.Currency),
	}

	// Guest checkouts carry the email in customer_details only.
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		session.CustomerEmail = s.CustomerDetails.Email
	} else {
		session.CustomerEmail = s.CustomerEmail
	}

	if s.LineItems != nil {
		for _, li := range s.LineItems.Data {
			line := Line{Quantity: li.Quantity}
			if li.Price != nil {
				line.UnitAmount = li.Price.UnitAmount
				if li.Price.Product != nil {
					line.ProductRef = li.Price.Product.ID
				}
			}
			session.Lines = append(session.Lines, line)
		}
	}

	c.logger.Info("Checkout session fetched",
		zap.String("session_id", session.ID),
		zap.Int64("amount_total", session.AmountTotal),
		zap.Int("line_items", len(session.Lines)),
	)

	return session, nil
}
