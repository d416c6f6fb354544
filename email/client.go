package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"checkout-svc/models"

	"go.uber.org/zap"
)

type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Sender delivers one transactional email. Delivery is best-effort; callers
// must not treat a send failure as a processing failure.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Client talks to a Resend-style transactional email HTTP API.
type Client struct {
	apiKey     string
	from       string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(logger *zap.Logger) *Client {
	return &Client{
		apiKey:   os.Getenv("EMAIL_API_KEY"),
		from:     getEnv("EMAIL_FROM", "orders@atelier.example"),
		endpoint: getEnv("EMAIL_API_URL", "https://api.resend.com/emails"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func (c *Client) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(map[string]interface{}{
		"from":    c.from,
		"to":      []string{msg.To},
		"subject": msg.Subject,
		"html":    msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build email request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("email API returned %d: %s", resp.StatusCode, body)
	}

	c.logger.Info("Email sent",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}

// OrderConfirmation builds the confirmation message for a materialized order.
func OrderConfirmation(order models.Order, items []models.OrderItem) Message {
	body := fmt.Sprintf(
		"<p>Thanks for your purchase! Your order %s has been placed successfully.</p>"+
			"<p>Items: %d<br>Total: %d %s</p>"+
			"<p>We'll let you know as soon as it ships.</p>",
		order.ID, len(items), order.AmountTotal, order.Currency,
	)
	return Message{
		To:      order.CustomerEmail,
		Subject: "Order Confirmation",
		HTML:    body,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
