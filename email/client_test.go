package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"checkout-svc/models"

	"go.uber.org/zap/zaptest"
)

func TestClient_Send_Success(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("Failed to decode request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"email_1"}`))
	}))
	defer srv.Close()

	client := &Client{
		apiKey:     "re_test_key",
		from:       "orders@atelier.example",
		endpoint:   srv.URL,
		httpClient: &http.Client{Timeout: time.Second},
		logger:     zaptest.NewLogger(t),
	}

	err := client.Send(context.Background(), Message{
		To:      "buyer@example.com",
		Subject: "Order Confirmation",
		HTML:    "<p>hi</p>",
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if gotAuth != "Bearer re_test_key" {
		t.Errorf("Expected bearer auth header, got %q", gotAuth)
	}
	if gotBody["subject"] != "Order Confirmation" {
		t.Errorf("Expected subject in payload, got %v", gotBody["subject"])
	}
	to, ok := gotBody["to"].([]interface{})
	if !ok || len(to) != 1 || to[0] != "buyer@example.com" {
		t.Errorf("Expected recipient list [buyer@example.com], got %v", gotBody["to"])
	}
}

func TestClient_Send_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"invalid recipient"}`))
	}))
	defer srv.Close()

	client := &Client{
		apiKey:     "re_test_key",
		from:       "orders@atelier.example",
		endpoint:   srv.URL,
		httpClient: &http.Client{Timeout: time.Second},
		logger:     zaptest.NewLogger(t),
	}

	err := client.Send(context.Background(), Message{To: "nobody", Subject: "x", HTML: "y"})
	if err == nil {
		t.Fatal("Expected error for non-2xx response")
	}
	if !strings.Contains(err.Error(), "422") {
		t.Errorf("Expected status code in error, got %v", err)
	}
}

func TestOrderConfirmation(t *testing.T) {
	order := models.Order{
		ID:            "ord_123",
		CustomerEmail: "buyer@example.com",
		AmountTotal:   2000,
		Currency:      "jpy",
		Status:        models.OrderStatusCompleted,
	}
	items := []models.OrderItem{{ProductID: 1, Quantity: 2, UnitAmount: 1000}}

	msg := OrderConfirmation(order, items)

	if msg.To != "buyer@example.com" {
		t.Errorf("Expected recipient buyer@example.com, got %s", msg.To)
	}
	if msg.Subject != "Order Confirmation" {
		t.Errorf("Unexpected subject %q", msg.Subject)
	}
	if !strings.Contains(msg.HTML, "ord_123") {
		t.Errorf("Expected order id in body, got %q", msg.HTML)
	}
	if !strings.Contains(msg.HTML, "2000 jpy") {
		t.Errorf("Expected total in body, got %q", msg.HTML)
	}
}
