package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"checkout-svc/cache"
	"checkout-svc/email"
	"checkout-svc/kafka"
	"checkout-svc/middleware"
	"checkout-svc/models"
	"checkout-svc/payments"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	maxWebhookBodyBytes = 65536

	sessionFetchTimeout = 10 * time.Second
	emailSendTimeout    = 10 * time.Second
	productRefCacheTTL  = 10 * time.Minute

	// appErrorSource tags operator-facing error records written by the
	// webhook reconciler.
	appErrorSource = "webhook_order_processing"

	uniqueViolation = "23505"
)

// ledgerStatus is the explicit outcome of the idempotency-ledger insert.
// Duplicate detection is a returned status, not an error the caller has to
// string-match.
type ledgerStatus int

const (
	ledgerRecorded ledgerStatus = iota
	ledgerDuplicate
)

type WebhookHandler struct {
	db          *sql.DB
	verifier    *payments.Verifier
	sessions    payments.SessionFetcher
	mailer      email.Sender
	producer    sarama.SyncProducer
	redisClient *redis.Client
	topic       string
	logger      *zap.Logger
}

func NewWebhookHandler(
	db *sql.DB,
	verifier *payments.Verifier,
	sessions payments.SessionFetcher,
	mailer email.Sender,
	producer sarama.SyncProducer,
	redisClient *redis.Client,
	logger *zap.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		db:          db,
		verifier:    verifier,
		sessions:    sessions,
		mailer:      mailer,
		producer:    producer,
		redisClient: redisClient,
		topic:       getEnv("KAFKA_TOPIC", "order_events"),
		logger:      logger,
	}
}

// HandleStripeWebhook reconciles a checkout completion delivery into durable
// order state. Every path after the idempotency gate acknowledges the event;
// only signature/parse failures (400) and ledger write failures (500) signal
// failure to the provider, since those are the only cases where a redelivery
// can help.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	ctx, span := otel.Tracer("checkout-service").Start(c.Request.Context(), "HandleStripeWebhook")
	defer span.End()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		middleware.RecordWebhookProcessed("rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Webhook Error: failed to read request body"})
		return
	}

	checkout, err := h.verifier.VerifyAndParse(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		span.RecordError(err)
		middleware.RecordWebhookProcessed("rejected")
		h.logger.Warn("Webhook rejected",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.Error(err),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Webhook Error: " + err.Error()})
		return
	}
	if checkout == nil {
		// Verified, but an event type the reconciler does not own. No
		// ledger entry, so the type stays processable if support is added.
		middleware.RecordWebhookProcessed("ignored")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	span.SetAttributes(
		attribute.String("event.id", checkout.EventID),
		attribute.String("session.id", checkout.SessionID),
	)

	status, err := h.recordEvent(ctx, checkout)
	if err != nil {
		span.RecordError(err)
		middleware.RecordWebhookProcessed("ledger_error")
		h.logger.Error("Failed to record webhook event",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("event_id", checkout.EventID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error during event processing"})
		return
	}
	if status == ledgerDuplicate {
		middleware.RecordWebhookProcessed("duplicate")
		h.logger.Info("Duplicate webhook event",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("event_id", checkout.EventID),
		)
		c.JSON(http.StatusOK, gin.H{"received": true, "message": "Duplicate event"})
		return
	}

	order, err := h.materializeOrder(ctx, checkout)
	if err != nil {
		// The ledger entry stands: a redelivery would either repeat the same
		// deterministic failure or double-process. Operators follow up via
		// the app_errors records written below.
		span.RecordError(err)
		middleware.RecordWebhookProcessed("failed")
		h.logger.Error("Order materialization failed",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("event_id", checkout.EventID),
			zap.Error(err),
		)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	// Both are best-effort: the order is durable, so neither a failed email
	// nor a failed event publication may fail the delivery.
	h.sendConfirmation(ctx, order)
	h.publishOrderCompleted(ctx, order)

	middleware.RecordWebhookProcessed("completed")
	h.logger.Info("Order created from checkout session",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("order_id", order.ID),
		zap.String("session_id", order.StripeSessionID),
		zap.Int64("amount_total", order.AmountTotal),
		zap.String("currency", order.Currency),
	)
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// recordEvent inserts the event id into the ledger. The UNIQUE constraint is
// the only concurrency control: of two concurrent deliveries of one event,
// exactly one insert succeeds and the other reports ledgerDuplicate.
func (h *WebhookHandler) recordEvent(ctx context.Context, checkout *payments.CompletedCheckout) (ledgerStatus, error) {
	_, err := h.db.ExecContext(ctx,
		"INSERT INTO webhook_events (event_id, event_type) VALUES ($1, $2)",
		checkout.EventID, checkout.EventType,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ledgerDuplicate, nil
		}
		return ledgerRecorded, fmt.Errorf("failed to insert webhook event %s: %w", checkout.EventID, err)
	}
	return ledgerRecorded, nil
}

// materializeOrder re-fetches the session from the provider (only the
// session id from the event is trusted) and persists the order with all its
// items in a single transaction. Any failure rolls back the whole write, so
// no orphan order rows exist.
func (h *WebhookHandler) materializeOrder(ctx context.Context, checkout *payments.CompletedCheckout) (*models.Order, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, sessionFetchTimeout)
	defer cancel()

	session, err := h.sessions.FetchSession(fetchCtx, checkout.SessionID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			h.logger.Error("Upstream timeout fetching checkout session",
				zap.String("failure", "upstream_timeout"),
				zap.String("session_id", checkout.SessionID),
			)
		}
		h.recordAppError(ctx, fmt.Sprintf("failed to fetch session %s for event %s: %v",
			checkout.SessionID, checkout.EventID, err))
		return nil, err
	}

	if session.CustomerEmail == "" {
		h.recordAppError(ctx, fmt.Sprintf("session %s has no customer email, order skipped (event %s)",
			session.ID, checkout.EventID))
		return nil, fmt.Errorf("session %s has no customer email", session.ID)
	}

	order := &models.Order{
		ID:              uuid.New().String(),
		CustomerEmail:   session.CustomerEmail,
		StripeSessionID: session.ID,
		AmountTotal:     session.AmountTotal,
		Currency:        session.Currency,
		Status:          models.OrderStatusCompleted,
	}
	var userID interface{}
	if session.UserRef != "" {
		ref := session.UserRef
		order.UserID = &ref
		userID = ref
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		h.recordAppError(ctx, fmt.Sprintf("failed to begin transaction for session %s: %v", session.ID, err))
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO orders (id, customer_email, user_id, stripe_session_id, amount_total, currency, status) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		order.ID, order.CustomerEmail, userID, order.StripeSessionID, order.AmountTotal, order.Currency, order.Status,
	); err != nil {
		tx.Rollback()
		h.recordAppError(ctx, fmt.Sprintf("failed to insert order for session %s: %v", session.ID, err))
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	for _, line := range session.Lines {
		productID, err := h.resolveProduct(ctx, tx, line.ProductRef)
		if err != nil {
			tx.Rollback()
			h.recordAppError(ctx, fmt.Sprintf("failed to resolve product %q for session %s: %v",
				line.ProductRef, session.ID, err))
			return nil, fmt.Errorf("failed to resolve product %q: %w", line.ProductRef, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO order_items (order_id, product_id, quantity, unit_amount) VALUES ($1, $2, $3, $4)",
			order.ID, productID, line.Quantity, line.UnitAmount,
		); err != nil {
			tx.Rollback()
			h.recordAppError(ctx, fmt.Sprintf("failed to insert order item for session %s: %v", session.ID, err))
			return nil, fmt.Errorf("failed to insert order item: %w", err)
		}

		order.Items = append(order.Items, models.OrderItem{
			OrderID:    order.ID,
			ProductID:  productID,
			Quantity:   line.Quantity,
			UnitAmount: line.UnitAmount,
		})
	}

	if err := tx.Commit(); err != nil {
		h.recordAppError(ctx, fmt.Sprintf("failed to commit order for session %s: %v", session.ID, err))
		return nil, fmt.Errorf("failed to commit order: %w", err)
	}

	return order, nil
}

// resolveProduct maps a Stripe product reference to the internal catalog id.
// Resolution is by stripe_product_id only; a miss fails the whole order.
func (h *WebhookHandler) resolveProduct(ctx context.Context, tx *sql.Tx, productRef string) (int, error) {
	if productRef == "" {
		return 0, errors.New("line item has no product reference")
	}

	if h.redisClient != nil {
		if id, err := cache.GetProductIDByRef(ctx, h.redisClient, productRef); err == nil {
			return id, nil
		}
	}

	var id int
	err := tx.QueryRowContext(ctx,
		"SELECT id FROM products WHERE stripe_product_id = $1", productRef,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("no product mapped to stripe product %s", productRef)
		}
		return 0, err
	}

	if h.redisClient != nil {
		if err := cache.SetProductIDByRef(ctx, h.redisClient, productRef, id, productRefCacheTTL); err != nil {
			h.logger.Warn("Failed to cache product reference",
				zap.String("stripe_product_id", productRef),
				zap.Error(err),
			)
		}
	}
	return id, nil
}

// recordAppError persists an operator-facing error record. Failures here are
// logged; there is nowhere further to escalate.
func (h *WebhookHandler) recordAppError(ctx context.Context, message string) {
	if _, err := h.db.ExecContext(ctx,
		"INSERT INTO app_errors (source, message) VALUES ($1, $2)",
		appErrorSource, message,
	); err != nil {
		h.logger.Error("Failed to record application error",
			zap.String("source", appErrorSource),
			zap.String("message", message),
			zap.Error(err),
		)
	}
}

func (h *WebhookHandler) sendConfirmation(ctx context.Context, order *models.Order) {
	if h.mailer == nil {
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, emailSendTimeout)
	defer cancel()

	msg := email.OrderConfirmation(*order, order.Items)
	if err := h.mailer.Send(sendCtx, msg); err != nil {
		middleware.RecordEmailSent("failed")
		h.logger.Error("Failed to send confirmation email",
			zap.String("order_id", order.ID),
			zap.String("to", order.CustomerEmail),
			zap.Error(err),
		)
		return
	}
	middleware.RecordEmailSent("sent")
}

func (h *WebhookHandler) publishOrderCompleted(ctx context.Context, order *models.Order) {
	if h.producer == nil {
		return
	}

	event := models.OrderEvent{
		OrderID:       order.ID,
		CustomerEmail: order.CustomerEmail,
		AmountTotal:   order.AmountTotal,
		Currency:      order.Currency,
		Status:        order.Status,
		EventType:     "order_completed",
	}
	if err := kafka.PublishOrderEvent(ctx, h.producer, h.topic, event, h.logger); err != nil {
		h.logger.Error("Failed to publish order_completed event",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
