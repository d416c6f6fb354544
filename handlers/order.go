package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"checkout-svc/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type OrderHandler struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOrderHandler(db *sql.DB, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		db:     db,
		logger: logger,
	}
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	ctx, span := otel.Tracer("checkout-service").Start(c.Request.Context(), "GetOrder")
	defer span.End()

	id := c.Param("id")
	span.SetAttributes(attribute.String("order.id", id))

	var order models.Order
	err := h.db.QueryRowContext(ctx,
		"SELECT id, customer_email, user_id, stripe_session_id, amount_total, currency, status, created_at FROM orders WHERE id = $1",
		id,
	).Scan(&order.ID, &order.CustomerEmail, &order.UserID, &order.StripeSessionID,
		&order.AmountTotal, &order.Currency, &order.Status, &order.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to get order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	rows, err := h.db.QueryContext(ctx,
		"SELECT id, order_id, product_id, quantity, unit_amount FROM order_items WHERE order_id = $1 ORDER BY id",
		id,
	)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to get order items", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitAmount); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to scan order item", zap.Error(err))
			continue
		}
		order.Items = append(order.Items, item)
	}

	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) ListOrders(c *gin.Context) {
	ctx, span := otel.Tracer("checkout-service").Start(c.Request.Context(), "ListOrders")
	defer span.End()

	customerEmail := c.Query("email")
	if customerEmail == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email query parameter is required"})
		return
	}

	rows, err := h.db.QueryContext(ctx,
		"SELECT id, customer_email, user_id, stripe_session_id, amount_total, currency, status, created_at FROM orders WHERE customer_email = $1 ORDER BY created_at DESC",
		customerEmail,
	)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to list orders", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var order models.Order
		if err := rows.Scan(&order.ID, &order.CustomerEmail, &order.UserID, &order.StripeSessionID,
			&order.AmountTotal, &order.Currency, &order.Status, &order.CreatedAt); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to scan order", zap.Error(err))
			continue
		}
		orders = append(orders, order)
	}

	span.SetAttributes(attribute.Int("orders.count", len(orders)))
	c.JSON(http.StatusOK, orders)
}
