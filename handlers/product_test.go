package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

func setupProductTest(t *testing.T) (*ProductHandler, sqlmock.Sqlmock, *gin.Engine) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}

	// Redis is nil: the handler serves straight from the database.
	handler := NewProductHandler(db, nil, zaptest.NewLogger(t))

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/products", handler.GetProducts)
	router.GET("/products/:id", handler.GetProduct)

	return handler, mock, router
}

func productRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "stripe_product_id", "name", "price", "stock", "created_at", "updated_at"}).
		AddRow(1, "prod_1", "Ceramic Mug", int64(1000), 12, now, now).
		AddRow(2, "prod_2", "Linen Tote", int64(3500), 4, now, now)
}

func TestGetProducts_Success(t *testing.T) {
	handler, mock, router := setupProductTest(t)
	defer handler.db.Close()

	mock.ExpectQuery("SELECT id, stripe_product_id, name, price, stock, created_at, updated_at FROM products ORDER BY id").
		WillReturnRows(productRows())

	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "Ceramic Mug") || !strings.Contains(body, "Linen Tote") {
		t.Errorf("Expected both products in body, got %s", body)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestGetProduct_Success(t *testing.T) {
	handler, mock, router := setupProductTest(t)
	defer handler.db.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT id, stripe_product_id, name, price, stock, created_at, updated_at FROM products WHERE id").
		WithArgs("1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "stripe_product_id", "name", "price", "stock", "created_at", "updated_at"}).
			AddRow(1, "prod_1", "Ceramic Mug", int64(1000), 12, now, now))

	req := httptest.NewRequest(http.MethodGet, "/products/1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !strings.Contains(w.Body.String(), `"price":1000`) {
		t.Errorf("Expected price in body, got %s", w.Body.String())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestGetProduct_NotFound(t *testing.T) {
	handler, mock, router := setupProductTest(t)
	defer handler.db.Close()

	mock.ExpectQuery("SELECT id, stripe_product_id, name, price, stock, created_at, updated_at FROM products WHERE id").
		WithArgs("99").
		WillReturnRows(sqlmock.NewRows([]string{"id", "stripe_product_id", "name", "price", "stock", "created_at", "updated_at"}))

	req := httptest.NewRequest(http.MethodGet, "/products/99", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestGetProduct_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	handler, mock, router := setupProductTest(t)
	defer handler.db.Close()

	for i := 0; i < 5; i++ {
		mock.ExpectQuery("SELECT id, stripe_product_id, name, price, stock, created_at, updated_at FROM products WHERE id").
			WithArgs("1").
			WillReturnError(errors.New("connection refused"))
	}

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/products/1", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusInternalServerError {
			t.Errorf("Expected status %d on failure %d, got %d", http.StatusInternalServerError, i, w.Code)
		}
	}

	// Threshold reached: the breaker now rejects without touching the
	// database, hence no further query expectations.
	req := httptest.NewRequest(http.MethodGet, "/products/1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d with open circuit, got %d", http.StatusServiceUnavailable, w.Code)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}
