package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/lumenmarket/api/internal/domain"
	"github.com/lumenmarket/api/internal/services"
)

func TestInternalOrderHandlersCreateOrder(t *testing.T) {
	var captured services.CreateOrderCommand
	orders := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusPending
			return order, nil
		},
	}

	router := chi.NewRouter()
	NewInternalOrderHandlers(orders).Routes(router)

	payload := `{
		"user_id": "usr_1",
		"currency": "usd",
		"items": [
			{"product_id": "prd_1", "sku": "SKU-1", "name": "Mug", "quantity": 2, "unit_price": 2500}
		],
		"payment_intent_id": "pi_123",
		"metadata": {"channel": "web"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(payload))
	req.Header.Set(ActorIDHeader, "svc_checkout")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}

	if captured.UserID != "usr_1" || captured.Currency != "usd" {
		t.Fatalf("unexpected command: %+v", captured)
	}
	if len(captured.Items) != 1 || captured.Items[0].SKU != "SKU-1" || captured.Items[0].Quantity != 2 {
		t.Fatalf("unexpected items: %+v", captured.Items)
	}
	if captured.PaymentIntentID == nil || *captured.PaymentIntentID != "pi_123" {
		t.Fatalf("expected payment intent, got %+v", captured.PaymentIntentID)
	}
	if captured.ActorID != "svc_checkout" {
		t.Fatalf("expected actor from header, got %q", captured.ActorID)
	}
	if captured.Metadata["channel"] != "web" {
		t.Fatalf("expected metadata passthrough, got %+v", captured.Metadata)
	}

	var body struct {
		Order struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"order"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Order.ID != "ord_1" || body.Order.Status != "pending" {
		t.Fatalf("unexpected order payload: %+v", body.Order)
	}
}

func TestInternalOrderHandlersCreateOrderDefaultsActor(t *testing.T) {
	var captured services.CreateOrderCommand
	orders := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}

	router := chi.NewRouter()
	NewInternalOrderHandlers(orders).Routes(router)

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(`{"user_id":"usr_1","currency":"USD","items":[{"product_id":"prd_1","sku":"SKU-1","quantity":1,"unit_price":100}]}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}
	if captured.ActorID != "system" {
		t.Fatalf("expected system actor, got %q", captured.ActorID)
	}
}

func TestInternalOrderHandlersCreateOrderInvalidInput(t *testing.T) {
	orders := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInvalidInput
		},
	}

	router := chi.NewRouter()
	NewInternalOrderHandlers(orders).Routes(router)

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(`{"user_id":"","currency":"USD","items":[]}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["error"] != "invalid_request" {
		t.Fatalf("expected invalid_request, got %v", body["error"])
	}
}

func TestInternalOrderHandlersCreateOrderConflict(t *testing.T) {
	orders := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderConflict
		},
	}

	router := chi.NewRouter()
	NewInternalOrderHandlers(orders).Routes(router)

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(`{"user_id":"usr_1","currency":"USD","items":[{"product_id":"prd_1","sku":"SKU-1","quantity":1,"unit_price":100}]}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestInternalOrderHandlersCreateOrderEmptyBody(t *testing.T) {
	router := chi.NewRouter()
	NewInternalOrderHandlers(&stubOrderService{}).Routes(router)

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString("   "))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}
