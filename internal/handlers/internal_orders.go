package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lumenmarket/api/internal/platform/httpx"
	"github.com/lumenmarket/api/internal/services"
)

// InternalOrderHandlers receives order intake calls from the checkout service.
type InternalOrderHandlers struct {
	orders services.OrderService
}

// NewInternalOrderHandlers constructs the internal order intake handlers.
func NewInternalOrderHandlers(orders services.OrderService) *InternalOrderHandlers {
	return &InternalOrderHandlers{orders: orders}
}

// Routes registers the intake endpoints on the internal group.
func (h *InternalOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders", h.createOrder)
}

type createOrderRequest struct {
	UserID          string                   `json:"user_id"`
	Currency        string                   `json:"currency"`
	Items           []createOrderItemRequest `json:"items"`
	PaymentIntentID *string                  `json:"payment_intent_id"`
	OrderNumber     *string                  `json:"order_number"`
	Metadata        map[string]any           `json:"metadata"`
}

type createOrderItemRequest struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

func (h *InternalOrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	actor := actorFromRequest(r)
	if actor == "" {
		actor = "system"
	}

	items := make([]services.OrderLineItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.OrderLineItem{
			ProductID: strings.TrimSpace(item.ProductID),
			SKU:       strings.TrimSpace(item.SKU),
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		UserID:          strings.TrimSpace(req.UserID),
		Currency:        strings.TrimSpace(req.Currency),
		Items:           items,
		PaymentIntentID: req.PaymentIntentID,
		OrderNumber:     req.OrderNumber,
		Metadata:        cloneMap(req.Metadata),
		ActorID:         actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}
