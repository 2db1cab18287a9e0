package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/lumenmarket/api/internal/domain"
	"github.com/lumenmarket/api/internal/platform/httpx"
	"github.com/lumenmarket/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 16 * 1024
)

// AdminOrderHandlers exposes the back-office order endpoints: list, detail,
// status transitions, and refunds.
type AdminOrderHandlers struct {
	orders        services.OrderService
	refunds       services.RefundService
	refundLimiter rateLimiter
}

// AdminOrderOption customises the admin order handlers.
type AdminOrderOption func(*AdminOrderHandlers)

// WithRefundRateLimit throttles refund submissions per actor. Repeated refund
// clicks from the same operator are the most common duplicate source.
func WithRefundRateLimit(limit int, window time.Duration) AdminOrderOption {
	return func(h *AdminOrderHandlers) {
		h.refundLimiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewAdminOrderHandlers constructs the admin order handlers.
func NewAdminOrderHandlers(orders services.OrderService, refunds services.RefundService, opts ...AdminOrderOption) *AdminOrderHandlers {
	h := &AdminOrderHandlers{
		orders:  orders,
		refunds: refunds,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the order endpoints on the admin group.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}:changeStatus", h.changeStatus)
	r.Post("/orders/{orderID}:refund", h.refund)
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()

	var statusFilters []domain.OrderStatus
	for _, raw := range parseFilterValues(query["status"]) {
		status, ok := parseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
			return
		}
		statusFilters = append(statusFilters, status)
	}

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.To = &ts
	}

	pageSize := defaultOrderPageSize
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}

	filter := services.OrderListFilter{
		UserID:    strings.TrimSpace(query.Get("user_id")),
		Status:    statusFilters,
		DateRange: dateRange,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type changeStatusRequest struct {
	Status         string         `json:"status"`
	TrackingNumber string         `json:"tracking_number"`
	TrackingURL    string         `json:"tracking_url"`
	Notes          string         `json:"notes"`
	ExpectedStatus string         `json:"expected_status"`
	Metadata       map[string]any `json:"metadata"`
}

func (h *AdminOrderHandlers) changeStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	actor := actorFromRequest(r)
	if actor == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "actor identity required", http.StatusUnauthorized))
		return
	}

	var req changeStatusRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	target, ok := parseOrderStatus(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
		return
	}

	cmd := services.OrderStatusTransitionCommand{
		OrderID:        orderID,
		TargetStatus:   target,
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
		TrackingURL:    strings.TrimSpace(req.TrackingURL),
		Notes:          strings.TrimSpace(req.Notes),
		ActorID:        actor,
		Metadata:       cloneMap(req.Metadata),
	}
	if raw := strings.TrimSpace(req.ExpectedStatus); raw != "" {
		expected, ok := parseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected_status must be a valid order status", http.StatusBadRequest))
			return
		}
		cmd.ExpectedStatus = &expected
	}

	result, err := h.orders.TransitionStatus(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	response := transitionResponse{
		Order:    buildOrderPayload(result.Order),
		Warnings: buildTransitionWarnings(result),
	}
	if result.Refund != nil {
		payload := buildRefundPayload(*result.Refund)
		response.Refund = &payload
	}
	writeJSONResponse(w, http.StatusOK, response)
}

type refundRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (h *AdminOrderHandlers) refund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.refunds == nil {
		httpx.WriteError(ctx, w, httpx.NewError("refund_service_unavailable", "refund service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	actor := actorFromRequest(r)
	if actor == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "actor identity required", http.StatusUnauthorized))
		return
	}

	if h.refundLimiter != nil && !h.refundLimiter.Allow(actor) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many refund attempts, retry later", http.StatusTooManyRequests))
		return
	}

	var req refundRequest
	if !decodeRefundBody(ctx, w, r, &req) {
		return
	}

	order, err := h.refunds.IssueRefund(ctx, services.IssueRefundCommand{
		OrderID: orderID,
		Amount:  req.Amount,
		Reason:  strings.TrimSpace(req.Reason),
		ActorID: actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	response := refundResponse{Order: buildOrderPayload(order)}
	if len(order.RefundHistory) > 0 {
		payload := buildRefundPayload(order.RefundHistory[len(order.RefundHistory)-1])
		response.Refund = &payload
	}
	writeJSONResponse(w, http.StatusOK, response)
}

func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

// decodeRefundBody decodes a refund request. A fractional or non-numeric
// amount is invalid refund input, not a malformed envelope, so it maps to the
// same error kind the service returns for a non-positive amount.
func decodeRefundBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst *refundRequest) bool {
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field == "amount" {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_refund_amount", "refund amount must be an integer in minor currency units", http.StatusBadRequest))
			return false
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func buildTransitionWarnings(result services.OrderTransitionResult) []string {
	var warnings []string
	if result.RefundErr != nil {
		warnings = append(warnings, "refund failed: "+result.RefundErr.Error())
	}
	for _, err := range result.RestockErrors {
		if err != nil {
			warnings = append(warnings, "restock failed: "+err.Error())
		}
	}
	return warnings
}

// writeOrderError maps service errors to API error responses.
func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var capacityErr *services.RefundCapacityError
	switch {
	case errors.As(err, &capacityErr):
		httpx.WriteError(ctx, w, httpx.NewError("refund_exceeds_refundable", "refund amount exceeds the refundable balance", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{
				"requested":      capacityErr.Requested,
				"max_refundable": capacityErr.Refundable,
			}))
	case errors.Is(err, services.ErrRefundExceedsRefundable):
		httpx.WriteError(ctx, w, httpx.NewError("refund_exceeds_refundable", "refund amount exceeds the refundable balance", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPaymentProviderFailure):
		httpx.WriteError(ctx, w, httpx.NewError("provider_failure", "payment provider rejected the refund", http.StatusBadGateway))
	case errors.Is(err, services.ErrRefundInvalidAmount):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_refund_amount", "refund amount must be a positive integer", http.StatusBadRequest))
	case errors.Is(err, services.ErrRefundMissingReason):
		httpx.WriteError(ctx, w, httpx.NewError("refund_reason_required", "refund reason is required", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderMissingTrackingInfo):
		httpx.WriteError(ctx, w, httpx.NewError("tracking_info_required", "tracking number is required to mark an order shipped", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_status_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"order_number"`
	UserID        string `json:"user_id"`
	Status        string `json:"status"`
	Currency      string `json:"currency"`
	TotalAmount   int64  `json:"total_amount"`
	TotalRefunded int64  `json:"total_refunded_amount"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type transitionResponse struct {
	Order    orderPayload   `json:"order"`
	Refund   *refundPayload `json:"refund,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
}

type refundResponse struct {
	Order  orderPayload   `json:"order"`
	Refund *refundPayload `json:"refund,omitempty"`
}

type orderPayload struct {
	ID              string                `json:"id"`
	OrderNumber     string                `json:"order_number"`
	UserID          string                `json:"user_id"`
	Status          string                `json:"status"`
	Currency        string                `json:"currency"`
	TotalAmount     int64                 `json:"total_amount"`
	TotalRefunded   int64                 `json:"total_refunded_amount"`
	Refundable      int64                 `json:"refundable_amount"`
	PaymentIntentID *string               `json:"payment_intent_id,omitempty"`
	TrackingNumber  *string               `json:"tracking_number,omitempty"`
	TrackingURL     *string               `json:"tracking_url,omitempty"`
	Items           []orderItemPayload    `json:"items"`
	StatusHistory   []statusChangePayload `json:"status_history"`
	RefundHistory   []refundPayload       `json:"refund_history,omitempty"`
	CancelReason    *string               `json:"cancel_reason,omitempty"`
	Metadata        map[string]any        `json:"metadata,omitempty"`
	Version         int64                 `json:"version"`
	CreatedAt       string                `json:"created_at"`
	UpdatedAt       string                `json:"updated_at,omitempty"`
	ProcessingAt    string                `json:"processing_at,omitempty"`
	ShippedAt       string                `json:"shipped_at,omitempty"`
	DeliveredAt     string                `json:"delivered_at,omitempty"`
	CancelledAt     string                `json:"cancelled_at,omitempty"`
	RefundedAt      string                `json:"refunded_at,omitempty"`
}

type orderItemPayload struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Total     int64  `json:"total"`
}

type statusChangePayload struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Notes     string `json:"notes,omitempty"`
	ActorID   string `json:"actor_id,omitempty"`
}

type refundPayload struct {
	ID          string  `json:"id"`
	Amount      int64   `json:"amount"`
	Reason      string  `json:"reason"`
	Status      string  `json:"status"`
	ProviderRef *string `json:"provider_ref,omitempty"`
	ActorID     string  `json:"actor_id,omitempty"`
	Timestamp   string  `json:"timestamp"`
}

func buildOrderSummary(order domain.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Status:        string(order.Status),
		Currency:      order.Currency,
		TotalAmount:   order.TotalAmount,
		TotalRefunded: order.TotalRefundedAmount,
		CreatedAt:     formatTime(order.CreatedAt),
		UpdatedAt:     formatTime(order.UpdatedAt),
	}
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
		})
	}

	history := make([]statusChangePayload, 0, len(order.StatusHistory))
	for _, change := range order.StatusHistory {
		history = append(history, statusChangePayload{
			Status:    string(change.Status),
			Timestamp: formatTime(change.Timestamp),
			Notes:     change.Notes,
			ActorID:   change.ActorID,
		})
	}

	var refunds []refundPayload
	for _, record := range order.RefundHistory {
		refunds = append(refunds, buildRefundPayload(record))
	}

	return orderPayload{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		UserID:          order.UserID,
		Status:          string(order.Status),
		Currency:        order.Currency,
		TotalAmount:     order.TotalAmount,
		TotalRefunded:   order.TotalRefundedAmount,
		Refundable:      services.RefundableAmount(order),
		PaymentIntentID: order.PaymentIntentID,
		TrackingNumber:  order.TrackingNumber,
		TrackingURL:     order.TrackingURL,
		Items:           items,
		StatusHistory:   history,
		RefundHistory:   refunds,
		CancelReason:    order.CancelReason,
		Metadata:        order.Metadata,
		Version:         order.Version,
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
		ProcessingAt:    formatTimePointer(order.ProcessingAt),
		ShippedAt:       formatTimePointer(order.ShippedAt),
		DeliveredAt:     formatTimePointer(order.DeliveredAt),
		CancelledAt:     formatTimePointer(order.CancelledAt),
		RefundedAt:      formatTimePointer(order.RefundedAt),
	}
}

func buildRefundPayload(record domain.RefundRecord) refundPayload {
	return refundPayload{
		ID:          record.ID,
		Amount:      record.Amount,
		Reason:      record.Reason,
		Status:      string(record.Status),
		ProviderRef: record.ProviderRef,
		ActorID:     record.ActorID,
		Timestamp:   formatTime(record.Timestamp),
	}
}
