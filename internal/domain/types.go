package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was placed and awaits fulfillment handling.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates the order is being picked and packed.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusAwaitingShipment indicates packing finished and the order waits for carrier handoff.
	OrderStatusAwaitingShipment OrderStatus = "awaiting_shipment"
	// OrderStatusShipped indicates the order has left the warehouse with tracking assigned.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the carrier confirmed delivery to the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled; terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded indicates a delivered order was fully refunded; terminal.
	OrderStatusRefunded OrderStatus = "refunded"
)

// StatusChange records a single entry in an order's append-only status history.
type StatusChange struct {
	Status    OrderStatus
	Timestamp time.Time
	Notes     string
	ActorID   string
}

// RefundStatus describes the outcome of a refund attempt.
type RefundStatus string

const (
	// RefundStatusSucceeded indicates the payment provider confirmed the refund.
	RefundStatusSucceeded RefundStatus = "succeeded"
	// RefundStatusFailed indicates the provider call failed; the amount was not returned.
	RefundStatusFailed RefundStatus = "failed"
)

// RefundRecord is a single entry in an order's append-only refund history.
// Amounts are in the smallest currency unit.
type RefundRecord struct {
	ID          string
	Amount      int64
	Reason      string
	Status      RefundStatus
	ProviderRef *string
	ActorID     string
	Timestamp   time.Time
}

// OrderLineItem stores an immutable snapshot of a purchased product line.
type OrderLineItem struct {
	ProductID string
	SKU       string
	Name      string
	Quantity  int
	UnitPrice int64
	Total     int64
}

// OrderAudit tracks actor attribution for writes.
type OrderAudit struct {
	CreatedBy *string
	UpdatedBy *string
}

// Order is the aggregate root for a customer purchase. Status is mutated only
// through the order service; TotalAmount is fixed at creation and
// TotalRefundedAmount never exceeds it.
type Order struct {
	ID                  string
	OrderNumber         string
	UserID              string
	Status              OrderStatus
	Currency            string
	TotalAmount         int64
	TotalRefundedAmount int64
	PaymentIntentID     *string
	TrackingNumber      *string
	TrackingURL         *string
	Items               []OrderLineItem
	StatusHistory       []StatusChange
	RefundHistory       []RefundRecord
	CancelReason        *string
	Metadata            map[string]any
	Audit               OrderAudit
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ProcessingAt        *time.Time
	ShippedAt           *time.Time
	DeliveredAt         *time.Time
	CancelledAt         *time.Time
	RefundedAt          *time.Time
}

// InventoryStock tracks on-hand counts per product for restock adjustments.
type InventoryStock struct {
	ProductID string
	SKU       string
	OnHand    int64
	UpdatedAt time.Time
}

// InventoryStockEvent notifies downstream consumers of stock level changes.
type InventoryStockEvent struct {
	Type       string
	ProductID  string
	SKU        string
	Delta      int64
	OnHand     int64
	OrderRef   *string
	ActorID    string
	OccurredAt time.Time
}

// AuditLogEntry stores normalized audit information for admin use.
type AuditLogEntry struct {
	ID        string
	Actor     string
	ActorType string
	Action    string
	TargetRef string
	Metadata  map[string]any
	Severity  string
	RequestID string
	CreatedAt time.Time
}

// Health status values reported by readiness probes.
const (
	// HealthStatusOK indicates all dependencies responded within thresholds.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
