package services

import (
	"context"
	"time"

	domain "github.com/lumenmarket/api/internal/domain"
	"github.com/lumenmarket/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination          = domain.Pagination
	SortOrder           = domain.SortOrder
	Order               = domain.Order
	OrderStatus         = domain.OrderStatus
	OrderLineItem       = domain.OrderLineItem
	OrderAudit          = domain.OrderAudit
	StatusChange        = domain.StatusChange
	RefundRecord        = domain.RefundRecord
	RefundStatus        = domain.RefundStatus
	InventoryStock      = domain.InventoryStock
	InventoryStockEvent = domain.InventoryStockEvent
	AuditLogEntry       = domain.AuditLogEntry
	SystemHealthReport  = domain.SystemHealthReport
)

// Aliasing the type does not carry its constants along; re-export the refund
// outcome states the ledger records.
const (
	RefundStatusSucceeded = domain.RefundStatusSucceeded
	RefundStatusFailed    = domain.RefundStatusFailed
)

// OrderService owns the order lifecycle: intake, reads, and the status state machine.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (OrderTransitionResult, error)
}

// RefundService validates refund requests against remaining capacity and records each attempt.
type RefundService interface {
	IssueRefund(ctx context.Context, cmd IssueRefundCommand) (Order, error)
}

// InventoryService adjusts on-hand stock, emitting stock events for downstream consumers.
type InventoryService interface {
	Restock(ctx context.Context, cmd RestockCommand) (InventoryStock, error)
	GetStock(ctx context.Context, productID string) (InventoryStock, error)
}

// SystemService aggregates utility endpoints (health checks, audit logs, counters).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	ListAuditLogs(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
	NextCounterValue(ctx context.Context, cmd CounterCommand) (int64, error)
}

// AuditLogService centralizes immutable audit log persistence and retrieval.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}

// CounterService manages monotonically increasing sequences such as order numbers.
type CounterService interface {
	Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error)
	NextOrderNumber(ctx context.Context) (string, error)
}

// InventoryEventPublisher accepts inventory stock change notifications for downstream processing.
type InventoryEventPublisher interface {
	PublishInventoryEvent(ctx context.Context, event InventoryStockEvent) error
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus OrderStatus
	CurrentStatus  OrderStatus
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// Command and DTO definitions ------------------------------------------------

type OrderListFilter = repositories.OrderListFilter

// CreateOrderCommand ingests a new order from the checkout perimeter. Orders
// always start in the pending status with nothing refunded.
type CreateOrderCommand struct {
	UserID          string
	Currency        string
	Items           []OrderLineItem
	PaymentIntentID *string
	OrderNumber     *string
	Metadata        map[string]any
	ActorID         string
}

// OrderStatusTransitionCommand requests a single administrator-driven status change.
type OrderStatusTransitionCommand struct {
	OrderID        string
	TargetStatus   OrderStatus
	TrackingNumber string
	TrackingURL    string
	Notes          string
	ActorID        string
	ExpectedStatus *OrderStatus
	Metadata       map[string]any
}

// OrderTransitionResult reports the transition outcome. A cancellation keeps
// its committed status change even when the triggered refund or a restock
// call fails; those failures surface here instead of rolling back.
type OrderTransitionResult struct {
	Order         Order
	Refund        *RefundRecord
	RefundErr     error
	RestockErrors []error
}

// IssueRefundCommand requests a partial or full refund against an order.
// Amount is in the smallest currency unit.
type IssueRefundCommand struct {
	OrderID string
	Amount  int64
	Reason  string
	ActorID string
}

// RestockCommand returns a cancelled line item's quantity to on-hand stock.
type RestockCommand struct {
	ProductID string
	SKU       string
	Quantity  int
	OrderID   string
	Reason    string
	ActorID   string
}

// AuditLogRecord defines the payload accepted by the audit writer service.
type AuditLogRecord struct {
	Actor                 string
	ActorType             string
	Action                string
	TargetRef             string
	Severity              string
	RequestID             string
	OccurredAt            time.Time
	Metadata              map[string]any
	SensitiveMetadataKeys []string
}

type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	ActorType  string
	Action     string
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}

type CounterCommand struct {
	CounterID string
	Step      int64
}

// CounterGenerationOptions controls how counter values are incremented and formatted.
type CounterGenerationOptions struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
	Prefix       string
	Suffix       string
	PadLength    int
	Formatter    func(now time.Time, seq int64) string
}

// CounterValue pairs the raw sequence value with its formatted representation.
type CounterValue struct {
	Value     int64
	Formatted string
}
