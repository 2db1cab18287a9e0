package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/lumenmarket/api/internal/domain"
	"github.com/lumenmarket/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix = "ord_"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates the requested status is not reachable from the current one.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderMissingTrackingInfo indicates a shipped transition without tracking number and URL.
	ErrOrderMissingTrackingInfo = errors.New("order: missing tracking info")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Counters    repositories.CounterRepository
	Inventory   InventoryService
	Ledger      *RefundLedger
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	counters   repositories.CounterRepository
	inventory  InventoryService
	ledger     *RefundLedger
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		counters:   deps.Counters,
		inventory:  deps.Inventory,
		ledger:     deps.Ledger,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

// CreateOrder ingests an order from the checkout perimeter. Orders always
// start pending with nothing refunded; the line item snapshot and total are
// immutable afterwards.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	currency := strings.TrimSpace(cmd.Currency)
	if currency == "" {
		return Order{}, fmt.Errorf("%w: currency is required", ErrOrderInvalidInput)
	}

	items, total, err := buildOrderLineItems(cmd.Items)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	actor := strings.TrimSpace(cmd.ActorID)

	order := Order{
		ID:                  s.nextOrderID(),
		UserID:              userID,
		Status:              domain.OrderStatusPending,
		Currency:            strings.ToUpper(currency),
		TotalAmount:         total,
		TotalRefundedAmount: 0,
		Items:               items,
		StatusHistory: []StatusChange{
			{Status: domain.OrderStatusPending, Timestamp: now, ActorID: actor},
		},
		Metadata:  cloneMap(cmd.Metadata),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if cmd.PaymentIntentID != nil {
		if intent := strings.TrimSpace(*cmd.PaymentIntentID); intent != "" {
			order.PaymentIntentID = valuePtr(intent)
		}
	}

	if cmd.OrderNumber != nil && strings.TrimSpace(*cmd.OrderNumber) != "" {
		order.OrderNumber = strings.TrimSpace(*cmd.OrderNumber)
	}
	if order.OrderNumber == "" {
		number, err := s.generateOrderNumber(ctx, now)
		if err != nil {
			return Order{}, err
		}
		order.OrderNumber = number
	}

	if actor != "" {
		order.Audit.CreatedBy = valuePtr(actor)
		order.Audit.UpdatedBy = valuePtr(actor)
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: order.Status,
		ActorID:       actor,
		OccurredAt:    now,
		Metadata:      maps.Clone(order.Metadata),
	})

	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapOrderRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	return order, nil
}

// TransitionStatus applies an administrator-requested status change. Effects
// run in a fixed order: validate, write tracking fields, write status and
// per-status timestamp, append the history entry, persist, then run
// cancellation side effects. Validation failures leave the order untouched.
//
// The cancellation side effects, restock and full refund of the remaining
// capacity, happen after the status write commits and are never rolled back;
// their failures surface on the result instead.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (OrderTransitionResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return OrderTransitionResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := cmd.TargetStatus
	if !target.IsValid() {
		return OrderTransitionResult{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, target)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderTransitionResult{}, mapOrderRepositoryError(err)
	}

	if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
		return OrderTransitionResult{}, fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, order.Status)
	}

	// A status never transitions to itself; duplicate submissions are rejected.
	if !order.Status.CanTransitionTo(target) {
		return OrderTransitionResult{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, target)
	}

	trackingNumber := strings.TrimSpace(cmd.TrackingNumber)
	trackingURL := strings.TrimSpace(cmd.TrackingURL)
	if target == domain.OrderStatusShipped && (trackingNumber == "" || trackingURL == "") {
		return OrderTransitionResult{}, fmt.Errorf("%w: tracking number and url are required for shipped", ErrOrderMissingTrackingInfo)
	}

	actor := strings.TrimSpace(cmd.ActorID)
	notes := strings.TrimSpace(cmd.Notes)
	now := s.now()
	prevStatus := order.Status

	if target == domain.OrderStatusShipped {
		order.TrackingNumber = valuePtr(trackingNumber)
		order.TrackingURL = valuePtr(trackingURL)
	}
	if target == domain.OrderStatusCancelled {
		order.CancelReason = optionalString(notes)
	}

	order.Status = target
	order.UpdatedAt = now
	s.updateTimestamps(&order, target, now)
	if actor != "" {
		order.Audit.UpdatedBy = valuePtr(actor)
	}
	order.StatusHistory = append(order.StatusHistory, StatusChange{
		Status:    target,
		Timestamp: now,
		Notes:     notes,
		ActorID:   actor,
	})

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return OrderTransitionResult{}, err
	}
	// The repository bumps the stored version on every update; mirror it so
	// follow-up writes in this request pass the version check.
	order.Version++

	result := OrderTransitionResult{Order: order}

	if target == domain.OrderStatusCancelled {
		result.RestockErrors = s.restockItems(ctx, order, notes, actor)
		s.applyCancellationRefund(ctx, &result, notes, actor)
		order = result.Order
	}

	metadata := ensureMap(cmd.Metadata)
	if notes != "" {
		metadata["notes"] = notes
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: prevStatus,
		CurrentStatus:  order.Status,
		ActorID:        actor,
		OccurredAt:     now,
		Metadata:       metadata,
	})

	return result, nil
}

// restockItems returns every line item's quantity to stock, one call per item.
// Failures are collected rather than aborting the loop.
func (s *orderService) restockItems(ctx context.Context, order Order, reason string, actor string) []error {
	if s.inventory == nil {
		return nil
	}

	var failures []error
	for _, item := range order.Items {
		_, err := s.inventory.Restock(ctx, RestockCommand{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Quantity:  item.Quantity,
			OrderID:   order.ID,
			Reason:    reason,
			ActorID:   actor,
		})
		if err != nil {
			failures = append(failures, fmt.Errorf("restock %s: %w", item.SKU, err))
			s.logger(ctx, "order.cancel.restock.failed", map[string]any{
				"order": order.ID,
				"sku":   item.SKU,
				"error": err.Error(),
			})
		}
	}
	return failures
}

// applyCancellationRefund refunds the remaining capacity of a just-cancelled
// order. The status change has already committed and stays committed whatever
// happens here; refund and persistence failures surface as result.RefundErr.
func (s *orderService) applyCancellationRefund(ctx context.Context, result *OrderTransitionResult, notes string, actor string) {
	if s.ledger == nil {
		return
	}

	order := result.Order
	refundable := RefundableAmount(order)
	if refundable <= 0 {
		return
	}

	reason := notes
	if reason == "" {
		reason = "order cancelled"
	}

	record, applyErr := s.ledger.Apply(ctx, &order, refundable, reason, actor)
	if record.ID != "" {
		result.Refund = &record
	}
	if applyErr != nil && !errors.Is(applyErr, ErrPaymentProviderFailure) {
		result.RefundErr = applyErr
		return
	}

	order.UpdatedAt = s.now()
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		s.logger(ctx, "order.cancel.refund.persist.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
		result.RefundErr = err
		return
	}
	order.Version++

	result.Order = order
	result.RefundErr = applyErr
}

func (s *orderService) updateTimestamps(order *Order, status OrderStatus, now time.Time) {
	switch status {
	case domain.OrderStatusProcessing:
		order.ProcessingAt = &now
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	case domain.OrderStatusRefunded:
		if order.RefundedAt == nil {
			order.RefundedAt = &now
		}
	}
}

func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, "orders", 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("LM-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": string(event.CurrentStatus),
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func buildOrderLineItems(items []OrderLineItem) ([]OrderLineItem, int64, error) {
	lines := make([]OrderLineItem, 0, len(items))
	var total int64
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		sku := strings.TrimSpace(item.SKU)
		if productID == "" || sku == "" {
			return nil, 0, fmt.Errorf("%w: line item product id and sku are required", ErrOrderInvalidInput)
		}
		if item.Quantity <= 0 {
			return nil, 0, fmt.Errorf("%w: line item quantity must be positive", ErrOrderInvalidInput)
		}
		if item.UnitPrice < 0 {
			return nil, 0, fmt.Errorf("%w: line item unit price cannot be negative", ErrOrderInvalidInput)
		}

		line := OrderLineItem{
			ProductID: productID,
			SKU:       sku,
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.UnitPrice * int64(item.Quantity),
		}
		total += line.Total
		lines = append(lines, line)
	}
	return lines, total, nil
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	return maps.Clone(src)
}

func ensureMap(src map[string]any) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	return src
}

func valuePtr[T any](v T) *T {
	return &v
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	ref := v
	return &ref
}
