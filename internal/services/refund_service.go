package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lumenmarket/api/internal/repositories"
)

const orderEventRefundRecorded = "order.refund.recorded"

// RefundServiceDeps bundles collaborators required to construct the refund service.
type RefundServiceDeps struct {
	Orders     repositories.OrderRepository
	Ledger     *RefundLedger
	UnitOfWork repositories.UnitOfWork
	Clock      func() time.Time
	Events     OrderEventPublisher
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type refundService struct {
	orders     repositories.OrderRepository
	ledger     *RefundLedger
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

var _ RefundService = (*refundService)(nil)

// NewRefundService wires dependencies into a concrete RefundService implementation.
func NewRefundService(deps RefundServiceDeps) (RefundService, error) {
	if deps.Orders == nil {
		return nil, errors.New("refund service: order repository is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("refund service: refund ledger is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &refundService{
		orders:     deps.Orders,
		ledger:     deps.Ledger,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		events: deps.Events,
		logger: logger,
	}, nil
}

// IssueRefund validates the request through the ledger, persists the recorded
// attempt, and returns the updated order. Failed provider calls are persisted
// too, they are part of the refund history, and surface as
// ErrPaymentProviderFailure alongside the updated order.
func (s *refundService) IssueRefund(ctx context.Context, cmd IssueRefundCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	record, applyErr := s.ledger.Apply(ctx, &order, cmd.Amount, cmd.Reason, cmd.ActorID)
	if applyErr != nil && !errors.Is(applyErr, ErrPaymentProviderFailure) {
		return Order{}, applyErr
	}

	now := s.clock()
	order.UpdatedAt = now
	if actor := strings.TrimSpace(cmd.ActorID); actor != "" {
		order.Audit.UpdatedBy = valuePtr(actor)
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	// Mirror the version bump the repository applies on update.
	order.Version++

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventRefundRecorded,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		ActorID:     cmd.ActorID,
		OccurredAt:  now,
		Metadata: map[string]any{
			"refundId": record.ID,
			"amount":   record.Amount,
			"status":   string(record.Status),
		},
	})

	if applyErr != nil {
		return order, applyErr
	}
	return order, nil
}

func (s *refundService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *refundService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "refund.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}
