package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lumenmarket/api/internal/payments"
)

const refundIDPrefix = "rfn_"

var (
	// ErrRefundInvalidAmount signals a non-positive refund amount.
	ErrRefundInvalidAmount = errors.New("refund: invalid amount")
	// ErrRefundMissingReason signals a refund request without a reason.
	ErrRefundMissingReason = errors.New("refund: missing reason")
	// ErrRefundExceedsRefundable signals a refund larger than the remaining capacity.
	ErrRefundExceedsRefundable = errors.New("refund: amount exceeds refundable")
	// ErrPaymentProviderFailure indicates the payment provider rejected or timed out on a refund call.
	ErrPaymentProviderFailure = errors.New("refund: payment provider failure")
)

// RefundCapacityError reports how much of the order remains refundable so the
// caller can re-prompt with a valid amount.
type RefundCapacityError struct {
	Requested  int64
	Refundable int64
}

func (e *RefundCapacityError) Error() string {
	return fmt.Sprintf("refund: amount %d exceeds refundable %d", e.Requested, e.Refundable)
}

func (e *RefundCapacityError) Unwrap() error {
	return ErrRefundExceedsRefundable
}

// RefundableAmount returns the portion of the order's total value not yet
// successfully refunded. Failed refund attempts consume no capacity.
func RefundableAmount(order Order) int64 {
	return order.TotalAmount - order.TotalRefundedAmount
}

// RefundGateway abstracts payments.Manager for easier testing.
type RefundGateway interface {
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.RefundOutcome, error)
}

// RefundLedgerDeps bundles collaborators required to construct the refund ledger.
type RefundLedgerDeps struct {
	Gateway     RefundGateway
	Clock       func() time.Time
	IDGenerator func() string
	CallTimeout time.Duration
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// RefundLedger is the single validation and recording path for refunds. Every
// entry point, administrative refunds and cancellation-triggered ones alike,
// goes through Apply.
type RefundLedger struct {
	gateway     RefundGateway
	clock       func() time.Time
	newID       func() string
	callTimeout time.Duration
	logger      func(context.Context, string, map[string]any)
}

// NewRefundLedger wires dependencies into a RefundLedger.
func NewRefundLedger(deps RefundLedgerDeps) (*RefundLedger, error) {
	if deps.Gateway == nil {
		return nil, errors.New("refund ledger: payment gateway is required")
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

	return &RefundLedger{
		gateway: deps.Gateway,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:       idGen,
		callTimeout: deps.CallTimeout,
		logger:      logger,
	}, nil
}

// Apply validates the refund against the order's remaining capacity, invokes
// the payment provider, and appends the attempt to RefundHistory.
//
// Validation failures short-circuit in order (invalid amount, missing reason,
// capacity exceeded) and leave the order untouched. After validation the
// attempt is always recorded: a provider failure appends a failed record
// without touching TotalRefundedAmount and returns ErrPaymentProviderFailure;
// success appends a succeeded record and raises TotalRefundedAmount by the
// refunded amount.
func (l *RefundLedger) Apply(ctx context.Context, order *Order, amount int64, reason string, actorID string) (RefundRecord, error) {
	if order == nil {
		return RefundRecord{}, errors.New("refund ledger: order is required")
	}
	if amount <= 0 {
		return RefundRecord{}, fmt.Errorf("%w: amount must be positive, got %d", ErrRefundInvalidAmount, amount)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return RefundRecord{}, fmt.Errorf("%w: reason is required", ErrRefundMissingReason)
	}
	if refundable := RefundableAmount(*order); amount > refundable {
		return RefundRecord{}, &RefundCapacityError{Requested: amount, Refundable: refundable}
	}

	now := l.clock()
	record := RefundRecord{
		ID:        refundIDPrefix + l.newID(),
		Amount:    amount,
		Reason:    reason,
		ActorID:   strings.TrimSpace(actorID),
		Timestamp: now,
	}

	callCtx := ctx
	if l.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, l.callTimeout)
		defer cancel()
	}

	intentID := ""
	if order.PaymentIntentID != nil {
		intentID = strings.TrimSpace(*order.PaymentIntentID)
	}

	outcome, err := l.gateway.Refund(callCtx, payments.PaymentContext{Currency: order.Currency}, payments.RefundRequest{
		IntentID:       intentID,
		Amount:         &amount,
		Reason:         reason,
		IdempotencyKey: record.ID,
		Metadata: map[string]string{
			"orderId": order.ID,
		},
	})
	if err != nil {
		record.Status = RefundStatusFailed
		order.RefundHistory = append(order.RefundHistory, record)
		l.logger(ctx, "refund.provider.failed", map[string]any{
			"order":  order.ID,
			"amount": amount,
			"error":  err.Error(),
		})
		return record, fmt.Errorf("%w: %v", ErrPaymentProviderFailure, err)
	}

	record.Status = RefundStatusSucceeded
	if ref := strings.TrimSpace(outcome.RefundID); ref != "" {
		record.ProviderRef = valuePtr(ref)
	}
	order.RefundHistory = append(order.RefundHistory, record)
	order.TotalRefundedAmount += amount
	if RefundableAmount(*order) == 0 && order.RefundedAt == nil {
		order.RefundedAt = &now
	}

	return record, nil
}
