package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lumenmarket/api/internal/repositories"
)

const inventoryEventRestocked = "inventory.restocked"

var (
	// ErrInventoryInvalidInput signals the caller provided invalid stock parameters.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryStockNotFound indicates the product has no stock record.
	ErrInventoryStockNotFound = errors.New("inventory: stock not found")
)

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Stocks      repositories.InventoryRepository
	Events      InventoryEventPublisher
	Clock       func() time.Time
	CallTimeout time.Duration
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	stocks      repositories.InventoryRepository
	events      InventoryEventPublisher
	clock       func() time.Time
	callTimeout time.Duration
	logger      func(context.Context, string, map[string]any)
}

var _ InventoryService = (*inventoryService)(nil)

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Stocks == nil {
		return nil, errors.New("inventory service: stock repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryService{
		stocks: deps.Stocks,
		events: deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		callTimeout: deps.CallTimeout,
		logger:      logger,
	}, nil
}

// Restock returns a quantity to on-hand stock, typically when an order is
// cancelled, and emits a stock event for downstream consumers.
func (s *inventoryService) Restock(ctx context.Context, cmd RestockCommand) (InventoryStock, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return InventoryStock{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return InventoryStock{}, fmt.Errorf("%w: quantity must be positive, got %d", ErrInventoryInvalidInput, cmd.Quantity)
	}

	now := s.clock()
	adjustment := repositories.StockAdjustment{
		ProductID: productID,
		SKU:       strings.TrimSpace(cmd.SKU),
		Delta:     int64(cmd.Quantity),
		Reason:    strings.TrimSpace(cmd.Reason),
		Now:       now,
	}
	if orderID := strings.TrimSpace(cmd.OrderID); orderID != "" {
		adjustment.OrderRef = valuePtr("/orders/" + orderID)
	}

	callCtx := ctx
	if s.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}

	stock, err := s.stocks.AdjustStock(callCtx, adjustment)
	if err != nil {
		return InventoryStock{}, mapInventoryRepositoryError(err)
	}

	s.publishEvent(ctx, InventoryStockEvent{
		Type:       inventoryEventRestocked,
		ProductID:  stock.ProductID,
		SKU:        stock.SKU,
		Delta:      adjustment.Delta,
		OnHand:     stock.OnHand,
		OrderRef:   adjustment.OrderRef,
		ActorID:    strings.TrimSpace(cmd.ActorID),
		OccurredAt: now,
	})

	return stock, nil
}

func (s *inventoryService) GetStock(ctx context.Context, productID string) (InventoryStock, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return InventoryStock{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}

	stock, err := s.stocks.GetStock(ctx, productID)
	if err != nil {
		return InventoryStock{}, mapInventoryRepositoryError(err)
	}
	return stock, nil
}

func (s *inventoryService) publishEvent(ctx context.Context, event InventoryStockEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishInventoryEvent(ctx, event); err != nil {
		s.logger(ctx, "inventory.event.publish.failed", map[string]any{
			"type":    event.Type,
			"product": event.ProductID,
			"error":   err.Error(),
		})
	}
}

func mapInventoryRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorStockNotFound:
			return fmt.Errorf("%w: %s", ErrInventoryStockNotFound, invErr.Message)
		case repositories.InventoryErrorInvalidAdjustment:
			return fmt.Errorf("%w: %s", ErrInventoryInvalidInput, invErr.Message)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrInventoryStockNotFound, err)
	}

	return err
}
