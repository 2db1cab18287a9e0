package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/lumenmarket/api/internal/domain"
	pfirestore "github.com/lumenmarket/api/internal/platform/firestore"
	"github.com/lumenmarket/api/internal/repositories"
)

const inventoryCollection = "inventory"

// History keeps the most recent adjustments only; older entries roll off.
const stockHistoryLimit = 20

// InventoryRepository maintains per-product stock documents. Adjustments run
// inside Firestore transactions so concurrent restocks never lose updates.
type InventoryRepository struct {
	provider *pfirestore.Provider
	stocks   *pfirestore.BaseRepository[stockDocument]
}

// NewInventoryRepository constructs a Firestore-backed inventory repository.
func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	stocks := pfirestore.NewBaseRepository[stockDocument](provider, inventoryCollection, nil, nil)
	return &InventoryRepository{provider: provider, stocks: stocks}, nil
}

// AdjustStock applies the delta to the product's on-hand count. Negative
// deltas that would drive the count below zero are rejected; a positive delta
// against a missing document creates it.
func (r *InventoryRepository) AdjustStock(ctx context.Context, req repositories.StockAdjustment) (domain.InventoryStock, error) {
	if r == nil || r.provider == nil {
		return domain.InventoryStock{}, errors.New("inventory repository not initialised")
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return domain.InventoryStock{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidAdjustment, "inventory adjust: product id is required", nil)
	}
	if req.Delta == 0 {
		return domain.InventoryStock{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidAdjustment, "inventory adjust: delta must be non-zero", nil)
	}

	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var result domain.InventoryStock
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.stocks.DocumentRef(ctx, productID)
		if err != nil {
			return err
		}

		snap, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.NotFound:
			if req.Delta < 0 {
				return repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("stock %s not found", productID), err)
			}
			doc := stockDocument{
				SKU:       strings.TrimSpace(req.SKU),
				OnHand:    req.Delta,
				History:   appendAdjustment(nil, req, now),
				UpdatedAt: now,
			}
			if err := tx.Create(ref, doc); err != nil {
				return err
			}
			result = doc.toDomain(productID)
			return nil
		case codes.OK:
			// proceed
		default:
			return err
		}

		var doc stockDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode inventory stock %s: %w", productID, err)
		}

		next := doc.OnHand + req.Delta
		if next < 0 {
			return repositories.NewInventoryError(repositories.InventoryErrorInvalidAdjustment, fmt.Sprintf("inventory adjust: on-hand for %s cannot drop below zero", productID), nil)
		}

		doc.OnHand = next
		doc.UpdatedAt = now
		if sku := strings.TrimSpace(req.SKU); sku != "" {
			doc.SKU = sku
		}
		doc.History = appendAdjustment(doc.History, req, now)

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		result = doc.toDomain(productID)
		return nil
	})
	if err != nil {
		return domain.InventoryStock{}, wrapInventoryError("inventory.adjust", err)
	}
	return result, nil
}

// GetStock loads the stock record for the product.
func (r *InventoryRepository) GetStock(ctx context.Context, productID string) (domain.InventoryStock, error) {
	if r == nil || r.stocks == nil {
		return domain.InventoryStock{}, errors.New("inventory repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.InventoryStock{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidAdjustment, "inventory get: product id is required", nil)
	}

	doc, err := r.stocks.Get(ctx, productID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.InventoryStock{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("stock %s not found", productID), err)
		}
		return domain.InventoryStock{}, wrapInventoryError("inventory.get", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

type stockDocument struct {
	SKU       string               `firestore:"sku"`
	OnHand    int64                `firestore:"onHand"`
	History   []adjustmentDocument `firestore:"history,omitempty"`
	UpdatedAt time.Time            `firestore:"updatedAt"`
}

type adjustmentDocument struct {
	Delta     int64     `firestore:"delta"`
	OrderRef  *string   `firestore:"orderRef,omitempty"`
	Reason    string    `firestore:"reason,omitempty"`
	AppliedAt time.Time `firestore:"appliedAt"`
}

func appendAdjustment(history []adjustmentDocument, req repositories.StockAdjustment, now time.Time) []adjustmentDocument {
	history = append(history, adjustmentDocument{
		Delta:     req.Delta,
		OrderRef:  req.OrderRef,
		Reason:    strings.TrimSpace(req.Reason),
		AppliedAt: now,
	})
	if len(history) > stockHistoryLimit {
		history = history[len(history)-stockHistoryLimit:]
	}
	return history
}

func (d stockDocument) toDomain(productID string) domain.InventoryStock {
	return domain.InventoryStock{
		ProductID: productID,
		SKU:       d.SKU,
		OnHand:    d.OnHand,
		UpdatedAt: d.UpdatedAt,
	}
}

func wrapInventoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)
