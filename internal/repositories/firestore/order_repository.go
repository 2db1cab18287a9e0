package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/lumenmarket/api/internal/domain"
	pfirestore "github.com/lumenmarket/api/internal/platform/firestore"
	"github.com/lumenmarket/api/internal/platform/pagination"
	"github.com/lumenmarket/api/internal/repositories"
)

const ordersCollection = "orders"

const (
	orderListDefaultPageSize = 50
	orderListMaxPageSize     = 200
)

// OrderRepository persists order aggregates in Firestore. Updates are guarded
// by a document version check executed inside a transaction.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{provider: provider, orders: base}, nil
}

// Insert creates the order document. A duplicate ID surfaces as a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}

	ref, err := r.orders.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, fromDomainOrder(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update rewrites the order document. The stored version must match
// order.Version or the write aborts with a conflict; the stored version is
// then advanced by one.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var stored orderDocument
		if err := snap.DataTo(&stored); err != nil {
			return fmt.Errorf("decode order %s: %w", order.ID, err)
		}
		if stored.Version != order.Version {
			return status.Errorf(codes.Aborted, "order %s version %d does not match stored %d", order.ID, order.Version, stored.Version)
		}

		doc := fromDomainOrder(order)
		doc.Version = order.Version + 1
		return tx.Set(ref, doc)
	})
	if err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// FindByID loads an order aggregate by document ID.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, errors.New("order id is required")
	}

	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return toDomainOrder(doc.ID, doc.Data), nil
}

// List returns orders matching the filter, newest first, with cursor paging.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = orderListDefaultPageSize
	}
	if pageSize > orderListMaxPageSize {
		pageSize = orderListMaxPageSize
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	query := client.Collection(ordersCollection).Query
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		query = query.Where("userId", "==", userID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		var cursor orderPageToken
		if err := pagination.DecodeToken(token, &cursor); err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, toDomainOrder(snap.Ref.ID, doc))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := pagination.EncodeToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

type orderDocument struct {
	OrderNumber         string                 `firestore:"orderNumber"`
	UserID              string                 `firestore:"userId"`
	Status              string                 `firestore:"status"`
	Currency            string                 `firestore:"currency"`
	TotalAmount         int64                  `firestore:"totalAmount"`
	TotalRefundedAmount int64                  `firestore:"totalRefundedAmount"`
	PaymentIntentID     *string                `firestore:"paymentIntentId,omitempty"`
	TrackingNumber      *string                `firestore:"trackingNumber,omitempty"`
	TrackingURL         *string                `firestore:"trackingUrl,omitempty"`
	Items               []orderLineDocument    `firestore:"items"`
	StatusHistory       []statusChangeDocument `firestore:"statusHistory"`
	RefundHistory       []refundDocument       `firestore:"refundHistory,omitempty"`
	CancelReason        *string                `firestore:"cancelReason,omitempty"`
	Metadata            map[string]any         `firestore:"metadata,omitempty"`
	CreatedBy           *string                `firestore:"createdBy,omitempty"`
	UpdatedBy           *string                `firestore:"updatedBy,omitempty"`
	Version             int64                  `firestore:"version"`
	CreatedAt           time.Time              `firestore:"createdAt"`
	UpdatedAt           time.Time              `firestore:"updatedAt"`
	ProcessingAt        *time.Time             `firestore:"processingAt,omitempty"`
	ShippedAt           *time.Time             `firestore:"shippedAt,omitempty"`
	DeliveredAt         *time.Time             `firestore:"deliveredAt,omitempty"`
	CancelledAt         *time.Time             `firestore:"cancelledAt,omitempty"`
	RefundedAt          *time.Time             `firestore:"refundedAt,omitempty"`
}

type orderLineDocument struct {
	ProductID string `firestore:"productId"`
	SKU       string `firestore:"sku"`
	Name      string `firestore:"name,omitempty"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice int64  `firestore:"unitPrice"`
	Total     int64  `firestore:"total"`
}

type statusChangeDocument struct {
	Status    string    `firestore:"status"`
	Timestamp time.Time `firestore:"timestamp"`
	Notes     string    `firestore:"notes,omitempty"`
	ActorID   string    `firestore:"actorId,omitempty"`
}

type refundDocument struct {
	ID          string    `firestore:"id"`
	Amount      int64     `firestore:"amount"`
	Reason      string    `firestore:"reason"`
	Status      string    `firestore:"status"`
	ProviderRef *string   `firestore:"providerRef,omitempty"`
	ActorID     string    `firestore:"actorId,omitempty"`
	Timestamp   time.Time `firestore:"timestamp"`
}

func fromDomainOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:         strings.TrimSpace(order.OrderNumber),
		UserID:              strings.TrimSpace(order.UserID),
		Status:              string(order.Status),
		Currency:            strings.ToUpper(strings.TrimSpace(order.Currency)),
		TotalAmount:         order.TotalAmount,
		TotalRefundedAmount: order.TotalRefundedAmount,
		PaymentIntentID:     order.PaymentIntentID,
		TrackingNumber:      order.TrackingNumber,
		TrackingURL:         order.TrackingURL,
		CancelReason:        order.CancelReason,
		Metadata:            order.Metadata,
		CreatedBy:           order.Audit.CreatedBy,
		UpdatedBy:           order.Audit.UpdatedBy,
		Version:             order.Version,
		CreatedAt:           order.CreatedAt.UTC(),
		UpdatedAt:           order.UpdatedAt.UTC(),
		ProcessingAt:        order.ProcessingAt,
		ShippedAt:           order.ShippedAt,
		DeliveredAt:         order.DeliveredAt,
		CancelledAt:         order.CancelledAt,
		RefundedAt:          order.RefundedAt,
	}

	doc.Items = make([]orderLineDocument, 0, len(order.Items))
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderLineDocument{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
		})
	}

	doc.StatusHistory = make([]statusChangeDocument, 0, len(order.StatusHistory))
	for _, change := range order.StatusHistory {
		doc.StatusHistory = append(doc.StatusHistory, statusChangeDocument{
			Status:    string(change.Status),
			Timestamp: change.Timestamp.UTC(),
			Notes:     change.Notes,
			ActorID:   change.ActorID,
		})
	}

	if len(order.RefundHistory) > 0 {
		doc.RefundHistory = make([]refundDocument, 0, len(order.RefundHistory))
		for _, refund := range order.RefundHistory {
			doc.RefundHistory = append(doc.RefundHistory, refundDocument{
				ID:          refund.ID,
				Amount:      refund.Amount,
				Reason:      refund.Reason,
				Status:      string(refund.Status),
				ProviderRef: refund.ProviderRef,
				ActorID:     refund.ActorID,
				Timestamp:   refund.Timestamp.UTC(),
			})
		}
	}

	return doc
}

func toDomainOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:                  id,
		OrderNumber:         doc.OrderNumber,
		UserID:              doc.UserID,
		Status:              domain.OrderStatus(doc.Status),
		Currency:            doc.Currency,
		TotalAmount:         doc.TotalAmount,
		TotalRefundedAmount: doc.TotalRefundedAmount,
		PaymentIntentID:     doc.PaymentIntentID,
		TrackingNumber:      doc.TrackingNumber,
		TrackingURL:         doc.TrackingURL,
		CancelReason:        doc.CancelReason,
		Metadata:            doc.Metadata,
		Audit:               domain.OrderAudit{CreatedBy: doc.CreatedBy, UpdatedBy: doc.UpdatedBy},
		Version:             doc.Version,
		CreatedAt:           doc.CreatedAt,
		UpdatedAt:           doc.UpdatedAt,
		ProcessingAt:        doc.ProcessingAt,
		ShippedAt:           doc.ShippedAt,
		DeliveredAt:         doc.DeliveredAt,
		CancelledAt:         doc.CancelledAt,
		RefundedAt:          doc.RefundedAt,
	}

	if len(doc.Items) > 0 {
		order.Items = make([]domain.OrderLineItem, 0, len(doc.Items))
		for _, item := range doc.Items {
			order.Items = append(order.Items, domain.OrderLineItem{
				ProductID: item.ProductID,
				SKU:       item.SKU,
				Name:      item.Name,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
				Total:     item.Total,
			})
		}
	}

	if len(doc.StatusHistory) > 0 {
		order.StatusHistory = make([]domain.StatusChange, 0, len(doc.StatusHistory))
		for _, change := range doc.StatusHistory {
			order.StatusHistory = append(order.StatusHistory, domain.StatusChange{
				Status:    domain.OrderStatus(change.Status),
				Timestamp: change.Timestamp,
				Notes:     change.Notes,
				ActorID:   change.ActorID,
			})
		}
	}

	if len(doc.RefundHistory) > 0 {
		order.RefundHistory = make([]domain.RefundRecord, 0, len(doc.RefundHistory))
		for _, refund := range doc.RefundHistory {
			order.RefundHistory = append(order.RefundHistory, domain.RefundRecord{
				ID:          refund.ID,
				Amount:      refund.Amount,
				Reason:      refund.Reason,
				Status:      domain.RefundStatus(refund.Status),
				ProviderRef: refund.ProviderRef,
				ActorID:     refund.ActorID,
				Timestamp:   refund.Timestamp,
			})
		}
	}

	return order
}

type orderPageToken struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
