//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"testing"
	"time"

	domain "github.com/lumenmarket/api/internal/domain"
	pconfig "github.com/lumenmarket/api/internal/platform/config"
	pfirestore "github.com/lumenmarket/api/internal/platform/firestore"
	"github.com/lumenmarket/api/internal/repositories"
)

func TestOrderRepositoryIntegration(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "orders-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	repo, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Second)
	order := domain.Order{
		ID:          "ord_itest_1",
		OrderNumber: "LM-2026-000001",
		UserID:      "usr_1",
		Status:      domain.OrderStatusPending,
		Currency:    "USD",
		TotalAmount: 2500,
		Items: []domain.OrderLineItem{
			{ProductID: "prod_1", SKU: "SKU-1", Name: "Mug", Quantity: 2, UnitPrice: 1250, Total: 2500},
		},
		StatusHistory: []domain.StatusChange{
			{Status: domain.OrderStatusPending, Timestamp: now, ActorID: "system"},
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := repo.Insert(ctx, order); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var repoErr repositories.RepositoryError
	if err := repo.Insert(ctx, order); !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict for duplicate insert, got %v", err)
	}

	loaded, err := repo.FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if loaded.OrderNumber != order.OrderNumber || loaded.TotalAmount != 2500 || loaded.Version != 1 {
		t.Fatalf("unexpected loaded order: %+v", loaded)
	}
	if len(loaded.Items) != 1 || loaded.Items[0].SKU != "SKU-1" {
		t.Fatalf("unexpected line items: %+v", loaded.Items)
	}

	loaded.Status = domain.OrderStatusProcessing
	loaded.StatusHistory = append(loaded.StatusHistory, domain.StatusChange{
		Status:    domain.OrderStatusProcessing,
		Timestamp: now.Add(time.Minute),
		ActorID:   "adm_1",
	})
	loaded.UpdatedAt = now.Add(time.Minute)
	if err := repo.Update(ctx, loaded); err != nil {
		t.Fatalf("update: %v", err)
	}

	// Same version again must conflict: the stored version advanced.
	repoErr = nil
	if err := repo.Update(ctx, loaded); !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected version conflict, got %v", err)
	}

	updated, err := repo.FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("find after update: %v", err)
	}
	if updated.Status != domain.OrderStatusProcessing || updated.Version != 2 {
		t.Fatalf("unexpected order after update: status=%s version=%d", updated.Status, updated.Version)
	}
	if len(updated.StatusHistory) != 2 {
		t.Fatalf("expected two history entries, got %d", len(updated.StatusHistory))
	}

	repoErr = nil
	if _, err := repo.FindByID(ctx, "ord_missing"); !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}

	// Seed more orders and page through the list newest first.
	for i := 2; i <= 5; i++ {
		extra := order
		extra.ID = fmt.Sprintf("ord_itest_%d", i)
		extra.OrderNumber = fmt.Sprintf("LM-2026-%06d", i)
		extra.CreatedAt = now.Add(time.Duration(i) * time.Hour)
		extra.UpdatedAt = extra.CreatedAt
		if err := repo.Insert(ctx, extra); err != nil {
			t.Fatalf("insert %s: %v", extra.ID, err)
		}
	}

	page, err := repo.List(ctx, repositories.OrderListFilter{
		UserID:     "usr_1",
		Pagination: domain.Pagination{PageSize: 3},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 3 || page.NextPageToken == "" {
		t.Fatalf("expected first page of 3 with token, got %d items token=%q", len(page.Items), page.NextPageToken)
	}
	if page.Items[0].ID != "ord_itest_5" {
		t.Fatalf("expected newest order first, got %s", page.Items[0].ID)
	}

	rest, err := repo.List(ctx, repositories.OrderListFilter{
		UserID:     "usr_1",
		Pagination: domain.Pagination{PageSize: 3, PageToken: page.NextPageToken},
	})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(rest.Items) != 2 || rest.NextPageToken != "" {
		t.Fatalf("expected final page of 2, got %d items token=%q", len(rest.Items), rest.NextPageToken)
	}

	filtered, err := repo.List(ctx, repositories.OrderListFilter{
		Status:     []domain.OrderStatus{domain.OrderStatusProcessing},
		Pagination: domain.Pagination{PageSize: 10},
	})
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(filtered.Items) != 1 || filtered.Items[0].ID != "ord_itest_1" {
		t.Fatalf("expected the processing order only, got %+v", filtered.Items)
	}
}
