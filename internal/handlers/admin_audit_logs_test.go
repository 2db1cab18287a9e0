package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/lumenmarket/api/internal/domain"
	"github.com/lumenmarket/api/internal/services"
)

type auditStubSystemService struct {
	listFn func(context.Context, services.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

func (s *auditStubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return services.SystemHealthReport{}, nil
}

func (s *auditStubSystemService) ListAuditLogs(ctx context.Context, filter services.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.AuditLogEntry]{}, nil
}

func (s *auditStubSystemService) NextCounterValue(context.Context, services.CounterCommand) (int64, error) {
	return 0, nil
}

var _ services.SystemService = (*auditStubSystemService)(nil)

func TestAdminAuditLogHandlersList(t *testing.T) {
	created := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	var captured services.AuditLogFilter
	system := &auditStubSystemService{
		listFn: func(_ context.Context, filter services.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
			captured = filter
			return domain.CursorPage[domain.AuditLogEntry]{
				Items: []domain.AuditLogEntry{
					{
						ID:        "log_1",
						Actor:     "adm_7",
						ActorType: "staff",
						Action:    "order.status.changed",
						TargetRef: "/orders/ord_1",
						Severity:  "info",
						CreatedAt: created,
					},
				},
				NextPageToken: "tok_audit",
			}, nil
		},
	}

	router := chi.NewRouter()
	NewAdminAuditLogHandlers(system).Routes(router)

	req := httptest.NewRequest(http.MethodGet, "/audit-logs?target_ref=/orders/ord_1&actor=adm_7&action=order.status.changed&page_size=25&occurred_after=2026-01-01T00:00:00Z", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	if captured.TargetRef != "/orders/ord_1" || captured.Actor != "adm_7" || captured.Action != "order.status.changed" {
		t.Fatalf("unexpected filter: %+v", captured)
	}
	if captured.Pagination.PageSize != 25 {
		t.Fatalf("expected page size 25, got %d", captured.Pagination.PageSize)
	}
	if captured.DateRange.From == nil {
		t.Fatalf("expected occurred_after filter")
	}

	var body struct {
		Items []struct {
			ID        string `json:"id"`
			Action    string `json:"action"`
			TargetRef string `json:"target_ref"`
		} `json:"items"`
		NextPageToken string `json:"next_page_token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].ID != "log_1" || body.Items[0].Action != "order.status.changed" {
		t.Fatalf("unexpected items: %+v", body.Items)
	}
	if body.NextPageToken != "tok_audit" {
		t.Fatalf("expected next page token, got %q", body.NextPageToken)
	}
}

func TestAdminAuditLogHandlersListRejectsBadTimestamp(t *testing.T) {
	router := chi.NewRouter()
	NewAdminAuditLogHandlers(&auditStubSystemService{}).Routes(router)

	req := httptest.NewRequest(http.MethodGet, "/audit-logs?occurred_after=yesterday", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}
