package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/compost-captain/payment-service/internal/app"
	"github.com/compost-captain/payment-service/internal/domain"
	"github.com/compost-captain/payment-service/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type reportRepoStub struct {
	store.Repository

	report        *domain.WasteReport
	advanceResult bool

	createdReport *domain.WasteReport
	createdOrder  *domain.PaymentOrder
}

func (s *reportRepoStub) CreateWasteReport(ctx context.Context, report *domain.WasteReport) error {
	s.createdReport = report
	return nil
}

func (s *reportRepoStub) FindWasteReportByID(ctx context.Context, reportID uuid.UUID) (*domain.WasteReport, error) {
	if s.report == nil {
		return nil, store.ErrReportNotFound
	}
	return s.report, nil
}

func (s *reportRepoStub) AdvanceReportStage(ctx context.Context, reportID uuid.UUID, from, to domain.ReportStage, params store.AdvanceReportStageParams) (bool, error) {
	if s.advanceResult {
		s.report.Status = to
	}
	return s.advanceResult, nil
}

func (s *reportRepoStub) CreatePaymentOrder(ctx context.Context, order *domain.PaymentOrder) error {
	s.createdOrder = order
	return nil
}

func (s *reportRepoStub) CreateNotification(ctx context.Context, item domain.Notification) error {
	return nil
}

func newReportTestRouter(repo *reportRepoStub) http.Handler {
	dispatcher := app.NewDispatcher(repo, nil, "payment_service.events", uuid.New())
	handlers := NewHandlers(app.NewService(repo, nil, dispatcher))

	r := chi.NewRouter()
	r.Post("/reports", handlers.SubmitReportHandler)
	r.Post("/reports/{id}/verify", handlers.VerifyReportHandler)
	r.Post("/reports/{id}/pickup-complete", handlers.CompletePickupHandler)
	r.Get("/reports/{id}", handlers.GetReportHandler)
	return r
}

func TestSubmitReportHandler_CreatesReportAndOrder(t *testing.T) {
	repo := &reportRepoStub{}
	router := newReportTestRouter(repo)

	body := `{
		"farmer_id": "` + uuid.NewString() + `",
		"waste_type": "maize stalks",
		"quantity_kg": 120,
		"location": "Kiambu",
		"amount_cents": 45000
	}`
	req := httptest.NewRequest(http.MethodPost, "/reports", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Report *domain.WasteReport  `json:"report"`
		Order  *domain.PaymentOrder `json:"order"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Report == nil || resp.Report.Status != domain.StageReported {
		t.Fatalf("expected reported-stage report, got %+v", resp.Report)
	}
	if resp.Order == nil || resp.Order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending order, got %+v", resp.Order)
	}
}

func TestSubmitReportHandler_RejectsMissingFields(t *testing.T) {
	router := newReportTestRouter(&reportRepoStub{})

	req := httptest.NewRequest(http.MethodPost, "/reports", strings.NewReader(`{"waste_type": "maize stalks"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestVerifyReportHandler_ReturnsUpdatedReport(t *testing.T) {
	repo := &reportRepoStub{
		report:        &domain.WasteReport{ID: uuid.New(), FarmerID: uuid.New(), Status: domain.StageReported},
		advanceResult: true,
	}
	router := newReportTestRouter(repo)

	req := httptest.NewRequest(http.MethodPost, "/reports/"+repo.report.ID.String()+"/verify", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report domain.WasteReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if report.Status != domain.StageAdminVerified {
		t.Fatalf("expected admin_verified, got %s", report.Status)
	}
}

func TestCompletePickupHandler_StageSkipIsConflict(t *testing.T) {
	repo := &reportRepoStub{
		report: &domain.WasteReport{ID: uuid.New(), Status: domain.StageReported},
	}
	router := newReportTestRouter(repo)

	req := httptest.NewRequest(http.MethodPost, "/reports/"+repo.report.ID.String()+"/pickup-complete", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for stage skip, got %d", rec.Code)
	}
}

func TestVerifyReportHandler_UnknownReportIsNotFound(t *testing.T) {
	router := newReportTestRouter(&reportRepoStub{})

	req := httptest.NewRequest(http.MethodPost, "/reports/"+uuid.NewString()+"/verify", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown report, got %d", rec.Code)
	}
}

func TestGetReportHandler_IncludesDisplayStage(t *testing.T) {
	now := time.Now()
	repo := &reportRepoStub{
		report: &domain.WasteReport{
			ID:              uuid.New(),
			Status:          domain.StagePickupStarted,
			AdminVerified:   true,
			PickupStartedAt: &now,
		},
	}
	router := newReportTestRouter(repo)

	req := httptest.NewRequest(http.MethodGet, "/reports/"+repo.report.ID.String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		DisplayStage domain.ReportStage `json:"display_stage"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.DisplayStage != domain.StagePickupStarted {
		t.Fatalf("expected pickup_started display stage, got %s", resp.DisplayStage)
	}
}
