package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/compost-captain/payment-service/internal/app"
	"github.com/compost-captain/payment-service/internal/domain"
	"github.com/compost-captain/payment-service/internal/store"
	"github.com/google/uuid"
)

type webhookRepoStub struct {
	store.Repository

	application *store.PaymentApplication
	applyErr    error

	unresolved    []domain.UnresolvedPayment
	notifications []domain.Notification
	advanceCalls  int
}

func (s *webhookRepoStub) ApplyPaymentSuccess(ctx context.Context, params store.ApplyPaymentParams) (*store.PaymentApplication, error) {
	if s.applyErr != nil {
		return nil, s.applyErr
	}
	return s.application, nil
}

func (s *webhookRepoStub) ApplyPaymentFailure(ctx context.Context, params store.ApplyPaymentParams) (*store.PaymentApplication, error) {
	if s.applyErr != nil {
		return nil, s.applyErr
	}
	return s.application, nil
}

func (s *webhookRepoStub) AdvanceReportStage(ctx context.Context, reportID uuid.UUID, from, to domain.ReportStage, params store.AdvanceReportStageParams) (bool, error) {
	s.advanceCalls++
	return true, nil
}

func (s *webhookRepoStub) RecordUnresolvedPayment(ctx context.Context, item domain.UnresolvedPayment) error {
	s.unresolved = append(s.unresolved, item)
	return nil
}

func (s *webhookRepoStub) CreateNotification(ctx context.Context, item domain.Notification) error {
	s.notifications = append(s.notifications, item)
	return nil
}

func newWebhookTestHandlers(repo *webhookRepoStub) *WebhookHandlers {
	dispatcher := app.NewDispatcher(repo, nil, "payment_service.events", uuid.New())
	return NewWebhookHandlers(app.NewReconciler(repo, dispatcher))
}

func TestConfirmationHandler_MalformedBodyStillAcks(t *testing.T) {
	handlers := newWebhookTestHandlers(&webhookRepoStub{})

	req := httptest.NewRequest(http.MethodPost, "/payments/confirmation", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	handlers.ConfirmationHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for malformed body, got %d", rec.Code)
	}
	var ack confirmationAck
	if err := json.NewDecoder(rec.Body).Decode(&ack); err != nil {
		t.Fatalf("failed to decode ack: %v", err)
	}
	if ack.ResultCode != 0 || ack.ResultDesc != "Success" {
		t.Fatalf("expected provider success ack, got %+v", ack)
	}
}

func TestConfirmationHandler_UnmatchedReferenceAcksAndRecords(t *testing.T) {
	repo := &webhookRepoStub{applyErr: store.ErrOrderNotFound}
	handlers := newWebhookTestHandlers(repo)

	body := `{
		"TransactionType": "Pay Bill",
		"TransID": "RKTQDM7W6S",
		"TransTime": "20260115104512",
		"TransAmount": 450.00,
		"BillRefNumber": "CC0000000000",
		"MSISDN": "254708374149"
	}`
	req := httptest.NewRequest(http.MethodPost, "/payments/confirmation", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handlers.ConfirmationHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for unmatched reference, got %d", rec.Code)
	}
	if len(repo.unresolved) != 1 {
		t.Fatalf("expected one unresolved record, got %d", len(repo.unresolved))
	}
}

func TestConfirmationHandler_SuccessSettlesOrder(t *testing.T) {
	reportID := uuid.New()
	repo := &webhookRepoStub{
		application: &store.PaymentApplication{
			FirstApplication: true,
			Order: &domain.PaymentOrder{
				ID:            uuid.New(),
				ReferenceCode: "CCA1B2C3D4E5",
				ReportID:      &reportID,
				FarmerID:      uuid.New(),
				AmountCents:   45000,
				Status:        domain.OrderStatusPaid,
			},
		},
	}
	handlers := newWebhookTestHandlers(repo)

	body := `{
		"TransID": "RKTQDM7W6S",
		"TransAmount": "450.00",
		"BillRefNumber": "CCA1B2C3D4E5",
		"MSISDN": "254708374149"
	}`
	req := httptest.NewRequest(http.MethodPost, "/payments/confirmation", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handlers.ConfirmationHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if repo.advanceCalls != 1 {
		t.Fatalf("expected the report to advance to paid, got %d calls", repo.advanceCalls)
	}
	if len(repo.notifications) != 1 || repo.notifications[0].Type != domain.NotificationPaymentReceived {
		t.Fatalf("expected one payment_received notification, got %+v", repo.notifications)
	}
}

func TestValidationHandler_AcksWithStringResultCode(t *testing.T) {
	handlers := newWebhookTestHandlers(&webhookRepoStub{})

	req := httptest.NewRequest(http.MethodPost, "/payments/validation", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	handlers.ValidationHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var ack validationAck
	if err := json.NewDecoder(rec.Body).Decode(&ack); err != nil {
		t.Fatalf("failed to decode ack: %v", err)
	}
	if ack.ResultCode != "0" || ack.ResultDesc != "Accepted" {
		t.Fatalf("expected string-coded accept ack, got %+v", ack)
	}
}

func TestStkCallbackHandler_UnparseableEnvelopeIsServerError(t *testing.T) {
	handlers := newWebhookTestHandlers(&webhookRepoStub{})

	req := httptest.NewRequest(http.MethodPost, "/payments/stk-callback", strings.NewReader("not an envelope"))
	rec := httptest.NewRecorder()
	handlers.StkCallbackHandler(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unparseable envelope, got %d", rec.Code)
	}
}

func TestStkCallbackHandler_ValidEnvelopeAcksSuccess(t *testing.T) {
	reportID := uuid.New()
	repo := &webhookRepoStub{
		application: &store.PaymentApplication{
			FirstApplication: true,
			Order: &domain.PaymentOrder{
				ID:       uuid.New(),
				ReportID: &reportID,
				FarmerID: uuid.New(),
				Status:   domain.OrderStatusPaid,
			},
		},
	}
	handlers := newWebhookTestHandlers(repo)

	body := `{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": "ws_CO_191220191020363925",
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": 450.00},
						{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"}
					]
				}
			}
		}
	}`
	req := httptest.NewRequest(http.MethodPost, "/payments/stk-callback", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handlers.StkCallbackHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var ack map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&ack); err != nil {
		t.Fatalf("failed to decode ack: %v", err)
	}
	if ack["status"] != "success" {
		t.Fatalf("expected success status, got %+v", ack)
	}
}
