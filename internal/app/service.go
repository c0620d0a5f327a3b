/**
 * @description
 * This file contains the core business logic for the payment-service outside
 * the webhook path: report intake, the actor-driven lifecycle transitions
 * (verify, assign, pickup), STK push initiation, and the read-side queries
 * the dashboards consume.
 *
 * Key features:
 * - Every stage change is validated against the lifecycle machine and then
 *   committed with a conditional update, so a racing actor loses cleanly
 *   with InvalidTransition instead of clobbering state.
 * - The paid stage is reserved for the reconciler; no actor-facing
 *   operation can reach it.
 *
 * @dependencies
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/darajaclient: For initiating STK pushes with the payment provider.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/compost-captain/payment-service/internal/domain"
	"github.com/compost-captain/payment-service/internal/store"
	"github.com/compost-captain/payment-service/pkg/darajaclient"
	"github.com/google/uuid"
)

// ErrOrderNotPending is returned when an STK push is requested for an order
// that already settled.
var ErrOrderNotPending = errors.New("payment order is not pending")

// Service provides the non-webhook business logic of the payment-service.
type Service struct {
	repo         store.Repository
	daraja       *darajaclient.Client
	dispatcher   *Dispatcher
	storeTimeout time.Duration
}

// NewService creates a new service instance. daraja may be nil in
// deployments that only receive C2B payments.
func NewService(repo store.Repository, daraja *darajaclient.Client, dispatcher *Dispatcher) *Service {
	return &Service{
		repo:         repo,
		daraja:       daraja,
		dispatcher:   dispatcher,
		storeTimeout: defaultStoreTimeout,
	}
}

// SubmitReport files a new waste report at the initial stage and creates the
// pending payment order that a later provider event will settle.
func (s *Service) SubmitReport(ctx context.Context, report *domain.WasteReport, amountCents int64) (*domain.PaymentOrder, error) {
	report.ID = uuid.New()
	report.Status = domain.StageReported

	if _, err := Bounded(ctx, s.storeTimeout, func(opCtx context.Context) (struct{}, error) {
		return struct{}{}, s.repo.CreateWasteReport(opCtx, report)
	}); err != nil {
		return nil, fmt.Errorf("create waste report: %w", err)
	}

	reportID := report.ID
	order := &domain.PaymentOrder{
		ID:            uuid.New(),
		ReferenceCode: newReferenceCode(),
		ReportID:      &reportID,
		FarmerID:      report.FarmerID,
		AmountCents:   amountCents,
		Status:        domain.OrderStatusPending,
	}
	if _, err := Bounded(ctx, s.storeTimeout, func(opCtx context.Context) (struct{}, error) {
		return struct{}{}, s.repo.CreatePaymentOrder(opCtx, order)
	}); err != nil {
		return nil, fmt.Errorf("create payment order: %w", err)
	}

	log.Printf("level=info component=service op=submit_report report_id=%s farmer_id=%s reference=%s", report.ID, report.FarmerID, order.ReferenceCode)
	s.dispatcher.ReportFiled(ctx, report)
	return order, nil
}

// VerifyReport moves a report from reported to admin_verified.
func (s *Service) VerifyReport(ctx context.Context, reportID uuid.UUID) (*domain.WasteReport, error) {
	return s.advanceStage(ctx, reportID, domain.StageAdminVerified, store.AdvanceReportStageParams{})
}

// AssignRider moves a verified report to rider_assigned.
func (s *Service) AssignRider(ctx context.Context, reportID, riderID uuid.UUID) (*domain.WasteReport, error) {
	return s.advanceStage(ctx, reportID, domain.StageRiderAssigned, store.AdvanceReportStageParams{RiderID: &riderID})
}

// StartPickup moves an assigned report to pickup_started.
func (s *Service) StartPickup(ctx context.Context, reportID uuid.UUID) (*domain.WasteReport, error) {
	return s.advanceStage(ctx, reportID, domain.StagePickupStarted, store.AdvanceReportStageParams{})
}

// CompletePickup moves an in-progress report to pickup_completed.
func (s *Service) CompletePickup(ctx context.Context, reportID uuid.UUID) (*domain.WasteReport, error) {
	return s.advanceStage(ctx, reportID, domain.StagePickupCompleted, store.AdvanceReportStageParams{})
}

// advanceStage validates and commits one lifecycle transition. The paid
// stage is excluded: only the reconciler's success path may write it.
func (s *Service) advanceStage(ctx context.Context, reportID uuid.UUID, target domain.ReportStage, params store.AdvanceReportStageParams) (*domain.WasteReport, error) {
	if target == domain.StagePaid {
		return nil, fmt.Errorf("%w: paid is set by payment reconciliation only", domain.ErrInvalidTransition)
	}

	report, err := Bounded(ctx, s.storeTimeout, func(opCtx context.Context) (*domain.WasteReport, error) {
		return s.repo.FindWasteReportByID(opCtx, reportID)
	})
	if err != nil {
		return nil, err
	}
	if err := domain.CanAdvance(report.Status, target); err != nil {
		return nil, err
	}

	updated, err := Bounded(ctx, s.storeTimeout, func(opCtx context.Context) (bool, error) {
		return s.repo.AdvanceReportStage(opCtx, reportID, report.Status, target, params)
	})
	if err != nil {
		return nil, fmt.Errorf("advance report stage: %w", err)
	}
	if !updated {
		// Someone else moved the report between our read and our write.
		current, lookupErr := s.repo.FindWasteReportByID(ctx, reportID)
		if lookupErr != nil {
			return nil, fmt.Errorf("%w: report moved concurrently", domain.ErrInvalidTransition)
		}
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, target)
	}

	refreshed, err := s.repo.FindWasteReportByID(ctx, reportID)
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=service op=advance_stage report_id=%s stage=%s", reportID, target)
	s.dispatcher.StageChanged(ctx, refreshed, target)
	return refreshed, nil
}

// InitiateStkPush asks the provider to prompt the payer's phone for the
// order amount. The returned checkout request id is stamped on the order so
// the result callback can be matched.
func (s *Service) InitiateStkPush(ctx context.Context, orderID uuid.UUID, phone string) (*darajaclient.StkPushResponse, error) {
	if s.daraja == nil {
		return nil, errors.New("stk push is not configured")
	}

	order, err := Bounded(ctx, s.storeTimeout, func(opCtx context.Context) (*domain.PaymentOrder, error) {
		return s.repo.FindOrderByID(opCtx, orderID)
	})
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusPending {
		return nil, ErrOrderNotPending
	}

	response, err := Bounded(ctx, 30*time.Second, func(opCtx context.Context) (*darajaclient.StkPushResponse, error) {
		return s.daraja.InitiateStkPush(opCtx, phone, order.AmountCents, order.ReferenceCode, "Compost Captain waste payment")
	})
	if err != nil {
		return nil, fmt.Errorf("initiate stk push: %w", err)
	}

	if err := s.repo.AttachStkCheckout(ctx, order.ID, response.CheckoutRequestID); err != nil {
		// The push is already on the payer's phone; losing the checkout id
		// would orphan the callback, so this failure is loud.
		log.Printf("level=error component=service op=stk_push msg=\"checkout id persistence failed\" order_id=%s checkout_id=%s err=%v", order.ID, response.CheckoutRequestID, err)
		return nil, fmt.Errorf("attach checkout id: %w", err)
	}

	log.Printf("level=info component=service op=stk_push order_id=%s checkout_id=%s", order.ID, response.CheckoutRequestID)
	return response, nil
}

// GetReport returns one report.
func (s *Service) GetReport(ctx context.Context, reportID uuid.UUID) (*domain.WasteReport, error) {
	return s.repo.FindWasteReportByID(ctx, reportID)
}

// ListReports returns reports for the dashboards.
func (s *Service) ListReports(ctx context.Context, opts domain.ReportListOptions) ([]domain.WasteReport, error) {
	return s.repo.ListWasteReports(ctx, opts)
}

// GetOrder returns one payment order.
func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.PaymentOrder, error) {
	return s.repo.FindOrderByID(ctx, orderID)
}

// ListUnresolvedPayments returns the admin review queue.
func (s *Service) ListUnresolvedPayments(ctx context.Context, limit int) ([]domain.UnresolvedPayment, error) {
	return s.repo.ListUnresolvedPayments(ctx, limit)
}

// ListNotifications returns a recipient's notification feed.
func (s *Service) ListNotifications(ctx context.Context, recipientID uuid.UUID, opts domain.NotificationListOptions) ([]domain.Notification, error) {
	return s.repo.ListNotifications(ctx, recipientID, opts)
}

// MarkNotificationRead flips one feed record to read.
func (s *Service) MarkNotificationRead(ctx context.Context, recipientID, notificationID uuid.UUID) (bool, error) {
	return s.repo.MarkNotificationRead(ctx, recipientID, notificationID)
}

// newReferenceCode generates the merchant reference a payer keys in at the
// till. Short, upper-case, and unique enough for live orders.
func newReferenceCode() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	return "CC" + raw[:10]
}
