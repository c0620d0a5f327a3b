/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the payment-service performs. The interface decouples the
 * reconciliation and lifecycle logic from PostgreSQL, which keeps both
 * testable against hand-rolled stubs.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/compost-captain/payment-service/internal/domain"
	"github.com/google/uuid"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Waste report methods
	CreateWasteReport(ctx context.Context, report *domain.WasteReport) error
	FindWasteReportByID(ctx context.Context, reportID uuid.UUID) (*domain.WasteReport, error)
	ListWasteReports(ctx context.Context, opts domain.ReportListOptions) ([]domain.WasteReport, error)
	// AdvanceReportStage performs a conditional stage update
	// (UPDATE ... WHERE status = from). It returns false when the row was
	// no longer at `from`, which signals a lost race or a stale request.
	AdvanceReportStage(ctx context.Context, reportID uuid.UUID, from, to domain.ReportStage, params AdvanceReportStageParams) (bool, error)

	// Payment order methods
	CreatePaymentOrder(ctx context.Context, order *domain.PaymentOrder) error
	FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.PaymentOrder, error)
	FindOrderByReference(ctx context.Context, reference string) (*domain.PaymentOrder, error)
	AttachStkCheckout(ctx context.Context, orderID uuid.UUID, checkoutRequestID string) error
	// ApplyPaymentSuccess and ApplyPaymentFailure run the idempotency-ledger
	// insert and the conditional order transition as one transaction. The
	// returned application reports whether this delivery was the first one
	// to take effect; replays and already-terminal orders come back with
	// FirstApplication=false and no mutation.
	ApplyPaymentSuccess(ctx context.Context, params ApplyPaymentParams) (*PaymentApplication, error)
	ApplyPaymentFailure(ctx context.Context, params ApplyPaymentParams) (*PaymentApplication, error)

	// Admin review queue methods
	RecordUnresolvedPayment(ctx context.Context, item domain.UnresolvedPayment) error
	ListUnresolvedPayments(ctx context.Context, limit int) ([]domain.UnresolvedPayment, error)

	// Notification methods
	CreateNotification(ctx context.Context, item domain.Notification) error
	ListNotifications(ctx context.Context, recipientID uuid.UUID, opts domain.NotificationListOptions) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, recipientID uuid.UUID, notificationID uuid.UUID) (bool, error)
}

// ApplyPaymentParams carries the normalized event fields the store needs to
// settle an order.
type ApplyPaymentParams struct {
	ExternalTxnID string
	ReferenceCode string
	AmountCents   int64
	Receipt       string
	PayerPhone    string
	PayerName     string
	FailureReason string
}

// PaymentApplication is the outcome of an atomic apply.
type PaymentApplication struct {
	FirstApplication bool
	Order            *domain.PaymentOrder
}

// AdvanceReportStageParams carries the projection fields written together
// with a stage change.
type AdvanceReportStageParams struct {
	RiderID *uuid.UUID
}
