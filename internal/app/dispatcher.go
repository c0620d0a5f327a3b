/**
 * @description
 * This file contains the notification dispatcher: one feed record and one
 * broker event per committed transition. Dispatch is a best-effort side
 * effect outside the transactional boundary — a failed notification write
 * is logged and dropped, never allowed to roll back the state change that
 * triggered it.
 *
 * @dependencies
 * - internal/domain, internal/store: For models and data access.
 * - pkg/rabbitmq: For publishing transition events to the topic exchange.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/compost-captain/payment-service/internal/domain"
	"github.com/compost-captain/payment-service/internal/store"
	"github.com/compost-captain/payment-service/pkg/rabbitmq"
	"github.com/google/uuid"
)

const dispatchTimeout = 5 * time.Second

// Dispatcher emits notifications and broker events for committed
// transitions. Farmers hear about payments and pickups; admins hear about
// new reports and anomalies.
type Dispatcher struct {
	repo     store.Repository
	producer rabbitmq.Publisher
	exchange string
	adminID  uuid.UUID
}

// NewDispatcher creates a dispatcher. producer may be a fallback; adminID is
// the recipient for report and anomaly notifications.
func NewDispatcher(repo store.Repository, producer rabbitmq.Publisher, exchange string, adminID uuid.UUID) *Dispatcher {
	return &Dispatcher{repo: repo, producer: producer, exchange: exchange, adminID: adminID}
}

// PaymentReceived notifies the farmer that their order settled as paid.
func (d *Dispatcher) PaymentReceived(ctx context.Context, order *domain.PaymentOrder) {
	orderID := order.ID
	d.deliver(ctx, domain.Notification{
		RecipientID: order.FarmerID,
		Type:        domain.NotificationPaymentReceived,
		Message:     fmt.Sprintf("Payment of KES %.2f received for order %s.", float64(order.AmountCents)/100, order.ReferenceCode),
		RelatedID:   &orderID,
	}, "payment.order.paid", order)
}

// PaymentFailed notifies the farmer that the provider reported a failure.
func (d *Dispatcher) PaymentFailed(ctx context.Context, order *domain.PaymentOrder, reason string) {
	orderID := order.ID
	d.deliver(ctx, domain.Notification{
		RecipientID: order.FarmerID,
		Type:        domain.NotificationPaymentFailed,
		Message:     fmt.Sprintf("Payment for order %s failed: %s.", order.ReferenceCode, reason),
		RelatedID:   &orderID,
	}, "payment.order.failed", order)
}

// StageChanged notifies the farmer about a lifecycle advance on their report.
func (d *Dispatcher) StageChanged(ctx context.Context, report *domain.WasteReport, stage domain.ReportStage) {
	reportID := report.ID
	d.deliver(ctx, domain.Notification{
		RecipientID: report.FarmerID,
		Type:        domain.NotificationPickupUpdate,
		Message:     fmt.Sprintf("Your waste report is now %s.", stage),
		RelatedID:   &reportID,
	}, "report.stage."+string(stage), report)
}

// ReportFiled notifies the admin that a farmer filed a new report.
func (d *Dispatcher) ReportFiled(ctx context.Context, report *domain.WasteReport) {
	reportID := report.ID
	d.deliver(ctx, domain.Notification{
		RecipientID: d.adminID,
		Type:        domain.NotificationNewReport,
		Message:     fmt.Sprintf("New waste report: %.1f kg of %s at %s.", report.QuantityKg, report.WasteType, report.Location),
		RelatedID:   &reportID,
	}, "report.stage.reported", report)
}

// Anomaly surfaces a reconciliation inconsistency to the admin feed.
func (d *Dispatcher) Anomaly(ctx context.Context, message string, relatedID uuid.UUID) {
	related := relatedID
	d.deliver(ctx, domain.Notification{
		RecipientID: d.adminID,
		Type:        domain.NotificationAnomaly,
		Message:     message,
		RelatedID:   &related,
	}, "payment.anomaly", map[string]string{"message": message, "related_id": relatedID.String()})
}

func (d *Dispatcher) deliver(ctx context.Context, item domain.Notification, routingKey string, payload interface{}) {
	item.ID = uuid.New()

	if _, err := Bounded(ctx, dispatchTimeout, func(opCtx context.Context) (struct{}, error) {
		return struct{}{}, d.repo.CreateNotification(opCtx, item)
	}); err != nil {
		log.Printf("level=warn component=dispatcher msg=\"notification write failed; transition already committed\" type=%s recipient_id=%s err=%v", item.Type, item.RecipientID, err)
	}

	if d.producer != nil {
		if err := d.producer.Publish(ctx, d.exchange, routingKey, payload); err != nil {
			log.Printf("level=warn component=dispatcher msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
		}
	}
}
