package app

import (
	"context"
	"errors"
	"testing"

	"github.com/compost-captain/payment-service/internal/domain"
	"github.com/compost-captain/payment-service/internal/store"
	"github.com/google/uuid"
)

type dispatcherRepoStub struct {
	store.Repository

	notifications []domain.Notification
	createErr     error
}

func (s *dispatcherRepoStub) CreateNotification(ctx context.Context, item domain.Notification) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.notifications = append(s.notifications, item)
	return nil
}

type publisherStub struct {
	routingKeys []string
	exchange    string
	publishErr  error
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.exchange = exchange
	p.routingKeys = append(p.routingKeys, routingKey)
	return p.publishErr
}

func (p *publisherStub) Close() {}

func TestPaymentReceived_NotifiesFarmerAndPublishes(t *testing.T) {
	repo := &dispatcherRepoStub{}
	producer := &publisherStub{}
	farmerID := uuid.New()
	dispatcher := NewDispatcher(repo, producer, "payment_service.events", uuid.New())

	dispatcher.PaymentReceived(context.Background(), &domain.PaymentOrder{
		ID:            uuid.New(),
		ReferenceCode: "CCA1B2C3D4E5",
		FarmerID:      farmerID,
		AmountCents:   45000,
		Status:        domain.OrderStatusPaid,
	})

	if len(repo.notifications) != 1 {
		t.Fatalf("expected one notification, got %d", len(repo.notifications))
	}
	item := repo.notifications[0]
	if item.RecipientID != farmerID || item.Type != domain.NotificationPaymentReceived {
		t.Fatalf("expected payment_received for the farmer, got %+v", item)
	}
	if producer.exchange != "payment_service.events" {
		t.Fatalf("expected the configured exchange, got %q", producer.exchange)
	}
	if len(producer.routingKeys) != 1 || producer.routingKeys[0] != "payment.order.paid" {
		t.Fatalf("expected payment.order.paid routing key, got %v", producer.routingKeys)
	}
}

func TestStageChanged_RoutingKeyCarriesStage(t *testing.T) {
	repo := &dispatcherRepoStub{}
	producer := &publisherStub{}
	dispatcher := NewDispatcher(repo, producer, "payment_service.events", uuid.New())

	dispatcher.StageChanged(context.Background(), &domain.WasteReport{
		ID:       uuid.New(),
		FarmerID: uuid.New(),
		Status:   domain.StageRiderAssigned,
	}, domain.StageRiderAssigned)

	if len(producer.routingKeys) != 1 || producer.routingKeys[0] != "report.stage.rider_assigned" {
		t.Fatalf("expected report.stage.rider_assigned routing key, got %v", producer.routingKeys)
	}
}

func TestReportFiledAndAnomaly_GoToAdmin(t *testing.T) {
	repo := &dispatcherRepoStub{}
	adminID := uuid.New()
	dispatcher := NewDispatcher(repo, nil, "payment_service.events", adminID)

	dispatcher.ReportFiled(context.Background(), &domain.WasteReport{
		ID:       uuid.New(),
		FarmerID: uuid.New(),
	})
	dispatcher.Anomaly(context.Background(), "order paid but report stuck", uuid.New())

	if len(repo.notifications) != 2 {
		t.Fatalf("expected two notifications, got %d", len(repo.notifications))
	}
	for _, item := range repo.notifications {
		if item.RecipientID != adminID {
			t.Fatalf("expected admin recipient, got %s", item.RecipientID)
		}
	}
}

func TestDeliver_FailuresAreBestEffort(t *testing.T) {
	repo := &dispatcherRepoStub{createErr: errors.New("feed table missing")}
	producer := &publisherStub{publishErr: errors.New("broker down")}
	dispatcher := NewDispatcher(repo, producer, "payment_service.events", uuid.New())

	// Neither failure may panic or surface; the transition already committed.
	dispatcher.PaymentFailed(context.Background(), &domain.PaymentOrder{
		ID:       uuid.New(),
		FarmerID: uuid.New(),
	}, "provider result code 1032")

	if len(producer.routingKeys) != 1 {
		t.Fatalf("expected the publish to have been attempted, got %v", producer.routingKeys)
	}
}
