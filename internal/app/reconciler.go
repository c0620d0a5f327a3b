package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/compost-captain/payment-service/internal/domain"
	"github.com/compost-captain/payment-service/internal/store"
	"github.com/google/uuid"
)

const (
	defaultStoreTimeout  = 10 * time.Second
	applyRetryAttempts   = 3
	applyRetryBackoff    = 200 * time.Millisecond
	unresolvedNoMatch    = "no order matched reference"
	unresolvedInfraStuck = "apply failed after retries; awaiting provider redelivery"
)

// Reconciler matches normalized payment events to pending orders and drives
// the resulting transitions. All of its outcomes are absorbed below the HTTP
// boundary: the webhook acknowledgement to the provider never depends on
// what happens here.
type Reconciler struct {
	repo         store.Repository
	dispatcher   *Dispatcher
	replayCache  *RedisReplayCache
	storeTimeout time.Duration
}

// NewReconciler creates a reconciler backed by the given repository and
// dispatcher.
func NewReconciler(repo store.Repository, dispatcher *Dispatcher) *Reconciler {
	return &Reconciler{
		repo:         repo,
		dispatcher:   dispatcher,
		storeTimeout: defaultStoreTimeout,
	}
}

// SetReplayCache installs an optional fast-path duplicate guard. The ledger
// inside the store remains the authority; the cache only short-circuits
// obvious replays before they reach the database.
func (rc *Reconciler) SetReplayCache(cache *RedisReplayCache) {
	rc.replayCache = cache
}

// Apply reconciles one normalized event. It returns an error only for
// infrastructure failures that survived the internal retries; business
// outcomes (duplicate, unresolved, invalid lifecycle state) are logged and
// absorbed here.
func (rc *Reconciler) Apply(ctx context.Context, event domain.PaymentEvent) error {
	if rc.replayCache.Seen(ctx, event.ExternalTxnID) {
		log.Printf("level=info component=reconciler outcome=duplicate source=replay_cache external_txn_id=%s reference=%s", event.ExternalTxnID, event.ReferenceCode)
		return nil
	}

	params := store.ApplyPaymentParams{
		ExternalTxnID: event.ExternalTxnID,
		ReferenceCode: event.ReferenceCode,
		AmountCents:   event.AmountCents,
		Receipt:       event.ExternalTxnID,
		PayerPhone:    event.PayerPhone,
		PayerName:     event.PayerName,
	}
	if !event.Succeeded() {
		params.FailureReason = fmt.Sprintf("provider result code %d", event.ResultCode)
	}

	application, err := rc.applyWithRetry(ctx, event, params)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			rc.recordUnresolved(ctx, event, unresolvedNoMatch)
			return nil
		}
		// Infra outage that survived the retries. The provider-facing contract
		// is not our retry mechanism, so record the event for review and
		// absorb the failure.
		log.Printf("level=error component=reconciler outcome=infra_failure external_txn_id=%s reference=%s err=%v", event.ExternalTxnID, event.ReferenceCode, err)
		rc.recordUnresolved(ctx, event, unresolvedInfraStuck)
		return err
	}

	if !application.FirstApplication {
		log.Printf("level=info component=reconciler outcome=duplicate external_txn_id=%s reference=%s order_id=%s order_status=%s", event.ExternalTxnID, event.ReferenceCode, application.Order.ID, application.Order.Status)
		rc.replayCache.MarkApplied(ctx, event.ExternalTxnID)
		return nil
	}

	order := application.Order
	if event.Succeeded() {
		log.Printf("level=info component=reconciler outcome=paid external_txn_id=%s reference=%s order_id=%s amount_cents=%d", event.ExternalTxnID, event.ReferenceCode, order.ID, order.AmountCents)
		rc.advanceReportToPaid(ctx, order)
		rc.dispatcher.PaymentReceived(ctx, order)
	} else {
		log.Printf("level=info component=reconciler outcome=failed external_txn_id=%s reference=%s order_id=%s result_code=%d", event.ExternalTxnID, event.ReferenceCode, order.ID, event.ResultCode)
		rc.dispatcher.PaymentFailed(ctx, order, params.FailureReason)
	}

	rc.replayCache.MarkApplied(ctx, event.ExternalTxnID)
	return nil
}

// applyWithRetry runs the atomic store apply under the timeout guard, with
// a small bounded backoff for transient infrastructure errors. An unmatched
// reference is final and never retried.
func (rc *Reconciler) applyWithRetry(ctx context.Context, event domain.PaymentEvent, params store.ApplyPaymentParams) (*store.PaymentApplication, error) {
	apply := rc.repo.ApplyPaymentSuccess
	if !event.Succeeded() {
		apply = rc.repo.ApplyPaymentFailure
	}

	var lastErr error
	for attempt := 1; attempt <= applyRetryAttempts; attempt++ {
		application, err := Bounded(ctx, rc.storeTimeout, func(opCtx context.Context) (*store.PaymentApplication, error) {
			return apply(opCtx, params)
		})
		if err == nil {
			return application, nil
		}
		if errors.Is(err, store.ErrOrderNotFound) {
			return nil, err
		}
		lastErr = err
		if attempt < applyRetryAttempts {
			log.Printf("level=warn component=reconciler msg=\"apply attempt failed; backing off\" attempt=%d external_txn_id=%s err=%v", attempt, event.ExternalTxnID, err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(applyRetryBackoff):
			}
		}
	}
	return nil, lastErr
}

// advanceReportToPaid drives the lifecycle machine's final transition. The
// order is already settled at this point; a report that is not yet at
// pickup_completed is a severity-high anomaly, not a rollback.
func (rc *Reconciler) advanceReportToPaid(ctx context.Context, order *domain.PaymentOrder) {
	if order.ReportID == nil {
		return
	}
	reportID := *order.ReportID

	updated, err := Bounded(ctx, rc.storeTimeout, func(opCtx context.Context) (bool, error) {
		return rc.repo.AdvanceReportStage(opCtx, reportID, domain.StagePickupCompleted, domain.StagePaid, store.AdvanceReportStageParams{})
	})
	if err != nil {
		log.Printf("level=error component=reconciler msg=\"report paid transition failed\" report_id=%s order_id=%s err=%v", reportID, order.ID, err)
		rc.dispatcher.Anomaly(ctx, fmt.Sprintf("order %s is paid but report update failed", order.ID), reportID)
		return
	}
	if !updated {
		currentStage := "unknown"
		if report, lookupErr := rc.repo.FindWasteReportByID(ctx, reportID); lookupErr == nil {
			if report.Status == domain.StagePaid {
				// Already advanced by a prior delivery; nothing to do.
				return
			}
			currentStage = string(report.Status)
		}
		transitionErr := fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, currentStage, domain.StagePaid)
		log.Printf("level=error component=reconciler severity=high msg=\"paid order with report not at pickup_completed\" report_id=%s order_id=%s err=%v", reportID, order.ID, transitionErr)
		rc.dispatcher.Anomaly(ctx, fmt.Sprintf("order %s is paid but report is at stage %s", order.ID, currentStage), reportID)
	}
}

// recordUnresolved files the event into the admin review queue, best effort.
func (rc *Reconciler) recordUnresolved(ctx context.Context, event domain.PaymentEvent, reason string) {
	log.Printf("level=warn component=reconciler outcome=unresolved external_txn_id=%s reference=%s reason=%q", event.ExternalTxnID, event.ReferenceCode, reason)

	item := domain.UnresolvedPayment{
		ID:            uuid.New(),
		ExternalTxnID: event.ExternalTxnID,
		ReferenceCode: event.ReferenceCode,
		AmountCents:   event.AmountCents,
		PayerPhone:    event.PayerPhone,
		Reason:        reason,
	}
	if _, err := Bounded(ctx, rc.storeTimeout, func(opCtx context.Context) (struct{}, error) {
		return struct{}{}, rc.repo.RecordUnresolvedPayment(opCtx, item)
	}); err != nil {
		log.Printf("level=error component=reconciler msg=\"unresolved payment record failed\" external_txn_id=%s err=%v", event.ExternalTxnID, err)
	}
}
