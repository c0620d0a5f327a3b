/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It owns every SQL statement the payment-service runs, including
 * the single-transaction apply path that makes the idempotency ledger and
 * the order transition one atomic unit.
 *
 * Key features:
 * - Per-reference serialization: the apply path locks the order row with
 *   SELECT ... FOR UPDATE, so concurrent deliveries for the same reference
 *   are strictly ordered while unrelated references proceed independently.
 * - Idempotency: the ledger insert uses ON CONFLICT DO NOTHING; a zero
 *   row count means the external transaction id was already applied.
 * - Lost races surface as conditional updates touching zero rows, never as
 *   double-applied effects.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/compost-captain/payment-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrReportNotFound       = errors.New("waste report not found")
	ErrOrderNotFound        = errors.New("payment order not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrDuplicateReference   = errors.New("reference code already in use")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const reportColumns = `id, farmer_id, waste_type, quantity_kg, location, status, admin_verified, rider_id, pickup_started_at, pickup_completed_at, paid, created_at, updated_at`

func scanReport(row pgx.Row) (*domain.WasteReport, error) {
	var report domain.WasteReport
	err := row.Scan(
		&report.ID,
		&report.FarmerID,
		&report.WasteType,
		&report.QuantityKg,
		&report.Location,
		&report.Status,
		&report.AdminVerified,
		&report.RiderID,
		&report.PickupStartedAt,
		&report.PickupCompletedAt,
		&report.Paid,
		&report.CreatedAt,
		&report.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// CreateWasteReport inserts a new report at the initial lifecycle stage.
func (r *PostgresRepository) CreateWasteReport(ctx context.Context, report *domain.WasteReport) error {
	query := `
		INSERT INTO waste_reports (id, farmer_id, waste_type, quantity_kg, location, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at`
	return r.db.QueryRow(ctx, query,
		report.ID, report.FarmerID, report.WasteType, report.QuantityKg, report.Location, report.Status,
	).Scan(&report.CreatedAt, &report.UpdatedAt)
}

// FindWasteReportByID retrieves a report by its ID.
func (r *PostgresRepository) FindWasteReportByID(ctx context.Context, reportID uuid.UUID) (*domain.WasteReport, error) {
	query := fmt.Sprintf(`SELECT %s FROM waste_reports WHERE id = $1`, reportColumns)
	report, err := scanReport(r.db.QueryRow(ctx, query, reportID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReportNotFound
		}
		return nil, err
	}
	return report, nil
}

// ListWasteReports returns reports newest-first with optional stage and
// farmer filters.
func (r *PostgresRepository) ListWasteReports(ctx context.Context, opts domain.ReportListOptions) ([]domain.WasteReport, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	conditions := []string{"TRUE"}
	args := []interface{}{}
	if stage := strings.TrimSpace(opts.Stage); stage != "" {
		args = append(args, stage)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if opts.Farmer != nil {
		args = append(args, *opts.Farmer)
		conditions = append(conditions, fmt.Sprintf("farmer_id = $%d", len(args)))
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(`
		SELECT %s FROM waste_reports
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		reportColumns, strings.Join(conditions, " AND "), len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []domain.WasteReport
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *report)
	}
	return reports, rows.Err()
}

// stageProjectionClause returns the SET fragment that keeps the projection
// fields consistent with the stage being written. The stage enum stays
// authoritative; these columns exist for readers of the flat fields.
func stageProjectionClause(to domain.ReportStage) string {
	switch to {
	case domain.StageAdminVerified:
		return ", admin_verified = TRUE"
	case domain.StageRiderAssigned:
		return ", rider_id = $4"
	case domain.StagePickupStarted:
		return ", pickup_started_at = NOW()"
	case domain.StagePickupCompleted:
		return ", pickup_completed_at = NOW()"
	case domain.StagePaid:
		return ", paid = TRUE"
	default:
		return ""
	}
}

// AdvanceReportStage moves a report from one stage to its successor. The
// WHERE status = $from condition is the serialization point: a concurrent
// writer that got there first leaves this update touching zero rows.
func (r *PostgresRepository) AdvanceReportStage(ctx context.Context, reportID uuid.UUID, from, to domain.ReportStage, params AdvanceReportStageParams) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE waste_reports
		SET status = $3, updated_at = NOW()%s
		WHERE id = $1 AND status = $2`, stageProjectionClause(to))

	args := []interface{}{reportID, from, to}
	if to == domain.StageRiderAssigned {
		if params.RiderID == nil {
			return false, errors.New("rider id required for rider assignment")
		}
		args = append(args, *params.RiderID)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const orderColumns = `id, reference_code, report_id, farmer_id, amount_cents, status, mpesa_receipt, stk_checkout_id, payer_phone, payer_name, failure_reason, created_at, updated_at`

func scanOrder(row pgx.Row) (*domain.PaymentOrder, error) {
	var order domain.PaymentOrder
	err := row.Scan(
		&order.ID,
		&order.ReferenceCode,
		&order.ReportID,
		&order.FarmerID,
		&order.AmountCents,
		&order.Status,
		&order.MpesaReceipt,
		&order.StkCheckoutID,
		&order.PayerPhone,
		&order.PayerName,
		&order.FailureReason,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// CreatePaymentOrder inserts a pending order. Reference codes are unique
// across live orders; a conflict surfaces as ErrDuplicateReference.
func (r *PostgresRepository) CreatePaymentOrder(ctx context.Context, order *domain.PaymentOrder) error {
	query := `
		INSERT INTO payment_orders (id, reference_code, report_id, farmer_id, amount_cents, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (reference_code) DO NOTHING
		RETURNING created_at, updated_at`
	err := r.db.QueryRow(ctx, query,
		order.ID, order.ReferenceCode, order.ReportID, order.FarmerID, order.AmountCents, order.Status,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicateReference
	}
	return err
}

// FindOrderByID retrieves an order by its ID.
func (r *PostgresRepository) FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.PaymentOrder, error) {
	query := fmt.Sprintf(`SELECT %s FROM payment_orders WHERE id = $1`, orderColumns)
	order, err := scanOrder(r.db.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

// FindOrderByReference matches an order by bill reference or, for STK
// results, by the checkout request id stamped at push time.
func (r *PostgresRepository) FindOrderByReference(ctx context.Context, reference string) (*domain.PaymentOrder, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM payment_orders
		WHERE reference_code = $1 OR stk_checkout_id = $1`, orderColumns)
	order, err := scanOrder(r.db.QueryRow(ctx, query, strings.TrimSpace(reference)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

// AttachStkCheckout stamps the checkout request id returned by an STK push
// so the eventual result callback can be matched back to the order.
func (r *PostgresRepository) AttachStkCheckout(ctx context.Context, orderID uuid.UUID, checkoutRequestID string) error {
	query := `
		UPDATE payment_orders
		SET stk_checkout_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`
	tag, err := r.db.Exec(ctx, query, orderID, strings.TrimSpace(checkoutRequestID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// ApplyPaymentSuccess settles an order as paid. See applyPayment.
func (r *PostgresRepository) ApplyPaymentSuccess(ctx context.Context, params ApplyPaymentParams) (*PaymentApplication, error) {
	return r.applyPayment(ctx, params, domain.OrderStatusPaid)
}

// ApplyPaymentFailure settles an order as failed. See applyPayment.
func (r *PostgresRepository) ApplyPaymentFailure(ctx context.Context, params ApplyPaymentParams) (*PaymentApplication, error) {
	return r.applyPayment(ctx, params, domain.OrderStatusFailed)
}

// applyPayment is the atomic unit behind webhook reconciliation:
//
//  1. Lock the order row by reference (FOR UPDATE).
//  2. Insert the external transaction id into the idempotency ledger
//     (ON CONFLICT DO NOTHING); a conflict means this delivery is a replay.
//  3. Transition the order out of 'pending' conditionally.
//
// An already-terminal order rolls back the ledger insert and reports a
// non-first application, so a later event with a distinct transaction id
// (e.g. a late validation retry after a committed confirmation) is treated
// exactly like a replay.
func (r *PostgresRepository) applyPayment(ctx context.Context, params ApplyPaymentParams, terminalStatus string) (*PaymentApplication, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin apply transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lockQuery := fmt.Sprintf(`
		SELECT %s FROM payment_orders
		WHERE reference_code = $1 OR stk_checkout_id = $1
		FOR UPDATE`, orderColumns)
	order, err := scanOrder(tx.QueryRow(ctx, lockQuery, strings.TrimSpace(params.ReferenceCode)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}

	ledgerTag, err := tx.Exec(ctx, `
		INSERT INTO payment_ledger (external_txn_id, order_id, applied_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (external_txn_id) DO NOTHING`,
		params.ExternalTxnID, order.ID)
	if err != nil {
		return nil, fmt.Errorf("ledger insert: %w", err)
	}
	if ledgerTag.RowsAffected() == 0 {
		return &PaymentApplication{FirstApplication: false, Order: order}, nil
	}

	if order.Terminal() {
		// Roll back the ledger row: the ledger records applied effects only,
		// and this delivery had none.
		return &PaymentApplication{FirstApplication: false, Order: order}, nil
	}

	var updateTag int64
	if terminalStatus == domain.OrderStatusPaid {
		tag, execErr := tx.Exec(ctx, `
			UPDATE payment_orders
			SET status = 'paid',
			    mpesa_receipt = $2,
			    payer_phone = COALESCE(NULLIF($3, ''), payer_phone),
			    payer_name = COALESCE(NULLIF($4, ''), payer_name),
			    updated_at = NOW()
			WHERE id = $1 AND status = 'pending'`,
			order.ID, params.Receipt, params.PayerPhone, params.PayerName)
		if execErr != nil {
			return nil, fmt.Errorf("settle order paid: %w", execErr)
		}
		updateTag = tag.RowsAffected()
	} else {
		tag, execErr := tx.Exec(ctx, `
			UPDATE payment_orders
			SET status = 'failed',
			    failure_reason = NULLIF($2, ''),
			    updated_at = NOW()
			WHERE id = $1 AND status = 'pending'`,
			order.ID, params.FailureReason)
		if execErr != nil {
			return nil, fmt.Errorf("settle order failed: %w", execErr)
		}
		updateTag = tag.RowsAffected()
	}
	if updateTag == 0 {
		// Unreachable while the row lock is held; kept as a guard against
		// the terminal check and the update condition drifting apart.
		return &PaymentApplication{FirstApplication: false, Order: order}, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit apply transaction: %w", err)
	}

	order.Status = terminalStatus
	if terminalStatus == domain.OrderStatusPaid {
		receipt := params.Receipt
		order.MpesaReceipt = &receipt
		if phone := strings.TrimSpace(params.PayerPhone); phone != "" {
			order.PayerPhone = &phone
		}
		if name := strings.TrimSpace(params.PayerName); name != "" {
			order.PayerName = &name
		}
	} else if reason := strings.TrimSpace(params.FailureReason); reason != "" {
		order.FailureReason = &reason
	}
	return &PaymentApplication{FirstApplication: true, Order: order}, nil
}

// RecordUnresolvedPayment appends an event to the admin review queue.
// Repeat deliveries of the same unmatched transaction collapse to one row.
func (r *PostgresRepository) RecordUnresolvedPayment(ctx context.Context, item domain.UnresolvedPayment) error {
	query := `
		INSERT INTO unresolved_payments (id, external_txn_id, reference_code, amount_cents, payer_phone, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (external_txn_id) DO NOTHING`
	_, err := r.db.Exec(ctx, query,
		item.ID, item.ExternalTxnID, item.ReferenceCode, item.AmountCents, item.PayerPhone, item.Reason)
	return err
}

// ListUnresolvedPayments returns the review queue, newest first.
func (r *PostgresRepository) ListUnresolvedPayments(ctx context.Context, limit int) ([]domain.UnresolvedPayment, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, external_txn_id, reference_code, amount_cents, payer_phone, reason, created_at
		FROM unresolved_payments
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.UnresolvedPayment
	for rows.Next() {
		var item domain.UnresolvedPayment
		if err := rows.Scan(&item.ID, &item.ExternalTxnID, &item.ReferenceCode, &item.AmountCents, &item.PayerPhone, &item.Reason, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CreateNotification appends one feed record.
func (r *PostgresRepository) CreateNotification(ctx context.Context, item domain.Notification) error {
	query := `
		INSERT INTO notifications (id, recipient_id, type, message, related_id, read, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, NOW())`
	_, err := r.db.Exec(ctx, query, item.ID, item.RecipientID, item.Type, item.Message, item.RelatedID)
	return err
}

// ListNotifications returns a recipient's feed, newest first.
func (r *PostgresRepository) ListNotifications(ctx context.Context, recipientID uuid.UUID, opts domain.NotificationListOptions) ([]domain.Notification, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, recipient_id, type, message, related_id, read, created_at
		FROM notifications
		WHERE recipient_id = $1 AND ($2 = FALSE OR read = FALSE)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`
	rows, err := r.db.Query(ctx, query, recipientID, opts.UnreadOnly, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.Notification
	for rows.Next() {
		var item domain.Notification
		if err := rows.Scan(&item.ID, &item.RecipientID, &item.Type, &item.Message, &item.RelatedID, &item.Read, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkNotificationRead flips one feed record to read. Returns false when the
// record does not exist or belongs to another recipient.
func (r *PostgresRepository) MarkNotificationRead(ctx context.Context, recipientID uuid.UUID, notificationID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications
		SET read = TRUE
		WHERE id = $1 AND recipient_id = $2`, notificationID, recipientID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
