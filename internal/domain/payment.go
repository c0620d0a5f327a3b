/**
 * @description
 * This file defines the payment-side domain models for the payment-service:
 * the canonical PaymentEvent produced by the normalizer, the PaymentOrder
 * record it reconciles against, and the raw Daraja payload shapes received
 * on the webhook endpoints.
 *
 * @notes
 * - Amounts are stored as `int64` in cents, which avoids floating-point
 *   inaccuracies with money even though M-Pesa itself deals in whole
 *   shillings on the wire.
 * - PaymentEvent is immutable once normalized; the reconciler never mutates
 *   it, only the order it matches.
 */

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PaymentEventKind discriminates the three callback shapes Daraja delivers.
type PaymentEventKind string

const (
	EventConfirmation PaymentEventKind = "confirmation"
	EventValidation   PaymentEventKind = "validation"
	EventStkResult    PaymentEventKind = "stk_result"
)

// PaymentEvent is the canonical, normalized form of a provider callback.
// ExternalTxnID is the provider-assigned identifier used for idempotency;
// ReferenceCode is the merchant reference used to locate the order.
type PaymentEvent struct {
	ExternalTxnID string           `json:"external_txn_id"`
	ReferenceCode string           `json:"reference_code"`
	AmountCents   int64            `json:"amount_cents"`
	PayerPhone    string           `json:"payer_phone,omitempty"`
	PayerName     string           `json:"payer_name,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at,omitempty"`
	Kind          PaymentEventKind `json:"kind"`
	ResultCode    int              `json:"result_code"`
}

// Succeeded reports whether the event signals a completed payment.
// C2B confirmations carry no result code and always signal success.
func (e PaymentEvent) Succeeded() bool {
	if e.Kind == EventConfirmation {
		return true
	}
	return e.ResultCode == 0
}

// Payment order statuses. An order transitions pending -> paid or
// pending -> failed exactly once; both end states are terminal.
const (
	OrderStatusPending = "pending"
	OrderStatusPaid    = "paid"
	OrderStatusFailed  = "failed"
)

// PaymentOrder is the internal record a provider event is reconciled
// against. ReferenceCode is unique across live orders; StkCheckoutID is
// stamped when an STK push is initiated so result callbacks (which carry
// no bill reference) can still be matched.
type PaymentOrder struct {
	ID            uuid.UUID  `json:"id"`
	ReferenceCode string     `json:"reference_code"`
	ReportID      *uuid.UUID `json:"report_id,omitempty"`
	FarmerID      uuid.UUID  `json:"farmer_id"`
	AmountCents   int64      `json:"amount_cents"`
	Status        string     `json:"status"`
	MpesaReceipt  *string    `json:"mpesa_receipt,omitempty"`
	StkCheckoutID *string    `json:"stk_checkout_id,omitempty"`
	PayerPhone    *string    `json:"payer_phone,omitempty"`
	PayerName     *string    `json:"payer_name,omitempty"`
	FailureReason *string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Terminal reports whether the order has reached an end state.
func (o *PaymentOrder) Terminal() bool {
	return o.Status == OrderStatusPaid || o.Status == OrderStatusFailed
}

// UnresolvedPayment is a provider event that matched no order. These rows
// feed the admin review queue; they never block the webhook acknowledgement.
type UnresolvedPayment struct {
	ID            uuid.UUID `json:"id"`
	ExternalTxnID string    `json:"external_txn_id"`
	ReferenceCode string    `json:"reference_code"`
	AmountCents   int64     `json:"amount_cents"`
	PayerPhone    string    `json:"payer_phone,omitempty"`
	Reason        string    `json:"reason"`
	CreatedAt     time.Time `json:"created_at"`
}

// C2BCallbackPayload is the raw body Daraja posts to the confirmation and
// validation endpoints. TransAmount arrives as either a JSON number or a
// string depending on the simulator/environment, so json.Number covers both.
type C2BCallbackPayload struct {
	TransactionType   string      `json:"TransactionType"`
	TransID           string      `json:"TransID"`
	TransTime         string      `json:"TransTime"`
	TransAmount       json.Number `json:"TransAmount"`
	BusinessShortCode string      `json:"BusinessShortCode"`
	BillRefNumber     string      `json:"BillRefNumber"`
	MSISDN            string      `json:"MSISDN"`
	FirstName         string      `json:"FirstName"`
	MiddleName        string      `json:"MiddleName"`
	LastName          string      `json:"LastName"`
}

// StkCallbackEnvelope is the raw body Daraja posts after an STK push
// resolves. CallbackMetadata is only present on success.
type StkCallbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []StkCallbackItem `json:"Item"`
			} `json:"CallbackMetadata,omitempty"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// StkCallbackItem is one name/value pair from the STK callback metadata.
// Values vary in type per item name, so they are decoded lazily.
type StkCallbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}
