/**
 * @description
 * This file turns raw Daraja callback payloads into the canonical
 * PaymentEvent consumed by the reconciler. Normalization is the only place
 * provider field names and loose typing are allowed; everything downstream
 * works on the tagged-variant event.
 *
 * Contract notes:
 * - A missing external transaction id or reference is a hard parse failure
 *   (ErrMalformedPayload). The HTTP layer still returns the provider's
 *   expected acknowledgement in that case, because an error-shaped response
 *   makes the provider retry indefinitely.
 * - STK metadata items are probed by name: unknown names are ignored and
 *   missing items leave the corresponding field absent, never zero-coerced.
 */

package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/compost-captain/payment-service/internal/domain"
)

// ErrMalformedPayload marks a provider payload missing the fields needed to
// produce a usable event.
var ErrMalformedPayload = errors.New("malformed provider payload")

// transTimeLayout is Daraja's compact timestamp format (yyyyMMddHHmmss).
const transTimeLayout = "20060102150405"

// NormalizeConfirmation converts a C2B confirmation body into a canonical
// confirmation event.
func NormalizeConfirmation(payload domain.C2BCallbackPayload) (*domain.PaymentEvent, error) {
	return normalizeC2B(payload, domain.EventConfirmation)
}

// NormalizeValidation converts a C2B validation body into a canonical
// validation event. The shape is identical to a confirmation; only the kind
// differs.
func NormalizeValidation(payload domain.C2BCallbackPayload) (*domain.PaymentEvent, error) {
	return normalizeC2B(payload, domain.EventValidation)
}

func normalizeC2B(payload domain.C2BCallbackPayload, kind domain.PaymentEventKind) (*domain.PaymentEvent, error) {
	txnID := strings.TrimSpace(payload.TransID)
	reference := strings.TrimSpace(payload.BillRefNumber)
	if txnID == "" {
		return nil, fmt.Errorf("%w: missing TransID", ErrMalformedPayload)
	}
	if reference == "" {
		return nil, fmt.Errorf("%w: missing BillRefNumber", ErrMalformedPayload)
	}

	event := &domain.PaymentEvent{
		ExternalTxnID: txnID,
		ReferenceCode: reference,
		AmountCents:   amountCentsFromNumber(payload.TransAmount),
		PayerPhone:    strings.TrimSpace(payload.MSISDN),
		PayerName:     joinPayerName(payload.FirstName, payload.MiddleName, payload.LastName),
		Kind:          kind,
	}
	if occurred, err := time.Parse(transTimeLayout, strings.TrimSpace(payload.TransTime)); err == nil {
		event.OccurredAt = occurred.UTC()
	}
	return event, nil
}

// NormalizeStkCallback converts an STK push result envelope into a canonical
// stk_result event. The checkout request id doubles as the reference code,
// since Daraja does not echo the bill reference on this path.
func NormalizeStkCallback(envelope domain.StkCallbackEnvelope) (*domain.PaymentEvent, error) {
	callback := envelope.Body.StkCallback
	checkoutID := strings.TrimSpace(callback.CheckoutRequestID)
	if checkoutID == "" {
		return nil, fmt.Errorf("%w: missing CheckoutRequestID", ErrMalformedPayload)
	}

	event := &domain.PaymentEvent{
		ExternalTxnID: checkoutID,
		ReferenceCode: checkoutID,
		Kind:          domain.EventStkResult,
		ResultCode:    callback.ResultCode,
	}

	if callback.CallbackMetadata != nil {
		for _, item := range callback.CallbackMetadata.Item {
			switch item.Name {
			case "Amount":
				var amount json.Number
				if err := json.Unmarshal(item.Value, &amount); err == nil {
					event.AmountCents = amountCentsFromNumber(amount)
				}
			case "MpesaReceiptNumber":
				var receipt string
				if err := json.Unmarshal(item.Value, &receipt); err == nil && strings.TrimSpace(receipt) != "" {
					// The receipt is the provider's durable transaction id;
					// prefer it over the checkout id for idempotency.
					event.ExternalTxnID = strings.TrimSpace(receipt)
				}
			case "PhoneNumber":
				event.PayerPhone = stringFromLooseValue(item.Value)
			case "TransactionDate":
				var stamp json.Number
				if err := json.Unmarshal(item.Value, &stamp); err == nil {
					if occurred, parseErr := time.Parse(transTimeLayout, stamp.String()); parseErr == nil {
						event.OccurredAt = occurred.UTC()
					}
				}
			}
		}
	}

	return event, nil
}

// amountCentsFromNumber converts a Daraja amount (whole or fractional
// shillings, number or numeric string) into cents. Unparseable values come
// back as zero; the reconciler treats amount as informational, not as a
// match key.
func amountCentsFromNumber(raw json.Number) int64 {
	trimmed := strings.TrimSpace(raw.String())
	if trimmed == "" {
		return 0
	}
	value, err := json.Number(trimmed).Float64()
	if err != nil {
		return 0
	}
	return int64(math.Round(value * 100))
}

// stringFromLooseValue renders a JSON value that may arrive as a string or a
// number (Daraja sends phone numbers both ways).
func stringFromLooseValue(raw json.RawMessage) string {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return strings.TrimSpace(asString)
	}
	var asNumber json.Number
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber.String()
	}
	return ""
}

func joinPayerName(parts ...string) string {
	var kept []string
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return strings.Join(kept, " ")
}
