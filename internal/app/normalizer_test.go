package app

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/compost-captain/payment-service/internal/domain"
)

func TestNormalizeConfirmation_MapsProviderFields(t *testing.T) {
	payload := domain.C2BCallbackPayload{
		TransactionType: "Pay Bill",
		TransID:         "RKTQDM7W6S",
		TransTime:       "20260115104512",
		TransAmount:     json.Number("450.00"),
		BillRefNumber:   "CCA1B2C3D4E5",
		MSISDN:          "254708374149",
		FirstName:       "John",
		LastName:        "Doe",
	}

	event, err := NormalizeConfirmation(payload)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if event.Kind != domain.EventConfirmation {
		t.Fatalf("expected confirmation kind, got %s", event.Kind)
	}
	if event.ExternalTxnID != "RKTQDM7W6S" {
		t.Fatalf("expected external txn id RKTQDM7W6S, got %q", event.ExternalTxnID)
	}
	if event.ReferenceCode != "CCA1B2C3D4E5" {
		t.Fatalf("expected reference CCA1B2C3D4E5, got %q", event.ReferenceCode)
	}
	if event.AmountCents != 45000 {
		t.Fatalf("expected 45000 cents, got %d", event.AmountCents)
	}
	if event.PayerName != "John Doe" {
		t.Fatalf("expected joined payer name, got %q", event.PayerName)
	}
	if event.OccurredAt.IsZero() {
		t.Fatal("expected TransTime to be parsed")
	}
	if !event.Succeeded() {
		t.Fatal("expected confirmation events to always signal success")
	}
}

func TestNormalizeConfirmation_MissingTransIDIsMalformed(t *testing.T) {
	payload := domain.C2BCallbackPayload{
		TransAmount:   json.Number("100"),
		BillRefNumber: "CCA1B2C3D4E5",
	}
	if _, err := NormalizeConfirmation(payload); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestNormalizeConfirmation_MissingReferenceIsMalformed(t *testing.T) {
	payload := domain.C2BCallbackPayload{
		TransID:     "RKTQDM7W6S",
		TransAmount: json.Number("100"),
	}
	if _, err := NormalizeConfirmation(payload); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestNormalizeValidation_OnlyKindDiffersFromConfirmation(t *testing.T) {
	payload := domain.C2BCallbackPayload{
		TransID:       "RKTQDM7W6S",
		TransAmount:   json.Number("100"),
		BillRefNumber: "CCA1B2C3D4E5",
	}
	event, err := NormalizeValidation(payload)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if event.Kind != domain.EventValidation {
		t.Fatalf("expected validation kind, got %s", event.Kind)
	}
}

func stkEnvelope(t *testing.T, body string) domain.StkCallbackEnvelope {
	t.Helper()
	var envelope domain.StkCallbackEnvelope
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		t.Fatalf("failed to build test envelope: %v", err)
	}
	return envelope
}

func TestNormalizeStkCallback_SuccessProbesMetadataItems(t *testing.T) {
	envelope := stkEnvelope(t, `{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": "ws_CO_191220191020363925",
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": 450.00},
						{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
						{"Name": "Balance"},
						{"Name": "TransactionDate", "Value": 20260115104512},
						{"Name": "PhoneNumber", "Value": 254708374149}
					]
				}
			}
		}
	}`)

	event, err := NormalizeStkCallback(envelope)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if event.Kind != domain.EventStkResult {
		t.Fatalf("expected stk_result kind, got %s", event.Kind)
	}
	if event.ExternalTxnID != "NLJ7RT61SV" {
		t.Fatalf("expected receipt to win as external txn id, got %q", event.ExternalTxnID)
	}
	if event.ReferenceCode != "ws_CO_191220191020363925" {
		t.Fatalf("expected checkout id as reference, got %q", event.ReferenceCode)
	}
	if event.AmountCents != 45000 {
		t.Fatalf("expected 45000 cents, got %d", event.AmountCents)
	}
	if event.PayerPhone != "254708374149" {
		t.Fatalf("expected numeric phone to be rendered, got %q", event.PayerPhone)
	}
	if !event.Succeeded() {
		t.Fatal("expected result code 0 to signal success")
	}
}

func TestNormalizeStkCallback_FailureHasNoMetadata(t *testing.T) {
	envelope := stkEnvelope(t, `{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": "ws_CO_191220191020363925",
				"ResultCode": 1032,
				"ResultDesc": "Request cancelled by user."
			}
		}
	}`)

	event, err := NormalizeStkCallback(envelope)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if event.Succeeded() {
		t.Fatal("expected result code 1032 to signal failure")
	}
	if event.ExternalTxnID != "ws_CO_191220191020363925" {
		t.Fatalf("expected checkout id as external txn id, got %q", event.ExternalTxnID)
	}
	if event.AmountCents != 0 {
		t.Fatalf("expected absent amount to stay zero, got %d", event.AmountCents)
	}
}

func TestNormalizeStkCallback_MissingCheckoutIDIsMalformed(t *testing.T) {
	envelope := stkEnvelope(t, `{"Body": {"stkCallback": {"ResultCode": 0}}}`)
	if _, err := NormalizeStkCallback(envelope); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestNormalizeStkCallback_UnknownItemsAreIgnored(t *testing.T) {
	envelope := stkEnvelope(t, `{
		"Body": {
			"stkCallback": {
				"CheckoutRequestID": "ws_CO_1",
				"ResultCode": 0,
				"CallbackMetadata": {
					"Item": [
						{"Name": "SomeFutureField", "Value": {"nested": true}},
						{"Name": "Amount", "Value": "120"}
					]
				}
			}
		}
	}`)

	event, err := NormalizeStkCallback(envelope)
	if err != nil {
		t.Fatalf("expected unknown items to be ignored, got %v", err)
	}
	if event.AmountCents != 12000 {
		t.Fatalf("expected string amount to parse, got %d", event.AmountCents)
	}
}

func TestPaymentEvent_JSONRoundTrip(t *testing.T) {
	payload := domain.C2BCallbackPayload{
		TransID:       "RKTQDM7W6S",
		TransAmount:   json.Number("450.50"),
		BillRefNumber: "CCA1B2C3D4E5",
		MSISDN:        "254708374149",
	}
	event, err := NormalizeConfirmation(payload)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded domain.PaymentEvent
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.ExternalTxnID != event.ExternalTxnID || decoded.ReferenceCode != event.ReferenceCode || decoded.AmountCents != event.AmountCents {
		t.Fatalf("round trip lost fields: %+v vs %+v", decoded, event)
	}
}
