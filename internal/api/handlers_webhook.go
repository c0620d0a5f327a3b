/**
 * @description
 * This file contains the HTTP handlers for the Daraja webhook endpoints:
 * C2B confirmation, C2B validation, and the STK push result callback. They
 * are the entry point for all asynchronous payment notifications.
 *
 * The response contract here is deliberately success-biased. Daraja retries
 * on any non-success acknowledgement shape, so every internal outcome —
 * malformed body, unmatched reference, duplicate delivery, even a store
 * outage — still produces the provider's expected success response. The
 * only exception is an unparseable STK envelope, which is a 500 by contract.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain: For normalization and reconciliation.
 */

package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/compost-captain/payment-service/internal/app"
	"github.com/compost-captain/payment-service/internal/domain"
)

// WebhookHandlers holds the reconciler the webhook endpoints feed into.
type WebhookHandlers struct {
	reconciler *app.Reconciler
}

// NewWebhookHandlers creates a new instance of WebhookHandlers.
func NewWebhookHandlers(reconciler *app.Reconciler) *WebhookHandlers {
	return &WebhookHandlers{reconciler: reconciler}
}

// confirmationAck is the acknowledgement shape Daraja expects on the
// confirmation endpoint. ResultCode is numeric here.
type confirmationAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// validationAck is the acknowledgement shape Daraja expects on the
// validation endpoint. ResultCode is a string on this path.
type validationAck struct {
	ResultCode string `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// ConfirmationHandler handles POST /payments/confirmation.
func (h *WebhookHandlers) ConfirmationHandler(w http.ResponseWriter, r *http.Request) {
	defer writeJSON(w, http.StatusOK, confirmationAck{ResultCode: 0, ResultDesc: "Success"})

	var payload domain.C2BCallbackPayload
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		log.Printf("level=warn component=webhook endpoint=confirmation outcome=reject reason=invalid_json err=%v", err)
		return
	}

	event, err := app.NormalizeConfirmation(payload)
	if err != nil {
		log.Printf("level=warn component=webhook endpoint=confirmation outcome=reject reason=malformed_payload err=%v", err)
		return
	}

	if err := h.reconciler.Apply(r.Context(), *event); err != nil {
		log.Printf("level=error component=webhook endpoint=confirmation msg=\"reconciliation error absorbed\" external_txn_id=%s err=%v", event.ExternalTxnID, err)
	}
}

// ValidationHandler handles POST /payments/validation. Validation events are
// normalized and fed through the same path as confirmations; an order that
// is already settled simply observes a duplicate.
func (h *WebhookHandlers) ValidationHandler(w http.ResponseWriter, r *http.Request) {
	defer writeJSON(w, http.StatusOK, validationAck{ResultCode: "0", ResultDesc: "Accepted"})

	var payload domain.C2BCallbackPayload
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		log.Printf("level=warn component=webhook endpoint=validation outcome=reject reason=invalid_json err=%v", err)
		return
	}

	event, err := app.NormalizeValidation(payload)
	if err != nil {
		log.Printf("level=warn component=webhook endpoint=validation outcome=reject reason=malformed_payload err=%v", err)
		return
	}

	if err := h.reconciler.Apply(r.Context(), *event); err != nil {
		log.Printf("level=error component=webhook endpoint=validation msg=\"reconciliation error absorbed\" external_txn_id=%s err=%v", event.ExternalTxnID, err)
	}
}

// StkCallbackHandler handles POST /payments/stk-callback. A body that does
// not parse as the envelope at all is the one case that returns a 500.
func (h *WebhookHandlers) StkCallbackHandler(w http.ResponseWriter, r *http.Request) {
	var envelope domain.StkCallbackEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		log.Printf("level=warn component=webhook endpoint=stk_callback outcome=reject reason=invalid_envelope err=%v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "invalid callback envelope"})
		return
	}

	event, err := app.NormalizeStkCallback(envelope)
	if err != nil {
		log.Printf("level=warn component=webhook endpoint=stk_callback outcome=reject reason=malformed_payload err=%v", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
		return
	}

	if err := h.reconciler.Apply(r.Context(), *event); err != nil {
		log.Printf("level=error component=webhook endpoint=stk_callback msg=\"reconciliation error absorbed\" external_txn_id=%s err=%v", event.ExternalTxnID, err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
