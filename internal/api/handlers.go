/**
 * @description
 * This file contains the HTTP handlers for the report-lifecycle and
 * payment-order endpoints consumed by the admin and dispatch dashboards.
 * Handlers parse the request, call the application service, and map service
 * errors onto HTTP statuses; business logic stays in internal/app.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/compost-captain/payment-service/internal/app"
	"github.com/compost-captain/payment-service/internal/domain"
	"github.com/compost-captain/payment-service/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Handlers holds the application service the dashboard endpoints use.
type Handlers struct {
	service *app.Service
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(service *app.Service) *Handlers {
	return &Handlers{service: service}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func urlParamUUID(r *http.Request, name string) (uuid.UUID, bool) {
	value, err := uuid.Parse(chi.URLParam(r, name))
	return value, err == nil
}

// writeServiceError maps application/store errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrReportNotFound), errors.Is(err, store.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrOrderNotPending):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("level=error component=api msg=\"unhandled service error\" err=%v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// submitReportRequest is the DTO for filing a new waste report.
type submitReportRequest struct {
	FarmerID    uuid.UUID `json:"farmer_id"`
	WasteType   string    `json:"waste_type"`
	QuantityKg  float64   `json:"quantity_kg"`
	Location    string    `json:"location"`
	AmountCents int64     `json:"amount_cents"`
}

// submitReportResponse pairs the created report with its pending order.
type submitReportResponse struct {
	Report *domain.WasteReport  `json:"report"`
	Order  *domain.PaymentOrder `json:"order"`
}

// SubmitReportHandler handles POST /reports.
func (h *Handlers) SubmitReportHandler(w http.ResponseWriter, r *http.Request) {
	var req submitReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FarmerID == uuid.Nil || req.WasteType == "" || req.AmountCents <= 0 {
		writeError(w, http.StatusBadRequest, "farmer_id, waste_type and a positive amount_cents are required")
		return
	}

	report := &domain.WasteReport{
		FarmerID:   req.FarmerID,
		WasteType:  req.WasteType,
		QuantityKg: req.QuantityKg,
		Location:   req.Location,
	}
	order, err := h.service.SubmitReport(r.Context(), report, req.AmountCents)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, submitReportResponse{Report: report, Order: order})
}

// VerifyReportHandler handles POST /reports/{id}/verify.
func (h *Handlers) VerifyReportHandler(w http.ResponseWriter, r *http.Request) {
	reportID, ok := urlParamUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid report id")
		return
	}
	report, err := h.service.VerifyReport(r.Context(), reportID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type assignRiderRequest struct {
	RiderID uuid.UUID `json:"rider_id"`
}

// AssignRiderHandler handles POST /reports/{id}/assign-rider.
func (h *Handlers) AssignRiderHandler(w http.ResponseWriter, r *http.Request) {
	reportID, ok := urlParamUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid report id")
		return
	}
	var req assignRiderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RiderID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "rider_id is required")
		return
	}
	report, err := h.service.AssignRider(r.Context(), reportID, req.RiderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// StartPickupHandler handles POST /reports/{id}/pickup-start.
func (h *Handlers) StartPickupHandler(w http.ResponseWriter, r *http.Request) {
	reportID, ok := urlParamUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid report id")
		return
	}
	report, err := h.service.StartPickup(r.Context(), reportID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// CompletePickupHandler handles POST /reports/{id}/pickup-complete.
func (h *Handlers) CompletePickupHandler(w http.ResponseWriter, r *http.Request) {
	reportID, ok := urlParamUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid report id")
		return
	}
	report, err := h.service.CompletePickup(r.Context(), reportID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetReportHandler handles GET /reports/{id}. The response carries both the
// authoritative stage and the derived display stage.
func (h *Handlers) GetReportHandler(w http.ResponseWriter, r *http.Request) {
	reportID, ok := urlParamUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid report id")
		return
	}
	report, err := h.service.GetReport(r.Context(), reportID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"report":        report,
		"display_stage": domain.DeriveDisplayStage(report),
	})
}

// ListReportsHandler handles GET /reports.
func (h *Handlers) ListReportsHandler(w http.ResponseWriter, r *http.Request) {
	opts := domain.ReportListOptions{Stage: r.URL.Query().Get("stage")}
	if farmer := r.URL.Query().Get("farmer_id"); farmer != "" {
		farmerID, err := uuid.Parse(farmer)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid farmer_id")
			return
		}
		opts.Farmer = &farmerID
	}
	reports, err := h.service.ListReports(r.Context(), opts)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

// GetOrderHandler handles GET /orders/{id}.
func (h *Handlers) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	orderID, ok := urlParamUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	order, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type stkPushRequest struct {
	OrderID uuid.UUID `json:"order_id"`
	Phone   string    `json:"phone"`
}

// StkPushHandler handles POST /payments/stk-push.
func (h *Handlers) StkPushHandler(w http.ResponseWriter, r *http.Request) {
	var req stkPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == uuid.Nil || req.Phone == "" {
		writeError(w, http.StatusBadRequest, "order_id and phone are required")
		return
	}
	response, err := h.service.InitiateStkPush(r.Context(), req.OrderID, req.Phone)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, response)
}

// ListUnresolvedHandler handles GET /payments/unresolved.
func (h *Handlers) ListUnresolvedHandler(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListUnresolvedPayments(r.Context(), 100)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}
