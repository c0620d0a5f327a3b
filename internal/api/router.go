/**
 * @description
 * This file sets up the HTTP router for the payment-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * The webhook endpoints stay outside the authenticated group: Daraja signs
 * nothing and sends no bearer token, so those routes rely on the reconciler's
 * idempotency rather than authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// PaymentRoutes creates and returns a new router for the payment service.
func PaymentRoutes(h *Handlers, wh *WebhookHandlers, jwksURL string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Provider webhook endpoints. Unauthenticated by necessity.
	r.Post("/payments/confirmation", wh.ConfirmationHandler)
	r.Post("/payments/validation", wh.ValidationHandler)
	r.Post("/payments/stk-callback", wh.StkCallbackHandler)

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		// Report lifecycle endpoints
		r.Post("/reports", h.SubmitReportHandler)
		r.Get("/reports", h.ListReportsHandler)
		r.Get("/reports/{id}", h.GetReportHandler)
		r.Post("/reports/{id}/verify", h.VerifyReportHandler)
		r.Post("/reports/{id}/assign-rider", h.AssignRiderHandler)
		r.Post("/reports/{id}/pickup-start", h.StartPickupHandler)
		r.Post("/reports/{id}/pickup-complete", h.CompletePickupHandler)

		// Payment order endpoints
		r.Get("/orders/{id}", h.GetOrderHandler)
		r.Post("/payments/stk-push", h.StkPushHandler)
		r.Get("/payments/unresolved", h.ListUnresolvedHandler)

		// Notification feed endpoints
		r.Get("/notifications", h.ListNotificationsHandler)
		r.Post("/notifications/{id}/read", h.MarkNotificationReadHandler)
	})

	return r
}
