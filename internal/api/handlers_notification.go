/**
 * @description
 * This file contains the HTTP handlers for the notification feed. Recipients
 * are resolved from the authenticated subject; a caller can only read and
 * mutate their own feed.
 *
 * @dependencies
 * - net/http, strconv: Standard Go libraries.
 * - internal/domain: For the notification models.
 */

package api

import (
	"net/http"
	"strconv"

	"github.com/compost-captain/payment-service/internal/domain"
	"github.com/google/uuid"
)

// authRecipientID resolves the notification recipient from the JWT subject.
func authRecipientID(r *http.Request) (uuid.UUID, bool) {
	subject, ok := GetAuthUserID(r.Context())
	if !ok {
		return uuid.Nil, false
	}
	recipientID, err := uuid.Parse(subject)
	return recipientID, err == nil
}

// ListNotificationsHandler handles GET /notifications.
func (h *Handlers) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	recipientID, ok := authRecipientID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authenticated subject is not a valid recipient id")
		return
	}

	opts := domain.NotificationListOptions{Limit: 50}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 200 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		opts.Limit = limit
	}
	if r.URL.Query().Get("unread") == "true" {
		opts.UnreadOnly = true
	}

	notifications, err := h.service.ListNotifications(r.Context(), recipientID, opts)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notifications)
}

// MarkNotificationReadHandler handles POST /notifications/{id}/read.
func (h *Handlers) MarkNotificationReadHandler(w http.ResponseWriter, r *http.Request) {
	recipientID, ok := authRecipientID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authenticated subject is not a valid recipient id")
		return
	}
	notificationID, ok := urlParamUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid notification id")
		return
	}

	updated, err := h.service.MarkNotificationRead(r.Context(), recipientID, notificationID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !updated {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}
