package domain

import (
	"time"

	"github.com/google/uuid"
)

// Notification types emitted by the dispatcher.
const (
	NotificationPaymentReceived = "payment_received"
	NotificationPaymentFailed   = "payment_failed"
	NotificationPickupUpdate    = "pickup_update"
	NotificationNewReport       = "new_report"
	NotificationAnomaly         = "anomaly"
)

// Notification is a feed record created once per committed transition.
// The core never mutates it after creation; read/delete belongs to the
// feed consumers.
type Notification struct {
	ID          uuid.UUID  `json:"id"`
	RecipientID uuid.UUID  `json:"recipient_id"`
	Type        string     `json:"type"`
	Message     string     `json:"message"`
	RelatedID   *uuid.UUID `json:"related_id,omitempty"`
	Read        bool       `json:"read"`
	CreatedAt   time.Time  `json:"created_at"`
}

// NotificationListOptions controls pagination for the notification feed.
type NotificationListOptions struct {
	Limit      int
	Offset     int
	UnreadOnly bool
}
