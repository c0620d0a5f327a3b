/**
 * @description
 * This file defines the waste-report lifecycle: the ordered stage enum, the
 * transition rules enforced on every stage change, and the WasteReport model
 * itself. The stage enum is the single source of truth; the booleans and
 * timestamps on the record are projections written alongside it.
 */

package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReportStage is one of the ordered states a waste report passes through
// from creation to paid completion.
type ReportStage string

const (
	StageReported        ReportStage = "reported"
	StageAdminVerified   ReportStage = "admin_verified"
	StageRiderAssigned   ReportStage = "rider_assigned"
	StagePickupStarted   ReportStage = "pickup_started"
	StagePickupCompleted ReportStage = "pickup_completed"
	StagePaid            ReportStage = "paid"
)

// ErrInvalidTransition is returned when a stage change would skip ahead,
// move backward, or leave a terminal state.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

var stageOrder = map[ReportStage]int{
	StageReported:        0,
	StageAdminVerified:   1,
	StageRiderAssigned:   2,
	StagePickupStarted:   3,
	StagePickupCompleted: 4,
	StagePaid:            5,
}

// Valid reports whether s is a known lifecycle stage.
func (s ReportStage) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

// Terminal reports whether s is the final stage.
func (s ReportStage) Terminal() bool {
	return s == StagePaid
}

// Ordinal returns the position of s in the lifecycle, or -1 if unknown.
func (s ReportStage) Ordinal() int {
	if pos, ok := stageOrder[s]; ok {
		return pos
	}
	return -1
}

// NextStage returns the immediate successor of s, if one exists.
func NextStage(s ReportStage) (ReportStage, bool) {
	switch s {
	case StageReported:
		return StageAdminVerified, true
	case StageAdminVerified:
		return StageRiderAssigned, true
	case StageRiderAssigned:
		return StagePickupStarted, true
	case StagePickupStarted:
		return StagePickupCompleted, true
	case StagePickupCompleted:
		return StagePaid, true
	default:
		return "", false
	}
}

// CanAdvance validates that next immediately follows current. No skipping
// stages, no going backward, no leaving the terminal stage.
func CanAdvance(current, next ReportStage) error {
	if !current.Valid() || !next.Valid() {
		return fmt.Errorf("%w: unknown stage (current=%q next=%q)", ErrInvalidTransition, current, next)
	}
	successor, ok := NextStage(current)
	if !ok || successor != next {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}
	return nil
}

// WasteReport is a farmer's collection request. Status is authoritative;
// AdminVerified, RiderID, the pickup timestamps and Paid are projections
// maintained for readers that still consume the flat fields.
type WasteReport struct {
	ID                uuid.UUID   `json:"id"`
	FarmerID          uuid.UUID   `json:"farmer_id"`
	WasteType         string      `json:"waste_type"`
	QuantityKg        float64     `json:"quantity_kg"`
	Location          string      `json:"location"`
	Status            ReportStage `json:"status"`
	AdminVerified     bool        `json:"admin_verified"`
	RiderID           *uuid.UUID  `json:"rider_id,omitempty"`
	PickupStartedAt   *time.Time  `json:"pickup_started_at,omitempty"`
	PickupCompletedAt *time.Time  `json:"pickup_completed_at,omitempty"`
	Paid              bool        `json:"paid"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// DeriveDisplayStage computes a stage from the projection fields. It exists
// for presentation only; authorization and transitions always read Status.
func DeriveDisplayStage(r *WasteReport) ReportStage {
	switch {
	case r.Paid:
		return StagePaid
	case r.PickupCompletedAt != nil:
		return StagePickupCompleted
	case r.PickupStartedAt != nil:
		return StagePickupStarted
	case r.RiderID != nil:
		return StageRiderAssigned
	case r.AdminVerified:
		return StageAdminVerified
	default:
		return StageReported
	}
}

// ReportListOptions controls pagination and filtering for report queries.
type ReportListOptions struct {
	Limit  int
	Offset int
	Stage  string
	Farmer *uuid.UUID
}
