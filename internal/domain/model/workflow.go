package model

import (
	"github.com/ehr/hospital/internal/platform/apperr"
)

// Transition names a requested appointment lifecycle change.
type Transition string

const (
	TransitionStart    Transition = "start"
	TransitionComplete Transition = "complete"
	TransitionCancel   Transition = "cancel"
	TransitionNoShow   Transition = "no_show"
)

// appointmentEdges lists, per transition, the source states it may leave from.
// Completing an already completed appointment is the idempotent re-save.
var appointmentEdges = map[Transition]struct {
	from []AppointmentStatus
	to   AppointmentStatus
}{
	TransitionStart:    {from: []AppointmentStatus{AppointmentScheduled}, to: AppointmentInConsultation},
	TransitionComplete: {from: []AppointmentStatus{AppointmentInConsultation, AppointmentCompleted}, to: AppointmentCompleted},
	TransitionCancel:   {from: []AppointmentStatus{AppointmentScheduled, AppointmentInConsultation}, to: AppointmentCancelled},
	TransitionNoShow:   {from: []AppointmentStatus{AppointmentScheduled}, to: AppointmentNoShow},
}

// NextAppointmentStatus returns the state reached by applying t to current,
// or a Conflict when the edge does not exist.
func NextAppointmentStatus(current AppointmentStatus, t Transition) (AppointmentStatus, error) {
	edge, ok := appointmentEdges[t]
	if !ok {
		return "", apperr.Validation("unknown transition %q", t)
	}
	for _, from := range edge.from {
		if from == current {
			return edge.to, nil
		}
	}
	return "", apperr.Conflict("cannot %s an appointment that is %s", t, current)
}

// MergeLineItems reconciles a prescription's current items with a doctor's
// new submission. Items with pharmacy progress are kept as they are, in their
// existing order; the undispensed remainder is replaced by incoming, each at
// NotGiven. Positions are renumbered in the final order.
func MergeLineItems(existing []LineItem, incoming []LineItemInput) []LineItem {
	merged := make([]LineItem, 0, len(existing)+len(incoming))
	for _, item := range existing {
		if item.Status.Dispensed() {
			merged = append(merged, item)
		}
	}
	for _, in := range incoming {
		merged = append(merged, LineItem{
			MedicineName: in.MedicineName,
			Dose:         in.Dose,
			Frequency:    in.Frequency,
			DurationDays: in.DurationDays,
			Instructions: in.Instructions,
			Status:       LineNotGiven,
		})
	}
	for i := range merged {
		merged[i].Position = i
	}
	return merged
}

// AggregateStatus derives a prescription's status from its line item
// statuses. Only the multiset of statuses matters. When no item has been
// dispensed the current status is kept, so NotAvailable is never derived.
// An empty set also keeps the current status; such prescriptions are kept
// out of the pharmacy queue instead.
func AggregateStatus(current PrescriptionStatus, statuses []LineItemStatus) PrescriptionStatus {
	if len(statuses) == 0 {
		return current
	}
	complete, touched := 0, 0
	for _, s := range statuses {
		if s.Complete() {
			complete++
		}
		if s.Dispensed() {
			touched++
		}
	}
	switch {
	case complete == len(statuses):
		return PrescriptionFullyDispensed
	case touched > 0:
		return PrescriptionPartiallyDispensed
	default:
		return current
	}
}

// Statuses returns the status of every item in order.
func Statuses(items []LineItem) []LineItemStatus {
	out := make([]LineItemStatus, len(items))
	for i, it := range items {
		out[i] = it.Status
	}
	return out
}

// ValidateLineItems checks a doctor's submission before it reaches storage.
func ValidateLineItems(items []LineItemInput) error {
	for i, in := range items {
		if in.MedicineName == "" {
			return apperr.Validation("line_items[%d].medicine_name is required", i)
		}
		if in.DurationDays != nil && *in.DurationDays < 0 {
			return apperr.Validation("line_items[%d].duration_days must not be negative", i)
		}
	}
	return nil
}
