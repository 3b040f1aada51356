// Package model owns the tagged variants and entities shared by every
// workflow package. Other packages import these definitions and never
// redefine role or status values.
package model

import (
	"strings"

	"github.com/ehr/hospital/internal/platform/apperr"
)

// Role is a staff role. Values match the persisted and wire representation.
type Role string

const (
	RoleSuperAdmin  Role = "super_admin"
	RoleAdmin       Role = "admin"
	RoleDoctor      Role = "doctor"
	RoleNurse       Role = "nurse"
	RoleMedicalShop Role = "medical_shop"
)

var roles = []Role{RoleSuperAdmin, RoleAdmin, RoleDoctor, RoleNurse, RoleMedicalShop}

func (r Role) Valid() bool {
	for _, v := range roles {
		if r == v {
			return true
		}
	}
	return false
}

func (r Role) String() string { return string(r) }

// ParseRole converts caller supplied text into a Role. Case and surrounding
// whitespace are ignored.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", apperr.Validation("unknown role %q", s)
	}
	return r, nil
}

// AppointmentStatus is the lifecycle state of an appointment.
type AppointmentStatus string

const (
	AppointmentScheduled      AppointmentStatus = "Scheduled"
	AppointmentInConsultation AppointmentStatus = "In-Consultation"
	AppointmentCompleted      AppointmentStatus = "Completed"
	AppointmentNoShow         AppointmentStatus = "No-Show"
	AppointmentCancelled      AppointmentStatus = "Cancelled"
)

var appointmentStatuses = []AppointmentStatus{
	AppointmentScheduled, AppointmentInConsultation, AppointmentCompleted,
	AppointmentNoShow, AppointmentCancelled,
}

func (s AppointmentStatus) Valid() bool {
	for _, v := range appointmentStatuses {
		if s == v {
			return true
		}
	}
	return false
}

func ParseAppointmentStatus(s string) (AppointmentStatus, error) {
	for _, v := range appointmentStatuses {
		if strings.EqualFold(string(v), strings.TrimSpace(s)) {
			return v, nil
		}
	}
	return "", apperr.Validation("unknown appointment status %q", s)
}

// PrescriptionStatus is the aggregate dispense state of a prescription.
type PrescriptionStatus string

const (
	PrescriptionCreated            PrescriptionStatus = "Created"
	PrescriptionPartiallyDispensed PrescriptionStatus = "Partially Dispensed"
	PrescriptionFullyDispensed     PrescriptionStatus = "Fully Dispensed"
	PrescriptionNotAvailable       PrescriptionStatus = "Not Available"
)

var prescriptionStatuses = []PrescriptionStatus{
	PrescriptionCreated, PrescriptionPartiallyDispensed,
	PrescriptionFullyDispensed, PrescriptionNotAvailable,
}

func (s PrescriptionStatus) Valid() bool {
	for _, v := range prescriptionStatuses {
		if s == v {
			return true
		}
	}
	return false
}

func ParsePrescriptionStatus(s string) (PrescriptionStatus, error) {
	for _, v := range prescriptionStatuses {
		if strings.EqualFold(string(v), strings.TrimSpace(s)) {
			return v, nil
		}
	}
	return "", apperr.Validation("unknown prescription status %q", s)
}

// LineItemStatus is the dispense state of a single prescribed medicine.
type LineItemStatus string

const (
	LineNotGiven       LineItemStatus = "Not Given"
	LineGiven          LineItemStatus = "Given"
	LinePartiallyGiven LineItemStatus = "Partially Given"
	LineSubstituted    LineItemStatus = "Substituted"
)

var lineItemStatuses = []LineItemStatus{LineNotGiven, LineGiven, LinePartiallyGiven, LineSubstituted}

func (s LineItemStatus) Valid() bool {
	for _, v := range lineItemStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Dispensed reports whether pharmacy has recorded any progress on the item.
func (s LineItemStatus) Dispensed() bool { return s != LineNotGiven }

// Complete reports whether the item needs no further pharmacy action.
func (s LineItemStatus) Complete() bool { return s == LineGiven || s == LineSubstituted }

func ParseLineItemStatus(s string) (LineItemStatus, error) {
	for _, v := range lineItemStatuses {
		if strings.EqualFold(string(v), strings.TrimSpace(s)) {
			return v, nil
		}
	}
	return "", apperr.Validation("unknown line item status %q", s)
}
