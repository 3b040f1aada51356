// Package audit persists a trail of clinically significant transitions.
// Entries are written inside the transaction of the change they describe.
package audit

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/hospital/internal/domain/model"
)

// Actions recorded by the workflow services.
const (
	ActionAppointmentCancelled = "APPOINTMENT_CANCELLED"
	ActionAppointmentNoShow    = "APPOINTMENT_NO_SHOW"
	ActionPrescriptionDispense = "PRESCRIPTION_DISPENSED"
	ActionPrescriptionNA       = "PRESCRIPTION_NOT_AVAILABLE"
	ActionHospitalDeleted      = "HOSPITAL_DELETED"
	ActionPatientDeleted       = "PATIENT_DELETED"
	ActionPasswordReset        = "USER_PASSWORD_RESET"
)

// Entity names used in entries.
const (
	EntityAppointment  = "appointment"
	EntityPrescription = "prescription"
	EntityHospital     = "hospital"
	EntityPatient      = "patient"
	EntityUser         = "user"
)

// Recorder accepts audit entries.
type Recorder interface {
	Record(ctx context.Context, entry *model.AuditLog) error
}

// Repository is a Recorder that can also list what it stored.
type Repository interface {
	Recorder
	List(ctx context.Context, hospitalID *uuid.UUID, limit, offset int) ([]*model.AuditLog, int, error)
}

// Entry builds an AuditLog for actor acting within hospitalID.
func Entry(actor uuid.UUID, hospitalID *uuid.UUID, action, entity string, entityID uuid.UUID, details map[string]interface{}) *model.AuditLog {
	a := actor
	return &model.AuditLog{
		UserID:     &a,
		HospitalID: hospitalID,
		Action:     action,
		Entity:     entity,
		EntityID:   entityID,
		Details:    details,
	}
}
