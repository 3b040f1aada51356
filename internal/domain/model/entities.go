package model

import (
	"time"

	"github.com/google/uuid"
)

type Hospital struct {
	ID           uuid.UUID              `db:"id" json:"id"`
	Name         string                 `db:"name" json:"name"`
	Address      *string                `db:"address" json:"address,omitempty"`
	ContactEmail *string                `db:"contact_email" json:"contact_email,omitempty"`
	ContactPhone *string                `db:"contact_phone" json:"contact_phone,omitempty"`
	Settings     map[string]interface{} `db:"settings" json:"settings"`
	CreatedAt    time.Time              `db:"created_at" json:"created_at"`
}

// User is a staff identity. HospitalID is nil only for RoleSuperAdmin.
type User struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	FullName       string     `db:"full_name" json:"full_name"`
	Email          string     `db:"email" json:"email"`
	HashedPassword string     `db:"hashed_password" json:"-"`
	Role           Role       `db:"role" json:"role"`
	HospitalID     *uuid.UUID `db:"hospital_id" json:"hospital_id,omitempty"`
	IsActive       bool       `db:"is_active" json:"is_active"`
	Speciality     *string    `db:"speciality" json:"speciality,omitempty"`
	LastLogin      *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

type Patient struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	FullName    string     `db:"full_name" json:"full_name"`
	PhoneNumber string     `db:"phone_number" json:"phone_number"`
	DateOfBirth *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Sex         *string    `db:"sex" json:"sex,omitempty"`
	HospitalID  uuid.UUID  `db:"hospital_id" json:"hospital_id"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

type Appointment struct {
	ID              uuid.UUID         `db:"id" json:"id"`
	PatientID       uuid.UUID         `db:"patient_id" json:"patient_id"`
	DoctorID        uuid.UUID         `db:"doctor_id" json:"doctor_id"`
	CreatedByID     *uuid.UUID        `db:"created_by_id" json:"created_by_id,omitempty"`
	AppointmentTime time.Time         `db:"appointment_time" json:"appointment_time"`
	Status          AppointmentStatus `db:"status" json:"status"`
	VisitPurpose    *string           `db:"visit_purpose" json:"visit_purpose,omitempty"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
}

// Visit holds the shareable SOAP summary of a consultation.
type Visit struct {
	ID               uuid.UUID `db:"id" json:"id"`
	AppointmentID    uuid.UUID `db:"appointment_id" json:"appointment_id"`
	DiagnosisSummary *string   `db:"diagnosis_summary" json:"diagnosis_summary,omitempty"`
	Subjective       *string   `db:"subjective" json:"subjective,omitempty"`
	Objective        *string   `db:"objective" json:"objective,omitempty"`
	Assessment       *string   `db:"assessment" json:"assessment,omitempty"`
	Plan             *string   `db:"plan" json:"plan,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// VisitEdits carries only the fields a caller sent. Nil means untouched.
type VisitEdits struct {
	DiagnosisSummary *string `json:"diagnosis_summary,omitempty"`
	Subjective       *string `json:"subjective,omitempty"`
	Objective        *string `json:"objective,omitempty"`
	Assessment       *string `json:"assessment,omitempty"`
	Plan             *string `json:"plan,omitempty"`
	PrivateNote      *string `json:"private_note,omitempty"`
}

// Apply copies the present fields onto v and reports whether anything changed.
func (e VisitEdits) Apply(v *Visit) bool {
	changed := false
	set := func(dst **string, src *string) {
		if src == nil {
			return
		}
		if *dst == nil || **dst != *src {
			changed = true
		}
		val := *src
		*dst = &val
	}
	set(&v.DiagnosisSummary, e.DiagnosisSummary)
	set(&v.Subjective, e.Subjective)
	set(&v.Objective, e.Objective)
	set(&v.Assessment, e.Assessment)
	set(&v.Plan, e.Plan)
	return changed
}

// ClinicalNote is a doctor's private note on a visit.
type ClinicalNote struct {
	ID             uuid.UUID `db:"id" json:"id"`
	VisitID        uuid.UUID `db:"visit_id" json:"visit_id"`
	AuthorDoctorID uuid.UUID `db:"author_doctor_id" json:"author_doctor_id"`
	Content        string    `db:"content" json:"content"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// CanReadNote reports whether a reader may see a private note.
func CanReadNote(note ClinicalNote, readerID uuid.UUID, readerRole Role) bool {
	if readerRole == RoleMedicalShop {
		return false
	}
	return note.AuthorDoctorID == readerID || readerRole == RoleNurse
}

type Prescription struct {
	ID         uuid.UUID          `db:"id" json:"id"`
	Status     PrescriptionStatus `db:"status" json:"status"`
	VisitID    uuid.UUID          `db:"visit_id" json:"visit_id"`
	PatientID  uuid.UUID          `db:"patient_id" json:"patient_id"`
	DoctorID   uuid.UUID          `db:"doctor_id" json:"doctor_id"`
	HospitalID uuid.UUID          `db:"hospital_id" json:"hospital_id"`
	LineItems  []LineItem         `json:"line_items"`
	CreatedAt  time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time          `db:"updated_at" json:"updated_at"`
}

// Frozen reports whether clinical edits are rejected.
func (p *Prescription) Frozen() bool { return p.Status == PrescriptionFullyDispensed }

// AwaitsPharmacy reports whether the prescription belongs in the pharmacy
// queue. A prescription whose items were all withdrawn waits for the doctor.
func (p *Prescription) AwaitsPharmacy() bool {
	if len(p.LineItems) == 0 {
		return false
	}
	return p.Status == PrescriptionCreated || p.Status == PrescriptionPartiallyDispensed
}

// LineItem is one prescribed medicine. ID is uuid.Nil until persisted.
type LineItem struct {
	ID               uuid.UUID      `db:"id" json:"id"`
	PrescriptionID   uuid.UUID      `db:"prescription_id" json:"prescription_id"`
	Position         int            `db:"position" json:"position"`
	MedicineName     string         `db:"medicine_name" json:"medicine_name"`
	Dose             *string        `db:"dose" json:"dose,omitempty"`
	Frequency        *string        `db:"frequency" json:"frequency,omitempty"`
	DurationDays     *int           `db:"duration_days" json:"duration_days,omitempty"`
	Instructions     *string        `db:"instructions" json:"instructions,omitempty"`
	Status           LineItemStatus `db:"status" json:"status"`
	SubstitutionInfo *string        `db:"substitution_info" json:"substitution_info,omitempty"`
}

// LineItemInput is a line item as submitted by a doctor.
type LineItemInput struct {
	MedicineName string  `json:"medicine_name"`
	Dose         *string `json:"dose,omitempty"`
	Frequency    *string `json:"frequency,omitempty"`
	DurationDays *int    `json:"duration_days,omitempty"`
	Instructions *string `json:"instructions,omitempty"`
}

// PrescriptionEdits is the doctor's prescription payload for a visit.
type PrescriptionEdits struct {
	LineItems []LineItemInput `json:"line_items"`
}

// LineUpdate is one pharmacy-side change to a line item.
type LineUpdate struct {
	ID               uuid.UUID `json:"line_item_id"`
	Status           string    `json:"status"`
	SubstitutionInfo *string   `json:"substitution_info,omitempty"`
}

type AuditLog struct {
	ID         uuid.UUID              `db:"id" json:"id"`
	Timestamp  time.Time              `db:"timestamp" json:"timestamp"`
	UserID     *uuid.UUID             `db:"user_id" json:"user_id,omitempty"`
	HospitalID *uuid.UUID             `db:"hospital_id" json:"hospital_id,omitempty"`
	Action     string                 `db:"action" json:"action"`
	Entity     string                 `db:"entity" json:"entity"`
	EntityID   uuid.UUID              `db:"entity_id" json:"entity_id"`
	Details    map[string]interface{} `db:"details" json:"details,omitempty"`
}
