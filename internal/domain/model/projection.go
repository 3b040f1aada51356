package model

import "github.com/google/uuid"

// PatientSummary is the patient as embedded in appointment and pharmacy views.
type PatientSummary struct {
	ID          uuid.UUID `json:"id"`
	FullName    string    `json:"full_name"`
	PhoneNumber string    `json:"phone_number"`
	Sex         *string   `json:"sex,omitempty"`
	HospitalID  uuid.UUID `json:"-"`
}

// StaffSummary is a staff member as embedded in other views.
type StaffSummary struct {
	ID         uuid.UUID  `json:"id"`
	FullName   string     `json:"full_name"`
	Role       Role       `json:"role"`
	Speciality *string    `json:"speciality,omitempty"`
	HospitalID *uuid.UUID `json:"-"`
}
