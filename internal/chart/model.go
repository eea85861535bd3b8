package chart

import "github.com/MarcoPoloResearchLab/ehrflow/backend/internal/flowsheet"

// Patient is one chart of the mock database.
type Patient struct {
	ID         string               `json:"id"`
	MRN        string               `json:"mrn"`
	FirstName  string               `json:"firstName"`
	LastName   string               `json:"lastName"`
	BirthDate  string               `json:"birthDate"`
	Sex        string               `json:"sex"`
	Phone      string               `json:"phone,omitempty"`
	Address    string               `json:"address,omitempty"`
	Allergies  []string             `json:"allergies,omitempty"`
	Encounters map[string]Encounter `json:"encounters"`
}

// Encounter is one visit of a patient. Flowsheets holds the persisted observation records of
// every flowsheet template used during the visit.
type Encounter struct {
	ID           string                      `json:"id"`
	Date         string                      `json:"date"`
	Type         string                      `json:"type"`
	Status       string                      `json:"status"`
	DepartmentID string                      `json:"departmentId"`
	ProviderID   string                      `json:"providerId"`
	Reason       string                      `json:"reason,omitempty"`
	Flowsheets   []flowsheet.Record          `json:"flowsheets"`
	History      map[string][]map[string]any `json:"history,omitempty"`
	Notes        []map[string]any            `json:"notes,omitempty"`
	Orders       []map[string]any            `json:"orders,omitempty"`
}

// Schedule is one booked appointment.
type Schedule struct {
	ID              string `json:"id"`
	PatientID       string `json:"patientId"`
	ProviderID      string `json:"providerId"`
	DepartmentID    string `json:"departmentId"`
	Start           string `json:"start"`
	DurationMinutes int    `json:"durationMinutes"`
	Status          string `json:"status"`
	Reason          string `json:"reason,omitempty"`
}

// Department is a care unit.
type Department struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	LocationID string `json:"locationId"`
	Specialty  string `json:"specialty,omitempty"`
}

// Location is a physical site.
type Location struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// Provider is a clinician.
type Provider struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	DepartmentID string `json:"departmentId,omitempty"`
}

// PatientList is a named, ordered set of patients.
type PatientList struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	PatientIDs []string `json:"patientIds"`
}
