package models

import (
	"bytes"
	"encoding/json"

	"irepair-admin/internal/docstore"
)

// Global booking statuses, in pipeline order
const (
	StatusScheduled = "Scheduled"
	StatusAccepted  = "Accepted"
	StatusRepairing = "Repairing"
	StatusTesting   = "Testing"
	StatusCompleted = "Completed"
	StatusRejected  = "Rejected"
	StatusCancelled = "Cancelled"
)

// GlobalStatuses lists every valid status.global value
var GlobalStatuses = []string{
	StatusScheduled,
	StatusAccepted,
	StatusRepairing,
	StatusTesting,
	StatusCompleted,
	StatusRejected,
	StatusCancelled,
}

// BookingStatus is the global status plus what each party sees
type BookingStatus struct {
	Global         string `json:"global"`
	UserView       string `json:"userView,omitempty"`
	TechnicianView string `json:"technicianView,omitempty"`
}

// UnmarshalJSON also accepts a bare string, taken as the global status.
// Any other shape leaves the status empty.
func (s *BookingStatus) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		_ = json.Unmarshal(data, &s.Global)
		return nil
	}
	type plain struct {
		Global         Text `json:"global"`
		UserView       Text `json:"userView,omitempty"`
		TechnicianView Text `json:"technicianView,omitempty"`
	}
	var p plain
	if len(data) > 0 && data[0] == '{' {
		_ = json.Unmarshal(data, &p)
	}
	*s = BookingStatus{Global: string(p.Global), UserView: string(p.UserView), TechnicianView: string(p.TechnicianView)}
	return nil
}

// DiagnosisSnapshot is a diagnosis embedded in its booking
type DiagnosisSnapshot struct {
	Category      string `json:"category"`
	Brand         string `json:"brand"`
	Model         string `json:"model"`
	Issue         string `json:"issue"`
	EstimatedCost Text   `json:"estimatedCost"`
}

// PersonSnapshot is a user or technician embedded for display
type PersonSnapshot struct {
	FullName  string `json:"fullName,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     Text   `json:"email,omitempty"`
	Phone     Text   `json:"phone,omitempty"`
}

// Booking is an appointment or a repair; both collections share the shape
type Booking struct {
	ID               string             `json:"id"`
	UserID           Text               `json:"userId"`
	TechnicianID     Text               `json:"technicianId"`
	Status           BookingStatus      `json:"status"`
	ScheduledDate    string             `json:"scheduledDate,omitempty"`
	ScheduledTime    string             `json:"scheduledTime,omitempty"`
	ServiceType      string             `json:"serviceType,omitempty"`
	DeviceType       string             `json:"deviceType,omitempty"`
	Issue            string             `json:"issue,omitempty"`
	DiagnosisID      Text               `json:"diagnosisId,omitempty"`
	DiagnosisData    *DiagnosisSnapshot `json:"diagnosisData,omitempty"`
	User             *PersonSnapshot    `json:"user,omitempty"`
	Technician       *PersonSnapshot    `json:"technician,omitempty"`
	ArrivedAt        *Time              `json:"arrivedAt,omitempty"`
	RepairStartedAt  *Time              `json:"repairStartedAt,omitempty"`
	TestingStartedAt *Time              `json:"testingStartedAt,omitempty"`
	CompletedAt      *Time              `json:"completedAt,omitempty"`
	CreatedAt        *Time              `json:"createdAt,omitempty"`
	SoftDelete
	Decoding
}

func (b *Booking) RecordID() string    { return b.ID }
func (b *Booking) StatusValue() string { return b.Status.Global }

// NeedsDiagnosis reports a diagnosis referenced by id but not embedded
func (b *Booking) NeedsDiagnosis() bool {
	return b.DiagnosisID != "" && b.DiagnosisData == nil
}

// Progress returns the stage timestamps that are set, in pipeline order
func (b *Booking) Progress() []Stage {
	stages := []Stage{
		{Name: "arrived", At: b.ArrivedAt},
		{Name: "repairStarted", At: b.RepairStartedAt},
		{Name: "testingStarted", At: b.TestingStartedAt},
		{Name: "completed", At: b.CompletedAt},
	}
	out := stages[:0]
	for _, s := range stages {
		if s.At != nil && !s.At.IsZero() {
			out = append(out, s)
		}
	}
	return out
}

// Stage is one reached step of a repair
type Stage struct {
	Name string `json:"name"`
	At   *Time  `json:"at"`
}

// DecodeBooking maps an appointments or repairs document
func DecodeBooking(doc docstore.Document) (Record, error) {
	var b Booking
	issues, err := decodeInto(doc, &b)
	if err != nil {
		return nil, err
	}
	b.ID = doc.ID
	if !ValidGlobalStatus(b.Status.Global) {
		issues = append(issues, "status.global")
	}
	b.Issues = issues
	return &b, nil
}

// ValidGlobalStatus reports whether s is a known status.global value
func ValidGlobalStatus(s string) bool {
	for _, v := range GlobalStatuses {
		if v == s {
			return true
		}
	}
	return false
}
