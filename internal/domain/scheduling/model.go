package scheduling

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/medilink/medilink/internal/domain/calendar"
)

// DefaultDurationMinutes applies when a booking omits durationMinutes.
const DefaultDurationMinutes = 30

// Status is the appointment lifecycle state.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no-show"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s.Valid() && s != StatusScheduled
}

// CanTransition reports whether an appointment may move from one status to
// another. Only scheduled appointments change state, and only into one of
// the terminal states.
func CanTransition(from, to Status) bool {
	return from == StatusScheduled && to.Terminal()
}

// AppointmentType is how the visit takes place.
type AppointmentType string

const (
	TypeInPerson AppointmentType = "in-person"
	TypeVirtual  AppointmentType = "virtual"
)

func (t AppointmentType) Valid() bool {
	return t == TypeInPerson || t == TypeVirtual
}

// Appointment maps to the appointment table. Appointments are never
// deleted; cancelling one frees its slot.
type Appointment struct {
	ID              uuid.UUID          `json:"id"`
	PatientID       string             `json:"patientId"`
	ProviderID      string             `json:"providerId"`
	CalendarID      uuid.UUID          `json:"calendarId"`
	Date            civil.Date         `json:"date"`
	Time            calendar.ClockTime `json:"time"`
	DurationMinutes int                `json:"durationMinutes"`
	Reason          string             `json:"reason"`
	Type            AppointmentType    `json:"type"`
	Status          Status             `json:"status"`
	Notes           *string            `json:"notes,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

// Slot is a derived, never stored, bookable start time.
type Slot struct {
	Date      civil.Date         `json:"date"`
	Time      calendar.ClockTime `json:"time"`
	Duration  int                `json:"duration"`
	Available bool               `json:"available"`
}

// BookingRequest is the POST /appointments body. Reason is checked by the
// booking service after slot availability, so it carries no tag here.
type BookingRequest struct {
	PatientID       string              `json:"patientId" validate:"required,max=255"`
	ProviderID      string              `json:"providerId" validate:"required,max=255"`
	Date            civil.Date          `json:"date" validate:"required"`
	Time            *calendar.ClockTime `json:"time" validate:"required"`
	DurationMinutes *int                `json:"durationMinutes" validate:"omitempty,min=1,max=1440"`
	Reason          string              `json:"reason"`
	Type            AppointmentType     `json:"type" validate:"omitempty,oneof=in-person virtual"`
	Notes           *string             `json:"notes"`
}

// StatusRequest is the PATCH /appointments/:id/status body.
type StatusRequest struct {
	Status Status  `json:"status" validate:"required,oneof=scheduled completed cancelled no-show"`
	Notes  *string `json:"notes"`
}

// CancelRequest is the optional POST /appointments/:id/cancel body.
type CancelRequest struct {
	Notes *string `json:"notes"`
}

func weekdayOf(d civil.Date) calendar.Weekday {
	return calendar.Weekday(d.In(time.UTC).Weekday())
}
