package scheduling

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

type AppointmentRepository interface {
	// Create inserts a scheduled appointment. A live appointment already
	// holding (calendar, date, time) yields a slot-unavailable error.
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// ListBooked returns the non-cancelled appointments on one date.
	ListBooked(ctx context.Context, calendarID uuid.UUID, date civil.Date) ([]*Appointment, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Appointment, int, error)
	ListByProvider(ctx context.Context, providerID string, limit, offset int) ([]*Appointment, int, error)
	// UpdateStatus moves a scheduled appointment to status. It fails with an
	// invalid-transition error when the stored row is no longer scheduled.
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, notes *string) (*Appointment, error)
}
