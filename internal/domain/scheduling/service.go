package scheduling

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medilink/medilink/internal/domain/calendar"
	"github.com/medilink/medilink/internal/platform/apperr"
	"github.com/medilink/medilink/internal/platform/metrics"
	"github.com/medilink/medilink/internal/platform/retry"
)

// CalendarResolver maps a provider to its calendar, creating it on first use.
type CalendarResolver interface {
	GetOrCreate(ctx context.Context, providerID string) (*calendar.Calendar, error)
}

// DateInvalidator drops cached slot sets for one calendar date.
type DateInvalidator interface {
	InvalidateDate(ctx context.Context, calendarID string, date civil.Date) error
}

// BookingService books appointments and drives their status machine.
type BookingService struct {
	calendars CalendarResolver
	slots     *Generator
	appts     AppointmentRepository
	cache     DateInvalidator
	retry     retry.Policy
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewBookingService wires the service. slots must be the uncached generator
// so the availability check always reads the store.
func NewBookingService(calendars CalendarResolver, slots *Generator, appts AppointmentRepository, cache DateInvalidator, rp retry.Policy, m *metrics.Metrics, logger zerolog.Logger) *BookingService {
	return &BookingService{
		calendars: calendars,
		slots:     slots,
		appts:     appts,
		cache:     cache,
		retry:     rp,
		metrics:   m,
		logger:    logger.With().Str("component", "booking").Logger(),
	}
}

// Book resolves the provider's calendar, checks that the requested time is
// an open slot, validates the reason and persists the appointment. The
// store's uniqueness constraint settles races the slot check cannot see.
func (s *BookingService) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	a, err := s.newAppointment(req)
	if err != nil {
		s.metrics.Booking("invalid")
		return nil, err
	}

	cal, err := s.calendars.GetOrCreate(ctx, a.ProviderID)
	if err != nil {
		return nil, err
	}
	a.CalendarID = cal.ID

	slots, err := s.slots.Generate(ctx, cal.ID, a.Date, a.DurationMinutes)
	if err != nil {
		return nil, err
	}
	if !slotOpen(slots, a.Time) {
		s.metrics.Booking("slot_unavailable")
		return nil, apperr.SlotUnavailable("%s on %s is not an available slot", a.Time, a.Date)
	}

	a.Reason = strings.TrimSpace(req.Reason)
	if a.Reason == "" {
		s.metrics.Booking("invalid")
		return nil, apperr.Validation("reason is required")
	}

	if err := s.appts.Create(ctx, a); err != nil {
		if errors.Is(err, apperr.ErrSlotUnavailable) {
			s.metrics.Booking("conflict")
			s.logger.Info().
				Str("calendar_id", cal.ID.String()).
				Stringer("date", a.Date).
				Stringer("time", a.Time).
				Msg("booking lost slot race")
		}
		return nil, err
	}

	s.invalidate(ctx, a.CalendarID, a.Date)
	s.metrics.Booking("booked")
	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("calendar_id", a.CalendarID.String()).
		Stringer("date", a.Date).
		Stringer("time", a.Time).
		Msg("appointment booked")
	return a, nil
}

func (s *BookingService) newAppointment(req BookingRequest) (*Appointment, error) {
	a := &Appointment{
		PatientID:       strings.TrimSpace(req.PatientID),
		ProviderID:      strings.TrimSpace(req.ProviderID),
		Date:            req.Date,
		DurationMinutes: DefaultDurationMinutes,
		Type:            TypeInPerson,
		Status:          StatusScheduled,
		Notes:           req.Notes,
	}
	if a.PatientID == "" {
		return nil, apperr.Validation("patientId is required")
	}
	if a.ProviderID == "" {
		return nil, apperr.Validation("providerId is required")
	}
	if !a.Date.IsValid() {
		return nil, apperr.Validation("date is required")
	}
	if req.Time == nil {
		return nil, apperr.Validation("time is required")
	}
	a.Time = *req.Time
	if !a.Time.Valid() || a.Time == calendar.EndOfDay {
		return nil, apperr.Validation("invalid time %s", a.Time)
	}
	if req.DurationMinutes != nil {
		a.DurationMinutes = *req.DurationMinutes
	}
	if err := validateDuration(a.DurationMinutes); err != nil {
		return nil, err
	}
	if req.Type != "" {
		a.Type = req.Type
	}
	if !a.Type.Valid() {
		return nil, apperr.Validation("type must be %q or %q", TypeInPerson, TypeVirtual)
	}
	return a, nil
}

func slotOpen(slots []Slot, t calendar.ClockTime) bool {
	for _, sl := range slots {
		if sl.Time == t {
			return sl.Available
		}
	}
	return false
}

// Transition moves a scheduled appointment into a terminal status.
func (s *BookingService) Transition(ctx context.Context, id uuid.UUID, to Status, notes *string) (*Appointment, error) {
	if !to.Valid() {
		return nil, apperr.Validation("unknown status %q", to)
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(current.Status, to) {
		return nil, apperr.InvalidTransition(string(current.Status), string(to))
	}

	updated, err := s.appts.UpdateStatus(ctx, id, to, notes)
	if err != nil {
		return nil, err
	}
	if to == StatusCancelled {
		s.invalidate(ctx, updated.CalendarID, updated.Date)
	}
	s.metrics.Transition(string(to))
	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("from", string(current.Status)).
		Str("to", string(to)).
		Msg("appointment status changed")
	return updated, nil
}

// Cancel frees the appointment's slot for the next generation.
func (s *BookingService) Cancel(ctx context.Context, id uuid.UUID, notes *string) (*Appointment, error) {
	return s.Transition(ctx, id, StatusCancelled, notes)
}

func (s *BookingService) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return retry.Value(ctx, s.retry, s.logger, "appointment.get", func(ctx context.Context) (*Appointment, error) {
		return s.appts.GetByID(ctx, id)
	})
}

type pageResult struct {
	items []*Appointment
	total int
}

func (s *BookingService) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Appointment, int, error) {
	p, err := retry.Value(ctx, s.retry, s.logger, "appointment.list_by_patient", func(ctx context.Context) (pageResult, error) {
		items, total, err := s.appts.ListByPatient(ctx, patientID, limit, offset)
		return pageResult{items, total}, err
	})
	return p.items, p.total, err
}

func (s *BookingService) ListByProvider(ctx context.Context, providerID string, limit, offset int) ([]*Appointment, int, error) {
	p, err := retry.Value(ctx, s.retry, s.logger, "appointment.list_by_provider", func(ctx context.Context) (pageResult, error) {
		items, total, err := s.appts.ListByProvider(ctx, providerID, limit, offset)
		return pageResult{items, total}, err
	})
	return p.items, p.total, err
}

func (s *BookingService) invalidate(ctx context.Context, calendarID uuid.UUID, date civil.Date) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateDate(ctx, calendarID.String(), date); err != nil {
		s.logger.Warn().Err(err).
			Str("calendar_id", calendarID.String()).
			Stringer("date", date).
			Msg("slot cache invalidation failed")
	}
}
