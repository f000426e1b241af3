package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/medilink/medilink/internal/domain/calendar"
	"github.com/medilink/medilink/internal/platform/apperr"
)

type slotKey struct {
	calendarID uuid.UUID
	date       civil.Date
	time       calendar.ClockTime
}

// MemAppointments keeps appointments in memory and enforces the same
// one-live-appointment-per-slot rule as the partial unique index in
// PostgreSQL.
type MemAppointments struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*Appointment
	live  map[slotKey]uuid.UUID
	clock func() time.Time
}

func NewMemAppointments() *MemAppointments {
	return &MemAppointments{
		byID:  make(map[uuid.UUID]*Appointment),
		live:  make(map[slotKey]uuid.UUID),
		clock: func() time.Time { return time.Now().UTC() },
	}
}

func keyOf(a *Appointment) slotKey {
	return slotKey{calendarID: a.CalendarID, date: a.Date, time: a.Time}
}

func (m *MemAppointments) Create(ctx context.Context, a *Appointment) error {
	if err := ctx.Err(); err != nil {
		return apperr.Wrap(apperr.KindTimeout, "appointment.create", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := keyOf(a)
	if a.Status != StatusCancelled {
		if _, taken := m.live[k]; taken {
			return &apperr.Error{
				Kind: apperr.KindSlotUnavailable,
				Op:   "appointment.create",
				Msg:  "the selected slot was just booked by someone else",
			}
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = m.clock()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.byID[a.ID] = &cp
	if a.Status != StatusCancelled {
		m.live[k] = a.ID
	}
	return nil
}

func (m *MemAppointments) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindTimeout, "appointment.get", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.byID[id]
	if !ok {
		return nil, apperr.NotFound("appointment")
	}
	cp := *a
	return &cp, nil
}

func (m *MemAppointments) ListBooked(ctx context.Context, calendarID uuid.UUID, date civil.Date) ([]*Appointment, error) {
	return m.filter(ctx, "appointment.list_booked", func(a *Appointment) bool {
		return a.CalendarID == calendarID && a.Date == date && a.Status != StatusCancelled
	})
}

func (m *MemAppointments) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Appointment, int, error) {
	items, err := m.filter(ctx, "appointment.list_by_patient", func(a *Appointment) bool {
		return a.PatientID == patientID
	})
	if err != nil {
		return nil, 0, err
	}
	return page(items, limit, offset), len(items), nil
}

func (m *MemAppointments) ListByProvider(ctx context.Context, providerID string, limit, offset int) ([]*Appointment, int, error) {
	items, err := m.filter(ctx, "appointment.list_by_provider", func(a *Appointment) bool {
		return a.ProviderID == providerID
	})
	if err != nil {
		return nil, 0, err
	}
	return page(items, limit, offset), len(items), nil
}

func (m *MemAppointments) filter(ctx context.Context, op string, keep func(*Appointment) bool) ([]*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindTimeout, op, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := []*Appointment{}
	for _, a := range m.byID {
		if keep(a) {
			cp := *a
			items = append(items, &cp)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Date != b.Date {
			return a.Date.Before(b.Date)
		}
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return items, nil
}

func page(items []*Appointment, limit, offset int) []*Appointment {
	if offset >= len(items) {
		return []*Appointment{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func (m *MemAppointments) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, notes *string) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindTimeout, "appointment.update_status", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byID[id]
	if !ok {
		return nil, apperr.NotFound("appointment")
	}
	if a.Status != StatusScheduled {
		return nil, apperr.InvalidTransition(string(a.Status), string(status))
	}
	a.Status = status
	if notes != nil {
		n := *notes
		a.Notes = &n
	}
	a.UpdatedAt = m.clock()
	if status == StatusCancelled {
		delete(m.live, keyOf(a))
	}
	cp := *a
	return &cp, nil
}
