package scheduling

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/medilink/medilink/internal/platform/apperr"
	"github.com/medilink/medilink/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type appointmentRepoPG struct {
	q       queryable
	timeout time.Duration
}

// NewAppointmentRepoPG returns an AppointmentRepository on q. Every call is
// bounded by timeout.
func NewAppointmentRepoPG(q queryable, timeout time.Duration) AppointmentRepository {
	return &appointmentRepoPG{q: q, timeout: timeout}
}

const apptCols = `id, patient_id, provider_id, calendar_id, appt_date, appt_time,
	duration_minutes, reason, type, status, notes, created_at, updated_at`

func pgDate(d civil.Date) pgtype.Date {
	return pgtype.Date{Time: d.In(time.UTC), Valid: true}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date pgtype.Date
	err := row.Scan(&a.ID, &a.PatientID, &a.ProviderID, &a.CalendarID, &date, &a.Time,
		&a.DurationMinutes, &a.Reason, &a.Type, &a.Status, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Date = civil.DateOf(date.Time)
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	a.ID = uuid.New()
	err := r.q.QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, provider_id, calendar_id, appt_date, appt_time,
			duration_minutes, reason, type, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.ProviderID, a.CalendarID, pgDate(a.Date), a.Time,
		a.DurationMinutes, a.Reason, a.Type, a.Status, a.Notes).Scan(&a.CreatedAt, &a.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return &apperr.Error{
			Kind: apperr.KindSlotUnavailable,
			Op:   "appointment.create",
			Msg:  "the selected slot was just booked by someone else",
			Err:  err,
		}
	}
	return db.Classify("appointment.create", "calendar", err)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	a, err := scanAppointment(r.q.QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if err != nil {
		return nil, db.Classify("appointment.get", "appointment", err)
	}
	return a, nil
}

func (r *appointmentRepoPG) ListBooked(ctx context.Context, calendarID uuid.UUID, date civil.Date) ([]*Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.q.Query(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE calendar_id = $1 AND appt_date = $2 AND status <> 'cancelled'
		ORDER BY appt_time`, calendarID, pgDate(date))
	if err != nil {
		return nil, db.Classify("appointment.list_booked", "appointment", err)
	}
	items, err := collect(rows)
	if err != nil {
		return nil, db.Classify("appointment.list_booked", "appointment", err)
	}
	return items, nil
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Appointment, int, error) {
	return r.listBy(ctx, "appointment.list_by_patient", "patient_id", patientID, limit, offset)
}

func (r *appointmentRepoPG) ListByProvider(ctx context.Context, providerID string, limit, offset int) ([]*Appointment, int, error) {
	return r.listBy(ctx, "appointment.list_by_provider", "provider_id", providerID, limit, offset)
}

// listBy pages appointments filtered on column, which is always one of the
// fixed identifiers above.
func (r *appointmentRepoPG) listBy(ctx context.Context, op, column, value string, limit, offset int) ([]*Appointment, int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM appointment WHERE `+column+` = $1`, value).Scan(&total); err != nil {
		return nil, 0, db.Classify(op, "appointment", err)
	}
	rows, err := r.q.Query(ctx, `SELECT `+apptCols+` FROM appointment WHERE `+column+` = $1
		ORDER BY appt_date, appt_time, created_at LIMIT $2 OFFSET $3`, value, limit, offset)
	if err != nil {
		return nil, 0, db.Classify(op, "appointment", err)
	}
	items, err := collect(rows)
	if err != nil {
		return nil, 0, db.Classify(op, "appointment", err)
	}
	return items, total, nil
}

func collect(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	items := []*Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, notes *string) (*Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	a, err := scanAppointment(r.q.QueryRow(ctx, `
		UPDATE appointment SET status = $2, notes = COALESCE($3, notes), updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled'
		RETURNING `+apptCols, id, status, notes))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, db.Classify("appointment.update_status", "appointment", err)
	}

	// Either the row does not exist or another request changed it first.
	var current Status
	err = r.q.QueryRow(ctx, `SELECT status FROM appointment WHERE id = $1`, id).Scan(&current)
	if err != nil {
		return nil, db.Classify("appointment.update_status", "appointment", err)
	}
	return nil, apperr.InvalidTransition(string(current), string(status))
}
