package calendar

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/medilink/medilink/internal/platform/apperr"
	"github.com/medilink/medilink/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Calendar Repository ===========

type calendarRepoPG struct {
	q       queryable
	timeout time.Duration
}

// NewCalendarRepoPG returns a CalendarRepository on q (usually a
// *pgxpool.Pool). Every call is bounded by timeout.
func NewCalendarRepoPG(q queryable, timeout time.Duration) CalendarRepository {
	return &calendarRepoPG{q: q, timeout: timeout}
}

const calCols = `id, provider_id, name, timezone, created_at`

func scanCalendar(row pgx.Row) (*Calendar, error) {
	var c Calendar
	err := row.Scan(&c.ID, &c.ProviderID, &c.Name, &c.Timezone, &c.CreatedAt)
	return &c, err
}

func (r *calendarRepoPG) Create(ctx context.Context, c *Calendar) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	c.ID = uuid.New()
	err := r.q.QueryRow(ctx, `
		INSERT INTO calendar (id, provider_id, name, timezone)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		c.ID, c.ProviderID, c.Name, c.Timezone).Scan(&c.CreatedAt)
	return db.Classify("calendar.create", "calendar", err)
}

func (r *calendarRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Calendar, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	c, err := scanCalendar(r.q.QueryRow(ctx, `SELECT `+calCols+` FROM calendar WHERE id = $1`, id))
	if err != nil {
		return nil, db.Classify("calendar.get", "calendar", err)
	}
	return c, nil
}

func (r *calendarRepoPG) GetByProvider(ctx context.Context, providerID string) (*Calendar, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	c, err := scanCalendar(r.q.QueryRow(ctx, `SELECT `+calCols+` FROM calendar WHERE provider_id = $1`, providerID))
	if err != nil {
		return nil, db.Classify("calendar.get_by_provider", "calendar", err)
	}
	return c, nil
}

// =========== Rule Repository ===========

type ruleRepoPG struct {
	q       queryable
	timeout time.Duration
}

func NewRuleRepoPG(q queryable, timeout time.Duration) RuleRepository {
	return &ruleRepoPG{q: q, timeout: timeout}
}

const ruleCols = `id, calendar_id, day_of_week, start_time, end_time, is_available,
	title, description, created_at, updated_at`

func scanRule(row pgx.Row) (*AvailabilityRule, error) {
	var ar AvailabilityRule
	var day int16
	err := row.Scan(&ar.ID, &ar.CalendarID, &day, &ar.StartTime, &ar.EndTime, &ar.IsAvailable,
		&ar.Title, &ar.Description, &ar.CreatedAt, &ar.UpdatedAt)
	ar.DayOfWeek = Weekday(day)
	return &ar, err
}

func (r *ruleRepoPG) Create(ctx context.Context, ar *AvailabilityRule) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ar.ID = uuid.New()
	err := r.q.QueryRow(ctx, `
		INSERT INTO availability_rule (id, calendar_id, day_of_week, start_time, end_time,
			is_available, title, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		ar.ID, ar.CalendarID, int16(ar.DayOfWeek), ar.StartTime, ar.EndTime,
		ar.IsAvailable, ar.Title, ar.Description).Scan(&ar.CreatedAt, &ar.UpdatedAt)
	return db.Classify("rule.create", "calendar", err)
}

func (r *ruleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*AvailabilityRule, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ar, err := scanRule(r.q.QueryRow(ctx, `SELECT `+ruleCols+` FROM availability_rule WHERE id = $1`, id))
	if err != nil {
		return nil, db.Classify("rule.get", "availability rule", err)
	}
	return ar, nil
}

func (r *ruleRepoPG) list(ctx context.Context, op, query string, args ...interface{}) ([]*AvailabilityRule, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, db.Classify(op, "availability rule", err)
	}
	defer rows.Close()

	items := []*AvailabilityRule{}
	for rows.Next() {
		ar, err := scanRule(rows)
		if err != nil {
			return nil, db.Classify(op, "availability rule", err)
		}
		items = append(items, ar)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(op, "availability rule", err)
	}
	return items, nil
}

func (r *ruleRepoPG) ListByCalendar(ctx context.Context, calendarID uuid.UUID) ([]*AvailabilityRule, error) {
	return r.list(ctx, "rule.list", `SELECT `+ruleCols+` FROM availability_rule
		WHERE calendar_id = $1 ORDER BY day_of_week, start_time, created_at`, calendarID)
}

func (r *ruleRepoPG) ListByCalendarDay(ctx context.Context, calendarID uuid.UUID, day Weekday) ([]*AvailabilityRule, error) {
	return r.list(ctx, "rule.list_day", `SELECT `+ruleCols+` FROM availability_rule
		WHERE calendar_id = $1 AND day_of_week = $2 ORDER BY start_time, created_at`, calendarID, int16(day))
}

func (r *ruleRepoPG) Update(ctx context.Context, ar *AvailabilityRule) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.q.QueryRow(ctx, `
		UPDATE availability_rule SET day_of_week=$2, start_time=$3, end_time=$4, is_available=$5,
			title=$6, description=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		ar.ID, int16(ar.DayOfWeek), ar.StartTime, ar.EndTime, ar.IsAvailable,
		ar.Title, ar.Description).Scan(&ar.UpdatedAt)
	return db.Classify("rule.update", "availability rule", err)
}

func (r *ruleRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tag, err := r.q.Exec(ctx, `DELETE FROM availability_rule WHERE id = $1`, id)
	if err != nil {
		return db.Classify("rule.delete", "availability rule", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("availability rule")
	}
	return nil
}
