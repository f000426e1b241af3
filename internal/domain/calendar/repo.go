package calendar

import (
	"context"

	"github.com/google/uuid"
)

// CalendarRepository persists calendars. Implementations report a missing
// calendar as apperr.ErrNotFound and a second calendar for the same
// provider as apperr.ErrConflict.
type CalendarRepository interface {
	Create(ctx context.Context, c *Calendar) error
	GetByID(ctx context.Context, id uuid.UUID) (*Calendar, error)
	GetByProvider(ctx context.Context, providerID string) (*Calendar, error)
}

// RuleRepository persists availability rules. List methods order by
// dayOfWeek, then startTime.
type RuleRepository interface {
	Create(ctx context.Context, r *AvailabilityRule) error
	GetByID(ctx context.Context, id uuid.UUID) (*AvailabilityRule, error)
	ListByCalendar(ctx context.Context, calendarID uuid.UUID) ([]*AvailabilityRule, error)
	ListByCalendarDay(ctx context.Context, calendarID uuid.UUID, day Weekday) ([]*AvailabilityRule, error)
	Update(ctx context.Context, r *AvailabilityRule) error
	Delete(ctx context.Context, id uuid.UUID) error
}
