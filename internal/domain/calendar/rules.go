package calendar

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medilink/medilink/internal/platform/apperr"
	"github.com/medilink/medilink/internal/platform/retry"
)

// SlotInvalidator drops cached slot sets for a calendar.
type SlotInvalidator interface {
	InvalidateCalendar(ctx context.Context, calendarID string) error
}

// RuleStore validates and persists availability rules. Every mutation
// invalidates the calendar's cached slots.
type RuleStore struct {
	calendars CalendarRepository
	rules     RuleRepository
	inval     SlotInvalidator
	retry     retry.Policy
	logger    zerolog.Logger
}

func NewRuleStore(calendars CalendarRepository, rules RuleRepository, inval SlotInvalidator, rp retry.Policy, logger zerolog.Logger) *RuleStore {
	return &RuleStore{
		calendars: calendars,
		rules:     rules,
		inval:     inval,
		retry:     rp,
		logger:    logger.With().Str("component", "rule_store").Logger(),
	}
}

func (s *RuleStore) CreateRule(ctx context.Context, calendarID uuid.UUID, in RuleInput) (*AvailabilityRule, error) {
	if in.DayOfWeek == nil || in.StartTime == nil || in.EndTime == nil {
		return nil, apperr.Validation("dayOfWeek, startTime and endTime are required")
	}
	ar := &AvailabilityRule{
		CalendarID:  calendarID,
		DayOfWeek:   *in.DayOfWeek,
		StartTime:   *in.StartTime,
		EndTime:     *in.EndTime,
		IsAvailable: true,
		Title:       in.Title,
		Description: in.Description,
	}
	if in.IsAvailable != nil {
		ar.IsAvailable = *in.IsAvailable
	}
	if err := ar.Validate(); err != nil {
		return nil, err
	}
	if err := s.rules.Create(ctx, ar); err != nil {
		return nil, err
	}
	s.invalidate(ctx, calendarID)
	return ar, nil
}

// GetCalendar returns the calendar or a not-found error.
func (s *RuleStore) GetCalendar(ctx context.Context, calendarID uuid.UUID) (*Calendar, error) {
	return retry.Value(ctx, s.retry, s.logger, "calendar.get", func(ctx context.Context) (*Calendar, error) {
		return s.calendars.GetByID(ctx, calendarID)
	})
}

// ListRules returns the calendar's rules ordered by dayOfWeek then
// startTime. An unknown calendar is a not-found error, not an empty list.
func (s *RuleStore) ListRules(ctx context.Context, calendarID uuid.UUID) ([]*AvailabilityRule, error) {
	if _, err := s.GetCalendar(ctx, calendarID); err != nil {
		return nil, err
	}
	return retry.Value(ctx, s.retry, s.logger, "rule.list", func(ctx context.Context) ([]*AvailabilityRule, error) {
		return s.rules.ListByCalendar(ctx, calendarID)
	})
}

// RulesForDay returns the calendar's rules for one weekday, active or not.
func (s *RuleStore) RulesForDay(ctx context.Context, calendarID uuid.UUID, day Weekday) ([]*AvailabilityRule, error) {
	return retry.Value(ctx, s.retry, s.logger, "rule.list_day", func(ctx context.Context) ([]*AvailabilityRule, error) {
		return s.rules.ListByCalendarDay(ctx, calendarID, day)
	})
}

func (s *RuleStore) GetRule(ctx context.Context, ruleID uuid.UUID) (*AvailabilityRule, error) {
	return retry.Value(ctx, s.retry, s.logger, "rule.get", func(ctx context.Context) (*AvailabilityRule, error) {
		return s.rules.GetByID(ctx, ruleID)
	})
}

// UpdateRule merges patch into the stored rule and re-checks the time
// ordering on the merged result.
func (s *RuleStore) UpdateRule(ctx context.Context, ruleID uuid.UUID, patch RulePatch) (*AvailabilityRule, error) {
	current, err := s.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	merged := patch.Apply(*current)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	if err := s.rules.Update(ctx, &merged); err != nil {
		return nil, err
	}
	s.invalidate(ctx, merged.CalendarID)
	return &merged, nil
}

// DeleteRule removes a rule. Appointments booked against slots it produced
// are left as they are.
func (s *RuleStore) DeleteRule(ctx context.Context, ruleID uuid.UUID) error {
	current, err := s.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}
	if err := s.rules.Delete(ctx, ruleID); err != nil {
		return err
	}
	s.invalidate(ctx, current.CalendarID)
	return nil
}

func (s *RuleStore) invalidate(ctx context.Context, calendarID uuid.UUID) {
	if s.inval == nil {
		return
	}
	if err := s.inval.InvalidateCalendar(ctx, calendarID.String()); err != nil {
		s.logger.Warn().Err(err).Str("calendar_id", calendarID.String()).Msg("slot cache invalidation failed")
	}
}
