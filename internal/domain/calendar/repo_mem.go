package calendar

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medilink/medilink/internal/platform/apperr"
)

// MemStore keeps calendars and rules in memory with the same uniqueness
// and foreign-key behavior as the PostgreSQL schema. It backs the
// "memory" store driver and the package tests.
type MemStore struct {
	mu         sync.RWMutex
	calendars  map[uuid.UUID]*Calendar
	byProvider map[string]uuid.UUID
	rules      map[uuid.UUID]*AvailabilityRule
}

func NewMemStore() *MemStore {
	return &MemStore{
		calendars:  make(map[uuid.UUID]*Calendar),
		byProvider: make(map[string]uuid.UUID),
		rules:      make(map[uuid.UUID]*AvailabilityRule),
	}
}

func (s *MemStore) Calendars() CalendarRepository { return memCalendarRepo{s} }
func (s *MemStore) Rules() RuleRepository { return memRuleRepo{s} }

type memCalendarRepo struct{ s *MemStore }

func (r memCalendarRepo) Create(ctx context.Context, c *Calendar) error {
	if err := ctx.Err(); err != nil {
		return apperr.Wrap(apperr.KindTimeout, "calendar.create", err)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, dup := r.s.byProvider[c.ProviderID]; dup {
		return &apperr.Error{Kind: apperr.KindConflict, Op: "calendar.create", Msg: "calendar already exists"}
	}
	c.ID = uuid.New()
	c.CreatedAt = time.Now().UTC()
	cp := *c
	r.s.calendars[c.ID] = &cp
	r.s.byProvider[c.ProviderID] = c.ID
	return nil
}

func (r memCalendarRepo) GetByID(ctx context.Context, id uuid.UUID) (*Calendar, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindTimeout, "calendar.get", err)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	c, ok := r.s.calendars[id]
	if !ok {
		return nil, apperr.NotFound("calendar")
	}
	cp := *c
	return &cp, nil
}

func (r memCalendarRepo) GetByProvider(ctx context.Context, providerID string) (*Calendar, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindTimeout, "calendar.get_by_provider", err)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	id, ok := r.s.byProvider[providerID]
	if !ok {
		return nil, apperr.NotFound("calendar")
	}
	cp := *r.s.calendars[id]
	return &cp, nil
}

type memRuleRepo struct{ s *MemStore }

func (r memRuleRepo) Create(ctx context.Context, ar *AvailabilityRule) error {
	if err := ctx.Err(); err != nil {
		return apperr.Wrap(apperr.KindTimeout, "rule.create", err)
	}
	if err := ar.Validate(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.calendars[ar.CalendarID]; !ok {
		return apperr.NotFound("calendar")
	}
	now := time.Now().UTC()
	ar.ID = uuid.New()
	ar.CreatedAt = now
	ar.UpdatedAt = now
	cp := *ar
	r.s.rules[ar.ID] = &cp
	return nil
}

func (r memRuleRepo) GetByID(ctx context.Context, id uuid.UUID) (*AvailabilityRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindTimeout, "rule.get", err)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	ar, ok := r.s.rules[id]
	if !ok {
		return nil, apperr.NotFound("availability rule")
	}
	cp := *ar
	return &cp, nil
}

func (r memRuleRepo) filter(ctx context.Context, op string, keep func(*AvailabilityRule) bool) ([]*AvailabilityRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindTimeout, op, err)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	items := []*AvailabilityRule{}
	for _, ar := range r.s.rules {
		if keep(ar) {
			cp := *ar
			items = append(items, &cp)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.DayOfWeek != b.DayOfWeek {
			return a.DayOfWeek < b.DayOfWeek
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return items, nil
}

func (r memRuleRepo) ListByCalendar(ctx context.Context, calendarID uuid.UUID) ([]*AvailabilityRule, error) {
	return r.filter(ctx, "rule.list", func(ar *AvailabilityRule) bool {
		return ar.CalendarID == calendarID
	})
}

func (r memRuleRepo) ListByCalendarDay(ctx context.Context, calendarID uuid.UUID, day Weekday) ([]*AvailabilityRule, error) {
	return r.filter(ctx, "rule.list_day", func(ar *AvailabilityRule) bool {
		return ar.CalendarID == calendarID && ar.DayOfWeek == day
	})
}

func (r memRuleRepo) Update(ctx context.Context, ar *AvailabilityRule) error {
	if err := ctx.Err(); err != nil {
		return apperr.Wrap(apperr.KindTimeout, "rule.update", err)
	}
	if err := ar.Validate(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.rules[ar.ID]
	if !ok {
		return apperr.NotFound("availability rule")
	}
	ar.CalendarID = existing.CalendarID
	ar.CreatedAt = existing.CreatedAt
	ar.UpdatedAt = time.Now().UTC()
	cp := *ar
	r.s.rules[ar.ID] = &cp
	return nil
}

func (r memRuleRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return apperr.Wrap(apperr.KindTimeout, "rule.delete", err)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.rules[id]; !ok {
		return apperr.NotFound("availability rule")
	}
	delete(r.s.rules, id)
	return nil
}
