package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/medilink/medilink/internal/domain/calendar"
	"github.com/medilink/medilink/internal/platform/apperr"
	"github.com/medilink/medilink/internal/platform/metrics"
	"github.com/medilink/medilink/internal/platform/retry"
	"github.com/medilink/medilink/internal/platform/slotcache"
)

const maxDurationMinutes = 24 * 60

// rangeConcurrency bounds the per-day fan-out of GenerateRange.
const rangeConcurrency = 4

// RuleSource is the read side of the rule store the generator needs.
type RuleSource interface {
	GetCalendar(ctx context.Context, calendarID uuid.UUID) (*calendar.Calendar, error)
	RulesForDay(ctx context.Context, calendarID uuid.UUID, day calendar.Weekday) ([]*calendar.AvailabilityRule, error)
}

// SlotReader is implemented by Generator and CachedSlots.
type SlotReader interface {
	Generate(ctx context.Context, calendarID uuid.UUID, date civil.Date, durationMinutes int) ([]Slot, error)
	GenerateRange(ctx context.Context, calendarID uuid.UUID, start, end civil.Date, durationMinutes int) ([]Slot, error)
}

type GeneratorConfig struct {
	MaxRangeDays     int
	AnnotateFallback bool
	Retry            retry.Policy
}

// Generator reads rules and appointments and runs them through Expand. It
// holds no mutable state and is safe for concurrent use.
type Generator struct {
	rules   RuleSource
	appts   AppointmentRepository
	cfg     GeneratorConfig
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewGenerator(rules RuleSource, appts AppointmentRepository, cfg GeneratorConfig, m *metrics.Metrics, logger zerolog.Logger) *Generator {
	return &Generator{
		rules:   rules,
		appts:   appts,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With().Str("component", "slot_generator").Logger(),
	}
}

func validateDuration(durationMinutes int) error {
	if durationMinutes < 1 || durationMinutes > maxDurationMinutes {
		return apperr.Validation("duration must be between 1 and %d minutes", maxDurationMinutes)
	}
	return nil
}

// Generate returns the ordered slot set for one date.
func (g *Generator) Generate(ctx context.Context, calendarID uuid.UUID, date civil.Date, durationMinutes int) ([]Slot, error) {
	if err := validateDuration(durationMinutes); err != nil {
		return nil, err
	}
	if !date.IsValid() {
		return nil, apperr.Validation("invalid date")
	}
	started := time.Now()

	if _, err := g.rules.GetCalendar(ctx, calendarID); err != nil {
		return nil, err
	}
	rules, err := g.rules.RulesForDay(ctx, calendarID, weekdayOf(date))
	if err != nil {
		return nil, err
	}

	var booked []*Appointment
	if len(activeIntervals(rules, weekdayOf(date))) > 0 || g.cfg.AnnotateFallback {
		booked, err = retry.Value(ctx, g.cfg.Retry, g.logger, "appointment.list_booked", func(ctx context.Context) ([]*Appointment, error) {
			return g.appts.ListBooked(ctx, calendarID, date)
		})
		if err != nil {
			return nil, err
		}
	}

	slots, fallback := Expand(date, rules, booked, durationMinutes, ExpandOptions{AnnotateFallback: g.cfg.AnnotateFallback})
	g.metrics.SlotsGenerated(fallback, time.Since(started))
	if fallback {
		g.logger.Debug().
			Str("calendar_id", calendarID.String()).
			Stringer("date", date).
			Msg("no active rules, using fallback schedule")
	}
	return slots, nil
}

// GenerateRange generates every date in [start, end] concurrently and
// concatenates the results in date order.
func (g *Generator) GenerateRange(ctx context.Context, calendarID uuid.UUID, start, end civil.Date, durationMinutes int) ([]Slot, error) {
	return generateRange(ctx, start, end, g.cfg.MaxRangeDays, func(ctx context.Context, d civil.Date) ([]Slot, error) {
		return g.Generate(ctx, calendarID, d, durationMinutes)
	})
}

func generateRange(ctx context.Context, start, end civil.Date, maxDays int, perDay func(context.Context, civil.Date) ([]Slot, error)) ([]Slot, error) {
	if !start.IsValid() || !end.IsValid() {
		return nil, apperr.Validation("invalid date range")
	}
	if end.Before(start) {
		return nil, apperr.Validation("endDate must not be before startDate")
	}
	days := end.DaysSince(start) + 1
	if maxDays > 0 && days > maxDays {
		return nil, apperr.Validation("date range spans %d days, at most %d allowed", days, maxDays)
	}

	perDate := make([][]Slot, days)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(rangeConcurrency)
	for i := 0; i < days; i++ {
		eg.Go(func() error {
			slots, err := perDay(egCtx, start.AddDays(i))
			if err != nil {
				return err
			}
			perDate[i] = slots
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := []Slot{}
	for _, s := range perDate {
		out = append(out, s...)
	}
	return out, nil
}

// CachedSlots serves slot reads from a slot cache, falling back to the
// generator on a miss. Cache failures are logged and treated as misses.
// A generated set is only written if no invalidation for the calendar
// happened since generation started.
type CachedSlots struct {
	next    *Generator
	cache   slotcache.Cache
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewCachedSlots(next *Generator, cache slotcache.Cache, m *metrics.Metrics, logger zerolog.Logger) *CachedSlots {
	return &CachedSlots{
		next:    next,
		cache:   cache,
		metrics: m,
		logger:  logger.With().Str("component", "slot_cache").Logger(),
	}
}

func (c *CachedSlots) Generate(ctx context.Context, calendarID uuid.UUID, date civil.Date, durationMinutes int) ([]Slot, error) {
	if err := validateDuration(durationMinutes); err != nil {
		return nil, err
	}
	calID := calendarID.String()
	key := slotcache.Key(calID, date, durationMinutes)

	data, ok, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		c.metrics.SlotCache("error")
		c.logger.Warn().Err(err).Str("key", key).Msg("slot cache read failed")
	case ok:
		var slots []Slot
		if err := json.Unmarshal(data, &slots); err == nil {
			c.metrics.SlotCache("hit")
			return slots, nil
		}
		c.metrics.SlotCache("error")
		c.logger.Warn().Str("key", key).Msg("discarding undecodable slot cache entry")
	default:
		c.metrics.SlotCache("miss")
	}

	// The version must be read before the store is, so a booking that
	// commits mid-generation makes the write below stale.
	version, verr := c.cache.Version(ctx, calID)
	if verr != nil {
		c.logger.Warn().Err(verr).Str("calendar_id", calID).Msg("slot cache version read failed")
	}

	slots, err := c.next.Generate(ctx, calendarID, date, durationMinutes)
	if err != nil {
		return nil, err
	}
	if verr != nil {
		return slots, nil
	}
	if data, err := json.Marshal(slots); err == nil {
		switch err := c.cache.Set(ctx, calID, key, version, data); {
		case errors.Is(err, slotcache.ErrStale):
			c.logger.Debug().Str("key", key).Msg("calendar changed during generation, not caching")
		case err != nil:
			c.logger.Warn().Err(err).Str("key", key).Msg("slot cache write failed")
		}
	}
	return slots, nil
}

func (c *CachedSlots) GenerateRange(ctx context.Context, calendarID uuid.UUID, start, end civil.Date, durationMinutes int) ([]Slot, error) {
	return generateRange(ctx, start, end, c.next.cfg.MaxRangeDays, func(ctx context.Context, d civil.Date) ([]Slot, error) {
		return c.Generate(ctx, calendarID, d, durationMinutes)
	})
}
