package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/medilink/medilink/internal/platform/apperr"
	"github.com/medilink/medilink/internal/platform/metrics"
	"github.com/medilink/medilink/internal/platform/retry"
)

// DefaultRules is the weekly schedule given to a newly provisioned
// calendar: Monday to Friday, 09:00 to 18:00.
func DefaultRules() []AvailabilityRule {
	rules := make([]AvailabilityRule, 0, 5)
	for d := Weekday(1); d <= 5; d++ {
		rules = append(rules, AvailabilityRule{
			DayOfWeek:   d,
			StartTime:   NewClockTime(9, 0),
			EndTime:     NewClockTime(18, 0),
			IsAvailable: true,
		})
	}
	return rules
}

// provisionTimeout bounds one shared provisioning flight: a lookup, the
// create and the default rules, each with its own store timeout.
const provisionTimeout = 30 * time.Second

// Provisioner guarantees exactly one calendar per provider.
type Provisioner struct {
	calendars CalendarRepository
	rules     RuleRepository
	timezone  string
	retry     retry.Policy
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	group singleflight.Group
}

func NewProvisioner(calendars CalendarRepository, rules RuleRepository, timezone string, rp retry.Policy, m *metrics.Metrics, logger zerolog.Logger) *Provisioner {
	return &Provisioner{
		calendars: calendars,
		rules:     rules,
		timezone:  timezone,
		retry:     rp,
		metrics:   m,
		logger:    logger.With().Str("component", "provisioner").Logger(),
	}
}

// Lookup reports whether providerID has a calendar. Not-found is a Lookup
// status; any other store failure is returned as an error.
func (p *Provisioner) Lookup(ctx context.Context, providerID string) (Lookup, error) {
	c, err := retry.Value(ctx, p.retry, p.logger, "calendar.get_by_provider", func(ctx context.Context) (*Calendar, error) {
		return p.calendars.GetByProvider(ctx, providerID)
	})
	switch {
	case err == nil:
		return Found(c), nil
	case errors.Is(err, apperr.ErrNotFound):
		return NotFound(), nil
	default:
		return Lookup{}, err
	}
}

// GetOrCreate returns the provider's calendar, creating it with the
// default weekly rules on first use. Concurrent calls for one provider in
// this process share a single lookup; across processes the unique index on
// provider_id decides and the loser re-fetches. A caller whose context ends
// stops waiting without cancelling the shared work for the others.
func (p *Provisioner) GetOrCreate(ctx context.Context, providerID string) (*Calendar, error) {
	if providerID == "" {
		return nil, apperr.Validation("providerId is required")
	}
	ch := p.group.DoChan(providerID, func() (interface{}, error) {
		// The flight is shared, so it must not end when the caller that
		// started it goes away.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), provisionTimeout)
		defer cancel()
		return p.getOrCreate(fctx, providerID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		c := *res.Val.(*Calendar)
		return &c, nil
	case <-ctx.Done():
		return nil, apperr.Wrap(apperr.KindTimeout, "calendar.provision", ctx.Err())
	}
}

func (p *Provisioner) getOrCreate(ctx context.Context, providerID string) (*Calendar, error) {
	res, err := p.Lookup(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if res.Status == LookupFound {
		return res.Calendar, nil
	}

	c := &Calendar{
		ProviderID: providerID,
		Name:       "Calendar for " + providerID,
		Timezone:   p.timezone,
	}
	if err := p.calendars.Create(ctx, c); err != nil {
		if !errors.Is(err, apperr.ErrConflict) {
			return nil, err
		}
		p.logger.Info().Str("provider_id", providerID).Msg("calendar created concurrently, re-fetching")
		res, err := p.Lookup(ctx, providerID)
		if err != nil {
			return nil, err
		}
		if res.Status != LookupFound {
			return nil, apperr.Wrap(apperr.KindConflict, "calendar.provision", errors.New("calendar reported as duplicate but not found"))
		}
		return res.Calendar, nil
	}

	p.metrics.CalendarProvisioned()
	p.createDefaultRules(ctx, c)
	p.logger.Info().
		Str("provider_id", providerID).
		Str("calendar_id", c.ID.String()).
		Msg("calendar provisioned")
	return c, nil
}

// createDefaultRules persists the default schedule. A rule that fails is
// logged and skipped; the calendar stays provisioned.
func (p *Provisioner) createDefaultRules(ctx context.Context, c *Calendar) {
	for _, tmpl := range DefaultRules() {
		ar := tmpl
		ar.CalendarID = c.ID
		if err := p.rules.Create(ctx, &ar); err != nil {
			p.metrics.DefaultRuleFailed()
			p.logger.Warn().Err(err).
				Str("calendar_id", c.ID.String()).
				Stringer("day", ar.DayOfWeek).
				Msg("default availability rule not created")
		}
	}
}
