package scheduling

import (
	"context"
	"sync"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/medilink/medilink/internal/domain/calendar"
	"github.com/medilink/medilink/internal/platform/retry"
)

var (
	monday   = civil.Date{Year: 2026, Month: 3, Day: 2}
	tuesday  = civil.Date{Year: 2026, Month: 3, Day: 3}
	saturday = civil.Date{Year: 2026, Month: 3, Day: 7}
)

func clock(s string) calendar.ClockTime {
	t, err := calendar.ParseClockTime(s)
	if err != nil {
		panic(err)
	}
	return t
}

func ptr[T any](v T) *T { return &v }

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 2, InitialInterval: 1, MaxInterval: 1}
}

// spyInvalidator records date invalidations.
type spyInvalidator struct {
	mu    sync.Mutex
	dates []civil.Date
}

func (s *spyInvalidator) InvalidateDate(_ context.Context, _ string, d civil.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dates = append(s.dates, d)
	return nil
}

func (s *spyInvalidator) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dates)
}

type fixture struct {
	mem   *calendar.MemStore
	rules *calendar.RuleStore
	prov  *calendar.Provisioner
	appts *MemAppointments
	gen   *Generator
	svc   *BookingService
	inval *spyInvalidator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, GeneratorConfig{MaxRangeDays: 31, Retry: testPolicy()})
}

func newFixtureWith(t *testing.T, cfg GeneratorConfig) *fixture {
	t.Helper()
	f := &fixture{
		mem:   calendar.NewMemStore(),
		appts: NewMemAppointments(),
		inval: &spyInvalidator{},
	}
	logger := zerolog.Nop()
	f.rules = calendar.NewRuleStore(f.mem.Calendars(), f.mem.Rules(), nil, testPolicy(), logger)
	f.prov = calendar.NewProvisioner(f.mem.Calendars(), f.mem.Rules(), "UTC", testPolicy(), nil, logger)
	f.gen = NewGenerator(f.rules, f.appts, cfg, nil, logger)
	f.svc = NewBookingService(f.prov, f.gen, f.appts, f.inval, testPolicy(), nil, logger)
	return f
}

// calendarWithRules creates a provider calendar holding exactly the given
// rules, bypassing the default schedule.
func (f *fixture) calendarWithRules(t *testing.T, providerID string, rules ...calendar.RuleInput) *calendar.Calendar {
	t.Helper()
	c := &calendar.Calendar{ProviderID: providerID, Name: "test", Timezone: "UTC"}
	if err := f.mem.Calendars().Create(context.Background(), c); err != nil {
		t.Fatalf("create calendar: %v", err)
	}
	for _, in := range rules {
		if _, err := f.rules.CreateRule(context.Background(), c.ID, in); err != nil {
			t.Fatalf("create rule: %v", err)
		}
	}
	return c
}

func rule(day calendar.Weekday, start, end string) calendar.RuleInput {
	s, e := clock(start), clock(end)
	return calendar.RuleInput{DayOfWeek: &day, StartTime: &s, EndTime: &e}
}

func blackout(day calendar.Weekday, start, end string) calendar.RuleInput {
	in := rule(day, start, end)
	in.IsAvailable = ptr(false)
	return in
}

func booking(providerID string, date civil.Date, at string) BookingRequest {
	return BookingRequest{
		PatientID:  "patient-1",
		ProviderID: providerID,
		Date:       date,
		Time:       ptr(clock(at)),
		Reason:     "Annual check-up",
	}
}

func slotTimes(slots []Slot) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.Time.String()
	}
	return out
}

func availability(slots []Slot) map[string]bool {
	out := make(map[string]bool, len(slots))
	for _, s := range slots {
		out[s.Time.String()] = s.Available
	}
	return out
}
