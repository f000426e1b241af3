package calendar

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medilink/medilink/internal/platform/retry"
)

type spyInvalidator struct {
	mu    sync.Mutex
	calls []string
}

func (s *spyInvalidator) InvalidateCalendar(_ context.Context, calendarID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, calendarID)
	return nil
}

func (s *spyInvalidator) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 2, InitialInterval: 1, MaxInterval: 1}
}

func newTestRuleStore(t *testing.T) (*RuleStore, *MemStore, *spyInvalidator) {
	t.Helper()
	mem := NewMemStore()
	spy := &spyInvalidator{}
	return NewRuleStore(mem.Calendars(), mem.Rules(), spy, testPolicy(), zerolog.Nop()), mem, spy
}

func mustCalendar(t *testing.T, mem *MemStore, providerID string) *Calendar {
	t.Helper()
	c := &Calendar{ProviderID: providerID, Name: "test", Timezone: "UTC"}
	if err := mem.Calendars().Create(context.Background(), c); err != nil {
		t.Fatalf("create calendar: %v", err)
	}
	return c
}

func ruleInput(day Weekday, start, end string) RuleInput {
	s, _ := ParseClockTime(start)
	e, _ := ParseClockTime(end)
	return RuleInput{DayOfWeek: &day, StartTime: &s, EndTime: &e}
}

func ptr[T any](v T) *T { return &v }

var unknownID = uuid.MustParse("00000000-0000-0000-0000-000000000001")
