package calendar

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/medilink/medilink/internal/platform/apperr"
)

func TestParseClockTime(t *testing.T) {
	tests := []struct {
		in      string
		want    ClockTime
		wantErr bool
	}{
		{"09:00", NewClockTime(9, 0), false},
		{"9:30", NewClockTime(9, 30), false},
		{"00:00", 0, false},
		{"23:59", NewClockTime(23, 59), false},
		{"24:00", EndOfDay, false},
		{"24:01", 0, true},
		{"25:00", 0, true},
		{"09:60", 0, true},
		{"0900", 0, true},
		{"09:0", 0, true},
		{"ab:cd", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseClockTime(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseClockTime(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseClockTime(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseClockTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestClockTime_JSON(t *testing.T) {
	b, err := json.Marshal(NewClockTime(9, 5))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"09:05"` {
		t.Errorf("marshal = %s", b)
	}

	var ct ClockTime
	if err := json.Unmarshal([]byte(`"14:30"`), &ct); err != nil {
		t.Fatal(err)
	}
	if ct != NewClockTime(14, 30) {
		t.Errorf("unmarshal = %v", ct)
	}
	if err := json.Unmarshal([]byte(`930`), &ct); err == nil {
		t.Error("expected error for numeric time")
	}
}

func TestClockTime_PgTime(t *testing.T) {
	v, err := NewClockTime(10, 30).TimeValue()
	if err != nil {
		t.Fatal(err)
	}
	if !v.Valid || v.Microseconds != (10*60+30)*60*1_000_000 {
		t.Errorf("unexpected pg value %+v", v)
	}

	var ct ClockTime
	if err := ct.ScanTime(v); err != nil {
		t.Fatal(err)
	}
	if ct != NewClockTime(10, 30) {
		t.Errorf("round trip = %v", ct)
	}
	if err := ct.ScanTime(pgtype.Time{}); err == nil {
		t.Error("expected error scanning NULL")
	}
}

func TestAvailabilityRule_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rule    AvailabilityRule
		wantErr bool
	}{
		{"valid", AvailabilityRule{DayOfWeek: 1, StartTime: NewClockTime(9, 0), EndTime: NewClockTime(11, 0)}, false},
		{"until midnight", AvailabilityRule{DayOfWeek: 6, StartTime: NewClockTime(20, 0), EndTime: EndOfDay}, false},
		{"equal times", AvailabilityRule{DayOfWeek: 1, StartTime: NewClockTime(9, 0), EndTime: NewClockTime(9, 0)}, true},
		{"reversed", AvailabilityRule{DayOfWeek: 1, StartTime: NewClockTime(11, 0), EndTime: NewClockTime(9, 0)}, true},
		{"day too high", AvailabilityRule{DayOfWeek: 7, StartTime: NewClockTime(9, 0), EndTime: NewClockTime(11, 0)}, true},
		{"negative day", AvailabilityRule{DayOfWeek: -1, StartTime: NewClockTime(9, 0), EndTime: NewClockTime(11, 0)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.wantErr && !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestRulePatch_Apply(t *testing.T) {
	base := AvailabilityRule{DayOfWeek: 1, StartTime: NewClockTime(9, 0), EndTime: NewClockTime(17, 0), IsAvailable: true}
	end := NewClockTime(12, 0)
	off := false

	got := RulePatch{EndTime: &end, IsAvailable: &off}.Apply(base)
	if got.EndTime != end || got.IsAvailable {
		t.Errorf("patch not applied: %+v", got)
	}
	if got.StartTime != base.StartTime || got.DayOfWeek != base.DayOfWeek {
		t.Errorf("unpatched fields changed: %+v", got)
	}
	if base.EndTime != NewClockTime(17, 0) {
		t.Error("Apply must not modify its input")
	}
}

func TestWeekday_String(t *testing.T) {
	if Weekday(0).String() != "Sunday" || Weekday(6).String() != "Saturday" {
		t.Error("unexpected weekday names")
	}
	if Weekday(9).String() != "Weekday(9)" {
		t.Errorf("unexpected invalid weekday name %s", Weekday(9))
	}
}

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules()
	if len(rules) != 5 {
		t.Fatalf("expected 5 default rules, got %d", len(rules))
	}
	for i, r := range rules {
		if r.DayOfWeek != Weekday(i+1) {
			t.Errorf("rule %d: day %v", i, r.DayOfWeek)
		}
		if r.StartTime != NewClockTime(9, 0) || r.EndTime != NewClockTime(18, 0) || !r.IsAvailable {
			t.Errorf("rule %d: unexpected window %+v", i, r)
		}
	}
}
