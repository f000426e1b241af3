package calendar

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/medilink/medilink/internal/platform/apperr"
)

// Weekday numbers days like time.Weekday: 0 is Sunday, 6 is Saturday.
type Weekday int

func (d Weekday) Valid() bool { return d >= 0 && d <= 6 }

func (d Weekday) String() string {
	if !d.Valid() {
		return fmt.Sprintf("Weekday(%d)", int(d))
	}
	return time.Weekday(d).String()
}

// ClockTime is a wall-clock time of day with minute precision, stored as
// minutes since midnight. 24:00 is allowed as an end-of-day bound.
type ClockTime int

const (
	minutesPerDay = 24 * 60
	EndOfDay      = ClockTime(minutesPerDay)
)

// NewClockTime returns hh:mm. It does not validate.
func NewClockTime(hour, minute int) ClockTime { return ClockTime(hour*60 + minute) }

// ParseClockTime parses "HH:MM" (leading zero optional on the hour).
func ParseClockTime(s string) (ClockTime, error) {
	hs, ms, ok := strings.Cut(s, ":")
	if !ok || len(hs) < 1 || len(hs) > 2 || len(ms) != 2 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, herr := strconv.Atoi(hs)
	m, merr := strconv.Atoi(ms)
	if herr != nil || merr != nil || h < 0 || m < 0 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	if h > 24 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return NewClockTime(h, m), nil
}

func (t ClockTime) Hour() int   { return int(t) / 60 }
func (t ClockTime) Minute() int { return int(t) % 60 }

// Valid reports whether t lies in [00:00, 24:00].
func (t ClockTime) Valid() bool { return t >= 0 && t <= EndOfDay }

func (t ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// AddMinutes returns t shifted by m minutes. The result may exceed 24:00.
func (t ClockTime) AddMinutes(m int) ClockTime { return t + ClockTime(m) }

func (t ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *ClockTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("time must be a string in HH:MM form")
	}
	v, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ScanTime implements pgtype.TimeScanner for TIME columns.
func (t *ClockTime) ScanTime(v pgtype.Time) error {
	if !v.Valid {
		return fmt.Errorf("cannot scan NULL into ClockTime")
	}
	*t = ClockTime(v.Microseconds / int64(time.Minute/time.Microsecond))
	return nil
}

// TimeValue implements pgtype.TimeValuer for TIME columns.
func (t ClockTime) TimeValue() (pgtype.Time, error) {
	return pgtype.Time{Microseconds: int64(t) * int64(time.Minute/time.Microsecond), Valid: true}, nil
}

type Calendar struct {
	ID         uuid.UUID `json:"id"`
	ProviderID string    `json:"providerId"`
	Name       string    `json:"name"`
	Timezone   string    `json:"timezone"`
	CreatedAt  time.Time `json:"createdAt"`
}

type AvailabilityRule struct {
	ID          uuid.UUID `json:"id"`
	CalendarID  uuid.UUID `json:"calendarId"`
	DayOfWeek   Weekday   `json:"dayOfWeek"`
	StartTime   ClockTime `json:"startTime"`
	EndTime     ClockTime `json:"endTime"`
	IsAvailable bool      `json:"isAvailable"`
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Validate checks the day range and that the window is non-empty.
func (r *AvailabilityRule) Validate() error {
	if !r.DayOfWeek.Valid() {
		return apperr.Validation("dayOfWeek must be between 0 (Sunday) and 6 (Saturday), got %d", int(r.DayOfWeek))
	}
	if !r.StartTime.Valid() || !r.EndTime.Valid() {
		return apperr.Validation("startTime and endTime must be between 00:00 and 24:00")
	}
	if r.StartTime >= r.EndTime {
		return apperr.Validation("startTime %s must be before endTime %s", r.StartTime, r.EndTime)
	}
	return nil
}

// RuleInput carries the fields of a new availability rule.
type RuleInput struct {
	DayOfWeek   *Weekday   `json:"dayOfWeek" validate:"required"`
	StartTime   *ClockTime `json:"startTime" validate:"required"`
	EndTime     *ClockTime `json:"endTime" validate:"required"`
	IsAvailable *bool      `json:"isAvailable"`
	Title       *string    `json:"title" validate:"omitempty,max=255"`
	Description *string    `json:"description"`
}

// RulePatch is a partial update; nil fields are left unchanged.
type RulePatch struct {
	DayOfWeek   *Weekday   `json:"dayOfWeek"`
	StartTime   *ClockTime `json:"startTime"`
	EndTime     *ClockTime `json:"endTime"`
	IsAvailable *bool      `json:"isAvailable"`
	Title       *string    `json:"title" validate:"omitempty,max=255"`
	Description *string    `json:"description"`
}

// Apply returns a copy of r with the patch merged in.
func (p RulePatch) Apply(r AvailabilityRule) AvailabilityRule {
	if p.DayOfWeek != nil {
		r.DayOfWeek = *p.DayOfWeek
	}
	if p.StartTime != nil {
		r.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		r.EndTime = *p.EndTime
	}
	if p.IsAvailable != nil {
		r.IsAvailable = *p.IsAvailable
	}
	if p.Title != nil {
		r.Title = p.Title
	}
	if p.Description != nil {
		r.Description = p.Description
	}
	return r
}

// LookupStatus tags the result of a calendar lookup.
type LookupStatus int

const (
	LookupNotFound LookupStatus = iota
	LookupFound
)

// Lookup is the outcome of Provisioner.Lookup. Calendar is set only when
// Status is LookupFound; store failures are reported as errors instead.
type Lookup struct {
	Status   LookupStatus
	Calendar *Calendar
}

func Found(c *Calendar) Lookup { return Lookup{Status: LookupFound, Calendar: c} }

func NotFound() Lookup { return Lookup{Status: LookupNotFound} }
