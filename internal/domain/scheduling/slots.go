package scheduling

import (
	"sort"

	"cloud.google.com/go/civil"

	"github.com/medilink/medilink/internal/domain/calendar"
)

// Slot generation is a pipeline of pure stages:
//
//	rules -> activeIntervals -> discretize -> mergeSlots -> annotate
//
// Expand composes them; the Generator only fetches inputs.

// Interval is a half-open wall-clock range [Start, End).
type Interval struct {
	Start calendar.ClockTime
	End   calendar.ClockTime
}

// FallbackIntervals is the schedule offered when a calendar has no active
// rule for the requested weekday.
func FallbackIntervals() []Interval {
	return []Interval{
		{Start: calendar.NewClockTime(9, 0), End: calendar.NewClockTime(12, 0)},
		{Start: calendar.NewClockTime(14, 0), End: calendar.NewClockTime(17, 0)},
	}
}

// activeIntervals keeps the available rules for day. Blackout rules
// (isAvailable=false) are dropped, not subtracted.
func activeIntervals(rules []*calendar.AvailabilityRule, day calendar.Weekday) []Interval {
	var out []Interval
	for _, r := range rules {
		if r.DayOfWeek != day || !r.IsAvailable || r.StartTime >= r.EndTime {
			continue
		}
		out = append(out, Interval{Start: r.StartTime, End: r.EndTime})
	}
	return out
}

// discretize walks each interval in steps of durationMinutes. A candidate
// is emitted only if [start, start+duration) fits inside the interval; the
// partial tail is dropped.
func discretize(date civil.Date, intervals []Interval, durationMinutes int) []Slot {
	if durationMinutes <= 0 {
		return nil
	}
	var out []Slot
	for _, iv := range intervals {
		for s := iv.Start; s.AddMinutes(durationMinutes) <= iv.End; s = s.AddMinutes(durationMinutes) {
			out = append(out, Slot{Date: date, Time: s, Duration: durationMinutes, Available: true})
		}
	}
	return out
}

// mergeSlots sorts candidates by start time and collapses duplicates.
func mergeSlots(candidates []Slot) []Slot {
	sorted := make([]Slot, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	out := make([]Slot, 0, len(sorted))
	for _, s := range sorted {
		if n := len(out); n > 0 && out[n-1].Time == s.Time {
			continue
		}
		out = append(out, s)
	}
	return out
}

// annotate marks a slot unavailable when a live appointment starts at
// exactly its start time. Slots are marked, never removed.
func annotate(slots []Slot, booked []*Appointment) []Slot {
	taken := make(map[calendar.ClockTime]bool, len(booked))
	for _, a := range booked {
		if a.Status != StatusCancelled {
			taken[a.Time] = true
		}
	}
	out := make([]Slot, len(slots))
	for i, s := range slots {
		if taken[s.Time] {
			s.Available = false
		}
		out[i] = s
	}
	return out
}

// ExpandOptions tunes Expand.
type ExpandOptions struct {
	// AnnotateFallback applies booked appointments to fallback slots too.
	// Off by default: fallback slots are reported as all available.
	AnnotateFallback bool
}

// Expand turns one day's rules and booked appointments into the ordered
// slot set for date. fallback reports whether the default schedule was used.
func Expand(date civil.Date, rules []*calendar.AvailabilityRule, booked []*Appointment, durationMinutes int, opts ExpandOptions) (slots []Slot, fallback bool) {
	intervals := activeIntervals(rules, weekdayOf(date))
	if len(intervals) == 0 {
		slots = mergeSlots(discretize(date, FallbackIntervals(), durationMinutes))
		if opts.AnnotateFallback {
			slots = annotate(slots, booked)
		}
		return slots, true
	}
	return annotate(mergeSlots(discretize(date, intervals, durationMinutes)), booked), false
}
