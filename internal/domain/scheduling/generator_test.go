package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medilink/medilink/internal/platform/apperr"
	"github.com/medilink/medilink/internal/platform/metrics"
	"github.com/medilink/medilink/internal/platform/slotcache"
)

func TestGenerate_FourMondaySlots(t *testing.T) {
	f := newFixture(t)
	cal := f.calendarWithRules(t, "dr-1", rule(1, "09:00", "11:00"))

	slots, err := f.gen.Generate(context.Background(), cal.ID, monday, 30)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"09:00", "09:30", "10:00", "10:30"}
	if got := slotTimes(slots); !reflect.DeepEqual(got, want) {
		t.Fatalf("slots = %v, want %v", got, want)
	}
	for _, s := range slots {
		if !s.Available {
			t.Errorf("slot %s should be available", s.Time)
		}
		if s.Time >= clock("11:00") {
			t.Errorf("slot %s starts at or after the rule end", s.Time)
		}
	}
}

func TestGenerate_FallbackForUnconfiguredDay(t *testing.T) {
	f := newFixture(t)
	cal := f.calendarWithRules(t, "dr-2", rule(1, "09:00", "11:00"), blackout(2, "09:00", "17:00"))

	for _, date := range []civil.Date{tuesday, saturday} {
		slots, err := f.gen.Generate(context.Background(), cal.ID, date, 30)
		if err != nil {
			t.Fatal(err)
		}
		if len(slots) != 12 {
			t.Fatalf("%s: expected 12 fallback slots, got %d (%v)", date, len(slots), slotTimes(slots))
		}
		if slots[0].Time != clock("09:00") || slots[5].Time != clock("11:30") || slots[6].Time != clock("14:00") {
			t.Errorf("%s: unexpected fallback layout %v", date, slotTimes(slots))
		}
	}
}

func TestGenerate_Validation(t *testing.T) {
	f := newFixture(t)
	cal := f.calendarWithRules(t, "dr-3")

	for _, d := range []int{0, -15, 1441} {
		if _, err := f.gen.Generate(context.Background(), cal.ID, monday, d); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("duration %d: expected validation error, got %v", d, err)
		}
	}
	if _, err := f.gen.Generate(context.Background(), cal.ID, civil.Date{Year: 2026, Month: 2, Day: 30}, 30); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for invalid date, got %v", err)
	}
}

func TestGenerate_UnknownCalendar(t *testing.T) {
	f := newFixture(t)
	if _, err := f.gen.Generate(context.Background(), uuid.New(), monday, 30); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestGenerate_RecordsMetrics(t *testing.T) {
	f := newFixture(t)
	cal := f.calendarWithRules(t, "dr-4", rule(1, "09:00", "10:00"))
	reg := prometheus.NewRegistry()
	gen := NewGenerator(f.rules, f.appts, GeneratorConfig{Retry: testPolicy()}, metrics.New(reg), zerolog.Nop())

	if _, err := gen.Generate(context.Background(), cal.ID, monday, 30); err != nil {
		t.Fatal(err)
	}
	if _, err := gen.Generate(context.Background(), cal.ID, saturday, 30); err != nil {
		t.Fatal(err)
	}

	count, err := testutil.GatherAndCount(reg, "medilink_slot_generations_total")
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("expected one series per source, got %d", count)
	}
}

func TestGenerateRange(t *testing.T) {
	f := newFixture(t)
	cal := f.calendarWithRules(t, "dr-5", rule(1, "09:00", "10:00"), rule(2, "14:00", "15:00"))

	slots, err := f.gen.GenerateRange(context.Background(), cal.ID, monday, tuesday, 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(slots))
	}
	if slots[0].Date != monday || slots[2].Date != tuesday || slots[2].Time != clock("14:00") {
		t.Errorf("range not in date order: %+v", slots)
	}
}

func TestGenerateRange_Validation(t *testing.T) {
	f := newFixtureWith(t, GeneratorConfig{MaxRangeDays: 7, Retry: testPolicy()})
	cal := f.calendarWithRules(t, "dr-6")
	ctx := context.Background()

	if _, err := f.gen.GenerateRange(ctx, cal.ID, tuesday, monday, 30); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for reversed range, got %v", err)
	}
	if _, err := f.gen.GenerateRange(ctx, cal.ID, monday, monday.AddDays(7), 30); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for an 8 day range, got %v", err)
	}
	if _, err := f.gen.GenerateRange(ctx, cal.ID, monday, monday.AddDays(6), 30); err != nil {
		t.Errorf("7 day range should be allowed, got %v", err)
	}
}

func TestGenerateRange_PropagatesError(t *testing.T) {
	f := newFixture(t)
	if _, err := f.gen.GenerateRange(context.Background(), uuid.New(), monday, tuesday, 30); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

// -- Cache decorator --

type mapCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	version int64
	getErr  error
	setErr  error
	sets    int
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

func (m *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) Version(context.Context, string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version, nil
}

func (m *mapCache) Set(_ context.Context, _, key string, version int64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	if m.setErr != nil {
		return m.setErr
	}
	if version != m.version {
		return slotcache.ErrStale
	}
	m.data[key] = data
	return nil
}

func (m *mapCache) InvalidateDate(context.Context, string, civil.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version++
	return nil
}

func (m *mapCache) InvalidateCalendar(context.Context, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version++
	return nil
}

// bookDuringRead runs hook once, after the booked appointments have been
// read but before they are returned, so the caller generates from a
// snapshot that a concurrent booking has already made stale.
type bookDuringRead struct {
	*MemAppointments
	once sync.Once
	hook func()
}

func (b *bookDuringRead) ListBooked(ctx context.Context, calendarID uuid.UUID, date civil.Date) ([]*Appointment, error) {
	booked, err := b.MemAppointments.ListBooked(ctx, calendarID, date)
	b.once.Do(b.hook)
	return booked, err
}

func TestCachedSlots_HitAndMiss(t *testing.T) {
	f := newFixture(t)
	cal := f.calendarWithRules(t, "dr-7", rule(1, "09:00", "10:00"))
	cache := newMapCache()
	reg := prometheus.NewRegistry()
	cached := NewCachedSlots(f.gen, cache, metrics.New(reg), zerolog.Nop())

	first, err := cached.Generate(context.Background(), cal.ID, monday, 30)
	if err != nil {
		t.Fatal(err)
	}
	if cache.sets != 1 {
		t.Fatalf("expected one cache write, got %d", cache.sets)
	}

	// Seed a different value under the key to prove the second read is served from cache.
	key := slotcache.Key(cal.ID.String(), monday, 30)
	marker, _ := json.Marshal([]Slot{{Date: monday, Time: clock("08:00"), Duration: 30, Available: true}})
	cache.data[key] = marker

	second, err := cached.Generate(context.Background(), cal.ID, monday, 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || len(second) != 1 || second[0].Time != clock("08:00") {
		t.Errorf("expected cached value on second read, got %v then %v", slotTimes(first), slotTimes(second))
	}

	want := `
		# HELP medilink_slot_cache_requests_total Slot cache lookups by result (hit, miss, error)
		# TYPE medilink_slot_cache_requests_total counter
		medilink_slot_cache_requests_total{result="hit"} 1
		medilink_slot_cache_requests_total{result="miss"} 1
	`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "medilink_slot_cache_requests_total"); err != nil {
		t.Error(err)
	}
}

func TestCachedSlots_CacheErrorsAreMisses(t *testing.T) {
	f := newFixture(t)
	cal := f.calendarWithRules(t, "dr-8", rule(1, "09:00", "10:00"))
	cache := newMapCache()
	cache.getErr = errors.New("redis: connection refused")
	cache.setErr = errors.New("redis: connection refused")
	cached := NewCachedSlots(f.gen, cache, nil, zerolog.Nop())

	slots, err := cached.Generate(context.Background(), cal.ID, monday, 30)
	if err != nil {
		t.Fatalf("cache failure must not fail the read: %v", err)
	}
	if len(slots) != 2 {
		t.Errorf("expected generated slots, got %v", slotTimes(slots))
	}
}

func TestCachedSlots_CorruptEntryRegenerated(t *testing.T) {
	f := newFixture(t)
	cal := f.calendarWithRules(t, "dr-9", rule(1, "09:00", "10:00"))
	cache := newMapCache()
	cache.data[slotcache.Key(cal.ID.String(), monday, 30)] = []byte("{not json")
	cached := NewCachedSlots(f.gen, cache, nil, zerolog.Nop())

	slots, err := cached.Generate(context.Background(), cal.ID, monday, 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) != 2 {
		t.Errorf("expected regenerated slots, got %v", slotTimes(slots))
	}
}

func TestCachedSlots_BookingInvalidatesRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cache := slotcache.NewRedis(client, time.Minute)

	f := newFixture(t)
	cal := f.calendarWithRules(t, "dr-10", rule(1, "09:00", "11:00"))
	svc := NewBookingService(f.prov, f.gen, f.appts, cache, testPolicy(), nil, zerolog.Nop())
	cached := NewCachedSlots(f.gen, cache, nil, zerolog.Nop())
	ctx := context.Background()

	if _, err := cached.Generate(ctx, cal.ID, monday, 30); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists(slotcache.Key(cal.ID.String(), monday, 30)) {
		t.Fatal("expected slot set to be cached")
	}

	if _, err := svc.Book(ctx, booking("dr-10", monday, "09:30")); err != nil {
		t.Fatal(err)
	}
	if mr.Exists(slotcache.Key(cal.ID.String(), monday, 30)) {
		t.Fatal("expected booking to invalidate the cached date")
	}

	slots, err := cached.Generate(ctx, cal.ID, monday, 30)
	if err != nil {
		t.Fatal(err)
	}
	if availability(slots)["09:30"] {
		t.Error("expected 09:30 to be booked after invalidation")
	}
}

func TestCachedSlots_BookingDuringGenerationIsNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cache := slotcache.NewRedis(client, time.Minute)

	f := newFixture(t)
	cal := f.calendarWithRules(t, "dr-11", rule(1, "09:00", "11:00"))
	svc := NewBookingService(f.prov, f.gen, f.appts, cache, testPolicy(), nil, zerolog.Nop())
	ctx := context.Background()

	var bookErr error
	slow := &bookDuringRead{MemAppointments: f.appts, hook: func() {
		_, bookErr = svc.Book(ctx, booking("dr-11", monday, "09:30"))
	}}
	gen := NewGenerator(f.rules, slow, GeneratorConfig{MaxRangeDays: 31, Retry: testPolicy()}, nil, zerolog.Nop())
	cached := NewCachedSlots(gen, cache, nil, zerolog.Nop())

	stale, err := cached.Generate(ctx, cal.ID, monday, 30)
	if err != nil {
		t.Fatal(err)
	}
	if bookErr != nil {
		t.Fatalf("concurrent booking failed: %v", bookErr)
	}
	if !availability(stale)["09:30"] {
		t.Fatal("expected the in-flight read to predate the booking")
	}
	if mr.Exists(slotcache.Key(cal.ID.String(), monday, 30)) {
		t.Fatal("slot set computed before the booking must not be cached")
	}

	fresh, err := cached.Generate(ctx, cal.ID, monday, 30)
	if err != nil {
		t.Fatal(err)
	}
	if availability(fresh)["09:30"] {
		t.Error("expected 09:30 to be booked on the next read")
	}
	if !mr.Exists(slotcache.Key(cal.ID.String(), monday, 30)) {
		t.Error("expected the fresh slot set to be cached")
	}
}

func TestCachedSlots_StaleWriteSkipped(t *testing.T) {
	f := newFixture(t)
	cal := f.calendarWithRules(t, "dr-12", rule(1, "09:00", "10:00"))
	cache := newMapCache()
	slow := &bookDuringRead{MemAppointments: f.appts, hook: func() {
		_ = cache.InvalidateDate(context.Background(), cal.ID.String(), monday)
	}}
	gen := NewGenerator(f.rules, slow, GeneratorConfig{MaxRangeDays: 31, Retry: testPolicy()}, nil, zerolog.Nop())
	cached := NewCachedSlots(gen, cache, nil, zerolog.Nop())

	slots, err := cached.Generate(context.Background(), cal.ID, monday, 30)
	if err != nil {
		t.Fatalf("a stale write must not fail the read: %v", err)
	}
	if len(slots) != 2 {
		t.Errorf("expected generated slots, got %v", slotTimes(slots))
	}
	if _, ok := cache.data[slotcache.Key(cal.ID.String(), monday, 30)]; ok {
		t.Error("expected the write to be skipped")
	}
}
