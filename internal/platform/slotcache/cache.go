// Package slotcache stores serialized slot sets per (calendar, date,
// duration) so repeated availability reads skip the rule and appointment
// queries. Entries are invalidated whenever a booking, cancellation or rule
// change touches the calendar.
//
// Every invalidation also bumps a per-calendar version. A writer reads the
// version before generating and Set refuses the write if it has moved, so a
// slot set computed before a booking committed never lands in the cache
// after that booking's invalidation.
package slotcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/redis/go-redis/v9"
)

// ErrStale is returned by Set when the calendar was invalidated after the
// caller read its version.
var ErrStale = errors.New("slot cache: calendar changed since version was read")

// Cache is the slot cache contract. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Version(ctx context.Context, calendarID string) (int64, error)
	Set(ctx context.Context, calendarID, key string, version int64, data []byte) error
	InvalidateDate(ctx context.Context, calendarID string, date civil.Date) error
	InvalidateCalendar(ctx context.Context, calendarID string) error
}

const prefix = "slots:"

// Key returns the cache key for one generated slot set.
func Key(calendarID string, date civil.Date, durationMinutes int) string {
	return fmt.Sprintf("%s%s:%s:%d", prefix, calendarID, date, durationMinutes)
}

func datePrefix(calendarID string, date civil.Date) string {
	return fmt.Sprintf("%s%s:%s:", prefix, calendarID, date)
}

func indexKey(calendarID string) string {
	return prefix + "idx:" + calendarID
}

// versionKey has no TTL so a version can never fall back to an earlier value.
func versionKey(calendarID string) string {
	return prefix + "ver:" + calendarID
}

// Nop never stores anything. Used when no Redis URL is configured.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Nop) Version(context.Context, string) (int64, error) { return 0, nil }
func (Nop) Set(context.Context, string, string, int64, []byte) error { return nil }
func (Nop) InvalidateDate(context.Context, string, civil.Date) error { return nil }
func (Nop) InvalidateCalendar(context.Context, string) error { return nil }

// Redis is a Cache backed by go-redis. Each calendar keeps an index set of
// its live keys so invalidation never needs KEYS or SCAN.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Connect parses url, pings the server and returns a ready client.
func Connect(ctx context.Context, url string, timeout time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("slot cache get %s: %w", key, err)
	}
	return data, true, nil
}

func (r *Redis) Version(ctx context.Context, calendarID string) (int64, error) {
	v, err := r.client.Get(ctx, versionKey(calendarID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("slot cache version %s: %w", calendarID, err)
	}
	return v, nil
}

// Set stores data under key if the calendar's version still equals version.
// The version key is watched, so an invalidation landing between the check
// and the write aborts the transaction.
func (r *Redis) Set(ctx context.Context, calendarID, key string, version int64, data []byte) error {
	idx := indexKey(calendarID)
	vk := versionKey(calendarID)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, vk).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != version {
			return ErrStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			pipe.SAdd(ctx, idx, key)
			pipe.Expire(ctx, idx, r.ttl)
			return nil
		})
		return err
	}, vk)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStale), errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("slot cache set %s: %w", key, ErrStale)
	default:
		return fmt.Errorf("slot cache set %s: %w", key, err)
	}
}

// InvalidateDate drops the date's entries and bumps the calendar version,
// even when nothing is cached yet, to fence off writers still generating.
func (r *Redis) InvalidateDate(ctx context.Context, calendarID string, date civil.Date) error {
	idx := indexKey(calendarID)
	if err := r.client.Incr(ctx, versionKey(calendarID)).Err(); err != nil {
		return fmt.Errorf("slot cache version %s: %w", calendarID, err)
	}
	members, err := r.client.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("slot cache index %s: %w", idx, err)
	}

	p := datePrefix(calendarID, date)
	var stale []string
	for _, k := range members {
		if strings.HasPrefix(k, p) {
			stale = append(stale, k)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, stale...)
		staleMembers := make([]interface{}, len(stale))
		for i, k := range stale {
			staleMembers[i] = k
		}
		pipe.SRem(ctx, idx, staleMembers...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("slot cache invalidate %s %s: %w", calendarID, date, err)
	}
	return nil
}

func (r *Redis) InvalidateCalendar(ctx context.Context, calendarID string) error {
	idx := indexKey(calendarID)
	if err := r.client.Incr(ctx, versionKey(calendarID)).Err(); err != nil {
		return fmt.Errorf("slot cache version %s: %w", calendarID, err)
	}
	members, err := r.client.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("slot cache index %s: %w", idx, err)
	}
	if err := r.client.Del(ctx, append(members, idx)...).Err(); err != nil {
		return fmt.Errorf("slot cache invalidate %s: %w", calendarID, err)
	}
	return nil
}
