package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bookline/schedcore/services/scheduling-service/internal/model"
	"github.com/bookline/schedcore/services/scheduling-service/internal/observability"
)

// BookedLister loads the appointments that currently occupy a staff member's
// calendar inside a window, trailing buffer included in the window match.
type BookedLister interface {
	ListOccupied(ctx context.Context, businessID, staffID string, from, to time.Time) ([]model.Appointment, error)
}

// Index is the read-optimized slot projection: generator output with slots
// intersecting an occupying appointment marked occupied. Entries are cached
// in Redis under a per-staff version counter; bumping the version makes every
// cached entry for that staff unreachable, and a TTL reaps the orphans. The
// index is never consulted for commit decisions.
type Index struct {
	gen     *Generator
	booked  BookedLister
	rdb     *redis.Client // nil disables caching
	ttl     time.Duration
	metrics *observability.Metrics
	logger  *slog.Logger
}

func NewIndex(gen *Generator, booked BookedLister, rdb *redis.Client, ttl time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Index {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Index{gen: gen, booked: booked, rdb: rdb, ttl: ttl, metrics: metrics, logger: logger}
}

// Slots returns the candidate slots for (staff, service) over [from, to] with
// occupancy applied. Cache failures degrade to a direct computation.
func (ix *Index) Slots(ctx context.Context, staff model.Staff, svc model.Service, from, to time.Time) ([]Slot, error) {
	if ix.rdb == nil {
		ix.metrics.RecordCacheLookup("bypass")
		return ix.compute(ctx, staff, svc, from, to)
	}

	key, err := ix.cacheKey(ctx, staff, svc, from, to)
	if err == nil {
		raw, getErr := ix.rdb.Get(ctx, key).Bytes()
		if getErr == nil {
			var cached []Slot
			if json.Unmarshal(raw, &cached) == nil {
				ix.metrics.RecordCacheLookup("hit")
				return cached, nil
			}
		} else if getErr != redis.Nil && ix.logger != nil {
			ix.logger.Warn("availability cache read failed", "err", getErr)
		}
	}
	if key == "" {
		ix.metrics.RecordCacheLookup("bypass")
	} else {
		ix.metrics.RecordCacheLookup("miss")
	}

	slots, err := ix.compute(ctx, staff, svc, from, to)
	if err != nil {
		return nil, err
	}

	if key != "" {
		if raw, marshalErr := json.Marshal(slots); marshalErr == nil {
			if setErr := ix.rdb.Set(ctx, key, raw, ix.ttl).Err(); setErr != nil && ix.logger != nil {
				ix.logger.Warn("availability cache write failed", "err", setErr)
			}
		}
	}
	return slots, nil
}

// Invalidate bumps the staff version counter. Called after every create,
// cancel, and reschedule commit for that staff member.
func (ix *Index) Invalidate(ctx context.Context, staffID string) {
	if ix.rdb == nil {
		return
	}
	verKey := versionKey(staffID)
	if err := ix.rdb.Incr(ctx, verKey).Err(); err != nil {
		if ix.logger != nil {
			ix.logger.Warn("availability cache invalidation failed", "staff_id", staffID, "err", err)
		}
		return
	}
	// Keep the counter alive well past the entry TTL so a reset counter can
	// never collide with live entries.
	_ = ix.rdb.Expire(ctx, verKey, 24*time.Hour).Err()
}

func (ix *Index) compute(ctx context.Context, staff model.Staff, svc model.Service, from, to time.Time) ([]Slot, error) {
	slots, err := ix.gen.CollectSlots(ctx, staff, svc, from, to)
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return slots, nil
	}

	windowStart := slots[0].Start
	windowEnd := slots[len(slots)-1].End
	occupied, err := ix.booked.ListOccupied(ctx, staff.BusinessID, staff.ID, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	for i := range slots {
		for _, appt := range occupied {
			// Half-open overlap, trailing buffer extends the appointment.
			if slots[i].Start.Before(appt.BlockedUntil()) && appt.Start.Before(slots[i].End) {
				slots[i].Occupied = true
				break
			}
		}
	}
	return slots, nil
}

func (ix *Index) cacheKey(ctx context.Context, staff model.Staff, svc model.Service, from, to time.Time) (string, error) {
	ver, err := ix.rdb.Get(ctx, versionKey(staff.ID)).Int64()
	if err != nil && err != redis.Nil {
		return "", err
	}
	return fmt.Sprintf("avail:slots:%s:%d:%s:%d:%d", staff.ID, ver, svc.ID, from.Unix(), to.Unix()), nil
}

func versionKey(staffID string) string {
	return "avail:ver:" + staffID
}
