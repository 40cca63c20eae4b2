// Package reminder schedules appointment reminders in a Redis sorted set
// scored by the time each reminder should fire.
package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultLead is how long before an appointment a reminder fires.
const DefaultLead = 24 * time.Hour

const defaultKey = "healthrecords:reminders"

var (
	ErrFireTimePassed   = errors.New("reminder fire time has already passed")
	ErrMissingPatient   = errors.New("reminder patient is required")
	ErrMissingAppointed = errors.New("reminder appointment time is required")
)

// Reminder is one scheduled notification.
type Reminder struct {
	ID            string    `json:"id"`
	PatientID     string    `json:"patient_id"`
	AppointmentAt time.Time `json:"appointment_at"`
	FireAt        time.Time `json:"fire_at"`
	Note          string    `json:"note,omitempty"`
}

// FireTime returns the moment a reminder for an appointment at `at` fires.
func FireTime(at time.Time, lead time.Duration) time.Time {
	return at.Add(-lead)
}

// popDue removes and returns up to ARGV[2] members scored at or below ARGV[1].
var popDue = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
if #items > 0 then
	redis.call('ZREM', KEYS[1], unpack(items))
end
return items
`)

// Queue is safe for concurrent use; Due is atomic across processes.
type Queue struct {
	rdb    redis.UniversalClient
	key    string
	lead   time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

// NewQueue builds a queue on rdb. lead <= 0 selects DefaultLead.
func NewQueue(rdb redis.UniversalClient, lead time.Duration, logger zerolog.Logger) *Queue {
	if lead <= 0 {
		lead = DefaultLead
	}
	return &Queue{
		rdb:    rdb,
		key:    defaultKey,
		lead:   lead,
		now:    time.Now,
		logger: logger.With().Str("component", "reminder").Logger(),
	}
}

// Schedule stores r to fire one lead before r.AppointmentAt. Reminders whose
// fire time is not in the future are rejected with ErrFireTimePassed.
func (q *Queue) Schedule(ctx context.Context, r Reminder) (Reminder, error) {
	if r.PatientID == "" {
		return r, ErrMissingPatient
	}
	if r.AppointmentAt.IsZero() {
		return r, ErrMissingAppointed
	}

	r.FireAt = FireTime(r.AppointmentAt, q.lead).UTC()
	if !r.FireAt.After(q.now()) {
		return r, ErrFireTimePassed
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}

	member, err := json.Marshal(r)
	if err != nil {
		return r, fmt.Errorf("encode reminder: %w", err)
	}
	if err := q.rdb.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(r.FireAt.Unix()),
		Member: string(member),
	}).Err(); err != nil {
		return r, fmt.Errorf("schedule reminder: %w", err)
	}

	q.logger.Info().
		Str("reminder_id", r.ID).
		Time("fire_at", r.FireAt).
		Msg("reminder scheduled")
	return r, nil
}

// Due removes and returns up to limit reminders whose fire time is at or
// before now, earliest first.
func (q *Queue) Due(ctx context.Context, now time.Time, limit int) ([]Reminder, error) {
	if limit <= 0 {
		limit = 100
	}

	members, err := popDue.Run(ctx, q.rdb, []string{q.key},
		strconv.FormatInt(now.Unix(), 10), limit).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("pop due reminders: %w", err)
	}

	out := make([]Reminder, 0, len(members))
	for _, m := range members {
		var r Reminder
		if err := json.Unmarshal([]byte(m), &r); err != nil {
			q.logger.Warn().Err(err).Msg("dropping malformed reminder")
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Pending reports how many reminders are waiting.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, q.key).Result()
}

// Connect parses url, opens a client and pings it.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Ping reports whether Redis is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Handle is called for each reminder popped by Poll.
type Handle func(ctx context.Context, r Reminder) error

// Poll pops due reminders every interval until ctx ends. A failing handler
// is logged; its reminder is not requeued.
func (q *Queue) Poll(ctx context.Context, interval time.Duration, handle Handle) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		due, err := q.Due(ctx, q.now(), 0)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			q.logger.Warn().Err(err).Msg("reminder poll failed")
			continue
		}
		for _, r := range due {
			if err := handle(ctx, r); err != nil {
				q.logger.Error().Err(err).Str("reminder_id", r.ID).Msg("reminder not delivered")
			}
		}
	}
}
