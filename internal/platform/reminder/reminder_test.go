package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var baseTime = time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

func setupQueue(t *testing.T) (*miniredis.Miniredis, *Queue) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	q := NewQueue(rdb, 0, zerolog.Nop())
	q.now = func() time.Time { return baseTime }
	return mr, q
}

func TestFireTime(t *testing.T) {
	at := time.Date(2026, 5, 12, 14, 30, 0, 0, time.UTC)
	want := time.Date(2026, 5, 11, 14, 30, 0, 0, time.UTC)
	if got := FireTime(at, DefaultLead); !got.Equal(want) {
		t.Errorf("FireTime = %v, want %v", got, want)
	}
	if got := FireTime(at, 0); !got.Equal(at) {
		t.Errorf("zero lead should fire at the appointment, got %v", got)
	}
}

func TestQueue_Schedule(t *testing.T) {
	_, q := setupQueue(t)
	ctx := context.Background()

	r, err := q.Schedule(ctx, Reminder{
		PatientID:     uuid.NewString(),
		AppointmentAt: baseTime.Add(48 * time.Hour),
		Note:          "annual check-up",
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if r.ID == "" {
		t.Error("expected generated ID")
	}
	if want := baseTime.Add(24 * time.Hour); !r.FireAt.Equal(want) {
		t.Errorf("FireAt = %v, want %v", r.FireAt, want)
	}

	n, err := q.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pending reminder, got %d", n)
	}
}

func TestQueue_ScheduleRejects(t *testing.T) {
	_, q := setupQueue(t)
	ctx := context.Background()

	tests := []struct {
		name string
		r    Reminder
		want error
	}{
		{"missing patient", Reminder{AppointmentAt: baseTime.Add(72 * time.Hour)}, ErrMissingPatient},
		{"missing appointment", Reminder{PatientID: "p"}, ErrMissingAppointed},
		{"fire time in the past", Reminder{PatientID: "p", AppointmentAt: baseTime.Add(2 * time.Hour)}, ErrFireTimePassed},
		{"fire time exactly now", Reminder{PatientID: "p", AppointmentAt: baseTime.Add(DefaultLead)}, ErrFireTimePassed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := q.Schedule(ctx, tt.r); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if n, _ := q.Pending(ctx); n != 0 {
		t.Errorf("rejected reminders must not be queued, got %d", n)
	}
}

func TestQueue_DuePopsInOrder(t *testing.T) {
	_, q := setupQueue(t)
	ctx := context.Background()

	for _, h := range []int{50, 30, 90} {
		if _, err := q.Schedule(ctx, Reminder{
			PatientID:     "p",
			AppointmentAt: baseTime.Add(time.Duration(h) * time.Hour),
			Note:          "h" + time.Duration(h).String(),
		}); err != nil {
			t.Fatalf("Schedule: %v", err)
		}
	}

	due, err := q.Due(ctx, baseTime.Add(30*time.Hour), 10)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due reminders, got %d", len(due))
	}
	if !due[0].FireAt.Before(due[1].FireAt) {
		t.Errorf("expected earliest first: %v then %v", due[0].FireAt, due[1].FireAt)
	}

	again, err := q.Due(ctx, baseTime.Add(30*time.Hour), 10)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("due reminders must be popped once, got %d again", len(again))
	}
	if n, _ := q.Pending(ctx); n != 1 {
		t.Errorf("expected 1 reminder left, got %d", n)
	}
}

func TestQueue_DueRespectsLimit(t *testing.T) {
	_, q := setupQueue(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := q.Schedule(ctx, Reminder{PatientID: "p", AppointmentAt: baseTime.Add(25*time.Hour + time.Duration(i)*time.Minute)}); err != nil {
			t.Fatalf("Schedule: %v", err)
		}
	}

	due, err := q.Due(ctx, baseTime.Add(48*time.Hour), 3)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(due) != 3 {
		t.Errorf("expected 3, got %d", len(due))
	}
}

func TestQueue_DueSkipsMalformed(t *testing.T) {
	mr, q := setupQueue(t)
	ctx := context.Background()
	if _, err := mr.ZAdd(defaultKey, 1, "not-json"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	due, err := q.Due(ctx, baseTime, 10)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("expected malformed member to be dropped, got %v", due)
	}
}

func TestQueue_RedisDown(t *testing.T) {
	mr, q := setupQueue(t)
	mr.Close()

	_, err := q.Schedule(context.Background(), Reminder{PatientID: "p", AppointmentAt: baseTime.Add(72 * time.Hour)})
	if err == nil {
		t.Fatal("expected error when redis is unavailable")
	}
	if err := q.Ping(context.Background()); err == nil {
		t.Error("expected ping to fail when redis is unavailable")
	}
}

func TestQueue_Poll(t *testing.T) {
	_, q := setupQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduled, err := q.Schedule(ctx, Reminder{PatientID: "p", AppointmentAt: baseTime.Add(25 * time.Hour)})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	q.now = func() time.Time { return baseTime.Add(2 * time.Hour) }

	got := make(chan Reminder, 1)
	done := make(chan error, 1)
	go func() {
		done <- q.Poll(ctx, 10*time.Millisecond, func(_ context.Context, r Reminder) error {
			got <- r
			return errors.New("mail server down")
		})
	}()

	select {
	case r := <-got:
		if r.ID != scheduled.ID {
			t.Errorf("expected reminder %s, got %s", scheduled.ID, r.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("due reminder was not delivered")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Poll returned %v after cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Poll did not stop after cancel")
	}
	if n, _ := q.Pending(context.Background()); n != 0 {
		t.Errorf("delivered reminder must not be requeued, got %d pending", n)
	}
}

func TestHandler_ScheduleReminder(t *testing.T) {
	_, q := setupQueue(t)
	h := NewHandler(q)
	e := echo.New()

	tests := []struct {
		name string
		body string
		code int
	}{
		{"created", `{"patient_id":"` + uuid.NewString() + `","appointment_at":"2026-05-13T09:00:00Z","note":"bloods"}`, http.StatusCreated},
		{"invalid patient", `{"patient_id":"abc","appointment_at":"2026-05-13T09:00:00Z"}`, http.StatusBadRequest},
		{"too late", `{"patient_id":"` + uuid.NewString() + `","appointment_at":"2026-05-10T10:00:00Z"}`, http.StatusUnprocessableEntity},
		{"missing appointment", `{"patient_id":"` + uuid.NewString() + `"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/reminders", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := h.ScheduleReminder(c)
			code := rec.Code
			if err != nil {
				var he *echo.HTTPError
				if !errors.As(err, &he) {
					t.Fatalf("unexpected error: %v", err)
				}
				code = he.Code
			}
			if code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, code)
			}
			if tt.code == http.StatusCreated {
				var r Reminder
				if err := json.Unmarshal(rec.Body.Bytes(), &r); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if r.Note != "bloods" || r.ID == "" {
					t.Errorf("unexpected reminder: %+v", r)
				}
			}
		})
	}
}
