package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"messhub/backend/config"
	"messhub/backend/internal/dto"
	"messhub/backend/internal/service"
	"messhub/backend/pkg/clock"
)

func at(h, m int) time.Time { return time.Date(2026, 1, 10, h, m, 0, 0, time.UTC) }

func newTestScheduler() *Scheduler {
	return New(&clock.Fixed{T: at(0, 0)}, zap.NewNop())
}

func (s *Scheduler) find(t *testing.T, name string) *job {
	t.Helper()
	for _, j := range s.jobs {
		if j.name == name {
			return j
		}
	}
	t.Fatalf("job %q not registered", name)
	return nil
}

func TestScheduler_Add_DailySpec(t *testing.T) {
	s := newTestScheduler()
	if err := s.Add("count", "00:01", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Add: %v", err)
	}

	j := s.find(t, "count")
	if j.spec != "1 0 * * *" {
		t.Errorf("expected spec %q, got %q", "1 0 * * *", j.spec)
	}

	sched := s.cron.Entry(j.id).Schedule
	if sched == nil {
		t.Fatal("expected a cron entry for the job")
	}
	if next := sched.Next(at(0, 0)); !next.Equal(at(0, 1)) {
		t.Errorf("expected first run at 00:01, got %v", next)
	}
	if next := sched.Next(at(0, 1)); !next.Equal(at(0, 1).AddDate(0, 0, 1)) {
		t.Errorf("expected the following run a day later, got %v", next)
	}
}

func TestScheduler_Add_InvalidTime(t *testing.T) {
	s := newTestScheduler()
	for _, v := range []string{"", "24:00", "7pm", "12:60"} {
		if err := s.Add("bad", v, func(context.Context) error { return nil }); err == nil {
			t.Errorf("%q should be rejected", v)
		}
	}
	if len(s.cron.Entries()) != 0 {
		t.Errorf("rejected jobs must not be scheduled, got %d entries", len(s.cron.Entries()))
	}
}

func TestScheduler_RunJob_FailureIsContained(t *testing.T) {
	s := newTestScheduler()
	runs := 0
	_ = s.Add("fail", "00:30", func(context.Context) error { runs++; return errors.New("boom") })

	s.runJob(context.Background(), s.find(t, "fail"))
	if runs != 1 {
		t.Errorf("expected a single attempt, got %d", runs)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s := newTestScheduler()
	_ = s.Add("noop", "03:00", func(context.Context) error { return nil })

	s.Start(context.Background())
	ctx := s.context()
	s.Stop()

	if ctx.Err() == nil {
		t.Error("Stop should cancel the job context")
	}
}

// ── policy jobs ──

type fakePresence struct{ days []time.Time }

func (f *fakePresence) Run(_ context.Context, day time.Time) (*dto.AutoPresenceResult, error) {
	f.days = append(f.days, day)
	return &dto.AutoPresenceResult{}, nil
}

type fakeBilling struct {
	service.BillingService
	fees []decimal.Decimal
}

func (f *fakeBilling) ApplyLateFeesBatch(_ context.Context, amount decimal.Decimal) (*dto.LateFeeBatchResult, error) {
	f.fees = append(f.fees, amount)
	return &dto.LateFeeBatchResult{}, nil
}

func TestScheduler_RegisterPolicyJobs(t *testing.T) {
	cfg := &config.Config{}
	cfg.Scheduler.AutoPresenceAt = "00:01"
	cfg.Scheduler.LateFeeSweepEnabled = true
	cfg.Scheduler.LateFeeSweepAt = "02:00"
	cfg.Billing.DefaultLateFee = 50

	presence := &fakePresence{}
	billing := &fakeBilling{}
	svc := &service.Service{Presence: presence, Billing: billing}

	s := newTestScheduler()
	if err := s.RegisterPolicyJobs(cfg, svc); err != nil {
		t.Fatalf("RegisterPolicyJobs: %v", err)
	}

	tests := []struct {
		name string
		spec string
	}{
		{"auto-presence", "1 0 * * *"},
		{"late-fee-sweep", "0 2 * * *"},
	}
	for _, tt := range tests {
		if j := s.find(t, tt.name); j.spec != tt.spec {
			t.Errorf("%s: expected spec %q, got %q", tt.name, tt.spec, j.spec)
		}
	}
	if len(s.cron.Entries()) != 2 {
		t.Errorf("expected 2 cron entries, got %d", len(s.cron.Entries()))
	}

	ctx := context.Background()
	s.runJob(ctx, s.find(t, "auto-presence"))
	if len(presence.days) != 1 || !presence.days[0].IsZero() {
		t.Errorf("auto-presence should run for the default day, got %v", presence.days)
	}

	s.runJob(ctx, s.find(t, "late-fee-sweep"))
	if len(billing.fees) != 1 || !billing.fees[0].Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected one sweep with fee 50, got %v", billing.fees)
	}
}

func TestScheduler_RegisterPolicyJobs_SweepDisabled(t *testing.T) {
	cfg := &config.Config{}
	cfg.Scheduler.AutoPresenceAt = "00:01"

	s := newTestScheduler()
	if err := s.RegisterPolicyJobs(cfg, &service.Service{}); err != nil {
		t.Fatalf("RegisterPolicyJobs: %v", err)
	}
	if len(s.jobs) != 1 || s.jobs[0].name != "auto-presence" {
		t.Errorf("expected only auto-presence, got %d jobs", len(s.jobs))
	}
}
