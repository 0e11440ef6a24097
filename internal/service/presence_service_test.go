package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"messhub/backend/internal/model"
	"messhub/backend/pkg/apperr"
)

func TestPresenceService_Run_Outcomes(t *testing.T) {
	env := setupTestEnv(jan(11).Add(1 * time.Hour))
	ctx := context.Background()
	env.users.users["stu-4"] = &model.User{UserID: "stu-4", Role: model.RoleStudent, MessID: "mess-1", IsActive: true}

	env.seedLeave("stu-2", "mess-1", jan(10), jan(10))
	env.seedMeals("stu-3", "mess-2", jan(10)) // record without meals
	env.seedMeals("stu-4", "mess-1", jan(10), model.MealLunch)

	res, err := env.presence.Run(ctx, time.Time{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Date != "2026-01-10" || res.Students != 4 {
		t.Errorf("expected yesterday over 4 students, got %+v", res)
	}
	if res.Created != 1 || res.Filled != 1 || res.SkippedLeave != 1 || res.SkippedMarked != 1 || len(res.Errors) != 0 {
		t.Errorf("unexpected outcome counts %+v", res)
	}

	created, _ := env.attendance.GetByStudentDate(ctx, "stu-1", jan(10))
	if len(created.Meals) != model.MealsPerDay || created.TotalMealsPresent != model.MealsPerDay {
		t.Errorf("expected all meals present, got %+v", created.Meals)
	}
	for _, m := range created.Meals {
		if m.MarkedBy != model.MarkedBySystem {
			t.Errorf("expected system marks, got %s", m.MarkedBy)
		}
	}

	leave, _ := env.attendance.GetByStudentDate(ctx, "stu-2", jan(10))
	if !leave.IsOnLeave || len(leave.Meals) != 0 {
		t.Error("leave must never be overwritten")
	}
	marked, _ := env.attendance.GetByStudentDate(ctx, "stu-4", jan(10))
	if len(marked.Meals) != 1 {
		t.Error("explicit marks must not be clobbered")
	}
}

func TestPresenceService_Run_Idempotent(t *testing.T) {
	env := setupTestEnv(jan(11).Add(1 * time.Hour))
	ctx := context.Background()

	if _, err := env.presence.Run(ctx, jan(10)); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	res, err := env.presence.Run(ctx, jan(10))
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res.Created != 0 || res.Filled != 0 || res.SkippedMarked != res.Students {
		t.Errorf("second run should skip everyone, got %+v", res)
	}
	if env.attendance.count("stu-1") != 1 {
		t.Error("second run must not create records")
	}
}

func TestPresenceService_Run_AfterCancelledLeave(t *testing.T) {
	env := setupTestEnv(jan(9).Add(8 * time.Hour))
	ctx := context.Background()

	recs, err := env.ledger.RegisterLeave(ctx, student("stu-1"), "", LeaveInput{
		StartDate: jan(10), EndDate: jan(10), Reason: model.LeaveVacation,
	})
	if err != nil {
		t.Fatalf("RegisterLeave: %v", err)
	}
	if err := env.ledger.CancelLeave(ctx, student("stu-1"), recs[0].AttendanceID); err != nil {
		t.Fatalf("CancelLeave: %v", err)
	}

	env.clock.T = jan(11).Add(1 * time.Hour)
	if _, err := env.presence.Run(ctx, time.Time{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	rec, err := env.attendance.GetByStudentDate(ctx, "stu-1", jan(10))
	if err != nil {
		t.Fatalf("expected a record for the cancelled leave day: %v", err)
	}
	if rec.IsOnLeave || rec.TotalMealsPresent != model.MealsPerDay {
		t.Errorf("expected a present day, got %+v", rec)
	}
}

func TestPresenceService_Run_RejectsTodayAndFuture(t *testing.T) {
	env := setupTestEnv(jan(11).Add(1 * time.Hour))

	for _, d := range []time.Time{jan(11), jan(12)} {
		if _, err := env.presence.Run(context.Background(), d); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", dayKey(d), err)
		}
	}
	if env.attendance.count("stu-1") != 0 {
		t.Error("rejected runs must not write")
	}
}
