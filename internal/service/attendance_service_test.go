package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"messhub/backend/internal/dto"
	"messhub/backend/internal/model"
	"messhub/backend/internal/repository"
	"messhub/backend/pkg/apperr"
	"messhub/backend/pkg/clock"
	"messhub/backend/pkg/lock"
)

// ── test helpers ──

type testEnv struct {
	users      *mockUserRepo
	attendance *mockAttendanceRepo
	bills      *mockBillRepo
	clock      *clock.Fixed

	ledger     AttendanceService
	aggregator AggregatorService
	billing    BillingService
	presence   PresenceService
}

// jan returns midnight UTC of a January 2026 day.
func jan(d int) time.Time { return time.Date(2026, 1, d, 0, 0, 0, 0, time.UTC) }

func setupTestEnv(now time.Time) *testEnv {
	env := &testEnv{
		users:      newMockUserRepo(),
		attendance: newMockAttendanceRepo(),
		bills:      newMockBillRepo(),
		clock:      &clock.Fixed{T: now},
	}
	for _, u := range []model.User{
		{UserID: "stu-1", Name: "Asha", Role: model.RoleStudent, MessID: "mess-1", IsActive: true},
		{UserID: "stu-2", Name: "Ravi", Role: model.RoleStudent, MessID: "mess-1", IsActive: true},
		{UserID: "stu-3", Name: "Meena", Role: model.RoleStudent, MessID: "mess-2", IsActive: true},
		{UserID: "stu-9", Name: "Gone", Role: model.RoleStudent, MessID: "mess-1", IsActive: false},
		{UserID: "mgr-1", Name: "Manager", Role: model.RoleManager, MessID: "mess-1", IsActive: true},
		{UserID: "admin-1", Name: "Admin", Role: model.RoleAdmin, IsActive: true},
	} {
		u := u
		env.users.users[u.UserID] = &u
	}

	repo := &repository.Repository{
		User:       env.users,
		Attendance: env.attendance,
		Bill:       env.bills,
	}
	locker := lock.NewMemory()
	logger := zap.NewNop()

	env.ledger = NewAttendanceService(repo, locker, env.clock, logger)
	env.aggregator = NewAggregatorService(repo, env.clock, logger)
	env.billing = NewBillingService(repo, env.aggregator, locker, env.clock, BillingOptions{DueDays: 15, Concurrency: 3}, logger)
	env.presence = NewPresenceService(repo, env.ledger, env.clock, logger)
	return env
}

func student(id string) Actor { return Actor{UserID: id, Role: model.RoleStudent, MessID: "mess-1"} }

var (
	manager      = Actor{UserID: "mgr-1", Role: model.RoleManager, MessID: "mess-1"}
	otherManager = Actor{UserID: "mgr-2", Role: model.RoleManager, MessID: "mess-2"}
	admin        = Actor{UserID: "admin-1", Role: model.RoleAdmin}
)

// seedLeave stores leave rows for [start, end] directly, bypassing the
// no-retroactive-leave rule.
func (env *testEnv) seedLeave(studentID, messID string, start, end time.Time) {
	for _, d := range clock.Days(start, end) {
		rec := model.NewAttendanceRecord(studentID, messID, d)
		_ = rec.ApplyLeave(model.LeaveVacation, "", start, end)
		_ = env.attendance.Create(context.Background(), rec)
	}
}

// seedMeals stores a non-leave row with the given meals present.
func (env *testEnv) seedMeals(studentID, messID string, d time.Time, meals ...model.MealType) *model.AttendanceRecord {
	rec := model.NewAttendanceRecord(studentID, messID, d)
	for _, m := range meals {
		_ = rec.MarkMeal(m, true, model.MarkedByStudent, d)
	}
	_ = rec.Recompute()
	_ = env.attendance.Create(context.Background(), rec)
	return rec
}

// ── MarkMeal ──

func TestAttendanceService_MarkMeal_CreatesAndOverwrites(t *testing.T) {
	env := setupTestEnv(jan(9).Add(9 * time.Hour))
	ctx := context.Background()

	rec, err := env.ledger.MarkMeal(ctx, student("stu-1"), "", jan(9).Add(13*time.Hour), model.MealLunch, true)
	if err != nil {
		t.Fatalf("MarkMeal should succeed: %v", err)
	}
	if !rec.Date.Equal(jan(9)) {
		t.Errorf("expected date normalized to midnight, got %v", rec.Date)
	}
	if rec.MessID != "mess-1" || rec.Meals[0].MarkedBy != model.MarkedByStudent {
		t.Errorf("unexpected record %+v", rec)
	}

	rec, err = env.ledger.MarkMeal(ctx, manager, "stu-1", jan(9), model.MealLunch, false)
	if err != nil {
		t.Fatalf("overwrite should succeed: %v", err)
	}
	if len(rec.Meals) != 1 || rec.Meals[0].IsPresent || rec.Meals[0].MarkedBy != model.MarkedByManager {
		t.Errorf("expected one overwritten lunch mark, got %+v", rec.Meals)
	}
	if env.attendance.count("stu-1") != 1 {
		t.Errorf("expected a single record, got %d", env.attendance.count("stu-1"))
	}
}

func TestAttendanceService_MarkMeals_Several(t *testing.T) {
	env := setupTestEnv(jan(9))

	rec, err := env.ledger.MarkMeals(context.Background(), student("stu-1"), "", jan(9), []MealInput{
		{MealType: model.MealBreakfast, IsPresent: true},
		{MealType: model.MealDinner, IsPresent: true},
		{MealType: model.MealEveningSnacks, IsPresent: false},
	})
	if err != nil {
		t.Fatalf("MarkMeals should succeed: %v", err)
	}
	if rec.TotalMealsPresent != 2 || rec.TotalMealsAbsent != 1 {
		t.Errorf("expected 2/1, got %d/%d", rec.TotalMealsPresent, rec.TotalMealsAbsent)
	}
}

func TestAttendanceService_MarkMeal_OnLeaveConflict(t *testing.T) {
	env := setupTestEnv(jan(9))
	env.seedLeave("stu-1", "mess-1", jan(10), jan(12))

	_, err := env.ledger.MarkMeal(context.Background(), student("stu-1"), "", jan(11), model.MealLunch, true)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, _ := env.attendance.GetByStudentDate(context.Background(), "stu-1", jan(11))
	if !got.IsOnLeave || len(got.Meals) != 0 {
		t.Error("leave record must stay untouched")
	}
}

func TestAttendanceService_MarkMeal_Authorization(t *testing.T) {
	env := setupTestEnv(jan(9))
	ctx := context.Background()

	tests := []struct {
		name    string
		actor   Actor
		student string
		want    error
	}{
		{"student for another", student("stu-1"), "stu-2", apperr.ErrAuthorization},
		{"manager of other mess", otherManager, "stu-1", apperr.ErrAuthorization},
		{"inactive student", admin, "stu-9", apperr.ErrNotFound},
		{"not a student", admin, "mgr-1", apperr.ErrNotFound},
		{"unknown", admin, "nobody", apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.ledger.MarkMeal(ctx, tt.actor, tt.student, jan(9), model.MealLunch, true)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

// ── RegisterLeave ──

func TestAttendanceService_RegisterLeave_Success(t *testing.T) {
	env := setupTestEnv(jan(9).Add(20 * time.Hour))
	ctx := context.Background()
	env.seedMeals("stu-1", "mess-1", jan(11), model.MealLunch)

	recs, err := env.ledger.RegisterLeave(ctx, student("stu-1"), "", LeaveInput{
		StartDate: jan(10), EndDate: jan(12), Reason: model.LeaveHomeVisit, Description: "wedding",
	})
	if err != nil {
		t.Fatalf("RegisterLeave should succeed: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for i, r := range recs {
		if !r.Date.Equal(jan(10 + i)) {
			t.Errorf("record %d: expected %v, got %v", i, jan(10+i), r.Date)
		}
		if !r.IsOnLeave || len(r.Meals) != 0 || r.TotalMealsAbsent != model.MealsPerDay {
			t.Errorf("record %d breaks the leave invariant: %+v", i, r)
		}
		if !r.LeaveStartDate.Equal(jan(10)) || !r.LeaveEndDate.Equal(jan(12)) {
			t.Errorf("record %d: wrong interval %v-%v", i, r.LeaveStartDate, r.LeaveEndDate)
		}
	}
	if env.attendance.count("stu-1") != 3 {
		t.Errorf("existing record should be converted, not duplicated")
	}
}

func TestAttendanceService_RegisterLeave_OverlapRejected(t *testing.T) {
	env := setupTestEnv(jan(9))
	ctx := context.Background()

	if _, err := env.ledger.RegisterLeave(ctx, student("stu-1"), "", LeaveInput{
		StartDate: jan(10), EndDate: jan(12), Reason: model.LeaveVacation,
	}); err != nil {
		t.Fatalf("first RegisterLeave should succeed: %v", err)
	}
	before, _ := env.attendance.ListByStudentRange(ctx, "stu-1", jan(1), jan(31))

	_, err := env.ledger.RegisterLeave(ctx, student("stu-1"), "", LeaveInput{
		StartDate: jan(11), EndDate: jan(13), Reason: model.LeaveSick,
	})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	after, _ := env.attendance.ListByStudentRange(ctx, "stu-1", jan(1), jan(31))
	if len(after) != len(before) {
		t.Fatalf("expected %d records after rejection, got %d", len(before), len(after))
	}
	for i := range after {
		if after[i].LeaveReason != model.LeaveVacation || !after[i].LeaveEndDate.Equal(jan(12)) {
			t.Errorf("record %s was mutated by the rejected call", dayKey(after[i].Date))
		}
	}
}

func TestAttendanceService_RegisterLeave_IntervalContainsSingleDayLeave(t *testing.T) {
	env := setupTestEnv(jan(9))
	env.seedLeave("stu-1", "mess-1", jan(15), jan(15))

	_, err := env.ledger.RegisterLeave(context.Background(), student("stu-1"), "", LeaveInput{
		StartDate: jan(14), EndDate: jan(16), Reason: model.LeaveOther,
	})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
	if env.attendance.count("stu-1") != 1 {
		t.Error("no day may be written on rejection")
	}
}

func TestAttendanceService_RegisterLeave_Validation(t *testing.T) {
	env := setupTestEnv(jan(9).Add(10 * time.Hour))

	tests := []struct {
		name string
		in   LeaveInput
	}{
		{"end before start", LeaveInput{StartDate: jan(12), EndDate: jan(10), Reason: model.LeaveVacation}},
		{"retroactive", LeaveInput{StartDate: jan(8), EndDate: jan(10), Reason: model.LeaveVacation}},
		{"bad reason", LeaveInput{StartDate: jan(10), EndDate: jan(10), Reason: "party"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.ledger.RegisterLeave(context.Background(), student("stu-1"), "", tt.in)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestAttendanceService_RegisterLeave_TodayAllowed(t *testing.T) {
	env := setupTestEnv(jan(9).Add(23 * time.Hour))
	recs, err := env.ledger.RegisterLeave(context.Background(), student("stu-1"), "", LeaveInput{
		StartDate: jan(9), EndDate: jan(9), Reason: model.LeaveEmergency,
	})
	if err != nil || len(recs) != 1 {
		t.Fatalf("leave starting today should succeed, got %v (%d records)", err, len(recs))
	}
}

// ── CancelLeave ──

func TestAttendanceService_CancelLeave_Future(t *testing.T) {
	env := setupTestEnv(jan(9))
	ctx := context.Background()
	env.seedLeave("stu-1", "mess-1", jan(10), jan(10))
	rec, _ := env.attendance.GetByStudentDate(ctx, "stu-1", jan(10))

	if err := env.ledger.CancelLeave(ctx, student("stu-1"), rec.AttendanceID); err != nil {
		t.Fatalf("CancelLeave should succeed: %v", err)
	}
	if _, err := env.attendance.GetByID(ctx, rec.AttendanceID); err == nil {
		t.Error("cancelled leave record should be deleted")
	}
}

func TestAttendanceService_CancelLeave_Past(t *testing.T) {
	env := setupTestEnv(jan(9))
	ctx := context.Background()
	env.seedLeave("stu-1", "mess-1", jan(8), jan(8))
	rec, _ := env.attendance.GetByStudentDate(ctx, "stu-1", jan(8))

	err := env.ledger.CancelLeave(ctx, student("stu-1"), rec.AttendanceID)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := env.attendance.GetByID(ctx, rec.AttendanceID); err != nil {
		t.Error("past leave must remain")
	}
}

func TestAttendanceService_CancelLeave_Rules(t *testing.T) {
	env := setupTestEnv(jan(9))
	ctx := context.Background()
	env.seedLeave("stu-1", "mess-1", jan(10), jan(10))
	leave, _ := env.attendance.GetByStudentDate(ctx, "stu-1", jan(10))
	plain := env.seedMeals("stu-1", "mess-1", jan(11), model.MealLunch)

	if err := env.ledger.CancelLeave(ctx, student("stu-2"), leave.AttendanceID); !errors.Is(err, apperr.ErrAuthorization) {
		t.Errorf("other student: expected ErrAuthorization, got %v", err)
	}
	if err := env.ledger.CancelLeave(ctx, otherManager, leave.AttendanceID); !errors.Is(err, apperr.ErrAuthorization) {
		t.Errorf("other mess manager: expected ErrAuthorization, got %v", err)
	}
	if err := env.ledger.CancelLeave(ctx, student("stu-1"), plain.AttendanceID); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("not on leave: expected ErrValidation, got %v", err)
	}
	if err := env.ledger.CancelLeave(ctx, manager, "att-missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing: expected ErrNotFound, got %v", err)
	}
	if err := env.ledger.CancelLeave(ctx, manager, leave.AttendanceID); err != nil {
		t.Errorf("manager of the mess may cancel: %v", err)
	}
}

// ── reads ──

func TestAttendanceService_GetMonthly_Inclusive(t *testing.T) {
	env := setupTestEnv(time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC))
	env.seedMeals("stu-1", "mess-1", time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), model.MealLunch)
	env.seedMeals("stu-1", "mess-1", jan(1), model.MealLunch)
	env.seedMeals("stu-1", "mess-1", jan(31), model.MealLunch)
	env.seedMeals("stu-1", "mess-1", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), model.MealLunch)

	recs, err := env.ledger.GetMonthly(context.Background(), student("stu-1"), "", 1, 2026)
	if err != nil {
		t.Fatalf("GetMonthly: %v", err)
	}
	if len(recs) != 2 || !recs[0].Date.Equal(jan(1)) || !recs[1].Date.Equal(jan(31)) {
		t.Errorf("expected Jan 1 and Jan 31 ascending, got %d records", len(recs))
	}

	if _, err := env.ledger.GetMonthly(context.Background(), student("stu-1"), "", 13, 2026); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected ErrValidation for month 13, got %v", err)
	}
}

func TestAttendanceService_GetByDateRange(t *testing.T) {
	env := setupTestEnv(jan(20))
	for d := 5; d <= 15; d++ {
		env.seedMeals("stu-1", "mess-1", jan(d), model.MealDinner)
	}

	recs, err := env.ledger.GetByDateRange(context.Background(), student("stu-1"), "", jan(8), jan(10))
	if err != nil {
		t.Fatalf("GetByDateRange: %v", err)
	}
	if len(recs) != 3 {
		t.Errorf("expected 3 records, got %d", len(recs))
	}

	if _, err := env.ledger.GetByDateRange(context.Background(), student("stu-1"), "", jan(10), jan(8)); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestAttendanceService_GetMessSnapshot(t *testing.T) {
	env := setupTestEnv(jan(9))
	ctx := context.Background()
	env.users.users["stu-4"] = &model.User{UserID: "stu-4", Role: model.RoleStudent, MessID: "mess-1", IsActive: true}
	env.users.users["stu-5"] = &model.User{UserID: "stu-5", Role: model.RoleStudent, MessID: "mess-1", IsActive: true}

	env.seedMeals("stu-1", "mess-1", jan(9), model.MealLunch)
	env.seedLeave("stu-2", "mess-1", jan(9), jan(9))
	env.seedMeals("stu-4", "mess-1", jan(9)) // record, nothing eaten
	env.seedMeals("stu-3", "mess-2", jan(9), model.MealLunch)

	snap, err := env.ledger.GetMessSnapshot(ctx, manager, "mess-1", jan(9))
	if err != nil {
		t.Fatalf("GetMessSnapshot: %v", err)
	}
	if snap.TotalRecords != 3 || snap.StudentsPresent != 1 || snap.StudentsOnLeave != 1 || snap.StudentsAbsent != 1 {
		t.Errorf("unexpected counts %+v", snap)
	}
	if snap.StudentsUnmarked != 1 {
		t.Errorf("expected stu-5 unmarked, got %d", snap.StudentsUnmarked)
	}

	if _, err := env.ledger.GetMessSnapshot(ctx, otherManager, "mess-1", jan(9)); !errors.Is(err, apperr.ErrAuthorization) {
		t.Errorf("expected ErrAuthorization, got %v", err)
	}
}

// ── Correct / Delete ──

func TestAttendanceService_Correct(t *testing.T) {
	env := setupTestEnv(jan(9))
	ctx := context.Background()
	rec := env.seedMeals("stu-1", "mess-1", jan(8), model.MealLunch)

	onLeave := true
	reason := string(model.LeaveSick)
	got, err := env.ledger.Correct(ctx, manager, rec.AttendanceID, &dto.CorrectAttendanceRequest{
		IsOnLeave:   &onLeave,
		LeaveReason: &reason,
	})
	if err != nil {
		t.Fatalf("Correct to leave: %v", err)
	}
	if !got.IsOnLeave || len(got.Meals) != 0 || got.TotalMealsAbsent != model.MealsPerDay {
		t.Errorf("expected leave record, got %+v", got)
	}

	off := false
	present := true
	got, err = env.ledger.Correct(ctx, manager, rec.AttendanceID, &dto.CorrectAttendanceRequest{
		IsOnLeave: &off,
		Meals:     []dto.MealMarkRequest{{MealType: "dinner", IsPresent: &present}},
	})
	if err != nil {
		t.Fatalf("Correct back: %v", err)
	}
	if got.IsOnLeave || got.LeaveStartDate != nil || got.TotalMealsPresent != 1 || got.Meals[0].MarkedBy != model.MarkedByManager {
		t.Errorf("expected one dinner mark by manager, got %+v", got)
	}

	if _, err := env.ledger.Correct(ctx, student("stu-1"), rec.AttendanceID, &dto.CorrectAttendanceRequest{}); !errors.Is(err, apperr.ErrAuthorization) {
		t.Errorf("students cannot correct: %v", err)
	}
	if _, err := env.ledger.Correct(ctx, otherManager, rec.AttendanceID, &dto.CorrectAttendanceRequest{}); !errors.Is(err, apperr.ErrAuthorization) {
		t.Errorf("other mess manager cannot correct: %v", err)
	}
}

func TestAttendanceService_Delete(t *testing.T) {
	env := setupTestEnv(jan(9))
	ctx := context.Background()
	rec := env.seedMeals("stu-1", "mess-1", jan(8), model.MealLunch)

	if err := env.ledger.Delete(ctx, manager, rec.AttendanceID); !errors.Is(err, apperr.ErrAuthorization) {
		t.Errorf("only admins delete: %v", err)
	}
	if err := env.ledger.Delete(ctx, admin, rec.AttendanceID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if err := env.ledger.Delete(ctx, admin, rec.AttendanceID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestAttendanceService_GetRecord(t *testing.T) {
	env := setupTestEnv(jan(9))
	rec := env.seedMeals("stu-1", "mess-1", jan(8), model.MealLunch)

	if _, err := env.ledger.GetRecord(context.Background(), student("stu-1"), rec.AttendanceID); err != nil {
		t.Errorf("owner read: %v", err)
	}
	if _, err := env.ledger.GetRecord(context.Background(), student("stu-2"), rec.AttendanceID); !errors.Is(err, apperr.ErrAuthorization) {
		t.Errorf("expected ErrAuthorization, got %v", err)
	}
}
