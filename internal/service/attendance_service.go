package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"messhub/backend/internal/dto"
	"messhub/backend/internal/model"
	"messhub/backend/internal/repository"
	"messhub/backend/pkg/apperr"
	"messhub/backend/pkg/clock"
	"messhub/backend/pkg/lock"
)

// MealInput one meal of a mark request
type MealInput struct {
	MealType  model.MealType
	IsPresent bool
}

// LeaveInput a leave registration
type LeaveInput struct {
	StartDate   time.Time
	EndDate     time.Time
	Reason      model.LeaveReason
	Description string
}

// PresenceOutcome what FillPresent did with one student-day.
type PresenceOutcome int

const (
	PresenceCreated PresenceOutcome = iota
	PresenceFilled
	PresenceSkippedLeave
	PresenceSkippedMarked
)

// AttendanceService the attendance ledger
type AttendanceService interface {
	MarkMeal(ctx context.Context, actor Actor, studentID string, date time.Time, meal model.MealType, present bool) (*model.AttendanceRecord, error)
	MarkMeals(ctx context.Context, actor Actor, studentID string, date time.Time, meals []MealInput) (*model.AttendanceRecord, error)
	RegisterLeave(ctx context.Context, actor Actor, studentID string, in LeaveInput) ([]model.AttendanceRecord, error)
	CancelLeave(ctx context.Context, actor Actor, recordID string) error
	GetByDateRange(ctx context.Context, actor Actor, studentID string, start, end time.Time) ([]model.AttendanceRecord, error)
	GetMonthly(ctx context.Context, actor Actor, studentID string, month, year int) ([]model.AttendanceRecord, error)
	GetMessSnapshot(ctx context.Context, actor Actor, messID string, date time.Time) (*dto.MessSnapshotResponse, error)
	GetRecord(ctx context.Context, actor Actor, recordID string) (*model.AttendanceRecord, error)
	Correct(ctx context.Context, actor Actor, recordID string, req *dto.CorrectAttendanceRequest) (*model.AttendanceRecord, error)
	Delete(ctx context.Context, actor Actor, recordID string) error
	// FillPresent is the auto-presence write for one student-day.
	FillPresent(ctx context.Context, student *model.User, day time.Time) (PresenceOutcome, error)
}

type attendanceService struct {
	repo   *repository.Repository
	locker lock.Locker
	clock  clock.Clock
	logger *zap.Logger
}

// NewAttendanceService creates the ledger service.
func NewAttendanceService(repo *repository.Repository, locker lock.Locker, clk clock.Clock, logger *zap.Logger) AttendanceService {
	return &attendanceService{repo: repo, locker: locker, clock: clk, logger: logger}
}

// ────────────────────── MarkMeal ──────────────────────

func (s *attendanceService) MarkMeal(ctx context.Context, actor Actor, studentID string, date time.Time, meal model.MealType, present bool) (*model.AttendanceRecord, error) {
	return s.MarkMeals(ctx, actor, studentID, date, []MealInput{{MealType: meal, IsPresent: present}})
}

func (s *attendanceService) MarkMeals(ctx context.Context, actor Actor, studentID string, date time.Time, meals []MealInput) (*model.AttendanceRecord, error) {
	if len(meals) == 0 {
		return nil, apperr.Validation("at least one meal is required")
	}
	student, err := s.resolveStudent(ctx, actor, studentID)
	if err != nil {
		return nil, err
	}

	day := s.day(date)
	by := markedBy(actor)

	var rec *model.AttendanceRecord
	err = s.withStudent(ctx, student.UserID, func(tx *repository.Repository) error {
		existing, err := tx.Attendance.GetByStudentDate(ctx, student.UserID, day)
		created := false
		switch {
		case err == nil:
			rec = existing
		case errors.Is(err, gorm.ErrRecordNotFound):
			rec = model.NewAttendanceRecord(student.UserID, student.MessID, day)
			rec.CreatedBy = strPtr(actor.UserID)
			created = true
		default:
			return err
		}

		now := s.clock.Now()
		for _, m := range meals {
			if err := rec.MarkMeal(m.MealType, m.IsPresent, by, now); err != nil {
				return err
			}
		}
		rec.UpdatedBy = strPtr(actor.UserID)

		if created {
			return tx.Attendance.Create(ctx, rec)
		}
		return tx.Attendance.Update(ctx, rec)
	})
	if err != nil {
		return nil, s.fail("mark meals failed", repoErr(err, "attendance for", day.Format(dto.DateLayout)),
			zap.String("student_id", student.UserID))
	}
	return rec, nil
}

// ────────────────────── RegisterLeave ──────────────────────

func (s *attendanceService) RegisterLeave(ctx context.Context, actor Actor, studentID string, in LeaveInput) ([]model.AttendanceRecord, error) {
	student, err := s.resolveStudent(ctx, actor, studentID)
	if err != nil {
		return nil, err
	}

	start, end := s.day(in.StartDate), s.day(in.EndDate)
	if end.Before(start) {
		return nil, apperr.Validation("end date must not be before start date")
	}
	if start.Before(clock.Today(s.clock)) {
		return nil, apperr.Validation("cannot register leave for past dates")
	}
	if !in.Reason.Valid() {
		return nil, apperr.Validation("leave reason %q is not one of vacation, sick_leave, home_visit, emergency, other", in.Reason)
	}

	var out []model.AttendanceRecord
	err = s.withStudent(ctx, student.UserID, func(tx *repository.Repository) error {
		// validate the whole range before touching any day
		conflicts, err := tx.Attendance.FindLeaveConflicts(ctx, student.UserID, start, end)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			dates := make([]string, 0, len(conflicts))
			for _, c := range conflicts {
				dates = append(dates, c.Date.Format(dto.DateLayout))
			}
			return apperr.Conflict("leave overlaps existing leave on %s", strings.Join(dates, ", "))
		}

		for _, d := range clock.Days(start, end) {
			rec, err := tx.Attendance.GetByStudentDate(ctx, student.UserID, d)
			created := false
			switch {
			case err == nil:
			case errors.Is(err, gorm.ErrRecordNotFound):
				rec = model.NewAttendanceRecord(student.UserID, student.MessID, d)
				rec.CreatedBy = strPtr(actor.UserID)
				created = true
			default:
				return err
			}

			if err := rec.ApplyLeave(in.Reason, in.Description, start, end); err != nil {
				return err
			}
			rec.Status = model.AttendanceConfirmed
			rec.UpdatedBy = strPtr(actor.UserID)

			if created {
				err = tx.Attendance.Create(ctx, rec)
			} else {
				err = tx.Attendance.Update(ctx, rec)
			}
			if err != nil {
				return err
			}
			out = append(out, *rec)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("register leave failed", repoErr(err, "leave for", start.Format(dto.DateLayout)),
			zap.String("student_id", student.UserID))
	}

	s.logger.Info("leave registered",
		zap.String("student_id", student.UserID),
		zap.String("start", start.Format(dto.DateLayout)),
		zap.String("end", end.Format(dto.DateLayout)),
		zap.Int("days", len(out)),
	)
	return out, nil
}

// ────────────────────── CancelLeave ──────────────────────

func (s *attendanceService) CancelLeave(ctx context.Context, actor Actor, recordID string) error {
	rec, err := s.repo.Attendance.GetByID(ctx, recordID)
	if err != nil {
		return s.fail("load attendance failed", repoErr(err, "attendance record", recordID))
	}
	if rec.StudentID != actor.UserID {
		if actor.IsStudent() || !actor.CanAccessMess(rec.MessID) {
			return apperr.Forbidden("you can only cancel your own leave")
		}
	}

	err = s.withStudent(ctx, rec.StudentID, func(tx *repository.Repository) error {
		// re-read under the lock
		cur, err := tx.Attendance.GetByStudentDate(ctx, rec.StudentID, rec.Date)
		if err != nil {
			return err
		}
		if cur.AttendanceID != recordID {
			return gorm.ErrRecordNotFound
		}
		if cur.Date.Before(clock.Today(s.clock)) {
			return apperr.Validation("cannot cancel a leave in the past")
		}
		if !cur.IsOnLeave {
			return apperr.Validation("attendance record %s is not on leave", recordID)
		}
		return tx.Attendance.Delete(ctx, recordID)
	})
	if err != nil {
		return s.fail("cancel leave failed", repoErr(err, "attendance record", recordID), zap.String("record_id", recordID))
	}

	s.logger.Info("leave cancelled",
		zap.String("record_id", recordID),
		zap.String("student_id", rec.StudentID),
		zap.String("by", actor.UserID),
	)
	return nil
}

// ────────────────────── reads ──────────────────────

func (s *attendanceService) GetByDateRange(ctx context.Context, actor Actor, studentID string, start, end time.Time) ([]model.AttendanceRecord, error) {
	student, err := s.resolveStudent(ctx, actor, studentID)
	if err != nil {
		return nil, err
	}
	from, to := s.day(start), s.day(end)
	if to.Before(from) {
		return nil, apperr.Validation("end date must not be before start date")
	}

	recs, err := s.repo.Attendance.ListByStudentRange(ctx, student.UserID, from, to)
	if err != nil {
		return nil, s.fail("list attendance failed", err, zap.String("student_id", student.UserID))
	}
	return recs, nil
}

func (s *attendanceService) GetMonthly(ctx context.Context, actor Actor, studentID string, month, year int) ([]model.AttendanceRecord, error) {
	if err := validPeriod(month, year); err != nil {
		return nil, err
	}
	student, err := s.resolveStudent(ctx, actor, studentID)
	if err != nil {
		return nil, err
	}

	start, end := clock.MonthBounds(year, month, s.clock.Location())
	recs, err := s.repo.Attendance.ListByStudentRange(ctx, student.UserID, start, end)
	if err != nil {
		return nil, s.fail("list monthly attendance failed", err, zap.String("student_id", student.UserID))
	}
	return recs, nil
}

func (s *attendanceService) GetMessSnapshot(ctx context.Context, actor Actor, messID string, date time.Time) (*dto.MessSnapshotResponse, error) {
	if !actor.CanAccessMess(messID) {
		return nil, apperr.Forbidden("no access to mess %s", messID)
	}
	day := s.day(date)

	recs, err := s.repo.Attendance.ListByMessDate(ctx, messID, day)
	if err != nil {
		return nil, s.fail("list mess attendance failed", err, zap.String("mess_id", messID))
	}
	students, err := s.repo.User.ListActiveStudents(ctx, messID)
	if err != nil {
		return nil, s.fail("list mess students failed", err, zap.String("mess_id", messID))
	}

	snap := &dto.MessSnapshotResponse{
		MessID:       messID,
		Date:         day.Format(dto.DateLayout),
		Records:      dto.ToAttendanceResponses(recs),
		TotalRecords: len(recs),
	}
	marked := make(map[string]struct{}, len(recs))
	for i := range recs {
		marked[recs[i].StudentID] = struct{}{}
		switch {
		case recs[i].IsOnLeave:
			snap.StudentsOnLeave++
		case recs[i].TotalMealsPresent > 0:
			snap.StudentsPresent++
		}
	}
	snap.StudentsAbsent = snap.TotalRecords - snap.StudentsPresent - snap.StudentsOnLeave
	for _, st := range students {
		if _, ok := marked[st.UserID]; !ok {
			snap.StudentsUnmarked++
		}
	}
	return snap, nil
}

func (s *attendanceService) GetRecord(ctx context.Context, actor Actor, recordID string) (*model.AttendanceRecord, error) {
	rec, err := s.repo.Attendance.GetByID(ctx, recordID)
	if err != nil {
		return nil, s.fail("load attendance failed", repoErr(err, "attendance record", recordID))
	}
	if !actor.CanAccessStudent(rec.StudentID, rec.MessID) {
		return nil, apperr.Forbidden("no access to attendance record %s", recordID)
	}
	return rec, nil
}

// ────────────────────── Correct / Delete ──────────────────────

func (s *attendanceService) Correct(ctx context.Context, actor Actor, recordID string, req *dto.CorrectAttendanceRequest) (*model.AttendanceRecord, error) {
	if actor.IsStudent() {
		return nil, apperr.Forbidden("only managers and admins can correct attendance")
	}
	rec, err := s.repo.Attendance.GetByID(ctx, recordID)
	if err != nil {
		return nil, s.fail("load attendance failed", repoErr(err, "attendance record", recordID))
	}
	if !actor.CanAccessMess(rec.MessID) {
		return nil, apperr.Forbidden("no access to mess %s", rec.MessID)
	}

	var out *model.AttendanceRecord
	err = s.withStudent(ctx, rec.StudentID, func(tx *repository.Repository) error {
		cur, err := tx.Attendance.GetByStudentDate(ctx, rec.StudentID, rec.Date)
		if err != nil {
			return err
		}
		if cur.AttendanceID != recordID {
			return gorm.ErrRecordNotFound
		}
		if err := s.applyCorrection(cur, req, markedBy(actor)); err != nil {
			return err
		}
		cur.UpdatedBy = strPtr(actor.UserID)
		if err := tx.Attendance.Update(ctx, cur); err != nil {
			return err
		}
		out = cur
		return nil
	})
	if err != nil {
		return nil, s.fail("correct attendance failed", repoErr(err, "attendance record", recordID), zap.String("record_id", recordID))
	}
	return out, nil
}

func (s *attendanceService) applyCorrection(rec *model.AttendanceRecord, req *dto.CorrectAttendanceRequest, by model.MarkedBy) error {
	if req.IsOnLeave != nil && *req.IsOnLeave != rec.IsOnLeave {
		if *req.IsOnLeave {
			reason := model.LeaveOther
			if req.LeaveReason != nil {
				reason = model.LeaveReason(*req.LeaveReason)
			}
			desc := ""
			if req.LeaveDescription != nil {
				desc = *req.LeaveDescription
			}
			if err := rec.ApplyLeave(reason, desc, rec.Date, rec.Date); err != nil {
				return err
			}
		} else {
			rec.IsOnLeave = false
			if err := rec.Recompute(); err != nil {
				return err
			}
		}
	} else if rec.IsOnLeave {
		if req.LeaveReason != nil {
			rec.LeaveReason = model.LeaveReason(*req.LeaveReason)
		}
		if req.LeaveDescription != nil {
			rec.LeaveDescription = *req.LeaveDescription
		}
	}

	if len(req.Meals) > 0 {
		now := s.clock.Now()
		for _, m := range req.Meals {
			if err := rec.MarkMeal(model.MealType(m.MealType), *m.IsPresent, by, now); err != nil {
				return err
			}
		}
	}
	if req.Status != nil {
		rec.Status = *req.Status
	}
	if req.Remarks != nil {
		rec.Remarks = *req.Remarks
	}
	return rec.Recompute()
}

func (s *attendanceService) Delete(ctx context.Context, actor Actor, recordID string) error {
	if !actor.IsAdmin() {
		return apperr.Forbidden("only admins can delete attendance records")
	}
	rec, err := s.repo.Attendance.GetByID(ctx, recordID)
	if err != nil {
		return s.fail("load attendance failed", repoErr(err, "attendance record", recordID))
	}

	err = s.withStudent(ctx, rec.StudentID, func(tx *repository.Repository) error {
		return tx.Attendance.Delete(ctx, recordID)
	})
	if err != nil {
		return s.fail("delete attendance failed", repoErr(err, "attendance record", recordID), zap.String("record_id", recordID))
	}

	s.logger.Info("attendance record deleted", zap.String("record_id", recordID), zap.String("by", actor.UserID))
	return nil
}

// ────────────────────── FillPresent ──────────────────────

func (s *attendanceService) FillPresent(ctx context.Context, student *model.User, day time.Time) (PresenceOutcome, error) {
	day = s.day(day)
	outcome := PresenceSkippedMarked

	err := s.withStudent(ctx, student.UserID, func(tx *repository.Repository) error {
		rec, err := tx.Attendance.GetByStudentDate(ctx, student.UserID, day)
		now := s.clock.Now()
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			rec = model.NewAttendanceRecord(student.UserID, student.MessID, day)
			if err := rec.FillAllPresent(model.MarkedBySystem, now); err != nil {
				return err
			}
			outcome = PresenceCreated
			return tx.Attendance.Create(ctx, rec)
		case err != nil:
			return err
		case rec.IsOnLeave:
			outcome = PresenceSkippedLeave
			return nil
		case len(rec.Meals) > 0:
			outcome = PresenceSkippedMarked
			return nil
		}

		if err := rec.FillAllPresent(model.MarkedBySystem, now); err != nil {
			return err
		}
		outcome = PresenceFilled
		return tx.Attendance.Update(ctx, rec)
	})
	if err != nil {
		return outcome, repoErr(err, "attendance for", day.Format(dto.DateLayout))
	}
	return outcome, nil
}

// ── helpers ──

// resolveStudent looks up the target student and checks the actor may
// act on them. An empty studentID means the actor itself.
func (s *attendanceService) resolveStudent(ctx context.Context, actor Actor, studentID string) (*model.User, error) {
	if studentID == "" {
		studentID = actor.UserID
	}
	if actor.IsStudent() && studentID != actor.UserID {
		return nil, apperr.Forbidden("students can only access their own attendance")
	}

	student, err := s.repo.User.GetByID(ctx, studentID)
	if err != nil {
		return nil, s.fail("load student failed", repoErr(err, "student", studentID))
	}
	if student.Role != model.RoleStudent || !student.IsActive {
		return nil, apperr.NotFound("student %s not found", studentID)
	}
	if !actor.CanAccessStudent(student.UserID, student.MessID) {
		return nil, apperr.Forbidden("no access to student %s", studentID)
	}
	return student, nil
}

// withStudent runs fn in a transaction while holding the student's ledger lock.
func (s *attendanceService) withStudent(ctx context.Context, studentID string, fn func(tx *repository.Repository) error) error {
	unlock, err := s.locker.Lock(ctx, lock.StudentKey(studentID))
	if err != nil {
		return err
	}
	defer unlock()
	return s.repo.RunInTx(ctx, fn)
}

func (s *attendanceService) day(t time.Time) time.Time {
	return clock.StartOfDay(t, s.clock.Location())
}

// fail logs unexpected errors and passes err through.
func (s *attendanceService) fail(msg string, err error, fields ...zap.Field) error {
	if !apperr.IsDomain(err) {
		s.logger.Error(msg, append(fields, zap.Error(err))...)
	}
	return err
}

func markedBy(actor Actor) model.MarkedBy {
	switch {
	case actor.UserID == "":
		return model.MarkedBySystem
	case actor.IsStudent():
		return model.MarkedByStudent
	}
	return model.MarkedByManager
}

func validPeriod(month, year int) error {
	if month < 1 || month > 12 {
		return apperr.Validation("month must be within 1-12")
	}
	if year < 2000 || year > 2100 {
		return apperr.Validation("year %d is out of range", year)
	}
	return nil
}
