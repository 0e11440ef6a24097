package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"messhub/backend/internal/model"
)

// AttendanceRepository ledger data access
type AttendanceRepository interface {
	Create(ctx context.Context, rec *model.AttendanceRecord) error
	Update(ctx context.Context, rec *model.AttendanceRecord) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*model.AttendanceRecord, error)
	// GetByStudentDate locks the row when called inside a transaction.
	GetByStudentDate(ctx context.Context, studentID string, date time.Time) (*model.AttendanceRecord, error)
	ListByStudentRange(ctx context.Context, studentID string, start, end time.Time) ([]model.AttendanceRecord, error)
	ListByMessDate(ctx context.Context, messID string, date time.Time) ([]model.AttendanceRecord, error)
	// FindLeaveConflicts leave records whose interval overlaps [start, end]
	// or whose own date falls inside it.
	FindLeaveConflicts(ctx context.Context, studentID string, start, end time.Time) ([]model.AttendanceRecord, error)
}

type attendanceRepo struct {
	db  *gorm.DB
	loc *time.Location
}

// NewAttendanceRepo creates an AttendanceRepository.
func NewAttendanceRepo(db *gorm.DB, loc *time.Location) AttendanceRepository {
	return &attendanceRepo{db: db, loc: loc}
}

func (r *attendanceRepo) Create(ctx context.Context, rec *model.AttendanceRecord) error {
	return r.db.WithContext(ctx).Omit("Student").Create(rec).Error
}

func (r *attendanceRepo) Update(ctx context.Context, rec *model.AttendanceRecord) error {
	return r.db.WithContext(ctx).
		Model(rec).
		Select("*").
		Omit("attendance_id", "created_at", "created_by", "Student").
		Updates(rec).Error
}

func (r *attendanceRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Where("attendance_id = ?", id).
		Delete(&model.AttendanceRecord{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *attendanceRepo) GetByID(ctx context.Context, id string) (*model.AttendanceRecord, error) {
	var rec model.AttendanceRecord
	err := r.db.WithContext(ctx).
		Where("attendance_id = ?", id).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	rec.NormalizeDates(r.loc)
	return &rec, nil
}

func (r *attendanceRepo) GetByStudentDate(ctx context.Context, studentID string, date time.Time) (*model.AttendanceRecord, error) {
	var rec model.AttendanceRecord
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("student_id = ? AND date = ?", studentID, date).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	rec.NormalizeDates(r.loc)
	return &rec, nil
}

func (r *attendanceRepo) ListByStudentRange(ctx context.Context, studentID string, start, end time.Time) ([]model.AttendanceRecord, error) {
	var recs []model.AttendanceRecord
	err := r.db.WithContext(ctx).
		Where("student_id = ? AND date BETWEEN ? AND ?", studentID, start, end).
		Order("date ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	r.normalize(recs)
	return recs, nil
}

func (r *attendanceRepo) ListByMessDate(ctx context.Context, messID string, date time.Time) ([]model.AttendanceRecord, error) {
	var recs []model.AttendanceRecord
	err := r.db.WithContext(ctx).
		Preload("Student").
		Where("mess_id = ? AND date = ?", messID, date).
		Order("student_id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	r.normalize(recs)
	return recs, nil
}

func (r *attendanceRepo) FindLeaveConflicts(ctx context.Context, studentID string, start, end time.Time) ([]model.AttendanceRecord, error) {
	var recs []model.AttendanceRecord
	err := r.db.WithContext(ctx).
		Where("student_id = ? AND is_on_leave = ?", studentID, true).
		Where(
			r.db.Where("leave_start_date <= ? AND leave_end_date >= ?", end, start).
				Or("date BETWEEN ? AND ?", start, end),
		).
		Order("date ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	r.normalize(recs)
	return recs, nil
}

func (r *attendanceRepo) normalize(recs []model.AttendanceRecord) {
	for i := range recs {
		recs[i].NormalizeDates(r.loc)
	}
}
