package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"messhub/backend/internal/model"
	"messhub/backend/pkg/apperr"
)

// BillFilter optional ListByMess filters; zero values are ignored.
type BillFilter struct {
	MessID    string
	StudentID string
	Month     int
	Year      int
	// Status matches the status derived as of Now, not the stored column.
	Status model.PaymentStatus
	Now    time.Time
	// IncludeCancelled lists cancelled bills too.
	IncludeCancelled bool
}

// BillRepository bill data access
type BillRepository interface {
	Create(ctx context.Context, bill *model.Bill) error
	// Update writes every column guarded by bill.Version and bumps it.
	// Returns apperr.ErrOptimisticLock when the row moved on.
	Update(ctx context.Context, bill *model.Bill) error
	GetByID(ctx context.Context, id string) (*model.Bill, error)
	GetActiveByStudentPeriod(ctx context.Context, studentID string, month, year int) (*model.Bill, error)
	CountByNumberPrefix(ctx context.Context, prefix string) (int64, error)
	ListByStudent(ctx context.Context, studentID string) ([]model.Bill, error)
	ListByMess(ctx context.Context, f BillFilter, offset, limit int) ([]model.Bill, int64, error)
	// ListUnpaid active bills with an outstanding amount, earliest due first.
	ListUnpaid(ctx context.Context, messID string) ([]model.Bill, error)
	// ListOverdue unpaid bills whose due date is before now.
	ListOverdue(ctx context.Context, messID string, now time.Time) ([]model.Bill, error)
	// ListLateFeeCandidates overdue bills across all messes that carry no late fee yet.
	ListLateFeeCandidates(ctx context.Context, now time.Time) ([]model.Bill, error)
}

type billRepo struct {
	db  *gorm.DB
	loc *time.Location
}

// NewBillRepo creates a BillRepository.
func NewBillRepo(db *gorm.DB, loc *time.Location) BillRepository {
	return &billRepo{db: db, loc: loc}
}

func (r *billRepo) Create(ctx context.Context, bill *model.Bill) error {
	if bill.Version == 0 {
		bill.Version = 1
	}
	return r.db.WithContext(ctx).Omit("Student").Create(bill).Error
}

func (r *billRepo) Update(ctx context.Context, bill *model.Bill) error {
	current := bill.Version
	bill.Version = current + 1

	result := r.db.WithContext(ctx).
		Model(&model.Bill{}).
		Where("bill_id = ? AND version = ?", bill.BillID, current).
		Select("*").
		Omit("bill_id", "created_at", "created_by", "Student").
		Updates(bill)
	if result.Error != nil {
		bill.Version = current
		return result.Error
	}
	if result.RowsAffected == 0 {
		bill.Version = current
		return apperr.ErrOptimisticLock
	}
	return nil
}

func (r *billRepo) GetByID(ctx context.Context, id string) (*model.Bill, error) {
	var bill model.Bill
	err := r.db.WithContext(ctx).
		Preload("Student").
		Where("bill_id = ?", id).
		First(&bill).Error
	if err != nil {
		return nil, err
	}
	bill.NormalizeDates(r.loc)
	return &bill, nil
}

func (r *billRepo) GetActiveByStudentPeriod(ctx context.Context, studentID string, month, year int) (*model.Bill, error) {
	var bill model.Bill
	err := r.db.WithContext(ctx).
		Where("student_id = ? AND month = ? AND year = ? AND is_cancelled = ?", studentID, month, year, false).
		First(&bill).Error
	if err != nil {
		return nil, err
	}
	bill.NormalizeDates(r.loc)
	return &bill, nil
}

func (r *billRepo) CountByNumberPrefix(ctx context.Context, prefix string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Bill{}).
		Where("bill_number LIKE ?", prefix+"%").
		Count(&count).Error
	return count, err
}

func (r *billRepo) ListByStudent(ctx context.Context, studentID string) ([]model.Bill, error) {
	var bills []model.Bill
	err := r.db.WithContext(ctx).
		Where("student_id = ? AND is_cancelled = ?", studentID, false).
		Order("year DESC, month DESC").
		Find(&bills).Error
	if err != nil {
		return nil, err
	}
	r.normalize(bills)
	return bills, nil
}

func (r *billRepo) ListByMess(ctx context.Context, f BillFilter, offset, limit int) ([]model.Bill, int64, error) {
	var bills []model.Bill
	var total int64

	db := r.db.WithContext(ctx).Model(&model.Bill{}).Where("mess_id = ?", f.MessID)
	if !f.IncludeCancelled {
		db = db.Where("is_cancelled = ?", false)
	}
	if f.StudentID != "" {
		db = db.Where("student_id = ?", f.StudentID)
	}
	if f.Month != 0 {
		db = db.Where("month = ?", f.Month)
	}
	if f.Year != 0 {
		db = db.Where("year = ?", f.Year)
	}
	if f.Status != "" {
		db = whereStatus(db, f.Status, f.Now)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := db.Preload("Student").
		Offset(offset).Limit(limit).
		Order("year DESC, month DESC, bill_number ASC").
		Find(&bills).Error; err != nil {
		return nil, 0, err
	}

	r.normalize(bills)
	return bills, total, nil
}

func (r *billRepo) ListUnpaid(ctx context.Context, messID string) ([]model.Bill, error) {
	var bills []model.Bill
	err := r.outstanding(ctx).
		Preload("Student").
		Where("mess_id = ?", messID).
		Order("due_date ASC").
		Find(&bills).Error
	if err != nil {
		return nil, err
	}
	r.normalize(bills)
	return bills, nil
}

func (r *billRepo) ListOverdue(ctx context.Context, messID string, now time.Time) ([]model.Bill, error) {
	var bills []model.Bill
	err := r.outstanding(ctx).
		Preload("Student").
		Where("mess_id = ? AND due_date < ?", messID, now).
		Order("due_date ASC").
		Find(&bills).Error
	if err != nil {
		return nil, err
	}
	r.normalize(bills)
	return bills, nil
}

func (r *billRepo) ListLateFeeCandidates(ctx context.Context, now time.Time) ([]model.Bill, error) {
	var bills []model.Bill
	err := r.outstanding(ctx).
		Where("due_date < ? AND late_fee = 0", now).
		Order("due_date ASC").
		Find(&bills).Error
	if err != nil {
		return nil, err
	}
	r.normalize(bills)
	return bills, nil
}

// outstanding active bills with something left to pay. amount_due is stored
// on every save, so it stays accurate while the stored status may lag behind
// the clock.
func (r *billRepo) outstanding(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Where("is_active = ? AND is_cancelled = ? AND amount_due > 0", true, false)
}

// whereStatus mirrors Bill.Recompute's status ladder on the stored amounts,
// which are saved on every write, so a bill crossing its due date without a
// save is matched by what it reads as now.
func whereStatus(db *gorm.DB, status model.PaymentStatus, now time.Time) *gorm.DB {
	switch status {
	case model.PaymentPaid:
		return db.Where("amount_due <= 0 AND total_amount > 0")
	case model.PaymentPartiallyPaid:
		return db.Where("amount_paid > 0 AND amount_due > 0")
	case model.PaymentOverdue:
		return db.Where("amount_paid <= 0 AND amount_due > 0 AND due_date < ?", now)
	case model.PaymentWaived:
		return db.Where("total_amount = 0")
	case model.PaymentUnpaid:
		return db.Where("amount_paid <= 0 AND amount_due > 0 AND due_date >= ?", now)
	}
	return db.Where("1 = 0")
}

func (r *billRepo) normalize(bills []model.Bill) {
	for i := range bills {
		bills[i].NormalizeDates(r.loc)
	}
}
