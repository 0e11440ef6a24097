package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository aggregates all repositories.
type Repository struct {
	User       UserRepository
	Attendance AttendanceRepository
	Bill       BillRepository

	db  *gorm.DB
	loc *time.Location
}

// NewRepository builds the aggregate. loc is the clock zone DATE columns are
// re-anchored to on load.
func NewRepository(db *gorm.DB, loc *time.Location) *Repository {
	return &Repository{
		User:       NewUserRepo(db),
		Attendance: NewAttendanceRepo(db, loc),
		Bill:       NewBillRepo(db, loc),
		db:         db,
		loc:        loc,
	}
}

// RunInTx runs fn with an aggregate bound to one transaction. fn's error
// rolls the transaction back. Without a db (tests wiring mocks) fn runs
// against r directly.
func (r *Repository) RunInTx(ctx context.Context, fn func(txRepo *Repository) error) error {
	if r.db == nil {
		return fn(r)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepository(tx, r.loc))
	})
}
