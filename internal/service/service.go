package service

import (
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"messhub/backend/config"
	"messhub/backend/internal/model"
	"messhub/backend/internal/repository"
	"messhub/backend/pkg/apperr"
	"messhub/backend/pkg/clock"
	"messhub/backend/pkg/lock"
)

// Service aggregates all services.
type Service struct {
	Attendance AttendanceService
	Aggregator AggregatorService
	Billing    BillingService
	Presence   PresenceService
}

// NewService wires the services. The ledger, billing and the presence
// policy share one clock and one locker.
func NewService(
	cfg *config.Config,
	repo *repository.Repository,
	locker lock.Locker,
	clk clock.Clock,
	logger *zap.Logger,
) *Service {
	attendance := NewAttendanceService(repo, locker, clk, logger)
	aggregator := NewAggregatorService(repo, clk, logger)
	return &Service{
		Attendance: attendance,
		Aggregator: aggregator,
		Billing:    NewBillingService(repo, aggregator, locker, clk, BillingOptions{DueDays: cfg.Billing.DueDays, Concurrency: cfg.Billing.BulkConcurrency}, logger),
		Presence:   NewPresenceService(repo, attendance, clk, logger),
	}
}

// Actor the authenticated caller of an operation.
type Actor struct {
	UserID string
	Role   string
	MessID string
}

// SystemActor is used by scheduled jobs.
var SystemActor = Actor{Role: model.RoleAdmin}

// IsStudent reports whether the actor is a student.
func (a Actor) IsStudent() bool { return a.Role == model.RoleStudent }

// IsAdmin reports whether the actor is an admin.
func (a Actor) IsAdmin() bool { return a.Role == model.RoleAdmin }

// CanAccessMess managers are limited to their own mess, admins see all.
func (a Actor) CanAccessMess(messID string) bool {
	switch a.Role {
	case model.RoleAdmin:
		return true
	case model.RoleManager:
		return a.MessID != "" && a.MessID == messID
	}
	return false
}

// CanAccessStudent students only reach their own data.
func (a Actor) CanAccessStudent(studentID, messID string) bool {
	if a.IsStudent() {
		return a.UserID == studentID
	}
	return a.CanAccessMess(messID)
}

// repoErr maps repository misses and unique violations onto the taxonomy.
// Anything else is returned unchanged as an internal error.
func repoErr(err error, what string, id string) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperr.NotFound("%s %s not found", what, id)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return apperr.Conflict("%s %s already exists", what, id)
	}
	return err
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
