package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"messhub/backend/internal/dto"
	"messhub/backend/internal/repository"
	"messhub/backend/pkg/apperr"
	"messhub/backend/pkg/clock"
)

// PresenceService the auto-presence policy: every active student gets a
// record for the day, defaulting to all meals present unless a leave or an
// explicit mark is already there.
type PresenceService interface {
	// Run applies the policy to day; a zero day means yesterday.
	Run(ctx context.Context, day time.Time) (*dto.AutoPresenceResult, error)
}

type presenceService struct {
	repo       *repository.Repository
	attendance AttendanceService
	clock      clock.Clock
	logger     *zap.Logger
}

// NewPresenceService creates the policy runner. Writes go through the
// ledger service so they take the same per-student lock as requests.
func NewPresenceService(repo *repository.Repository, attendance AttendanceService, clk clock.Clock, logger *zap.Logger) PresenceService {
	return &presenceService{repo: repo, attendance: attendance, clock: clk, logger: logger}
}

func (s *presenceService) Run(ctx context.Context, day time.Time) (*dto.AutoPresenceResult, error) {
	if day.IsZero() {
		day = clock.Yesterday(s.clock)
	}
	day = clock.StartOfDay(day, s.clock.Location())
	if !day.Before(clock.Today(s.clock)) {
		return nil, apperr.Validation("auto-presence only runs for past days")
	}

	students, err := s.repo.User.ListActiveStudents(ctx, "")
	if err != nil {
		s.logger.Error("list active students failed", zap.Error(err))
		return nil, err
	}

	result := &dto.AutoPresenceResult{
		Date:     day.Format(dto.DateLayout),
		Students: len(students),
	}
	for i := range students {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		outcome, err := s.attendance.FillPresent(ctx, &students[i], day)
		if err != nil {
			s.logger.Warn("auto-presence failed",
				zap.String("student_id", students[i].UserID), zap.Error(err))
			result.Errors = append(result.Errors, dto.ItemError{
				StudentID: students[i].UserID,
				Message:   apperr.Message(err, "internal error"),
			})
			continue
		}

		switch outcome {
		case PresenceCreated:
			result.Created++
		case PresenceFilled:
			result.Filled++
		case PresenceSkippedLeave:
			result.SkippedLeave++
		case PresenceSkippedMarked:
			result.SkippedMarked++
		}
	}

	s.logger.Info("auto-presence finished",
		zap.String("date", result.Date),
		zap.Int("students", result.Students),
		zap.Int("created", result.Created),
		zap.Int("filled", result.Filled),
		zap.Int("skipped_leave", result.SkippedLeave),
		zap.Int("skipped_marked", result.SkippedMarked),
		zap.Int("failed", len(result.Errors)),
	)
	return result, nil
}
