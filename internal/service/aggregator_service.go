package service

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"messhub/backend/internal/dto"
	"messhub/backend/internal/model"
	"messhub/backend/internal/repository"
	"messhub/backend/pkg/clock"
)

// Usage everything billing needs from one month of the ledger.
type Usage struct {
	Summary dto.AttendanceSummary
	// MealDays days each meal type was eaten.
	MealDays           map[model.MealType]int
	TotalMealsConsumed int
}

// AggregatorService read-only reductions of the ledger. Results depend only
// on the stored records.
type AggregatorService interface {
	Summarize(ctx context.Context, studentID string, month, year int) (*dto.AttendanceSummary, error)
	MealConsumption(ctx context.Context, studentID string, month, year int, meal model.MealType) (int, error)
	// Usage summary plus per-meal consumption from a single ledger read.
	Usage(ctx context.Context, studentID string, month, year int) (*Usage, error)
}

type aggregatorService struct {
	repo   *repository.Repository
	clock  clock.Clock
	logger *zap.Logger
}

// NewAggregatorService creates the aggregator.
func NewAggregatorService(repo *repository.Repository, clk clock.Clock, logger *zap.Logger) AggregatorService {
	return &aggregatorService{repo: repo, clock: clk, logger: logger}
}

func (s *aggregatorService) Summarize(ctx context.Context, studentID string, month, year int) (*dto.AttendanceSummary, error) {
	recs, err := s.monthRecords(ctx, studentID, month, year)
	if err != nil {
		return nil, err
	}
	sum := SummarizeRecords(recs, studentID, month, year)
	return &sum, nil
}

func (s *aggregatorService) MealConsumption(ctx context.Context, studentID string, month, year int, meal model.MealType) (int, error) {
	recs, err := s.monthRecords(ctx, studentID, month, year)
	if err != nil {
		return 0, err
	}
	return CountMeal(recs, meal), nil
}

func (s *aggregatorService) Usage(ctx context.Context, studentID string, month, year int) (*Usage, error) {
	recs, err := s.monthRecords(ctx, studentID, month, year)
	if err != nil {
		return nil, err
	}

	u := &Usage{
		Summary:  SummarizeRecords(recs, studentID, month, year),
		MealDays: make(map[model.MealType]int, len(model.MealTypes)),
	}
	for _, meal := range model.MealTypes {
		n := CountMeal(recs, meal)
		u.MealDays[meal] = n
		u.TotalMealsConsumed += n
	}
	return u, nil
}

func (s *aggregatorService) monthRecords(ctx context.Context, studentID string, month, year int) ([]model.AttendanceRecord, error) {
	if err := validPeriod(month, year); err != nil {
		return nil, err
	}
	start, end := clock.MonthBounds(year, month, s.clock.Location())
	recs, err := s.repo.Attendance.ListByStudentRange(ctx, studentID, start, end)
	if err != nil {
		s.logger.Error("list monthly attendance failed", zap.String("student_id", studentID), zap.Error(err))
		return nil, err
	}
	return recs, nil
}

// ── pure reducers ──

// SummarizeRecords reduces a month of ledger records. TotalDays counts
// records, not calendar days. A day is absent when on leave or when no meal
// was eaten.
func SummarizeRecords(recs []model.AttendanceRecord, studentID string, month, year int) dto.AttendanceSummary {
	sum := dto.AttendanceSummary{
		StudentID: studentID,
		Month:     month,
		Year:      year,
		TotalDays: len(recs),
	}
	for i := range recs {
		if recs[i].IsAbsentDay() {
			sum.AbsentDays++
		} else {
			sum.PresentDays++
		}
		sum.TotalMealsPresent += recs[i].TotalMealsPresent
		sum.TotalMealsAbsent += recs[i].TotalMealsAbsent
	}
	if sum.TotalDays > 0 {
		sum.AttendancePercentage = decimal.NewFromInt(int64(sum.PresentDays * 100)).
			Div(decimal.NewFromInt(int64(sum.TotalDays))).
			Round(2).
			InexactFloat64()
	}
	return sum
}

// CountMeal days on which meal was marked present. Leave days have no meals.
func CountMeal(recs []model.AttendanceRecord, meal model.MealType) int {
	n := 0
	for i := range recs {
		if recs[i].HasMeal(meal) {
			n++
		}
	}
	return n
}
