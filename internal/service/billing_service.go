package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"messhub/backend/config"
	"messhub/backend/internal/dto"
	"messhub/backend/internal/model"
	"messhub/backend/internal/repository"
	"messhub/backend/pkg/apperr"
	"messhub/backend/pkg/clock"
	"messhub/backend/pkg/lock"
)

// maxLockRetries attempts per bill mutation before giving up on ErrOptimisticLock.
const maxLockRetries = 3

// MealRates rate per meal type. Every meal type must be present.
type MealRates map[model.MealType]decimal.Decimal

// RatesFromConfig converts configured defaults.
func RatesFromConfig(c config.MealRatesConfig) MealRates {
	return MealRates{
		model.MealBreakfast:     decimal.NewFromFloat(c.Breakfast),
		model.MealLunch:         decimal.NewFromFloat(c.Lunch),
		model.MealEveningSnacks: decimal.NewFromFloat(c.EveningSnacks),
		model.MealDinner:        decimal.NewFromFloat(c.Dinner),
	}
}

func (r MealRates) validate() error {
	for _, meal := range model.MealTypes {
		rate, ok := r[meal]
		if !ok {
			return apperr.Validation("missing rate for %s", meal)
		}
		if rate.IsNegative() {
			return apperr.Validation("rate for %s must not be negative", meal)
		}
		if !model.ValidMoney(rate) {
			return apperr.Validation("rate for %s must have at most 2 decimal places", meal)
		}
	}
	return nil
}

// GenerateInput parameters of one bill. MessID defaults to the student's mess.
type GenerateInput struct {
	StudentID    string
	MessID       string
	Month        int
	Year         int
	MealRates    MealRates
	FixedCharges decimal.Decimal
}

// PaymentInput a payment received against a bill
type PaymentInput struct {
	Amount        decimal.Decimal
	Method        string
	TransactionID string
	Remarks       string
}

// BillingOptions engine settings supplied by the caller.
type BillingOptions struct {
	DueDays     int
	Concurrency int
}

// BillingService the billing engine
type BillingService interface {
	Generate(ctx context.Context, actor Actor, in GenerateInput) (*model.Bill, error)
	BulkGenerate(ctx context.Context, actor Actor, in GenerateInput) (*dto.BulkGenerateResult, error)
	AddPayment(ctx context.Context, actor Actor, billID string, in PaymentInput) (*model.Bill, error)
	ApplyDiscount(ctx context.Context, actor Actor, billID string, amount decimal.Decimal, reason string) (*model.Bill, error)
	ApplyLateFee(ctx context.Context, actor Actor, billID string, amount decimal.Decimal, reason string) (*model.Bill, error)
	ApplyAdjustment(ctx context.Context, actor Actor, billID string, amount decimal.Decimal, reason string) (*model.Bill, error)
	CancelBill(ctx context.Context, actor Actor, billID string, reason string) (*model.Bill, error)
	ApplyLateFeesBatch(ctx context.Context, amount decimal.Decimal) (*dto.LateFeeBatchResult, error)
	SettleBills(ctx context.Context, actor Actor, billIDs []string, transactionID string) ([]model.Bill, error)
	Get(ctx context.Context, actor Actor, billID string) (*model.Bill, error)
	ListMine(ctx context.Context, actor Actor) ([]model.Bill, error)
	ListMess(ctx context.Context, actor Actor, messID string, q *dto.BillListQuery) ([]model.Bill, int64, error)
	ListUnpaid(ctx context.Context, actor Actor, messID string) ([]model.Bill, error)
	ListOverdue(ctx context.Context, actor Actor, messID string) ([]model.Bill, error)
}

type billingService struct {
	repo       *repository.Repository
	aggregator AggregatorService
	locker     lock.Locker
	clock      clock.Clock
	opts       BillingOptions
	logger     *zap.Logger
}

// NewBillingService creates the billing engine.
func NewBillingService(
	repo *repository.Repository,
	aggregator AggregatorService,
	locker lock.Locker,
	clk clock.Clock,
	opts BillingOptions,
	logger *zap.Logger,
) BillingService {
	if opts.DueDays <= 0 {
		opts.DueDays = 15
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &billingService{repo: repo, aggregator: aggregator, locker: locker, clock: clk, opts: opts, logger: logger}
}

// ────────────────────── Generate ──────────────────────

func (s *billingService) Generate(ctx context.Context, actor Actor, in GenerateInput) (*model.Bill, error) {
	if err := validPeriod(in.Month, in.Year); err != nil {
		return nil, err
	}
	if err := in.MealRates.validate(); err != nil {
		return nil, err
	}
	if in.FixedCharges.IsNegative() {
		return nil, apperr.Validation("fixed charges must not be negative")
	}
	if !model.ValidMoney(in.FixedCharges) {
		return nil, apperr.Validation("fixed charges must have at most 2 decimal places")
	}

	student, err := s.repo.User.GetByID(ctx, in.StudentID)
	if err != nil {
		return nil, s.fail("load student failed", repoErr(err, "student", in.StudentID))
	}
	if student.Role != model.RoleStudent || !student.IsActive {
		return nil, apperr.NotFound("student %s not found", in.StudentID)
	}
	messID := in.MessID
	if messID == "" {
		messID = student.MessID
	}
	if messID != student.MessID {
		return nil, apperr.Validation("student %s does not belong to mess %s", in.StudentID, messID)
	}
	if !actor.CanAccessMess(messID) {
		return nil, apperr.Forbidden("no access to mess %s", messID)
	}

	if err := s.ensureNoActiveBill(ctx, in.StudentID, in.Month, in.Year); err != nil {
		return nil, err
	}

	usage, err := s.aggregator.Usage(ctx, in.StudentID, in.Month, in.Year)
	if err != nil {
		return nil, s.fail("aggregate attendance failed", err, zap.String("student_id", in.StudentID))
	}

	now := s.clock.Now()
	start, end := clock.MonthBounds(in.Year, in.Month, s.clock.Location())
	bill := &model.Bill{
		StudentID:          in.StudentID,
		MessID:             messID,
		Month:              in.Month,
		Year:               in.Year,
		PeriodStart:        start,
		PeriodEnd:          end,
		TotalDaysInMonth:   clock.DaysInMonth(in.Year, in.Month),
		DaysPresent:        usage.Summary.PresentDays,
		DaysAbsent:         usage.Summary.AbsentDays,
		TotalMealsConsumed: usage.TotalMealsConsumed,
		FixedCharges:       in.FixedCharges,
		DueDate:            now.AddDate(0, 0, s.opts.DueDays),
		GeneratedBy:        actor.UserID,
		IsActive:           true,
	}
	lines := make([]model.MealCharge, 0, len(model.MealTypes))
	for _, meal := range model.MealTypes {
		lines = append(lines, model.MealCharge{
			MealType:     meal,
			Rate:         in.MealRates[meal],
			DaysConsumed: usage.MealDays[meal],
		})
	}
	bill.SetCharges(lines)
	bill.Recompute(now)
	bill.CreatedBy = strPtr(actor.UserID)
	bill.UpdatedBy = strPtr(actor.UserID)

	if err := s.insert(ctx, bill); err != nil {
		return nil, s.fail("create bill failed", err, zap.String("student_id", in.StudentID))
	}

	s.logger.Info("bill generated",
		zap.String("bill_number", bill.BillNumber),
		zap.String("student_id", bill.StudentID),
		zap.String("total", bill.TotalAmount.StringFixed(2)),
	)
	return bill, nil
}

func (s *billingService) ensureNoActiveBill(ctx context.Context, studentID string, month, year int) error {
	_, err := s.repo.Bill.GetActiveByStudentPeriod(ctx, studentID, month, year)
	switch {
	case err == nil:
		return apperr.Conflict("bill already exists for student %s for %02d/%d", studentID, month, year)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil
	}
	return s.fail("check existing bill failed", err, zap.String("student_id", studentID))
}

// insert allocates the next bill number of the mess period and creates the
// row. A concurrent duplicate for the same student period fails on the
// partial unique index and surfaces as a conflict.
func (s *billingService) insert(ctx context.Context, bill *model.Bill) error {
	unlock, err := s.locker.Lock(ctx, lock.BillPeriodKey(bill.MessID, bill.Year, bill.Month))
	if err != nil {
		return err
	}
	defer unlock()

	prefix := fmt.Sprintf("%s-%04d%02d-", bill.MessID, bill.Year, bill.Month)
	n, err := s.repo.Bill.CountByNumberPrefix(ctx, prefix)
	if err != nil {
		return err
	}
	bill.BillNumber = fmt.Sprintf("%s%04d", prefix, n+1)

	if err := s.repo.Bill.Create(ctx, bill); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.Conflict("bill already exists for student %s for %02d/%d", bill.StudentID, bill.Month, bill.Year)
		}
		return err
	}
	return nil
}

// ────────────────────── BulkGenerate ──────────────────────

func (s *billingService) BulkGenerate(ctx context.Context, actor Actor, in GenerateInput) (*dto.BulkGenerateResult, error) {
	if in.MessID == "" {
		return nil, apperr.Validation("mess id is required")
	}
	if !actor.CanAccessMess(in.MessID) {
		return nil, apperr.Forbidden("no access to mess %s", in.MessID)
	}
	if err := validPeriod(in.Month, in.Year); err != nil {
		return nil, err
	}
	if err := in.MealRates.validate(); err != nil {
		return nil, err
	}

	students, err := s.repo.User.ListActiveStudents(ctx, in.MessID)
	if err != nil {
		return nil, s.fail("list mess students failed", err, zap.String("mess_id", in.MessID))
	}

	result := &dto.BulkGenerateResult{
		MessID:   in.MessID,
		Month:    in.Month,
		Year:     in.Year,
		Students: len(students),
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.opts.Concurrency)

	for i := range students {
		st := students[i]
		g.Go(func() error {
			one := in
			one.StudentID = st.UserID
			_, err := s.Generate(ctx, actor, one)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, dto.ItemError{
					StudentID: st.UserID,
					Message:   apperr.Message(err, "internal error"),
				})
				s.logger.Warn("bill generation failed",
					zap.String("student_id", st.UserID), zap.Error(err))
				return nil
			}
			result.Generated++
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Errors, func(i, j int) bool {
		return result.Errors[i].StudentID < result.Errors[j].StudentID
	})

	s.logger.Info("bulk bill generation finished",
		zap.String("mess_id", in.MessID),
		zap.Int("month", in.Month),
		zap.Int("year", in.Year),
		zap.Int("generated", result.Generated),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// ────────────────────── mutations ──────────────────────

func (s *billingService) AddPayment(ctx context.Context, actor Actor, billID string, in PaymentInput) (*model.Bill, error) {
	return s.mutate(ctx, actor, billID, "add payment", func(b *model.Bill, now time.Time) error {
		return b.AddPayment(model.Payment{
			Amount:        in.Amount,
			PaymentMethod: in.Method,
			TransactionID: in.TransactionID,
			Remarks:       in.Remarks,
			ReceivedBy:    actor.UserID,
		}, now)
	})
}

func (s *billingService) ApplyDiscount(ctx context.Context, actor Actor, billID string, amount decimal.Decimal, reason string) (*model.Bill, error) {
	return s.mutate(ctx, actor, billID, "apply discount", func(b *model.Bill, now time.Time) error {
		return b.ApplyDiscount(amount, reason, now)
	})
}

func (s *billingService) ApplyLateFee(ctx context.Context, actor Actor, billID string, amount decimal.Decimal, reason string) (*model.Bill, error) {
	return s.mutate(ctx, actor, billID, "apply late fee", func(b *model.Bill, now time.Time) error {
		return b.ApplyLateFee(amount, reason, now)
	})
}

func (s *billingService) ApplyAdjustment(ctx context.Context, actor Actor, billID string, amount decimal.Decimal, reason string) (*model.Bill, error) {
	return s.mutate(ctx, actor, billID, "apply adjustment", func(b *model.Bill, now time.Time) error {
		return b.ApplyAdjustment(amount, reason, now)
	})
}

func (s *billingService) CancelBill(ctx context.Context, actor Actor, billID string, reason string) (*model.Bill, error) {
	bill, err := s.mutate(ctx, actor, billID, "cancel bill", func(b *model.Bill, now time.Time) error {
		return b.Cancel(actor.UserID, reason, now)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("bill cancelled", zap.String("bill_number", bill.BillNumber), zap.String("by", actor.UserID))
	return bill, nil
}

// mutate loads a bill, applies fn and writes it back under the version
// guard, reloading on a lost race.
func (s *billingService) mutate(ctx context.Context, actor Actor, billID, op string, fn func(b *model.Bill, now time.Time) error) (*model.Bill, error) {
	for attempt := 1; ; attempt++ {
		bill, err := s.repo.Bill.GetByID(ctx, billID)
		if err != nil {
			return nil, s.fail(op+" failed", repoErr(err, "bill", billID), zap.String("bill_id", billID))
		}
		if !actor.CanAccessMess(bill.MessID) {
			return nil, apperr.Forbidden("no access to bill %s", billID)
		}

		now := s.clock.Now()
		if err := fn(bill, now); err != nil {
			return nil, err
		}
		bill.UpdatedBy = strPtr(actor.UserID)

		err = s.repo.Bill.Update(ctx, bill)
		if err == nil {
			return bill, nil
		}
		if errors.Is(err, apperr.ErrOptimisticLock) && attempt < maxLockRetries {
			s.logger.Debug("bill version moved, retrying", zap.String("bill_id", billID), zap.Int("attempt", attempt))
			continue
		}
		return nil, s.fail(op+" failed", err, zap.String("bill_id", billID))
	}
}

// ────────────────────── ApplyLateFeesBatch ──────────────────────

func (s *billingService) ApplyLateFeesBatch(ctx context.Context, amount decimal.Decimal) (*dto.LateFeeBatchResult, error) {
	if !amount.IsPositive() {
		return nil, apperr.Validation("late fee amount must be positive")
	}
	if !model.ValidMoney(amount) {
		return nil, apperr.Validation("late fee amount must have at most 2 decimal places")
	}

	now := s.clock.Now()
	bills, err := s.repo.Bill.ListLateFeeCandidates(ctx, now)
	if err != nil {
		return nil, s.fail("list late fee candidates failed", err)
	}

	result := &dto.LateFeeBatchResult{}
	for i := range bills {
		b := &bills[i]
		if !b.LateFee.IsZero() {
			continue
		}
		reason := fmt.Sprintf("%d days overdue", b.DaysOverdue(now))
		if err := b.ApplyLateFee(amount, reason, now); err != nil {
			result.Errors = append(result.Errors, dto.ItemError{BillID: b.BillID, Message: apperr.Message(err, "internal error")})
			continue
		}
		if err := s.repo.Bill.Update(ctx, b); err != nil {
			s.logger.Warn("apply late fee failed", zap.String("bill_id", b.BillID), zap.Error(err))
			result.Errors = append(result.Errors, dto.ItemError{BillID: b.BillID, Message: apperr.Message(err, "internal error")})
			continue
		}
		result.BillsUpdated++
	}

	s.logger.Info("late fee sweep finished",
		zap.Int("candidates", len(bills)),
		zap.Int("updated", result.BillsUpdated),
		zap.Int("failed", len(result.Errors)),
	)
	return result, nil
}

// ────────────────────── SettleBills ──────────────────────

func (s *billingService) SettleBills(ctx context.Context, actor Actor, billIDs []string, transactionID string) ([]model.Bill, error) {
	if len(billIDs) == 0 {
		return nil, apperr.Validation("at least one bill is required")
	}

	// check every bill before paying any
	seen := make(map[string]struct{}, len(billIDs))
	for _, id := range billIDs {
		if _, dup := seen[id]; dup {
			return nil, apperr.Validation("bill %s listed twice", id)
		}
		seen[id] = struct{}{}

		b, err := s.repo.Bill.GetByID(ctx, id)
		if err != nil {
			return nil, s.fail("load bill failed", repoErr(err, "bill", id))
		}
		if b.StudentID != actor.UserID {
			return nil, apperr.Forbidden("bill %s does not belong to you", id)
		}
		if b.IsCancelled {
			return nil, apperr.Conflict("bill %s is cancelled", b.BillNumber)
		}
		if !b.AmountDue.IsPositive() {
			return nil, apperr.Validation("bill %s has nothing due", b.BillNumber)
		}
	}

	out := make([]model.Bill, 0, len(billIDs))
	err := s.repo.RunInTx(ctx, func(tx *repository.Repository) error {
		for _, id := range billIDs {
			b, err := tx.Bill.GetByID(ctx, id)
			if err != nil {
				return repoErr(err, "bill", id)
			}
			now := s.clock.Now()
			b.Recompute(now)
			if err := b.AddPayment(model.Payment{
				Amount:        b.AmountDue,
				PaymentMethod: model.MethodUPI,
				TransactionID: transactionID,
				Remarks:       "settled by student",
				ReceivedBy:    actor.UserID,
			}, now); err != nil {
				return err
			}
			b.UpdatedBy = strPtr(actor.UserID)
			if err := tx.Bill.Update(ctx, b); err != nil {
				return err
			}
			out = append(out, *b)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("settle bills failed", err, zap.String("student_id", actor.UserID))
	}
	return out, nil
}

// ────────────────────── reads ──────────────────────

func (s *billingService) Get(ctx context.Context, actor Actor, billID string) (*model.Bill, error) {
	bill, err := s.repo.Bill.GetByID(ctx, billID)
	if err != nil {
		return nil, s.fail("load bill failed", repoErr(err, "bill", billID))
	}
	if !actor.CanAccessStudent(bill.StudentID, bill.MessID) {
		return nil, apperr.Forbidden("no access to bill %s", billID)
	}
	s.refresh(bill)
	return bill, nil
}

func (s *billingService) ListMine(ctx context.Context, actor Actor) ([]model.Bill, error) {
	bills, err := s.repo.Bill.ListByStudent(ctx, actor.UserID)
	if err != nil {
		return nil, s.fail("list bills failed", err, zap.String("student_id", actor.UserID))
	}
	s.refreshAll(bills)
	return bills, nil
}

func (s *billingService) ListMess(ctx context.Context, actor Actor, messID string, q *dto.BillListQuery) ([]model.Bill, int64, error) {
	if !actor.CanAccessMess(messID) {
		return nil, 0, apperr.Forbidden("no access to mess %s", messID)
	}
	f := repository.BillFilter{
		MessID:    messID,
		StudentID: q.StudentID,
		Month:     q.Month,
		Year:      q.Year,
		Status:    model.PaymentStatus(q.Status),
		Now:       s.clock.Now(),
	}
	bills, total, err := s.repo.Bill.ListByMess(ctx, f, q.GetOffset(), q.GetPageSize())
	if err != nil {
		return nil, 0, s.fail("list mess bills failed", err, zap.String("mess_id", messID))
	}
	s.refreshAll(bills)
	return bills, total, nil
}

func (s *billingService) ListUnpaid(ctx context.Context, actor Actor, messID string) ([]model.Bill, error) {
	if !actor.CanAccessMess(messID) {
		return nil, apperr.Forbidden("no access to mess %s", messID)
	}
	bills, err := s.repo.Bill.ListUnpaid(ctx, messID)
	if err != nil {
		return nil, s.fail("list unpaid bills failed", err, zap.String("mess_id", messID))
	}
	s.refreshAll(bills)
	return bills, nil
}

func (s *billingService) ListOverdue(ctx context.Context, actor Actor, messID string) ([]model.Bill, error) {
	if !actor.CanAccessMess(messID) {
		return nil, apperr.Forbidden("no access to mess %s", messID)
	}
	bills, err := s.repo.Bill.ListOverdue(ctx, messID, s.clock.Now())
	if err != nil {
		return nil, s.fail("list overdue bills failed", err, zap.String("mess_id", messID))
	}
	s.refreshAll(bills)
	return bills, nil
}

// refresh re-derives the status as of now; the stored status only changes
// on the next save.
func (s *billingService) refresh(b *model.Bill) {
	b.Recompute(s.clock.Now())
}

func (s *billingService) refreshAll(bills []model.Bill) {
	for i := range bills {
		s.refresh(&bills[i])
	}
}

func (s *billingService) fail(msg string, err error, fields ...zap.Field) error {
	if !apperr.IsDomain(err) {
		s.logger.Error(msg, append(fields, zap.Error(err))...)
	}
	return err
}
