package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"messhub/backend/pkg/apperr"
)

// PaymentStatus is derived by Bill.Recompute, never set by callers.
type PaymentStatus string

const (
	PaymentUnpaid        PaymentStatus = "unpaid"
	PaymentPartiallyPaid PaymentStatus = "partially_paid"
	PaymentPaid          PaymentStatus = "paid"
	PaymentOverdue       PaymentStatus = "overdue"
	PaymentWaived        PaymentStatus = "waived"
)

// Valid reports whether s is a known status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentUnpaid, PaymentPartiallyPaid, PaymentPaid, PaymentOverdue, PaymentWaived:
		return true
	}
	return false
}

// Payment methods
const (
	MethodCash         = "cash"
	MethodOnline       = "online"
	MethodUPI          = "upi"
	MethodCard         = "card"
	MethodBankTransfer = "bank_transfer"
	MethodOther        = "other"
)

// ValidPaymentMethod reports whether m is a known method.
func ValidPaymentMethod(m string) bool {
	switch m {
	case MethodCash, MethodOnline, MethodUPI, MethodCard, MethodBankTransfer, MethodOther:
		return true
	}
	return false
}

// Payment entry status
const (
	EntrySuccess = "success"
	EntryPending = "pending"
	EntryFailed  = "failed"
)

// MealCharge one meal type's line on a bill.
type MealCharge struct {
	MealType     MealType        `json:"meal_type"`
	Rate         decimal.Decimal `json:"rate"`
	DaysConsumed int             `json:"days_consumed"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
}

// Payment one paymentHistory entry. The history is append-only.
type Payment struct {
	Amount        decimal.Decimal `json:"amount"`
	PaymentDate   time.Time       `json:"payment_date"`
	PaymentMethod string          `json:"payment_method"`
	TransactionID string          `json:"transaction_id,omitempty"`
	PaymentStatus string          `json:"payment_status"`
	Remarks       string          `json:"remarks,omitempty"`
	ReceivedBy    string          `json:"received_by,omitempty"`
}

// Bill monthly mess bill (bills).
//
// TotalAmount, AmountPaid, AmountDue, PaymentStatus and PaidDate are derived
// by Recompute. Mutate a bill only through its methods.
type Bill struct {
	BillID             string                          `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"bill_id"`
	BillNumber         string                          `gorm:"type:varchar(80);not null;uniqueIndex"          json:"bill_number"`
	StudentID          string                          `gorm:"type:uuid;not null"                             json:"student_id"`
	MessID             string                          `gorm:"type:varchar(50);not null"                      json:"mess_id"`
	Month              int                             `gorm:"type:smallint;not null"                         json:"month"`
	Year               int                             `gorm:"type:smallint;not null"                         json:"year"`
	PeriodStart        time.Time                       `gorm:"type:date;not null"                             json:"period_start"`
	PeriodEnd          time.Time                       `gorm:"type:date;not null"                             json:"period_end"`
	TotalDaysInMonth   int                             `gorm:"type:smallint;not null"                         json:"total_days_in_month"`
	DaysPresent        int                             `gorm:"not null;default:0"                             json:"days_present"`
	DaysAbsent         int                             `gorm:"not null;default:0"                             json:"days_absent"`
	TotalMealsConsumed int                             `gorm:"not null;default:0"                             json:"total_meals_consumed"`
	MealWiseCharges    datatypes.JSONSlice[MealCharge] `gorm:"type:jsonb;not null"                            json:"meal_wise_charges"`
	BaseAmount         decimal.Decimal                 `gorm:"type:numeric(12,2);not null"                    json:"base_amount"`
	FixedCharges       decimal.Decimal                 `gorm:"type:numeric(12,2);not null"                    json:"fixed_charges"`
	Discount           decimal.Decimal                 `gorm:"type:numeric(12,2);not null"                    json:"discount"`
	DiscountReason     string                          `gorm:"type:varchar(500)"                              json:"discount_reason,omitempty"`
	LateFee            decimal.Decimal                 `gorm:"type:numeric(12,2);not null"                    json:"late_fee"`
	Adjustments        decimal.Decimal                 `gorm:"type:numeric(12,2);not null"                    json:"adjustments"`
	AdjustmentReason   string                          `gorm:"type:varchar(500)"                              json:"adjustment_reason,omitempty"`
	TotalAmount        decimal.Decimal                 `gorm:"type:numeric(12,2);not null"                    json:"total_amount"`
	AmountPaid         decimal.Decimal                 `gorm:"type:numeric(12,2);not null"                    json:"amount_paid"`
	AmountDue          decimal.Decimal                 `gorm:"type:numeric(12,2);not null"                    json:"amount_due"`
	PaymentStatus      PaymentStatus                   `gorm:"type:varchar(20);not null;default:'unpaid'"     json:"payment_status"`
	PaymentHistory     datatypes.JSONSlice[Payment]    `gorm:"type:jsonb;not null"                            json:"payment_history"`
	DueDate            time.Time                       `gorm:"not null"                                       json:"due_date"`
	PaidDate           *time.Time                      `json:"paid_date,omitempty"`
	GeneratedBy        string                          `gorm:"type:uuid"                                      json:"generated_by,omitempty"`
	Remarks            string                          `gorm:"type:text"                                      json:"remarks,omitempty"`
	IsActive           bool                            `gorm:"not null;default:true"                          json:"is_active"`
	IsCancelled        bool                            `gorm:"not null;default:false"                         json:"is_cancelled"`
	CancelledAt        *time.Time                      `json:"cancelled_at,omitempty"`
	CancelledBy        *string                         `gorm:"type:uuid"                                      json:"cancelled_by,omitempty"`
	CancellationReason string                          `gorm:"type:varchar(500)"                              json:"cancellation_reason,omitempty"`
	VersionedModel

	Student *User `gorm:"foreignKey:StudentID;references:UserID" json:"student,omitempty"`
}

// TableName table name
func (Bill) TableName() string { return "bills" }

// SetCharges replaces the meal lines and base amount.
func (b *Bill) SetCharges(lines []MealCharge) {
	b.MealWiseCharges = make(datatypes.JSONSlice[MealCharge], 0, len(lines))
	b.BaseAmount = decimal.Zero
	for _, l := range lines {
		l.TotalAmount = l.Rate.Mul(decimal.NewFromInt(int64(l.DaysConsumed)))
		b.BaseAmount = b.BaseAmount.Add(l.TotalAmount)
		b.MealWiseCharges = append(b.MealWiseCharges, l)
	}
}

// Recompute re-derives totalAmount, amountPaid, amountDue and paymentStatus
// from the stored inputs as of now. Idempotent for a fixed now.
func (b *Bill) Recompute(now time.Time) {
	if b.MealWiseCharges == nil {
		b.MealWiseCharges = datatypes.JSONSlice[MealCharge]{}
	}
	if b.PaymentHistory == nil {
		b.PaymentHistory = datatypes.JSONSlice[Payment]{}
	}

	total := b.BaseAmount.Add(b.FixedCharges).Add(b.LateFee).Add(b.Adjustments).Sub(b.Discount)
	b.TotalAmount = floorZero(total)

	paid := decimal.Zero
	for _, p := range b.PaymentHistory {
		if p.PaymentStatus == EntrySuccess {
			paid = paid.Add(p.Amount)
		}
	}
	b.AmountPaid = paid
	b.AmountDue = floorZero(b.TotalAmount.Sub(b.AmountPaid))
	b.PaymentStatus = b.deriveStatus(now)
}

// StatusAt the payment status the bill has at now, without mutating it.
func (b *Bill) StatusAt(now time.Time) PaymentStatus {
	c := *b
	c.Recompute(now)
	return c.PaymentStatus
}

func (b *Bill) deriveStatus(now time.Time) PaymentStatus {
	switch {
	case !b.AmountDue.IsPositive() && b.TotalAmount.IsPositive():
		if b.PaidDate == nil && b.AmountPaid.IsPositive() {
			t := now
			b.PaidDate = &t
		}
		return PaymentPaid
	case b.AmountPaid.IsPositive() && b.AmountDue.IsPositive():
		return PaymentPartiallyPaid
	case now.After(b.DueDate) && b.AmountDue.IsPositive():
		return PaymentOverdue
	case b.TotalAmount.IsZero():
		return PaymentWaived
	default:
		return PaymentUnpaid
	}
}

// AddPayment appends a successful payment. amount must be positive and not
// exceed the current amount due.
func (b *Bill) AddPayment(p Payment, now time.Time) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	b.Recompute(now)
	if !p.Amount.IsPositive() {
		return apperr.Validation("payment amount must be positive")
	}
	if !ValidMoney(p.Amount) {
		return apperr.Validation("payment amount must have at most 2 decimal places")
	}
	if p.Amount.GreaterThan(b.AmountDue) {
		return apperr.Validation("payment amount %s exceeds amount due %s", p.Amount.StringFixed(2), b.AmountDue.StringFixed(2))
	}
	if p.PaymentMethod == "" {
		p.PaymentMethod = MethodCash
	}
	if !ValidPaymentMethod(p.PaymentMethod) {
		return apperr.Validation("unknown payment method %q", p.PaymentMethod)
	}
	if p.PaymentDate.IsZero() {
		p.PaymentDate = now
	}
	p.PaymentStatus = EntrySuccess

	b.PaymentHistory = append(b.PaymentHistory, p)
	b.Recompute(now)
	return nil
}

// ApplyDiscount sets the discount.
func (b *Bill) ApplyDiscount(amount decimal.Decimal, reason string, now time.Time) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	if amount.IsNegative() {
		return apperr.Validation("discount must not be negative")
	}
	if !ValidMoney(amount) {
		return apperr.Validation("discount must have at most 2 decimal places")
	}
	b.Discount = amount
	b.DiscountReason = reason
	b.Recompute(now)
	return nil
}

// ApplyLateFee sets the late fee and appends an audit note to remarks.
func (b *Bill) ApplyLateFee(amount decimal.Decimal, reason string, now time.Time) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	if amount.IsNegative() {
		return apperr.Validation("late fee must not be negative")
	}
	if !ValidMoney(amount) {
		return apperr.Validation("late fee must have at most 2 decimal places")
	}
	b.LateFee = amount
	note := "Late Fee Applied: " + reason
	if strings.TrimSpace(b.Remarks) == "" {
		b.Remarks = note
	} else {
		b.Remarks += "\n" + note
	}
	b.Recompute(now)
	return nil
}

// ApplyAdjustment sets the signed adjustment.
func (b *Bill) ApplyAdjustment(amount decimal.Decimal, reason string, now time.Time) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	if !ValidMoney(amount) {
		return apperr.Validation("adjustment must have at most 2 decimal places")
	}
	b.Adjustments = amount
	b.AdjustmentReason = reason
	b.Recompute(now)
	return nil
}

// Cancel soft-deletes the bill. A cancelled bill no longer blocks
// regeneration for its period.
func (b *Bill) Cancel(userID, reason string, now time.Time) error {
	if b.IsCancelled {
		return apperr.Conflict("bill %s is already cancelled", b.BillNumber)
	}
	t := now
	by := userID
	b.IsCancelled = true
	b.IsActive = false
	b.CancelledAt = &t
	b.CancelledBy = &by
	b.CancellationReason = reason
	b.Recompute(now)
	return nil
}

// DaysOverdue whole days past the due date, 0 if not yet due.
func (b *Bill) DaysOverdue(now time.Time) int {
	if !now.After(b.DueDate) {
		return 0
	}
	return int(now.Sub(b.DueDate).Hours() / 24)
}

// ValidMoney reports whether d fits numeric(12,2) without rounding.
func ValidMoney(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(2))
}

func (b *Bill) ensureOpen() error {
	if b.IsCancelled {
		return apperr.Conflict("bill %s is cancelled", b.BillNumber)
	}
	return nil
}

// NormalizeDates re-anchors the DATE columns to midnight in loc after a load.
func (b *Bill) NormalizeDates(loc *time.Location) {
	b.PeriodStart = civilDate(b.PeriodStart, loc)
	b.PeriodEnd = civilDate(b.PeriodEnd, loc)
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
