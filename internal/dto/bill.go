package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"messhub/backend/internal/model"
)

// ── bill requests ──

// MealRatesRequest per-meal rates; omitted meals fall back to the configured default.
type MealRatesRequest struct {
	Breakfast     *decimal.Decimal `json:"breakfast"`
	Lunch         *decimal.Decimal `json:"lunch"`
	EveningSnacks *decimal.Decimal `json:"eveningSnacks"`
	Dinner        *decimal.Decimal `json:"dinner"`
}

// GenerateBillRequest one student's bill for a month
type GenerateBillRequest struct {
	StudentID    string            `json:"student_id"    binding:"required"`
	MessID       string            `json:"mess_id"`
	Month        int               `json:"month"         binding:"required,min=1,max=12"`
	Year         int               `json:"year"          binding:"required,min=2000,max=2100"`
	MealRates    *MealRatesRequest `json:"meal_rates"`
	FixedCharges *decimal.Decimal  `json:"fixed_charges"`
}

// BulkGenerateRequest bills every active student of a mess
type BulkGenerateRequest struct {
	MessID       string            `json:"mess_id"       binding:"required"`
	Month        int               `json:"month"         binding:"required,min=1,max=12"`
	Year         int               `json:"year"          binding:"required,min=2000,max=2100"`
	MealRates    *MealRatesRequest `json:"meal_rates"`
	FixedCharges *decimal.Decimal  `json:"fixed_charges"`
}

// AddPaymentRequest records a payment against a bill
type AddPaymentRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method" binding:"omitempty,oneof=cash online upi card bank_transfer other"`
	TransactionID string          `json:"transaction_id" binding:"max=100"`
	Remarks       string          `json:"remarks"        binding:"max=500"`
}

// AmountReasonRequest discount, late fee or adjustment
type AmountReasonRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Reason string           `json:"reason" binding:"max=500"`
}

// CancelBillRequest cancellation reason
type CancelBillRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

// SettleBillsRequest student pays the full due of own bills
type SettleBillsRequest struct {
	BillIDs       []string `json:"bill_ids"       binding:"required,min=1,max=24,dive,required"`
	TransactionID string   `json:"transaction_id" binding:"max=100"`
}

// ApplyLateFeesRequest sweep amount; defaults to the configured late fee.
type ApplyLateFeesRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

// BillListQuery filters of the mess bill listing
type BillListQuery struct {
	PaginationRequest
	StudentID string `form:"student_id"`
	Month     int    `form:"month"  binding:"omitempty,min=1,max=12"`
	Year      int    `form:"year"   binding:"omitempty,min=2000,max=2100"`
	Status    string `form:"status" binding:"omitempty,oneof=unpaid partially_paid paid overdue waived"`
}

// ── bill responses ──

// PaymentResponse one payment history entry
type PaymentResponse struct {
	Amount        decimal.Decimal `json:"amount"`
	PaymentDate   string          `json:"payment_date"`
	PaymentMethod string          `json:"payment_method"`
	TransactionID string          `json:"transaction_id,omitempty"`
	PaymentStatus string          `json:"payment_status"`
	Remarks       string          `json:"remarks,omitempty"`
	ReceivedBy    string          `json:"received_by,omitempty"`
}

// BillResponse full bill
type BillResponse struct {
	ID                 string             `json:"id"`
	BillNumber         string             `json:"bill_number"`
	StudentID          string             `json:"student_id"`
	StudentName        string             `json:"student_name,omitempty"`
	MessID             string             `json:"mess_id"`
	Month              int                `json:"month"`
	Year               int                `json:"year"`
	PeriodStart        string             `json:"period_start"`
	PeriodEnd          string             `json:"period_end"`
	TotalDaysInMonth   int                `json:"total_days_in_month"`
	DaysPresent        int                `json:"days_present"`
	DaysAbsent         int                `json:"days_absent"`
	TotalMealsConsumed int                `json:"total_meals_consumed"`
	MealWiseCharges    []model.MealCharge `json:"meal_wise_charges"`
	BaseAmount         decimal.Decimal    `json:"base_amount"`
	FixedCharges       decimal.Decimal    `json:"fixed_charges"`
	Discount           decimal.Decimal    `json:"discount"`
	DiscountReason     string             `json:"discount_reason,omitempty"`
	LateFee            decimal.Decimal    `json:"late_fee"`
	Adjustments        decimal.Decimal    `json:"adjustments"`
	AdjustmentReason   string             `json:"adjustment_reason,omitempty"`
	TotalAmount        decimal.Decimal    `json:"total_amount"`
	AmountPaid         decimal.Decimal    `json:"amount_paid"`
	AmountDue          decimal.Decimal    `json:"amount_due"`
	PaymentStatus      string             `json:"payment_status"`
	PaymentHistory     []PaymentResponse  `json:"payment_history"`
	DueDate            string             `json:"due_date"`
	PaidDate           string             `json:"paid_date,omitempty"`
	Remarks            string             `json:"remarks,omitempty"`
	IsCancelled        bool               `json:"is_cancelled"`
	CancelledAt        string             `json:"cancelled_at,omitempty"`
	CancellationReason string             `json:"cancellation_reason,omitempty"`
	CreatedAt          string             `json:"created_at"`
}

// BulkGenerateResult counts plus per-student failures
type BulkGenerateResult struct {
	MessID    string      `json:"mess_id"`
	Month     int         `json:"month"`
	Year      int         `json:"year"`
	Students  int         `json:"students"`
	Generated int         `json:"generated"`
	Failed    int         `json:"failed"`
	Errors    []ItemError `json:"errors,omitempty"`
}

// LateFeeBatchResult sweep outcome
type LateFeeBatchResult struct {
	BillsUpdated int         `json:"bills_updated"`
	Errors       []ItemError `json:"errors,omitempty"`
}

// ── converters ──

// ToBillResponse converts a bill.
func ToBillResponse(b *model.Bill) BillResponse {
	resp := BillResponse{
		ID:                 b.BillID,
		BillNumber:         b.BillNumber,
		StudentID:          b.StudentID,
		MessID:             b.MessID,
		Month:              b.Month,
		Year:               b.Year,
		PeriodStart:        b.PeriodStart.Format(DateLayout),
		PeriodEnd:          b.PeriodEnd.Format(DateLayout),
		TotalDaysInMonth:   b.TotalDaysInMonth,
		DaysPresent:        b.DaysPresent,
		DaysAbsent:         b.DaysAbsent,
		TotalMealsConsumed: b.TotalMealsConsumed,
		MealWiseCharges:    []model.MealCharge(b.MealWiseCharges),
		BaseAmount:         b.BaseAmount,
		FixedCharges:       b.FixedCharges,
		Discount:           b.Discount,
		DiscountReason:     b.DiscountReason,
		LateFee:            b.LateFee,
		Adjustments:        b.Adjustments,
		AdjustmentReason:   b.AdjustmentReason,
		TotalAmount:        b.TotalAmount,
		AmountPaid:         b.AmountPaid,
		AmountDue:          b.AmountDue,
		PaymentStatus:      string(b.PaymentStatus),
		PaymentHistory:     make([]PaymentResponse, 0, len(b.PaymentHistory)),
		DueDate:            b.DueDate.Format(time.RFC3339),
		Remarks:            b.Remarks,
		IsCancelled:        b.IsCancelled,
		CancellationReason: b.CancellationReason,
		CreatedAt:          b.CreatedAt.Format(time.RFC3339),
	}
	if resp.MealWiseCharges == nil {
		resp.MealWiseCharges = []model.MealCharge{}
	}
	if b.Student != nil {
		resp.StudentName = b.Student.Name
	}
	if b.PaidDate != nil {
		resp.PaidDate = b.PaidDate.Format(time.RFC3339)
	}
	if b.CancelledAt != nil {
		resp.CancelledAt = b.CancelledAt.Format(time.RFC3339)
	}
	for _, p := range b.PaymentHistory {
		resp.PaymentHistory = append(resp.PaymentHistory, PaymentResponse{
			Amount:        p.Amount,
			PaymentDate:   p.PaymentDate.Format(time.RFC3339),
			PaymentMethod: p.PaymentMethod,
			TransactionID: p.TransactionID,
			PaymentStatus: p.PaymentStatus,
			Remarks:       p.Remarks,
			ReceivedBy:    p.ReceivedBy,
		})
	}
	return resp
}

// ToBillResponses converts a slice.
func ToBillResponses(bills []model.Bill) []BillResponse {
	out := make([]BillResponse, 0, len(bills))
	for i := range bills {
		out = append(out, ToBillResponse(&bills[i]))
	}
	return out
}
