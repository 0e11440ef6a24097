package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"messhub/backend/config"
	"messhub/backend/internal/dto"
	"messhub/backend/internal/model"
	"messhub/backend/internal/service"
	"messhub/backend/pkg/response"
)

// BillHandler billing HTTP handlers. Omitted rates, fixed charges and late
// fees fall back to the configured defaults here; the engine gets them
// explicitly.
type BillHandler struct {
	svc      service.BillingService
	defaults config.BillingConfig
}

// NewBillHandler creates a BillHandler.
func NewBillHandler(svc service.BillingService, defaults config.BillingConfig) *BillHandler {
	return &BillHandler{svc: svc, defaults: defaults}
}

func (h *BillHandler) rates(req *dto.MealRatesRequest) service.MealRates {
	rates := service.RatesFromConfig(h.defaults.DefaultMealRates)
	if req == nil {
		return rates
	}
	for meal, v := range map[model.MealType]*decimal.Decimal{
		model.MealBreakfast:     req.Breakfast,
		model.MealLunch:         req.Lunch,
		model.MealEveningSnacks: req.EveningSnacks,
		model.MealDinner:        req.Dinner,
	} {
		if v != nil {
			rates[meal] = *v
		}
	}
	return rates
}

func (h *BillHandler) fixed(v *decimal.Decimal) decimal.Decimal {
	if v != nil {
		return *v
	}
	return decimal.NewFromFloat(h.defaults.DefaultFixedCharges)
}

// Generate one student's bill
// POST /api/v1/bills/generate
func (h *BillHandler) Generate(c *gin.Context) {
	var req dto.GenerateBillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	bill, err := h.svc.Generate(c.Request.Context(), actor, service.GenerateInput{
		StudentID:    req.StudentID,
		MessID:       req.MessID,
		Month:        req.Month,
		Year:         req.Year,
		MealRates:    h.rates(req.MealRates),
		FixedCharges: h.fixed(req.FixedCharges),
	})
	if err != nil {
		writeError(c, codeBilling, err)
		return
	}
	response.Created(c, dto.ToBillResponse(bill))
}

// BulkGenerate bills every active student of a mess
// POST /api/v1/bills/generate-all
func (h *BillHandler) BulkGenerate(c *gin.Context) {
	var req dto.BulkGenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	result, err := h.svc.BulkGenerate(c.Request.Context(), actor, service.GenerateInput{
		MessID:       req.MessID,
		Month:        req.Month,
		Year:         req.Year,
		MealRates:    h.rates(req.MealRates),
		FixedCharges: h.fixed(req.FixedCharges),
	})
	if err != nil {
		writeError(c, codeBilling, err)
		return
	}
	response.OK(c, result)
}

// AddPayment records a payment
// POST /api/v1/bills/:id/payment
func (h *BillHandler) AddPayment(c *gin.Context) {
	var req dto.AddPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	bill, err := h.svc.AddPayment(c.Request.Context(), actor, c.Param("id"), service.PaymentInput{
		Amount:        req.Amount,
		Method:        req.PaymentMethod,
		TransactionID: req.TransactionID,
		Remarks:       req.Remarks,
	})
	if err != nil {
		writeError(c, codeBilling, err)
		return
	}
	response.OK(c, dto.ToBillResponse(bill))
}

// ApplyDiscount PUT /api/v1/bills/:id/discount
func (h *BillHandler) ApplyDiscount(c *gin.Context) {
	h.amountReason(c, func(actor service.Actor, id string, amount decimal.Decimal, reason string) (*model.Bill, error) {
		return h.svc.ApplyDiscount(c.Request.Context(), actor, id, amount, reason)
	})
}

// ApplyLateFee PUT /api/v1/bills/:id/late-fee
func (h *BillHandler) ApplyLateFee(c *gin.Context) {
	h.amountReason(c, func(actor service.Actor, id string, amount decimal.Decimal, reason string) (*model.Bill, error) {
		return h.svc.ApplyLateFee(c.Request.Context(), actor, id, amount, reason)
	})
}

// ApplyAdjustment PUT /api/v1/bills/:id/adjustment
func (h *BillHandler) ApplyAdjustment(c *gin.Context) {
	h.amountReason(c, func(actor service.Actor, id string, amount decimal.Decimal, reason string) (*model.Bill, error) {
		return h.svc.ApplyAdjustment(c.Request.Context(), actor, id, amount, reason)
	})
}

func (h *BillHandler) amountReason(c *gin.Context, apply func(actor service.Actor, id string, amount decimal.Decimal, reason string) (*model.Bill, error)) {
	var req dto.AmountReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}
	if req.Amount == nil {
		response.BadRequest(c, 10001, "amount is required")
		return
	}
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	bill, err := apply(actor, c.Param("id"), *req.Amount, req.Reason)
	if err != nil {
		writeError(c, codeBilling, err)
		return
	}
	response.OK(c, dto.ToBillResponse(bill))
}

// Cancel soft-cancels a bill
// PUT /api/v1/bills/:id/cancel
func (h *BillHandler) Cancel(c *gin.Context) {
	var req dto.CancelBillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	bill, err := h.svc.CancelBill(c.Request.Context(), actor, c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, codeBilling, err)
		return
	}
	response.OK(c, dto.ToBillResponse(bill))
}

// ApplyLateFees charges every overdue bill once
// POST /api/v1/bills/apply-late-fees
func (h *BillHandler) ApplyLateFees(c *gin.Context) {
	var req dto.ApplyLateFeesRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindFailed(c, err)
			return
		}
	}
	amount := decimal.NewFromFloat(h.defaults.DefaultLateFee)
	if req.Amount != nil {
		amount = *req.Amount
	}

	result, err := h.svc.ApplyLateFeesBatch(c.Request.Context(), amount)
	if err != nil {
		writeError(c, codeBilling, err)
		return
	}
	response.OK(c, result)
}

// Settle pays the full due of the caller's bills
// POST /api/v1/bills/settle
func (h *BillHandler) Settle(c *gin.Context) {
	var req dto.SettleBillsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	bills, err := h.svc.SettleBills(c.Request.Context(), actor, req.BillIDs, req.TransactionID)
	if err != nil {
		writeError(c, codeBilling, err)
		return
	}
	response.OK(c, gin.H{"list": dto.ToBillResponses(bills)})
}

// Get one bill
// GET /api/v1/bills/:id
func (h *BillHandler) Get(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}
	bill, err := h.svc.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		writeError(c, codeBilling, err)
		return
	}
	response.OK(c, dto.ToBillResponse(bill))
}

// ListMine the caller's bills
// GET /api/v1/bills/my
func (h *BillHandler) ListMine(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}
	bills, err := h.svc.ListMine(c.Request.Context(), actor)
	if err != nil {
		writeError(c, codeBilling, err)
		return
	}
	response.OK(c, gin.H{"list": dto.ToBillResponses(bills)})
}

// ListMess paginated bills of a mess
// GET /api/v1/bills/mess/:mess_id
func (h *BillHandler) ListMess(c *gin.Context) {
	var q dto.BillListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindFailed(c, err)
		return
	}
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	bills, total, err := h.svc.ListMess(c.Request.Context(), actor, c.Param("mess_id"), &q)
	if err != nil {
		writeError(c, codeBilling, err)
		return
	}
	response.OKPage(c, dto.ToBillResponses(bills), total, q.GetPage(), q.GetPageSize())
}

// ListUnpaid GET /api/v1/bills/unpaid/:mess_id
func (h *BillHandler) ListUnpaid(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}
	bills, err := h.svc.ListUnpaid(c.Request.Context(), actor, c.Param("mess_id"))
	if err != nil {
		writeError(c, codeBilling, err)
		return
	}
	response.OK(c, gin.H{"list": dto.ToBillResponses(bills)})
}

// ListOverdue GET /api/v1/bills/overdue/:mess_id
func (h *BillHandler) ListOverdue(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}
	bills, err := h.svc.ListOverdue(c.Request.Context(), actor, c.Param("mess_id"))
	if err != nil {
		writeError(c, codeBilling, err)
		return
	}
	response.OK(c, gin.H{"list": dto.ToBillResponses(bills)})
}
