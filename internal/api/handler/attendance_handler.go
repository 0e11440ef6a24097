package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"messhub/backend/internal/dto"
	"messhub/backend/internal/model"
	"messhub/backend/internal/service"
	"messhub/backend/pkg/response"
)

// AttendanceHandler attendance ledger HTTP handlers
type AttendanceHandler struct {
	svc service.AttendanceService
	loc *time.Location
}

// NewAttendanceHandler creates an AttendanceHandler.
func NewAttendanceHandler(svc service.AttendanceService, loc *time.Location) *AttendanceHandler {
	return &AttendanceHandler{svc: svc, loc: loc}
}

// Mark marks one or more meals of a day
// POST /api/v1/attendance
func (h *AttendanceHandler) Mark(c *gin.Context) {
	var req dto.MarkAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}
	day, err := parseDay(req.Date, h.loc)
	if err != nil {
		response.BadRequest(c, 10001, "date must be YYYY-MM-DD")
		return
	}
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	meals := make([]service.MealInput, 0, len(req.Meals))
	for _, m := range req.Meals {
		meals = append(meals, service.MealInput{MealType: model.MealType(m.MealType), IsPresent: *m.IsPresent})
	}

	rec, err := h.svc.MarkMeals(c.Request.Context(), actor, req.StudentID, day, meals)
	if err != nil {
		writeError(c, codeAttendance, err)
		return
	}
	response.OK(c, dto.ToAttendanceResponse(rec))
}

// RegisterLeave registers leave for the caller
// POST /api/v1/attendance/leave
func (h *AttendanceHandler) RegisterLeave(c *gin.Context) {
	var req dto.RegisterLeaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}
	start, err1 := parseDay(req.StartDate, h.loc)
	end, err2 := parseDay(req.EndDate, h.loc)
	if err1 != nil || err2 != nil {
		response.BadRequest(c, 10001, "start_date and end_date must be YYYY-MM-DD")
		return
	}
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	recs, err := h.svc.RegisterLeave(c.Request.Context(), actor, "", service.LeaveInput{
		StartDate:   start,
		EndDate:     end,
		Reason:      model.LeaveReason(req.Reason),
		Description: req.Description,
	})
	if err != nil {
		writeError(c, codeAttendance, err)
		return
	}
	response.Created(c, gin.H{"days": len(recs), "records": dto.ToAttendanceResponses(recs)})
}

// CancelLeave removes a future leave day
// PUT /api/v1/attendance/cancel-leave/:id
func (h *AttendanceHandler) CancelLeave(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}
	if err := h.svc.CancelLeave(c.Request.Context(), actor, c.Param("id")); err != nil {
		writeError(c, codeAttendance, err)
		return
	}
	response.OK(c, nil)
}

// ListMine the caller's records in a range
// GET /api/v1/attendance/my?start=&end=
func (h *AttendanceHandler) ListMine(c *gin.Context) {
	var q dto.DateRangeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindFailed(c, err)
		return
	}
	start, err1 := parseDay(q.Start, h.loc)
	end, err2 := parseDay(q.End, h.loc)
	if err1 != nil || err2 != nil {
		response.BadRequest(c, 10001, "start and end must be YYYY-MM-DD")
		return
	}
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	recs, err := h.svc.GetByDateRange(c.Request.Context(), actor, "", start, end)
	if err != nil {
		writeError(c, codeAttendance, err)
		return
	}
	response.OK(c, gin.H{"list": dto.ToAttendanceResponses(recs)})
}

// Monthly records plus summary; managers and admins pass ?student_id
// GET /api/v1/attendance/monthly/:month/:year
func (h *AttendanceHandler) Monthly(c *gin.Context) {
	h.monthly(c, c.Query("student_id"), true)
}

// Summary monthly summary of one student
// GET /api/v1/attendance/summary/:student_id/:month/:year
func (h *AttendanceHandler) Summary(c *gin.Context) {
	h.monthly(c, c.Param("student_id"), false)
}

func (h *AttendanceHandler) monthly(c *gin.Context, studentID string, withRecords bool) {
	month, ok := paramInt(c, "month")
	if !ok {
		return
	}
	year, ok := paramInt(c, "year")
	if !ok {
		return
	}
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	recs, err := h.svc.GetMonthly(c.Request.Context(), actor, studentID, month, year)
	if err != nil {
		writeError(c, codeAttendance, err)
		return
	}
	if studentID == "" {
		studentID = actor.UserID
	}
	summary := service.SummarizeRecords(recs, studentID, month, year)
	if !withRecords {
		response.OK(c, summary)
		return
	}
	response.OK(c, dto.MonthlyAttendanceResponse{
		Records: dto.ToAttendanceResponses(recs),
		Summary: summary,
	})
}

// MessSnapshot one mess on one day
// GET /api/v1/attendance/mess/:mess_id/:date
func (h *AttendanceHandler) MessSnapshot(c *gin.Context) {
	day, err := parseDay(c.Param("date"), h.loc)
	if err != nil {
		response.BadRequest(c, 10001, "date must be YYYY-MM-DD")
		return
	}
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	snap, err := h.svc.GetMessSnapshot(c.Request.Context(), actor, c.Param("mess_id"), day)
	if err != nil {
		writeError(c, codeAttendance, err)
		return
	}
	response.OK(c, snap)
}

// Get one record
// GET /api/v1/attendance/:id
func (h *AttendanceHandler) Get(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}
	rec, err := h.svc.GetRecord(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		writeError(c, codeAttendance, err)
		return
	}
	response.OK(c, dto.ToAttendanceResponse(rec))
}

// Correct manager/admin edit of a record
// PUT /api/v1/attendance/:id
func (h *AttendanceHandler) Correct(c *gin.Context) {
	var req dto.CorrectAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	rec, err := h.svc.Correct(c.Request.Context(), actor, c.Param("id"), &req)
	if err != nil {
		writeError(c, codeAttendance, err)
		return
	}
	response.OK(c, dto.ToAttendanceResponse(rec))
}

// Delete removes a record
// DELETE /api/v1/attendance/:id
func (h *AttendanceHandler) Delete(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		writeError(c, codeAttendance, err)
		return
	}
	response.OK(c, nil)
}
