package dto

import (
	"time"

	"messhub/backend/internal/model"
)

// ── attendance requests ──

// MealMarkRequest one meal of a mark request
type MealMarkRequest struct {
	MealType  string `json:"meal_type"  binding:"required,oneof=breakfast lunch eveningSnacks dinner"`
	IsPresent *bool  `json:"is_present" binding:"required"`
}

// MarkAttendanceRequest marks one or more meals of a day.
// StudentID is honoured for managers and admins only.
type MarkAttendanceRequest struct {
	StudentID string            `json:"student_id"`
	Date      string            `json:"date"  binding:"required"` // "2026-01-10"
	Meals     []MealMarkRequest `json:"meals" binding:"required,min=1,max=4,dive"`
}

// RegisterLeaveRequest leave for [start_date, end_date]
type RegisterLeaveRequest struct {
	StartDate   string `json:"start_date"  binding:"required"`
	EndDate     string `json:"end_date"    binding:"required"`
	Reason      string `json:"reason"      binding:"required,oneof=vacation sick_leave home_visit emergency other"`
	Description string `json:"description" binding:"max=500"`
}

// CorrectAttendanceRequest manager/admin edit of a record. Totals are
// always re-derived.
type CorrectAttendanceRequest struct {
	Meals            []MealMarkRequest `json:"meals"             binding:"omitempty,max=4,dive"`
	IsOnLeave        *bool             `json:"is_on_leave"`
	LeaveReason      *string           `json:"leave_reason"      binding:"omitempty,oneof=vacation sick_leave home_visit emergency other"`
	LeaveDescription *string           `json:"leave_description" binding:"omitempty,max=500"`
	Status           *string           `json:"status"            binding:"omitempty,oneof=pending confirmed cancelled"`
	Remarks          *string           `json:"remarks"           binding:"omitempty,max=500"`
}

// DateRangeQuery inclusive range
type DateRangeQuery struct {
	Start string `form:"start" binding:"required"`
	End   string `form:"end"   binding:"required"`
}

// AutoPresenceRequest runs the policy for date (defaults to yesterday).
type AutoPresenceRequest struct {
	Date string `json:"date"`
}

// ── attendance responses ──

// MealMarkResponse one meal mark
type MealMarkResponse struct {
	MealType  string `json:"meal_type"`
	IsPresent bool   `json:"is_present"`
	MarkedAt  string `json:"marked_at"`
	MarkedBy  string `json:"marked_by"`
}

// AttendanceResponse one ledger record
type AttendanceResponse struct {
	ID                string             `json:"id"`
	StudentID         string             `json:"student_id"`
	StudentName       string             `json:"student_name,omitempty"`
	MessID            string             `json:"mess_id"`
	Date              string             `json:"date"`
	DayOfWeek         string             `json:"day_of_week"`
	Meals             []MealMarkResponse `json:"meals"`
	IsOnLeave         bool               `json:"is_on_leave"`
	LeaveReason       string             `json:"leave_reason,omitempty"`
	LeaveDescription  string             `json:"leave_description,omitempty"`
	LeaveStartDate    string             `json:"leave_start_date,omitempty"`
	LeaveEndDate      string             `json:"leave_end_date,omitempty"`
	TotalMealsPresent int                `json:"total_meals_present"`
	TotalMealsAbsent  int                `json:"total_meals_absent"`
	Status            string             `json:"status"`
	Remarks           string             `json:"remarks,omitempty"`
}

// AttendanceSummary monthly reduction of the ledger
type AttendanceSummary struct {
	StudentID            string  `json:"student_id"`
	Month                int     `json:"month"`
	Year                 int     `json:"year"`
	TotalDays            int     `json:"total_days"`
	PresentDays          int     `json:"present_days"`
	AbsentDays           int     `json:"absent_days"`
	TotalMealsPresent    int     `json:"total_meals_present"`
	TotalMealsAbsent     int     `json:"total_meals_absent"`
	AttendancePercentage float64 `json:"attendance_percentage"`
}

// MonthlyAttendanceResponse records plus their summary
type MonthlyAttendanceResponse struct {
	Records []AttendanceResponse `json:"records"`
	Summary AttendanceSummary    `json:"summary"`
}

// MessSnapshotResponse one mess on one day.
// StudentsAbsent counts records that are not on leave and have no meal
// present. Active students with no record are StudentsUnmarked.
type MessSnapshotResponse struct {
	MessID           string               `json:"mess_id"`
	Date             string               `json:"date"`
	Records          []AttendanceResponse `json:"records"`
	TotalRecords     int                  `json:"total_records"`
	StudentsPresent  int                  `json:"students_present"`
	StudentsOnLeave  int                  `json:"students_on_leave"`
	StudentsAbsent   int                  `json:"students_absent"`
	StudentsUnmarked int                  `json:"students_unmarked"`
}

// AutoPresenceResult counts of one policy run
type AutoPresenceResult struct {
	Date          string      `json:"date"`
	Students      int         `json:"students"`
	Created       int         `json:"created"`
	Filled        int         `json:"filled"`
	SkippedLeave  int         `json:"skipped_leave"`
	SkippedMarked int         `json:"skipped_marked"`
	Errors        []ItemError `json:"errors,omitempty"`
}

// ── converters ──

// ToAttendanceResponse converts a ledger record.
func ToAttendanceResponse(r *model.AttendanceRecord) AttendanceResponse {
	resp := AttendanceResponse{
		ID:                r.AttendanceID,
		StudentID:         r.StudentID,
		MessID:            r.MessID,
		Date:              r.Date.Format(DateLayout),
		DayOfWeek:         r.DayOfWeek,
		Meals:             make([]MealMarkResponse, 0, len(r.Meals)),
		IsOnLeave:         r.IsOnLeave,
		LeaveReason:       string(r.LeaveReason),
		LeaveDescription:  r.LeaveDescription,
		LeaveStartDate:    formatDatePtr(r.LeaveStartDate),
		LeaveEndDate:      formatDatePtr(r.LeaveEndDate),
		TotalMealsPresent: r.TotalMealsPresent,
		TotalMealsAbsent:  r.TotalMealsAbsent,
		Status:            r.Status,
		Remarks:           r.Remarks,
	}
	if r.Student != nil {
		resp.StudentName = r.Student.Name
	}
	for _, m := range r.Meals {
		resp.Meals = append(resp.Meals, MealMarkResponse{
			MealType:  string(m.MealType),
			IsPresent: m.IsPresent,
			MarkedAt:  m.MarkedAt.Format(time.RFC3339),
			MarkedBy:  string(m.MarkedBy),
		})
	}
	return resp
}

// ToAttendanceResponses converts a slice.
func ToAttendanceResponses(recs []model.AttendanceRecord) []AttendanceResponse {
	out := make([]AttendanceResponse, 0, len(recs))
	for i := range recs {
		out = append(out, ToAttendanceResponse(&recs[i]))
	}
	return out
}

func formatDatePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(DateLayout)
}
