package handler

import (
	"time"

	"messhub/backend/config"
	"messhub/backend/internal/service"
)

// Handler aggregates all handlers.
type Handler struct {
	Attendance *AttendanceHandler
	Bill       *BillHandler
	Job        *JobHandler
}

// NewHandler creates the handler aggregate. loc is the clock zone used to
// parse calendar days from requests.
func NewHandler(svc *service.Service, billing config.BillingConfig, loc *time.Location) *Handler {
	return &Handler{
		Attendance: NewAttendanceHandler(svc.Attendance, loc),
		Bill:       NewBillHandler(svc.Billing, billing),
		Job:        NewJobHandler(svc.Presence, loc),
	}
}
