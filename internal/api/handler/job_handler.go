package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"messhub/backend/internal/dto"
	"messhub/backend/internal/service"
	"messhub/backend/pkg/response"
)

// JobHandler manual triggers of the scheduled policies
type JobHandler struct {
	presence service.PresenceService
	loc      *time.Location
}

// NewJobHandler creates a JobHandler.
func NewJobHandler(presence service.PresenceService, loc *time.Location) *JobHandler {
	return &JobHandler{presence: presence, loc: loc}
}

// RunAutoPresence applies auto-presence to a past day, yesterday by default
// POST /api/v1/jobs/auto-presence
func (h *JobHandler) RunAutoPresence(c *gin.Context) {
	var req dto.AutoPresenceRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindFailed(c, err)
			return
		}
	}

	var day time.Time
	if req.Date != "" {
		d, err := parseDay(req.Date, h.loc)
		if err != nil {
			response.BadRequest(c, 10001, "date must be YYYY-MM-DD")
			return
		}
		day = d
	}

	result, err := h.presence.Run(c.Request.Context(), day)
	if err != nil {
		writeError(c, codeJobs, err)
		return
	}
	response.OK(c, result)
}
