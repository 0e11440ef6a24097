package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"messhub/backend/internal/dto"
	"messhub/backend/pkg/apperr"
	"messhub/backend/pkg/response"
)

// Module code bases. The kind offset is added to the base.
const (
	codeAttendance = 20000
	codeBilling    = 30000
	codeJobs       = 40000
)

const (
	offValidation = 1 + iota
	offConflict
	offForbidden
	offNotFound
	offStale
)

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, base int, err error) {
	msg := apperr.Message(err, "")
	switch {
	case errors.Is(err, apperr.ErrValidation):
		response.BadRequest(c, base+offValidation, msg)
	case errors.Is(err, apperr.ErrAuthorization):
		response.Forbidden(c, base+offForbidden, msg)
	case errors.Is(err, apperr.ErrNotFound):
		response.NotFound(c, base+offNotFound, msg)
	case errors.Is(err, apperr.ErrConflict):
		response.Conflict(c, base+offConflict, msg)
	case errors.Is(err, apperr.ErrOptimisticLock):
		response.Conflict(c, base+offStale, apperr.ErrOptimisticLock.Error())
	default:
		response.InternalError(c)
	}
}

// bindFailed writes the generic 400 for binding errors.
func bindFailed(c *gin.Context, err error) {
	response.ErrorWithDetails(c, http.StatusBadRequest, 10001, "invalid request parameters", err.Error())
}

func parseDay(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(dto.DateLayout, s, loc)
}

func paramInt(c *gin.Context, name string) (int, bool) {
	n, err := strconv.Atoi(c.Param(name))
	if err != nil {
		response.BadRequest(c, 10001, name+" must be a number")
		return 0, false
	}
	return n, true
}
