package handler

import (
	"github.com/gin-gonic/gin"

	"messhub/backend/internal/service"
	"messhub/backend/pkg/response"
)

// MustGetUserID extracts user_id set by the JWT middleware. On false a 401
// has been written and the caller should return.
func MustGetUserID(c *gin.Context) (string, bool) {
	v, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, 10002, "unauthenticated")
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		response.Unauthorized(c, 10002, "unauthenticated")
		return "", false
	}
	return s, true
}

// MustGetRole extracts role.
func MustGetRole(c *gin.Context) (string, bool) {
	v, exists := c.Get("role")
	if !exists {
		response.Unauthorized(c, 10002, "unauthenticated")
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		response.Unauthorized(c, 10002, "unauthenticated")
		return "", false
	}
	return s, true
}

// GetMessID extracts mess_id. Admins carry none.
func GetMessID(c *gin.Context) string {
	v, _ := c.Get("mess_id")
	s, _ := v.(string)
	return s
}

// MustGetActor builds the service actor from the token claims.
func MustGetActor(c *gin.Context) (service.Actor, bool) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return service.Actor{}, false
	}
	role, ok := MustGetRole(c)
	if !ok {
		return service.Actor{}, false
	}
	return service.Actor{UserID: userID, Role: role, MessID: GetMessID(c)}, true
}
