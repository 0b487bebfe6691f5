package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// CheckSingleDeviceSession rejects a student token whose JTI is no longer
// the active login, so a second device cannot feed the same attempt's
// proctor. Admin tokens pass through.
func CheckSingleDeviceSession(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if claims.TokenType != service.TokenTypeStudent {
			c.Next()
			return
		}

		err := authService.ValidateStudentSession(c.Request.Context(), claims.UserID, claims.ID)
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, service.ErrNoActiveLogin), errors.Is(err, service.ErrSessionInvalidated):
			response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionInvalidated)
		default:
			response.AbortFail(c, http.StatusServiceUnavailable, response.ErrInternal)
		}
	}
}
