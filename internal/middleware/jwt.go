package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// ContextKeyClaims is the Gin context key for verified JWT claims.
const ContextKeyClaims = "claims"

// tokenExtractor pulls the raw JWT out of a request.
type tokenExtractor func(c *gin.Context) string

// bearerOrQuery reads the Authorization header and falls back to ?token=
// for EventSource clients, which cannot set headers.
func bearerOrQuery(c *gin.Context) string {
	scheme, token, found := strings.Cut(c.GetHeader("Authorization"), " ")
	if found && strings.EqualFold(scheme, "bearer") && token != "" {
		return token
	}
	return c.Query("token")
}

// queryOnly reads ?token=. Browsers cannot attach headers to a WebSocket
// handshake.
func queryOnly(c *gin.Context) string {
	return c.Query("token")
}

// RequireStudentJWT admits student tokens on the beacon API.
func RequireStudentJWT(authService *service.AuthService) gin.HandlerFunc {
	return requireToken(authService, service.TokenTypeStudent, bearerOrQuery)
}

// RequireAdminJWT admits admin tokens on the monitor and audit API.
func RequireAdminJWT(authService *service.AuthService) gin.HandlerFunc {
	return requireToken(authService, service.TokenTypeAdmin, bearerOrQuery)
}

// RequireStudentWSAuth admits student tokens on the proctor socket.
func RequireStudentWSAuth(authService *service.AuthService) gin.HandlerFunc {
	return requireToken(authService, service.TokenTypeStudent, queryOnly)
}

func requireToken(authService *service.AuthService, want service.TokenType, extract tokenExtractor) gin.HandlerFunc {
	denied := response.ErrStudentAccessOnly
	if want == service.TokenTypeAdmin {
		denied = response.ErrAdminAccessOnly
	}

	return func(c *gin.Context) {
		raw := extract(c)
		if raw == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := authService.ValidateToken(raw)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}
		if claims.TokenType != want {
			response.AbortFail(c, http.StatusForbidden, denied)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims returns the verified claims, or nil outside an authenticated route.
func GetClaims(c *gin.Context) *service.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, _ := val.(*service.Claims)
	return claims
}
