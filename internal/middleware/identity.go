package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-quiz/internal/response"
	"github.com/stemsi/exstem-quiz/internal/service"
)

const (
	// ContextKeyClaims is the Gin context key for JWT claims.
	ContextKeyClaims = "claims"
)

// TokenValidator verifies anonymous identity tokens.
type TokenValidator interface {
	ValidateToken(tokenStr string) (*service.Claims, error)
}

// RequireIdentity validates an anonymous identity token and stores the
// identity on both the Gin context and the request context.
func RequireIdentity(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := extractToken(c)
		if tokenStr == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := tokens.ValidateToken(tokenStr)
		if err != nil {
			abortInvalid(c, err)
			return
		}

		setIdentity(c, claims)
		c.Next()
	}
}

// OptionalIdentity attaches the identity when a valid token is present and
// lets the request through without one. An invalid token is still rejected.
func OptionalIdentity(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := extractToken(c)
		if tokenStr == "" {
			c.Next()
			return
		}

		claims, err := tokens.ValidateToken(tokenStr)
		if err != nil {
			abortInvalid(c, err)
			return
		}

		setIdentity(c, claims)
		c.Next()
	}
}

// GetClaims retrieves the JWT claims from the Gin context.
func GetClaims(c *gin.Context) *service.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*service.Claims)
	if !ok {
		return nil
	}
	return claims
}

func setIdentity(c *gin.Context, claims *service.Claims) {
	c.Set(ContextKeyClaims, claims)
	c.Request = c.Request.WithContext(service.WithIdentity(c.Request.Context(), claims.UserID))
}

func abortInvalid(c *gin.Context, err error) {
	if errors.Is(err, service.ErrIdentityUnavailable) {
		response.AbortFail(c, http.StatusServiceUnavailable, response.ErrIdentityUnavailable)
		return
	}
	response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}

	// Browsers cannot set headers on a WebSocket upgrade.
	return c.Query("token")
}
