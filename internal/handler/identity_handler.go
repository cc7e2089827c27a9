package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-quiz/internal/middleware"
	"github.com/stemsi/exstem-quiz/internal/response"
	"github.com/stemsi/exstem-quiz/internal/service"
)

// IdentityHandler hands out anonymous identities.
type IdentityHandler struct {
	identity *service.IdentityService
}

// NewIdentityHandler creates a new IdentityHandler.
func NewIdentityHandler(identity *service.IdentityService) *IdentityHandler {
	return &IdentityHandler{identity: identity}
}

// Anonymous godoc
// POST /api/v1/identity/anonymous
// Mints an anonymous identity, or refreshes the token of the caller's
// existing one when a valid token is supplied.
func (h *IdentityHandler) Anonymous(c *gin.Context) {
	var (
		token, userID string
		err           error
	)

	if claims := middleware.GetClaims(c); claims != nil {
		userID = claims.UserID
		token, err = h.identity.SignToken(userID)
	} else {
		token, userID, err = h.identity.IssueAnonymousToken()
	}
	if err != nil {
		response.FailFromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token":   token,
		"user_id": userID,
	})
}
