package authgin

import (
	"github.com/gin-gonic/gin"
)

// UserView is a flat view of the caller as established by RequireIdentity.
type UserView struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	PrivateEmail  bool   `json:"private_email"`

	// Meta
	Source string `json:"source"` // "token" | "none"
}

// CurrentUser returns the verified caller for handlers.
// Order of precedence:
//  1. Payload stored by RequireIdentity → Source: "token"
//  2. None (unauthenticated, Optional mode) → Source: "none"
func CurrentUser(c *gin.Context) (UserView, bool) {
	if p, ok := PayloadFromGin(c); ok && p.Subject() != "" {
		return UserView{
			UserID:        p.Subject(),
			Email:         p.Email(),
			EmailVerified: p.EmailVerified(),
			PrivateEmail:  p.IsPrivateEmail(),
			Source:        "token",
		}, true
	}
	return UserView{Source: "none"}, false
}
