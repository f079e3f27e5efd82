package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/notification-api/internal/model"
	authsvc "github.com/jwalitptl/notification-api/internal/service/auth"
	apperrors "github.com/jwalitptl/notification-api/pkg/errors"
	"github.com/jwalitptl/notification-api/pkg/httputil"
)

const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*authsvc.Principal, error)
}

type AuthMiddleware struct {
	auth Authenticator
}

func NewAuthMiddleware(auth Authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: auth}
}

// Authenticate verifies the bearer session token and sets the caller's
// user id and role in the context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			httputil.RespondWithError(c, apperrors.Unauthorized(nil))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			httputil.RespondWithError(c, apperrors.Unauthorized(nil))
			return
		}

		p, err := m.auth.Authenticate(c.Request.Context(), parts[1])
		if err != nil {
			httputil.RespondWithError(c, err)
			return
		}

		SetPrincipal(c, p)
		c.Next()
	}
}

// RequireRole rejects callers whose role is not in roles.
func RequireRole(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := RoleFrom(c)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		httputil.RespondWithError(c, apperrors.Forbidden("insufficient role"))
	}
}

func SetPrincipal(c *gin.Context, p *authsvc.Principal) {
	c.Set(ContextUserID, p.UserID)
	c.Set(ContextRole, p.Role)
}

func UserIDFrom(c *gin.Context) uuid.UUID {
	id, _ := c.Get(ContextUserID)
	u, _ := id.(uuid.UUID)
	return u
}

func RoleFrom(c *gin.Context) model.Role {
	role, _ := c.Get(ContextRole)
	r, _ := role.(model.Role)
	return r
}

// PrincipalFrom returns the authenticated caller, or nil outside
// authenticated routes.
func PrincipalFrom(c *gin.Context) *authsvc.Principal {
	id := UserIDFrom(c)
	if id == uuid.Nil {
		return nil
	}
	return &authsvc.Principal{UserID: id, Role: RoleFrom(c)}
}
