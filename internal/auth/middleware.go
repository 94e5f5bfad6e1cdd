package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ecommerce-admin/internal/apperr"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "

	// IdentityKey is where the verified caller is stored on the gin context.
	IdentityKey = "identity"
)

// RequireAccessToken verifies an access token and puts the caller's Identity
// on the request context. Role checks live in internal/rbac.
//
// Failures use the same {"error": kind, "message": ...} body as the order
// endpoints so clients can branch on one shape.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		tok, ok := strings.CutPrefix(raw, bearerPrefix)
		if !ok || strings.TrimSpace(tok) == "" {
			rejectCaller(c, "missing bearer token")
			return
		}

		claims, err := m.Verify(strings.TrimSpace(tok), TokenTypeAccess, time.Now())
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			rejectCaller(c, "access token expired")
			return
		case errors.Is(err, ErrWrongTokenType):
			rejectCaller(c, "refresh tokens cannot be used for order operations")
			return
		case err != nil:
			rejectCaller(c, "invalid token")
			return
		}

		id := Identity{UserID: claims.UserID, Role: claims.Role, Phone: claims.Phone}
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		c.Set(IdentityKey, id)

		c.Next()
	}
}

func rejectCaller(c *gin.Context, reason string) {
	err := fmt.Errorf("%w: %s", apperr.ErrUnauthorized, reason)
	c.Header("WWW-Authenticate", `Bearer realm="order-admin"`)
	c.AbortWithStatusJSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Kind(err), "message": reason})
}
