package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"storefront/internal/domain/auth"
	"storefront/internal/usecase"

	"github.com/gin-gonic/gin"
)

type AuthMiddleware struct {
	tokenValidator usecase.TokenValidator
}

const (
	ctxIdentityKey = "identity"
	ctxClaimsKey   = "jwt_claims"
)

func NewAuthMiddleware(tokenValidator usecase.TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{
		tokenValidator: tokenValidator,
	}
}

func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "Access token required", "kind": "UNAUTHENTICATED"},
			})
			c.Abort()
			return
		}

		identity, err := m.tokenValidator.ValidateToken(token)
		if err != nil {
			slog.Warn("Token validation failed in auth middleware", "error", err.Error())
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "Invalid or expired token", "kind": "UNAUTHENTICATED"},
			})
			c.Abort()
			return
		}

		SetIdentity(c, identity)
		c.Next()
	}
}

// RequireRoleAtLeast must run after RequireAuth.
func (m *AuthMiddleware) RequireRoleAtLeast(minRole auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := GetIdentity(c)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": gin.H{"message": "Internal server error"},
			})
			c.Abort()
			return
		}

		if !identity.Role.AtLeast(minRole) {
			c.JSON(http.StatusForbidden, gin.H{
				"error": gin.H{"message": "Insufficient permissions", "kind": "FORBIDDEN"},
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// SetIdentity is also used by handler tests to fake an authenticated caller.
func SetIdentity(c *gin.Context, identity auth.Identity) {
	c.Set(ctxIdentityKey, identity)
	claims := map[string]any{"role": identity.Role.String()}
	if identity.UserID != nil {
		claims["user_id"] = identity.UserID.String()
	} else {
		claims["session_id"] = identity.SessionID
	}
	c.Set(ctxClaimsKey, claims)
}

func GetIdentity(c *gin.Context) (auth.Identity, bool) {
	v, exists := c.Get(ctxIdentityKey)
	if !exists {
		return auth.Identity{}, false
	}
	identity, ok := v.(auth.Identity)
	return identity, ok
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("Bearer "):])
}
