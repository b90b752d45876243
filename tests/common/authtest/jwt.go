//go:build unit || e2e

package authtest

import (
	"testing"
	"time"

	"storefront/internal/domain/auth"
	"storefront/internal/pkg/config"
	"storefront/internal/pkg/jwt"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// JWTHelper mints the tokens the external session layer would issue.
type JWTHelper struct {
	cfg config.JWTConfig
}

func NewJWTHelper(cfg config.JWTConfig) *JWTHelper {
	return &JWTHelper{cfg: cfg}
}

func (h *JWTHelper) GenerateToken(t *testing.T, identity auth.Identity) string {
	t.Helper()
	duration, err := time.ParseDuration(h.cfg.Duration)
	require.NoError(t, err)
	token, err := jwt.NewService(h.cfg.Secret, duration).GenerateToken(identity)
	require.NoError(t, err)
	return token
}

func (h *JWTHelper) CreateExpiredToken(t *testing.T, identity auth.Identity) string {
	t.Helper()
	token, err := jwt.NewService(h.cfg.Secret, time.Millisecond).GenerateToken(identity)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	return token
}

// Customer returns a verified customer identity with a fresh user id.
func Customer() auth.Identity {
	id := uuid.New()
	return auth.Identity{UserID: &id, Role: auth.RoleCustomer, Verified: true}
}

func Operator() auth.Identity {
	id := uuid.New()
	return auth.Identity{UserID: &id, Role: auth.RoleOperator, Verified: true}
}

// Guest is a verified anonymous session.
func Guest() auth.Identity {
	return auth.Identity{SessionID: "sess_" + uuid.NewString()[:8], Role: auth.RoleCustomer, Verified: true}
}
