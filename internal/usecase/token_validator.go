package usecase

import (
	"errors"

	"storefront/internal/domain/auth"
	"storefront/internal/pkg/jwt"
)

var ErrTokenValidation = errors.New("token validation failed")

// TokenValidator turns a bearer token issued by the session layer into an Identity.
type TokenValidator interface {
	ValidateToken(tokenString string) (auth.Identity, error)
}

type tokenValidatorImpl struct {
	jwtService *jwt.Service
}

func NewTokenValidator(jwtService *jwt.Service) TokenValidator {
	return &tokenValidatorImpl{
		jwtService: jwtService,
	}
}

func (t *tokenValidatorImpl) ValidateToken(tokenString string) (auth.Identity, error) {
	claims, err := t.jwtService.ValidateToken(tokenString)
	if err != nil {
		return auth.Identity{}, err
	}

	role, err := auth.NewRole(claims.Role)
	if err != nil {
		return auth.Identity{}, err
	}

	return auth.NewIdentity(claims.UserID, claims.SessionID, role, claims.Verified)
}
