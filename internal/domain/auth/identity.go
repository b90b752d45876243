package auth

import (
	"errors"

	"github.com/google/uuid"
)

var (
	ErrInvalidRole         = errors.New("invalid role")
	ErrAnonymousIdentity   = errors.New("identity has neither user nor session")
	ErrIdentityNotVerified = errors.New("identity is not verified")
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleHierarchy = map[Role]int{
	RoleCustomer: 1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

func (r Role) String() string {
	return string(r)
}

func (r Role) IsValid() bool {
	_, ok := roleHierarchy[r]
	return ok
}

func (r Role) AtLeast(min Role) bool {
	have, okHave := roleHierarchy[r]
	want, okWant := roleHierarchy[min]
	return okHave && okWant && have >= want
}

func NewRole(s string) (Role, error) {
	role := Role(s)
	if !role.IsValid() {
		return "", ErrInvalidRole
	}
	return role, nil
}

// Identity is produced by the session layer; the storefront only reads it.
type Identity struct {
	UserID    *uuid.UUID
	SessionID string
	Role      Role
	Verified  bool
}

func NewIdentity(userID *uuid.UUID, sessionID string, role Role, verified bool) (Identity, error) {
	if userID == nil && sessionID == "" {
		return Identity{}, ErrAnonymousIdentity
	}
	if !role.IsValid() {
		return Identity{}, ErrInvalidRole
	}
	return Identity{UserID: userID, SessionID: sessionID, Role: role, Verified: verified}, nil
}

// Owner is the stable principal string that scopes idempotency keys and order visibility.
func (i Identity) Owner() string {
	if i.UserID != nil {
		return "user:" + i.UserID.String()
	}
	return "session:" + i.SessionID
}

func (i Identity) RequireVerified() error {
	if !i.Verified {
		return ErrIdentityNotVerified
	}
	return nil
}
