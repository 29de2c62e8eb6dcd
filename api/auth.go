/*
auth.go - Bearer token identity

PURPOSE:
  Every /api route runs behind Authenticator.Middleware. It verifies an HS256
  JWT from the Authorization header and puts the caller's lending.Identity on
  the request context. Handlers read it with IdentityFrom and pass it to the
  service explicitly.

CLAIMS:
  sub   user ID (profile ID)
  role  student, staff, admin, pending or rejected
  exp   required

ROLE SOURCE:
  Staff change a user's role after sign-up (pending -> student). When a
  profile exists its stored role wins over the token's claim, so approval
  takes effect without a new token.
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/borrow-ledger/lending"
)

// Claims is the token payload.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// RoleSource looks up a user's current role.
type RoleSource interface {
	GetProfile(ctx context.Context, id lending.UserID) (*lending.Profile, error)
}

type Authenticator struct {
	secret []byte
	Roles  RoleSource // optional
	Now    func() time.Time
}

func NewAuthenticator(secret string, roles RoleSource) *Authenticator {
	return &Authenticator{secret: []byte(secret), Roles: roles, Now: time.Now}
}

// Issue signs a token for id valid for ttl.
func (a *Authenticator) Issue(id lending.Identity, ttl time.Duration) (string, error) {
	now := a.Now()
	claims := Claims{
		Role: string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(id.UserID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse verifies raw and returns the identity it carries.
func (a *Authenticator) Parse(raw string) (lending.Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.Now),
	)
	if err != nil {
		return lending.Identity{}, fmt.Errorf("%w: %v", lending.ErrUnauthorized, err)
	}

	role := lending.Role(claims.Role)
	if claims.Subject == "" || !role.Valid() {
		return lending.Identity{}, fmt.Errorf("%w: token has no subject or an unknown role", lending.ErrUnauthorized)
	}
	return lending.Identity{UserID: lending.UserID(claims.Subject), Role: role}, nil
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			writeError(w, r, fmt.Errorf("%w: authorization header missing", lending.ErrUnauthorized))
			return
		}

		id, err := a.Parse(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if a.Roles != nil {
			p, err := a.Roles.GetProfile(r.Context(), id.UserID)
			switch {
			case err == nil:
				id.Role = p.Role
			case !errors.Is(err, lending.ErrNotFound):
				writeError(w, r, err)
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id lending.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller, or the zero Identity outside Middleware.
func IdentityFrom(ctx context.Context) lending.Identity {
	id, _ := ctx.Value(identityKey{}).(lending.Identity)
	return id
}
