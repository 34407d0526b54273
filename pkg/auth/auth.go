// Package auth verifies bearer credentials and enforces role tiers on the
// management API. Token verification is pluggable: production deployments
// delegate to an external identity provider, tests supply a stub.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification errors.
var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrExpiredToken = errors.New("auth: token has expired")
)

// Role is an access tier. Tiers are strictly ordered: admin > moderator >
// viewer > user.
type Role string

// Access tiers.
const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleViewer    Role = "viewer"
	RoleUser      Role = "user"
)

// rank orders roles for tier comparison. Unknown roles rank lowest.
func (r Role) rank() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleModerator:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// Covers reports whether r grants at least the access of required.
func (r Role) Covers(required Role) bool {
	return r.rank() >= required.rank()
}

// Identity describes an authenticated caller.
type Identity struct {
	UID   string
	Email string
	Role  Role
}

// CanManage reports whether the identity may perform management operations
// (client/role/group administration).
func (i Identity) CanManage() bool {
	return i.Role.Covers(RoleModerator)
}

// CanViewStats reports whether the identity may read broker statistics.
func (i Identity) CanViewStats() bool {
	return i.Role.Covers(RoleViewer)
}

// Verifier validates a bearer credential and resolves the caller identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// JWTVerifier validates HMAC-signed JWTs carrying uid/email/role claims.
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier creates a verifier for tokens signed with the given secret.
// If issuer is non-empty, the token's iss claim must match.
func NewJWTVerifier(secret []byte, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: secret, issuer: issuer}
}

type tokenClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Verify parses and validates the token, returning the embedded identity.
// Expired tokens return ErrExpiredToken; all other failures return
// ErrInvalidToken.
func (v *JWTVerifier) Verify(_ context.Context, token string) (Identity, error) {
	var claims tokenClaims
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("%w: %v", ErrExpiredToken, err)
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}

	role := Role(claims.Role)
	if role == "" {
		role = RoleUser
	}

	return Identity{
		UID:   claims.Subject,
		Email: claims.Email,
		Role:  role,
	}, nil
}

// SignToken mints a token the verifier will accept. Intended for tests and
// local provisioning tools.
func (v *JWTVerifier) SignToken(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Email: id.Email,
		Role:  string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
