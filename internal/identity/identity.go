package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Errors returned while resolving a bearer credential. Both are fatal to
// the operation that required the identity.
var (
	ErrNoCredential = errors.New("missing bearer credential")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Email  string
}

type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Resolver validates HS256 session tokens and extracts the caller
// identity from the sub and email claims.
type Resolver struct {
	secret []byte
	now    func() time.Time
}

// NewResolver returns a Resolver using the given signing secret.
func NewResolver(secret string) *Resolver {
	return &Resolver{secret: []byte(secret), now: time.Now}
}

// Resolve extracts the identity from an Authorization header value.
func (r *Resolver) Resolve(authorization string) (Identity, error) {
	raw := bearerToken(authorization)
	if raw == "" {
		return Identity{}, ErrNoCredential
	}

	token, err := jwt.ParseWithClaims(raw, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return r.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return r.now() }))
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*sessionClaims)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{
		UserID: strings.TrimSpace(claims.Subject),
		Email:  strings.ToLower(strings.TrimSpace(claims.Email)),
	}, nil
}

// Issue signs a session token for the given identity. Used by the session
// bridge and by tests.
func (r *Resolver) Issue(id Identity, ttl time.Duration) (string, error) {
	now := r.now()
	claims := sessionClaims{
		Email: strings.ToLower(strings.TrimSpace(id.Email)),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

func bearerToken(authorization string) string {
	authorization = strings.TrimSpace(authorization)
	if authorization == "" {
		return ""
	}
	parts := strings.SplitN(authorization, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
