package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Validation failures. Every rejection the gate can produce maps onto one of
// these sentinels so callers can branch with errors.Is.
var (
	ErrMissingCredential = errors.New("authorization header missing or not a bearer token")
	ErrMalformed         = errors.New("token is not a valid JWT")
	ErrBadSignature      = errors.New("token signature verification failed")
	ErrExpired           = errors.New("token is expired")
	ErrBadDestination    = errors.New("destination is not a valid room path")
	ErrForbidden         = errors.New("identity is not a participant of the room")
)

// Claims carried by chat tokens. Subject is the user identity (email).
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Validator verifies bearer tokens against a process-wide signing secret.
// It holds no per-request state; a single instance is shared by all
// connections.
type Validator struct {
	secret []byte
	now    func() time.Time
}

func NewValidator(secret string) *Validator {
	return &Validator{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// Validate checks structural well-formedness, signature and expiry, and
// returns the subject identity and expiry on success. Pure function of
// (token, current time, secret).
func (v *Validator) Validate(tokenString string) (identity string, expiry time.Time, err error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return v.secret, nil
		},
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return "", time.Time{}, classify(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", time.Time{}, ErrMalformed
	}
	if claims.Subject == "" {
		return "", time.Time{}, fmt.Errorf("%w: empty subject", ErrMalformed)
	}

	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	return claims.Subject, exp, nil
}

// classify maps jwt/v5 parse errors onto the local taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

// Generate creates a signed token for the given identity. Token issuance is
// owned by the directory service in production; this is kept for tests and
// local tooling.
func (v *Validator) Generate(identity, role string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "chat-relay",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// BearerToken extracts the raw token from an "Authorization: Bearer <token>"
// header value. Returns ErrMissingCredential when the header is absent or the
// scheme is wrong.
func BearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if header == "" || !strings.HasPrefix(header, prefix) {
		return "", ErrMissingCredential
	}
	token := strings.TrimPrefix(header, prefix)
	if token == "" {
		return "", ErrMissingCredential
	}
	return token, nil
}

// RejectionReason returns the short label used in logs and metrics for an
// auth error.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, ErrBadDestination):
		return "bad_destination"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "internal"
	}
}
