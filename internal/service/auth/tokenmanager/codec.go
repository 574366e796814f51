package tokenmanager

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/plany/internal/apperrors"
	"github.com/nkiryanov/plany/internal/models"
)

const defaultSigningMethod = "HS256"

func init() {
	// Sub-second iat so session-wide revocation can be ordered against issuance
	// Dates are issued at millisecond boundaries and carried with microseconds to absorb float error
	jwt.TimePrecision = time.Microsecond
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Type      models.TokenType `json:"typ"`
	SessionID string           `json:"sid"`
}

// Codec signs and verifies HMAC JWTs
type Codec struct {
	alg jwt.SigningMethod
	now func() time.Time
}

// Only HMAC algorithms are accepted. Empty alg means HS256, nil now means time.Now
func NewCodec(alg string, now func() time.Time) (*Codec, error) {
	if alg == "" {
		alg = defaultSigningMethod
	}

	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing method %q, only HMAC is allowed", alg)
	}

	if now == nil {
		now = time.Now
	}

	return &Codec{alg: method, now: now}, nil
}

// Sign claims with secret. IssuedAt is set to now and ExpiresAt to now+ttl
// Returns signed token and claims as they were signed
func (c *Codec) Sign(claims models.TokenClaims, secret []byte, ttl time.Duration) (string, models.TokenClaims, error) {
	claims.IssuedAt = c.now().Truncate(time.Millisecond)
	claims.ExpiresAt = claims.IssuedAt.Add(ttl)

	token := jwt.NewWithClaims(c.alg, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.UserID.String(),
			ID:        claims.TokenID.String(),
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
		Type:      claims.Type,
		SessionID: claims.SessionID.String(),
	})

	signed, err := token.SignedString(secret)
	if err != nil {
		return "", claims, fmt.Errorf("error while signing %s token. Err: %w", claims.Type, err)
	}

	return signed, claims, nil
}

// Verify token signature, expiry and type
// Returns apperrors.ErrTokenExpired or apperrors.ErrTokenInvalid joined with jwt error that caused it
func (c *Codec) Verify(token string, secret []byte, typ models.TokenType) (models.TokenClaims, error) {
	var claims models.TokenClaims
	parsed := &tokenClaims{}

	_, err := jwt.ParseWithClaims(
		token,
		parsed,
		func(t *jwt.Token) (any, error) {
			return secret, nil
		},
		jwt.WithValidMethods([]string{c.alg.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return claims, fmt.Errorf("%w: %w", apperrors.ErrTokenExpired, err)
	default:
		return claims, fmt.Errorf("%w: %w", apperrors.ErrTokenInvalid, err)
	}

	if parsed.Type != typ {
		return claims, fmt.Errorf("%w: expected %s token, got %q", apperrors.ErrTokenInvalid, typ, parsed.Type)
	}
	if parsed.IssuedAt == nil {
		return claims, fmt.Errorf("%w: token has no iat", apperrors.ErrTokenInvalid)
	}

	claims.Type = parsed.Type
	if claims.UserID, err = uuid.Parse(parsed.Subject); err != nil {
		return claims, fmt.Errorf("%w: bad sub: %w", apperrors.ErrTokenInvalid, err)
	}
	if claims.TokenID, err = uuid.Parse(parsed.ID); err != nil {
		return claims, fmt.Errorf("%w: bad jti: %w", apperrors.ErrTokenInvalid, err)
	}
	if claims.SessionID, err = uuid.Parse(parsed.SessionID); err != nil {
		return claims, fmt.Errorf("%w: bad sid: %w", apperrors.ErrTokenInvalid, err)
	}

	// Numeric dates travel as float seconds, round back to the millisecond they were issued at
	claims.IssuedAt = parsed.IssuedAt.Round(time.Millisecond)
	claims.ExpiresAt = parsed.ExpiresAt.Round(time.Millisecond)

	return claims, nil
}
