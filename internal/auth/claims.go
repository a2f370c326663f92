package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CapLockOverride is the default capability that may set or clear a
// device's AI safety lock.
const CapLockOverride = "device.lock_override"

// MinSecretLength is the minimum guardian signing secret length in bytes.
const MinSecretLength = 32

const (
	issuer          = "homeflow"
	defaultTokenTTL = 15 * time.Minute
)

// GuardianClaims extends the registered JWT claims with the capabilities
// granted to the bearer.
type GuardianClaims struct {
	jwt.RegisteredClaims
	Capabilities []string `json:"caps"`
}

// Has reports whether the claims grant capability c.
func (c *GuardianClaims) Has(capability string) bool {
	return slices.Contains(c.Capabilities, capability)
}

// Guardian issues and verifies capability tokens for the guardian command
// path. Tokens are HS256 JWTs validated by signature alone.
type Guardian struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewGuardian creates a Guardian with the given signing secret and token
// lifetime. A non-positive ttl selects 15 minutes.
func NewGuardian(secret string, ttl time.Duration) (*Guardian, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d bytes", ErrWeakSecret, MinSecretLength)
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Guardian{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for subject granting caps.
func (g *Guardian) Issue(subject string, caps ...string) (string, error) {
	if len(caps) == 0 {
		return "", ErrNoCapability
	}
	now := g.now()
	claims := GuardianClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
			ID:        uuid.NewString(),
		},
		Capabilities: caps,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("signing guardian token: %w", err)
	}
	return signed, nil
}

// Parse validates a token and returns its claims. Expired tokens fail with
// ErrTokenExpired; every other failure wraps ErrTokenInvalid.
func (g *Guardian) Parse(token string) (*GuardianClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &GuardianClaims{}, func(_ *jwt.Token) (any, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := parsed.Claims.(*GuardianClaims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if len(claims.Capabilities) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, ErrNoCapability)
	}
	return claims, nil
}
