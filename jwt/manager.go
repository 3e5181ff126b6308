package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	// MethodHS256 is the backend's algorithm: HMAC-SHA256 over a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

// DefaultTTL matches the backend's token lifetime of 1440 minutes.
const DefaultTTL = 24 * time.Hour

// Config configures a [Manager].
type Config struct {
	TTL           time.Duration
	SigningMethod SigningMethod
	// PrivateKey is the HS256 secret.
	PrivateKey []byte
	Leeway     time.Duration
	// Now overrides time.Now for issuance and expiry checks.
	Now func() time.Time
}

// Manager issues and verifies session tokens.
type Manager struct {
	config Config
}

// Claims is the token payload: the account id as "sub", its role, and the
// registered time claims.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewManager validates cfg. A zero TTL means [DefaultTTL].
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.TTL < 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires a secret")
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	return &Manager{config: cfg}, nil
}

// Issue signs a token for subject with role.
func (j *Manager) Issue(subject, role string) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject is required")
	}
	now := j.config.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(j.config.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.config.PrivateKey)
}

// Verify checks the signature, algorithm and expiry of tokenStr and
// returns its claims. A token without a subject is rejected.
func (j *Manager) Verify(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.config.Now),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return j.config.PrivateKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// Inspect decodes tokenStr without verifying its signature. The client uses
// it for display only (who the token names, when it expires); the backend
// stays the authority on whether the token is valid.
func Inspect(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Expiry returns the expiry claim, if present.
func (c *Claims) Expiry() (time.Time, bool) {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}, false
	}
	return c.ExpiresAt.Time, true
}
