package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/myshop/api/internal/domain"
)

var (
	// ErrTokenExpired signals that the access token is past its expiry.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals a malformed token, bad signature, or unusable claims.
	ErrTokenInvalid = errors.New("auth: token invalid")
	// ErrPasswordMismatch is returned when a password does not match its hash.
	ErrPasswordMismatch = errors.New("auth: password mismatch")
)

const defaultIssuer = "myshop-api"

// Claims are the fields carried inside an access token.
type Claims struct {
	UserID    string
	Email     string
	Role      domain.Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// CredentialService hashes passwords and issues/decodes access tokens.
type CredentialService interface {
	HashPassword(plain string) (string, error)
	VerifyPassword(plain, hash string) error
	IssueToken(claims Claims, ttl time.Duration) (string, error)
	DecodeToken(token string) (Claims, error)
}

// JWTCredentials implements CredentialService with bcrypt and HS256 JWTs.
type JWTCredentials struct {
	secret []byte
	cost   int
	issuer string
	now    func() time.Time
}

// CredentialOption customises JWTCredentials.
type CredentialOption func(*JWTCredentials)

// WithBcryptCost overrides the bcrypt cost; values outside bcrypt's range fall back to the default.
func WithBcryptCost(cost int) CredentialOption {
	return func(c *JWTCredentials) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			c.cost = cost
		}
	}
}

// WithCredentialClock injects the time source used for issuing and validating tokens.
func WithCredentialClock(now func() time.Time) CredentialOption {
	return func(c *JWTCredentials) {
		if now != nil {
			c.now = now
		}
	}
}

// NewJWTCredentials constructs the credential service. secret must be non-empty.
func NewJWTCredentials(secret string, opts ...CredentialOption) (*JWTCredentials, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	c := &JWTCredentials{
		secret: []byte(secret),
		cost:   bcrypt.DefaultCost,
		issuer: defaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// HashPassword returns a bcrypt hash of plain.
func (c *JWTCredentials) HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), c.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword returns ErrPasswordMismatch when plain does not match hash.
func (c *JWTCredentials) VerifyPassword(plain, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return fmt.Errorf("auth: verify password: %w", err)
	}
	return nil
}

type tokenClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs claims with the configured secret.
func (c *JWTCredentials) IssueToken(claims Claims, ttl time.Duration) (string, error) {
	if strings.TrimSpace(claims.UserID) == "" {
		return "", fmt.Errorf("%w: subject is required", ErrTokenInvalid)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("%w: ttl must be positive", ErrTokenInvalid)
	}
	now := c.now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Email: claims.Email,
		Role:  string(claims.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.UserID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// DecodeToken verifies the signature and expiry and returns the embedded claims.
func (c *JWTCredentials) DecodeToken(raw string) (Claims, error) {
	// Expiry is checked below against the injected clock.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	var parsed tokenClaims
	_, err := parser.ParseWithClaims(strings.TrimSpace(raw), &parsed, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, fmt.Errorf("%w: missing expiry", ErrTokenInvalid)
	}
	if !c.now().Before(parsed.ExpiresAt.Time) {
		return Claims{}, ErrTokenExpired
	}
	if parsed.Issuer != c.issuer || strings.TrimSpace(parsed.Subject) == "" {
		return Claims{}, fmt.Errorf("%w: unexpected issuer or subject", ErrTokenInvalid)
	}
	role, err := domain.ParseRole(parsed.Role)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims := Claims{
		UserID:    parsed.Subject,
		Email:     parsed.Email,
		Role:      role,
		ExpiresAt: parsed.ExpiresAt.Time,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time
	}
	return claims, nil
}
