// Package auth issues and verifies bearer tokens and hashes passwords.
package auth

import (
	"crypto/sha512"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"golang.org/x/crypto/bcrypt"
)

// DefaultTokenTTL is how long issued tokens stay valid.
const DefaultTokenTTL = 365 * 24 * time.Hour

// ErrInvalidToken is returned for tokens that fail to parse, verify or
// validate.
var ErrInvalidToken = errors.New("invalid token")

// ErrInvalidPassword is returned when a password does not match its hash.
var ErrInvalidPassword = errors.New("invalid password")

// claims is the token payload.
type claims struct {
	jwt.Claims
	UserID string `json:"user_id"`
}

// Tokens signs and verifies HS512 tokens.
type Tokens struct {
	key    []byte
	signer jose.Signer
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates a token issuer from a shared secret.
func NewTokens(secret string, ttl time.Duration) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("token secret must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	// Stretch arbitrary secrets to the HS512 block size.
	sum := sha512.Sum512([]byte(secret))
	key := sum[:]
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS512, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create signer: %w", err)
	}
	return &Tokens{key: key, signer: signer, ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token for userID.
func (t *Tokens) Issue(userID string) (string, error) {
	now := t.now()
	c := claims{
		Claims: jwt.Claims{
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(now.Add(t.ttl)),
		},
		UserID: userID,
	}
	raw, err := jwt.Signed(t.signer).Claims(c).Serialize()
	if err != nil {
		return "", fmt.Errorf("unable to sign token: %w", err)
	}
	return raw, nil
}

// Verify checks a token and returns the user it was issued to.
func (t *Tokens) Verify(raw string) (string, error) {
	token, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS512})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var c claims
	if err := token.Claims(t.key, &c); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if err := c.Claims.ValidateWithLeeway(jwt.Expected{Time: t.now()}, 0); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.UserID == "" {
		return "", fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	return c.UserID, nil
}

// Passwords hashes and checks passwords with bcrypt.
type Passwords struct {
	// Cost is the bcrypt cost. Zero means bcrypt.DefaultCost.
	Cost int
}

// Hash returns the bcrypt hash of password.
func (p Passwords) Hash(password string) (string, error) {
	cost := p.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("unable to hash password: %w", err)
	}
	return string(hash), nil
}

// Check compares password against hash.
func (p Passwords) Check(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidPassword
	}
	return nil
}
