// Package token mints and verifies signed, expiring tokens that carry a small
// string payload. Tokens are namespaced by purpose: a token minted for one
// purpose never verifies under another.
package token

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrExpired = errors.New("token expired")
	ErrInvalid = errors.New("token invalid")
)

// maxClockSkew bounds how far in the future an issuance time may lie.
const maxClockSkew = time.Minute

type claims struct {
	Payload map[string]string `json:"pld"`
	jwt.RegisteredClaims
}

// Codec signs and verifies tokens with keys derived from one process secret.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec returns a Codec keyed by secret.
func NewCodec(secret string, opts ...Option) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("token: secret is required")
	}
	c := &Codec{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Mint signs payload for purpose. The issuance time is embedded in the token.
func (c *Codec) Mint(payload map[string]string, purpose string) (string, error) {
	if purpose == "" {
		return "", errors.New("token: purpose is required")
	}
	key, err := c.key(purpose)
	if err != nil {
		return "", err
	}
	cl := claims{
		Payload: payload,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience: jwt.ClaimStrings{purpose},
			IssuedAt: jwt.NewNumericDate(c.now()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and purpose of raw and returns its payload.
// It returns ErrExpired when the token is older than maxAge and ErrInvalid for
// any other failure.
func (c *Codec) Verify(raw, purpose string, maxAge time.Duration) (map[string]string, error) {
	if raw == "" || purpose == "" {
		return nil, ErrInvalid
	}
	key, err := c.key(purpose)
	if err != nil {
		return nil, err
	}

	var cl claims
	_, err = jwt.ParseWithClaims(raw, &cl, func(*jwt.Token) (interface{}, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, ErrInvalid
	}

	if !hasAudience(cl.Audience, purpose) || cl.IssuedAt == nil {
		return nil, ErrInvalid
	}
	now := c.now()
	issued := cl.IssuedAt.Time
	if issued.After(now.Add(maxClockSkew)) {
		return nil, ErrInvalid
	}
	if now.Sub(issued) > maxAge {
		return nil, ErrExpired
	}

	if cl.Payload == nil {
		cl.Payload = map[string]string{}
	}
	return cl.Payload, nil
}

// IssuedAt is the time Mint would stamp on a token right now.
func (c *Codec) IssuedAt() time.Time {
	return c.now()
}

func (c *Codec) key(purpose string) ([]byte, error) {
	r := hkdf.New(sha256.New, c.secret, nil, []byte("signed-envelope:"+purpose))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

func hasAudience(aud jwt.ClaimStrings, purpose string) bool {
	for _, a := range aud {
		if a == purpose {
			return true
		}
	}
	return false
}
