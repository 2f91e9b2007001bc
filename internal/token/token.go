// Package token mints and verifies the short-lived personal access tokens the
// catalog accepts, so the services can act as a user or as the system actor.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Errors returned by Verify.
var (
	ErrMissing  = errors.New("token is required")
	ErrInvalid  = errors.New("token is invalid")
	ErrExpired  = errors.New("token is expired")
	ErrMismatch = errors.New("token actor mismatch")
)

// Claims is the payload of a catalog personal access token.
type Claims struct {
	jwt.RegisteredClaims
	ActorType string `json:"actorType"`
	ActorID   string `json:"actorId"`
	Type      string `json:"type"`
	Version   string `json:"version"`
}

// Issuer signs tokens with a shared HS256 secret.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. ttl applies to every minted token.
func NewIssuer(secret, issuer string, ttl time.Duration) *Issuer {
	return &Issuer{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock returns a copy of the issuer that reads time from now.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	cp := *i
	cp.now = now
	return &cp
}

// Mint returns a signed token asserting actorID as a user.
func (i *Issuer) Mint(actorID string) (string, error) {
	return i.MintTTL(actorID, i.ttl)
}

// MintTTL is Mint with an explicit lifetime.
func (i *Issuer) MintTTL(actorID string, ttl time.Duration) (string, error) {
	if len(i.secret) == 0 {
		return "", errors.New("token issuer has no signing secret")
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return "", errors.New("token actor is required")
	}
	if ttl <= 0 {
		return "", errors.New("token ttl must be positive")
	}

	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   actorID,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		ActorType: "USER",
		ActorID:   actorID,
		Type:      "PERSONAL",
		Version:   "1",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, issuer and expiry of raw and that it was
// minted for actorID.
func (i *Issuer) Verify(raw, actorID string) (*Claims, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return nil, ErrMissing
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.ActorID != actorID {
		return nil, ErrMismatch
	}
	return &claims, nil
}
