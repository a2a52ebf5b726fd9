package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// Token verification failures, distinguished so RequireUser can report
// AUTH_EXPIRED separately from AUTH_INVALID.
var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// AccessClaims are the custom claims carried by a user access token.
type AccessClaims struct {
	Subject string   `json:"sub"`
	JTI     string   `json:"jti,omitempty"`
	Caps    []string `json:"caps,omitempty"`
}

// TokenManager issues and validates HS256 access tokens with a fixed issuer.
type TokenManager struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
}

// NewTokenManager creates a token manager for the given process secret.
func NewTokenManager(secret, issuer string, ttl time.Duration) *TokenManager {
	return &TokenManager{
		signingKey: []byte(secret),
		issuer:     issuer,
		ttl:        ttl,
	}
}

// Issue creates a signed access token for the given subject. jti may be
// empty; caps become the token's capability claim.
func (tm *TokenManager) Issue(subject, jti string, caps []string) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: tm.signingKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("creating signer: %w", err)
	}

	now := time.Now()
	registered := jwt.Claims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(now.Add(tm.ttl)),
		NotBefore: jwt.NewNumericDate(now),
		Issuer:    tm.issuer,
	}
	custom := AccessClaims{Subject: subject, JTI: jti, Caps: caps}

	token, err := jwt.Signed(signer).Claims(registered).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

// Verify checks the signature, issuer and expiry of a raw token and returns
// its claims. Returns ErrTokenExpired or ErrTokenInvalid.
func (tm *TokenManager) Verify(raw string) (*AccessClaims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, ErrTokenInvalid
	}

	var registered jwt.Claims
	var custom AccessClaims
	if err := tok.Claims(tm.signingKey, &registered, &custom); err != nil {
		return nil, ErrTokenInvalid
	}

	err = registered.ValidateWithLeeway(jwt.Expected{
		Issuer: tm.issuer,
		Time:   time.Now(),
	}, 5*time.Second)
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, ErrTokenInvalid
	}

	if custom.Subject == "" {
		custom.Subject = registered.Subject
	}
	return &custom, nil
}
