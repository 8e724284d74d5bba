package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jmerrifield20/civicstreak/internal/streak"
)

// MinSecretLen is the shortest HMAC secret NewTokenIssuer accepts.
const MinSecretLen = 16

const tokenTypeOwner = "owner"

// OwnerClaims are the JWT claims of an owner session token. The subject is
// the base58 owner identity.
type OwnerClaims struct {
	jwt.RegisteredClaims
	Type string `json:"type"`
}

// Owner parses the subject of the claims.
func (c *OwnerClaims) Owner() (streak.Identity, error) {
	return streak.ParseIdentity(c.Subject)
}

// TokenIssuer issues and verifies HS256 owner tokens.
//
// Tokens bind a request to an owner identity established elsewhere (for
// example by a wallet login service sharing the secret); the ledger does not
// verify wallet signatures itself.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer. ttl defaults to 24 hours.
func NewTokenIssuer(secret, issuer string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("token secret must be at least %d bytes", MinSecretLen)
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// Issue creates a signed token for owner.
func (t *TokenIssuer) Issue(owner streak.Identity) (string, error) {
	now := time.Now().UTC()
	claims := OwnerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   owner.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		Type: tokenTypeOwner,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign owner token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an owner token.
func (t *TokenIssuer) Verify(tokenStr string) (*OwnerClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&OwnerClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.secret, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify owner token: %w", err)
	}
	claims, ok := token.Claims.(*OwnerClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid owner token claims")
	}
	if claims.Type != tokenTypeOwner {
		return nil, errors.New("not an owner token")
	}
	return claims, nil
}
