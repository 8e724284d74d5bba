package identity

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/jmerrifield20/civicstreak/internal/streak"
)

// HeaderDevOwner carries the caller's identity in development mode, when no
// token secret is configured.
const HeaderDevOwner = "X-Civic-Owner"

// ErrUnauthenticated is returned when a request carries no usable identity.
var ErrUnauthenticated = errors.New("owner identity required")

// Authenticator resolves the owner behind a request. It is shared by the HTTP
// and gRPC transports.
type Authenticator struct {
	tokens         *TokenIssuer
	allowDevHeader bool
}

// NewAuthenticator returns an Authenticator verifying bearer tokens with
// tokens. A nil tokens value enables the development header instead.
func NewAuthenticator(tokens *TokenIssuer) *Authenticator {
	return &Authenticator{tokens: tokens, allowDevHeader: tokens == nil}
}

// DevMode reports whether the development header is trusted.
func (a *Authenticator) DevMode() bool { return a.allowDevHeader }

// Authenticate returns the owner named by an Authorization header value or,
// in development mode, by the raw dev header value.
func (a *Authenticator) Authenticate(authorization, devOwner string) (streak.Identity, error) {
	if a.allowDevHeader {
		if devOwner == "" {
			return streak.Identity{}, fmt.Errorf("%w: %s header missing", ErrUnauthenticated, HeaderDevOwner)
		}
		id, err := streak.ParseIdentity(devOwner)
		if err != nil {
			return streak.Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		}
		return id, nil
	}

	if !strings.HasPrefix(authorization, "Bearer ") {
		return streak.Identity{}, fmt.Errorf("%w: bearer token missing", ErrUnauthenticated)
	}
	claims, err := a.tokens.Verify(strings.TrimPrefix(authorization, "Bearer "))
	if err != nil {
		return streak.Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	id, err := claims.Owner()
	if err != nil {
		return streak.Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return id, nil
}

// HashAdminSecret returns the bcrypt hash to configure as admin.secret_hash.
func HashAdminSecret(secret string) (string, error) {
	if len(secret) < MinSecretLen {
		return "", fmt.Errorf("admin secret must be at least %d bytes", MinSecretLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash admin secret: %w", err)
	}
	return string(hash), nil
}

// CheckAdminSecret reports whether secret matches hash. An empty hash matches
// nothing.
func CheckAdminSecret(hash, secret string) bool {
	if hash == "" || secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
