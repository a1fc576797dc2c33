// internal/auth/identity.go
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CookieName is the cookie the web client stores its token under.
const CookieName = "auth_token"

// ErrNoToken is returned when a request carries neither the cookie nor a bearer token.
var ErrNoToken = errors.New("no auth token")

// Identity signs and verifies player tokens. Authentication itself happens
// elsewhere; this only proves which user id a connection belongs to.
type Identity struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	ttl  time.Duration
}

// NewIdentity generates a fresh ed25519 key pair. A zero ttl issues tokens
// without an exp claim.
func NewIdentity(ttl time.Duration) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &Identity{priv: priv, pub: pub, ttl: ttl}, nil
}

// LoadIdentity reads a raw ed25519 key pair from disk.
func LoadIdentity(privatePath, publicPath string, ttl time.Duration) (*Identity, error) {
	priv, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	pub, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(priv) != ed25519.PrivateKeySize || len(pub) != ed25519.PublicKeySize {
		return nil, errors.New("key files are not raw ed25519 keys")
	}
	return &Identity{priv: priv, pub: pub, ttl: ttl}, nil
}

// Issue returns a signed token whose subject is userID.
func (i *Identity) Issue(userID uuid.UUID) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:  userID.String(),
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}
	if i.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(i.ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(i.priv)
}

// Verify checks the signature and expiry of token and returns its subject.
func (i *Identity) Verify(token string) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	t, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.pub, nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return uuid.Nil, errors.New("invalid token")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid sub in jwt: %w", err)
	}
	return userID, nil
}

// Authenticate verifies the token carried by r, checking the cookie first and
// then the Authorization header.
func (i *Identity) Authenticate(r *http.Request) (uuid.UUID, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return uuid.Nil, ErrNoToken
	}
	return i.Verify(token)
}

// TokenFromRequest extracts the raw token string, or "" if none is present.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}
