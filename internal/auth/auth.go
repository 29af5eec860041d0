package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"slices"
	"strings"
)

// User is the acting principal of a request.
type User struct {
	Name   string
	Groups []string
	// ForceHTTPS asks for every plain-HTTP view to be upgraded.
	ForceHTTPS bool
	// KeyHash is the SHA-256 hex digest of the user's API key.
	KeyHash string
}

// Anonymous returns the principal used when no key is presented.
func Anonymous() *User {
	return &User{Name: "", Groups: []string{"*"}}
}

// IsAnonymous reports whether u carries no identity.
func (u *User) IsAnonymous() bool {
	return u == nil || u.Name == ""
}

// EffectiveGroups is the implicit "*" group, "user" for named users, then
// the explicit groups.
func (u *User) EffectiveGroups() []string {
	groups := []string{"*"}
	if u.IsAnonymous() {
		return groups
	}
	groups = append(groups, "user")
	for _, g := range u.Groups {
		if !slices.Contains(groups, g) {
			groups = append(groups, g)
		}
	}
	return groups
}

// InGroup reports whether u is a member of group.
func (u *User) InGroup(group string) bool {
	return slices.Contains(u.EffectiveGroups(), group)
}

// Authenticator validates API keys and resolves the user behind them
type Authenticator struct {
	users map[string]*User // keyhash -> user
}

// NewAuthenticator creates an authenticator for the configured users
func NewAuthenticator(users []*User) *Authenticator {
	a := &Authenticator{
		users: make(map[string]*User, len(users)),
	}
	for _, u := range users {
		if u.KeyHash != "" {
			a.users[strings.ToLower(u.KeyHash)] = u
		}
	}
	return a
}

// ValidateAPIKey validates an API key and returns the associated user
func (a *Authenticator) ValidateAPIKey(apiKey string) (*User, error) {
	keyHash := HashAPIKey(apiKey)

	u, ok := a.users[keyHash]
	if !ok {
		return nil, fmt.Errorf("invalid API key")
	}

	// Constant-time comparison to prevent timing attacks
	if subtle.ConstantTimeCompare([]byte(keyHash), []byte(strings.ToLower(u.KeyHash))) != 1 {
		return nil, fmt.Errorf("invalid API key")
	}
	return u, nil
}

// ExtractAPIKey extracts the API key from the Authorization header
func ExtractAPIKey(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	// Support "Bearer <key>" format
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid Authorization header format")
	}

	if strings.ToLower(parts[0]) != "bearer" {
		return "", fmt.Errorf("unsupported authorization scheme")
	}

	return parts[1], nil
}

// HashAPIKey creates a SHA-256 hash of an API key for storage
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}

type userKey struct{}

// WithUser attaches u to ctx.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the user attached to ctx, or the anonymous user.
func UserFromContext(ctx context.Context) *User {
	if u, ok := ctx.Value(userKey{}).(*User); ok && u != nil {
		return u
	}
	return Anonymous()
}
