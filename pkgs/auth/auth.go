package auth

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Scheme represents the supported auth schemes.
type Scheme int

// Supported schemes.
const (
	SchemeBearer Scheme = iota
	SchemeBasic
)

// Auth holds credentials for outbound requests.
type Auth struct {
	scheme   Scheme
	user     string
	password string
}

// NewBearer returns a Bearer Auth holding the given token.
func NewBearer(token string) *Auth {
	return &Auth{
		scheme:   SchemeBearer,
		password: token,
	}
}

// NewBasic returns a Basic Auth for the given user and password.
func NewBasic(user string, password string) *Auth {
	return &Auth{
		scheme:   SchemeBasic,
		user:     user,
		password: password,
	}
}

// Token returns the bearer token or password.
func (a *Auth) Token() string {
	return a.password
}

// Encode encodes the Auth for the Authorization header.
func (a *Auth) Encode() string {
	switch a.scheme {
	case SchemeBearer:
		return fmt.Sprintf("Bearer %s", a.password)
	case SchemeBasic:
		return fmt.Sprintf("Basic %s", base64.StdEncoding.EncodeToString(fmt.Appendf([]byte{}, "%s:%s", a.user, a.password)))
	default:
		panic("unknown auth scheme")
	}
}

// ParseBearer extracts the token from an Authorization header value.
// It returns false on a missing, non-Bearer, or empty-token header.
func ParseBearer(header string) (string, bool) {

	const prefix = "Bearer "

	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}

	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", false
	}

	return token, true
}
