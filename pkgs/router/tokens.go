package router

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Role tells which surface a token routes to.
type Role string

// The possible roles.
const (
	RoleHuman Role = "human"
	RoleAgent Role = "agent"
)

// TokenInfo is the resolved identity behind a bearer token.
type TokenInfo struct {
	Role    Role   `yaml:"role"`
	AgentID string `yaml:"agent,omitempty"`
}

// Validate checks the TokenInfo is internally consistent.
func (t TokenInfo) Validate() error {

	switch t.Role {
	case RoleHuman:
		if t.AgentID != "" {
			return fmt.Errorf("human token must not carry an agent id")
		}
	case RoleAgent:
		if t.AgentID == "" {
			return fmt.Errorf("agent token must carry an agent id")
		}
	default:
		return fmt.Errorf("invalid role '%s'", t.Role)
	}

	return nil
}

// cacheKey distinguishes identities from each other, including
// distinct agents.
func (t TokenInfo) cacheKey() string {
	return string(t.Role) + "/" + t.AgentID
}

// A TokenStore resolves bearer tokens to identities. Stores are
// constructor-injected: there is no process-global token table.
type TokenStore struct {
	tokens map[string]TokenInfo
}

// NewTokenStore returns a TokenStore over the given static map.
func NewTokenStore(tokens map[string]TokenInfo) (*TokenStore, error) {

	for token, info := range tokens {
		if err := info.Validate(); err != nil {
			return nil, fmt.Errorf("invalid info for token %s: %w", hashToken(token), err)
		}
	}

	out := make(map[string]TokenInfo, len(tokens))
	for token, info := range tokens {
		out[token] = info
	}

	return &TokenStore{tokens: out}, nil
}

// NewTokenStoreFromFile loads a TokenStore from a YAML file mapping
// raw tokens to their TokenInfo.
func NewTokenStoreFromFile(path string) (*TokenStore, error) {

	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("unable to read token file: %w", err)
	}

	tokens := map[string]TokenInfo{}
	if err := yaml.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("unable to decode token file: %w", err)
	}

	return NewTokenStore(tokens)
}

// Resolve returns the identity behind the given raw token.
func (s *TokenStore) Resolve(token string) (TokenInfo, bool) {
	info, ok := s.tokens[token]
	return info, ok
}
