package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/ethos-works/ethosgraph/internal/domain"
)

// AuthService validates API keys configured at startup. Keys are stored as
// SHA-256 digests keyed to the reviewer identity they act as; raw keys never
// live in memory past construction.
type AuthService struct {
	actorsByHash map[string]string
}

// NewAuthService builds the validator from "actor:key" pairs.
func NewAuthService(pairs []string) *AuthService {
	s := &AuthService{actorsByHash: make(map[string]string, len(pairs))}
	for _, pair := range pairs {
		actor, key, ok := strings.Cut(pair, ":")
		if !ok || actor == "" || key == "" {
			continue
		}
		s.actorsByHash[hashAPIKey(key)] = actor
	}
	return s
}

// ValidateAPIKey resolves a raw API key to its actor.
func (s *AuthService) ValidateAPIKey(ctx context.Context, token string) (string, error) {
	actor, ok := s.actorsByHash[hashAPIKey(token)]
	if !ok {
		return "", domain.ErrInvalidAPIKey
	}
	return actor, nil
}

func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
