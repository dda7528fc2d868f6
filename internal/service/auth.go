package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/cloo-solutions/kbindex/internal/domain"
)

const apiKeyPrefix = "kbx_"

type apiKeyEntry struct {
	hash   [sha256.Size]byte
	teamID string
}

// AuthService resolves bearer tokens to the team that owns them. Keys come
// from configuration and only their hashes are kept in memory.
type AuthService struct {
	keys []apiKeyEntry
}

// NewAuthService builds a validator from token:team pairs.
func NewAuthService(keys map[string]string) *AuthService {
	s := &AuthService{keys: make([]apiKeyEntry, 0, len(keys))}
	for token, team := range keys {
		token = strings.TrimSpace(token)
		team = strings.TrimSpace(team)
		if token == "" || team == "" {
			continue
		}
		s.keys = append(s.keys, apiKeyEntry{hash: sha256.Sum256([]byte(token)), teamID: team})
	}
	return s
}

// ValidateAPIKey returns the team bound to token. Every configured key is
// compared so the lookup time does not depend on which one matched.
func (s *AuthService) ValidateAPIKey(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", domain.ErrInvalidAPIKey
	}
	sum := sha256.Sum256([]byte(token))

	teamID := ""
	for _, k := range s.keys {
		if subtle.ConstantTimeCompare(sum[:], k.hash[:]) == 1 {
			teamID = k.teamID
		}
	}
	if teamID == "" {
		return "", domain.ErrInvalidAPIKey
	}
	return teamID, nil
}

// KeyCount reports how many keys are loaded.
func (s *AuthService) KeyCount() int {
	return len(s.keys)
}

// GenerateAPIToken returns a fresh random token in the kbx_<64 hex> form.
func GenerateAPIToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to generate API key", err)
	}
	return apiKeyPrefix + hex.EncodeToString(bytes), nil
}

func IsValidAPIToken(token string) bool {
	if !strings.HasPrefix(token, apiKeyPrefix) {
		return false
	}
	hexPart := token[len(apiKeyPrefix):]
	if len(hexPart) != 64 {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil
}
