package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
)

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier resolves a bearer token to a user id. Production
// deployments plug in an external auth service; SecretVerifier is the
// built-in default. The progress hub shares this interface.
type TokenVerifier interface {
	VerifyToken(token string) (userID string, err error)
}

// SecretVerifier verifies tokens of the form "<user>:<signature>" where
// the signature is hex HMAC-SHA256 of the user id under a shared secret.
type SecretVerifier struct {
	secret []byte
}

// NewSecretVerifier creates a verifier over a shared secret.
func NewSecretVerifier(secret string) *SecretVerifier {
	return &SecretVerifier{secret: []byte(secret)}
}

// Sign produces a valid token for the given user id.
func (v *SecretVerifier) Sign(userID string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(userID))
	return userID + ":" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyToken implements TokenVerifier.
func (v *SecretVerifier) VerifyToken(token string) (string, error) {
	userID, sig, ok := strings.Cut(token, ":")
	if !ok || userID == "" {
		return "", ErrInvalidToken
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(userID))
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return "", ErrInvalidToken
	}
	return userID, nil
}

// authedHandler is a handler that runs with a verified user id.
type authedHandler func(w http.ResponseWriter, r *http.Request, userID string)

// auth wraps a handler with bearer-token verification.
func (s *Server) auth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		userID, err := s.verifier.VerifyToken(token)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
			return
		}
		next(w, r, userID)
	}
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
