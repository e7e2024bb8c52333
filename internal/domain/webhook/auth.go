package webhook

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// Authenticator validates the shared-secret credential on inbound events.
// Rejection has no side effects; nothing is read or written before the
// secret is verified.
type Authenticator struct {
	secret string
	logger zerolog.Logger
}

func NewAuthenticator(secret string, logger zerolog.Logger) *Authenticator {
	return &Authenticator{secret: secret, logger: logger}
}

// SecretFromHeaders extracts the caller-supplied secret. Three header
// conventions have accumulated across partner integrations; they are probed
// in a fixed order and the first non-empty value wins.
func SecretFromHeaders(h http.Header) string {
	if v := h.Get("X-Webhook-Secret"); v != "" {
		return v
	}
	if v := h.Get("X-Api-Key"); v != "" {
		return v
	}
	if auth := h.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return rest
		}
	}
	return ""
}

// Verify checks the provided secret against the configured one. A missing
// configured secret is a server misconfiguration, not an auth failure, and
// is logged as such.
func (a *Authenticator) Verify(provided string) error {
	if a.secret == "" {
		a.logger.Error().Msg("invoice webhook secret is not configured; rejecting event")
		return ErrConfiguration
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(a.secret)) != 1 {
		a.logger.Warn().Msg("invoice webhook rejected: bad or missing secret")
		return ErrAuthentication
	}
	return nil
}
