package secapi

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// authHeaderPattern strips "Authorization: <value>" and "Bearer <token>"
// sequences from free-form text, case-insensitively, regardless of where
// they land in a message someone concatenated from response bodies or
// headers.
var authHeaderPattern = regexp.MustCompile(`(?i)(authorization\s*:?\s*)(bearer\s+)?[a-z0-9._\-]+`)
var bearerTokenPattern = regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._\-]+`)

// redactSecrets scrubs the configured credential (if passed) and any
// authorization-header-shaped substring from s. Every error message passes
// through this at construction (newBaseError), so the error_message field
// of default-logging events is already redacted; the emitter does not
// redact its other fields (url, method, ...) itself.
func redactSecrets(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, redactedPlaceholder)
	}
	s = authHeaderPattern.ReplaceAllString(s, "${1}"+redactedPlaceholder)
	s = bearerTokenPattern.ReplaceAllString(s, redactedPlaceholder)
	return s
}

// sanitizeHeaders returns a copy of h with the Authorization header (and
// any header whose value contains the active credential) removed, for the
// on_request callback's headers_sanitized argument. Matching is
// case-insensitive on the header name, per spec §4.2.
func sanitizeHeaders(h map[string][]string, apiKey string) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, v := range h {
		if strings.EqualFold(k, "Authorization") {
			continue
		}
		if apiKey != "" {
			redacted := make([]string, len(v))
			dirty := false
			for i, val := range v {
				if strings.Contains(val, apiKey) {
					redacted[i] = redactedPlaceholder
					dirty = true
				} else {
					redacted[i] = val
				}
			}
			if dirty {
				out[k] = redacted
				continue
			}
		}
		out[k] = v
	}
	return out
}
