package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

var sensitiveKeys = []string{"token", "secret", "passphrase", "password", "key", "authorization"}

// IsSensitive reports whether a log key names a credential.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	for _, marker := range sensitiveKeys {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}

// MaskField returns a slog.Attr that redacts the supplied value when the key
// names a credential. Empty values are kept to avoid noise.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || !IsSensitive(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// maskedURLPart replaces URL components; it needs no escaping.
const maskedURLPart = "redacted"

// MaskURL hides user info, query strings and path segments that look like
// provider API keys ("/v3/<key>") in RPC and gateway endpoints.
func MaskURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return raw
	}
	if parsed.User != nil {
		parsed.User = url.User(maskedURLPart)
	}
	if parsed.RawQuery != "" {
		parsed.RawQuery = maskedURLPart
	}
	segments := strings.Split(parsed.Path, "/")
	for i, segment := range segments {
		if len(segment) >= 24 {
			segments[i] = maskedURLPart
		}
	}
	parsed.Path = strings.Join(segments, "/")
	parsed.RawPath = ""
	return parsed.String()
}
