package observability

import (
	"net/url"
	"sort"
	"strings"
	"unicode"
)

const (
	maxLogValue   = 256
	maxRouteValue = 180
	redacted      = "[REDACTED]"
)

// Query parameters that carry credentials: email verification and password reset
// links put their one-time tokens in the URL.
var sensitiveParams = map[string]struct{}{
	"token":        {},
	"access_token": {},
	"password":     {},
	"new_password": {},
}

// logSafe strips control characters so request data cannot forge log lines.
func logSafe(value string, limit int) string {
	if limit <= 0 {
		limit = maxLogValue
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if len(cleaned) > limit {
		cleaned = cleaned[:limit]
	}
	return cleaned
}

// SanitizeRoute makes a route pattern or path safe to use as a log field or metric attribute.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return logSafe(route, maxRouteValue)
}

// SanitizeMethod makes an HTTP method safe to use as a log field or metric attribute.
func SanitizeMethod(method string) string {
	return logSafe(strings.ToUpper(method), 10)
}

// RedactQuery renders a raw query string with credential parameters masked.
func RedactQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return redacted
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		for _, value := range values[key] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			if _, secret := sensitiveParams[strings.ToLower(key)]; secret {
				b.WriteString(redacted)
				continue
			}
			b.WriteString(url.QueryEscape(value))
		}
	}
	return logSafe(b.String(), maxLogValue)
}

// RedactAuthorization keeps the scheme of an Authorization header and masks the credential.
func RedactAuthorization(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	scheme, _, found := strings.Cut(header, " ")
	if !found {
		return redacted
	}
	return logSafe(scheme, 16) + " " + redacted
}
