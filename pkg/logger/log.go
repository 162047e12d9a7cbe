package logger

import (
	"net/http"
	"sort"
	"strings"
)

// Header values that must never reach the log output.
func redacted(name string) bool {
	switch strings.ToLower(name) {
	case "authorization", "x-api-key", "x-user-signature":
		return true
	}
	return false
}

// SafeHeaders renders request headers as "Name=value; ..." with
// credential-bearing values replaced. Keys are sorted so log lines are
// stable across requests.
func SafeHeaders(r *http.Request) string {
	parts := make([]string, 0, len(r.Header))
	for name, vals := range r.Header {
		if len(vals) == 0 || vals[0] == "" {
			continue
		}
		v := vals[0]
		if redacted(name) {
			v = "<redacted>"
		}
		parts = append(parts, name+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// LogRequest emits a one-line summary of an incoming request.
func LogRequest(r *http.Request) {
	Info("incoming_request",
		"method", r.Method,
		"path", r.URL.Path,
		"remote", r.RemoteAddr,
		"headers", SafeHeaders(r),
	)
}
