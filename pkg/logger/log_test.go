package logger

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSafeHeadersRedactsCredentials(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/conversations", nil)
	r.Header.Set("Authorization", "Bearer super-secret")
	r.Header.Set("X-Api-Key", "key-123")
	r.Header.Set("X-User-Signature", "deadbeef")
	r.Header.Set("X-User-Id", "alice")

	out := SafeHeaders(r)
	for _, leak := range []string{"super-secret", "key-123", "deadbeef"} {
		if strings.Contains(out, leak) {
			t.Fatalf("credential leaked into log output: %q", out)
		}
	}
	if !strings.Contains(out, "X-User-Id=alice") {
		t.Fatalf("benign header missing: %q", out)
	}
	if !strings.Contains(out, "Authorization=<redacted>") {
		t.Fatalf("redaction marker missing: %q", out)
	}
}
