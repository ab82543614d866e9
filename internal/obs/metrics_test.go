package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                          "/",
		"/metrics":                  "/metrics",
		"/areas/OFICIALIA":          "/areas/:area",
		"/areas/OFICIALIA/extra":    "/areas/OFICIALIA/extra",
		"/backend/oficios":          "/backend/*",
		"/backend/oficios/123":      "/backend/*",
		"/api/session?verbose=true": "/api/session",
		"/api/auth/login":           "/api/auth/login",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
