package httpx

import "testing"

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/auth/google/login", "/auth/:provider/login"},
		{"/auth/twitter/callback", "/auth/:provider/callback"},
		{"/auth/apple/callback", "/auth/:provider/callback"},
		// The local strategy's routes are static and must keep their own
		// label instead of folding into the provider slot.
		{"/auth/email/register", "/auth/email/register"},
		{"/auth/email/login", "/auth/email/login"},
		{"/auth/config-status", "/auth/config-status"},
		{"/auth/me", "/auth/me"},
		{"/readyz", "/readyz"},
	}
	for _, c := range cases {
		if got := normalizePath(c.in); got != c.want {
			t.Errorf("normalizePath(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
