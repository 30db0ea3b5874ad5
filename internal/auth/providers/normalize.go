package providers

import (
	"fmt"
	"strings"
)

// SyntheticEmail mints the placeholder address used when a provider
// withholds the real one. Stable per identity, so repeat logins reconcile
// to the same user.
func SyntheticEmail(provider, externalID string) string {
	return fmt.Sprintf("%s_%s@oauth.local", provider, externalID)
}

// Normalize fills the gaps every provider leaves differently: a missing
// email becomes the synthetic placeholder, and the name fields fall back
// through display name, then email local part, then the literal "User".
// The User entity's name fields are never left empty.
func Normalize(providerKey string, p *Profile) *Profile {
	if p.Email == "" {
		p.Email = SyntheticEmail(providerKey, p.ExternalID)
		p.EmailSynthesized = true
	}
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))

	if p.FirstName == "" && p.LastName == "" {
		first, last := nameParts(p.DisplayName, p.Email)
		p.FirstName, p.LastName = first, last
	}
	if p.FirstName == "" {
		p.FirstName = "User"
	}
	return p
}

// nameParts splits a display name into first/last, falling back to the
// email local part.
func nameParts(display, email string) (string, string) {
	display = strings.TrimSpace(display)
	if display != "" {
		parts := strings.Fields(display)
		if len(parts) == 1 {
			return parts[0], ""
		}
		return parts[0], strings.Join(parts[1:], " ")
	}
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at], ""
	}
	return "", ""
}
