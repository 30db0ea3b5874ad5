// Package providers defines the multi-provider authentication strategies.
//
// Each provider is one value of the Provider struct: endpoints plus a small
// capability set (PKCE or not, how the token endpoint wants client
// credentials, GET or POST callback) and a profile fetch function that
// normalizes the provider's claim shape into Profile. The flow driver is
// generic over this struct; there is no per-provider subclassing.
package providers

import (
	"context"
	"net/http"
	"time"
)

// AuthStyle says where the token endpoint expects client credentials.
type AuthStyle int

const (
	// AuthStyleBody sends client_id/client_secret as form fields.
	AuthStyleBody AuthStyle = iota
	// AuthStyleBasic sends an Authorization: Basic base64(id:secret)
	// header and omits the credentials from the body. Twitter rejects
	// body credentials, so getting this wrong fails the exchange.
	AuthStyleBasic
)

// TokenSet holds what the token endpoint returned. Tokens are opaque; they
// are stored as provided and never interpreted.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	ExpiresIn    int
}

// Profile is the canonical, provider-agnostic identity record.
type Profile struct {
	ExternalID string
	Email      string
	// EmailSynthesized is true when the provider withheld the email and a
	// {provider}_{externalID}@oauth.local placeholder was minted.
	EmailSynthesized bool
	FirstName        string
	LastName         string
	DisplayName      string
	AvatarURL        string
	// IsAdmin is only ever set by the platform-native OIDC provider.
	// HasAdminClaim marks it authoritative: reconciliation propagates
	// IsAdmin to the user record only when this is true, so a login via
	// any other provider can never grant or revoke the flag.
	IsAdmin       bool
	HasAdminClaim bool
	// Raw keeps the original claims/profile JSON for the link metadata.
	Raw map[string]any
}

// Provider is one configured authentication strategy.
type Provider struct {
	Key string

	AuthURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	NeedsPKCE bool
	AuthStyle AuthStyle
	// CallbackMethod is GET for everyone except Apple, whose form_post
	// response mode POSTs the callback.
	CallbackMethod string
	// ExtraAuthParams are appended to the authorization redirect URL.
	ExtraAuthParams map[string]string

	// FetchProfile turns an exchanged token set into the canonical
	// profile, normalizing the provider's claim shape.
	FetchProfile func(ctx context.Context, hc *http.Client, ts *TokenSet) (*Profile, error)
}

// HTTPClient is the shared client for token exchange and profile fetch.
// Bounded timeout so no flow step can hang a request forever.
func HTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
