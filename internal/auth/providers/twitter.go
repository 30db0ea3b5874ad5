package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mealdeck/mealdeck/internal/config"
)

const (
	twitterAuthURL     = "https://twitter.com/i/oauth2/authorize"
	twitterTokenURL    = "https://api.twitter.com/2/oauth2/token"
	twitterUserInfoURL = "https://api.twitter.com/2/users/me?user.fields=profile_image_url,name,username"
)

// NewTwitter builds the Twitter/X OAuth2 strategy. Two deviations from the
// generic flow: PKCE is mandatory, and the token endpoint authenticates the
// client with an HTTP Basic header, not body credentials.
func NewTwitter(cfg config.Credentials) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("twitter: client credentials required")
	}
	return &Provider{
		Key:            config.ProviderTwitter,
		AuthURL:        twitterAuthURL,
		TokenURL:       twitterTokenURL,
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		RedirectURL:    cfg.RedirectURL,
		Scopes:         cfg.Scopes,
		NeedsPKCE:      true,
		AuthStyle:      AuthStyleBasic,
		CallbackMethod: http.MethodGet,
		FetchProfile:   fetchTwitterProfile,
	}, nil
}

func fetchTwitterProfile(ctx context.Context, hc *http.Client, ts *TokenSet) (*Profile, error) {
	m, err := getJSON(ctx, hc, twitterUserInfoURL, ts.AccessToken)
	if err != nil {
		return nil, err
	}
	// The v2 API nests everything under "data"; the external id lives
	// there, not in a standard sub claim.
	data, _ := m["data"].(map[string]any)
	if data == nil || str(data, "id") == "" {
		return nil, fmt.Errorf("twitter: users/me missing data.id")
	}

	p := &Profile{
		ExternalID:  str(data, "id"),
		DisplayName: str(data, "name"),
		AvatarURL:   str(data, "profile_image_url"),
		Raw:         m,
	}
	if p.DisplayName == "" {
		p.DisplayName = str(data, "username")
	}
	// Twitter never returns an email; Normalize synthesizes one.
	return Normalize(config.ProviderTwitter, p), nil
}
