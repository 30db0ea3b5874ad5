package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mealdeck/mealdeck/internal/config"
)

const (
	googleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL    = "https://oauth2.googleapis.com/token"
	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
)

// NewGoogle builds the Google OIDC strategy. Standard authorization code
// flow, credentials in the body, no PKCE.
func NewGoogle(cfg config.Credentials) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("google: client credentials required")
	}
	return &Provider{
		Key:            config.ProviderGoogle,
		AuthURL:        googleAuthURL,
		TokenURL:       googleTokenURL,
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		RedirectURL:    cfg.RedirectURL,
		Scopes:         cfg.Scopes,
		AuthStyle:      AuthStyleBody,
		CallbackMethod: http.MethodGet,
		ExtraAuthParams: map[string]string{
			"access_type": "offline",
			"prompt":      "select_account",
		},
		FetchProfile: fetchGoogleProfile,
	}, nil
}

func fetchGoogleProfile(ctx context.Context, hc *http.Client, ts *TokenSet) (*Profile, error) {
	m, err := getJSON(ctx, hc, googleUserInfoURL, ts.AccessToken)
	if err != nil {
		return nil, err
	}
	sub := str(m, "sub")
	if sub == "" {
		return nil, fmt.Errorf("google: userinfo missing sub")
	}
	p := &Profile{
		ExternalID:  sub,
		Email:       str(m, "email"),
		FirstName:   str(m, "given_name"),
		LastName:    str(m, "family_name"),
		DisplayName: str(m, "name"),
		AvatarURL:   str(m, "picture"),
		Raw:         m,
	}
	return Normalize(config.ProviderGoogle, p), nil
}
