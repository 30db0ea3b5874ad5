package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mealdeck/mealdeck/internal/config"
)

const (
	appleAuthURL  = "https://appleid.apple.com/auth/authorize"
	appleTokenURL = "https://appleid.apple.com/auth/token"
)

// NewApple builds the Sign in with Apple strategy. Apple has no userinfo
// endpoint; the profile is read from the id_token returned by the token
// exchange. Its form_post response mode means the callback arrives as a
// POST rather than a GET.
func NewApple(cfg config.Credentials) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("apple: client credentials required")
	}
	return &Provider{
		Key:            config.ProviderApple,
		AuthURL:        appleAuthURL,
		TokenURL:       appleTokenURL,
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		RedirectURL:    cfg.RedirectURL,
		Scopes:         cfg.Scopes,
		AuthStyle:      AuthStyleBody,
		CallbackMethod: http.MethodPost,
		ExtraAuthParams: map[string]string{
			"response_mode": "form_post",
		},
		FetchProfile: fetchAppleProfile,
	}, nil
}

func fetchAppleProfile(ctx context.Context, _ *http.Client, ts *TokenSet) (*Profile, error) {
	if ts.IDToken == "" {
		return nil, fmt.Errorf("apple: token response missing id_token")
	}
	claims, err := idTokenClaims(ts.IDToken)
	if err != nil {
		return nil, fmt.Errorf("apple: %w", err)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("apple: id_token missing sub")
	}
	email, _ := claims["email"].(string)

	p := &Profile{
		ExternalID: sub,
		Email:      email,
		Raw:        map[string]any(claims),
	}
	return Normalize(config.ProviderApple, p), nil
}
