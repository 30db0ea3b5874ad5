package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mealdeck/mealdeck/internal/config"
)

// NewOIDC builds the platform-native OIDC strategy. Endpoints come from
// config instead of hard-coded constants, and it is the single provider
// allowed to set the admin flag: an is_admin claim in its id_token is
// trusted because the issuer is operated by the platform itself. That
// trust must never be extended to a third-party provider.
func NewOIDC(cfg config.Credentials) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("oidc: client credentials required")
	}
	if cfg.Issuer == "" || cfg.AuthURL == "" || cfg.TokenURL == "" || cfg.UserInfoURL == "" {
		return nil, fmt.Errorf("oidc: issuer and endpoint urls required")
	}
	issuer := strings.TrimRight(cfg.Issuer, "/")
	userInfoURL := cfg.UserInfoURL

	return &Provider{
		Key:            config.ProviderOIDC,
		AuthURL:        cfg.AuthURL,
		TokenURL:       cfg.TokenURL,
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		RedirectURL:    cfg.RedirectURL,
		Scopes:         cfg.Scopes,
		AuthStyle:      AuthStyleBody,
		CallbackMethod: http.MethodGet,
		FetchProfile: func(ctx context.Context, hc *http.Client, ts *TokenSet) (*Profile, error) {
			return fetchOIDCProfile(ctx, hc, ts, issuer, userInfoURL)
		},
	}, nil
}

func fetchOIDCProfile(ctx context.Context, hc *http.Client, ts *TokenSet, issuer, userInfoURL string) (*Profile, error) {
	m, err := getJSON(ctx, hc, userInfoURL, ts.AccessToken)
	if err != nil {
		return nil, err
	}
	sub := str(m, "sub")
	if sub == "" {
		return nil, fmt.Errorf("oidc: userinfo missing sub")
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

	// is_admin comes from the id_token, and only when the token's iss
	// matches the configured platform issuer.
	if ts.IDToken != "" {
		if claims, err := idTokenClaims(ts.IDToken); err == nil {
			iss, _ := claims["iss"].(string)
			if strings.TrimRight(iss, "/") == issuer {
				if isAdmin, ok := claims["is_admin"].(bool); ok {
					p.IsAdmin = isAdmin
					p.HasAdminClaim = true
				}
			}
		}
	}

	return Normalize(config.ProviderOIDC, p), nil
}
