package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/mealdeck/mealdeck/internal/config"
)

const (
	githubAuthURL   = "https://github.com/login/oauth/authorize"
	githubTokenURL  = "https://github.com/login/oauth/access_token"
	githubUserURL   = "https://api.github.com/user"
	githubEmailsURL = "https://api.github.com/user/emails"
)

// NewGitHub builds the GitHub OAuth2 strategy. GitHub has no ID tokens;
// the profile comes from the REST API, with a second call for the email
// when the profile one is private.
func NewGitHub(cfg config.Credentials) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("github: client credentials required")
	}
	return &Provider{
		Key:            config.ProviderGitHub,
		AuthURL:        githubAuthURL,
		TokenURL:       githubTokenURL,
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		RedirectURL:    cfg.RedirectURL,
		Scopes:         cfg.Scopes,
		AuthStyle:      AuthStyleBody,
		CallbackMethod: http.MethodGet,
		FetchProfile:   fetchGitHubProfile,
	}, nil
}

func fetchGitHubProfile(ctx context.Context, hc *http.Client, ts *TokenSet) (*Profile, error) {
	m, err := getJSON(ctx, hc, githubUserURL, ts.AccessToken)
	if err != nil {
		return nil, err
	}
	idNum, ok := m["id"].(float64)
	if !ok {
		return nil, fmt.Errorf("github: user missing id")
	}

	email := str(m, "email")
	if email == "" {
		email, _ = githubPrimaryEmail(ctx, hc, ts.AccessToken)
	}

	p := &Profile{
		ExternalID:  strconv.FormatInt(int64(idNum), 10),
		Email:       email,
		DisplayName: str(m, "name"),
		AvatarURL:   str(m, "avatar_url"),
		Raw:         m,
	}
	if p.DisplayName == "" {
		p.DisplayName = str(m, "login")
	}
	return Normalize(config.ProviderGitHub, p), nil
}

// githubPrimaryEmail walks /user/emails for the primary verified address.
// Users with private profile emails need this second call.
func githubPrimaryEmail(ctx context.Context, hc *http.Client, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, githubEmailsURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("github emails: status %d", resp.StatusCode)
	}

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return "", err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, nil
		}
	}
	return "", fmt.Errorf("github: no verified email")
}
