package flow

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/mealdeck/mealdeck/internal/auth/providers"
)

// tokenResponse is the union of what the supported token endpoints return.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`

	Error     string `json:"error"`
	ErrorDesc string `json:"error_description"`
}

// exchange performs the authorization code -> token POST for any provider.
// The provider's capability struct decides the two points where endpoints
// disagree: whether a code_verifier travels in the body, and whether the
// client authenticates with a Basic header or body fields.
func exchange(ctx context.Context, hc *http.Client, p *providers.Provider, code, verifier string) (*providers.TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", p.RedirectURL)
	if verifier != "" {
		form.Set("code_verifier", verifier)
	}

	if p.AuthStyle == providers.AuthStyleBody {
		form.Set("client_id", p.ClientID)
		form.Set("client_secret", p.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if p.AuthStyle == providers.AuthStyleBasic {
		// Credentials go in the Authorization header only. Twitter's
		// endpoint rejects the generic put-them-in-the-body default.
		req.SetBasicAuth(url.QueryEscape(p.ClientID), url.QueryEscape(p.ClientSecret))
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, &ExchangeError{Description: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var tr tokenResponse
	_ = json.Unmarshal(body, &tr)

	if resp.StatusCode/100 != 2 || tr.Error != "" {
		return nil, &ExchangeError{
			Status:      resp.StatusCode,
			Code:        tr.Error,
			Description: tr.ErrorDesc,
		}
	}
	if tr.AccessToken == "" {
		return nil, &ExchangeError{Status: resp.StatusCode, Description: "no access_token in response"}
	}

	return &providers.TokenSet{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		IDToken:      tr.IDToken,
		TokenType:    tr.TokenType,
		ExpiresIn:    tr.ExpiresIn,
	}, nil
}
