package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// getJSON does an authenticated GET against a provider identity endpoint
// and decodes the body into a generic map.
func getJSON(ctx context.Context, hc *http.Client, url, accessToken string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity endpoint: status %d", resp.StatusCode)
	}
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("identity endpoint: decode: %w", err)
	}
	return m, nil
}

// idTokenClaims extracts the claim set of an id_token without signature
// verification. Only call this on tokens received directly from the
// issuer's token endpoint over TLS with client authentication; tokens from
// any other path must not reach here.
func idTokenClaims(idToken string) (jwtv5.MapClaims, error) {
	claims := jwtv5.MapClaims{}
	parser := jwtv5.NewParser()
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return nil, fmt.Errorf("id_token: %w", err)
	}
	return claims, nil
}

func str(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}
