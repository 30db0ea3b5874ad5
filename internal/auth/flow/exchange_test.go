package flow

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/mealdeck/mealdeck/internal/auth/providers"
)

func tokenJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func testProvider(tokenURL string, style providers.AuthStyle) *providers.Provider {
	return &providers.Provider{
		Key:          "test",
		TokenURL:     tokenURL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://app.example/auth/test/callback",
		AuthStyle:    style,
	}
}

func TestExchange_BodyAuth(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("body-auth provider sent an Authorization header")
		}
		_ = r.ParseForm()
		form = r.PostForm
		tokenJSON(w, http.StatusOK, `{"access_token":"at","refresh_token":"rt","token_type":"bearer"}`)
	}))
	defer srv.Close()

	p := testProvider(srv.URL, providers.AuthStyleBody)
	ts, err := exchange(context.Background(), srv.Client(), p, "the-code", "the-verifier")
	if err != nil {
		t.Fatalf("exchange err: %v", err)
	}
	if ts.AccessToken != "at" || ts.RefreshToken != "rt" {
		t.Fatalf("token set = %+v", ts)
	}

	for k, want := range map[string]string{
		"grant_type":    "authorization_code",
		"code":          "the-code",
		"redirect_uri":  p.RedirectURL,
		"code_verifier": "the-verifier",
		"client_id":     "client-id",
		"client_secret": "client-secret",
	} {
		if got := form.Get(k); got != want {
			t.Errorf("form[%s] = %q, want %q", k, got, want)
		}
	}
}

func TestExchange_BasicAuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := "Basic " + base64.StdEncoding.EncodeToString([]byte("client-id:client-secret"))
		if got := r.Header.Get("Authorization"); got != want {
			t.Errorf("Authorization = %q, want %q", got, want)
		}
		_ = r.ParseForm()
		// Twitter-style endpoints reject body credentials.
		if r.PostForm.Get("client_id") != "" || r.PostForm.Get("client_secret") != "" {
			t.Error("basic-auth provider leaked credentials into the body")
		}
		tokenJSON(w, http.StatusOK, `{"access_token":"at","token_type":"bearer"}`)
	}))
	defer srv.Close()

	p := testProvider(srv.URL, providers.AuthStyleBasic)
	if _, err := exchange(context.Background(), srv.Client(), p, "code", "verifier"); err != nil {
		t.Fatalf("exchange err: %v", err)
	}
}

func TestExchange_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenJSON(w, http.StatusBadRequest, `{"error":"invalid_grant","error_description":"code expired"}`)
	}))
	defer srv.Close()

	p := testProvider(srv.URL, providers.AuthStyleBody)
	_, err := exchange(context.Background(), srv.Client(), p, "stale-code", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrTokenExchange) {
		t.Fatalf("err = %v, want ErrTokenExchange", err)
	}
	var xerr *ExchangeError
	if !errors.As(err, &xerr) {
		t.Fatalf("err type = %T", err)
	}
	if xerr.Code != "invalid_grant" || xerr.Description != "code expired" {
		t.Fatalf("exchange error = %+v", xerr)
	}
}

func TestExchange_ErrorBodyWith200(t *testing.T) {
	// GitHub answers errors with a 200 and an error field.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenJSON(w, http.StatusOK, `{"error":"bad_verification_code"}`)
	}))
	defer srv.Close()

	p := testProvider(srv.URL, providers.AuthStyleBody)
	_, err := exchange(context.Background(), srv.Client(), p, "code", "")
	if !errors.Is(err, ErrTokenExchange) {
		t.Fatalf("err = %v, want ErrTokenExchange", err)
	}
}

func TestExchange_MissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenJSON(w, http.StatusOK, `{"token_type":"bearer"}`)
	}))
	defer srv.Close()

	p := testProvider(srv.URL, providers.AuthStyleBody)
	if _, err := exchange(context.Background(), srv.Client(), p, "code", ""); !errors.Is(err, ErrTokenExchange) {
		t.Fatalf("err = %v, want ErrTokenExchange", err)
	}
}
