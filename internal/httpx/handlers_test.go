package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mealdeck/mealdeck/internal/auth/flow"
	"github.com/mealdeck/mealdeck/internal/auth/identity"
	"github.com/mealdeck/mealdeck/internal/auth/local"
	"github.com/mealdeck/mealdeck/internal/auth/pkce"
	"github.com/mealdeck/mealdeck/internal/auth/providers"
	"github.com/mealdeck/mealdeck/internal/cache"
	"github.com/mealdeck/mealdeck/internal/config"
	"github.com/mealdeck/mealdeck/internal/security/password"
	"github.com/mealdeck/mealdeck/internal/session"
	"github.com/mealdeck/mealdeck/internal/store"
)

type stack struct {
	handler  http.Handler
	store    *store.Memory
	registry *providers.Registry
	pkce     *pkce.Store
}

func newStack(t *testing.T, register func(r *providers.Registry)) *stack {
	t.Helper()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.LoginErrorURL = "/login"
	cfg.Server.PostLoginURL = "/home"

	st := store.NewMemory()
	cacheClient := cache.NewMemory(time.Minute)
	registry := providers.NewRegistry()
	if register != nil {
		register(registry)
	}

	pkceStore := pkce.NewStore(0)
	driver := flow.NewDriver(registry, pkceStore, nil)
	resolver := identity.NewResolver(st)
	localSvc := local.New(st, nil)

	sessions := session.NewManager(cacheClient, session.Config{
		CookieName: "test_session",
		TTL:        time.Hour,
		Secret:     cfg.SessionSecret(),
	})

	h := NewHandler(cfg, registry, driver, resolver, localSvc, sessions, st, cacheClient)
	return &stack{
		handler:  NewRouter(h, nil),
		store:    st,
		registry: registry,
		pkce:     pkceStore,
	}
}

func noFollow() func(*http.Request, []*http.Request) error {
	return func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestConfigStatus(t *testing.T) {
	s := newStack(t, func(r *providers.Registry) {
		creds := config.Credentials{Enabled: true, ClientID: "id", ClientSecret: "sec"}
		r.Register("google", creds, func(config.Credentials) (*providers.Provider, error) {
			return &providers.Provider{Key: "google"}, nil
		})
		r.Register("github", config.Credentials{}, nil)
	})

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/config-status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Providers map[string]bool `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Providers["email"], "email is always available")
	require.True(t, body.Providers["google"])
	require.False(t, body.Providers["github"])
	require.False(t, body.Providers["twitter"])
}

func TestLogin_UnconfiguredProvider(t *testing.T) {
	s := newStack(t, nil)

	// JSON clients get the taxonomy payload with a 503.
	req := httptest.NewRequest(http.MethodGet, "/auth/github/login", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "PROVIDER_NOT_CONFIGURED", body.Code)

	// Browsers get bounced to the login error page.
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/github/login", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/login", loc.Path)
	require.Equal(t, "PROVIDER_NOT_CONFIGURED", loc.Query().Get("error"))
}

func TestEmailRegisterMeLogout(t *testing.T) {
	s := newStack(t, nil)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	jar, _ := cookiejar.New(nil)
	client := &http.Client{Jar: jar, CheckRedirect: noFollow()}

	resp, err := client.Post(srv.URL+"/auth/email/register", "application/json",
		strings.NewReader(`{"email":"jane@example.com","password":"hunter22!","first_name":"Jane"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		User identity.SessionUser `json:"user"`
	}
	decodeBody(t, resp, &created)
	require.Equal(t, "email", created.User.Provider)

	// The register response established a session.
	resp, err = client.Get(srv.URL + "/auth/me")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me struct {
		User identity.SessionUser `json:"user"`
	}
	decodeBody(t, resp, &me)
	require.Equal(t, created.User.ID, me.User.ID)

	resp, err = client.Post(srv.URL+"/auth/logout", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = client.Get(srv.URL + "/auth/me")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEmailLogin_InvalidCredentials(t *testing.T) {
	s := newStack(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/email/login",
		strings.NewReader(`{"email":"nobody@example.com","password":"whatever1"}`))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "INVALID_CREDENTIALS", body.Code)
}

func TestOAuthFlow_EndToEnd(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt"}`))
	}))
	defer tokenSrv.Close()

	s := newStack(t, func(r *providers.Registry) {
		creds := config.Credentials{Enabled: true, ClientID: "cid", ClientSecret: "sec"}
		r.Register("google", creds, func(config.Credentials) (*providers.Provider, error) {
			return &providers.Provider{
				Key:       "google",
				AuthURL:   "https://accounts.example/authorize",
				TokenURL:  tokenSrv.URL,
				ClientID:  "cid",
				NeedsPKCE: true,
				FetchProfile: func(ctx context.Context, hc *http.Client, ts *providers.TokenSet) (*providers.Profile, error) {
					return providers.Normalize("google", &providers.Profile{
						ExternalID: "g-1",
						Email:      "jane@example.com",
						FirstName:  "Jane",
					}), nil
				},
			}, nil
		})
	})
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	jar, _ := cookiejar.New(nil)
	client := &http.Client{Jar: jar, CheckRedirect: noFollow()}

	// Step 1: login redirects to the provider with state + challenge.
	resp, err := client.Get(srv.URL + "/auth/google/login?redirect_to=/recipes/42")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	authURL, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := authURL.Query().Get("state")
	require.NotEmpty(t, state)
	require.NotEmpty(t, authURL.Query().Get("code_challenge"))

	// Step 2: the provider calls back with code + state.
	resp, err = client.Get(srv.URL + "/auth/google/callback?code=the-code&state=" + url.QueryEscape(state))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/recipes/42", resp.Header.Get("Location"), "remembered redirect target")

	// Step 3: session is established and the user persisted.
	resp, err = client.Get(srv.URL + "/auth/me")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me struct {
		User identity.SessionUser `json:"user"`
	}
	decodeBody(t, resp, &me)
	require.Equal(t, "jane@example.com", me.User.Email)
	require.Equal(t, "google", me.User.Provider)

	_, err = s.store.GetLinkByProvider(context.Background(), "google", "g-1")
	require.NoError(t, err, "link persisted")
}

func TestCallback_ReplayedState(t *testing.T) {
	s := newStack(t, func(r *providers.Registry) {
		creds := config.Credentials{Enabled: true, ClientID: "cid", ClientSecret: "sec"}
		r.Register("twitter", creds, func(config.Credentials) (*providers.Provider, error) {
			return &providers.Provider{Key: "twitter", NeedsPKCE: true}, nil
		})
	})

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/twitter/callback?code=c&state=never-issued", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "PKCE_VERIFIER_MISSING", loc.Query().Get("error"))
}

func TestCallback_ProviderDeniedError(t *testing.T) {
	s := newStack(t, func(r *providers.Registry) {
		creds := config.Credentials{Enabled: true, ClientID: "cid", ClientSecret: "sec"}
		r.Register("google", creds, func(config.Credentials) (*providers.Provider, error) {
			return &providers.Provider{Key: "google"}, nil
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?error=access_denied", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	var body struct {
		Code   string `json:"code"`
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "TOKEN_EXCHANGE_FAILED", body.Code)
	require.Equal(t, "access_denied", body.Detail)
}

func TestAppleCallback_FormPost(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","id_token":"idt"}`))
	}))
	defer tokenSrv.Close()

	s := newStack(t, func(r *providers.Registry) {
		creds := config.Credentials{Enabled: true, ClientID: "cid", ClientSecret: "sec"}
		r.Register("apple", creds, func(config.Credentials) (*providers.Provider, error) {
			return &providers.Provider{
				Key:            "apple",
				AuthURL:        "https://appleid.example/authorize",
				TokenURL:       tokenSrv.URL,
				CallbackMethod: http.MethodPost,
				FetchProfile: func(ctx context.Context, hc *http.Client, ts *providers.TokenSet) (*providers.Profile, error) {
					return providers.Normalize("apple", &providers.Profile{ExternalID: "apl-1"}), nil
				},
			}, nil
		})
	})
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	jar, _ := cookiejar.New(nil)
	client := &http.Client{Jar: jar, CheckRedirect: noFollow()}

	resp, err := client.Get(srv.URL + "/auth/apple/login")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	authURL, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := authURL.Query().Get("state")
	require.NotEmpty(t, state)

	form := url.Values{"code": {"the-code"}, "state": {state}}
	resp, err = client.Post(srv.URL+"/auth/apple/callback",
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/home", resp.Header.Get("Location"))
}

func TestCallback_ForgedStateNonPKCE(t *testing.T) {
	var exchanges int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&exchanges, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at"}`))
	}))
	defer tokenSrv.Close()

	s := newStack(t, func(r *providers.Registry) {
		creds := config.Credentials{Enabled: true, ClientID: "cid", ClientSecret: "sec"}
		r.Register("google", creds, func(config.Credentials) (*providers.Provider, error) {
			return &providers.Provider{
				Key:      "google",
				AuthURL:  "https://accounts.example/authorize",
				TokenURL: tokenSrv.URL,
				FetchProfile: func(ctx context.Context, hc *http.Client, ts *providers.TokenSet) (*providers.Profile, error) {
					return providers.Normalize("google", &providers.Profile{
						ExternalID: "attacker-1",
						Email:      "attacker@example.com",
					}), nil
				},
			}, nil
		})
	})

	// A cross-site callback carrying a state this service never issued
	// must die before the code is exchanged or any account is touched.
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/auth/google/callback?code=attacker-code&state=forged", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/login", loc.Path)
	require.Equal(t, "STATE_MISMATCH", loc.Query().Get("error"))
	require.Zero(t, atomic.LoadInt32(&exchanges), "token exchange must not run")
	_, err = s.store.GetUserByEmail(context.Background(), "attacker@example.com")
	require.ErrorIs(t, err, store.ErrNotFound, "no account may be created")
	require.Empty(t, rec.Result().Cookies(), "no session may be established")
}

func TestRegister_StoredHashVerifies(t *testing.T) {
	s := newStack(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/email/register",
		strings.NewReader(`{"email":"x@y.co","password":"longenough"}`))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var body struct {
		User identity.SessionUser `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	link, err := s.store.GetLinkByUserProvider(context.Background(), body.User.ID, "email")
	require.NoError(t, err)
	hash, _ := link.Metadata["password_hash"].(string)
	require.True(t, password.Verify("longenough", hash), "stored hash verifies")
}

func TestReadyz(t *testing.T) {
	s := newStack(t, nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
