package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mealdeck/mealdeck/internal/auth/flow"
	"github.com/mealdeck/mealdeck/internal/auth/identity"
	"github.com/mealdeck/mealdeck/internal/auth/local"
	"github.com/mealdeck/mealdeck/internal/auth/pkce"
	"github.com/mealdeck/mealdeck/internal/auth/providers"
	"github.com/mealdeck/mealdeck/internal/cache"
	"github.com/mealdeck/mealdeck/internal/config"
	"github.com/mealdeck/mealdeck/internal/observability/logger"
	"github.com/mealdeck/mealdeck/internal/session"
	"github.com/mealdeck/mealdeck/internal/store"
)

// Handler carries the auth surface's dependencies.
type Handler struct {
	cfg      *config.Config
	registry *providers.Registry
	driver   *flow.Driver
	resolver *identity.Resolver
	local    *local.Service
	sessions *session.Manager
	store    store.Store
	cache    cache.Client
}

func NewHandler(
	cfg *config.Config,
	registry *providers.Registry,
	driver *flow.Driver,
	resolver *identity.Resolver,
	localSvc *local.Service,
	sessions *session.Manager,
	st store.Store,
	c cache.Client,
) *Handler {
	return &Handler{
		cfg:      cfg,
		registry: registry,
		driver:   driver,
		resolver: resolver,
		local:    localSvc,
		sessions: sessions,
		store:    st,
		cache:    c,
	}
}

// Login starts an OAuth flow: GET /auth/{provider}/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	provider := chi.URLParam(r, "provider")

	sess, err := h.sessions.Ensure(ctx, w, r)
	if err != nil {
		h.flowFail(w, r, provider, err)
		return
	}
	if to := r.URL.Query().Get("redirect_to"); to != "" && safeRedirect(to) {
		sess.Data.RedirectTo = to
		if err := sess.Save(ctx); err != nil {
			h.flowFail(w, r, provider, err)
			return
		}
	}

	res, err := h.driver.Begin(ctx, provider, sess)
	if err != nil {
		h.flowFail(w, r, provider, err)
		return
	}
	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}

// Callback finishes an OAuth flow. GET for most providers; Apple posts
// the same parameters as a form.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	provider := chi.URLParam(r, "provider")

	if err := r.ParseForm(); err != nil {
		h.flowFail(w, r, provider, ErrBadRequest.WithCause(err))
		return
	}
	if provErr := r.Form.Get("error"); provErr != "" {
		h.flowFail(w, r, provider, ErrTokenExchange.WithDetail(provErr))
		return
	}
	code, state := r.Form.Get("code"), r.Form.Get("state")
	if code == "" || state == "" {
		h.flowFail(w, r, provider, ErrBadRequest.WithDetail("missing code or state"))
		return
	}

	var backup pkce.Backup
	sess, haveSess := h.sessions.Get(ctx, r)
	if haveSess {
		backup = sess
	}

	res, err := h.driver.Callback(ctx, provider, backup, code, state)
	if err != nil {
		h.flowFail(w, r, provider, err)
		return
	}

	user, err := h.resolver.Resolve(ctx, provider, res.Profile, res.Tokens.AccessToken, res.Tokens.RefreshToken)
	if err != nil {
		h.flowFail(w, r, provider, err)
		return
	}

	redirectTo := h.cfg.Server.PostLoginURL
	if haveSess && sess.Data.RedirectTo != "" {
		redirectTo = sess.Data.RedirectTo
	}
	if _, err := h.sessions.Establish(ctx, w, r, user); err != nil {
		h.flowFail(w, r, provider, err)
		return
	}
	RecordLogin(provider, "success")
	http.Redirect(w, r, redirectTo, http.StatusFound)
}

type emailCredentials struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// EmailRegister creates a local account: POST /auth/email/register
func (h *Handler) EmailRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req emailCredentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, ErrInvalidJSON.WithCause(err))
		return
	}

	user, err := h.local.Register(ctx, req.Email, req.Password, req.FirstName, req.LastName)
	if err != nil {
		RecordLogin(config.ProviderEmail, "failure")
		WriteError(w, mapAuthError(err))
		return
	}
	if _, err := h.sessions.Establish(ctx, w, r, user); err != nil {
		WriteError(w, ErrInternal.WithCause(err))
		return
	}
	RecordLogin(config.ProviderEmail, "success")
	WriteJSON(w, http.StatusCreated, map[string]any{"user": user})
}

// EmailLogin signs into a local account: POST /auth/email/login
func (h *Handler) EmailLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req emailCredentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, ErrInvalidJSON.WithCause(err))
		return
	}

	user, err := h.local.Login(ctx, req.Email, req.Password)
	if err != nil {
		RecordLogin(config.ProviderEmail, "failure")
		WriteError(w, mapAuthError(err))
		return
	}
	if _, err := h.sessions.Establish(ctx, w, r, user); err != nil {
		WriteError(w, ErrInternal.WithCause(err))
		return
	}
	RecordLogin(config.ProviderEmail, "success")
	WriteJSON(w, http.StatusOK, map[string]any{"user": user})
}

// Logout tears the session down: POST /auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Destroy(r.Context(), w, r)
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the current session user: GET /auth/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessions.Get(r.Context(), r)
	if !ok || sess.Data.User == nil {
		WriteError(w, ErrUnauthorized)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"user": sess.Data.User})
}

// ConfigStatus reports per-provider availability so the frontend can
// hide buttons for providers that would 503: GET /auth/config-status
func (h *Handler) ConfigStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]bool{config.ProviderEmail: true}
	for _, key := range config.OAuthProviders {
		status[key] = h.registry.Configured(key) && h.registry.Registered(key)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"providers": status})
}

// Readyz checks the store and cache: GET /readyz
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.store.Ping(ctx); err != nil {
		WriteError(w, ErrNotReady.WithDetail("store").WithCause(err))
		return
	}
	if err := h.cache.Ping(ctx); err != nil {
		WriteError(w, ErrNotReady.WithDetail("cache").WithCause(err))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// flowFail converts a flow error into a redirect to the login error page
// or a JSON payload when the client asked for JSON.
func (h *Handler) flowFail(w http.ResponseWriter, r *http.Request, provider string, err error) {
	appErr := mapAuthError(err)

	log := logger.From(r.Context()).With(logger.Provider(provider))
	if errors.Is(err, identity.ErrIntegrity) {
		// Operator problem, not a user one.
		log.Error("identity integrity violation", logger.Err(err))
	} else {
		log.Warn("login flow failed", logger.String("code", appErr.Code), logger.Err(err))
	}
	RecordLogin(provider, "failure")

	if wantsJSON(r) {
		WriteError(w, appErr)
		return
	}
	http.Redirect(w, r, h.cfg.Server.LoginErrorURL+"?error="+url.QueryEscape(appErr.Code), http.StatusFound)
}

// mapAuthError translates domain errors into the HTTP taxonomy.
func mapAuthError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, providers.ErrNotConfigured):
		return ErrProviderNotConfigured.WithCause(err)
	case errors.Is(err, providers.ErrNotRegistered):
		return ErrProviderNotRegistered.WithCause(err)
	case errors.Is(err, flow.ErrPKCEVerifierMissing):
		return ErrPKCEVerifierMissing.WithCause(err)
	case errors.Is(err, flow.ErrStateMismatch):
		return ErrStateMismatch.WithCause(err)
	case errors.Is(err, flow.ErrTokenExchange):
		var xerr *flow.ExchangeError
		if errors.As(err, &xerr) && xerr.Code != "" {
			detail := xerr.Code
			if xerr.Description != "" {
				detail += ": " + xerr.Description
			}
			return ErrTokenExchange.WithDetail(detail).WithCause(err)
		}
		return ErrTokenExchange.WithCause(err)
	case errors.Is(err, flow.ErrProfileFetch):
		return ErrProfileFetch.WithCause(err)
	case errors.Is(err, local.ErrEmailTaken):
		return ErrEmailTaken.WithCause(err)
	case errors.Is(err, local.ErrWeakPassword):
		return ErrPasswordTooWeak.WithCause(err)
	case errors.Is(err, local.ErrInvalidCredentials):
		return ErrInvalidCredentials
	case errors.Is(err, identity.ErrIntegrity):
		return ErrInternal.WithCause(err)
	default:
		return ErrInternal.WithCause(err)
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// safeRedirect allows only same-site relative targets.
func safeRedirect(to string) bool {
	return strings.HasPrefix(to, "/") && !strings.HasPrefix(to, "//")
}
