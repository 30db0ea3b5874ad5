// Package flow drives one login attempt through the authorization code
// state machine:
//
//	INITIATED -> CALLBACK_RECEIVED -> TOKEN_EXCHANGED -> PROFILE_FETCHED
//	    -> RESOLVED | FAILED (from any state)
//
// Begin covers INITIATED; Callback walks the middle states; resolution is
// the identity engine's job. PKCE-specific steps are skipped for providers
// that don't need them.
package flow

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mealdeck/mealdeck/internal/auth/pkce"
	"github.com/mealdeck/mealdeck/internal/auth/providers"
	"github.com/mealdeck/mealdeck/internal/observability/logger"
)

// State names one position in the per-attempt machine.
type State string

const (
	StateInitiated        State = "INITIATED"
	StateCallbackReceived State = "CALLBACK_RECEIVED"
	StateTokenExchanged   State = "TOKEN_EXCHANGED"
	StateProfileFetched   State = "PROFILE_FETCHED"
	StateFailed           State = "FAILED"
)

// Driver executes flows against registered providers. One Driver serves
// all providers; per-attempt state lives in the return values, never in
// the Driver.
type Driver struct {
	registry *providers.Registry
	pkce     *pkce.Store
	hc       *http.Client
}

// NewDriver wires the driver. hc defaults to the shared bounded-timeout
// client.
func NewDriver(registry *providers.Registry, pkceStore *pkce.Store, hc *http.Client) *Driver {
	if hc == nil {
		hc = providers.HTTPClient()
	}
	return &Driver{registry: registry, pkce: pkceStore, hc: hc}
}

// BeginResult is the INITIATED output: where to send the browser.
type BeginResult struct {
	RedirectURL string
	State       string
}

// Begin builds the authorization redirect for providerKey. For PKCE
// providers the state comes out of the challenge store so the state and
// challenge are paired atomically before the browser ever leaves.
func (d *Driver) Begin(ctx context.Context, providerKey string, backup pkce.Backup) (*BeginResult, error) {
	p, err := d.registry.Get(providerKey)
	if err != nil {
		return nil, err
	}

	var state, codeChallenge string
	if p.NeedsPKCE {
		ch, err := d.pkce.Begin(ctx, backup)
		if err != nil {
			return nil, fmt.Errorf("flow: begin pkce: %w", err)
		}
		state = ch.State
		codeChallenge = ch.CodeChallenge
	} else {
		// No verifier, but the state is still the CSRF check: it has to
		// come back to Callback before any exchange happens.
		state, err = d.pkce.BeginState(ctx, backup)
		if err != nil {
			return nil, fmt.Errorf("flow: begin state: %w", err)
		}
	}

	u, err := url.Parse(p.AuthURL)
	if err != nil {
		return nil, fmt.Errorf("flow: auth url: %w", err)
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", p.ClientID)
	q.Set("redirect_uri", p.RedirectURL)
	q.Set("scope", strings.Join(p.Scopes, " "))
	q.Set("state", state)
	if codeChallenge != "" {
		q.Set("code_challenge", codeChallenge)
		q.Set("code_challenge_method", "S256")
	}
	for k, v := range p.ExtraAuthParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	logger.From(ctx).Debug("flow initiated", logger.Provider(providerKey))
	return &BeginResult{RedirectURL: u.String(), State: state}, nil
}

// CallbackResult is the PROFILE_FETCHED output, ready for reconciliation.
type CallbackResult struct {
	Profile *providers.Profile
	Tokens  *providers.TokenSet
	Final   State
}

// Callback takes the provider redirect (code + state) through token
// exchange and profile fetch.
func (d *Driver) Callback(ctx context.Context, providerKey string, backup pkce.Backup, code, state string) (*CallbackResult, error) {
	log := logger.From(ctx).With(logger.Provider(providerKey))

	p, err := d.registry.Get(providerKey)
	if err != nil {
		return nil, err
	}

	var verifier string
	if p.NeedsPKCE {
		v, ok := d.pkce.Consume(ctx, backup, state)
		if !ok {
			// Do not mint a fresh verifier and push on: a replayed or
			// expired callback ends here, full stop.
			log.Warn("pkce verifier missing", logger.String("state_prefix", prefix(state)))
			return &CallbackResult{Final: StateFailed}, ErrPKCEVerifierMissing
		}
		verifier = v
	} else {
		if _, ok := d.pkce.Consume(ctx, backup, state); !ok {
			log.Warn("callback state never issued", logger.String("state_prefix", prefix(state)))
			return &CallbackResult{Final: StateFailed}, ErrStateMismatch
		}
	}

	ts, err := exchange(ctx, d.hc, p, code, verifier)
	if err != nil {
		log.Warn("token exchange failed", logger.Err(err))
		return &CallbackResult{Final: StateFailed}, err
	}

	profile, err := p.FetchProfile(ctx, d.hc, ts)
	if err != nil {
		log.Warn("profile fetch failed", logger.Err(err))
		return &CallbackResult{Final: StateFailed}, fmt.Errorf("%w: %v", ErrProfileFetch, err)
	}

	log.Info("flow profile fetched", logger.String("external_id", profile.ExternalID))
	return &CallbackResult{Profile: profile, Tokens: ts, Final: StateProfileFetched}, nil
}

func prefix(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
