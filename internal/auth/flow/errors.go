package flow

import (
	"errors"
	"fmt"
)

// Terminal flow failures. Everything here ends the current login attempt;
// the user restarts from /login. None of these crash the process.
var (
	// ErrPKCEVerifierMissing: the callback state resolved to no stored
	// verifier (expired, replayed, or cross-instance without a shared
	// backup). The exchange must NOT be retried with a fresh verifier;
	// that would undo the binding PKCE exists to provide.
	ErrPKCEVerifierMissing = errors.New("flow: pkce verifier missing")

	// ErrStateMismatch: a non-PKCE callback arrived with a state this
	// process never issued. Forged or replayed; no exchange happens.
	ErrStateMismatch = errors.New("flow: callback state mismatch")

	// ErrTokenExchange: non-2xx from the provider's token endpoint.
	ErrTokenExchange = errors.New("flow: token exchange failed")

	// ErrProfileFetch: token obtained but the identity endpoint failed.
	ErrProfileFetch = errors.New("flow: profile fetch failed")
)

// ExchangeError carries the provider's error code/description when the
// token endpoint returned a parseable error body.
type ExchangeError struct {
	Status      int
	Code        string
	Description string
}

func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("flow: token exchange failed: %s (%s)", e.Code, e.Description)
	}
	return fmt.Sprintf("flow: token exchange failed: status %d", e.Status)
}

// Is makes errors.Is(err, ErrTokenExchange) hold for every ExchangeError.
func (e *ExchangeError) Is(target error) bool { return target == ErrTokenExchange }
