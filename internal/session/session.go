// Package session establishes and tears down browser sessions. The cookie
// carries an HMAC-signed random id; the payload lives in the cache backend
// so memory and redis deployments behave the same. The session also serves
// as the browser-scoped backup store for pending PKCE verifiers.
package session

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/mealdeck/mealdeck/internal/auth/identity"
	"github.com/mealdeck/mealdeck/internal/cache"
	"github.com/mealdeck/mealdeck/internal/observability/logger"
	"github.com/mealdeck/mealdeck/internal/security/token"
)

const keyPrefix = "sess:"

// Data is the session payload.
type Data struct {
	User       *identity.SessionUser `json:"user,omitempty"`
	RedirectTo string                `json:"redirect_to,omitempty"`
	// PKCE mirrors pending state -> verifier pairs as the resilience
	// fallback behind the process-wide challenge store.
	PKCE map[string]string `json:"pkce,omitempty"`
}

// Session is one live browser session.
type Session struct {
	ID   string
	Data Data

	m *Manager
}

// Config for the Manager.
type Config struct {
	CookieName string
	Domain     string
	SameSite   string // "lax" | "strict" | "none"
	Secure     bool
	TTL        time.Duration
	Secret     []byte
}

// Manager signs cookies and moves payloads in and out of the cache.
type Manager struct {
	cache cache.Client
	cfg   Config
}

func NewManager(c cache.Client, cfg Config) *Manager {
	if cfg.CookieName == "" {
		cfg.CookieName = "mealdeck_session"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	return &Manager{cache: c, cfg: cfg}
}

// Get loads the session referenced by a validly signed cookie. False when
// there is no cookie, a bad signature, or an expired payload.
func (m *Manager) Get(ctx context.Context, r *http.Request) (*Session, bool) {
	ck, err := r.Cookie(m.cfg.CookieName)
	if err != nil {
		return nil, false
	}
	sid, ok := m.verify(ck.Value)
	if !ok {
		return nil, false
	}
	b, err := m.cache.Get(ctx, keyPrefix+sid)
	if err != nil {
		return nil, false
	}
	s := &Session{ID: sid, m: m}
	if err := json.Unmarshal(b, &s.Data); err != nil {
		return nil, false
	}
	return s, true
}

// Ensure returns the request's session, creating and setting the cookie
// when none exists yet. Login flows call this before redirecting out so
// the PKCE backup has somewhere to live.
func (m *Manager) Ensure(ctx context.Context, w http.ResponseWriter, r *http.Request) (*Session, error) {
	if s, ok := m.Get(ctx, r); ok {
		return s, nil
	}
	sid, err := token.Opaque(32)
	if err != nil {
		return nil, err
	}
	s := &Session{ID: sid, m: m}
	if err := s.Save(ctx); err != nil {
		return nil, err
	}
	m.setCookie(w, sid)
	return s, nil
}

// Establish writes the resolved user into a fresh session id. The id is
// rotated on privilege change so a pre-login id can't be fixated.
func (m *Manager) Establish(ctx context.Context, w http.ResponseWriter, r *http.Request, user *identity.SessionUser) (*Session, error) {
	var carried Data
	if ck, err := r.Cookie(m.cfg.CookieName); err == nil {
		if sid, ok := m.verify(ck.Value); ok {
			// Read-and-delete in one step: the old id is dead the moment
			// the new one exists.
			if b, err := m.cache.GetDel(ctx, keyPrefix+sid); err == nil {
				_ = json.Unmarshal(b, &carried)
			}
		}
	}

	sid, err := token.Opaque(32)
	if err != nil {
		return nil, err
	}
	s := &Session{ID: sid, m: m}
	s.Data = carried
	s.Data.User = user
	s.Data.PKCE = nil
	// The remembered destination is consumed by this login; a later login
	// must not replay it.
	s.Data.RedirectTo = ""
	if err := s.Save(ctx); err != nil {
		return nil, err
	}
	m.setCookie(w, sid)

	logger.From(ctx).Info("session established",
		logger.UserID(user.ID), logger.Provider(user.Provider))
	return s, nil
}

// Destroy drops the payload and clears the cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if s, ok := m.Get(ctx, r); ok {
		_ = m.cache.Delete(ctx, keyPrefix+s.ID)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   m.cfg.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: parseSameSite(m.cfg.SameSite),
	})
}

// Save persists the payload under the session's cache key.
func (s *Session) Save(ctx context.Context) error {
	b, err := json.Marshal(s.Data)
	if err != nil {
		return err
	}
	return s.m.cache.Set(ctx, keyPrefix+s.ID, b, s.m.cfg.TTL)
}

// --- pkce.Backup ---

// SaveVerifier mirrors a pending PKCE pair into the session payload.
func (s *Session) SaveVerifier(ctx context.Context, state, verifier string) error {
	if s.Data.PKCE == nil {
		s.Data.PKCE = map[string]string{}
	}
	s.Data.PKCE[state] = verifier
	return s.Save(ctx)
}

// TakeVerifier removes and returns the mirrored verifier, keeping the
// backup single-use like the primary store.
func (s *Session) TakeVerifier(ctx context.Context, state string) (string, bool) {
	v, ok := s.Data.PKCE[state]
	if !ok {
		return "", false
	}
	delete(s.Data.PKCE, state)
	if err := s.Save(ctx); err != nil {
		return "", false
	}
	return v, true
}

// --- cookie plumbing ---

func (m *Manager) setCookie(w http.ResponseWriter, sid string) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    sid + "." + token.Sign(m.cfg.Secret, sid),
		Path:     "/",
		Domain:   m.cfg.Domain,
		MaxAge:   int(m.cfg.TTL / time.Second),
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: parseSameSite(m.cfg.SameSite),
	})
}

func (m *Manager) verify(value string) (string, bool) {
	dot := strings.LastIndexByte(value, '.')
	if dot <= 0 {
		return "", false
	}
	sid, sig := value[:dot], value[dot+1:]
	if !token.VerifySig(m.cfg.Secret, sid, sig) {
		return "", false
	}
	return sid, true
}

func parseSameSite(s string) http.SameSite {
	switch strings.ToLower(s) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
