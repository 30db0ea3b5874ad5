// Package local implements the email/password strategy. Not OAuth, but it
// shares the reconciliation output shape: a user plus an "email" provider
// link whose metadata holds the password hash.
package local

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/mealdeck/mealdeck/internal/auth/identity"
	"github.com/mealdeck/mealdeck/internal/auth/providers"
	"github.com/mealdeck/mealdeck/internal/config"
	"github.com/mealdeck/mealdeck/internal/observability/logger"
	"github.com/mealdeck/mealdeck/internal/security/password"
	"github.com/mealdeck/mealdeck/internal/store"
)

const metaPasswordHash = "password_hash"

var (
	// ErrEmailTaken rejects a second registration for an email.
	ErrEmailTaken = errors.New("local: email already registered")

	// ErrInvalidCredentials covers no-such-user, no password link, no
	// stored hash, and wrong password alike. Collapsing them means a
	// login probe can't learn which providers an email is registered
	// under.
	ErrInvalidCredentials = errors.New("local: invalid email or password")

	// ErrWeakPassword rejects too-short passwords at registration.
	ErrWeakPassword = errors.New("local: password too short")
)

const minPasswordLen = 8

// Mailer sends the post-registration welcome. Best-effort only.
type Mailer interface {
	SendWelcome(ctx context.Context, email, name string) error
}

// Service is the local strategy.
type Service struct {
	store  store.Store
	params password.Params
	mailer Mailer
}

// New builds the service. mailer may be nil.
func New(st store.Store, mailer Mailer) *Service {
	return &Service{store: st, params: password.Default, mailer: mailer}
}

// Register creates a user with a password link. The email acts as the
// external id of the synthetic "email" provider, and the link is always
// primary: a password account is never created by linking.
func (s *Service) Register(ctx context.Context, email, plain, firstName, lastName string) (*identity.SessionUser, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidCredentials
	}
	if len(plain) < minPasswordLen {
		return nil, ErrWeakPassword
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !store.IsNotFound(err) {
		return nil, err
	}

	hash, err := password.Hash(s.params, plain)
	if err != nil {
		return nil, err
	}

	// Normalize fills the name fallbacks the same way OAuth logins do.
	p := providers.Normalize(config.ProviderEmail, &providers.Profile{
		ExternalID: email,
		Email:      email,
		FirstName:  firstName,
		LastName:   lastName,
	})

	u := &store.User{
		ID:                uuid.NewString(),
		Email:             email,
		FirstName:         p.FirstName,
		LastName:          p.LastName,
		PrimaryProvider:   config.ProviderEmail,
		PrimaryProviderID: email,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if store.IsConflict(err) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	link := &store.ProviderLink{
		ID:             uuid.NewString(),
		UserID:         u.ID,
		Provider:       config.ProviderEmail,
		ProviderUserID: email,
		Email:          email,
		IsPrimary:      true,
		Metadata:       map[string]any{metaPasswordHash: hash},
	}
	if err := s.store.CreateLink(ctx, link); err != nil {
		// Without the link the user row is a dead account that blocks the
		// email forever; roll it back so the registration can be retried.
		if derr := s.store.DeleteUser(ctx, u.ID); derr != nil {
			logger.From(ctx).Error("orphaned user cleanup failed",
				logger.UserID(u.ID), logger.Err(derr))
		}
		return nil, err
	}

	logger.From(ctx).Info("local user registered",
		logger.UserID(u.ID), logger.Email(email))

	if s.mailer != nil {
		if err := s.mailer.SendWelcome(ctx, email, u.FirstName); err != nil {
			logger.From(ctx).Warn("welcome mail failed", logger.Err(err))
		}
	}

	return &identity.SessionUser{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		IsAdmin:   u.IsAdmin,
		Provider:  config.ProviderEmail,
	}, nil
}

// Login verifies email/password. Every failure mode is the same error.
func (s *Service) Login(ctx context.Context, email, plain string) (*identity.SessionUser, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	link, err := s.store.GetLinkByUserProvider(ctx, u.ID, config.ProviderEmail)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	hash, _ := link.Metadata[metaPasswordHash].(string)
	if hash == "" || !password.Verify(plain, hash) {
		return nil, ErrInvalidCredentials
	}

	return &identity.SessionUser{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		AvatarURL: u.AvatarURL,
		IsAdmin:   u.IsAdmin,
		Provider:  config.ProviderEmail,
	}, nil
}
