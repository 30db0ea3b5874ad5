// Package identity resolves an external identity into exactly one internal
// user, no matter which provider it arrived through or how many providers
// that person has used before.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mealdeck/mealdeck/internal/auth/providers"
	"github.com/mealdeck/mealdeck/internal/observability/logger"
	"github.com/mealdeck/mealdeck/internal/store"
)

// ErrIntegrity means a provider link points at a user that does not exist.
// Healthy data never produces this; it is an internal error and the one
// failure in this package worth paging over.
var ErrIntegrity = errors.New("identity: provider link references missing user")

// SessionUser is what gets serialized into the session after resolution.
type SessionUser struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	AvatarURL string `json:"avatar_url"`
	IsAdmin   bool   `json:"is_admin"`
	// Provider is the strategy used for this particular login.
	Provider string `json:"provider"`
}

// Resolver is the reconciliation engine.
type Resolver struct {
	store store.Store
}

func NewResolver(st store.Store) *Resolver {
	return &Resolver{store: st}
}

// Resolve finds or creates the user and link for a canonical profile.
//
// The lookup order is load-bearing:
//
//  1. link by (provider, external id): the same external identity always
//     lands on the same user, unconditionally;
//  2. user by email: a second provider sharing the email attaches to the
//     existing account instead of duplicating it;
//  3. create a new user, the only path that mints an account.
//
// Steps 2 and 3 then create the link. The read-then-write here is not
// serialized across requests; the store's uniqueness constraints fail the
// loser of a concurrent race, and the loser retries down the other path.
func (r *Resolver) Resolve(ctx context.Context, provider string, p *providers.Profile, accessToken, refreshToken string) (*SessionUser, error) {
	log := logger.From(ctx).With(logger.Component("identity"), logger.Provider(provider))

	// Step 1: known identity.
	link, err := r.store.GetLinkByProvider(ctx, provider, p.ExternalID)
	if err == nil {
		return r.resolveExisting(ctx, log, provider, p, link, accessToken, refreshToken)
	}
	if !store.IsNotFound(err) {
		return nil, err
	}

	// Step 2: unknown identity, known email: account linking.
	u, err := r.store.GetUserByEmail(ctx, p.Email)
	if store.IsNotFound(err) {
		// Step 3: brand new account.
		u, err = r.createUser(ctx, provider, p)
		if store.IsConflict(err) {
			// Lost a same-email race; the winner's row is there now.
			u, err = r.store.GetUserByEmail(ctx, p.Email)
		}
	}
	if err != nil {
		return nil, err
	}

	if r.maybeBackfill(u, p) {
		if err := r.store.UpdateUser(ctx, u); err != nil {
			log.Warn("user backfill failed", logger.UserID(u.ID), logger.Err(err))
		}
	}

	// Step 4: record the link. isPrimary is true exactly when this
	// provider/external-id pair is the one that created the account.
	newLink := &store.ProviderLink{
		ID:             uuid.NewString(),
		UserID:         u.ID,
		Provider:       provider,
		ProviderUserID: p.ExternalID,
		Email:          p.Email,
		AccessToken:    accessToken,
		RefreshToken:   refreshToken,
		IsPrimary:      u.PrimaryProvider == provider && u.PrimaryProviderID == p.ExternalID,
		Metadata:       p.Raw,
	}
	if err := r.store.CreateLink(ctx, newLink); err != nil {
		if store.IsConflict(err) {
			// Same identity raced in twice; fold into the winner's link.
			if link, lerr := r.store.GetLinkByProvider(ctx, provider, p.ExternalID); lerr == nil {
				return r.resolveExisting(ctx, log, provider, p, link, accessToken, refreshToken)
			}
		}
		return nil, err
	}

	log.Info("identity linked",
		logger.UserID(u.ID),
		logger.LinkID(newLink.ID),
		logger.Email(u.Email),
	)
	return sessionUser(u, p, provider), nil
}

// resolveExisting is the step-1 path: the identity is already linked.
func (r *Resolver) resolveExisting(ctx context.Context, log *zap.Logger, provider string, p *providers.Profile, link *store.ProviderLink, accessToken, refreshToken string) (*SessionUser, error) {
	u, err := r.store.GetUserByID(ctx, link.UserID)
	if err != nil {
		if store.IsNotFound(err) {
			log.Error("orphaned provider link", logger.LinkID(link.ID), logger.UserID(link.UserID))
			return nil, fmt.Errorf("%w: link %s", ErrIntegrity, link.ID)
		}
		return nil, err
	}

	if err := r.store.UpdateLinkTokens(ctx, link.ID, accessToken, refreshToken); err != nil {
		log.Warn("token update failed", logger.LinkID(link.ID), logger.Err(err))
	}

	if r.maybeBackfill(u, p) {
		if err := r.store.UpdateUser(ctx, u); err != nil {
			log.Warn("user backfill failed", logger.UserID(u.ID), logger.Err(err))
		}
	}

	return sessionUser(u, p, provider), nil
}

// maybeBackfill fills empty user fields from the fresh profile and applies
// an authoritative admin claim. Non-empty fields are never overwritten by
// a login. Reports whether anything changed.
func (r *Resolver) maybeBackfill(u *store.User, p *providers.Profile) bool {
	changed := false
	if u.FirstName == "" && p.FirstName != "" {
		u.FirstName = p.FirstName
		changed = true
	}
	if u.LastName == "" && p.LastName != "" {
		u.LastName = p.LastName
		changed = true
	}
	if u.AvatarURL == "" && p.AvatarURL != "" {
		u.AvatarURL = p.AvatarURL
		changed = true
	}
	if p.HasAdminClaim && u.IsAdmin != p.IsAdmin {
		u.IsAdmin = p.IsAdmin
		changed = true
	}
	return changed
}

func (r *Resolver) createUser(ctx context.Context, provider string, p *providers.Profile) (*store.User, error) {
	u := &store.User{
		ID:                uuid.NewString(),
		Email:             p.Email,
		FirstName:         p.FirstName,
		LastName:          p.LastName,
		AvatarURL:         p.AvatarURL,
		PrimaryProvider:   provider,
		PrimaryProviderID: p.ExternalID,
	}
	if p.HasAdminClaim {
		u.IsAdmin = p.IsAdmin
	}
	if err := r.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// sessionUser builds the session record from the stored user, filling from
// the fresh profile only where the stored fields are empty.
func sessionUser(u *store.User, p *providers.Profile, provider string) *SessionUser {
	su := &SessionUser{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		AvatarURL: u.AvatarURL,
		IsAdmin:   u.IsAdmin,
		Provider:  provider,
	}
	if su.FirstName == "" {
		su.FirstName = p.FirstName
	}
	if su.LastName == "" {
		su.LastName = p.LastName
	}
	if su.AvatarURL == "" {
		su.AvatarURL = p.AvatarURL
	}
	return su
}
