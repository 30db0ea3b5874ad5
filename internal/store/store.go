// Package store persists users and their provider links.
//
// Two drivers: memory (dev, tests) and postgres. Both enforce the two
// uniqueness rules the reconciliation engine depends on: user email is
// unique, and (provider, provider_user_id) is unique across links. A
// concurrent first-time login race therefore fails the loser with
// ErrConflict instead of silently duplicating an account.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict means a uniqueness constraint rejected the write.
	ErrConflict = errors.New("store: conflict")
)

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err is ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// User is the canonical account. One row per person regardless of how many
// providers they have logged in with.
type User struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	AvatarURL string
	IsAdmin   bool

	// The provider/external-id pair that created the account.
	PrimaryProvider   string
	PrimaryProviderID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProviderLink joins one external identity to one User. Unique on
// (Provider, ProviderUserID).
type ProviderLink struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	Email          string
	AccessToken    string
	RefreshToken   string
	IsPrimary      bool
	// Metadata holds the raw provider profile, and for the "email"
	// strategy, the password hash. Opaque to the store.
	Metadata map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the persistence contract for the auth subsystem.
type Store interface {
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	// CreateUser inserts u. Returns ErrConflict if the email is taken.
	CreateUser(ctx context.Context, u *User) error
	UpdateUser(ctx context.Context, u *User) error
	// DeleteUser removes the user row. Compensation path for a failed
	// multi-step registration; links are the caller's concern.
	DeleteUser(ctx context.Context, id string) error

	GetLinkByProvider(ctx context.Context, provider, providerUserID string) (*ProviderLink, error)
	GetLinkByUserProvider(ctx context.Context, userID, provider string) (*ProviderLink, error)
	// CreateLink inserts l. Returns ErrConflict if (provider, provider
	// user id) is taken.
	CreateLink(ctx context.Context, l *ProviderLink) error
	UpdateLinkTokens(ctx context.Context, linkID, accessToken, refreshToken string) error
	UpdateLinkMetadata(ctx context.Context, linkID string, metadata map[string]any) error

	Ping(ctx context.Context) error
	Close()
}
