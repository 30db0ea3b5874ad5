package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is the in-process Store. It backs the memory storage driver and
// the unit tests. Uniqueness is enforced under one mutex, so it exhibits
// the same conflict behavior the postgres constraints do.
type Memory struct {
	mu      sync.RWMutex
	users   map[string]*User         // id -> user
	byEmail map[string]string        // email -> user id
	links   map[string]*ProviderLink // id -> link
	byProv  map[string]string        // provider + "\x00" + providerUserID -> link id
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:   map[string]*User{},
		byEmail: map[string]string{},
		links:   map[string]*ProviderLink{},
		byProv:  map[string]string{},
	}
}

func provKey(provider, providerUserID string) string {
	return provider + "\x00" + providerUserID
}

func normEmail(e string) string { return strings.ToLower(strings.TrimSpace(e)) }

func (m *Memory) GetUserByID(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[normEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *Memory) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := normEmail(u.Email)
	if _, taken := m.byEmail[email]; taken {
		return ErrConflict
	}
	now := time.Now().UTC()
	u.Email = email
	u.CreatedAt = now
	u.UpdatedAt = now
	cp := *u
	m.users[u.ID] = &cp
	m.byEmail[email] = u.ID
	return nil
}

func (m *Memory) UpdateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	u.Email = normEmail(u.Email)
	if u.Email != cur.Email {
		if _, taken := m.byEmail[u.Email]; taken {
			return ErrConflict
		}
		delete(m.byEmail, cur.Email)
		m.byEmail[u.Email] = u.ID
	}
	u.CreatedAt = cur.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *Memory) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.byEmail, u.Email)
	delete(m.users, id)
	return nil
}

func (m *Memory) GetLinkByProvider(_ context.Context, provider, providerUserID string) (*ProviderLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byProv[provKey(provider, providerUserID)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyLink(m.links[id]), nil
}

func (m *Memory) GetLinkByUserProvider(_ context.Context, userID, provider string) (*ProviderLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.links {
		if l.UserID == userID && l.Provider == provider {
			return copyLink(l), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) CreateLink(_ context.Context, l *ProviderLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := provKey(l.Provider, l.ProviderUserID)
	if _, taken := m.byProv[key]; taken {
		return ErrConflict
	}
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now
	m.links[l.ID] = copyLink(l)
	m.byProv[key] = l.ID
	return nil
}

func (m *Memory) UpdateLinkTokens(_ context.Context, linkID, accessToken, refreshToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[linkID]
	if !ok {
		return ErrNotFound
	}
	l.AccessToken = accessToken
	if refreshToken != "" {
		l.RefreshToken = refreshToken
	}
	l.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) UpdateLinkMetadata(_ context.Context, linkID string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[linkID]
	if !ok {
		return ErrNotFound
	}
	l.Metadata = metadata
	l.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close()                     {}

func copyLink(l *ProviderLink) *ProviderLink {
	cp := *l
	if l.Metadata != nil {
		cp.Metadata = make(map[string]any, len(l.Metadata))
		for k, v := range l.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
