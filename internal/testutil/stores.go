// stores.go
//
// Shared mock implementations of the auth and articles consumer interfaces.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/MGallo-Code/justlinks/internal/store"
	"github.com/gofrs/uuid/v5"
)

// MockSessionStore implements auth.SessionStore for tests.
// Always stateful...Records is a map, like a real store. TTLs are recorded, not enforced.
// Use *Err fields to inject errors for specific operations.
type MockSessionStore struct {
	// Error injection...zero value means no error
	PutErr    error
	GetErr    error
	TakeErr   error
	DeleteErr error

	Records map[string]store.SessionRecord
	TTLs    map[string]time.Duration
	Puts    int // successful Put calls

	mu sync.Mutex
}

// NewMockSessionStore returns an empty MockSessionStore ready for use.
func NewMockSessionStore() *MockSessionStore {
	return &MockSessionStore{
		Records: make(map[string]store.SessionRecord),
		TTLs:    make(map[string]time.Duration),
	}
}

func (m *MockSessionStore) Put(_ context.Context, key string, rec store.SessionRecord, ttl time.Duration) error {
	if m.PutErr != nil {
		return m.PutErr
	}
	if ttl <= 0 {
		return store.ErrMissingTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records[key] = rec
	m.TTLs[key] = ttl
	m.Puts++
	return nil
}

func (m *MockSessionStore) Get(_ context.Context, key string) (store.SessionRecord, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.Records[key]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	return rec, nil
}

func (m *MockSessionStore) Take(_ context.Context, key string) (store.SessionRecord, error) {
	if m.TakeErr != nil {
		return nil, m.TakeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.Records[key]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	delete(m.Records, key)
	delete(m.TTLs, key)
	return rec, nil
}

func (m *MockSessionStore) Delete(_ context.Context, key string) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Records, key)
	delete(m.TTLs, key)
	return nil
}

// Len returns the number of stored records.
func (m *MockSessionStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Records)
}

// Authorized returns every stored Authorized record keyed by store key.
func (m *MockSessionStore) Authorized() map[string]*store.AuthorizedSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*store.AuthorizedSession)
	for k, rec := range m.Records {
		if a, ok := rec.(*store.AuthorizedSession); ok {
			out[k] = a
		}
	}
	return out
}

// MockUserStore implements auth.UserStore and the articles user lookup for tests.
type MockUserStore struct {
	CreateErr error
	GetErr    error

	Users map[string]*store.User // keyed by username

	mu sync.Mutex
}

// NewMockUserStore returns an empty MockUserStore.
func NewMockUserStore() *MockUserStore {
	return &MockUserStore{Users: make(map[string]*store.User)}
}

func (m *MockUserStore) CreateUserIfNotExists(_ context.Context, id uuid.UUID, username string) (*store.User, error) {
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.Users[username]; ok {
		return u, nil
	}
	now := time.Now()
	u := &store.User{ID: id, Username: username, CreatedAt: now, UpdatedAt: now}
	m.Users[username] = u
	return u, nil
}

// GetUserByUsername returns store.ErrUnknownUser for usernames never created.
func (m *MockUserStore) GetUserByUsername(_ context.Context, username string) (*store.User, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.Users[username]; ok {
		return u, nil
	}
	return nil, store.ErrUnknownUser
}

// MockRateLimiter implements auth.RateLimiter for tests.
// AllowErr is returned for every call; Calls records keys seen.
type MockRateLimiter struct {
	AllowErr error
	Calls    []string

	mu sync.Mutex
}

func (m *MockRateLimiter) Allow(_ context.Context, key string, _ store.RateLimit) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, key)
	m.mu.Unlock()
	return m.AllowErr
}

// MockArticleSink implements articles.Sink for tests.
// FailItems makes UpsertArticle fail for the listed item ids.
type MockArticleSink struct {
	UpsertErr error
	CountErr  error
	FailItems map[string]bool

	Articles map[string]*store.Article // keyed by item id

	mu sync.Mutex
}

// NewMockArticleSink returns an empty sink.
func NewMockArticleSink() *MockArticleSink {
	return &MockArticleSink{Articles: make(map[string]*store.Article)}
}

func (m *MockArticleSink) UpsertArticle(_ context.Context, _ uuid.UUID, a *store.Article) (int64, error) {
	if m.UpsertErr != nil {
		return 0, m.UpsertErr
	}
	if m.FailItems[a.ItemID] {
		return 0, context.DeadlineExceeded
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Articles[a.ItemID] = a
	return int64(len(m.Articles)), nil
}

// CountArticles reports the number of stored articles regardless of user.
func (m *MockArticleSink) CountArticles(_ context.Context, _ uuid.UUID) (int, error) {
	if m.CountErr != nil {
		return 0, m.CountErr
	}
	return m.Len(), nil
}

// Len returns the number of stored articles.
func (m *MockArticleSink) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Articles)
}
