// authority.go
//
// Mock external authority for handshake tests.
package testutil

import (
	"context"
	"errors"
	"net/url"
	"sync"
)

// MockAuthority implements auth.Authority.
// Approved maps request tokens to the username they authorize; AccessToken
// fails for anything else, mirroring an unapproved request token.
type MockAuthority struct {
	RequestTokenErr error
	AccessTokenErr  error

	// Block makes calls wait for ctx to end, for timeout tests.
	Block bool

	NextRequestToken string
	Approved         map[string]string
	Exchanged        []string // request tokens passed to AccessToken

	mu sync.Mutex
}

// NewMockAuthority hands out requestToken and approves it for username.
func NewMockAuthority(requestToken, username string) *MockAuthority {
	return &MockAuthority{
		NextRequestToken: requestToken,
		Approved:         map[string]string{requestToken: username},
	}
}

func (m *MockAuthority) RequestToken(ctx context.Context) (string, error) {
	if m.Block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if m.RequestTokenErr != nil {
		return "", m.RequestTokenErr
	}
	return m.NextRequestToken, nil
}

func (m *MockAuthority) AccessToken(ctx context.Context, requestToken string) (string, string, error) {
	m.mu.Lock()
	m.Exchanged = append(m.Exchanged, requestToken)
	m.mu.Unlock()
	if m.Block {
		<-ctx.Done()
		return "", "", ctx.Err()
	}
	if m.AccessTokenErr != nil {
		return "", "", m.AccessTokenErr
	}
	username, ok := m.Approved[requestToken]
	if !ok {
		return "", "", errUnapproved
	}
	return "access-" + requestToken, username, nil
}

// AuthorizeURL mimics the real consent URL shape.
func (m *MockAuthority) AuthorizeURL(requestToken, state string) (string, error) {
	q := url.Values{}
	q.Set("request_token", requestToken)
	q.Set("redirect_uri", "https://app.example.com/callback?"+url.Values{"state": {state}}.Encode())
	q.Set("state", state)
	return "https://authority.example.com/auth/authorize?" + q.Encode(), nil
}

// ExchangeCount returns how many AccessToken calls were made.
func (m *MockAuthority) ExchangeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Exchanged)
}

var errUnapproved = errors.New("request token not approved")
