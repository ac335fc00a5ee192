// retriever.go
//
// Mock item source for article handler tests.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/MGallo-Code/justlinks/internal/pocket"
)

// MockRetriever implements articles.Retriever, returning Items unchanged.
// Calls records the since argument of each call.
type MockRetriever struct {
	RetrieveErr error
	Items       []pocket.Item

	Calls []time.Time
	Token string // last access token seen

	mu sync.Mutex
}

func (m *MockRetriever) Retrieve(_ context.Context, accessToken string, since time.Time) ([]pocket.Item, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, since)
	m.Token = accessToken
	m.mu.Unlock()
	if m.RetrieveErr != nil {
		return nil, m.RetrieveErr
	}
	return m.Items, nil
}
