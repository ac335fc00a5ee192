// models.go -- Shared domain types for the store package.
// Session records live in Redis; users and synced articles live in Postgres.
package store

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ErrSessionNotFound is returned by Get and Take when the key is absent
// (expired, never existed, or already consumed). It is an expected outcome.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionCorrupt is returned when a stored value cannot be decoded into a record.
var ErrSessionCorrupt = errors.New("session record corrupt")

// ErrStoreUnavailable wraps Redis/Postgres infrastructure failures
// (connection refused, pool timeout, etc.).
var ErrStoreUnavailable = errors.New("store unavailable")

// ErrMissingTTL is returned by Put when ttl <= 0. Every session record expires.
var ErrMissingTTL = errors.New("session ttl must be positive")

// ErrRateLimitExceeded is returned by Allow when the caller is over budget.
// Callers use errors.Is to distinguish rate limit rejections from Redis failures.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// SessionRecord is one of *PendingSession or *AuthorizedSession.
// The unexported method keeps the set of variants closed.
type SessionRecord interface {
	sessionKind() string
}

const (
	kindPending    = "pending"
	kindAuthorized = "authorized"
)

// PendingSession is a handshake in progress. Lives until redeemed or its TTL ends.
type PendingSession struct {
	RequestToken string `cbor:"1,keyasint"`
	CSRFToken    string `cbor:"2,keyasint"`
}

func (*PendingSession) sessionKind() string { return kindPending }

// AuthorizedSession is a completed login holding the external access token.
type AuthorizedSession struct {
	AccessToken string `cbor:"1,keyasint"`
	Username    string `cbor:"2,keyasint"`
}

func (*AuthorizedSession) sessionKind() string { return kindAuthorized }

// RateLimit defines the policy for a rate-limited action.
type RateLimit struct {
	MaxAttempts int           // attempts allowed within Window
	Window      time.Duration // fixed window for attempt counting
}

// User represents a row in the users table.
type User struct {
	ID        uuid.UUID
	Username  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Article is one synced reading-list item, a row in pocket_articles.
// Nullable columns are pointers -- nil means SQL NULL.
type Article struct {
	ItemID                 string
	ResolvedID             *string
	GivenURL               *string
	GivenTitle             *string
	Favorite               bool
	Status                 int32
	TimeAdded              *int64
	TimeUpdated            *int64
	TimeRead               *int64
	TimeFavorited          *int64
	SortID                 *int32
	ResolvedURL            *string
	ResolvedTitle          *string
	Excerpt                *string
	IsArticle              bool
	IsIndex                bool
	HasImage               *int32
	HasVideo               *int32
	WordCount              *int32
	Tags                   *string
	Lang                   *string
	TimeToRead             *int32
	ListenDurationEstimate *int32
	TopImageURL            *string

	Images  []ArticleImage
	Videos  []ArticleVideo
	Authors []ArticleAuthor
}

// ArticleImage is a row in pocket_article_images.
type ArticleImage struct {
	ImageID string
	Src     string
	Width   int32
	Height  int32
	Credit  string
	Caption string
}

// ArticleVideo is a row in pocket_article_videos.
type ArticleVideo struct {
	VideoID string
	Src     string
	Width   int32
	Height  int32
	Length  *int32
	Vid     string
}

// ArticleAuthor is a row in pocket_article_authors.
type ArticleAuthor struct {
	AuthorID string
	Name     string
	URL      string
}
