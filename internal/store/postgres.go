// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and queries for users and synced articles.
// All queries use parameterized statements (no string concatenation).
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUnknownUser is returned when a user lookup or an article's owner has no users row.
var ErrUnknownUser = errors.New("unknown user")

// foreignKeyViolation is the Postgres SQLSTATE for a failed REFERENCES check.
const foreignKeyViolation = "23503"

// PostgresStore is the relational sink for users and synced articles.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a verified connection pool wrapped in a store.
// Call once at startup; the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CheckHealth pings Postgres.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateUserIfNotExists returns the user with the given external username,
// inserting it on first sight. The caller-supplied id is only used for inserts.
func (s *PostgresStore) CreateUserIfNotExists(ctx context.Context, id uuid.UUID, username string) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, username)
		VALUES ($1, $2)
		ON CONFLICT (username) DO UPDATE SET updated_at = now()
		RETURNING id, username, created_at, updated_at`,
		id, username,
	).Scan(&u.ID, &u.Username, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}
	return &u, nil
}

// GetUserByUsername fetches a user. Returns ErrUnknownUser if absent.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		"SELECT id, username, created_at, updated_at FROM users WHERE username = $1",
		username,
	).Scan(&u.ID, &u.Username, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("fetching user: %w", err)
	}
	return &u, nil
}

// UpsertArticle writes an article and its images, videos and authors in one
// transaction, keyed by (user_id, item_id). Returns the article row id.
func (s *PostgresStore) UpsertArticle(ctx context.Context, userID uuid.UUID, a *Article) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning article upsert: %w", err)
	}
	// No-op after Commit.
	defer tx.Rollback(ctx)

	var articleID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO pocket_articles (
			user_id, item_id, resolved_id, given_url, given_title, favorite, status,
			time_added, time_updated, time_read, time_favorited, sort_id,
			resolved_url, resolved_title, excerpt, is_article, is_index,
			has_image, has_video, word_count, tags, lang, time_to_read,
			listen_duration_estimate, top_image_url
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
		ON CONFLICT (user_id, item_id) DO UPDATE SET
			resolved_id = EXCLUDED.resolved_id,
			given_url = EXCLUDED.given_url,
			given_title = EXCLUDED.given_title,
			favorite = EXCLUDED.favorite,
			status = EXCLUDED.status,
			time_added = EXCLUDED.time_added,
			time_updated = EXCLUDED.time_updated,
			time_read = EXCLUDED.time_read,
			time_favorited = EXCLUDED.time_favorited,
			sort_id = EXCLUDED.sort_id,
			resolved_url = EXCLUDED.resolved_url,
			resolved_title = EXCLUDED.resolved_title,
			excerpt = EXCLUDED.excerpt,
			is_article = EXCLUDED.is_article,
			is_index = EXCLUDED.is_index,
			has_image = EXCLUDED.has_image,
			has_video = EXCLUDED.has_video,
			word_count = EXCLUDED.word_count,
			tags = EXCLUDED.tags,
			lang = EXCLUDED.lang,
			time_to_read = EXCLUDED.time_to_read,
			listen_duration_estimate = EXCLUDED.listen_duration_estimate,
			top_image_url = EXCLUDED.top_image_url,
			updated_at = now()
		RETURNING id`,
		userID, a.ItemID, a.ResolvedID, a.GivenURL, a.GivenTitle, a.Favorite, a.Status,
		a.TimeAdded, a.TimeUpdated, a.TimeRead, a.TimeFavorited, a.SortID,
		a.ResolvedURL, a.ResolvedTitle, a.Excerpt, a.IsArticle, a.IsIndex,
		a.HasImage, a.HasVideo, a.WordCount, a.Tags, a.Lang, a.TimeToRead,
		a.ListenDurationEstimate, a.TopImageURL,
	).Scan(&articleID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return 0, fmt.Errorf("upserting article %s: %w", a.ItemID, ErrUnknownUser)
		}
		return 0, fmt.Errorf("upserting article %s: %w", a.ItemID, err)
	}

	// Children are small; a batch keeps them to one round-trip.
	batch := &pgx.Batch{}
	for _, img := range a.Images {
		batch.Queue(`
			INSERT INTO pocket_article_images (pocket_article_id, image_id, src, width, height, caption, credit)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (pocket_article_id, image_id) DO UPDATE SET
				src = EXCLUDED.src, width = EXCLUDED.width, height = EXCLUDED.height,
				caption = EXCLUDED.caption, credit = EXCLUDED.credit`,
			articleID, img.ImageID, img.Src, img.Width, img.Height, img.Caption, img.Credit)
	}
	for _, v := range a.Videos {
		batch.Queue(`
			INSERT INTO pocket_article_videos (pocket_article_id, video_id, src, width, height, length, vid)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (pocket_article_id, video_id) DO UPDATE SET
				src = EXCLUDED.src, width = EXCLUDED.width, height = EXCLUDED.height,
				length = EXCLUDED.length, vid = EXCLUDED.vid`,
			articleID, v.VideoID, v.Src, v.Width, v.Height, v.Length, v.Vid)
	}
	for _, au := range a.Authors {
		batch.Queue(`
			INSERT INTO pocket_article_authors (pocket_article_id, author_id, name, url)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (pocket_article_id, author_id) DO UPDATE SET
				name = EXCLUDED.name, url = EXCLUDED.url`,
			articleID, au.AuthorID, au.Name, au.URL)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return 0, fmt.Errorf("upserting children of article %s: %w", a.ItemID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing article %s: %w", a.ItemID, err)
	}
	return articleID, nil
}

// CountArticles returns how many articles are synced for userID.
func (s *PostgresStore) CountArticles(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		"SELECT count(*) FROM pocket_articles WHERE user_id = $1", userID,
	).Scan(&n)
	return n, err
}
