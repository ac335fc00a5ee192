// items.go -- /v3/get retrieval and conversion of Pocket items to store rows.
package pocket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MGallo-Code/justlinks/internal/store"
)

// flexString accepts a JSON string or number. Pocket is inconsistent
// about which fields it quotes.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

// Image is one entry of an item's images map.
type Image struct {
	ImageID flexString `json:"image_id"`
	Src     string     `json:"src"`
	Width   flexString `json:"width"`
	Height  flexString `json:"height"`
	Credit  string     `json:"credit"`
	Caption string     `json:"caption"`
}

// Video is one entry of an item's videos map.
type Video struct {
	VideoID flexString `json:"video_id"`
	Src     string     `json:"src"`
	Width   flexString `json:"width"`
	Height  flexString `json:"height"`
	Length  flexString `json:"length"`
	Vid     string     `json:"vid"`
}

// Author is one entry of an item's authors map.
type Author struct {
	AuthorID flexString `json:"author_id"`
	Name     string     `json:"name"`
	URL      string     `json:"url"`
}

// Tag is one entry of an item's tags map.
type Tag struct {
	Tag string `json:"tag"`
}

// Item is a saved reading-list entry as returned by /v3/get with detailType=complete.
type Item struct {
	ItemID                 flexString        `json:"item_id"`
	ResolvedID             flexString        `json:"resolved_id"`
	GivenURL               string            `json:"given_url"`
	GivenTitle             string            `json:"given_title"`
	Favorite               flexString        `json:"favorite"`
	Status                 flexString        `json:"status"`
	TimeAdded              flexString        `json:"time_added"`
	TimeUpdated            flexString        `json:"time_updated"`
	TimeRead               flexString        `json:"time_read"`
	TimeFavorited          flexString        `json:"time_favorited"`
	SortID                 flexString        `json:"sort_id"`
	ResolvedTitle          string            `json:"resolved_title"`
	ResolvedURL            string            `json:"resolved_url"`
	Excerpt                string            `json:"excerpt"`
	IsArticle              flexString        `json:"is_article"`
	IsIndex                flexString        `json:"is_index"`
	HasVideo               flexString        `json:"has_video"`
	HasImage               flexString        `json:"has_image"`
	WordCount              flexString        `json:"word_count"`
	Lang                   string            `json:"lang"`
	TimeToRead             flexString        `json:"time_to_read"`
	ListenDurationEstimate flexString        `json:"listen_duration_estimate"`
	TopImageURL            string            `json:"top_image_url"`
	Tags                   map[string]Tag    `json:"tags,omitempty"`
	Images                 map[string]Image  `json:"images,omitempty"`
	Videos                 map[string]Video  `json:"videos,omitempty"`
	Authors                map[string]Author `json:"authors,omitempty"`
}

// itemList decodes Pocket's "list" field, which is an object keyed by item id
// or an empty array when there is nothing to return.
type itemList map[string]Item

func (l *itemList) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		*l = itemList{}
		return nil
	}
	m := map[string]Item{}
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return err
	}
	*l = m
	return nil
}

// Retrieve returns every item (read or unread) changed since the given time
// (all items when since is zero),
// ordered by Pocket's sort_id.
func (c *Client) Retrieve(ctx context.Context, accessToken string, since time.Time) ([]Item, error) {
	var resp struct {
		Status int      `json:"status"`
		List   itemList `json:"list"`
	}
	body := map[string]any{
		"consumer_key": c.cfg.ConsumerKey,
		"access_token": accessToken,
		"state":        "all",
		"detailType":   "complete",
	}
	// A zero since asks for the whole list.
	if !since.IsZero() {
		body["since"] = since.Unix()
	}
	err := c.post(ctx, "/v3/get", body, &resp)
	if err != nil {
		return nil, fmt.Errorf("retrieving items: %w", err)
	}

	items := make([]Item, 0, len(resp.List))
	for _, it := range resp.List {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		return atoi(items[i].SortID) < atoi(items[j].SortID)
	})
	return items, nil
}

// Article converts the item into its relational row shape.
// Empty strings and unparseable numbers become NULL.
func (it *Item) Article() *store.Article {
	a := &store.Article{
		ItemID:                 string(it.ItemID),
		ResolvedID:             optString(string(it.ResolvedID)),
		GivenURL:               optString(it.GivenURL),
		GivenTitle:             optString(it.GivenTitle),
		Favorite:               it.Favorite == "1",
		Status:                 int32(atoi(it.Status)),
		TimeAdded:              optInt64(it.TimeAdded),
		TimeUpdated:            optInt64(it.TimeUpdated),
		TimeRead:               optInt64(it.TimeRead),
		TimeFavorited:          optInt64(it.TimeFavorited),
		SortID:                 optInt32(it.SortID),
		ResolvedURL:            optString(it.ResolvedURL),
		ResolvedTitle:          optString(it.ResolvedTitle),
		Excerpt:                optString(it.Excerpt),
		IsArticle:              it.IsArticle == "1",
		IsIndex:                it.IsIndex == "1",
		HasImage:               optInt32(it.HasImage),
		HasVideo:               optInt32(it.HasVideo),
		WordCount:              optInt32(it.WordCount),
		Lang:                   optString(it.Lang),
		TimeToRead:             optInt32(it.TimeToRead),
		ListenDurationEstimate: optInt32(it.ListenDurationEstimate),
		TopImageURL:            optString(it.TopImageURL),
	}

	if len(it.Tags) > 0 {
		tags := make([]string, 0, len(it.Tags))
		for name, t := range it.Tags {
			if t.Tag != "" {
				name = t.Tag
			}
			tags = append(tags, name)
		}
		sort.Strings(tags)
		a.Tags = optString(strings.Join(tags, ","))
	}

	for _, key := range sortedKeys(it.Images) {
		img := it.Images[key]
		a.Images = append(a.Images, store.ArticleImage{
			ImageID: orKey(img.ImageID, key),
			Src:     img.Src,
			Width:   int32(atoi(img.Width)),
			Height:  int32(atoi(img.Height)),
			Credit:  img.Credit,
			Caption: img.Caption,
		})
	}
	for _, key := range sortedKeys(it.Videos) {
		v := it.Videos[key]
		a.Videos = append(a.Videos, store.ArticleVideo{
			VideoID: orKey(v.VideoID, key),
			Src:     v.Src,
			Width:   int32(atoi(v.Width)),
			Height:  int32(atoi(v.Height)),
			Length:  optInt32(v.Length),
			Vid:     v.Vid,
		})
	}
	for _, key := range sortedKeys(it.Authors) {
		au := it.Authors[key]
		a.Authors = append(a.Authors, store.ArticleAuthor{
			AuthorID: orKey(au.AuthorID, key),
			Name:     au.Name,
			URL:      au.URL,
		})
	}
	return a
}

// --- conversion helpers ---

func atoi(f flexString) int64 {
	n, _ := strconv.ParseInt(string(f), 10, 64)
	return n
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optInt64(f flexString) *int64 {
	n, err := strconv.ParseInt(string(f), 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func optInt32(f flexString) *int32 {
	n, err := strconv.ParseInt(string(f), 10, 32)
	if err != nil {
		return nil
	}
	v := int32(n)
	return &v
}

func orKey(id flexString, key string) string {
	if id != "" {
		return string(id)
	}
	return key
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
