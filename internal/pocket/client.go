// client.go -- Pocket v3 API client: request tokens, access token exchange, retrieval.
package pocket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL      = "https://getpocket.com"
	DefaultAuthorizeURL = "https://getpocket.com/auth/authorize"

	// maxResponseBytes caps decoded response bodies; a full retrieve is well below this.
	maxResponseBytes = 32 << 20
)

// APIError is a non-2xx Pocket response. Pocket reports details in the
// X-Error-Code and X-Error headers rather than the body.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("pocket: status %d (code %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("pocket: status %d", e.Status)
}

// Config holds the consumer credentials and endpoints.
// BaseURL and AuthorizeURL default to the public Pocket hosts when empty.
type Config struct {
	ConsumerKey  string
	RedirectURI  string
	BaseURL      string
	AuthorizeURL string
	Timeout      time.Duration
}

// Client talks to the Pocket API. Safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient returns a client for cfg. Each call is bounded by cfg.Timeout
// in addition to any deadline on the caller's context.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = DefaultAuthorizeURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

// RequestToken obtains a fresh request token ("code") for a new handshake.
func (c *Client) RequestToken(ctx context.Context) (string, error) {
	var resp struct {
		Code string `json:"code"`
	}
	err := c.post(ctx, "/v3/oauth/request", map[string]string{
		"consumer_key": c.cfg.ConsumerKey,
		"redirect_uri": c.cfg.RedirectURI,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("requesting token: %w", err)
	}
	if resp.Code == "" {
		return "", fmt.Errorf("requesting token: empty code in response")
	}
	return resp.Code, nil
}

// AccessToken exchanges an authorized request token for an access token and
// the account's username. Fails if the user never approved the request token.
func (c *Client) AccessToken(ctx context.Context, requestToken string) (accessToken, username string, err error) {
	var resp struct {
		AccessToken string `json:"access_token"`
		Username    string `json:"username"`
	}
	err = c.post(ctx, "/v3/oauth/authorize", map[string]string{
		"consumer_key": c.cfg.ConsumerKey,
		"code":         requestToken,
	}, &resp)
	if err != nil {
		return "", "", fmt.Errorf("exchanging request token: %w", err)
	}
	if resp.AccessToken == "" || resp.Username == "" {
		return "", "", fmt.Errorf("exchanging request token: incomplete response")
	}
	return resp.AccessToken, resp.Username, nil
}

// AuthorizeURL builds the consent page URL. state is carried twice: as its own
// parameter and inside redirect_uri, so the callback receives it either way.
// Both copies are percent-encoded by url.Values.
func (c *Client) AuthorizeURL(requestToken, state string) (string, error) {
	redirect, err := url.Parse(c.cfg.RedirectURI)
	if err != nil {
		return "", fmt.Errorf("parsing redirect uri: %w", err)
	}
	rq := redirect.Query()
	rq.Set("state", state)
	redirect.RawQuery = rq.Encode()

	u, err := url.Parse(c.cfg.AuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("parsing authorize url: %w", err)
	}
	q := u.Query()
	q.Set("request_token", requestToken)
	q.Set("redirect_uri", redirect.String())
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// post sends body as JSON and decodes a JSON response into out.
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &APIError{
			Status:  resp.StatusCode,
			Code:    resp.Header.Get("X-Error-Code"),
			Message: resp.Header.Get("X-Error"),
		}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
