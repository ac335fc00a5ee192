// config.go

// Environment variable loading and validation.
package config

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MGallo-Code/justlinks/internal/handshake"
	"golang.org/x/crypto/hkdf"
)

// Config holds all env configuration vars for justlinks.
type Config struct {
	DatabaseURL  string
	RedisURL     string
	Port         string
	CookieName   string
	CookieDomain string
	LogLevel     slog.Level

	// UserAgentURL is the web client's origin, allowed by CORS with credentials.
	UserAgentURL string

	// Pocket application credentials. RedirectURI is where Pocket sends the
	// browser after approval; it must reach the web client.
	PocketConsumerKey  string
	PocketRedirectURI  string
	PocketBaseURL      string
	PocketAuthorizeURL string

	// HandshakeKeys holds the current pair first, then the previous pair when
	// a rotation is in progress.
	HandshakeKeys   []handshake.Keys
	HandshakeIssuer string

	// TTLs. Defaults: 10m pending, 60m authorized.
	PendingSessionTTL time.Duration
	SessionTTL        time.Duration
	AuthorityTimeout  time.Duration

	// Rate limit policy for /auth/authn per client IP. Defaults: 20 per 1m.
	RateAuthnMax    int
	RateAuthnWindow time.Duration

	RedisPoolSize    int
	RedisPoolTimeout time.Duration
}

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error if any required variable is missing or a key is malformed.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	required := []struct {
		key string
		dst *string
	}{
		{"DATABASE_URL", &cfg.DatabaseURL},
		{"REDIS_URL", &cfg.RedisURL},
		{"POCKET_CONSUMER_KEY", &cfg.PocketConsumerKey},
		{"POCKET_REDIRECT_URI", &cfg.PocketRedirectURI},
	}
	for _, r := range required {
		*r.dst = os.Getenv(r.key)
		if *r.dst == "" {
			return nil, fmt.Errorf("%s is required", r.key)
		}
	}
	if u, err := url.Parse(cfg.PocketRedirectURI); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("POCKET_REDIRECT_URI must be an absolute URL")
	}

	current, err := loadKeys("HANDSHAKE_SIGNING_KEY", "HANDSHAKE_ENCRYPTION_KEY", false)
	if err != nil {
		return nil, err
	}
	if current == nil {
		// Single-secret deployments derive both keys.
		secret := os.Getenv("HANDSHAKE_SECRET")
		if secret == "" {
			return nil, fmt.Errorf("HANDSHAKE_SIGNING_KEY and HANDSHAKE_ENCRYPTION_KEY (or HANDSHAKE_SECRET) are required")
		}
		if current, err = deriveKeys(secret); err != nil {
			return nil, fmt.Errorf("HANDSHAKE_SECRET: %w", err)
		}
	}
	cfg.HandshakeKeys = append(cfg.HandshakeKeys, *current)
	previous, err := loadKeys("HANDSHAKE_SIGNING_KEY_PREVIOUS", "HANDSHAKE_ENCRYPTION_KEY_PREVIOUS", false)
	if err != nil {
		return nil, err
	}
	if previous != nil {
		cfg.HandshakeKeys = append(cfg.HandshakeKeys, *previous)
	}

	cfg.Port = envString("PORT", "8080")
	cfg.CookieName = envString("COOKIE_NAME", "ID")
	cfg.CookieDomain = os.Getenv("COOKIE_DOMAIN")
	cfg.UserAgentURL = os.Getenv("USER_AGENT_URL")
	cfg.HandshakeIssuer = envString("HANDSHAKE_ISSUER", "https://just-links.dev")
	cfg.PocketBaseURL = os.Getenv("POCKET_BASE_URL")
	cfg.PocketAuthorizeURL = os.Getenv("POCKET_AUTHORIZE_URL")

	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	cfg.PendingSessionTTL = envDuration("PENDING_SESSION_TTL", 10*time.Minute)
	cfg.SessionTTL = envDuration("SESSION_TTL", 60*time.Minute)
	cfg.AuthorityTimeout = envDuration("AUTHORITY_TIMEOUT", 10*time.Second)

	// Invalid values fall back to the default so a typo never disables limiting.
	cfg.RateAuthnMax = envInt("RATE_AUTHN_MAX", 20)
	cfg.RateAuthnWindow = envDuration("RATE_AUTHN_WINDOW", time.Minute)

	cfg.RedisPoolSize = envInt("REDIS_POOL_SIZE", 10)
	cfg.RedisPoolTimeout = envDuration("REDIS_POOL_TIMEOUT", 2*time.Second)

	return cfg, nil
}

// loadKeys decodes a base64 signing/encryption pair. When required is false
// and both vars are empty it returns nil. Setting only one is an error.
func loadKeys(signingKey, encryptionKey string, required bool) (*handshake.Keys, error) {
	sv, ev := os.Getenv(signingKey), os.Getenv(encryptionKey)
	if sv == "" && ev == "" && !required {
		return nil, nil
	}
	if sv == "" {
		return nil, fmt.Errorf("%s is required", signingKey)
	}
	if ev == "" {
		return nil, fmt.Errorf("%s is required", encryptionKey)
	}

	k := handshake.Keys{}
	var err error
	if k.Signing, err = decodeKey(sv); err != nil {
		return nil, fmt.Errorf("%s: %w", signingKey, err)
	}
	if k.Encryption, err = decodeKey(ev); err != nil {
		return nil, fmt.Errorf("%s: %w", encryptionKey, err)
	}
	if err := k.Validate(); err != nil {
		return nil, fmt.Errorf("%s/%s: %w", signingKey, encryptionKey, err)
	}
	return &k, nil
}

// MinSecretLen is the minimum decoded length of HANDSHAKE_SECRET.
const MinSecretLen = 32

// deriveKeys expands one base64 secret into a key pair with HKDF-SHA256.
// Distinct info strings keep the two keys independent.
func deriveKeys(secret string) (*handshake.Keys, error) {
	ikm, err := decodeKey(secret)
	if err != nil {
		return nil, err
	}
	if len(ikm) < MinSecretLen {
		return nil, fmt.Errorf("must decode to at least %d bytes", MinSecretLen)
	}

	k := handshake.Keys{
		Signing:    make([]byte, handshake.MinSigningKeyLen),
		Encryption: make([]byte, handshake.EncryptionKeyLen),
	}
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, nil, []byte("justlinks handshake signing")), k.Signing); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, nil, []byte("justlinks handshake encryption")), k.Encryption); err != nil {
		return nil, err
	}
	return &k, nil
}

// decodeKey accepts standard or URL-safe base64, padded or not.
func decodeKey(v string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(v); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("not valid base64")
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt reads an env var as int, returning def if missing or unparseable.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// envDuration reads an env var as time.Duration, returning def if missing or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
