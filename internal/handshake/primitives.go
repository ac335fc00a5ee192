// primitives.go -- JWS/JWE building blocks for handshake tokens.
//
// Signing is HS256 only; encryption is A256GCMKW key-wrap with A256GCM content
// encryption. Parsers are given explicit algorithm allow-lists so an attacker
// controlled header can never select "none" or a different algorithm.
package handshake

import (
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// MinSigningKeyLen is the minimum HS256 key size in bytes.
const MinSigningKeyLen = 32

// EncryptionKeyLen is the exact A256GCMKW key size in bytes.
const EncryptionKeyLen = 32

var (
	// ErrSigningKey is returned by Sign when key material is missing or too short.
	ErrSigningKey = errors.New("handshake: invalid signing key")

	// ErrEncryptionKey is returned by Encrypt when the key is not 32 bytes.
	ErrEncryptionKey = errors.New("handshake: invalid encryption key")

	// ErrInvalidSignature covers every JWS parse or verification failure.
	ErrInvalidSignature = errors.New("handshake: invalid signature")

	// ErrInvalidCiphertext covers every JWE parse or decryption failure.
	// Wrong key and tampered ciphertext are deliberately indistinguishable.
	ErrInvalidCiphertext = errors.New("handshake: invalid ciphertext")
)

var (
	signatureAlgorithms = []jose.SignatureAlgorithm{jose.HS256}
	keyAlgorithms       = []jose.KeyAlgorithm{jose.A256GCMKW}
	contentAlgorithms   = []jose.ContentEncryption{jose.A256GCM}
)

// Sign serializes claims into a compact HS256 JWS. Each claims value is merged
// into the payload in order (e.g. jwt.Claims plus a private claims struct).
func Sign(key []byte, claims ...any) (string, error) {
	if len(key) < MinSigningKeyLen {
		return "", ErrSigningKey
	}
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigningKey, err)
	}

	builder := jwt.Signed(signer)
	for _, c := range claims {
		builder = builder.Claims(c)
	}
	signed, err := builder.Serialize()
	if err != nil {
		return "", fmt.Errorf("signing claims: %w", err)
	}
	return signed, nil
}

// Encrypt wraps a signed token in a compact JWE. The content-encryption key and
// nonce are drawn fresh on every call, so equal inputs never produce equal output.
func Encrypt(key []byte, signed string) (string, error) {
	if len(key) != EncryptionKeyLen {
		return "", ErrEncryptionKey
	}
	enc, err := jose.NewEncrypter(
		jose.A256GCM,
		jose.Recipient{Algorithm: jose.A256GCMKW, Key: key},
		(&jose.EncrypterOptions{}).WithContentType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionKey, err)
	}

	obj, err := enc.Encrypt([]byte(signed))
	if err != nil {
		return "", fmt.Errorf("encrypting token: %w", err)
	}
	out, err := obj.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("serializing token: %w", err)
	}
	return out, nil
}

// Decrypt opens a compact JWE and returns the inner signed token.
// Any failure, including a wrong key, is reported as ErrInvalidCiphertext.
func Decrypt(key []byte, token string) (string, error) {
	if len(key) != EncryptionKeyLen {
		return "", ErrInvalidCiphertext
	}
	obj, err := jose.ParseEncrypted(token, keyAlgorithms, contentAlgorithms)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	plain, err := obj.Decrypt(key)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plain), nil
}

// Verify checks an HS256 JWS and unmarshals its payload into each out value.
// Tokens declaring any other algorithm are rejected before the key is used.
func Verify(key []byte, signed string, out ...any) error {
	if len(key) < MinSigningKeyLen {
		return ErrInvalidSignature
	}
	tok, err := jwt.ParseSigned(signed, signatureAlgorithms)
	if err != nil {
		return ErrInvalidSignature
	}
	if err := tok.Claims(key, out...); err != nil {
		return ErrInvalidSignature
	}
	return nil
}
