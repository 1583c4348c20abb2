package security

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/goliatone/go-cloudauth/core"
)

const defaultKeyID = "app-key"

type Option func(*AppKeyCipher)

// AppKeyCipher seals tokens with AES-GCM under the deployment key. Each
// ciphertext is a self-describing envelope carrying the key id, which is also
// bound as additional data.
type AppKeyCipher struct {
	primary keyEntry
}

type keyEntry struct {
	id      string
	version int
	aead    cipher.AEAD
}

func WithKeyID(id string) Option {
	return func(c *AppKeyCipher) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			c.primary.id = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(c *AppKeyCipher) {
		if version > 0 {
			c.primary.version = version
		}
	}
}

// NewAppKeyCipher builds a cipher from raw key material of 16, 24 or 32 bytes.
func NewAppKeyCipher(keyMaterial []byte, opts ...Option) (*AppKeyCipher, error) {
	aead, err := newAEAD(keyMaterial)
	if err != nil {
		return nil, err
	}
	c := &AppKeyCipher{
		primary: keyEntry{id: defaultKeyID, version: 1, aead: aead},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	return c, nil
}

// NewAppKeyCipherFromString decodes a base64 (standard or URL alphabet) key.
func NewAppKeyCipherFromString(key string, opts ...Option) (*AppKeyCipher, error) {
	material, err := DecodeKey(key)
	if err != nil {
		return nil, err
	}
	return NewAppKeyCipher(material, opts...)
}

// NewAppKeyCipherFromConfig builds the cipher from the encryption section of
// the runtime config.
func NewAppKeyCipherFromConfig(cfg core.EncryptionConfig, opts ...Option) (*AppKeyCipher, error) {
	if strings.TrimSpace(cfg.Key) == "" {
		return nil, core.NewConfigurationError("security: encryption key is not configured")
	}
	return NewAppKeyCipherFromString(cfg.Key, append([]Option{WithKeyID(cfg.KeyID)}, opts...)...)
}

// DecodeKey decodes base64 key material and checks it is a valid AES key size.
func DecodeKey(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, core.NewConfigurationError("security: encryption key is required")
	}
	for _, encoding := range []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	} {
		if decoded, err := encoding.DecodeString(key); err == nil {
			if !validKeySize(len(decoded)) {
				return nil, core.NewConfigurationError("security: encryption key must decode to 16, 24 or 32 bytes, got %d", len(decoded))
			}
			return decoded, nil
		}
	}
	return nil, core.NewConfigurationError("security: encryption key is not valid base64")
}

func (c *AppKeyCipher) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if c == nil {
		return nil, core.NewConfigurationError("security: cipher is nil")
	}

	nonce := make([]byte, c.primary.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}
	sealed := c.primary.aead.Seal(nil, nonce, plaintext, []byte(c.primary.id))
	return encodeEnvelope(envelope{
		KeyID:      c.primary.id,
		Version:    c.primary.version,
		Algorithm:  envelopeAlgorithm,
		Nonce:      encodePayload(nonce),
		Ciphertext: encodePayload(sealed),
	})
}

// Decrypt opens an envelope. Any malformed, tampered or foreign ciphertext is
// reported as an authentication error and never yields partial plaintext.
func (c *AppKeyCipher) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if c == nil {
		return nil, core.NewConfigurationError("security: cipher is nil")
	}
	env, err := decodeEnvelope(ciphertext)
	if err != nil {
		return nil, core.WithCause(core.NewAuthenticationError("security: ciphertext rejected"), err)
	}
	if env.Algorithm != envelopeAlgorithm {
		return nil, core.NewAuthenticationError("security: unsupported envelope algorithm %q", env.Algorithm)
	}
	if env.KeyID != "" && env.KeyID != c.primary.id {
		return nil, core.NewAuthenticationError("security: unknown key id %q", env.KeyID)
	}
	entry := c.primary
	nonce, err := decodePayload("nonce", env.Nonce)
	if err != nil {
		return nil, core.WithCause(core.NewAuthenticationError("security: ciphertext rejected"), err)
	}
	if len(nonce) != entry.aead.NonceSize() {
		return nil, core.NewAuthenticationError("security: invalid nonce size")
	}
	sealed, err := decodePayload("ciphertext", env.Ciphertext)
	if err != nil {
		return nil, core.WithCause(core.NewAuthenticationError("security: ciphertext rejected"), err)
	}
	plaintext, err := entry.aead.Open(nil, nonce, sealed, []byte(entry.id))
	if err != nil {
		return nil, core.WithCause(core.NewAuthenticationError("security: ciphertext failed authentication"), err)
	}
	return plaintext, nil
}

func (c *AppKeyCipher) KeyID() string {
	if c == nil {
		return ""
	}
	return c.primary.id
}

func (c *AppKeyCipher) Version() int {
	if c == nil {
		return 0
	}
	return c.primary.version
}

func newAEAD(keyMaterial []byte) (cipher.AEAD, error) {
	if !validKeySize(len(keyMaterial)) {
		return nil, core.NewConfigurationError("security: key must be 16, 24 or 32 bytes, got %d", len(keyMaterial))
	}
	block, err := aes.NewCipher(keyMaterial)
	if err != nil {
		return nil, core.WithCause(core.NewConfigurationError("security: create cipher"), err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, core.WithCause(core.NewConfigurationError("security: create gcm"), err)
	}
	return aead, nil
}

func validKeySize(size int) bool {
	return size == 16 || size == 24 || size == 32
}

var _ core.Cipher = (*AppKeyCipher)(nil)
