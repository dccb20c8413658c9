package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

var (
	ErrInvalidKey = errors.New("envelope: key must be 32 bytes")
	ErrInvalidIV  = errors.New("envelope: empty iv")
	ErrMalformed  = errors.New("envelope: malformed envelope")
	ErrOpenFailed = errors.New("envelope: authentication failed")
)

// Envelope is the wire wrapper for encrypted request and response bodies.
// Both fields are base64; Tag is the GCM authentication tag split off from
// the ciphertext so the shape matches what the server expects.
type Envelope struct {
	Payload string `json:"payload"`
	Tag     string `json:"tag"`
}

// IsZero reports whether the envelope carries nothing. Seal returns a zero
// envelope for empty plaintext, and Open accepts one back as "no data".
func (e Envelope) IsZero() bool {
	return e.Payload == "" && e.Tag == ""
}

const tagSize = 16

// Codec seals and opens envelopes with AES-256-GCM. The IV is fixed per
// codec, which means identical plaintexts produce identical ciphertexts;
// the layer is defense-in-depth behind TLS, not the confidentiality
// boundary. Use SessionCodec to at least bind the key to one session.
type Codec struct {
	aead cipher.AEAD
	iv   []byte
	key  []byte
}

func NewCodec(keyB64, ivB64 string) (*Codec, error) {
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil || len(key) != 32 {
		return nil, ErrInvalidKey
	}
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil || len(iv) == 0 {
		return nil, ErrInvalidIV
	}
	return newCodec(key, iv)
}

func newCodec(key, iv []byte) (*Codec, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrInvalidKey
	}
	aead, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return nil, ErrInvalidIV
	}
	return &Codec{aead: aead, iv: iv, key: key}, nil
}

// SessionCodec derives a codec whose key is bound to a per-session secret,
// so ciphertexts from different sessions are not comparable even though the
// IV stays fixed. The wire shape is unchanged.
func (c *Codec) SessionCodec(secret string) (*Codec, error) {
	if secret == "" {
		return c, nil
	}
	sum := sha256.Sum256(append(append([]byte{}, c.key...), secret...))
	return newCodec(sum[:], c.iv)
}

// Seal encrypts plaintext into an envelope. Empty plaintext yields a zero
// envelope, meaning "nothing to send"; callers must not treat that as an
// error.
func (c *Codec) Seal(plaintext string) (Envelope, error) {
	if plaintext == "" {
		return Envelope{}, nil
	}
	sealed := c.aead.Seal(nil, c.iv, []byte(plaintext), nil)
	n := len(sealed) - tagSize
	return Envelope{
		Payload: base64.StdEncoding.EncodeToString(sealed[:n]),
		Tag:     base64.StdEncoding.EncodeToString(sealed[n:]),
	}, nil
}

// Open decrypts an envelope. A zero envelope opens to empty plaintext with
// no error; a tampered or malformed one returns ErrOpenFailed or
// ErrMalformed so "no data" and "bad data" stay distinguishable.
func (c *Codec) Open(env Envelope) (string, error) {
	if env.IsZero() {
		return "", nil
	}
	if env.Payload == "" || env.Tag == "" {
		return "", ErrMalformed
	}
	payload, err := base64.StdEncoding.DecodeString(env.Payload)
	if err != nil {
		return "", ErrMalformed
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil || len(tag) != tagSize {
		return "", ErrMalformed
	}
	plain, err := c.aead.Open(nil, c.iv, append(payload, tag...), nil)
	if err != nil {
		return "", ErrOpenFailed
	}
	return string(plain), nil
}
