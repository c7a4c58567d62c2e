// Package vault encrypts tenant-scoped secrets at rest. Secrets are sealed
// with AES-256-GCM under a per-tenant symmetric key; that key is itself
// sealed under a process-wide root secret, so a leaked tenant key only
// exposes that tenant's material.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	keyLen   = 32
	nonceLen = 12
	tagLen   = 16
)

// ErrCorruptedSecret indicates the ciphertext or auth tag failed verification.
// Unwrap never returns altered plaintext.
var ErrCorruptedSecret = errors.New("vault: corrupted secret")

// SealedSecret is the at-rest form of an encrypted value. All fields are
// standard base64. Zero value means "nothing stored".
type SealedSecret struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	Tag        string `json:"tag"`
}

// IsZero reports whether no secret is stored.
func (s SealedSecret) IsZero() bool {
	return s.Ciphertext == "" && s.IV == "" && s.Tag == ""
}

// Wrap encrypts plaintext under a 32-byte symmetric key.
func Wrap(key, plaintext []byte) (SealedSecret, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return SealedSecret{}, err
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return SealedSecret{}, err
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	// GCM appends the tag; persist it separately.
	ct, tag := sealed[:len(sealed)-tagLen], sealed[len(sealed)-tagLen:]
	return SealedSecret{
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
		IV:         base64.StdEncoding.EncodeToString(nonce),
		Tag:        base64.StdEncoding.EncodeToString(tag),
	}, nil
}

// Unwrap decrypts a sealed secret. Any tampering with ciphertext, IV, or tag
// yields ErrCorruptedSecret.
func Unwrap(key []byte, s SealedSecret) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	ct, err := base64.StdEncoding.DecodeString(s.Ciphertext)
	if err != nil {
		return nil, ErrCorruptedSecret
	}
	nonce, err := base64.StdEncoding.DecodeString(s.IV)
	if err != nil || len(nonce) != nonceLen {
		return nil, ErrCorruptedSecret
	}
	tag, err := base64.StdEncoding.DecodeString(s.Tag)
	if err != nil || len(tag) != tagLen {
		return nil, ErrCorruptedSecret
	}
	plaintext, err := gcm.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return nil, ErrCorruptedSecret
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != keyLen {
		return nil, fmt.Errorf("vault: key must be %d bytes, got %d", keyLen, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Root wraps and unwraps tenant symmetric keys under the process root secret.
// The root key is derived once from the configured secret string.
type Root struct {
	key []byte
}

// NewRoot derives a root key from the configured root secret.
func NewRoot(secret string) (*Root, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("vault: empty root secret")
	}
	sum := sha256.Sum256([]byte(secret))
	return &Root{key: sum[:]}, nil
}

// Seal encrypts plaintext directly under the root key. Used for tenant key
// material only; tenant-scoped secrets go through Wrap with the tenant key.
func (r *Root) Seal(plaintext []byte) (SealedSecret, error) {
	return Wrap(r.key, plaintext)
}

// Open decrypts a root-sealed secret.
func (r *Root) Open(s SealedSecret) ([]byte, error) {
	return Unwrap(r.key, s)
}
