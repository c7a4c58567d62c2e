package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/nacl/box"
)

// GenerateSymmetricKey returns a fresh 32-byte content-encryption key.
func GenerateSymmetricKey() ([]byte, error) {
	key := make([]byte, keyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// KeyPair is an asymmetric tenant key pair (NaCl box, X25519).
type KeyPair struct {
	PublicKey  []byte
	PrivateKey []byte
}

// GenerateKeyPair creates a new tenant key pair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{PublicKey: pub[:], PrivateKey: priv[:]}, nil
}

// Fingerprint returns a short base58 digest of a public key, suitable for
// logging and key identification.
func Fingerprint(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return base58.Encode(sum[:16])
}

// EncodeKey renders key bytes for storage.
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// DecodeKey parses a stored key.
func DecodeKey(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}
