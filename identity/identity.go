// Package identity maps ed25519 keys to the participant identities used by auctions.
// An identity is the hex-encoded public key; callers prove it by signing requests.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/cloudx-io/sealedauction/core"
)

// ErrBadSignature is returned when a signature does not verify under the claimed identity.
var ErrBadSignature = errors.New("signature verification failed")

// KeyPair is a participant's signing key.
type KeyPair struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
}

// Generate creates a new random key pair.
func Generate() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}
	return &KeyPair{PrivateKey: priv, PublicKey: pub}, nil
}

// LoadOrGenerate reads a raw 64-byte private key from path, creating one if the file is missing.
func LoadOrGenerate(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("invalid key file %s: expected %d bytes", path, ed25519.PrivateKeySize)
		}
		priv := ed25519.PrivateKey(data)
		return &KeyPair{PrivateKey: priv, PublicKey: priv.Public().(ed25519.PublicKey)}, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	kp, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, kp.PrivateKey, 0o600); err != nil {
		return nil, err
	}
	return kp, nil
}

// Identity returns the identity of the key pair.
func (kp *KeyPair) Identity() core.Identity {
	return FromPublicKey(kp.PublicKey)
}

// Sign signs data with the private key.
func (kp *KeyPair) Sign(data []byte) []byte {
	return ed25519.Sign(kp.PrivateKey, data)
}

// FromPublicKey returns the identity for a public key.
func FromPublicKey(pub ed25519.PublicKey) core.Identity {
	return core.Identity(hex.EncodeToString(pub))
}

// PublicKey decodes the public key behind an identity.
func PublicKey(id core.Identity) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(string(id))
	if err != nil {
		return nil, fmt.Errorf("invalid identity encoding: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid identity length: expected %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// Verify checks that sig is id's signature over data.
func Verify(id core.Identity, data, sig []byte) error {
	pub, err := PublicKey(id)
	if err != nil {
		return err
	}
	if len(sig) != ed25519.SignatureSize || !ed25519.Verify(pub, data, sig) {
		return ErrBadSignature
	}
	return nil
}
