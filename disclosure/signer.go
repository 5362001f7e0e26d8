package disclosure

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/veraison/go-cose"
)

// Signer issues disclosure proofs with the oracle key.
type Signer struct {
	key    *ecdsa.PrivateKey
	signer cose.Signer
}

// NewSigner wraps an existing P-256 key.
func NewSigner(key *ecdsa.PrivateKey) (*Signer, error) {
	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	if err != nil {
		return nil, fmt.Errorf("create COSE signer: %w", err)
	}
	return &Signer{key: key, signer: signer}, nil
}

// GenerateSigner creates a signer with a fresh P-256 key.
// In a TEE environment, crypto/rand uses NSM-enhanced entropy
func GenerateSigner() (*Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate oracle key: %w", err)
	}
	return NewSigner(key)
}

// PublicKey returns the oracle verification key.
func (s *Signer) PublicKey() *ecdsa.PublicKey {
	return &s.key.PublicKey
}

// PublicKeyPEM returns the oracle verification key in PEM format
func (s *Signer) PublicKeyPEM() (string, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(&s.key.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal oracle key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: derBytes})), nil
}

// Sign returns the COSE_Sign1 encoding of the signed statement.
func (s *Signer) Sign(statement Statement) ([]byte, error) {
	payload, err := statement.encode()
	if err != nil {
		return nil, err
	}

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	msg.Payload = payload

	if err := msg.Sign(rand.Reader, nil, s.signer); err != nil {
		return nil, fmt.Errorf("sign statement: %w", err)
	}

	proof, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("marshal COSE_Sign1: %w", err)
	}
	return proof, nil
}
