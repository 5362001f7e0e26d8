package disclosure

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/veraison/go-cose"

	"github.com/cloudx-io/sealedauction/core"
)

// Verifier checks disclosure proofs against the oracle public key.
type Verifier struct {
	verifier cose.Verifier
}

var _ core.DecryptionVerifier = (*Verifier)(nil)

// NewVerifier creates a verifier for proofs signed by key.
func NewVerifier(key *ecdsa.PublicKey) (*Verifier, error) {
	verifier, err := cose.NewVerifier(cose.AlgorithmES256, key)
	if err != nil {
		return nil, fmt.Errorf("create COSE verifier: %w", err)
	}
	return &Verifier{verifier: verifier}, nil
}

// NewVerifierFromPEM parses a PEM-encoded oracle key, as published in a key response.
func NewVerifierFromPEM(publicKeyPEM string) (*Verifier, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode oracle key PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse oracle key: %w", err)
	}
	ecdsaKey, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("oracle key is not ECDSA")
	}
	return NewVerifier(ecdsaKey)
}

// Open checks the proof signature and returns the signed statement.
func (v *Verifier) Open(proof []byte) (Statement, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(proof); err != nil {
		return Statement{}, fmt.Errorf("parse COSE_Sign1: %w", err)
	}
	if err := msg.Verify(nil, v.verifier); err != nil {
		return Statement{}, fmt.Errorf("COSE signature verification failed: %w", err)
	}
	return decodeStatement(msg.Payload)
}

// VerifyDecryption reports whether proof is a valid oracle statement that h decrypts to
// plaintext. A malformed or forged proof is reported as false without error.
func (v *Verifier) VerifyDecryption(_ context.Context, h core.Handle, plaintext, proof []byte) (bool, error) {
	if len(proof) == 0 {
		return false, nil
	}

	statement, err := v.Open(proof)
	if err != nil {
		return false, nil
	}

	if !bytes.Equal(statement.Handle, h[:]) {
		return false, nil
	}
	return bytes.Equal(statement.Plaintext, plaintext), nil
}
