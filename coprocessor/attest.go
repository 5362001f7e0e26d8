package coprocessor

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"

	"github.com/cloudx-io/sealedauction/enclaveapi"
)

// Attester produces NSM attestation documents. The SDK's enclave handle satisfies it.
type Attester interface {
	Attest(options enclave.AttestationOptions) ([]byte, error)
}

// AttestedKeys answers key requests with the engine's keys bound into an attestation.
type AttestedKeys struct {
	engine   *Engine
	attester Attester
}

// NewAttestedKeys creates a KeyResponder that attests the engine's keys with attester.
func NewAttestedKeys(engine *Engine, attester Attester) *AttestedKeys {
	return &AttestedKeys{engine: engine, attester: attester}
}

// KeyResponse returns the engine's public keys together with a fresh attestation over them.
func (k *AttestedKeys) KeyResponse() (*enclaveapi.KeyResponse, error) {
	resp, err := k.engine.KeyResponse()
	if err != nil {
		return nil, err
	}

	attestationCOSE, err := GenerateKeyAttestation(k.attester, resp.PublicKey, resp.OracleKey)
	if err != nil {
		return nil, err
	}

	doc, userDataBytes, err := attestationCOSE.ParseAttestationDoc()
	if err != nil {
		return nil, fmt.Errorf("parse key attestation: %w", err)
	}
	var userData enclaveapi.KeyAttestationUserData
	if err := json.Unmarshal(userDataBytes, &userData); err != nil {
		return nil, fmt.Errorf("parse key attestation user data: %w", err)
	}

	resp.KeyAttestation = &enclaveapi.KeyAttestationDoc{
		AttestationDoc: doc,
		UserData:       &userData,
	}
	resp.AttestationCOSEBase64 = attestationCOSE.EncodeBase64()
	return resp, nil
}

// GenerateKeyAttestation returns raw COSE bytes attesting the sealing key and the oracle key
func GenerateKeyAttestation(attester Attester, publicKeyPEM, oracleKeyPEM string) (enclaveapi.AttestationCOSE, error) {
	if attester == nil {
		return nil, fmt.Errorf("enclave attester is nil")
	}

	keyUserData := &enclaveapi.KeyAttestationUserData{
		KeyAlgorithm: "RSA-2048",
		PublicKey:    publicKeyPEM,
		OracleKey:    oracleKeyPEM,
	}

	userDataBytes, err := json.Marshal(keyUserData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key user data: %w", err)
	}

	randomNonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate attestation nonce: %w", err)
	}

	attestationCBOR, err := attester.Attest(enclave.AttestationOptions{
		UserData: userDataBytes,
		Nonce:    []byte(randomNonce),
	})
	if err != nil {
		log.Printf("ERROR: NSM key attestation failed: %v", err)
		return nil, fmt.Errorf("NSM key attestation failed: %w", err)
	}

	log.Printf("INFO: Key attestation generated: %d bytes", len(attestationCBOR))

	return enclaveapi.AttestationCOSE(attestationCBOR), nil
}

// generateNonce returns 256 bits of hex-encoded randomness.
// Inside an enclave crypto/rand draws from the NSM-seeded kernel pool.
func generateNonce() (string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("entropy generation failed: %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}
