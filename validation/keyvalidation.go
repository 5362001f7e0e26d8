package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudx-io/sealedauction/enclaveapi"
)

// ValidateKeyAttestation validates a TEE key attestation from COSE bytes
//
// Parameters:
//   - attestationCOSEBase64: Base64-encoded COSE_Sign1 bytes from KeyResponse.AttestationCOSEBase64
//   - expectedPublicKey: PEM sealing key to validate (from KeyResponse.PublicKey)
//   - expectedOracleKey: PEM proof-signing key to validate (from KeyResponse.OracleKey)
//
// Returns:
//   - KeyValidationResult with detailed results (call result.IsValid() to check overall status)
//   - error if validation cannot be performed (e.g., malformed input, missing config)
func ValidateKeyAttestation(attestationCOSEBase64 enclaveapi.AttestationCOSEBase64, expectedPublicKey, expectedOracleKey string, opts Options) (*KeyValidationResult, error) {
	baseResult, err := validateCommonAttestation(attestationCOSEBase64, opts)
	if err != nil {
		return nil, err
	}

	keyAttestation, err := parseKeyAttestationFromCOSE(attestationCOSEBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse attestation from attestation_cose_base64: %w", err)
	}

	result := &KeyValidationResult{
		BaseValidationResult: *baseResult,
	}

	userData := keyAttestation.UserData
	result.PublicKeyMatch = matchKey(result, "Public key", expectedPublicKey, userData.PublicKey)
	result.OracleKeyMatch = matchKey(result, "Oracle key", expectedOracleKey, userData.OracleKey)
	result.AttestedOracleKey = userData.OracleKey

	return result, nil
}

// ValidateKeyResponse validates the attestation carried by a key response against the keys
// the same response advertises.
func ValidateKeyResponse(resp *enclaveapi.KeyResponse, opts Options) (*KeyValidationResult, error) {
	if resp == nil || resp.AttestationCOSEBase64 == "" {
		return nil, fmt.Errorf("missing attestation_cose_base64 field in key response")
	}
	return ValidateKeyAttestation(resp.AttestationCOSEBase64, resp.PublicKey, resp.OracleKey, opts)
}

// matchKey compares a provided PEM key with the attested one, ignoring surrounding whitespace
func matchKey(result *KeyValidationResult, name, provided, attested string) bool {
	attested = strings.TrimSpace(attested)
	switch {
	case attested == "":
		result.ValidationDetails = append(result.ValidationDetails, name+" missing from attestation")
		return false
	case strings.TrimSpace(provided) == attested:
		result.ValidationDetails = append(result.ValidationDetails, name+" matches attestation")
		return true
	default:
		result.ValidationDetails = append(result.ValidationDetails, name+" mismatch: provided key does not match attested key")
		return false
	}
}

// parseKeyAttestationFromCOSE parses a KeyAttestationDoc from base64-encoded COSE bytes
func parseKeyAttestationFromCOSE(attestationCOSEB64 enclaveapi.AttestationCOSEBase64) (*enclaveapi.KeyAttestationDoc, error) {
	coseBytes, err := attestationCOSEB64.Decode()
	if err != nil {
		return nil, fmt.Errorf("decode COSE bytes: %w", err)
	}

	attestationDoc, userDataBytes, err := coseBytes.ParseAttestationDoc()
	if err != nil {
		return nil, fmt.Errorf("parse attestation document: %w", err)
	}

	var keyUserData enclaveapi.KeyAttestationUserData
	if len(userDataBytes) > 0 {
		if err := json.Unmarshal(userDataBytes, &keyUserData); err != nil {
			return nil, fmt.Errorf("parse user data: %w", err)
		}
	}

	return &enclaveapi.KeyAttestationDoc{
		AttestationDoc: attestationDoc,
		UserData:       &keyUserData,
	}, nil
}
