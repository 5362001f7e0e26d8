package validation

import (
	"bytes"
	"fmt"
	"time"

	"github.com/cloudx-io/sealedauction/core"
	"github.com/cloudx-io/sealedauction/disclosure"
	"github.com/cloudx-io/sealedauction/enclaveapi"
)

// ProofValidationInput contains everything needed to check a decryption proof end to end
type ProofValidationInput struct {
	KeyResponse *enclaveapi.KeyResponse // attested source of the oracle key
	Proof       []byte                  // COSE_Sign1 disclosure proof
	Handle      core.Handle             // handle the proof must cover
	Plaintext   []byte                  // claimed plaintext
	Viewer      core.Identity           // optional: identity the decryption was issued to
}

// ProofValidationResult contains validation results for a decryption proof
type ProofValidationResult struct {
	KeyValidationResult
	ProofSignatureValid bool
	HandleMatch         bool
	PlaintextMatch      bool
	ViewerMatch         bool

	Viewer   core.Identity
	IssuedAt time.Time
}

// IsValid returns true if the oracle key is attested and the proof binds the handle to the plaintext
func (r *ProofValidationResult) IsValid() bool {
	return r.KeyValidationResult.IsValid() && r.ProofSignatureValid && r.HandleMatch &&
		r.PlaintextMatch && r.ViewerMatch
}

// ValidateDecryptionProof validates a disclosure proof against the oracle key attested by the enclave.
// The proof is checked with the key from the attestation user data, not the unauthenticated
// OracleKey field of the response.
func ValidateDecryptionProof(input *ProofValidationInput, opts Options) (*ProofValidationResult, error) {
	if input == nil || input.KeyResponse == nil {
		return nil, fmt.Errorf("missing key response")
	}

	keyResult, err := ValidateKeyResponse(input.KeyResponse, opts)
	if err != nil {
		return nil, err
	}

	result := &ProofValidationResult{
		KeyValidationResult: *keyResult,
	}

	if keyResult.AttestedOracleKey == "" {
		result.ValidationDetails = append(result.ValidationDetails, "No attested oracle key to verify the proof with")
		return result, nil
	}

	verifier, err := disclosure.NewVerifierFromPEM(keyResult.AttestedOracleKey)
	if err != nil {
		return nil, fmt.Errorf("load attested oracle key: %w", err)
	}

	statement, err := verifier.Open(input.Proof)
	if err != nil {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Proof signature verification failed: %v", err))
		return result, nil
	}
	result.ProofSignatureValid = true
	result.ValidationDetails = append(result.ValidationDetails, "Proof signed by attested oracle key")

	result.Viewer = core.Identity(statement.Viewer)
	result.IssuedAt = time.Unix(statement.IssuedAt, 0).UTC()

	handle, err := statement.HandleValue()
	if err == nil && handle == input.Handle {
		result.HandleMatch = true
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Handle matches: %s", handle))
	} else {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Handle mismatch: proof covers %x, expected %s", statement.Handle, input.Handle))
	}

	if bytes.Equal(statement.Plaintext, input.Plaintext) {
		result.PlaintextMatch = true
		result.ValidationDetails = append(result.ValidationDetails, "Plaintext matches")
	} else {
		result.ValidationDetails = append(result.ValidationDetails, "Plaintext mismatch")
	}

	if input.Viewer == "" || input.Viewer == result.Viewer {
		result.ViewerMatch = true
	} else {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Viewer mismatch: proof issued to %s", result.Viewer))
	}

	return result, nil
}
