package validation

import (
	"fmt"

	"github.com/cloudx-io/sealedauction/enclaveapi"
)

// validateCommonAttestation performs validation common to all attestation types
// Parses the COSE bytes internally and validates PCRs, certificate chain, and signature
func validateCommonAttestation(attestationCOSEBase64 enclaveapi.AttestationCOSEBase64, opts Options) (*BaseValidationResult, error) {
	coseBytes, err := attestationCOSEBase64.Decode()
	if err != nil {
		return nil, fmt.Errorf("decode COSE bytes: %w", err)
	}

	attestationDoc, _, err := coseBytes.ParseAttestationDoc()
	if err != nil {
		return nil, fmt.Errorf("parse attestation document: %w", err)
	}

	if len(opts.KnownPCRs) == 0 {
		return nil, fmt.Errorf("no known PCR sets configured")
	}

	result := &BaseValidationResult{
		ValidationDetails: []string{},
	}

	pcrMatch, matchedSet := ValidatePCRs(attestationDoc.PCRs, opts.KnownPCRs)
	result.PCRsValid = pcrMatch
	if !pcrMatch {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("PCR0: %s (no match)", attestationDoc.PCRs.ImageFileHash))
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("PCR1: %s (no match)", attestationDoc.PCRs.KernelHash))
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("PCR2: %s (no match)", attestationDoc.PCRs.ApplicationHash))
	} else {
		result.ValidationDetails = append(result.ValidationDetails, "PCR measurements valid")
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Matched PCR set: #%d (commit: %s)",
			matchedSet, opts.KnownPCRs[matchedSet].CommitHash))
	}

	// Validate certificate chain at the attestation timestamp unless overridden
	checkAt := attestationDoc.Timestamp
	if !opts.CurrentTime.IsZero() {
		checkAt = opts.CurrentTime
	}
	if attestationDoc.Certificate == "" {
		result.ValidationDetails = append(result.ValidationDetails, "Missing certificate")
	} else if len(attestationDoc.CABundle) == 0 {
		result.ValidationDetails = append(result.ValidationDetails, "Missing CA bundle")
	} else {
		err = ValidateCertificateChain(attestationDoc.Certificate, attestationDoc.CABundle, checkAt, opts.Roots)
		if err != nil {
			result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Certificate chain validation failed: %v", err))
		} else {
			result.CertificateValid = true
			result.ValidationDetails = append(result.ValidationDetails, "Certificate chain verified")
		}
	}

	if attestationDoc.Certificate != "" {
		err = VerifyCOSESignature(attestationCOSEBase64, attestationDoc.Certificate)
		if err != nil {
			result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("COSE signature verification failed: %v", err))
		} else {
			result.SignatureValid = true
			result.ValidationDetails = append(result.ValidationDetails, "COSE signature verified")
		}
	}

	return result, nil
}
