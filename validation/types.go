package validation

import (
	"crypto/x509"
	"time"
)

// BaseValidationResult contains common validation results for all attestation types
type BaseValidationResult struct {
	PCRsValid         bool
	CertificateValid  bool
	SignatureValid    bool
	ValidationDetails []string
}

// IsValid returns true if the attestation itself checks out
func (r *BaseValidationResult) IsValid() bool {
	return r.PCRsValid && r.CertificateValid && r.SignatureValid
}

// KeyValidationResult contains validation results specific to key attestations
type KeyValidationResult struct {
	BaseValidationResult
	PublicKeyMatch bool
	OracleKeyMatch bool

	// AttestedOracleKey is the PEM oracle key taken from the attestation user data
	AttestedOracleKey string
}

// IsValid returns true if all key validation checks passed
func (r *KeyValidationResult) IsValid() bool {
	return r.BaseValidationResult.IsValid() && r.PublicKeyMatch && r.OracleKeyMatch
}

// PCRSet represents a known-good set of PCR measurements
type PCRSet struct {
	PCR0       string `json:"pcr0" yaml:"pcr0"`
	PCR1       string `json:"pcr1" yaml:"pcr1"`
	PCR2       string `json:"pcr2" yaml:"pcr2"`
	CommitHash string `json:"commit_hash" yaml:"commit_hash"` // sealedauction commit used to build the enclave image
}

// PCRConfig represents the PCR configuration file structure
type PCRConfig struct {
	PCRSets []PCRSet `json:"pcr_sets"`
}

// Options configure attestation validation
type Options struct {
	// KnownPCRs are the accepted enclave measurements
	KnownPCRs []PCRSet

	// Roots replaces the AWS Nitro root CA. Nil uses the AWS root.
	Roots *x509.CertPool

	// CurrentTime is the time the certificate chain is checked at. Zero uses the attestation timestamp.
	CurrentTime time.Time
}
