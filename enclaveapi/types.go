package enclaveapi

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"time"

	"github.com/cloudx-io/sealedauction/core"
)

// Request types understood by the coprocessor
const (
	RequestTypePing           = "ping"
	RequestTypeKey            = "key_request"
	RequestTypeEncrypt        = "encrypt"
	RequestTypeGreaterOrEqual = "ge"
	RequestTypeSelect         = "select"
	RequestTypeAllow          = "allow"
	RequestTypeDecrypt        = "decrypt"
)

// Response types returned by the coprocessor
const (
	ResponseTypePong   = "pong"
	ResponseTypeKey    = "key_response"
	ResponseTypeResult = "result"
	ResponseTypeError  = "error"
)

// EncryptedAmount represents a bid amount sealed with RSA-OAEP/AES-256-GCM.
// Bidders encrypt amounts using the coprocessor's attested public key, ensuring that amounts
// are only ever decrypted inside the TEE.
type EncryptedAmount struct {
	AESKeyEncrypted  string `json:"aes_key_encrypted"`        // base64-encoded RSA-OAEP encrypted AES key
	EncryptedPayload string `json:"encrypted_payload"`        // base64-encoded AES-GCM encrypted {"amount": "X"}
	Nonce            string `json:"nonce"`                    // base64-encoded GCM nonce (12 bytes)
	HashAlgorithm    string `json:"hash_algorithm,omitempty"` // Optional: "SHA-256" (default) or "SHA-1" for RSA-OAEP
}

// AmountPayload is the plaintext sealed inside EncryptedAmount.EncryptedPayload.
// Amount is a base-10 unsigned integer below 2^128.
type AmountPayload struct {
	Amount string `json:"amount"`
}

// CoprocessorRequest is a single request to the coprocessor. Which fields are set depends on Type.
type CoprocessorRequest struct {
	Type string `json:"type"`

	// encrypt
	Ciphertext []byte `json:"ciphertext,omitempty"`

	// ge (A >= B), select (Cond ? A : B), allow, decrypt
	A      core.Handle `json:"a"`
	B      core.Handle `json:"b"`
	Cond   core.Handle `json:"cond"`
	Handle core.Handle `json:"handle"`

	// allow, decrypt
	Viewer core.Identity `json:"viewer,omitempty"`

	// decrypt: viewer's ed25519 signature over DecryptChallenge(Handle)
	Signature []byte `json:"signature,omitempty"`
}

// CoprocessorResponse is the reply to a CoprocessorRequest.
type CoprocessorResponse struct {
	Type    string      `json:"type"`
	Message string      `json:"message,omitempty"`
	Code    string      `json:"code,omitempty"` // machine-readable error kind
	Handle  core.Handle `json:"handle"`

	// decrypt
	Plaintext []byte `json:"plaintext,omitempty"`
	Proof     []byte `json:"proof,omitempty"`
}

// DecryptChallenge is the message a viewer signs to request a decryption of h.
func DecryptChallenge(h core.Handle) []byte {
	return []byte("decrypt:" + h.String())
}

// PCRs represents the Platform Configuration Registers from AWS Nitro Enclaves
type PCRs struct {
	// PCR0: Hash of the Enclave Image File (EIF)
	ImageFileHash string `json:"0"`

	// PCR1: Hash of the Linux kernel and initial RAM data (initramfs)
	KernelHash string `json:"1"`

	// PCR2: Hash of user applications, excluding the boot ramfs
	ApplicationHash string `json:"2"`

	// PCR3: Hash of the IAM role assigned to the parent instance
	IAMRoleHash string `json:"3"`

	// PCR4: Hash of the parent instance's ID
	InstanceIDHash string `json:"4"`

	// PCR8: Hash of the enclave image file's signing certificate
	SigningCertHash string `json:"8,omitempty"`
}

// AttestationDoc represents the base structured attestation data from AWS Nitro Enclaves
type AttestationDoc struct {
	// Module ID identifies the enclave
	ModuleID string `json:"module_id"`

	// Timestamp when the attestation was generated
	Timestamp time.Time `json:"timestamp"`

	// Digest algorithm used (e.g., "SHA384")
	DigestAlgorithm string `json:"digest"`

	// PCRs (Platform Configuration Registers) containing measurements
	PCRs PCRs `json:"pcrs"`

	// Certificate containing the attestation signature
	Certificate string `json:"certificate"`

	// Cabundle for certificate chain validation
	CABundle []string `json:"cabundle"`

	// Public key used for attestation
	PublicKey string `json:"public_key"`

	// Nonce for replay protection
	Nonce string `json:"nonce"`
}

// KeyAttestationDoc represents attestation specifically for key distribution
type KeyAttestationDoc struct {
	AttestationDoc
	// User data embedded in the attestation (key metadata)
	UserData *KeyAttestationUserData `json:"user_data"`
}

// URLEncode encodes attestation for URLs
func (a *AttestationDoc) URLEncode() string {
	data, _ := json.Marshal(a)
	return url.QueryEscape(base64.StdEncoding.EncodeToString(data))
}

// KeyResponse represents the response from a key request to the coprocessor
type KeyResponse struct {
	Type                  string                `json:"type"`
	PublicKey             string                `json:"public_key"` // PEM format, RSA key for sealing bid amounts
	OracleKey             string                `json:"oracle_key"` // PEM format, ECDSA P-256 key signing decryption proofs
	TEEInstanceIP         string                `json:"tee_instance_ip,omitempty"`
	KeyAttestation        *KeyAttestationDoc    `json:"key_attestation,omitempty"`
	AttestationCOSEBase64 AttestationCOSEBase64 `json:"attestation_cose_base64,omitempty"`
}

// KeyAttestationUserData represents the key-specific data embedded in key attestation
type KeyAttestationUserData struct {
	KeyAlgorithm string `json:"key_algorithm"` // e.g., "RSA-2048"
	PublicKey    string `json:"public_key"`    // PEM-encoded sealing key
	OracleKey    string `json:"oracle_key"`    // PEM-encoded decryption proof key
}
