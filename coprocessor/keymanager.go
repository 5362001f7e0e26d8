package coprocessor

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"

	"github.com/cloudx-io/sealedauction/enclaveapi"
)

// maxValue is the exclusive upper bound of an encrypted integer (u128)
var maxValue = new(big.Int).Lsh(big.NewInt(1), 128)

// KeyManager holds the RSA key pair bidders seal amounts to
type KeyManager struct {
	privateKey *rsa.PrivateKey // Keep private - sensitive!
	PublicKey  *rsa.PublicKey
}

// NewKeyManager creates a new KeyManager and generates a fresh RSA key pair
func NewKeyManager() (*KeyManager, error) {
	privateKey, err := GenerateRSAKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	return &KeyManager{
		privateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
	}, nil
}

// PublicKeyPEM returns the public key in PEM format
func (km *KeyManager) PublicKeyPEM() (string, error) {
	return PublicKeyToPEM(km.PublicKey)
}

// PublicKeyToPEM converts an RSA public key to PEM format
func PublicKeyToPEM(publicKey *rsa.PublicKey) (string, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	pemBlock := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: derBytes,
	}

	return string(pem.EncodeToMemory(pemBlock)), nil
}

// ParsePublicKeyPEM parses a PEM-encoded RSA public key as published in a key response
func ParsePublicKeyPEM(publicKeyPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode public key PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return rsaKey, nil
}

// DecryptAmount opens a sealed amount and returns its value
func (km *KeyManager) DecryptAmount(ciphertext []byte) (*big.Int, error) {
	var sealed enclaveapi.EncryptedAmount
	if err := json.Unmarshal(ciphertext, &sealed); err != nil {
		return nil, fmt.Errorf("failed to decode sealed amount: %w", err)
	}

	plaintext, err := DecryptHybrid(sealed.AESKeyEncrypted, sealed.EncryptedPayload, sealed.Nonce,
		km.privateKey, HashAlgorithm(sealed.HashAlgorithm))
	if err != nil {
		return nil, err
	}

	var payload enclaveapi.AmountPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode amount payload: %w", err)
	}

	value, ok := new(big.Int).SetString(payload.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", payload.Amount)
	}
	if value.Sign() < 0 || value.Cmp(maxValue) >= 0 {
		return nil, fmt.Errorf("amount %s out of range", payload.Amount)
	}
	return value, nil
}
