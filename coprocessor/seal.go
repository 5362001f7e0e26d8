package coprocessor

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/cloudx-io/sealedauction/enclaveapi"
)

// SealAmount encrypts a bid amount to the coprocessor's public key.
// The result is the ciphertext a bidder submits with a bid.
func SealAmount(amount *big.Int, publicKey *rsa.PublicKey) ([]byte, error) {
	return SealAmountWithHash(amount, publicKey, HashAlgorithmSHA256)
}

// SealAmountWithHash is SealAmount with an explicit RSA-OAEP hash
func SealAmountWithHash(amount *big.Int, publicKey *rsa.PublicKey, hashAlg HashAlgorithm) ([]byte, error) {
	if amount.Sign() < 0 || amount.Cmp(maxValue) >= 0 {
		return nil, fmt.Errorf("amount %s out of range", amount)
	}

	payload, err := json.Marshal(enclaveapi.AmountPayload{Amount: amount.String()})
	if err != nil {
		return nil, fmt.Errorf("failed to encode amount payload: %w", err)
	}

	result, err := EncryptHybridWithHash(payload, publicKey, hashAlg)
	if err != nil {
		return nil, err
	}

	sealed, err := json.Marshal(enclaveapi.EncryptedAmount{
		AESKeyEncrypted:  result.EncryptedAESKey,
		EncryptedPayload: result.EncryptedPayload,
		Nonce:            result.Nonce,
		HashAlgorithm:    string(hashAlg),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode sealed amount: %w", err)
	}
	return sealed, nil
}
