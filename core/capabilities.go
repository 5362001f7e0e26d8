package core

import (
	"context"
	"time"
)

// Ledger moves plaintext collateral. Transfers are scoped to the enclosing operation's
// transaction: if the operation fails, the host discards them.
type Ledger interface {
	// Transfer moves amount from one account to another. Returns an error wrapping
	// ErrInsufficientFunds when from cannot cover amount.
	Transfer(ctx context.Context, from, to Account, amount Amount) error
}

// Coprocessor evaluates operations over encrypted values referenced by handles.
type Coprocessor interface {
	// Encrypt imports a sealed ciphertext and returns a handle to the encrypted integer.
	Encrypt(ctx context.Context, ciphertext []byte) (Handle, error)

	// GreaterOrEqual returns a handle to the encrypted boolean a >= b.
	GreaterOrEqual(ctx context.Context, a, b Handle) (Handle, error)

	// Select returns a handle to cond ? a : b without decrypting any operand.
	Select(ctx context.Context, cond, a, b Handle) (Handle, error)

	// Allow lets viewer obtain an attested decryption of h.
	Allow(ctx context.Context, h Handle, viewer Identity) error
}

// DecryptionVerifier checks an attested decryption produced outside the auction.
type DecryptionVerifier interface {
	// VerifyDecryption reports whether proof attests that h decrypts to plaintext.
	VerifyDecryption(ctx context.Context, h Handle, plaintext, proof []byte) (bool, error)
}

// Clock returns the current time. It is injected so deadlines can be tested.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Env bundles the capabilities a core operation may use. The host builds one per transaction.
type Env struct {
	Ledger      Ledger
	Coprocessor Coprocessor
	Verifier    DecryptionVerifier
	Now         time.Time
}
