package disclosure

import (
	"context"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedauction/core"
)

var issued = time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)

func testHandle(b byte) core.Handle {
	var h core.Handle
	h[0] = b
	h[15] = b
	return h
}

func newPair(t *testing.T) (*Signer, *Verifier) {
	t.Helper()
	signer, err := GenerateSigner()
	assert.NoError(t, err)
	verifier, err := NewVerifier(signer.PublicKey())
	assert.NoError(t, err)
	return signer, verifier
}

func TestSignAndVerify(t *testing.T) {
	signer, verifier := newPair(t)
	h := testHandle(1)

	proof, err := signer.Sign(NewStatement(h, []byte("1"), "alice", issued))
	assert.NoError(t, err)

	ok, err := verifier.VerifyDecryption(context.Background(), h, []byte("1"), proof)
	assert.NoError(t, err)
	check.True(t, ok)

	statement, err := verifier.Open(proof)
	assert.NoError(t, err)
	check.Equal(t, "alice", statement.Viewer)
	check.Equal(t, issued.Unix(), statement.IssuedAt)
	decoded, err := statement.HandleValue()
	assert.NoError(t, err)
	check.Equal(t, h, decoded)
}

func TestVerifyDecryption_Rejects(t *testing.T) {
	signer, verifier := newPair(t)
	ctx := context.Background()
	h := testHandle(1)

	proof, err := signer.Sign(NewStatement(h, []byte("0"), "alice", issued))
	assert.NoError(t, err)

	// Different plaintext
	ok, err := verifier.VerifyDecryption(ctx, h, []byte("1"), proof)
	assert.NoError(t, err)
	check.False(t, ok)

	// Different handle
	ok, err = verifier.VerifyDecryption(ctx, testHandle(2), []byte("0"), proof)
	assert.NoError(t, err)
	check.False(t, ok)

	// Empty and garbage proofs
	ok, err = verifier.VerifyDecryption(ctx, h, []byte("0"), nil)
	assert.NoError(t, err)
	check.False(t, ok)

	ok, err = verifier.VerifyDecryption(ctx, h, []byte("0"), []byte("garbage"))
	assert.NoError(t, err)
	check.False(t, ok)

	// Tampered signature
	tampered := append([]byte(nil), proof...)
	tampered[len(tampered)-1] ^= 0xff
	ok, err = verifier.VerifyDecryption(ctx, h, []byte("0"), tampered)
	assert.NoError(t, err)
	check.False(t, ok)
}

func TestVerifyDecryption_WrongOracle(t *testing.T) {
	signer, _ := newPair(t)
	_, otherVerifier := newPair(t)
	h := testHandle(3)

	proof, err := signer.Sign(NewStatement(h, []byte("1"), "alice", issued))
	assert.NoError(t, err)

	ok, err := otherVerifier.VerifyDecryption(context.Background(), h, []byte("1"), proof)
	assert.NoError(t, err)
	check.False(t, ok)
}

func TestNewVerifierFromPEM(t *testing.T) {
	signer, _ := newPair(t)

	pemStr, err := signer.PublicKeyPEM()
	assert.NoError(t, err)

	verifier, err := NewVerifierFromPEM(pemStr)
	assert.NoError(t, err)

	h := testHandle(4)
	proof, err := signer.Sign(NewStatement(h, []byte("42"), "bob", issued))
	assert.NoError(t, err)

	ok, err := verifier.VerifyDecryption(context.Background(), h, []byte("42"), proof)
	assert.NoError(t, err)
	check.True(t, ok)

	_, err = NewVerifierFromPEM("not pem")
	check.Error(t, err)
}
