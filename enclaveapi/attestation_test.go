package enclaveapi

import (
	"testing"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedauction/core"
	"github.com/cloudx-io/sealedauction/enclaveapi/nitrotest"
)

func TestAttestationCOSE_ParseAttestationDoc(t *testing.T) {
	attester, err := nitrotest.New("parse-test")
	assert.NoError(t, err)
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	attester.Now = func() time.Time { return issued }

	raw, err := attester.Attest(enclave.AttestationOptions{
		UserData: []byte(`{"key_algorithm":"RSA-2048"}`),
		Nonce:    []byte("nonce-1"),
	})
	assert.NoError(t, err)

	doc, userData, err := AttestationCOSE(raw).ParseAttestationDoc()
	assert.NoError(t, err)

	check.Equal(t, nitrotest.ModuleID, doc.ModuleID)
	check.Equal(t, "SHA384", doc.DigestAlgorithm)
	check.True(t, doc.Timestamp.Equal(issued))
	check.Equal(t, attester.PCR(0), doc.PCRs.ImageFileHash)
	check.Equal(t, attester.PCR(1), doc.PCRs.KernelHash)
	check.Equal(t, attester.PCR(2), doc.PCRs.ApplicationHash)
	check.Equal(t, attester.PCR(8), doc.PCRs.SigningCertHash)
	check.Equal(t, 96, len(doc.PCRs.ImageFileHash))
	check.Equal(t, 1, len(doc.CABundle))
	check.NotEqual(t, "", doc.Certificate)
	check.Equal(t, "nonce-1", doc.Nonce)
	check.Equal(t, `{"key_algorithm":"RSA-2048"}`, string(userData))

	// The base64 transport form parses to the same document.
	decoded, err := AttestationCOSE(raw).EncodeBase64().Decode()
	assert.NoError(t, err)
	again, _, err := decoded.ParseAttestationDoc()
	assert.NoError(t, err)
	check.Equal(t, doc.Certificate, again.Certificate)
}

func TestAttestationCOSE_ParseAttestationDocErrors(t *testing.T) {
	_, _, err := AttestationCOSE([]byte("not cbor")).ParseAttestationDoc()
	check.Error(t, err)

	_, _, err = AttestationCOSE(nil).ParseAttestationDoc()
	check.Error(t, err)
}

func TestDecryptChallenge(t *testing.T) {
	var h core.Handle
	h[0] = 0xab
	h[15] = 0x01

	check.Equal(t, "decrypt:ab000000000000000000000000000001", string(DecryptChallenge(h)))

	var other core.Handle
	check.NotEqual(t, string(DecryptChallenge(h)), string(DecryptChallenge(other)))
}
