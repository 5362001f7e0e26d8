// Package nitrotest provides a software stand-in for the Nitro Security Module.
//
// Attester produces attestation documents with the same COSE_Sign1 layout as the NSM, signed
// ES384 by a leaf certificate chained to a throwaway root. Pass Roots to the validator instead
// of the AWS Nitro root to verify them.
package nitrotest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/sealedauction/enclaveapi/parsing"
)

// ModuleID is the module id reported by every Attester document.
const ModuleID = "i-0123456789abcdef0-enc0123456789abcdef"

// coseHeaderAlgorithm is the COSE header label of the signature algorithm.
const coseHeaderAlgorithm = 1

// Attester signs mock attestation documents.
type Attester struct {
	rootCert *x509.Certificate
	leafCert *x509.Certificate
	signer   cose.Signer
	pcrs     map[uint64][]byte

	// Now returns the document timestamp. Defaults to time.Now.
	Now func() time.Time
}

// New creates an Attester with a fresh certificate chain and deterministic PCR values
// derived from image.
func New(image string) (*Attester, error) {
	rootKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate root key: %w", err)
	}
	leafKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate leaf key: %w", err)
	}

	notBefore := time.Now().Add(-time.Hour)
	notAfter := time.Now().Add(24 * time.Hour)

	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "nitrotest root"},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("create root certificate: %w", err)
	}
	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, fmt.Errorf("parse root certificate: %w", err)
	}

	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: ModuleID},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, rootCert, &leafKey.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("create leaf certificate: %w", err)
	}
	leafCert, err := x509.ParseCertificate(leafDER)
	if err != nil {
		return nil, fmt.Errorf("parse leaf certificate: %w", err)
	}

	signer, err := cose.NewSigner(cose.AlgorithmES384, leafKey)
	if err != nil {
		return nil, fmt.Errorf("create COSE signer: %w", err)
	}

	pcrs := make(map[uint64][]byte)
	for _, index := range []uint64{0, 1, 2, 3, 4, 8} {
		sum := sha512.Sum384([]byte(fmt.Sprintf("%s/pcr%d", image, index)))
		pcrs[index] = sum[:]
	}

	return &Attester{
		rootCert: rootCert,
		leafCert: leafCert,
		signer:   signer,
		pcrs:     pcrs,
		Now:      time.Now,
	}, nil
}

// Roots returns a pool holding the attester's root certificate.
func (a *Attester) Roots() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(a.rootCert)
	return pool
}

// PCR returns the hex measurement of register index, formatted like parsed documents.
func (a *Attester) PCR(index uint64) string {
	return parsing.FormatPCR(a.pcrs[index])
}

// Attest returns an untagged COSE_Sign1 attestation over options.
func (a *Attester) Attest(options enclave.AttestationOptions) ([]byte, error) {
	doc := parsing.NitroAttestationDocument{
		ModuleID:    ModuleID,
		Digest:      "SHA384",
		Timestamp:   uint64(a.Now().UnixMilli()),
		PCRs:        a.pcrs,
		Certificate: a.leafCert.Raw,
		CABundle:    [][]byte{a.rootCert.Raw},
		UserData:    options.UserData,
		Nonce:       options.Nonce,
	}
	payload, err := cbor.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode attestation document: %w", err)
	}

	protected, err := cbor.Marshal(map[int]int{coseHeaderAlgorithm: int(cose.AlgorithmES384)})
	if err != nil {
		return nil, fmt.Errorf("encode protected header: %w", err)
	}

	parts := parsing.Sign1Parts{Protected: protected, Payload: payload}
	sigStructure, err := parts.SigStructure(nil)
	if err != nil {
		return nil, err
	}
	signature, err := a.signer.Sign(rand.Reader, sigStructure)
	if err != nil {
		return nil, fmt.Errorf("sign attestation: %w", err)
	}

	return cbor.Marshal([]any{protected, map[string]any{}, payload, signature})
}
