package enclaveapi

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudx-io/sealedauction/enclaveapi/parsing"
)

// AttestationCOSE is a raw COSE_Sign1 attestation as produced by the Nitro Security Module
type AttestationCOSE []byte

// AttestationCOSEBase64 is AttestationCOSE in standard base64, used in JSON responses
type AttestationCOSEBase64 string

// AttestationCOSEURLBase64 is AttestationCOSE in unpadded URL-safe base64
type AttestationCOSEURLBase64 string

// AttestationCOSEGzip is gzip-compressed AttestationCOSE in unpadded URL-safe base64
type AttestationCOSEGzip string

// EncodeBase64 encodes the attestation with standard base64
func (a AttestationCOSE) EncodeBase64() AttestationCOSEBase64 {
	return AttestationCOSEBase64(base64.StdEncoding.EncodeToString(a))
}

// EncodeURLSafe encodes the attestation with unpadded URL-safe base64
func (a AttestationCOSE) EncodeURLSafe() AttestationCOSEURLBase64 {
	return AttestationCOSEURLBase64(base64.RawURLEncoding.EncodeToString(a))
}

// CompressGzip compresses the attestation for transport in URLs
func (a AttestationCOSE) CompressGzip() (AttestationCOSEGzip, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(a); err != nil {
		return "", fmt.Errorf("gzip write: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("gzip close: %w", err)
	}
	return AttestationCOSEGzip(base64.RawURLEncoding.EncodeToString(buf.Bytes())), nil
}

// ParseAttestationDoc extracts the Nitro attestation document from the COSE_Sign1 payload.
// Returns the structured document and the raw user data bytes.
func (a AttestationCOSE) ParseAttestationDoc() (AttestationDoc, []byte, error) {
	raw, err := parsing.ParseNitroDocument(a)
	if err != nil {
		return AttestationDoc{}, nil, err
	}

	doc := AttestationDoc{
		ModuleID:        raw.ModuleID,
		Timestamp:       time.UnixMilli(int64(raw.Timestamp)).UTC(),
		DigestAlgorithm: raw.Digest,
		PCRs:            pcrsFromRaw(raw.PCRs),
		Certificate:     base64.StdEncoding.EncodeToString(raw.Certificate),
		CABundle:        parsing.EncodeCertificateBundle(raw.CABundle),
		PublicKey:       base64.StdEncoding.EncodeToString(raw.PublicKey),
		Nonce:           string(raw.Nonce),
	}
	return doc, raw.UserData, nil
}

func pcrsFromRaw(raw map[uint64][]byte) PCRs {
	return PCRs{
		ImageFileHash:   parsing.FormatPCR(raw[0]),
		KernelHash:      parsing.FormatPCR(raw[1]),
		ApplicationHash: parsing.FormatPCR(raw[2]),
		IAMRoleHash:     parsing.FormatPCR(raw[3]),
		InstanceIDHash:  parsing.FormatPCR(raw[4]),
		SigningCertHash: parsing.FormatPCR(raw[8]),
	}
}

func (a AttestationCOSEBase64) String() string {
	return string(a)
}

// Decode returns the raw COSE bytes
func (a AttestationCOSEBase64) Decode() (AttestationCOSE, error) {
	raw, err := base64.StdEncoding.DecodeString(string(a))
	if err != nil {
		return nil, fmt.Errorf("decode COSE base64: %w", err)
	}
	return AttestationCOSE(raw), nil
}

// CompressGzip decodes and re-encodes the attestation in gzip form
func (a AttestationCOSEBase64) CompressGzip() (AttestationCOSEGzip, error) {
	raw, err := a.Decode()
	if err != nil {
		return "", err
	}
	return raw.CompressGzip()
}

func (a AttestationCOSEURLBase64) String() string {
	return string(a)
}

// Decode returns the raw COSE bytes, restoring padding if it was stripped
func (a AttestationCOSEURLBase64) Decode() (AttestationCOSE, error) {
	s := string(a)
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode COSE base64url: %w", err)
	}
	return AttestationCOSE(raw), nil
}

func (a AttestationCOSEGzip) String() string {
	return string(a)
}

// Decompress returns the raw COSE bytes
func (a AttestationCOSEGzip) Decompress() (AttestationCOSE, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(string(a))
	if err != nil {
		return nil, fmt.Errorf("decode base64url: %w", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("open gzip reader: %w", err)
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("read gzip: %w", err)
	}
	return AttestationCOSE(raw), nil
}
