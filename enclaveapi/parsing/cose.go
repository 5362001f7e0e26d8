package parsing

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// coseSign1Tag is the CBOR tag of a tagged COSE_Sign1 message (RFC 9052).
const coseSign1Tag = 18

// Sign1Parts are the byte fields of a COSE_Sign1 message.
// The unprotected header map is not needed by any caller and is dropped.
type Sign1Parts struct {
	Protected []byte
	Payload   []byte
	Signature []byte
}

// SplitSign1 decodes a COSE_Sign1 message into its parts.
// Nitro attestations are untagged 4-element arrays; decryption proofs may carry tag 18.
// Structure: [protected, unprotected, payload, signature]
func SplitSign1(coseBytes []byte) (*Sign1Parts, error) {
	var tagged cbor.RawTag
	if err := cbor.Unmarshal(coseBytes, &tagged); err == nil {
		if tagged.Number != coseSign1Tag {
			return nil, fmt.Errorf("unexpected CBOR tag %d, expected %d", tagged.Number, coseSign1Tag)
		}
		coseBytes = tagged.Content
	}

	var coseArray []any
	if err := cbor.Unmarshal(coseBytes, &coseArray); err != nil {
		return nil, fmt.Errorf("parse COSE array: %w", err)
	}

	if len(coseArray) != 4 {
		return nil, fmt.Errorf("invalid COSE_Sign1 structure: expected 4 elements, got %d", len(coseArray))
	}

	protected, ok := coseArray[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("invalid protected headers in COSE structure")
	}

	payload, ok := coseArray[2].([]byte)
	if !ok {
		return nil, fmt.Errorf("invalid payload in COSE structure")
	}

	signature, ok := coseArray[3].([]byte)
	if !ok {
		return nil, fmt.Errorf("invalid signature in COSE structure")
	}

	return &Sign1Parts{Protected: protected, Payload: payload, Signature: signature}, nil
}

// ExtractCOSEPayload returns the payload (element 2) of a COSE_Sign1 message
func ExtractCOSEPayload(coseBytes []byte) ([]byte, error) {
	parts, err := SplitSign1(coseBytes)
	if err != nil {
		return nil, err
	}
	return parts.Payload, nil
}

// SigStructure builds the Sig_structure signed by a COSE_Sign1 message:
// ["Signature1", protected, external_aad, payload]
func (p *Sign1Parts) SigStructure(externalAAD []byte) ([]byte, error) {
	if externalAAD == nil {
		externalAAD = []byte{}
	}
	sigStructure := []any{
		"Signature1",
		p.Protected,
		externalAAD,
		p.Payload,
	}

	encoded, err := cbor.Marshal(sigStructure)
	if err != nil {
		return nil, fmt.Errorf("marshal Sig_structure: %w", err)
	}
	return encoded, nil
}
