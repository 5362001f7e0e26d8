// Package disclosure produces and checks attested decryptions of coprocessor handles.
//
// A disclosure proof is a COSE_Sign1 message (ES256) whose payload is a CBOR-encoded Statement
// binding a handle to its plaintext. The coprocessor's oracle key signs it; anyone holding the
// oracle public key can check it without talking to the coprocessor.
package disclosure

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/cloudx-io/sealedauction/core"
)

// Statement is the signed claim that Handle decrypts to Plaintext.
type Statement struct {
	Handle    []byte `cbor:"handle"`
	Plaintext []byte `cbor:"plaintext"`
	Viewer    string `cbor:"viewer"`
	IssuedAt  int64  `cbor:"issued_at"`
}

// NewStatement builds a statement for h issued now.
func NewStatement(h core.Handle, plaintext []byte, viewer core.Identity, now time.Time) Statement {
	return Statement{
		Handle:    h.Bytes(),
		Plaintext: plaintext,
		Viewer:    string(viewer),
		IssuedAt:  now.Unix(),
	}
}

// HandleValue returns the statement handle.
func (s Statement) HandleValue() (core.Handle, error) {
	return core.HandleFromBytes(s.Handle)
}

var encMode = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

func (s Statement) encode() ([]byte, error) {
	data, err := encMode.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode statement: %w", err)
	}
	return data, nil
}

func decodeStatement(data []byte) (Statement, error) {
	var s Statement
	if err := cbor.Unmarshal(data, &s); err != nil {
		return Statement{}, fmt.Errorf("decode statement: %w", err)
	}
	return s, nil
}
