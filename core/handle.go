package core

import (
	"encoding/hex"
	"fmt"
)

// HandleSize is the width of a coprocessor handle in bytes.
const HandleSize = 16

// Handle is an opaque reference to a value held encrypted by the coprocessor (an encrypted
// 128-bit unsigned integer or boolean). The zero Handle is the unset sentinel. Handles carry no
// arithmetic: every operation on the referenced value goes through a Coprocessor.
type Handle [HandleSize]byte

// IsZero reports whether h is the unset sentinel.
func (h Handle) IsZero() bool {
	return h == Handle{}
}

// Bytes returns a copy of the raw handle bytes.
func (h Handle) Bytes() []byte {
	b := make([]byte, HandleSize)
	copy(b, h[:])
	return b
}

func (h Handle) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalText encodes the handle as lowercase hex.
func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText decodes a hex handle. An empty string decodes to the zero handle.
func (h *Handle) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*h = Handle{}
		return nil
	}
	parsed, err := ParseHandle(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHandle decodes a hex-encoded handle.
func ParseHandle(s string) (Handle, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Handle{}, fmt.Errorf("invalid handle encoding: %w", err)
	}
	return HandleFromBytes(raw)
}

// HandleFromBytes copies a raw 16-byte handle.
func HandleFromBytes(raw []byte) (Handle, error) {
	var h Handle
	if len(raw) != HandleSize {
		return h, fmt.Errorf("invalid handle length: expected %d bytes, got %d", HandleSize, len(raw))
	}
	copy(h[:], raw)
	return h, nil
}
