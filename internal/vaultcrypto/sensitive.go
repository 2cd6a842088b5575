package vaultcrypto

import (
	"encoding/json"
)

// Sensitive is a []byte wrapper for key material and plaintext secrets
// that can be zeroed after use. It never prints its contents.
type Sensitive []byte

// NewSensitive copies b into a fresh Sensitive buffer.
func NewSensitive(b []byte) Sensitive {
	s := make(Sensitive, len(b))
	copy(s, b)
	return s
}

// Zero overwrites the buffer with zeros. Safe on nil.
func (s Sensitive) Zero() {
	for i := range s {
		s[i] = 0
	}
}

// Clone returns an independent copy of the buffer.
func (s Sensitive) Clone() Sensitive {
	return NewSensitive(s)
}

// String implements fmt.Stringer without leaking contents into logs.
func (s Sensitive) String() string {
	return "[redacted]"
}

// MarshalJSON redacts the value. Sensitive material must never be
// serialized by accident; persistence paths encode raw bytes explicitly.
func (s Sensitive) MarshalJSON() ([]byte, error) {
	return json.Marshal("[redacted]")
}

// Zeroize overwrites an arbitrary byte slice with zeros.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
