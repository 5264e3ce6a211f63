// Package asn1 implements the ASN.1 BER style length field used by the
// EN 50221 transport, session and application layers.
package asn1

import "errors"

// sizeIndicator marks a long-form length field; the low bits carry the
// number of length bytes that follow.
const sizeIndicator = 0x80

var (
	// ErrShortBuffer indicates that the buffer ends inside a length field.
	ErrShortBuffer = errors.New("asn1: length field truncated")

	// ErrInvalidSize indicates a long-form length field wider than two bytes.
	ErrInvalidSize = errors.New("asn1: unsupported length field size")
)

// Encode returns the minimal-length encoding of value.
func Encode(value uint16) []byte {
	return Append(make([]byte, 0, 3), value)
}

// Append appends the minimal-length encoding of value to dst and returns the extended slice.
//
//   - value < 0x80:  [value]
//   - value < 0x100: [0x81, value]
//   - otherwise:     [0x82, hi, lo]
func Append(dst []byte, value uint16) []byte {
	switch {
	case value < sizeIndicator:
		return append(dst, byte(value))
	case value < 0x100:
		return append(dst, sizeIndicator+1, byte(value))
	default:
		return append(dst, sizeIndicator+2, byte(value>>8), byte(value))
	}
}

// Decode parses a length field at the start of b.
// It returns the decoded value and the number of bytes the field occupies.
func Decode(b []byte) (uint16, int, error) {
	if len(b) == 0 {
		return 0, 0, ErrShortBuffer
	}

	first := b[0]
	if first < sizeIndicator {
		return uint16(first), 1, nil
	}

	size := int(first &^ sizeIndicator)
	if size == 0 || size > 2 {
		return 0, 0, ErrInvalidSize
	}

	if len(b) < 1+size {
		return 0, 0, ErrShortBuffer
	}

	var value uint16
	for _, v := range b[1 : 1+size] {
		value = value<<8 | uint16(v)
	}

	return value, 1 + size, nil
}
