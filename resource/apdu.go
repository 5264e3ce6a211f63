package resource

import (
	"fmt"

	"github.com/arloliu/go-dvb/internal/asn1"
)

// APDUTagSize is the size of an application object tag (EN 50221 §8.3.1).
const APDUTagSize = 3

// Application object tags of the resources listed in EN 50221 Annex A.
const (
	TagProfileEnq    uint32 = 0x9F8010
	TagProfile       uint32 = 0x9F8011
	TagProfileChange uint32 = 0x9F8012
	TagAppInfoEnq    uint32 = 0x9F8020
	TagAppInfo       uint32 = 0x9F8021
	TagEnterMenu     uint32 = 0x9F8022
	TagCaInfoEnq     uint32 = 0x9F8030
	TagCaInfo        uint32 = 0x9F8031
	TagCaPMT         uint32 = 0x9F8032
	TagCaPMTReply    uint32 = 0x9F8033
	TagDateTimeEnq   uint32 = 0x9F8440
	TagDateTime      uint32 = 0x9F8441
	TagCloseMMI      uint32 = 0x9F8800
)

// EncodeAPDU builds an APDU: a 3-byte tag, a length field and the body.
func EncodeAPDU(tag uint32, body []byte) ([]byte, error) {
	if len(body) > 0xFFFF {
		return nil, fmt.Errorf("%w: body of %d bytes", ErrInvalidAPDU, len(body))
	}

	out := make([]byte, 0, APDUTagSize+3+len(body))
	out = append(out, byte(tag>>16), byte(tag>>8), byte(tag))
	out = asn1.Append(out, uint16(len(body))) //nolint:gosec // checked above
	out = append(out, body...)

	return out, nil
}

// DecodeAPDU splits an APDU into its tag and body.
// Bytes following the declared body length are ignored.
func DecodeAPDU(apdu []byte) (uint32, []byte, error) {
	if len(apdu) < APDUTagSize+1 {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrInvalidAPDU, len(apdu))
	}

	tag := uint32(apdu[0])<<16 | uint32(apdu[1])<<8 | uint32(apdu[2])

	length, n, err := asn1.Decode(apdu[APDUTagSize:])
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrInvalidAPDU, err)
	}

	start := APDUTagSize + n
	end := start + int(length)
	if end > len(apdu) {
		return 0, nil, fmt.Errorf("%w: declared length %d exceeds %d available bytes", ErrInvalidAPDU, length, len(apdu)-start)
	}

	return tag, apdu[start:end], nil
}
