package ca

import (
	"github.com/arloliu/go-dvb/internal/asn1"
)

// TPDUSizeMax is the exclusive upper bound of a TPDU payload.
const TPDUSizeMax = 2048

// MinFrameSize is the minimum size of a link layer frame:
// slot id, connection id, tag and the start of the length field.
const MinFrameSize = 4

// Transport tags (EN 50221 Table A.16).
const (
	TagSB         byte = 0x80 // status byte
	TagRcv        byte = 0x81 // request data
	TagCreateTC   byte = 0x82
	TagCTCReply   byte = 0x83
	TagDeleteTC   byte = 0x84
	TagDTCReply   byte = 0x85
	TagRequestTC  byte = 0x86
	TagNewTC      byte = 0x87
	TagTCError    byte = 0x88
	TagDataLast   byte = 0xA0
	TagDataMore   byte = 0xA1
	statusDataBit byte = 0x80 // DA bit of the TT_SB value
)

// tpduObject is one transport object of a received frame.
type tpduObject struct {
	tag    byte
	connID byte
	body   []byte // bytes after the connection id
}

// frameHeader builds the link layer and transport header for a payload.
func frameHeader(slotID uint8, tag byte, payloadLen int) []byte {
	connID := slotID + 1

	header := make([]byte, 0, 8)
	header = append(header, slotID, connID, tag)
	header = asn1.Append(header, uint16(payloadLen+1)) //nolint:gosec // payloadLen < TPDUSizeMax
	header = append(header, connID)

	return header
}

// parseFrame splits a received frame into the connection id and its
// transport objects. A response frame usually holds a data object followed
// by a TT_SB object.
//
// The slot of the frame is derived from the connection id; slotHint is only
// used to attribute errors when the connection id is unusable.
func parseFrame(frame []byte) (uint8, []tpduObject, error) {
	var slotHint uint8
	if len(frame) > 0 {
		slotHint = frame[0]
	}

	if len(frame) < MinFrameSize {
		return slotHint, nil, protocolError(slotHint, 0, "frame of %d bytes is shorter than %d", len(frame), MinFrameSize)
	}

	connID := frame[1]
	if connID == 0 {
		return slotHint, nil, protocolError(slotHint, 0, "invalid connection id 0")
	}
	slotID := connID - 1

	var objs []tpduObject
	rest := frame[2:]
	for len(rest) > 0 {
		tag := rest[0]

		length, n, err := asn1.Decode(rest[1:])
		if err != nil {
			return slotID, nil, protocolError(slotID, tag, "length field: %v", err)
		}

		start := 1 + n
		end := start + int(length)
		if end > len(rest) {
			return slotID, nil, protocolError(slotID, tag, "declared length %d exceeds %d remaining bytes", length, len(rest)-start)
		}

		obj := tpduObject{tag: tag}
		if length > 0 {
			obj.connID = rest[start]
			obj.body = rest[start+1 : end]
			if obj.connID != connID {
				return slotID, nil, protocolError(slotID, tag, "connection id %d does not match frame connection %d", obj.connID, connID)
			}
		}

		objs = append(objs, obj)
		rest = rest[end:]
	}

	return slotID, objs, nil
}
