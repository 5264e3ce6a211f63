package ca

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceIO indicates an open, ioctl, read or write failure. It is fatal to the CaDevice.
	ErrDeviceIO = errors.New("ca: device I/O error")

	// ErrProtocol indicates a malformed TPDU or SPDU. It is scoped to one slot.
	ErrProtocol = errors.New("ca: protocol error")

	// ErrIncompatibleInterface indicates that the slot is not a link layer CI slot.
	ErrIncompatibleInterface = errors.New("ca: incompatible interface")

	// ErrModuleAbsent indicates that no module is inserted in the slot. It is a transient state.
	ErrModuleAbsent = errors.New("ca: module not found")

	// ErrNoSlots indicates that the device never reported any slot.
	ErrNoSlots = errors.New("ca: no slots reported")

	// ErrInvalidSlot indicates a slot index outside the range reported by the device.
	ErrInvalidSlot = errors.New("ca: invalid slot")

	// ErrPayloadTooLarge indicates a TPDU payload of TPDUSizeMax bytes or more.
	ErrPayloadTooLarge = errors.New("ca: payload too large")

	// ErrWouldBlock is returned by a non-blocking Device when the operation would block.
	ErrWouldBlock = errors.New("ca: operation would block")

	// ErrDeviceClosed indicates that the CaDevice was closed.
	ErrDeviceClosed = errors.New("ca: device closed")

	// ErrConfigNil indicates that a nil Config was provided.
	ErrConfigNil = errors.New("ca: config is nil")
)

// ProtocolError describes a malformed message received on a slot.
//
// It unwraps to ErrProtocol. Tag is the offending TPDU or SPDU tag when known.
type ProtocolError struct {
	SlotID uint8
	Tag    byte
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Tag == 0 {
		return fmt.Sprintf("ca: protocol error on slot %d: %s", e.SlotID, e.Reason)
	}

	return fmt.Sprintf("ca: protocol error on slot %d, tag 0x%02X: %s", e.SlotID, e.Tag, e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return ErrProtocol
}

func protocolError(slotID uint8, tag byte, format string, args ...any) *ProtocolError {
	return &ProtocolError{SlotID: slotID, Tag: tag, Reason: fmt.Sprintf(format, args...)}
}
