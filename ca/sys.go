package ca

import (
	"fmt"
	"time"
)

// Slot interface types reported in Caps.SlotType and SlotInfo.Type (linux/dvb/ca.h).
const (
	SlotTypeCI     uint32 = 1   // CI high level interface
	SlotTypeCILink uint32 = 2   // CI link layer level interface
	SlotTypeCIPhys uint32 = 4   // CI physical layer level interface
	SlotTypeDescr  uint32 = 8   // built-in descrambler
	SlotTypeSC     uint32 = 128 // simple smart card interface
)

// Slot flags reported in SlotInfo.Flags.
const (
	FlagModuleNotFound uint32 = 0
	FlagModulePresent  uint32 = 1
	FlagModuleReady    uint32 = 2
)

// Descrambler types reported in Caps.DescrType.
const (
	DescrTypeECD uint32 = 1 // European Common Descrambler
	DescrTypeNDS uint32 = 2 // Videoguard
	DescrTypeDSS uint32 = 4 // Distributed Sample Scrambling
)

// Caps mirrors struct ca_caps.
type Caps struct {
	SlotNum   uint32 // total number of CA card and module slots
	SlotType  uint32 // bitmap of supported slot types
	DescrNum  uint32 // total number of descrambler slots (keys)
	DescrType uint32 // bitmap of supported descrambler types
}

// SlotInfo mirrors struct ca_slot_info.
type SlotInfo struct {
	Num   int32  // slot number
	Type  int32  // slot type
	Flags uint32 // FlagModulePresent, FlagModuleReady
}

// Command selects a request of the device call primitive.
type Command uint8

const (
	// CmdReset resets all slots. The argument is nil.
	CmdReset Command = iota + 1
	// CmdGetCaps reads the device capabilities into a *Caps.
	CmdGetCaps
	// CmdGetSlotInfo reads the info of the slot selected by SlotInfo.Num into a *SlotInfo.
	CmdGetSlotInfo
)

func (c Command) String() string {
	switch c {
	case CmdReset:
		return "CA_RESET"
	case CmdGetCaps:
		return "CA_GET_CAP"
	case CmdGetSlotInfo:
		return "CA_GET_SLOT_INFO"
	default:
		return fmt.Sprintf("Command(%d)", uint8(c))
	}
}

// Device is the handle of an opened CA device.
//
// Read and Writev are non-blocking and return ErrWouldBlock when the
// device is not ready. Each Read returns exactly one link layer frame.
type Device interface {
	// Call issues a control request. arg is nil, *Caps or *SlotInfo depending on cmd.
	Call(cmd Command, arg any) error
	// Read reads one frame into p.
	Read(p []byte) (int, error)
	// Writev writes the concatenation of bufs with a single vectored write.
	Writev(bufs ...[]byte) (int, error)
	// Wait blocks until the device is readable or timeout elapses.
	Wait(timeout time.Duration) (bool, error)
	// Close releases the handle.
	Close() error
}

// Opener opens the CA device at path.
type Opener func(path string) (Device, error)

// DevicePath returns the device node of a CA device.
func DevicePath(adapter uint, device uint) string {
	return fmt.Sprintf("/dev/dvb/adapter%d/ca%d", adapter, device)
}
