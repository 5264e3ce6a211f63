package ca

// SlotState is the module state of a CI slot.
type SlotState uint8

const (
	// ModuleNotFound means the slot is empty.
	ModuleNotFound SlotState = iota
	// ModulePresent means a module is inserted but not initialised yet.
	ModulePresent
	// ModuleReady means the module can carry a transport connection.
	ModuleReady
)

func (st SlotState) String() string {
	switch st {
	case ModuleNotFound:
		return "not found"
	case ModulePresent:
		return "present"
	case ModuleReady:
		return "ready"
	default:
		return "unknown"
	}
}

// slotStateFromFlags maps SlotInfo.Flags to a SlotState. Ready wins over Present.
func slotStateFromFlags(flags uint32) SlotState {
	switch {
	case flags&FlagModuleReady != 0:
		return ModuleReady
	case flags&FlagModulePresent != 0:
		return ModulePresent
	default:
		return ModuleNotFound
	}
}

// Slot is a CI slot of a CA device.
type Slot struct {
	ID    uint8
	Type  uint32
	State SlotState
}

// IsLinkLayer reports whether the slot speaks the CI link layer protocol.
func (s Slot) IsLinkLayer() bool {
	return s.Type&SlotTypeCILink != 0
}
