package resource

import "fmt"

// ID is an EN 50221 resource identifier (§8.2.2).
//
// Public resources are laid out as
//
//	[type:2 = 00/01/10][class:14][type:10][version:6]
//
// Private resources have the two most significant bits set.
type ID uint32

// Well-known public resources of EN 50221 §8.8.
const (
	ResourceManager          ID = 0x00010041
	ApplicationInformation   ID = 0x00020041
	ConditionalAccessSupport ID = 0x00030041
	HostControl              ID = 0x00200041
	DateTime                 ID = 0x00240041
	MMI                      ID = 0x00400041
)

const (
	classShift  = 16
	typeShift   = 6
	classMask   = 0x3FFF
	typeMask    = 0x03FF
	versionMask = 0x3F
	privateMask = 0xC0000000
)

// NewID builds a public resource identifier.
func NewID(class uint16, typ uint16, version uint8) ID {
	return ID(uint32(class&classMask)<<classShift |
		uint32(typ&typeMask)<<typeShift |
		uint32(version&versionMask))
}

// Class returns the resource class.
func (id ID) Class() uint16 { return uint16((uint32(id) >> classShift) & classMask) }

// Type returns the resource type within its class.
func (id ID) Type() uint16 { return uint16((uint32(id) >> typeShift) & typeMask) }

// Version returns the resource version.
func (id ID) Version() uint8 { return uint8(uint32(id) & versionMask) }

// Private reports whether the identifier belongs to a private resource.
func (id ID) Private() bool { return uint32(id)&privateMask == privateMask }

// Base returns the identifier with its version field cleared.
func (id ID) Base() ID { return id &^ versionMask }

func (id ID) String() string {
	if id.Private() {
		return fmt.Sprintf("private(0x%08X)", uint32(id))
	}

	return fmt.Sprintf("0x%08X(class=%d,type=%d,version=%d)", uint32(id), id.Class(), id.Type(), id.Version())
}
