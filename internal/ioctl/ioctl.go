// Package ioctl computes Linux ioctl request numbers (the _IO and _IOR
// macros of asm-generic/ioctl.h).
package ioctl

const (
	nrBits   = 8
	typeBits = 8
	sizeBits = 14

	nrShift   = 0
	typeShift = nrShift + nrBits
	sizeShift = typeShift + typeBits
	dirShift  = sizeShift + sizeBits
)

// Transfer directions.
const (
	dirNone uint = 0
	dirRead uint = 2
)

func ioc(dir uint, typ byte, nr byte, size uintptr) uint {
	return dir<<dirShift | uint(typ)<<typeShift | uint(nr)<<nrShift | uint(size)<<sizeShift
}

// None returns the request number of an ioctl without an argument.
func None(typ byte, nr byte) uint {
	return ioc(dirNone, typ, nr, 0)
}

// Read returns the request number of an ioctl that reads size bytes from the kernel.
func Read(typ byte, nr byte, size uintptr) uint {
	return ioc(dirRead, typ, nr, size)
}
