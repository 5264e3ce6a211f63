//go:build linux

package ca

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/arloliu/go-dvb/internal/ioctl"
	"golang.org/x/sys/unix"
)

var (
	reqReset       = ioctl.None('o', 128)
	reqGetCaps     = ioctl.Read('o', 129, unsafe.Sizeof(Caps{}))
	reqGetSlotInfo = ioctl.Read('o', 130, unsafe.Sizeof(SlotInfo{}))
)

// linuxDevice is a CA device node opened with O_NONBLOCK.
type linuxDevice struct {
	fd   int
	path string
}

var _ Device = (*linuxDevice)(nil)

// OpenDevice opens a CA device node read-write and non-blocking.
func OpenDevice(path string) (Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	return &linuxDevice{fd: fd, path: path}, nil
}

// Call is the only place where request arguments cross into the kernel.
func (d *linuxDevice) Call(cmd Command, arg any) error {
	var (
		req uint
		ptr unsafe.Pointer
	)

	switch cmd {
	case CmdReset:
		req = reqReset
	case CmdGetCaps:
		caps, ok := arg.(*Caps)
		if !ok || caps == nil {
			return fmt.Errorf("%s: argument must be *Caps, got %T", cmd, arg)
		}
		req, ptr = reqGetCaps, unsafe.Pointer(caps)
	case CmdGetSlotInfo:
		info, ok := arg.(*SlotInfo)
		if !ok || info == nil {
			return fmt.Errorf("%s: argument must be *SlotInfo, got %T", cmd, arg)
		}
		req, ptr = reqGetSlotInfo, unsafe.Pointer(info)
	default:
		return fmt.Errorf("unknown command %s", cmd)
	}

	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), uintptr(req), uintptr(ptr))
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		default:
			return fmt.Errorf("%s: %w", cmd, errno)
		}
	}
}

func (d *linuxDevice) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(d.fd, p)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		default:
			return 0, fmt.Errorf("read %s: %w", d.path, err)
		}
	}
}

func (d *linuxDevice) Writev(bufs ...[]byte) (int, error) {
	for {
		n, err := unix.Writev(d.fd, bufs)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return max(n, 0), ErrWouldBlock
		default:
			return max(n, 0), fmt.Errorf("write %s: %w", d.path, err)
		}
	}
}

func (d *linuxDevice) Wait(timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}} //nolint:gosec // fd fits in int32

	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, fmt.Errorf("poll %s: %w", d.path, err)
	}

	// POLLERR and POLLHUP are reported as readable so the next Read surfaces the error.
	return n > 0 && fds[0].Revents != 0, nil
}

func (d *linuxDevice) Close() error {
	return unix.Close(d.fd)
}
