//go:build !linux

package ca

import (
	"errors"
	"fmt"
)

// OpenDevice is only available on Linux.
func OpenDevice(path string) (Device, error) {
	return nil, fmt.Errorf("open %s: %w", path, errors.ErrUnsupported)
}
