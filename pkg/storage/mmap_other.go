//go:build !linux && !darwin && !freebsd

package storage

import (
	"errors"
	"os"
)

const mmapSupported = false

var errMmapUnsupported = errors.New("mmap is not supported on this platform")

func mmapFile(f *os.File, length int) ([]byte, error) {
	return nil, errMmapUnsupported
}

func munmapFile(b []byte) error {
	return nil
}

func mmapReadOnly(f *os.File, length int) ([]byte, error) {
	return nil, errMmapUnsupported
}
