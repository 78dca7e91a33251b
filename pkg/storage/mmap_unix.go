//go:build linux || darwin || freebsd

package storage

import (
	"os"
	"syscall"
)

const mmapSupported = true

// mmapFile maps the first length bytes of f read/write and shared, so writes
// land in the file's page cache.
func mmapFile(f *os.File, length int) ([]byte, error) {
	return syscall.Mmap(int(f.Fd()), 0, length, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
}

func munmapFile(b []byte) error {
	if b == nil {
		return nil
	}
	return syscall.Munmap(b)
}

func mmapReadOnly(f *os.File, length int) ([]byte, error) {
	return syscall.Mmap(int(f.Fd()), 0, length, syscall.PROT_READ, syscall.MAP_SHARED)
}
