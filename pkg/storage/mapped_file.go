package storage

import (
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tabula/pkg/errors"
	"github.com/ajitpratap0/tabula/pkg/logger"
	"github.com/ajitpratap0/tabula/pkg/metrics"
)

// MappedFile is a read-only view of a whole file. Where memory mapping is
// unavailable the file is read into memory instead, so callers never need
// a fallback of their own.
type MappedFile struct {
	mu     sync.RWMutex
	file   *os.File
	data   []byte
	mapped bool
}

// OpenMappedFile maps path read-only.
func OpenMappedFile(path string) (*MappedFile, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the caller
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to open file").
			WithDetail("path", path)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to stat file").
			WithDetail("path", path)
	}
	size := info.Size()
	if size == 0 {
		_ = f.Close()
		return &MappedFile{}, nil
	}

	if mmapSupported {
		data, err := mmapReadOnly(f, int(size))
		if err == nil {
			metrics.ActiveMappings.Inc()
			return &MappedFile{file: f, data: data, mapped: true}, nil
		}
		logger.Debug("mapping file failed, reading it instead",
			zap.String("path", path), zap.Error(err))
	}

	data, err := os.ReadFile(path) //nolint:gosec
	_ = f.Close()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to read file").
			WithDetail("path", path)
	}
	return &MappedFile{data: data}, nil
}

// Bytes returns the file contents. The slice is only valid until Close.
func (m *MappedFile) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data
}

// Len returns the file size in bytes.
func (m *MappedFile) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Mapped reports whether the contents are memory-mapped.
func (m *MappedFile) Mapped() bool { return m.mapped }

// Close unmaps the file. It is safe to call more than once.
func (m *MappedFile) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	if m.mapped && m.data != nil {
		if err := munmapFile(m.data); err != nil {
			firstErr = errors.Wrap(err, errors.ErrorTypeStorage, "failed to unmap file")
		}
		metrics.ActiveMappings.Dec()
	}
	m.data = nil
	m.mapped = false
	if m.file != nil {
		if err := m.file.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, errors.ErrorTypeStorage, "failed to close file")
		}
		m.file = nil
	}
	return firstErr
}
