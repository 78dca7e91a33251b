package storage

import (
	"sync"
	"unsafe"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tabula/pkg/errors"
	"github.com/ajitpratap0/tabula/pkg/logger"
	"github.com/ajitpratap0/tabula/pkg/metrics"
)

// HeapStorage serves regions from Go memory. It behaves like a mapped
// storage without touching the filesystem, which makes it the handle of
// choice for tests and for hosts without mmap. QuotaBytes bounds live bytes
// so exhaustion can be exercised deterministically.
type HeapStorage struct {
	mu         sync.Mutex
	quotaBytes int64
	stats      Stats
	log        *zap.Logger
}

// NewHeapStorage creates a heap storage. A quota of 0 means unlimited.
func NewHeapStorage(quotaBytes int64) *HeapStorage {
	return &HeapStorage{
		quotaBytes: quotaBytes,
		log:        logger.With(zap.String("storage", "heap")),
	}
}

type heapRegion struct {
	owner *HeapStorage
	words []uint64
	n     int
	elem  ElementType
}

func (r *heapRegion) Bytes() []byte {
	if len(r.words) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&r.words[0])), r.n*r.elem.Size())
}

func (r *heapRegion) Len() int                 { return r.n }
func (r *heapRegion) ElementType() ElementType { return r.elem }

func (r *heapRegion) size() int64 { return alignedBytes(int64(r.n * r.elem.Size())) }

// AllocateRegion implements Handle.
func (s *HeapStorage) AllocateRegion(elem ElementType, size int) (Region, error) {
	if err := validateRequest(elem, size); err != nil {
		return nil, err
	}

	need := alignedBytes(int64(size * elem.Size()))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.quotaBytes > 0 && s.stats.LiveBytes+need > s.quotaBytes {
		metrics.AllocationFailures.WithLabelValues("heap", "quota").Inc()
		s.log.Warn("heap storage quota exhausted",
			zap.Int64("requested", need),
			zap.Int64("live", s.stats.LiveBytes),
			zap.Int64("quota", s.quotaBytes))
		return nil, errors.New(errors.ErrorTypeAllocation, "heap storage quota exhausted").
			WithDetail("requested", need).
			WithDetail("quota", s.quotaBytes)
	}

	r := &heapRegion{
		owner: s,
		words: make([]uint64, need/8),
		n:     size,
		elem:  elem,
	}
	s.stats.LiveBytes += need
	s.stats.LiveRegions++
	metrics.StorageBytes.WithLabelValues("heap", "live").Add(float64(need))
	return r, nil
}

// GrowRegion implements Handle.
func (s *HeapStorage) GrowRegion(existing Region, newSize int) (Region, error) {
	if err := validateGrow(existing, newSize); err != nil {
		return nil, err
	}
	old, ok := existing.(*heapRegion)
	if !ok || old.owner != s {
		return nil, errors.New(errors.ErrorTypeValidation, "region does not belong to this heap storage")
	}

	next, err := s.AllocateRegion(old.elem, newSize)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.stats.LiveBytes -= old.size()
	s.stats.LiveRegions--
	// Go memory is reclaimed by the collector once the old region is
	// unreferenced, so retired heap bytes are not tracked against the quota.
	s.mu.Unlock()
	metrics.StorageBytes.WithLabelValues("heap", "live").Sub(float64(old.size()))
	return next, nil
}

// Stats returns a snapshot of the storage's accounting.
func (s *HeapStorage) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
