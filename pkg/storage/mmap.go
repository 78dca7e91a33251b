package storage

import (
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tabula/pkg/errors"
	"github.com/ajitpratap0/tabula/pkg/logger"
	"github.com/ajitpratap0/tabula/pkg/metrics"
)

var mapCount atomic.Int64

// MaxMapCount bounds live mappings across every MemoryMapStorage in the
// process. It defaults to slightly less than the typical Linux limit (65K)
// to leave room for the Go runtime.
var MaxMapCount int64 = 60000

// ErrMaxMapCountReached is returned when a new chunk would exceed MaxMapCount.
var ErrMaxMapCountReached = errors.New(errors.ErrorTypeAllocation, "maximum map count reached")

// DefaultChunkSize is the size of a chunk file when none is configured.
const DefaultChunkSize = 64 << 20

// Storage purposes used to name chunk files.
const (
	PurposeFeatureList = "feature_list"
	PurposeRawDataFile = "raw_data_file"
	PurposeMassList    = "mass_list"
)

// MemoryMapOptions configures a MemoryMapStorage.
type MemoryMapOptions struct {
	// Dir holds the chunk files; empty means os.TempDir().
	Dir string
	// Purpose prefixes chunk file names.
	Purpose string
	// ChunkSize is the minimum size of each chunk file in bytes.
	ChunkSize int64
	// QuotaBytes bounds the total mapped bytes; 0 means unlimited.
	QuotaBytes int64
	// KeepFiles leaves chunk files on disk after Close.
	KeepFiles bool
}

// MemoryMapStorage is an append-only storage handle over memory-mapped chunk
// files. Regions are carved sequentially from the current chunk; a request
// that does not fit opens a new chunk. Space is never reused while the
// storage is open: retired regions stay mapped until Close.
type MemoryMapStorage struct {
	opts MemoryMapOptions

	mu      sync.Mutex
	chunks  []*chunk
	current *chunk
	stats   Stats
	closed  bool

	log *zap.Logger
}

type chunk struct {
	id   int
	file *os.File
	data []byte
	used int64
}

type mappedRegion struct {
	owner *MemoryMapStorage
	chunk *chunk
	off   int64
	n     int
	elem  ElementType
}

func (r *mappedRegion) Bytes() []byte {
	if r.chunk == nil {
		return nil
	}
	end := r.off + int64(r.n*r.elem.Size())
	return r.chunk.data[r.off:end:end]
}

func (r *mappedRegion) Len() int                 { return r.n }
func (r *mappedRegion) ElementType() ElementType { return r.elem }

func (r *mappedRegion) size() int64 { return alignedBytes(int64(r.n * r.elem.Size())) }

// NewMemoryMapStorage creates an mmap-backed storage handle.
func NewMemoryMapStorage(opts MemoryMapOptions) (*MemoryMapStorage, error) {
	if !mmapSupported {
		return nil, errors.New(errors.ErrorTypeStorage, "memory-mapped storage is not supported on this platform")
	}
	if opts.Dir == "" {
		opts.Dir = os.TempDir()
	}
	if opts.Purpose == "" {
		opts.Purpose = PurposeFeatureList
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to create storage directory")
	}

	return &MemoryMapStorage{
		opts: opts,
		log: logger.With(
			zap.String("storage", "mmap"),
			zap.String("purpose", opts.Purpose),
		),
	}, nil
}

// MMapSupported reports whether NewMemoryMapStorage works on this platform.
func MMapSupported() bool { return mmapSupported }

// ForFeatureList creates a storage for feature-list columns. opts.Purpose
// is ignored.
func ForFeatureList(opts MemoryMapOptions) (*MemoryMapStorage, error) {
	opts.Purpose = PurposeFeatureList
	return NewMemoryMapStorage(opts)
}

// ForRawDataFile creates a storage for raw data file columns. opts.Purpose
// is ignored.
func ForRawDataFile(opts MemoryMapOptions) (*MemoryMapStorage, error) {
	opts.Purpose = PurposeRawDataFile
	return NewMemoryMapStorage(opts)
}

// ForMassList creates a storage for mass list columns. opts.Purpose is
// ignored.
func ForMassList(opts MemoryMapOptions) (*MemoryMapStorage, error) {
	opts.Purpose = PurposeMassList
	return NewMemoryMapStorage(opts)
}

// ForPurpose creates the storage for one of the Purpose constants. An empty
// purpose selects PurposeFeatureList.
func ForPurpose(purpose string, opts MemoryMapOptions) (*MemoryMapStorage, error) {
	switch purpose {
	case PurposeFeatureList, "":
		return ForFeatureList(opts)
	case PurposeRawDataFile:
		return ForRawDataFile(opts)
	case PurposeMassList:
		return ForMassList(opts)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown storage purpose: %s", purpose).
			WithDetail("purpose", purpose)
	}
}

// AllocateRegion implements Handle.
func (s *MemoryMapStorage) AllocateRegion(elem ElementType, size int) (Region, error) {
	if err := validateRequest(elem, size); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocateLocked(elem, size)
}

func (s *MemoryMapStorage) allocateLocked(elem ElementType, size int) (*mappedRegion, error) {
	if s.closed {
		return nil, errors.New(errors.ErrorTypeStorage, "storage is closed")
	}

	need := alignedBytes(int64(size * elem.Size()))
	r := &mappedRegion{owner: s, n: size, elem: elem}
	if need == 0 {
		s.stats.LiveRegions++
		return r, nil
	}

	if s.current == nil || s.current.used+need > int64(len(s.current.data)) {
		c, err := s.openChunkLocked(need)
		if err != nil {
			return nil, err
		}
		s.current = c
	}

	r.chunk = s.current
	r.off = s.current.used
	s.current.used += need

	s.stats.LiveBytes += need
	s.stats.LiveRegions++
	metrics.StorageBytes.WithLabelValues("mmap", "live").Add(float64(need))
	return r, nil
}

func (s *MemoryMapStorage) openChunkLocked(need int64) (*chunk, error) {
	size := s.opts.ChunkSize
	if need > size {
		page := int64(os.Getpagesize())
		size = (need + page - 1) / page * page
	}

	if s.opts.QuotaBytes > 0 && s.stats.MappedBytes+size > s.opts.QuotaBytes {
		metrics.AllocationFailures.WithLabelValues("mmap", "quota").Inc()
		s.log.Warn("mapped storage quota exhausted",
			zap.Int64("chunk_size", size),
			zap.Int64("mapped", s.stats.MappedBytes),
			zap.Int64("quota", s.opts.QuotaBytes))
		return nil, errors.New(errors.ErrorTypeAllocation, "mapped storage quota exhausted").
			WithDetail("requested", size).
			WithDetail("quota", s.opts.QuotaBytes)
	}

	if n := mapCount.Add(1); n > MaxMapCount {
		mapCount.Add(-1)
		metrics.AllocationFailures.WithLabelValues("mmap", "map_count").Inc()
		return nil, ErrMaxMapCountReached
	}

	f, err := os.CreateTemp(s.opts.Dir, s.opts.Purpose+"-*.chunk")
	if err != nil {
		mapCount.Add(-1)
		return nil, errors.Wrap(err, errors.ErrorTypeAllocation, "failed to create chunk file")
	}
	if err := f.Truncate(size); err != nil {
		mapCount.Add(-1)
		s.discardFile(f)
		return nil, errors.Wrap(err, errors.ErrorTypeAllocation, "failed to size chunk file")
	}

	data, err := mmapFile(f, int(size))
	if err != nil {
		mapCount.Add(-1)
		s.discardFile(f)
		metrics.AllocationFailures.WithLabelValues("mmap", "mmap").Inc()
		return nil, errors.Wrap(err, errors.ErrorTypeAllocation, "failed to mmap chunk file")
	}

	c := &chunk{id: len(s.chunks), file: f, data: data}
	s.chunks = append(s.chunks, c)
	s.stats.Chunks++
	s.stats.MappedBytes += size
	metrics.ActiveMappings.Inc()

	s.log.Info("opened storage chunk",
		zap.Int("chunk", c.id),
		zap.String("file", f.Name()),
		zap.Int64("bytes", size))
	return c, nil
}

func (s *MemoryMapStorage) discardFile(f *os.File) {
	name := f.Name()
	_ = f.Close()
	if !s.opts.KeepFiles {
		_ = os.Remove(name)
	}
}

// GrowRegion implements Handle.
func (s *MemoryMapStorage) GrowRegion(existing Region, newSize int) (Region, error) {
	if err := validateGrow(existing, newSize); err != nil {
		return nil, err
	}
	old, ok := existing.(*mappedRegion)
	if !ok || old.owner != s {
		return nil, errors.New(errors.ErrorTypeValidation, "region does not belong to this mapped storage")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.allocateLocked(old.elem, newSize)
	if err != nil {
		return nil, err
	}

	retired := old.size()
	s.stats.LiveBytes -= retired
	s.stats.RetiredBytes += retired
	s.stats.LiveRegions--
	metrics.StorageBytes.WithLabelValues("mmap", "live").Sub(float64(retired))
	metrics.StorageBytes.WithLabelValues("mmap", "retired").Add(float64(retired))
	return next, nil
}

// Stats returns a snapshot of the storage's accounting.
func (s *MemoryMapStorage) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Dir returns the directory holding the chunk files.
func (s *MemoryMapStorage) Dir() string { return s.opts.Dir }

// Close unmaps every chunk and, unless KeepFiles is set, removes the chunk
// files. Regions handed out by the storage must not be used afterwards.
func (s *MemoryMapStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for _, c := range s.chunks {
		if err := munmapFile(c.data); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, errors.ErrorTypeStorage, "failed to unmap chunk")
		}
		c.data = nil
		mapCount.Add(-1)
		metrics.ActiveMappings.Dec()

		if err := c.file.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, errors.ErrorTypeStorage, "failed to close chunk file")
		}
		if !s.opts.KeepFiles {
			if err := os.Remove(c.file.Name()); err != nil && firstErr == nil {
				firstErr = errors.Wrap(err, errors.ErrorTypeStorage, "failed to remove chunk file")
			}
		}
	}

	metrics.StorageBytes.WithLabelValues("mmap", "live").Sub(float64(s.stats.LiveBytes))
	metrics.StorageBytes.WithLabelValues("mmap", "retired").Sub(float64(s.stats.RetiredBytes))
	s.log.Info("closed storage",
		zap.Int("chunks", len(s.chunks)),
		zap.Int64("mapped_bytes", s.stats.MappedBytes),
		zap.Int64("retired_bytes", s.stats.RetiredBytes))

	s.chunks = nil
	s.current = nil
	s.stats = Stats{}
	return firstErr
}
