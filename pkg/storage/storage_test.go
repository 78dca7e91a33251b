package storage

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tabula/pkg/errors"
)

func handles(t *testing.T) map[string]Handle {
	t.Helper()
	out := map[string]Handle{"heap": NewHeapStorage(0)}
	if mmapSupported {
		mm, err := NewMemoryMapStorage(MemoryMapOptions{Dir: t.TempDir(), ChunkSize: 4096})
		require.NoError(t, err)
		t.Cleanup(func() { _ = mm.Close() })
		out["mmap"] = mm
	}
	return out
}

func TestAllocateRegion(t *testing.T) {
	for name, h := range handles(t) {
		t.Run(name, func(t *testing.T) {
			r, err := h.AllocateRegion(Float64, 10)
			require.NoError(t, err)
			assert.Equal(t, 10, r.Len())
			assert.Equal(t, Float64, r.ElementType())
			assert.Len(t, r.Bytes(), 80)
			for _, b := range r.Bytes() {
				require.Zero(t, b)
			}

			r32, err := h.AllocateRegion(Int32, 3)
			require.NoError(t, err)
			assert.Len(t, r32.Bytes(), 12)

			empty, err := h.AllocateRegion(Float32, 0)
			require.NoError(t, err)
			assert.Empty(t, empty.Bytes())
		})
	}
}

func TestAllocateRegionValidation(t *testing.T) {
	for name, h := range handles(t) {
		t.Run(name, func(t *testing.T) {
			_, err := h.AllocateRegion(ElementType(42), 1)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

			_, err = h.AllocateRegion(Int32, -1)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
		})
	}
}

func TestGrowRegionKeepsOldReadable(t *testing.T) {
	for name, h := range handles(t) {
		t.Run(name, func(t *testing.T) {
			r, err := h.AllocateRegion(Int64, 4)
			require.NoError(t, err)
			r.Bytes()[0] = 0xAB

			grown, err := h.GrowRegion(r, 16)
			require.NoError(t, err)
			assert.Equal(t, 16, grown.Len())
			assert.Equal(t, Int64, grown.ElementType())
			assert.Zero(t, grown.Bytes()[0], "grown regions start zeroed")
			assert.Equal(t, byte(0xAB), r.Bytes()[0], "retired region stays readable")

			_, err = h.GrowRegion(grown, 2)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
			_, err = h.GrowRegion(nil, 2)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
		})
	}
}

func TestGrowRegionRejectsForeignRegion(t *testing.T) {
	a := NewHeapStorage(0)
	b := NewHeapStorage(0)
	r, err := a.AllocateRegion(Float32, 2)
	require.NoError(t, err)

	_, err = b.GrowRegion(r, 4)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestHeapQuota(t *testing.T) {
	h := NewHeapStorage(64)
	r, err := h.AllocateRegion(Float64, 8)
	require.NoError(t, err)

	_, err = h.GrowRegion(r, 9)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrAllocation))

	st := h.Stats()
	assert.Equal(t, int64(64), st.LiveBytes, "failed grow leaves accounting untouched")
	assert.Equal(t, 1, st.LiveRegions)
}

func TestHeapStatsAfterGrow(t *testing.T) {
	h := NewHeapStorage(0)
	r, err := h.AllocateRegion(Int32, 2)
	require.NoError(t, err)
	_, err = h.GrowRegion(r, 4)
	require.NoError(t, err)

	st := h.Stats()
	assert.Equal(t, int64(16), st.LiveBytes)
	assert.Equal(t, 1, st.LiveRegions)
}

func TestMemoryMapChunksAndClose(t *testing.T) {
	if !mmapSupported {
		t.Skip("mmap not supported")
	}
	dir := t.TempDir()
	s, err := NewMemoryMapStorage(MemoryMapOptions{Dir: dir, Purpose: PurposeMassList, ChunkSize: 4096})
	require.NoError(t, err)

	r, err := s.AllocateRegion(Float64, 100)
	require.NoError(t, err)
	big, err := s.AllocateRegion(Float64, 1000) // larger than a chunk
	require.NoError(t, err)
	assert.Len(t, big.Bytes(), 8000)

	grown, err := s.GrowRegion(r, 200)
	require.NoError(t, err)
	assert.Equal(t, 200, grown.Len())

	st := s.Stats()
	assert.GreaterOrEqual(t, st.Chunks, 2)
	assert.Equal(t, int64(800), st.RetiredBytes)
	assert.Equal(t, int64(8000+1600), st.LiveBytes)
	assert.Equal(t, 2, st.LiveRegions)

	files, err := filepath.Glob(filepath.Join(dir, PurposeMassList+"-*.chunk"))
	require.NoError(t, err)
	assert.Len(t, files, st.Chunks)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	files, err = filepath.Glob(filepath.Join(dir, "*.chunk"))
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = s.AllocateRegion(Int32, 1)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStorage))
}

func TestMemoryMapKeepFiles(t *testing.T) {
	if !mmapSupported {
		t.Skip("mmap not supported")
	}
	dir := t.TempDir()
	s, err := NewMemoryMapStorage(MemoryMapOptions{Dir: dir, ChunkSize: 4096, KeepFiles: true})
	require.NoError(t, err)

	r, err := s.AllocateRegion(Int32, 4)
	require.NoError(t, err)
	copy(r.Bytes(), []byte{1, 2, 3, 4})
	require.NoError(t, s.Close())

	files, err := filepath.Glob(filepath.Join(dir, PurposeFeatureList+"-*.chunk"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data[:4], "writes reach the chunk file")
}

func TestMemoryMapQuota(t *testing.T) {
	if !mmapSupported {
		t.Skip("mmap not supported")
	}
	s, err := NewMemoryMapStorage(MemoryMapOptions{Dir: t.TempDir(), ChunkSize: 4096, QuotaBytes: 4096})
	require.NoError(t, err)
	defer s.Close()

	r, err := s.AllocateRegion(Float64, 256) // 2048 bytes
	require.NoError(t, err)
	_, err = s.GrowRegion(r, 512) // needs a second chunk
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrAllocation))
	assert.Equal(t, int64(2048), s.Stats().LiveBytes)
}

func TestMaxMapCount(t *testing.T) {
	if !mmapSupported {
		t.Skip("mmap not supported")
	}
	saved := MaxMapCount
	MaxMapCount = mapCount.Load()
	t.Cleanup(func() { MaxMapCount = saved })

	s, err := NewMemoryMapStorage(MemoryMapOptions{Dir: t.TempDir(), ChunkSize: 4096})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.AllocateRegion(Int32, 1)
	assert.ErrorIs(t, err, ErrMaxMapCountReached)
}

func TestFaultInjectionHandle(t *testing.T) {
	h := NewFaultInjectionHandle(NewHeapStorage(0))
	r, err := h.AllocateRegion(Float32, 2)
	require.NoError(t, err)

	h.FailGrowAfter(1)
	r, err = h.GrowRegion(r, 4)
	require.NoError(t, err)
	_, err = h.GrowRegion(r, 8)
	assert.ErrorIs(t, err, ErrInjectedAllocation)

	h.FailAllocate()
	_, err = h.AllocateRegion(Int32, 1)
	assert.ErrorIs(t, err, ErrInjectedAllocation)

	h.ClearErrors()
	_, err = h.GrowRegion(r, 8)
	require.NoError(t, err)

	allocs, grows := h.Calls()
	assert.Equal(t, 1, allocs)
	assert.Equal(t, 2, grows)
}

func TestElementType(t *testing.T) {
	assert.Equal(t, 4, Int32.Size())
	assert.Equal(t, 4, Float32.Size())
	assert.Equal(t, 8, Float64.Size())
	assert.Equal(t, 8, Int64.Size())
	assert.Equal(t, "float64", Float64.String())
	assert.Equal(t, 0, ElementType(9).Size())
}

func TestMappedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "block")
	require.NoError(t, os.WriteFile(path, []byte("tabula"), 0o600))

	m, err := OpenMappedFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("tabula"), m.Bytes())
	assert.Equal(t, 6, m.Len())
	if mmapSupported {
		assert.True(t, m.Mapped())
	}
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Nil(t, m.Bytes())

	empty := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	m, err = OpenMappedFile(empty)
	require.NoError(t, err)
	assert.Zero(t, m.Len())
	require.NoError(t, m.Close())

	_, err = OpenMappedFile(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeStorage))
}

func TestForPurposeNamesChunkFiles(t *testing.T) {
	if !MMapSupported() {
		t.Skip("mmap not supported")
	}
	constructors := map[string]func(MemoryMapOptions) (*MemoryMapStorage, error){
		PurposeFeatureList: ForFeatureList,
		PurposeRawDataFile: ForRawDataFile,
		PurposeMassList:    ForMassList,
	}
	for purpose, create := range constructors {
		t.Run(purpose, func(t *testing.T) {
			for name, open := range map[string]func() (*MemoryMapStorage, error){
				"constructor": func() (*MemoryMapStorage, error) {
					return create(MemoryMapOptions{Dir: t.TempDir(), Purpose: "ignored", ChunkSize: 4096, KeepFiles: true})
				},
				"dispatch": func() (*MemoryMapStorage, error) {
					return ForPurpose(purpose, MemoryMapOptions{Dir: t.TempDir(), ChunkSize: 4096, KeepFiles: true})
				},
			} {
				s, err := open()
				require.NoError(t, err, name)
				_, err = s.AllocateRegion(Int32, 8)
				require.NoError(t, err, name)
				require.NoError(t, s.Close(), name)

				files, err := filepath.Glob(filepath.Join(s.Dir(), "*.chunk"))
				require.NoError(t, err, name)
				require.Len(t, files, 1, name)
				assert.True(t, strings.HasPrefix(filepath.Base(files[0]), purpose+"-"), "%s: %s", name, files[0])
			}
		})
	}
}

func TestForPurposeDefaultsAndRejects(t *testing.T) {
	_, err := ForPurpose("spectra", MemoryMapOptions{Dir: t.TempDir()})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	if !MMapSupported() {
		return
	}
	s, err := ForPurpose("", MemoryMapOptions{Dir: t.TempDir(), ChunkSize: 4096, KeepFiles: true})
	require.NoError(t, err)
	_, err = s.AllocateRegion(Float32, 1)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	files, err := filepath.Glob(filepath.Join(s.Dir(), PurposeFeatureList+"-*.chunk"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}
