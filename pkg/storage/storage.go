// Package storage provides the handles that back mapped columns with durable
// or shared memory.
//
// A Handle hands out Regions: contiguous, 8-byte aligned spans sized for a
// number of primitive elements. Columns never allocate storage themselves;
// they ask their handle for a region sized to their capacity and ask again
// (GrowRegion) when they resize.
//
// Regions replaced by GrowRegion are retired. A retired region stays readable
// and writable until its handle is closed, which lets a column copy from it
// while late writers still reference it; its bytes only count as reclaimable.
package storage

import (
	"fmt"

	"github.com/ajitpratap0/tabula/pkg/errors"
)

// ElementType is the primitive type stored in a region.
type ElementType int

const (
	Int32 ElementType = iota
	Float32
	Float64
	Int64
)

// Size returns the element width in bytes.
func (e ElementType) Size() int {
	switch e {
	case Int32, Float32:
		return 4
	case Float64, Int64:
		return 8
	default:
		return 0
	}
}

func (e ElementType) String() string {
	switch e {
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int64:
		return "int64"
	default:
		return fmt.Sprintf("ElementType(%d)", int(e))
	}
}

// Region is a span of storage holding Len elements of one ElementType.
type Region interface {
	// Bytes returns the region's memory, exactly Len()*ElementType().Size()
	// bytes long and 8-byte aligned.
	Bytes() []byte
	// Len returns the number of elements the region holds.
	Len() int
	ElementType() ElementType
}

// Handle is a provider of regions. Implementations are safe for concurrent use.
type Handle interface {
	// AllocateRegion returns a new zeroed region for size elements.
	AllocateRegion(elem ElementType, size int) (Region, error)
	// GrowRegion returns a new region of newSize elements of the same
	// element type and retires existing. The new region is zeroed; copying
	// values across is the caller's job. On error existing is untouched.
	GrowRegion(existing Region, newSize int) (Region, error)
}

// Stats describes what a handle currently holds.
type Stats struct {
	LiveBytes    int64 `json:"live_bytes"`
	RetiredBytes int64 `json:"retired_bytes"`
	LiveRegions  int   `json:"live_regions"`
	Chunks       int   `json:"chunks"`
	MappedBytes  int64 `json:"mapped_bytes"`
}

func validateRequest(elem ElementType, size int) error {
	if elem.Size() == 0 {
		return errors.Newf(errors.ErrorTypeValidation, "unknown element type %d", int(elem))
	}
	if size < 0 {
		return errors.Newf(errors.ErrorTypeValidation, "negative region size %d", size)
	}
	return nil
}

func validateGrow(existing Region, newSize int) error {
	if existing == nil {
		return errors.New(errors.ErrorTypeValidation, "cannot grow a nil region")
	}
	if newSize < existing.Len() {
		return errors.Newf(errors.ErrorTypeValidation,
			"cannot shrink region from %d to %d elements", existing.Len(), newSize)
	}
	return nil
}

// alignedBytes rounds n up to a multiple of 8.
func alignedBytes(n int64) int64 {
	return (n + 7) &^ 7
}
