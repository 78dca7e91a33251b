// Package column implements the growable, nullable data columns that back the
// attributes of large tabular datasets.
//
// Every column satisfies Column, a boxed view where a nil value is the logical
// null. Numeric columns additionally satisfy NullableColumn, which exposes
// unboxed accessors and encodes null as a reserved sentinel per type:
//
//	double (float64)  NaN
//	float  (float32)  NaN
//	int    (int32)    math.MinInt32
//
// A column is either array-backed (process memory) or mapped, backed by a
// region obtained from a storage.Handle. The backend is fixed at construction
// and invisible through the contract.
//
// Columns only grow, through EnsureCapacity. Element reads and writes are
// atomic per slot, but a plain column is not safe for resizes that race other
// access; share such columns through WrapSynchronized, which serializes
// resizes behind a StampedLock and lets reads and writes proceed optimistically.
//
// Basic usage:
//
//	col, err := column.CreateForType(column.Double, nil, 4)
//	if err != nil {
//		return err
//	}
//	col.Set(0, 1.5)
//	col.EnsureCapacity(10)
//	v, _ := col.Get(0) // 1.5
//	v, _ = col.Get(5)  // nil
package column

import (
	"fmt"
	"math"
)

// DataType is the logical type tag used to pick a backend.
type DataType int

const (
	Int DataType = iota
	Double
	Float
	Enum
	Range
	Custom
)

func (d DataType) String() string {
	switch d {
	case Int:
		return "int"
	case Double:
		return "double"
	case Float:
		return "float"
	case Enum:
		return "enum"
	case Range:
		return "range"
	case Custom:
		return "custom"
	default:
		return fmt.Sprintf("DataType(%d)", int(d))
	}
}

// ParseDataType maps a type name to its tag. Unknown names map to Custom,
// which is served by the generic object backend.
func ParseDataType(name string) DataType {
	switch name {
	case "int", "integer":
		return Int
	case "double", "float64":
		return Double
	case "float", "float32":
		return Float
	case "enum":
		return Enum
	case "range":
		return Range
	default:
		return Custom
	}
}

// Column is the contract every column satisfies.
type Column interface {
	// Get returns the value at index, or nil for a null slot.
	Get(index int) (any, error)
	// Set stores value at index and returns the previous value. A nil value
	// clears the slot.
	Set(index int, value any) (any, error)
	// Capacity returns the number of addressable slots.
	Capacity() int
	// EnsureCapacity grows the column to at least required slots. It reports
	// whether this call grew the column.
	EnsureCapacity(required int) (bool, error)
	// Type returns the logical type the column was created for.
	Type() DataType
}

// Primitive lists the scalar types with sentinel-encoded nulls.
type Primitive interface {
	float64 | float32 | int32
}

// NullableColumn is a Column of a primitive type whose nulls are encoded by
// NullValue. GetPrimitive and SetPrimitive are the storage path; the boxed
// Get and Set are defined in terms of them.
type NullableColumn[T Primitive] interface {
	Column
	GetPrimitive(index int) (T, error)
	SetPrimitive(index int, value T) (T, error)
	NullValue() T
	IsNull(value T) bool
	// Clear stores NullValue at index.
	Clear(index int) error
}

type (
	DoubleColumn = NullableColumn[float64]
	FloatColumn  = NullableColumn[float32]
	IntColumn    = NullableColumn[int32]
)

// resizer is implemented by columns that own a backend. resize is the only
// place a backend is swapped; it is reached from EnsureCapacity and from the
// synchronized wrapper's locked resize path.
type resizer interface {
	resize(required int) error
}

// DefaultGrowthFactor over-allocates on growth to amortize repeated small
// appends.
const DefaultGrowthFactor = 1.5

// nextCapacity returns the capacity a column grows to from current when at
// least required slots are needed.
func nextCapacity(current, required int, factor float64) int {
	if factor <= 1 {
		return required
	}
	grown := int(math.Ceil(float64(current) * factor))
	return max(required, grown)
}
