package column

import (
	"github.com/ajitpratap0/tabula/pkg/storage"
)

// FactoryOptions tunes the columns a Factory creates.
type FactoryOptions struct {
	// GrowthFactor scales capacity on resize. Values below 1 select
	// DefaultGrowthFactor; exactly 1 disables over-allocation.
	GrowthFactor float64
}

// Factory picks a column backend for a logical type. It holds no state
// besides its options and is safe for concurrent use.
//
//	type    | no handle               | handle
//	Int     | array int32             | mapped int32
//	Double  | array float64           | mapped float64
//	Float   | array float32           | mapped float32
//	Enum    | array int32 ordinals    | mapped int32 ordinals
//	Range   | Objects[Interval]       | Objects[Interval]
//	other   | Objects[any]            | Objects[any]
type Factory struct {
	growth float64
}

// NewFactory creates a Factory.
func NewFactory(opts FactoryOptions) *Factory {
	growth := opts.GrowthFactor
	if growth < 1 {
		growth = DefaultGrowthFactor
	}
	return &Factory{growth: growth}
}

var defaultFactory = NewFactory(FactoryOptions{})

// GrowthFactor returns the growth factor applied to created columns.
func (f *Factory) GrowthFactor() float64 { return f.growth }

// CreateForType returns a column for dt. With a nil handle the column is
// array-backed; otherwise types with a mapped form are backed by regions from
// h. Unknown types get a generic object column, so dispatch never fails;
// only allocation does.
func (f *Factory) CreateForType(dt DataType, h storage.Handle, initial int) (Column, error) {
	switch dt {
	case Int, Enum:
		return createNullable[int32](dt, h, initial, f.growth)
	case Double:
		return createNullable[float64](dt, h, initial, f.growth)
	case Float:
		return createNullable[float32](dt, h, initial, f.growth)
	case Range:
		return createObjects[Interval](dt, initial, f.growth)
	default:
		return createObjects[any](dt, initial, f.growth)
	}
}

func createObjects[T any](dt DataType, initial int, growth float64) (Column, error) {
	c, err := newObjects[T](dt, initial, growth)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func createNullable[T Primitive](dt DataType, h storage.Handle, initial int, growth float64) (Column, error) {
	var (
		c   *Nullable[T]
		err error
	)
	if h == nil {
		c, err = newArrayNullable[T](dt, initial, growth)
	} else {
		c, err = newMappedNullable[T](dt, h, initial, growth)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateInMemory returns an array-backed column for dt.
func (f *Factory) CreateInMemory(dt DataType, initial int) (Column, error) {
	return f.CreateForType(dt, nil, initial)
}

// CreateSynchronized is CreateForType followed by WrapSynchronized. The
// unwrapped column is never returned.
func (f *Factory) CreateSynchronized(dt DataType, h storage.Handle, initial int) (Column, error) {
	c, err := f.CreateForType(dt, h, initial)
	if err != nil {
		return nil, err
	}
	return f.WrapSynchronized(c), nil
}

// WrapSynchronized decorates col for concurrent use. Primitive columns keep
// their primitive accessors. A column that is already synchronized is
// returned unchanged.
func (f *Factory) WrapSynchronized(col Column) Column {
	if IsSynchronized(col) {
		return col
	}
	switch c := col.(type) {
	case NullableColumn[float64]:
		return newSynchronizedNullable(c)
	case NullableColumn[float32]:
		return newSynchronizedNullable(c)
	case NullableColumn[int32]:
		return newSynchronizedNullable(c)
	default:
		return newSynchronized(col)
	}
}

// CreateForType calls CreateForType on the default factory.
func CreateForType(dt DataType, h storage.Handle, initial int) (Column, error) {
	return defaultFactory.CreateForType(dt, h, initial)
}

// CreateInMemory calls CreateInMemory on the default factory.
func CreateInMemory(dt DataType, initial int) (Column, error) {
	return defaultFactory.CreateInMemory(dt, initial)
}

// CreateSynchronized calls CreateSynchronized on the default factory.
func CreateSynchronized(dt DataType, h storage.Handle, initial int) (Column, error) {
	return defaultFactory.CreateSynchronized(dt, h, initial)
}

// WrapSynchronized calls WrapSynchronized on the default factory.
func WrapSynchronized(col Column) Column {
	return defaultFactory.WrapSynchronized(col)
}
