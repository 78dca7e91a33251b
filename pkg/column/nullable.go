package column

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tabula/pkg/errors"
	"github.com/ajitpratap0/tabula/pkg/logger"
	"github.com/ajitpratap0/tabula/pkg/metrics"
	"github.com/ajitpratap0/tabula/pkg/storage"
)

// Nullable is the primitive column shared by every backend. The backend only
// supplies buffers; bounds checks, sentinel handling and the boxed bridge are
// implemented here once.
//
// Reads and writes may run concurrently. Resizes must not race other access
// unless the column is wrapped with WrapSynchronized.
type Nullable[T Primitive] struct {
	codec    *codec[T]
	dataType DataType
	backend  backend
	growth   float64
	buf      atomic.Pointer[bufferRef]
}

func newNullable[T Primitive](dt DataType, b backend, initial int, growth float64) (*Nullable[T], error) {
	if initial < 0 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "negative initial capacity %d", initial)
	}
	c := &Nullable[T]{
		codec:    codecFor[T](),
		dataType: dt,
		backend:  b,
		growth:   growth,
	}
	buf, err := b.allocate(initial)
	if err != nil {
		return nil, allocationError(err, c.codec.name, initial)
	}
	fill(buf, 0, c.codec.nullBits())
	c.buf.Store(&bufferRef{buf})
	return c, nil
}

func newArrayNullable[T Primitive](dt DataType, initial int, growth float64) (*Nullable[T], error) {
	return newNullable[T](dt, arrayBackend{width: codecFor[T]().width()}, initial, growth)
}

func newMappedNullable[T Primitive](dt DataType, h storage.Handle, initial int, growth float64) (*Nullable[T], error) {
	return newNullable[T](dt, mappedBackend{handle: h, elem: codecFor[T]().elem}, initial, growth)
}

// NewDouble creates a double column. A nil handle makes it array-backed.
func NewDouble(initial int, h storage.Handle) (*Nullable[float64], error) {
	if h == nil {
		return newArrayNullable[float64](Double, initial, DefaultGrowthFactor)
	}
	return newMappedNullable[float64](Double, h, initial, DefaultGrowthFactor)
}

// NewFloat creates a float column. A nil handle makes it array-backed.
func NewFloat(initial int, h storage.Handle) (*Nullable[float32], error) {
	if h == nil {
		return newArrayNullable[float32](Float, initial, DefaultGrowthFactor)
	}
	return newMappedNullable[float32](Float, h, initial, DefaultGrowthFactor)
}

// NewInt creates an int column. A nil handle makes it array-backed.
func NewInt(initial int, h storage.Handle) (*Nullable[int32], error) {
	if h == nil {
		return newArrayNullable[int32](Int, initial, DefaultGrowthFactor)
	}
	return newMappedNullable[int32](Int, h, initial, DefaultGrowthFactor)
}

func (c *Nullable[T]) current() buffer { return c.buf.Load().buffer }

// Type implements Column.
func (c *Nullable[T]) Type() DataType { return c.dataType }

// Backend names the backend family, "array" or "mapped".
func (c *Nullable[T]) Backend() string { return c.backend.kind() }

// Capacity implements Column.
func (c *Nullable[T]) Capacity() int { return c.current().length() }

// NullValue returns the sentinel stored for null slots.
func (c *Nullable[T]) NullValue() T { return c.codec.null }

// IsNull reports whether value is the null sentinel.
func (c *Nullable[T]) IsNull(value T) bool { return c.codec.isNull(value) }

// GetPrimitive returns the raw value at index; null slots return NullValue.
func (c *Nullable[T]) GetPrimitive(index int) (T, error) {
	b := c.current()
	if index < 0 || index >= b.length() {
		var zero T
		return zero, errors.OutOfBounds(index, b.length())
	}
	return c.codec.fromBits(b.load(index)), nil
}

// SetPrimitive stores value at index and returns the previous raw value.
// Any value IsNull accepts is stored as NullValue.
func (c *Nullable[T]) SetPrimitive(index int, value T) (T, error) {
	b := c.current()
	if index < 0 || index >= b.length() {
		var zero T
		return zero, errors.OutOfBounds(index, b.length())
	}
	if c.codec.isNull(value) {
		value = c.codec.null
	}
	return c.codec.fromBits(b.swap(index, c.codec.toBits(value))), nil
}

// Clear stores NullValue at index.
func (c *Nullable[T]) Clear(index int) error {
	_, err := c.SetPrimitive(index, c.codec.null)
	return err
}

// Get implements Column. Null slots return nil.
func (c *Nullable[T]) Get(index int) (any, error) {
	v, err := c.GetPrimitive(index)
	if err != nil {
		return nil, err
	}
	return c.box(v), nil
}

// Set implements Column. nil clears the slot; numeric values are converted
// only when the conversion is exact for the column type.
func (c *Nullable[T]) Set(index int, value any) (any, error) {
	v := c.codec.null
	if value != nil {
		var ok bool
		v, ok = c.codec.fromBoxed(value)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeValidation,
				"cannot store %T in %s column", value, c.codec.name)
		}
	}
	old, err := c.SetPrimitive(index, v)
	if err != nil {
		return nil, err
	}
	return c.box(old), nil
}

func (c *Nullable[T]) box(v T) any {
	if c.codec.isNull(v) {
		return nil
	}
	return v
}

// EnsureCapacity implements Column.
func (c *Nullable[T]) EnsureCapacity(required int) (bool, error) {
	if required <= c.Capacity() {
		return false, nil
	}
	if err := c.resize(required); err != nil {
		return false, err
	}
	return true, nil
}

// resize swaps in a larger buffer holding the old values followed by nulls.
// On failure the current buffer is left in place.
func (c *Nullable[T]) resize(required int) error {
	cur := c.current()
	if required <= cur.length() {
		return nil
	}

	timer := metrics.NewTimer("resize")
	size := nextCapacity(cur.length(), required, c.growth)
	next, err := c.backend.grow(cur, size)
	if err != nil {
		logger.Warn("column resize failed",
			zap.String("type", c.codec.name),
			zap.String("backend", c.backend.kind()),
			zap.Int("capacity", cur.length()),
			zap.Int("requested", size),
			zap.Error(err))
		return allocationError(err, c.codec.name, size)
	}

	for i := 0; i < cur.length(); i++ {
		next.store(i, cur.load(i))
	}
	fill(next, cur.length(), c.codec.nullBits())
	c.buf.Store(&bufferRef{next})

	elapsed := timer.Stop()
	metrics.ObserveResize(c.backend.kind(), c.codec.name, elapsed)
	logger.Debug("column resized",
		zap.String("type", c.codec.name),
		zap.String("backend", c.backend.kind()),
		zap.Int("from", cur.length()),
		zap.Int("to", size),
		zap.Duration("took", elapsed))
	return nil
}

func fill(b buffer, from int, bits uint64) {
	for i := from; i < b.length(); i++ {
		b.store(i, bits)
	}
}

func allocationError(err error, typeName string, size int) error {
	if errors.IsType(err, errors.ErrorTypeAllocation) {
		return err
	}
	return errors.Wrap(err, errors.ErrorTypeAllocation, "failed to allocate "+typeName+" column").
		WithDetail("capacity", size)
}
