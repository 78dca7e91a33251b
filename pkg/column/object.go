package column

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tabula/pkg/errors"
	"github.com/ajitpratap0/tabula/pkg/logger"
	"github.com/ajitpratap0/tabula/pkg/metrics"
)

// Interval is a closed numeric range, the value type of Range columns.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

func (r Interval) String() string {
	return fmt.Sprintf("[%g, %g]", r.Lower, r.Upper)
}

// Contains reports whether v lies within the interval.
func (r Interval) Contains(v float64) bool {
	return v >= r.Lower && v <= r.Upper
}

type objectSlots[T any] struct {
	slots []atomic.Pointer[T]
}

// Objects is an array-backed column of arbitrary values. A nil slot is null.
// It serves every type without a primitive representation and never uses a
// storage handle.
type Objects[T any] struct {
	dataType DataType
	growth   float64
	cur      atomic.Pointer[objectSlots[T]]
}

func newObjects[T any](dt DataType, initial int, growth float64) (*Objects[T], error) {
	if initial < 0 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "negative initial capacity %d", initial)
	}
	c := &Objects[T]{dataType: dt, growth: growth}
	c.cur.Store(&objectSlots[T]{slots: make([]atomic.Pointer[T], initial)})
	return c, nil
}

// NewRanges creates an empty Range column.
func NewRanges(initial int) (*Objects[Interval], error) {
	return newObjects[Interval](Range, initial, DefaultGrowthFactor)
}

// NewObjects creates an empty column of arbitrary values tagged dt.
func NewObjects(dt DataType, initial int) (*Objects[any], error) {
	return newObjects[any](dt, initial, DefaultGrowthFactor)
}

func (c *Objects[T]) Type() DataType { return c.dataType }

func (c *Objects[T]) Capacity() int { return len(c.cur.Load().slots) }

// Value returns the value at index. ok is false for a null slot.
func (c *Objects[T]) Value(index int) (v T, ok bool, err error) {
	slots := c.cur.Load().slots
	if index < 0 || index >= len(slots) {
		return v, false, errors.OutOfBounds(index, len(slots))
	}
	if p := slots[index].Load(); p != nil {
		return *p, true, nil
	}
	return v, false, nil
}

// SetValue stores v at index and returns the previous value, if any.
func (c *Objects[T]) SetValue(index int, v T) (old T, ok bool, err error) {
	return c.swap(index, &v)
}

// Clear nulls the slot at index.
func (c *Objects[T]) Clear(index int) error {
	_, _, err := c.swap(index, nil)
	return err
}

func (c *Objects[T]) swap(index int, p *T) (old T, ok bool, err error) {
	slots := c.cur.Load().slots
	if index < 0 || index >= len(slots) {
		return old, false, errors.OutOfBounds(index, len(slots))
	}
	if prev := slots[index].Swap(p); prev != nil {
		return *prev, true, nil
	}
	return old, false, nil
}

func (c *Objects[T]) Get(index int) (any, error) {
	v, ok, err := c.Value(index)
	if err != nil || !ok {
		return nil, err
	}
	return v, nil
}

func (c *Objects[T]) Set(index int, value any) (any, error) {
	var p *T
	if value != nil {
		v, ok := value.(T)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeValidation,
				"cannot store %T in %s column", value, c.dataType)
		}
		p = &v
	}
	old, ok, err := c.swap(index, p)
	if err != nil || !ok {
		return nil, err
	}
	return old, nil
}

func (c *Objects[T]) EnsureCapacity(required int) (bool, error) {
	if required <= c.Capacity() {
		return false, nil
	}
	if err := c.resize(required); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Objects[T]) resize(required int) error {
	cur := c.cur.Load().slots
	if required <= len(cur) {
		return nil
	}
	timer := metrics.NewTimer("resize")
	size := nextCapacity(len(cur), required, c.growth)
	next := make([]atomic.Pointer[T], size)
	for i := range cur {
		next[i].Store(cur[i].Load())
	}
	c.cur.Store(&objectSlots[T]{slots: next})

	elapsed := timer.Stop()
	metrics.ObserveResize("object", c.dataType.String(), elapsed)
	logger.Debug("column resized",
		zap.String("type", c.dataType.String()),
		zap.String("backend", "object"),
		zap.Int("from", len(cur)),
		zap.Int("to", size))
	return nil
}
