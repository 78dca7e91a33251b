package column

import (
	"github.com/ajitpratap0/tabula/pkg/lockfree"
	"github.com/ajitpratap0/tabula/pkg/metrics"
)

// Synchronized decorates a column for use by many goroutines.
//
// Get goes straight to the delegate. Set and Capacity run optimistically
// against a StampedLock and are repeated under the read lock if a resize
// started meanwhile. Resizes take the write lock, so at most one is in flight
// and none overlaps a locked retry.
//
// The delegate must not be resized through any other reference.
type Synchronized struct {
	delegate Column
	token    *lockfree.StampedLock
}

func newSynchronized(delegate Column) *Synchronized {
	return &Synchronized{delegate: delegate, token: lockfree.NewStampedLock()}
}

func (s *Synchronized) synchronized() {}

// Type implements Column.
func (s *Synchronized) Type() DataType { return s.delegate.Type() }

// Get implements Column without locking.
func (s *Synchronized) Get(index int) (any, error) {
	return s.delegate.Get(index)
}

// Set implements Column. If the write raced a resize it is re-issued under
// the read lock; the previous value reported is the one seen by the first
// attempt whenever that attempt succeeded.
func (s *Synchronized) Set(index int, value any) (any, error) {
	return optimisticWrite(s.token, func() (any, error) {
		return s.delegate.Set(index, value)
	})
}

// Capacity implements Column.
func (s *Synchronized) Capacity() int {
	stamp := s.token.TryOptimisticRead()
	c := s.delegate.Capacity()
	if s.token.Validate(stamp) {
		return c
	}
	metrics.OptimisticRetries.WithLabelValues("capacity").Inc()
	s.token.RLock()
	defer s.token.RUnlock()
	return s.delegate.Capacity()
}

// EnsureCapacity implements Column.
func (s *Synchronized) EnsureCapacity(required int) (bool, error) {
	if required <= s.Capacity() {
		return false, nil
	}
	return s.lockedResize(required)
}

// lockedResize grows the delegate under the write lock. A resize that won
// the race while this caller waited makes the call a no-op.
func (s *Synchronized) lockedResize(required int) (bool, error) {
	s.token.Lock()
	defer s.token.Unlock()

	if required <= s.delegate.Capacity() {
		return false, nil
	}
	if r, ok := s.delegate.(resizer); ok {
		if err := r.resize(required); err != nil {
			return false, err
		}
		return true, nil
	}
	return s.delegate.EnsureCapacity(required)
}

// optimisticWrite runs write under an optimistic stamp and, if the stamp does
// not validate, runs it again under the read lock.
func optimisticWrite[R any](token *lockfree.StampedLock, write func() (R, error)) (R, error) {
	stamp := token.TryOptimisticRead()
	first, err := write()
	if token.Validate(stamp) {
		return first, err
	}

	metrics.OptimisticRetries.WithLabelValues("set").Inc()
	token.RLock()
	defer token.RUnlock()
	retried, retryErr := write()
	if err != nil || retryErr != nil {
		return retried, retryErr
	}
	return first, nil
}

// SynchronizedNullable is Synchronized for primitive columns. It keeps the
// unboxed accessors, with SetPrimitive and Clear following the Set protocol.
type SynchronizedNullable[T Primitive] struct {
	*Synchronized
	typed NullableColumn[T]
}

func newSynchronizedNullable[T Primitive](delegate NullableColumn[T]) *SynchronizedNullable[T] {
	return &SynchronizedNullable[T]{Synchronized: newSynchronized(delegate), typed: delegate}
}

// GetPrimitive implements NullableColumn without locking.
func (s *SynchronizedNullable[T]) GetPrimitive(index int) (T, error) {
	return s.typed.GetPrimitive(index)
}

// SetPrimitive implements NullableColumn.
func (s *SynchronizedNullable[T]) SetPrimitive(index int, value T) (T, error) {
	return optimisticWrite(s.token, func() (T, error) {
		return s.typed.SetPrimitive(index, value)
	})
}

func (s *SynchronizedNullable[T]) NullValue() T { return s.typed.NullValue() }

func (s *SynchronizedNullable[T]) IsNull(value T) bool { return s.typed.IsNull(value) }

// Clear implements NullableColumn.
func (s *SynchronizedNullable[T]) Clear(index int) error {
	_, err := s.SetPrimitive(index, s.typed.NullValue())
	return err
}

// IsSynchronized reports whether col was produced by WrapSynchronized or
// CreateSynchronized.
func IsSynchronized(col Column) bool {
	_, ok := col.(interface{ synchronized() })
	return ok
}
