package lockfree

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptimisticReadValidatesWithoutWriters(t *testing.T) {
	l := NewStampedLock()

	stamp := l.TryOptimisticRead()
	require.NotZero(t, stamp)
	assert.True(t, l.Validate(stamp))

	// Read locks leave stamps valid.
	l.RLock()
	assert.True(t, l.Validate(stamp))
	l.RUnlock()
	assert.True(t, l.Validate(stamp))
}

func TestWriteLockInvalidatesStamp(t *testing.T) {
	l := NewStampedLock()
	stamp := l.TryOptimisticRead()

	l.Lock()
	assert.Zero(t, l.TryOptimisticRead(), "no stamp while a writer holds the lock")
	assert.False(t, l.Validate(stamp))
	l.Unlock()

	assert.False(t, l.Validate(stamp), "stamp stays invalid after the writer leaves")
	assert.True(t, l.Validate(l.TryOptimisticRead()))
	assert.Zero(t, l.Version()%2)
}

func TestZeroStampNeverValidates(t *testing.T) {
	l := NewStampedLock()
	assert.False(t, l.Validate(0))
}

func TestWriterExcludesReaders(t *testing.T) {
	l := NewStampedLock()
	var inWrite atomic.Bool
	var violations atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				l.RLock()
				if inWrite.Load() {
					violations.Add(1)
				}
				l.RUnlock()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 200; j++ {
			l.Lock()
			inWrite.Store(true)
			time.Sleep(time.Microsecond)
			inWrite.Store(false)
			l.Unlock()
		}
	}()

	wg.Wait()
	assert.Zero(t, violations.Load())
}
