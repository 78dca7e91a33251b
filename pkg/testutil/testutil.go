// Package testutil provides test helpers shared by the tabula packages.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/tabula/pkg/logger"
	"github.com/ajitpratap0/tabula/pkg/storage"
)

// UseTestLogger routes the global logger to the test output until the test
// completes, then restores the previous logger.
func UseTestLogger(t testing.TB) *zap.Logger {
	t.Helper()
	l := zaptest.NewLogger(t)
	prev := logger.Get()
	logger.Set(l)
	t.Cleanup(func() { logger.Set(prev) })
	return l
}

// TestContext creates a test context with a 30-second timeout that is
// cancelled when the test completes.
func TestContext(t testing.TB) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Backends returns the storage handles primitive columns are tested
// against, keyed by name. The "array" entry is nil, which selects plain Go
// slices. Memory-mapped storage uses small chunks so that growth crosses
// chunk boundaries, and is closed when the test completes.
func Backends(t testing.TB) map[string]storage.Handle {
	t.Helper()
	UseTestLogger(t)

	out := map[string]storage.Handle{
		"array": nil,
		"heap":  storage.NewHeapStorage(0),
	}
	if storage.MMapSupported() {
		mm, err := storage.NewMemoryMapStorage(storage.MemoryMapOptions{Dir: t.TempDir(), ChunkSize: 4096})
		require.NoError(t, err)
		t.Cleanup(func() { _ = mm.Close() })
		out["mmap"] = mm
	}
	return out
}

// Values is the read side of a column.
type Values interface {
	Capacity() int
	Get(index int) (any, error)
}

// AssertSameValues checks that the first n slots of want and got hold
// equal values. got may be larger than n.
func AssertSameValues(t testing.TB, want, got Values, n int) {
	t.Helper()
	require.GreaterOrEqual(t, got.Capacity(), n)
	for i := 0; i < n; i++ {
		w, err := want.Get(i)
		require.NoError(t, err)
		g, err := got.Get(i)
		require.NoError(t, err)
		assert.Equal(t, w, g, "index %d", i)
	}
}
