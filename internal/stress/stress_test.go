package stress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tabula/pkg/column"
	"github.com/ajitpratap0/tabula/pkg/errors"
	"github.com/ajitpratap0/tabula/pkg/storage"
	"github.com/ajitpratap0/tabula/pkg/testutil"
)

func smallConfig() Config {
	return Config{Writers: 4, Writes: 500, ResizeStep: 16, ResizePause: time.Microsecond}
}

func TestRunSynchronizedLosesNothing(t *testing.T) {
	for _, dt := range []column.DataType{column.Double, column.Float, column.Int, column.Range, column.Custom} {
		t.Run(dt.String(), func(t *testing.T) {
			col, err := column.CreateSynchronized(dt, nil, 1)
			require.NoError(t, err)

			report, err := Run(testutil.TestContext(t), col, smallConfig(), testutil.UseTestLogger(t))
			require.NoError(t, err)
			assert.Equal(t, 0, report.LostWrites)
			assert.Equal(t, 2000, report.Writes)
			assert.GreaterOrEqual(t, report.FinalCapacity, 2000)
			assert.True(t, report.Synchronized)
			assert.Equal(t, int64(2000), report.WriteLatency.Count)
		})
	}
}

func TestRunOnHeapStorage(t *testing.T) {
	col, err := column.CreateSynchronized(column.Double, storage.NewHeapStorage(0), 8)
	require.NoError(t, err)

	report, err := Run(testutil.TestContext(t), col, smallConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, report.LostWrites)
}

func TestRunRejectsBadConfig(t *testing.T) {
	col, err := column.CreateSynchronized(column.Int, nil, 1)
	require.NoError(t, err)
	_, err = Run(testutil.TestContext(t), col, Config{Writers: 0, Writes: 1, ResizeStep: 1}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestRunCancelled(t *testing.T) {
	col, err := column.CreateSynchronized(column.Int, nil, 1)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(testutil.TestContext(t))
	cancel()
	_, err = Run(ctx, col, smallConfig(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunPropagatesAllocationFailure(t *testing.T) {
	h := storage.NewFaultInjectionHandle(storage.NewHeapStorage(0))
	col, err := column.CreateSynchronized(column.Int, h, 4)
	require.NoError(t, err)
	h.FailGrowAfter(0)

	_, err = Run(testutil.TestContext(t), col, smallConfig(), nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAllocation), "got %v", err)
}
