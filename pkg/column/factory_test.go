package column

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tabula/pkg/storage"
)

func TestFactoryDispatch(t *testing.T) {
	heap := storage.NewHeapStorage(0)
	tests := []struct {
		name    string
		dt      DataType
		handle  storage.Handle
		want    any
		backend string
	}{
		{"int array", Int, nil, &Nullable[int32]{}, "array"},
		{"int mapped", Int, heap, &Nullable[int32]{}, "mapped"},
		{"double array", Double, nil, &Nullable[float64]{}, "array"},
		{"double mapped", Double, heap, &Nullable[float64]{}, "mapped"},
		{"float array", Float, nil, &Nullable[float32]{}, "array"},
		{"float mapped", Float, heap, &Nullable[float32]{}, "mapped"},
		{"enum array", Enum, nil, &Nullable[int32]{}, "array"},
		{"enum mapped", Enum, heap, &Nullable[int32]{}, "mapped"},
		{"range ignores handle", Range, heap, &Objects[Interval]{}, ""},
		{"custom", Custom, nil, &Objects[any]{}, ""},
		{"unknown falls back to objects", DataType(77), heap, &Objects[any]{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			col, err := CreateForType(tt.dt, tt.handle, 3)
			require.NoError(t, err)
			assert.IsType(t, tt.want, col)
			assert.Equal(t, tt.dt, col.Type())
			assert.Equal(t, 3, col.Capacity())
			if b, ok := col.(interface{ Backend() string }); ok {
				assert.Equal(t, tt.backend, b.Backend())
			}
		})
	}
}

func TestCreateInMemoryIgnoresStorage(t *testing.T) {
	col, err := CreateInMemory(Double, 2)
	require.NoError(t, err)
	assert.Equal(t, "array", col.(*Nullable[float64]).Backend())
}

func TestEnumOrdinals(t *testing.T) {
	col, err := CreateForType(Enum, nil, 2)
	require.NoError(t, err)
	e := col.(IntColumn)

	_, err = e.SetPrimitive(0, 3)
	require.NoError(t, err)
	v, err := col.Get(0)
	require.NoError(t, err)
	assert.Equal(t, int32(3), v)
	v, err = col.Get(1)
	require.NoError(t, err)
	assert.Nil(t, v, "no ordinal assigned")
}

func TestCreateSynchronizedHidesDelegate(t *testing.T) {
	for _, dt := range []DataType{Int, Double, Float, Enum, Range, Custom} {
		col, err := CreateSynchronized(dt, nil, 1)
		require.NoError(t, err)
		assert.True(t, IsSynchronized(col), dt.String())
		_, raw := col.(resizer)
		assert.False(t, raw, "%s: backend resize must not be reachable", dt)
	}
}

func TestFactoryGrowthFactor(t *testing.T) {
	assert.Equal(t, DefaultGrowthFactor, NewFactory(FactoryOptions{}).GrowthFactor())
	assert.Equal(t, DefaultGrowthFactor, NewFactory(FactoryOptions{GrowthFactor: 0.5}).GrowthFactor())

	exact := NewFactory(FactoryOptions{GrowthFactor: 1})
	col, err := exact.CreateInMemory(Int, 10)
	require.NoError(t, err)
	_, err = col.EnsureCapacity(11)
	require.NoError(t, err)
	assert.Equal(t, 11, col.Capacity())

	doubling := NewFactory(FactoryOptions{GrowthFactor: 2})
	col, err = doubling.CreateInMemory(Range, 10)
	require.NoError(t, err)
	_, err = col.EnsureCapacity(11)
	require.NoError(t, err)
	assert.Equal(t, 20, col.Capacity())
}

func TestFactoryRejectsNegativeCapacity(t *testing.T) {
	_, err := CreateForType(Double, nil, -1)
	require.Error(t, err)
	_, err = CreateForType(Custom, nil, -1)
	require.Error(t, err)
}
