package snapshot

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tabula/pkg/column"
	"github.com/ajitpratap0/tabula/pkg/compression"
	"github.com/ajitpratap0/tabula/pkg/errors"
	"github.com/ajitpratap0/tabula/pkg/storage"
	"github.com/ajitpratap0/tabula/pkg/testutil"
)

func doubles(t *testing.T) column.Column {
	t.Helper()
	col, err := column.CreateForType(column.Double, nil, 6)
	require.NoError(t, err)
	for i, v := range map[int]float64{0: 1.5, 2: -3, 5: math.MaxFloat64} {
		_, err := col.Set(i, v)
		require.NoError(t, err)
	}
	return col
}

func TestRoundTripDouble(t *testing.T) {
	for _, algo := range []compression.Algorithm{compression.None, compression.Zstd, compression.LZ4, compression.S2} {
		t.Run(string(algo), func(t *testing.T) {
			src := doubles(t)
			data, err := Encode(src, Options{Compression: algo})
			require.NoError(t, err)

			h, err := ReadHeader(data)
			require.NoError(t, err)
			assert.Equal(t, column.Double, h.Type)
			assert.Equal(t, algo, h.Compression)
			assert.Equal(t, 6, h.Capacity)
			assert.Equal(t, 48, h.PayloadSize)

			got, err := Decode(data, DecodeOptions{})
			require.NoError(t, err)
			assertSameValues(t, src, got)
		})
	}
}

func TestRoundTripIntIntoMappedStorage(t *testing.T) {
	src, err := column.CreateSynchronized(column.Int, nil, 5)
	require.NoError(t, err)
	_, err = src.Set(1, 7)
	require.NoError(t, err)
	_, err = src.Set(4, -9)
	require.NoError(t, err)

	data, err := Encode(src, Options{Compression: compression.Snappy})
	require.NoError(t, err)

	heap := storage.NewHeapStorage(0)
	got, err := Decode(data, DecodeOptions{Handle: heap})
	require.NoError(t, err)
	assertSameValues(t, src, got)
	assert.Equal(t, "mapped", got.(*column.Nullable[int32]).Backend())
	assert.Equal(t, int64(24), heap.Stats().LiveBytes)
}

func TestRoundTripFloatAndEnum(t *testing.T) {
	for _, dt := range []column.DataType{column.Float, column.Enum} {
		src, err := column.CreateForType(dt, nil, 3)
		require.NoError(t, err)
		_, err = src.Set(2, 3)
		require.NoError(t, err)

		data, err := Encode(src, Options{Compression: compression.Gzip, Level: compression.Best})
		require.NoError(t, err)
		got, err := Decode(data, DecodeOptions{})
		require.NoError(t, err)
		assert.Equal(t, dt, got.Type())
		assertSameValues(t, src, got)
	}
}

func TestRoundTripRanges(t *testing.T) {
	src, err := column.CreateForType(column.Range, nil, 3)
	require.NoError(t, err)
	_, err = src.Set(0, column.Interval{Lower: 1, Upper: 2.5})
	require.NoError(t, err)

	data, err := Encode(src, Options{Compression: compression.Deflate})
	require.NoError(t, err)
	got, err := Decode(data, DecodeOptions{})
	require.NoError(t, err)
	assert.IsType(t, &column.Objects[column.Interval]{}, got)
	assertSameValues(t, src, got)
}

func TestRoundTripCustom(t *testing.T) {
	src, err := column.CreateForType(column.Custom, nil, 2)
	require.NoError(t, err)
	_, err = src.Set(1, "label")
	require.NoError(t, err)

	var buf bytes.Buffer
	h, err := Write(&buf, src, Options{})
	require.NoError(t, err)
	assert.Equal(t, compression.None, h.Compression)
	assert.Equal(t, "custom", h.TypeName)

	got, err := Read(&buf, DecodeOptions{})
	require.NoError(t, err)
	assertSameValues(t, src, got)
}

func TestDecodeUsesFactory(t *testing.T) {
	data, err := Encode(doubles(t), Options{})
	require.NoError(t, err)

	f := column.NewFactory(column.FactoryOptions{GrowthFactor: 1})
	got, err := Decode(data, DecodeOptions{Factory: f})
	require.NoError(t, err)
	_, err = got.EnsureCapacity(7)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Capacity())
}

func TestDecodeCorrupt(t *testing.T) {
	data, err := Encode(doubles(t), Options{Compression: compression.Zstd})
	require.NoError(t, err)

	flip := func(i int) []byte {
		c := append([]byte(nil), data...)
		c[i] ^= 0xFF
		return c
	}
	sizes := func(capacity uint64) []byte {
		c := append([]byte(nil), data...)
		binary.LittleEndian.PutUint64(c[8:], capacity)
		return c
	}

	cases := map[string][]byte{
		"empty":            nil,
		"truncated header": data[:20],
		"bad magic":        flip(0),
		"bad version":      flip(4),
		"bad compression":  flip(6),
		"bad kind":         flip(7),
		"truncated body":   data[:len(data)-1],
		"bad payload":      flip(len(data) - 2),
		"bad checksum":     flip(24),
		"wrong capacity":   sizes(1000),
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(input, DecodeOptions{})
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeData), "got %v", err)
		})
	}
}

func TestReadCorruptHeader(t *testing.T) {
	data, err := Encode(doubles(t), Options{Compression: compression.Zstd})
	require.NoError(t, err)

	withSize := func(offset int, size uint64, keepBody bool) []byte {
		c := append([]byte(nil), data...)
		binary.LittleEndian.PutUint64(c[offset:], size)
		if !keepBody {
			c = c[:headerSize]
		}
		return c
	}

	cases := map[string][]byte{
		"huge compressed size":      withSize(32, 1<<62, false),
		"huge compressed with body": withSize(32, 1<<62, true),
		"huge payload size":         withSize(16, 1<<62, true),
		"short body":                withSize(32, uint64(len(data)), true),
		"header only":               data[:headerSize],
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			var col column.Column
			require.NotPanics(t, func() {
				col, err = Read(bytes.NewReader(input), DecodeOptions{})
			})
			require.Error(t, err)
			assert.Nil(t, col)
			assert.True(t, errors.IsType(err, errors.ErrorTypeData), "got %v", err)
		})
	}
}

func TestReadRespectsPayloadLimit(t *testing.T) {
	data, err := Encode(doubles(t), Options{})
	require.NoError(t, err)
	_, err = Read(bytes.NewReader(data), DecodeOptions{MaxPayloadSize: 16})
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))

	got, err := Read(bytes.NewReader(data), DecodeOptions{MaxPayloadSize: 48})
	require.NoError(t, err)
	assert.Equal(t, 6, got.Capacity())
}

func TestCustomNumbersDecodeAsFloat64(t *testing.T) {
	src, err := column.CreateForType(column.Custom, nil, 3)
	require.NoError(t, err)
	_, err = src.Set(0, 7)
	require.NoError(t, err)
	_, err = src.Set(1, map[string]any{"row": 2})
	require.NoError(t, err)

	data, err := Encode(src, Options{})
	require.NoError(t, err)
	got, err := Decode(data, DecodeOptions{})
	require.NoError(t, err)

	v, err := got.Get(0)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)
	v, err = got.Get(1)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"row": 2.0}, v)
	v, err = got.Get(2)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestDecodeRejectsOversizedPayload(t *testing.T) {
	data, err := Encode(doubles(t), Options{Compression: compression.LZ4})
	require.NoError(t, err)
	_, err = Decode(data, DecodeOptions{MaxPayloadSize: 16})
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestEncodeRejectsUnknownCompression(t *testing.T) {
	_, err := Encode(doubles(t), Options{Compression: "brotli"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func assertSameValues(t *testing.T, want, got column.Column) {
	t.Helper()
	require.Equal(t, want.Capacity(), got.Capacity())
	testutil.AssertSameValues(t, want, got, want.Capacity())
}

func TestWriteFileReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mz.tbl")
	src := doubles(t)
	h, err := WriteFile(path, src, Options{Compression: compression.Zstd})
	require.NoError(t, err)
	assert.Equal(t, 6, h.Capacity)

	got, err := ReadFile(path, DecodeOptions{})
	require.NoError(t, err)
	assertSameValues(t, src, got)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.tbl"), DecodeOptions{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeStorage))

	empty := filepath.Join(t.TempDir(), "empty.tbl")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = ReadFile(empty, DecodeOptions{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}
