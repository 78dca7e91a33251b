package compression

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tabula/pkg/errors"
)

var allAlgorithms = []Algorithm{None, Gzip, Snappy, LZ4, Zstd, S2, Deflate}

func sample() []byte {
	return []byte(strings.Repeat("column values compress well when they repeat; ", 200))
}

func TestRoundTrip(t *testing.T) {
	for _, algo := range allAlgorithms {
		for _, level := range []Level{Fastest, Default, Better, Best} {
			t.Run(string(algo), func(t *testing.T) {
				comp, err := NewCompressor(&Config{Algorithm: algo, Level: level})
				require.NoError(t, err)
				assert.Equal(t, algo, comp.Algorithm())
				assert.Equal(t, level, comp.Level())

				original := sample()
				packed, err := comp.Compress(original)
				require.NoError(t, err)
				if algo != None {
					assert.Less(t, len(packed), len(original))
				}

				unpacked, err := comp.Decompress(packed)
				require.NoError(t, err)
				assert.Equal(t, original, unpacked)
			})
		}
	}
}

func TestEmptyInput(t *testing.T) {
	for _, algo := range allAlgorithms {
		comp, err := NewCompressor(&Config{Algorithm: algo})
		require.NoError(t, err)
		packed, err := comp.Compress(nil)
		require.NoError(t, err, algo)
		out, err := comp.Decompress(packed)
		require.NoError(t, err, algo)
		assert.Empty(t, out, algo)
	}
}

func TestCorruptInput(t *testing.T) {
	for _, algo := range []Algorithm{Gzip, Snappy, Zstd, S2} {
		comp, err := NewCompressor(&Config{Algorithm: algo})
		require.NoError(t, err)
		_, err = comp.Decompress([]byte("definitely not compressed"))
		require.Error(t, err, algo)
		assert.True(t, errors.IsType(err, errors.ErrorTypeData), algo)
	}
}

func TestDecompressLimit(t *testing.T) {
	for _, algo := range allAlgorithms {
		t.Run(string(algo), func(t *testing.T) {
			comp, err := NewCompressor(&Config{Algorithm: algo, MaxDecompressedSize: 100})
			require.NoError(t, err)
			packed, err := comp.Compress(sample())
			require.NoError(t, err)

			_, err = comp.Decompress(packed)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeData))
		})
	}
}

func TestAlgorithmIDs(t *testing.T) {
	seen := map[byte]bool{}
	for _, algo := range allAlgorithms {
		id, ok := algo.ID()
		require.True(t, ok)
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true

		back, ok := AlgorithmFromID(id)
		require.True(t, ok)
		assert.Equal(t, algo, back)
	}
	_, ok := AlgorithmFromID(200)
	assert.False(t, ok)
	_, ok = Algorithm("brotli").ID()
	assert.False(t, ok)
}

func TestParse(t *testing.T) {
	a, err := ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, None, a)
	a, err = ParseAlgorithm("zstd")
	require.NoError(t, err)
	assert.Equal(t, Zstd, a)
	_, err = ParseAlgorithm("brotli")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	l, err := ParseLevel("best")
	require.NoError(t, err)
	assert.Equal(t, Best, l)
	l, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, Default, l)
	_, err = ParseLevel("max")
	assert.Error(t, err)

	_, err = NewCompressor(&Config{Algorithm: "brotli"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func BenchmarkCompress(b *testing.B) {
	data := bytes.Repeat(sample(), 50)
	for _, algo := range allAlgorithms {
		comp, err := NewCompressor(&Config{Algorithm: algo, Level: Default})
		if err != nil {
			b.Fatal(err)
		}
		b.Run(string(algo), func(b *testing.B) {
			b.SetBytes(int64(len(data)))
			for i := 0; i < b.N; i++ {
				if _, err := comp.Compress(data); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
