package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tabula/pkg/column"
	"github.com/ajitpratap0/tabula/pkg/compression"
	"github.com/ajitpratap0/tabula/pkg/errors"
	"github.com/ajitpratap0/tabula/pkg/storage"
)

func TestNewDefaultIsValid(t *testing.T) {
	cfg := NewDefault()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StorageArray, cfg.Storage.Mode)
	assert.Equal(t, column.DefaultGrowthFactor, cfg.Columns.GrowthFactor)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Storage.Mode = "disk" }},
		{"unknown purpose", func(c *Config) { c.Storage.Purpose = "spectra" }},
		{"negative chunk", func(c *Config) { c.Storage.ChunkSizeMB = -1 }},
		{"negative quota", func(c *Config) { c.Storage.QuotaMB = -1 }},
		{"negative map count", func(c *Config) { c.Storage.MaxMapCount = -1 }},
		{"negative capacity", func(c *Config) { c.Columns.InitialCapacity = -1 }},
		{"shrinking growth", func(c *Config) { c.Columns.GrowthFactor = 0.5 }},
		{"unknown compression", func(c *Config) { c.Snapshot.Compression = "brotli" }},
		{"unknown level", func(c *Config) { c.Snapshot.Level = "max" }},
		{"unknown log level", func(c *Config) { c.Observability.LogLevel = "loud" }},
		{"sample rate", func(c *Config) { c.Observability.TracingSampleRate = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "got %v", err)
		})
	}
}

func TestParseOverlaysDefaults(t *testing.T) {
	t.Setenv("TABULA_TEST_DIR", "/var/tmp/tabula")
	cfg, err := Parse([]byte(`
storage:
  mode: mmap
  dir: ${TABULA_TEST_DIR}/chunks
columns:
  growth_factor: 2
snapshot:
  compression: zstd
`))
	require.NoError(t, err)
	assert.Equal(t, StorageMMap, cfg.Storage.Mode)
	assert.Equal(t, "/var/tmp/tabula/chunks", cfg.Storage.Dir)
	assert.Equal(t, 2.0, cfg.Columns.GrowthFactor)
	assert.Equal(t, 1024, cfg.Columns.InitialCapacity)
	assert.Equal(t, "default", cfg.Snapshot.Level)

	opts, err := cfg.SnapshotOptions()
	require.NoError(t, err)
	assert.Equal(t, compression.Zstd, opts.Compression)
	assert.Equal(t, compression.Default, opts.Level)
}

func TestParseRejectsInvalid(t *testing.T) {
	_, err := Parse([]byte("columns:\n  growth_factor: 0.9\n"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = Parse([]byte("storage: [1, 2"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TABULA_A", "x")
	assert.Equal(t, "x-x-", substituteEnvVars("${TABULA_A}-${TABULA_A}-${TABULA_UNSET_VAR}"))
	assert.Equal(t, "keep ${open", substituteEnvVars("keep ${open"))
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tabula.yaml")
	cfg := NewDefault()
	cfg.Storage.Mode = StorageMemory
	cfg.Storage.QuotaMB = 8
	cfg.Columns.Synchronized = false
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestOpenStorage(t *testing.T) {
	cfg := NewDefault()
	h, closeFn, err := cfg.OpenStorage()
	require.NoError(t, err)
	assert.Nil(t, h)
	require.NoError(t, closeFn())

	cfg.Storage.Mode = StorageMemory
	cfg.Storage.QuotaMB = 1
	h, _, err = cfg.OpenStorage()
	require.NoError(t, err)
	_, err = h.AllocateRegion(storage.Float64, 1<<20)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAllocation))

	if !storage.MMapSupported() {
		return
	}
	cfg.Storage.Mode = StorageMMap
	cfg.Storage.Dir = t.TempDir()
	cfg.Storage.ChunkSizeMB = 1
	h, closeFn, err = cfg.OpenStorage()
	require.NoError(t, err)
	defer func() { require.NoError(t, closeFn()) }()
	assert.IsType(t, &storage.MemoryMapStorage{}, h)
}

func TestOpenStorageUsesPurpose(t *testing.T) {
	if !storage.MMapSupported() {
		t.Skip("mmap not supported")
	}
	cfg := NewDefault()
	cfg.Storage.Mode = StorageMMap
	cfg.Storage.Dir = t.TempDir()
	cfg.Storage.Purpose = storage.PurposeRawDataFile
	cfg.Storage.ChunkSizeMB = 1
	cfg.Storage.KeepFiles = true

	h, closeFn, err := cfg.OpenStorage()
	require.NoError(t, err)
	_, err = h.AllocateRegion(storage.Int32, 4)
	require.NoError(t, err)
	require.NoError(t, closeFn())

	files, err := filepath.Glob(filepath.Join(cfg.Storage.Dir, storage.PurposeRawDataFile+"-*.chunk"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestCreateColumn(t *testing.T) {
	cfg := NewDefault()
	cfg.Columns.InitialCapacity = 3
	f := cfg.Factory()

	col, err := cfg.CreateColumn(f, column.Double, nil)
	require.NoError(t, err)
	assert.True(t, column.IsSynchronized(col))
	assert.Equal(t, 3, col.Capacity())

	cfg.Columns.Synchronized = false
	col, err = cfg.CreateColumn(f, column.Int, storage.NewHeapStorage(0))
	require.NoError(t, err)
	assert.False(t, column.IsSynchronized(col))
	assert.Equal(t, "mapped", col.(*column.Nullable[int32]).Backend())
}
