package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/tabula/pkg/column"
	"github.com/ajitpratap0/tabula/pkg/compression"
	"github.com/ajitpratap0/tabula/pkg/errors"
	"github.com/ajitpratap0/tabula/pkg/logger"
	"github.com/ajitpratap0/tabula/pkg/snapshot"
	"github.com/ajitpratap0/tabula/pkg/storage"
)

// Storage modes.
const (
	StorageArray  = "array"
	StorageMemory = "memory"
	StorageMMap   = "mmap"
)

// Config is the complete tabula configuration.
type Config struct {
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Columns       ColumnsConfig       `yaml:"columns" json:"columns"`
	Snapshot      SnapshotConfig      `yaml:"snapshot" json:"snapshot"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// StorageConfig selects the handle mapped columns are backed by.
type StorageConfig struct {
	// Mode is array (plain Go slices), memory (heap regions) or mmap.
	Mode        string `yaml:"mode" json:"mode"`
	Dir         string `yaml:"dir" json:"dir"`
	Purpose     string `yaml:"purpose" json:"purpose"`
	ChunkSizeMB int    `yaml:"chunk_size_mb" json:"chunk_size_mb"`
	// QuotaMB bounds the bytes a handle may hold; 0 means unlimited.
	QuotaMB     int   `yaml:"quota_mb" json:"quota_mb"`
	MaxMapCount int64 `yaml:"max_map_count" json:"max_map_count"`
	KeepFiles   bool  `yaml:"keep_files" json:"keep_files"`
}

// ColumnsConfig controls column creation.
type ColumnsConfig struct {
	InitialCapacity int     `yaml:"initial_capacity" json:"initial_capacity"`
	GrowthFactor    float64 `yaml:"growth_factor" json:"growth_factor"`
	Synchronized    bool    `yaml:"synchronized" json:"synchronized"`
}

// SnapshotConfig controls snapshot encoding.
type SnapshotConfig struct {
	Compression string `yaml:"compression" json:"compression"`
	Level       string `yaml:"level" json:"level"`
}

// ObservabilityConfig controls logging, metrics and tracing.
type ObservabilityConfig struct {
	LogLevel          string  `yaml:"log_level" json:"log_level"`
	LogEncoding       string  `yaml:"log_encoding" json:"log_encoding"`
	EnableMetrics     bool    `yaml:"enable_metrics" json:"enable_metrics"`
	EnableTracing     bool    `yaml:"enable_tracing" json:"enable_tracing"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
}

// NewDefault returns a configuration with in-process array storage, the
// default growth factor and snappy snapshots.
func NewDefault() *Config {
	return &Config{
		Storage: StorageConfig{
			Mode:        StorageArray,
			Purpose:     storage.PurposeFeatureList,
			ChunkSizeMB: storage.DefaultChunkSize >> 20,
			MaxMapCount: storage.MaxMapCount,
		},
		Columns: ColumnsConfig{
			InitialCapacity: 1024,
			GrowthFactor:    column.DefaultGrowthFactor,
			Synchronized:    true,
		},
		Snapshot: SnapshotConfig{
			Compression: string(compression.Snappy),
			Level:       "default",
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogEncoding:       "json",
			EnableMetrics:     true,
			TracingSampleRate: 1.0,
		},
	}
}

// Validate checks every section and returns the first problem found as a
// config error.
func (c *Config) Validate() error {
	switch c.Storage.Mode {
	case StorageArray, StorageMemory, StorageMMap:
	default:
		return invalid("storage.mode", c.Storage.Mode, "must be array, memory or mmap")
	}
	switch c.Storage.Purpose {
	case storage.PurposeFeatureList, storage.PurposeRawDataFile, storage.PurposeMassList, "":
	default:
		return invalid("storage.purpose", c.Storage.Purpose, "must be feature_list, raw_data_file or mass_list")
	}
	if c.Storage.ChunkSizeMB < 0 {
		return invalid("storage.chunk_size_mb", c.Storage.ChunkSizeMB, "cannot be negative")
	}
	if c.Storage.QuotaMB < 0 {
		return invalid("storage.quota_mb", c.Storage.QuotaMB, "cannot be negative")
	}
	if c.Storage.MaxMapCount < 0 {
		return invalid("storage.max_map_count", c.Storage.MaxMapCount, "cannot be negative")
	}
	if c.Columns.InitialCapacity < 0 {
		return invalid("columns.initial_capacity", c.Columns.InitialCapacity, "cannot be negative")
	}
	if c.Columns.GrowthFactor < 1 {
		return invalid("columns.growth_factor", c.Columns.GrowthFactor, "must be at least 1")
	}
	if _, err := compression.ParseAlgorithm(c.Snapshot.Compression); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid snapshot.compression")
	}
	if _, err := compression.ParseLevel(c.Snapshot.Level); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid snapshot.level")
	}
	if _, err := logger.New(logger.Config{Level: c.Observability.LogLevel, Encoding: c.Observability.LogEncoding}); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid observability logging settings")
	}
	if r := c.Observability.TracingSampleRate; r < 0 || r > 1 {
		return invalid("observability.tracing_sample_rate", r, "must be between 0 and 1")
	}
	return nil
}

func invalid(field string, value any, reason string) error {
	return errors.Newf(errors.ErrorTypeConfig, "%s %s", field, reason).
		WithDetail("field", field).
		WithDetail("value", value)
}

// LoggerConfig returns the logger settings of the observability section.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:    c.Observability.LogLevel,
		Encoding: c.Observability.LogEncoding,
	}
}

// OpenStorage returns the handle selected by the storage section and a
// function releasing it. Array mode returns a nil handle, which makes
// columns use plain slices.
func (c *Config) OpenStorage() (storage.Handle, func() error, error) {
	noop := func() error { return nil }
	quota := int64(c.Storage.QuotaMB) << 20

	switch c.Storage.Mode {
	case StorageArray, "":
		return nil, noop, nil
	case StorageMemory:
		return storage.NewHeapStorage(quota), noop, nil
	case StorageMMap:
		if c.Storage.MaxMapCount > 0 {
			storage.MaxMapCount = c.Storage.MaxMapCount
		}
		s, err := storage.ForPurpose(c.Storage.Purpose, storage.MemoryMapOptions{
			Dir:        c.Storage.Dir,
			ChunkSize:  int64(c.Storage.ChunkSizeMB) << 20,
			QuotaBytes: quota,
			KeepFiles:  c.Storage.KeepFiles,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, invalid("storage.mode", c.Storage.Mode, "must be array, memory or mmap")
	}
}

// Factory returns a column factory using the configured growth factor.
func (c *Config) Factory() *column.Factory {
	return column.NewFactory(column.FactoryOptions{GrowthFactor: c.Columns.GrowthFactor})
}

// CreateColumn creates a column of dt with the configured initial capacity,
// wrapped for concurrent use when the columns section asks for it.
func (c *Config) CreateColumn(f *column.Factory, dt column.DataType, h storage.Handle) (column.Column, error) {
	if c.Columns.Synchronized {
		return f.CreateSynchronized(dt, h, c.Columns.InitialCapacity)
	}
	return f.CreateForType(dt, h, c.Columns.InitialCapacity)
}

// SnapshotOptions returns the encoding options of the snapshot section.
func (c *Config) SnapshotOptions() (snapshot.Options, error) {
	algo, err := compression.ParseAlgorithm(c.Snapshot.Compression)
	if err != nil {
		return snapshot.Options{}, err
	}
	level, err := compression.ParseLevel(c.Snapshot.Level)
	if err != nil {
		return snapshot.Options{}, err
	}
	return snapshot.Options{Compression: algo, Level: level}, nil
}

// Load reads a YAML file over the defaults, substituting ${VAR} references
// with environment values, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file").
			WithDetail("path", path)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := NewDefault()
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse YAML")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to marshal YAML")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to write config file").
			WithDetail("path", path)
	}
	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
// An unterminated reference is left as is.
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
