// Package tabula provides growable, nullable, typed columns for
// analytical workloads.
//
// A column is a fixed-element-type sequence addressed by index. Primitive
// columns (double, float, int and enum ordinals) mark missing values with a
// sentinel: NaN for the floating-point types and math.MinInt32 for int.
// Object columns (ranges and custom values) store nil for missing values.
// Columns grow on demand, either into plain Go slices or into regions handed
// out by a storage handle (heap regions or memory-mapped chunk files).
//
// # Packages
//
//   - pkg/column: the column contract, the primitive and object backends,
//     the factory and the synchronized wrapper
//   - pkg/storage: storage handles (heap and memory-mapped) and fault injection
//   - pkg/lockfree: the stamped lock behind the synchronized wrapper
//   - pkg/snapshot: a self-describing, checksummed, compressed block format
//     for a single column
//   - pkg/export: Apache Arrow, Parquet and Arrow IPC conversion
//   - pkg/compression: the block compressors used by snapshots
//   - pkg/config, pkg/logger, pkg/metrics, pkg/observability: configuration,
//     logging, Prometheus metrics and OpenTelemetry tracing
//
// # Concurrency
//
// Unwrapped columns are safe for concurrent readers but may lose a write
// that races with a resize. The synchronized wrapper makes writes and
// resizes safe together: reads take no lock at all, writes validate an
// optimistic stamp and retry under a shared lock when a resize got in the
// way, and resizes take the exclusive lock.
//
//	col, _ := column.CreateSynchronized(column.Double, nil, 1024)
//	go func() { _, _ = col.EnsureCapacity(1 << 20) }()
//	prev, _ := col.Set(10, 2.5)
//
// The tabula command (cmd/tabula) stress-tests that property and
// round-trips snapshots and exports from the command line.
package tabula
