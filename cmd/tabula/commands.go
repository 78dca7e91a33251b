package main

import (
	"bytes"
	"context"
	"math"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tabula/internal/stress"
	"github.com/ajitpratap0/tabula/pkg/column"
	"github.com/ajitpratap0/tabula/pkg/compression"
	"github.com/ajitpratap0/tabula/pkg/errors"
	"github.com/ajitpratap0/tabula/pkg/export"
	"github.com/ajitpratap0/tabula/pkg/metrics"
	"github.com/ajitpratap0/tabula/pkg/observability"
	"github.com/ajitpratap0/tabula/pkg/performance"
	"github.com/ajitpratap0/tabula/pkg/snapshot"
)

func versionInfo() map[string]string {
	return map[string]string{
		"version":    version,
		"go_version": runtime.Version(),
		"os_arch":    runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func newStressCommand(a *app) *cobra.Command {
	cfg := stress.DefaultConfig()
	var typeName string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Race concurrent writers against a resizer and check for lost writes",
		Long: `stress creates one column, starts --writers goroutines writing disjoint
indices while another goroutine keeps growing the column, then reads every
index back. The JSON report includes lost writes, optimistic retries,
write latency percentiles and process resource usage.

Run with --synchronized=false to see writes lost by an unwrapped column.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dt, err := parseType(typeName)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			col, err := a.cfg.CreateColumn(a.cfg.Factory(), dt, a.storageHandle)
			if err != nil {
				return err
			}
			report, err := stress.Run(ctx, col, cfg, a.log)
			if err != nil {
				return err
			}
			if err := a.printJSON(report); err != nil {
				return err
			}
			if report.LostWrites > 0 && a.cfg.Columns.Synchronized {
				return errors.Newf(errors.ErrorTypeInternal, "%d writes lost", report.LostWrites).
					WithDetail("first_lost_index", report.FirstLostIndex)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&typeName, "type", "double", "Column type (int, double, float, enum, range, custom)")
	cmd.Flags().IntVar(&cfg.Writers, "writers", cfg.Writers, "Concurrent writer goroutines")
	cmd.Flags().IntVar(&cfg.Writes, "writes", cfg.Writes, "Writes per writer")
	cmd.Flags().IntVar(&cfg.ResizeStep, "resize-step", cfg.ResizeStep, "Capacity added by each resizer step")
	cmd.Flags().DurationVar(&cfg.ResizePause, "resize-pause", cfg.ResizePause, "Pause between resizer steps")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Abort the run after this long")
	return cmd
}

// demoColumns builds a small set of columns of every type with a few nulls.
func demoColumns(a *app, rows int) ([]export.NamedColumn, error) {
	f := a.cfg.Factory()
	specs := []struct {
		name string
		dt   column.DataType
		at   func(i int) any
	}{
		{"mz", column.Double, func(i int) any { return 100 + float64(i)*0.25 }},
		{"intensity", column.Float, func(i int) any { return float32(math.Sqrt(float64(i))) }},
		{"charge", column.Int, func(i int) any { return i%4 + 1 }},
		{"polarity", column.Enum, func(i int) any { return i % 2 }},
		{"window", column.Range, func(i int) any { return column.Interval{Lower: float64(i), Upper: float64(i) + 0.5} }},
		{"label", column.Custom, func(i int) any { return map[string]any{"row": i} }},
	}

	cols := make([]export.NamedColumn, 0, len(specs))
	for _, s := range specs {
		col, err := f.CreateForType(s.dt, a.storageHandle, rows)
		if err != nil {
			return nil, err
		}
		for i := 0; i < rows; i++ {
			if i%7 == 3 {
				continue
			}
			if _, err := col.Set(i, s.at(i)); err != nil {
				return nil, err
			}
		}
		cols = append(cols, export.NamedColumn{Name: s.name, Column: f.WrapSynchronized(col)})
	}
	return cols, nil
}

func newSnapshotCommand(a *app) *cobra.Command {
	var rows int
	var out string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Encode demo columns as snapshots, decode them and verify the contents",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			_, span := observability.StartSpan(cmd.Context(), "cli.snapshot")
			defer func() { _ = span.Finish(err) }()

			opts, err := a.cfg.SnapshotOptions()
			if err != nil {
				return err
			}
			cols, err := demoColumns(a, rows)
			if err != nil {
				return err
			}

			type result struct {
				Name        string                `json:"name"`
				Header      *snapshot.Header      `json:"header"`
				EncodedSize int                   `json:"encoded_size"`
				Compression compression.Algorithm `json:"compression"`
				Duration    time.Duration         `json:"duration"`
			}
			results := make([]result, 0, len(cols))
			for _, nc := range cols {
				timer := metrics.NewTimer(nc.Name)
				var buf bytes.Buffer
				h, err := snapshot.Write(&buf, nc.Column, opts)
				if err != nil {
					return err
				}
				size := buf.Len()

				decodeOpts := snapshot.DecodeOptions{Factory: a.cfg.Factory(), Handle: a.storageHandle}
				var decoded column.Column
				if out != "" {
					path := out + "." + nc.Name + ".tbl"
					if _, err := snapshot.WriteFile(path, nc.Column, opts); err != nil {
						return err
					}
					decoded, err = snapshot.ReadFile(path, decodeOpts)
				} else {
					decoded, err = snapshot.Read(&buf, decodeOpts)
				}
				if err != nil {
					return err
				}
				if err := sameValues(nc.Column, decoded); err != nil {
					return err
				}
				results = append(results, result{
					Name:        timer.Name(),
					Header:      h,
					EncodedSize: size,
					Compression: opts.Compression,
					Duration:    timer.Stop(),
				})
			}
			span.SetAttribute("columns", len(results))
			a.log.Info("snapshots verified", zap.Int("columns", len(results)), zap.Int("rows", rows))
			a.logMetrics()
			return a.printJSON(results)
		},
	}
	cmd.Flags().IntVar(&rows, "rows", 1000, "Rows per demo column")
	cmd.Flags().StringVar(&out, "out", "", "Also write each snapshot to <out>.<column>.tbl")
	return cmd
}

func newExportCommand(a *app) *cobra.Command {
	var rows int
	var out, format string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write demo columns to a Parquet file or Arrow IPC stream and read them back",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return errors.New(errors.ErrorTypeValidation, "--out is required")
			}
			cols, err := demoColumns(a, rows)
			if err != nil {
				return err
			}
			opts, err := a.cfg.SnapshotOptions()
			if err != nil {
				return err
			}

			f, err := os.Create(out) //nolint:gosec
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeStorage, "failed to create output file")
			}
			defer f.Close()

			ctx := cmd.Context()
			switch format {
			case "parquet":
				err = export.WriteParquet(ctx, f, cols, export.ParquetOptions{Compression: opts.Compression})
			case "ipc", "arrow":
				err = export.WriteIPC(ctx, f, cols, nil)
			default:
				return errors.Newf(errors.ErrorTypeValidation, "unknown export format: %s", format)
			}
			if err != nil {
				return err
			}
			if _, err := f.Seek(0, 0); err != nil {
				return errors.Wrap(err, errors.ErrorTypeStorage, "failed to rewind output file")
			}

			readOpts := export.ReadOptions{Factory: a.cfg.Factory(), Handle: a.storageHandle}
			var back []export.NamedColumn
			if format == "parquet" {
				back, err = export.ReadParquet(ctx, f, readOpts)
			} else {
				back, err = export.ReadIPC(ctx, f, readOpts)
			}
			if err != nil {
				return err
			}
			for i, nc := range cols {
				if err := sameValues(nc.Column, back[i].Column); err != nil {
					return errors.Wrap(err, errors.ErrorTypeData, "exported column does not read back").
						WithDetail("column", nc.Name)
				}
			}

			info, err := f.Stat()
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeStorage, "failed to stat output file")
			}
			a.logMetrics()
			a.log.Info("columns exported",
				zap.String("path", out),
				zap.String("format", format),
				zap.Int64("bytes", info.Size()))
			return a.printJSON(map[string]any{
				"path":    out,
				"format":  format,
				"columns": len(cols),
				"rows":    rows,
				"bytes":   info.Size(),
			})
		},
	}
	cmd.Flags().IntVar(&rows, "rows", 1000, "Rows per demo column")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file")
	cmd.Flags().StringVar(&format, "format", "parquet", "Output format (parquet, ipc)")
	return cmd
}

// sameValues compares want and got slot by slot.
func sameValues(want, got column.Column) error {
	for i := 0; i < want.Capacity(); i++ {
		w, err := want.Get(i)
		if err != nil {
			return err
		}
		g, err := got.Get(i)
		if err != nil {
			return err
		}
		if !equalValues(w, g) {
			return errors.Newf(errors.ErrorTypeData, "value mismatch at index %d", i).
				WithDetail("want", w).
				WithDetail("got", g)
		}
	}
	return nil
}

func equalValues(a, b any) bool {
	am, aok := a.(map[string]any)
	bm, bok := b.(map[string]any)
	if aok || bok {
		if !aok || !bok || len(am) != len(bm) {
			return false
		}
		for k, v := range am {
			if !equalValues(normalizeNumber(v), normalizeNumber(bm[k])) {
				return false
			}
		}
		return true
	}
	return a == b
}

// normalizeNumber maps ints to float64, the type JSON decoding produces.
func normalizeNumber(v any) any {
	if n, ok := v.(int); ok {
		return float64(n)
	}
	return v
}

// logMetrics writes the current tabula metrics at debug level.
func (a *app) logMetrics() {
	snap, err := metrics.Snapshot()
	if err != nil {
		a.log.Warn("failed to gather metrics", zap.Error(err))
		return
	}
	fields := make([]zap.Field, 0, len(snap)+1)
	for _, name := range metrics.SortedNames(snap) {
		fields = append(fields, zap.Float64(name, snap[name]))
	}
	fields = append(fields, zap.Any("resources", performance.NewResourceMonitor().Usage()))
	a.log.Debug("metrics", fields...)
}
