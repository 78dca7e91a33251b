// Package stress drives a column with concurrent writers while another
// goroutine keeps growing it, then checks that no write was lost.
//
// Each writer owns a disjoint set of indices (writer w writes w, w+W, w+2W
// and so on for W writers), so the final value of every index is known.
// Writers grow the column on demand before writing and one resizer grows it
// ahead of them in fixed steps, which keeps resizes and writes overlapping
// for the whole run.
package stress

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/tabula/pkg/column"
	"github.com/ajitpratap0/tabula/pkg/errors"
	"github.com/ajitpratap0/tabula/pkg/metrics"
	"github.com/ajitpratap0/tabula/pkg/performance"
)

// Config describes one stress run.
type Config struct {
	// Writers is the number of concurrent writer goroutines.
	Writers int `json:"writers"`
	// Writes is the number of writes each writer performs.
	Writes int `json:"writes"`
	// ResizeStep is how far the resizer grows the column per step.
	ResizeStep int `json:"resize_step"`
	// ResizePause is the pause between resizer steps.
	ResizePause time.Duration `json:"resize_pause"`
}

// DefaultConfig returns a short run with four writers.
func DefaultConfig() Config {
	return Config{
		Writers:     4,
		Writes:      10000,
		ResizeStep:  64,
		ResizePause: 10 * time.Microsecond,
	}
}

func (c Config) validate() error {
	if c.Writers <= 0 || c.Writes <= 0 || c.ResizeStep <= 0 {
		return errors.New(errors.ErrorTypeConfig, "writers, writes and resize step must be positive").
			WithDetail("writers", c.Writers).
			WithDetail("writes", c.Writes).
			WithDetail("resize_step", c.ResizeStep)
	}
	return nil
}

// Report is the outcome of a run.
type Report struct {
	DataType          string                    `json:"data_type"`
	Synchronized      bool                      `json:"synchronized"`
	Config            Config                    `json:"config"`
	Duration          time.Duration             `json:"duration"`
	Writes            int                       `json:"writes"`
	ResizerSteps      int                       `json:"resizer_steps"`
	FinalCapacity     int                       `json:"final_capacity"`
	LostWrites        int                       `json:"lost_writes"`
	FirstLostIndex    int                       `json:"first_lost_index,omitempty"`
	OptimisticRetries float64                   `json:"optimistic_retries"`
	WriteLatency      performance.Percentiles   `json:"write_latency"`
	Resources         performance.ResourceUsage `json:"resources"`
}

// Run stresses col, which must be empty at the indices the writers touch.
// A column that is not synchronized will usually lose writes; that is
// reported, not returned as an error.
func Run(ctx context.Context, col column.Column, cfg Config, log *zap.Logger) (*Report, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	valueOf := valueFunc(col.Type())

	monitor := performance.NewResourceMonitor()
	latency := performance.NewLatencyTracker(0)
	retriesBefore := retries()
	total := cfg.Writers * cfg.Writes

	log.Info("stress run starting",
		zap.String("type", col.Type().String()),
		zap.Bool("synchronized", column.IsSynchronized(col)),
		zap.Int("writers", cfg.Writers),
		zap.Int("writes_per_writer", cfg.Writes),
		zap.Int("initial_capacity", col.Capacity()))

	start := time.Now()
	writersCtx, stopResizer := context.WithCancel(ctx)
	defer stopResizer()

	var steps int
	resizer := make(chan error, 1)
	go func() {
		resizer <- resize(writersCtx, col, cfg, total, &steps)
	}()

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Writers; w++ {
		g.Go(func() error {
			for k := 0; k < cfg.Writes; k++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				idx := w + k*cfg.Writers
				t0 := time.Now()
				if _, err := col.EnsureCapacity(idx + 1); err != nil {
					return err
				}
				if _, err := col.Set(idx, valueOf(idx)); err != nil {
					return err
				}
				latency.Record(time.Since(t0))
			}
			return nil
		})
	}
	werr := g.Wait()
	stopResizer()
	rerr := <-resizer
	if werr != nil {
		return nil, werr
	}
	if rerr != nil {
		return nil, rerr
	}

	report := &Report{
		DataType:      col.Type().String(),
		Synchronized:  column.IsSynchronized(col),
		Config:        cfg,
		Duration:      time.Since(start),
		Writes:        total,
		ResizerSteps:  steps,
		FinalCapacity: col.Capacity(),
	}
	if err := verify(col, total, valueOf, report); err != nil {
		return nil, err
	}
	report.OptimisticRetries = retries() - retriesBefore
	report.WriteLatency = latency.Percentiles()
	report.Resources = monitor.Usage()

	fields := []zap.Field{
		zap.Duration("duration", report.Duration),
		zap.Int("final_capacity", report.FinalCapacity),
		zap.Int("resizer_steps", report.ResizerSteps),
		zap.Int("lost_writes", report.LostWrites),
	}
	if report.LostWrites > 0 {
		log.Warn("stress run lost writes", fields...)
	} else {
		log.Info("stress run completed", fields...)
	}
	return report, nil
}

// resize grows col by cfg.ResizeStep until it can hold every write or ctx
// ends.
func resize(ctx context.Context, col column.Column, cfg Config, total int, steps *int) error {
	for target := col.Capacity() + cfg.ResizeStep; target <= total; target += cfg.ResizeStep {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(cfg.ResizePause):
		}
		if _, err := col.EnsureCapacity(target); err != nil {
			return err
		}
		*steps++
	}
	return nil
}

func verify(col column.Column, total int, valueOf func(int) any, report *Report) error {
	for idx := 0; idx < total; idx++ {
		got, err := col.Get(idx)
		if err != nil {
			return err
		}
		if got != valueOf(idx) {
			if report.LostWrites == 0 {
				report.FirstLostIndex = idx
			}
			report.LostWrites++
		}
	}
	return nil
}

// valueFunc returns the value written at each index, boxed the way the
// column returns it from Get.
func valueFunc(dt column.DataType) func(int) any {
	switch dt {
	case column.Double:
		return func(i int) any { return float64(i) + 0.5 }
	case column.Float:
		return func(i int) any { return float32(i) + 0.5 }
	case column.Int, column.Enum:
		return func(i int) any { return int32(i) }
	case column.Range:
		return func(i int) any { return column.Interval{Lower: float64(i), Upper: float64(i) + 1} }
	default:
		return func(i int) any { return fmt.Sprintf("value-%d", i) }
	}
}

func retries() float64 {
	snap, err := metrics.Snapshot()
	if err != nil {
		return 0
	}
	return snap["tabula_column_optimistic_retries_total"]
}
