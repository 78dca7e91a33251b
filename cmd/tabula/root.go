package main

import (
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tabula/pkg/column"
	"github.com/ajitpratap0/tabula/pkg/config"
	"github.com/ajitpratap0/tabula/pkg/errors"
	"github.com/ajitpratap0/tabula/pkg/logger"
	"github.com/ajitpratap0/tabula/pkg/observability"
	"github.com/ajitpratap0/tabula/pkg/storage"
)

const envPrefix = "TABULA"

// app is the state shared by every subcommand once the root command has
// resolved configuration.
type app struct {
	stdout io.Writer
	stderr io.Writer

	cfg           *config.Config
	log           *zap.Logger
	stopTracing   func(context.Context) error
	closeStorage  func() error
	storageHandle storage.Handle
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "tabula",
		Short: "Growable typed columns with lock-free reads",
		Long: `tabula manages growable, nullable, typed columns backed by Go slices,
heap regions or memory-mapped chunk files.

Settings are read from --config (YAML), then TABULA_* environment
variables, then flags, each overriding the one before.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}

	pf := root.PersistentFlags()
	pf.StringP("config", "c", "", "Configuration file to read from")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("log-encoding", "", "Log encoding (json, console)")
	pf.String("storage", "", "Storage mode for mapped columns (array, memory, mmap)")
	pf.String("storage-dir", "", "Directory for memory-mapped chunk files")
	pf.String("storage-purpose", "", "Chunk file purpose (feature_list, raw_data_file, mass_list)")
	pf.Int("quota-mb", 0, "Storage quota in MiB (0 means unlimited)")
	pf.Int("initial-capacity", 0, "Initial column capacity")
	pf.Float64("growth-factor", 0, "Column growth factor (at least 1)")
	pf.Bool("synchronized", true, "Wrap columns for concurrent use")
	pf.String("compression", "", "Snapshot compression (none, gzip, snappy, lz4, zstd, s2, deflate)")
	pf.String("compression-level", "", "Snapshot compression level (fastest, default, better, best)")
	pf.Bool("trace", false, "Print OpenTelemetry spans to stderr")

	root.AddCommand(newVersionCommand(a))
	root.AddCommand(newStressCommand(a))
	root.AddCommand(newSnapshotCommand(a))
	root.AddCommand(newExportCommand(a))

	root.SetOut(stdout)
	root.SetErr(stderr)
	return root
}

// setup resolves configuration and installs logging, tracing and storage.
func (a *app) setup(cmd *cobra.Command) error {
	v := viper.New()
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return err
	}

	cfg := config.NewDefault()
	if path := v.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	overlay(v, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialize logger")
	}
	ctx := context.WithValue(cmd.Context(), logger.RunIDKey, strconv.FormatInt(time.Now().UnixNano(), 36))
	cmd.SetContext(ctx)
	a.log = logger.WithContext(ctx).With(zap.String("component", "tabula-cli"), zap.String("command", cmd.Name()))

	if cfg.Observability.EnableTracing {
		tc := observability.DefaultTracingConfig()
		tc.ServiceVersion = version
		tc.SamplingRate = cfg.Observability.TracingSampleRate
		tc.Writer = a.stderr
		stop, err := observability.InitTracing(tc)
		if err != nil {
			return err
		}
		a.stopTracing = stop
	}

	h, closeFn, err := cfg.OpenStorage()
	if err != nil {
		return err
	}
	a.storageHandle = h
	a.closeStorage = closeFn
	return nil
}

func (a *app) teardown() error {
	var firstErr error
	if a.closeStorage != nil {
		firstErr = a.closeStorage()
	}
	if a.stopTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.stopTracing(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	_ = logger.Sync()
	return firstErr
}

// bindFlags registers flags with v and lets TABULA_* environment variables
// (flag names upper-cased, dashes as underscores) stand in for them.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to bind flags")
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return nil
}

// overlay copies every flag or environment value that was explicitly set
// onto cfg.
func overlay(v *viper.Viper, cfg *config.Config) {
	setString := func(key string, dst *string) {
		if v.IsSet(key) && v.GetString(key) != "" {
			*dst = v.GetString(key)
		}
	}
	setString("log-level", &cfg.Observability.LogLevel)
	setString("log-encoding", &cfg.Observability.LogEncoding)
	setString("storage", &cfg.Storage.Mode)
	setString("storage-dir", &cfg.Storage.Dir)
	setString("storage-purpose", &cfg.Storage.Purpose)
	setString("compression", &cfg.Snapshot.Compression)
	setString("compression-level", &cfg.Snapshot.Level)

	if v.IsSet("quota-mb") {
		cfg.Storage.QuotaMB = v.GetInt("quota-mb")
	}
	if v.IsSet("initial-capacity") {
		cfg.Columns.InitialCapacity = v.GetInt("initial-capacity")
	}
	if v.IsSet("growth-factor") {
		cfg.Columns.GrowthFactor = v.GetFloat64("growth-factor")
	}
	if v.IsSet("synchronized") {
		cfg.Columns.Synchronized = v.GetBool("synchronized")
	}
	if v.IsSet("trace") && v.GetBool("trace") {
		cfg.Observability.EnableTracing = true
	}
}

// parseType reads a --type flag value.
func parseType(name string) (column.DataType, error) {
	switch name {
	case "int", "integer", "double", "float64", "float", "float32", "enum", "range", "custom":
		return column.ParseDataType(name), nil
	default:
		return 0, errors.Newf(errors.ErrorTypeValidation, "unknown column type: %s", name)
	}
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to write report")
	}
	return nil
}

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.printJSON(versionInfo())
		},
	}
}
