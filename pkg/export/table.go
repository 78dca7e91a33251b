package export

import (
	"context"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	pqcompress "github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tabula/pkg/column"
	"github.com/ajitpratap0/tabula/pkg/compression"
	"github.com/ajitpratap0/tabula/pkg/errors"
	"github.com/ajitpratap0/tabula/pkg/logger"
	"github.com/ajitpratap0/tabula/pkg/observability"
	"github.com/ajitpratap0/tabula/pkg/storage"
)

// NamedColumn pairs a column with the field name it is exported under.
type NamedColumn struct {
	Name   string
	Column column.Column
}

// ReadOptions controls how imported columns are created.
type ReadOptions struct {
	Factory   *column.Factory
	Handle    storage.Handle
	Allocator memory.Allocator
}

// ParquetOptions controls WriteParquet.
type ParquetOptions struct {
	Compression compression.Algorithm
	Allocator   memory.Allocator
}

// Record converts cols into one Arrow record. Columns shorter than the
// longest are padded with nulls. The caller releases the record.
func Record(cols []NamedColumn, mem memory.Allocator) (arrow.Record, error) {
	if len(cols) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "no columns to export")
	}
	rows := 0
	seen := make(map[string]bool, len(cols))
	for _, nc := range cols {
		if nc.Name == "" || seen[nc.Name] {
			return nil, errors.Newf(errors.ErrorTypeValidation, "column name %q is empty or repeated", nc.Name)
		}
		seen[nc.Name] = true
		rows = max(rows, nc.Column.Capacity())
	}

	fields := make([]arrow.Field, 0, len(cols))
	arrays := make([]arrow.Array, 0, len(cols))
	defer func() {
		for _, a := range arrays {
			a.Release()
		}
	}()
	for _, nc := range cols {
		field, arr, err := toArrow(nc.Name, nc.Column, mem, rows)
		if err != nil {
			return nil, err
		}
		fields = append(fields, field)
		arrays = append(arrays, arr)
	}
	return array.NewRecord(arrow.NewSchema(fields, nil), arrays, int64(rows)), nil
}

// FromRecord rebuilds one column per field of rec.
func FromRecord(rec arrow.Record, opts ReadOptions) ([]NamedColumn, error) {
	out := make([]NamedColumn, 0, rec.NumCols())
	for i, field := range rec.Schema().Fields() {
		col, err := FromArrow(field, rec.Column(i), opts.Factory, opts.Handle)
		if err != nil {
			return nil, err
		}
		out = append(out, NamedColumn{Name: field.Name, Column: col})
	}
	return out, nil
}

// WriteParquet writes cols as a single-row-group Parquet file.
func WriteParquet(ctx context.Context, w io.Writer, cols []NamedColumn, opts ParquetOptions) (err error) {
	_, span := observability.StartSpan(ctx, "export.write_parquet")
	defer func() { _ = span.Finish(err) }()
	span.SetAttribute("columns", len(cols))
	span.SetAttribute("compression", string(opts.Compression))

	codec, err := parquetCodec(opts.Compression)
	if err != nil {
		return err
	}
	mem := opts.Allocator
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	rec, err := Record(cols, mem)
	if err != nil {
		return err
	}
	defer rec.Release()
	span.SetAttribute("rows", rec.NumRows())

	props := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithAllocator(mem),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithAllocator(mem),
		pqarrow.WithStoreSchema(),
	)
	fw, err := pqarrow.NewFileWriter(rec.Schema(), w, props, arrowProps)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "failed to create parquet writer")
	}
	if err := fw.Write(rec); err != nil {
		_ = fw.Close()
		return errors.Wrap(err, errors.ErrorTypeStorage, "failed to write parquet row group")
	}
	if err := fw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "failed to finish parquet file")
	}

	logger.Debug("parquet file written",
		zap.Int("columns", len(cols)),
		zap.Int64("rows", rec.NumRows()),
		zap.String("compression", string(opts.Compression)))
	return nil
}

// ReadParquet reads every column of a Parquet file written by WriteParquet
// or by any tool using the supported Arrow types.
func ReadParquet(ctx context.Context, r parquet.ReaderAtSeeker, opts ReadOptions) (cols []NamedColumn, err error) {
	ctx, span := observability.StartSpan(ctx, "export.read_parquet")
	defer func() { _ = span.Finish(err) }()

	mem := opts.Allocator
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	fr, err := file.NewParquetReader(r, file.WithReadProps(parquet.NewReaderProperties(mem)))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to open parquet file")
	}
	defer fr.Close()

	reader, err := pqarrow.NewFileReader(fr, pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to create arrow reader")
	}
	table, err := reader.ReadTable(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read parquet table")
	}
	defer table.Release()
	span.SetAttribute("rows", table.NumRows())
	span.SetAttribute("columns", table.NumCols())

	schema := table.Schema()
	for i := 0; i < int(table.NumCols()); i++ {
		arr, err := concatenate(table.Column(i).Data().Chunks(), schema.Field(i).Type, mem)
		if err != nil {
			return nil, err
		}
		col, err := FromArrow(schema.Field(i), arr, opts.Factory, opts.Handle)
		arr.Release()
		if err != nil {
			return nil, err
		}
		cols = append(cols, NamedColumn{Name: schema.Field(i).Name, Column: col})
	}
	return cols, nil
}

// WriteIPC writes cols as an Arrow IPC stream holding one record batch.
func WriteIPC(ctx context.Context, w io.Writer, cols []NamedColumn, mem memory.Allocator) (err error) {
	_, span := observability.StartSpan(ctx, "export.write_ipc")
	defer func() { _ = span.Finish(err) }()
	span.SetAttribute("columns", len(cols))

	if mem == nil {
		mem = memory.DefaultAllocator
	}
	rec, err := Record(cols, mem)
	if err != nil {
		return err
	}
	defer rec.Release()

	iw := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(mem))
	if err := iw.Write(rec); err != nil {
		_ = iw.Close()
		return errors.Wrap(err, errors.ErrorTypeStorage, "failed to write arrow record batch")
	}
	if err := iw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "failed to finish arrow stream")
	}
	return nil
}

// ReadIPC reads an Arrow IPC stream. Record batches are concatenated per
// field.
func ReadIPC(ctx context.Context, r io.Reader, opts ReadOptions) (cols []NamedColumn, err error) {
	_, span := observability.StartSpan(ctx, "export.read_ipc")
	defer func() { _ = span.Finish(err) }()

	mem := opts.Allocator
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	ir, err := ipc.NewReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to open arrow stream")
	}
	defer ir.Release()

	schema := ir.Schema()
	chunks := make([][]arrow.Array, len(schema.Fields()))
	defer func() {
		for _, cs := range chunks {
			for _, c := range cs {
				c.Release()
			}
		}
	}()
	for ir.Next() {
		rec := ir.Record()
		for i := range chunks {
			arr := rec.Column(i)
			arr.Retain()
			chunks[i] = append(chunks[i], arr)
		}
	}
	if err := ir.Err(); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read arrow record batch")
	}

	for i, field := range schema.Fields() {
		arr, err := concatenate(chunks[i], field.Type, mem)
		if err != nil {
			return nil, err
		}
		col, err := FromArrow(field, arr, opts.Factory, opts.Handle)
		arr.Release()
		if err != nil {
			return nil, err
		}
		cols = append(cols, NamedColumn{Name: field.Name, Column: col})
	}
	return cols, nil
}

// concatenate joins chunks into one array the caller releases.
func concatenate(chunks []arrow.Array, dt arrow.DataType, mem memory.Allocator) (arrow.Array, error) {
	switch len(chunks) {
	case 0:
		return array.MakeArrayOfNull(mem, dt, 0), nil
	case 1:
		chunks[0].Retain()
		return chunks[0], nil
	}
	arr, err := array.Concatenate(chunks, mem)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to concatenate arrow chunks")
	}
	return arr, nil
}

func parquetCodec(algo compression.Algorithm) (pqcompress.Compression, error) {
	switch algo {
	case compression.None, "":
		return pqcompress.Codecs.Uncompressed, nil
	case compression.Snappy, compression.S2:
		return pqcompress.Codecs.Snappy, nil
	case compression.Gzip, compression.Deflate:
		return pqcompress.Codecs.Gzip, nil
	case compression.Zstd:
		return pqcompress.Codecs.Zstd, nil
	case compression.LZ4:
		return pqcompress.Codecs.Lz4Raw, nil
	default:
		return 0, errors.Newf(errors.ErrorTypeConfig, "unsupported parquet compression: %s", algo)
	}
}
