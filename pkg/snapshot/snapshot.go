// Package snapshot encodes a single column into a self-describing block and
// rebuilds columns from such blocks.
//
// Block layout, all integers little-endian:
//
//	offset size
//	0      4    magic "TBLS"
//	4      1    format version
//	5      1    column data type
//	6      1    compression algorithm id
//	7      1    payload kind (0 raw words, 1 json)
//	8      8    capacity in slots
//	16     8    uncompressed payload length
//	24     8    xxh3 checksum of the uncompressed payload
//	32     8    compressed payload length
//	40     -    compressed payload
//
// Numeric columns store one 4- or 8-byte word per slot, null slots included
// as their sentinel bits. Object columns store a JSON array with null for
// empty slots. Custom values come back the way JSON decodes into any:
// numbers as float64, objects as map[string]any and arrays as []any, so a
// Go int stored in a custom column reads back as a float64. Range values
// decode as column.Interval.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"

	json "github.com/goccy/go-json"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tabula/pkg/column"
	"github.com/ajitpratap0/tabula/pkg/compression"
	"github.com/ajitpratap0/tabula/pkg/errors"
	"github.com/ajitpratap0/tabula/pkg/logger"
	"github.com/ajitpratap0/tabula/pkg/storage"
)

const (
	// Version is the block format version written by Encode.
	Version    = 1
	headerSize = 40
)

var magic = [4]byte{'T', 'B', 'L', 'S'}

const (
	kindWords byte = 0
	kindJSON  byte = 1
)

// Header describes an encoded block.
type Header struct {
	Version        uint8                 `json:"version"`
	Type           column.DataType       `json:"-"`
	TypeName       string                `json:"type"`
	Compression    compression.Algorithm `json:"compression"`
	Capacity       int                   `json:"capacity"`
	PayloadSize    int                   `json:"payload_size"`
	CompressedSize int                   `json:"compressed_size"`
	Checksum       uint64                `json:"checksum"`
	objects        bool
}

// Options controls Encode.
type Options struct {
	Compression compression.Algorithm
	Level       compression.Level
}

// DecodeOptions controls Decode.
type DecodeOptions struct {
	// Factory creates the decoded column. Nil selects the default factory.
	Factory *column.Factory
	// Handle backs the decoded column when its type has a mapped form.
	Handle storage.Handle
	// MaxPayloadSize bounds the uncompressed payload. Zero selects
	// compression.DefaultMaxDecompressedSize.
	MaxPayloadSize int64
}

// Encode captures col's current capacity and values. Slots written while
// Encode runs may or may not be included.
func Encode(col column.Column, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := Write(&buf, col, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write encodes col to w and returns the header it wrote.
func Write(w io.Writer, col column.Column, opts Options) (*Header, error) {
	algo := opts.Compression
	if algo == "" {
		algo = compression.None
	}
	algoID, ok := algo.ID()
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported compression algorithm: %s", algo)
	}
	if col.Type() < 0 || col.Type() > math.MaxUint8 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "data type %s cannot be encoded", col.Type())
	}

	capacity := col.Capacity()
	payload, kind, err := encodePayload(col, capacity)
	if err != nil {
		return nil, err
	}
	comp, err := compression.NewCompressor(&compression.Config{Algorithm: algo, Level: opts.Level})
	if err != nil {
		return nil, err
	}
	packed, err := comp.Compress(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to compress snapshot payload")
	}

	h := &Header{
		Version:        Version,
		Type:           col.Type(),
		TypeName:       col.Type().String(),
		Compression:    algo,
		Capacity:       capacity,
		PayloadSize:    len(payload),
		CompressedSize: len(packed),
		Checksum:       xxh3.Hash(payload),
		objects:        kind == kindJSON,
	}

	var hdr [headerSize]byte
	copy(hdr[0:4], magic[:])
	hdr[4] = Version
	hdr[5] = byte(col.Type())
	hdr[6] = algoID
	hdr[7] = kind
	binary.LittleEndian.PutUint64(hdr[8:], uint64(capacity))
	binary.LittleEndian.PutUint64(hdr[16:], uint64(len(payload)))
	binary.LittleEndian.PutUint64(hdr[24:], h.Checksum)
	binary.LittleEndian.PutUint64(hdr[32:], uint64(len(packed)))

	if _, err := w.Write(hdr[:]); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to write snapshot header")
	}
	if _, err := w.Write(packed); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to write snapshot payload")
	}

	logger.Debug("column snapshot written",
		zap.String("type", h.TypeName),
		zap.Int("capacity", capacity),
		zap.String("compression", string(algo)),
		zap.Int("payload_bytes", len(payload)),
		zap.Int("compressed_bytes", len(packed)))
	return h, nil
}

func encodePayload(col column.Column, capacity int) ([]byte, byte, error) {
	switch c := col.(type) {
	case column.NullableColumn[float64]:
		out := make([]byte, 8*capacity)
		for i := 0; i < capacity; i++ {
			v, err := c.GetPrimitive(i)
			if err != nil {
				return nil, 0, err
			}
			binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(v))
		}
		return out, kindWords, nil
	case column.NullableColumn[float32]:
		out := make([]byte, 4*capacity)
		for i := 0; i < capacity; i++ {
			v, err := c.GetPrimitive(i)
			if err != nil {
				return nil, 0, err
			}
			binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
		}
		return out, kindWords, nil
	case column.NullableColumn[int32]:
		out := make([]byte, 4*capacity)
		for i := 0; i < capacity; i++ {
			v, err := c.GetPrimitive(i)
			if err != nil {
				return nil, 0, err
			}
			binary.LittleEndian.PutUint32(out[4*i:], uint32(v))
		}
		return out, kindWords, nil
	default:
		values := make([]any, capacity)
		for i := range values {
			v, err := col.Get(i)
			if err != nil {
				return nil, 0, err
			}
			values[i] = v
		}
		out, err := json.Marshal(values)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrorTypeValidation, "column values are not JSON encodable")
		}
		return out, kindJSON, nil
	}
}

// ReadHeader parses and validates the fixed-size block header.
func ReadHeader(data []byte) (*Header, error) {
	if len(data) < headerSize {
		return nil, errors.Newf(errors.ErrorTypeData, "snapshot truncated: %d bytes", len(data))
	}
	if !bytes.Equal(data[0:4], magic[:]) {
		return nil, errors.New(errors.ErrorTypeData, "not a column snapshot")
	}
	if data[4] != Version {
		return nil, errors.Newf(errors.ErrorTypeData, "unsupported snapshot version %d", data[4])
	}
	algo, ok := compression.AlgorithmFromID(data[6])
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeData, "unknown compression id %d", data[6])
	}
	kind := data[7]
	if kind != kindWords && kind != kindJSON {
		return nil, errors.Newf(errors.ErrorTypeData, "unknown payload kind %d", kind)
	}

	capacity := binary.LittleEndian.Uint64(data[8:])
	payloadSize := binary.LittleEndian.Uint64(data[16:])
	packedSize := binary.LittleEndian.Uint64(data[32:])
	if capacity > math.MaxInt32 || payloadSize > math.MaxInt || packedSize > math.MaxInt {
		return nil, errors.New(errors.ErrorTypeData, "snapshot sizes out of range")
	}

	dt := column.DataType(data[5])
	return &Header{
		Version:        data[4],
		Type:           dt,
		TypeName:       dt.String(),
		Compression:    algo,
		Capacity:       int(capacity),
		PayloadSize:    int(payloadSize),
		CompressedSize: int(packedSize),
		Checksum:       binary.LittleEndian.Uint64(data[24:]),
		objects:        kind == kindJSON,
	}, nil
}

// Decode rebuilds a column from a block produced by Encode. Corrupt or
// truncated input fails with a data error.
func Decode(data []byte, opts DecodeOptions) (column.Column, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	body := data[headerSize:]
	if len(body) != h.CompressedSize {
		return nil, errors.Newf(errors.ErrorTypeData,
			"snapshot payload is %d bytes, header says %d", len(body), h.CompressedSize)
	}

	comp, err := compression.NewCompressor(&compression.Config{
		Algorithm:           h.Compression,
		MaxDecompressedSize: payloadLimit(opts),
	})
	if err != nil {
		return nil, err
	}
	payload, err := comp.Decompress(body)
	if err != nil {
		return nil, err
	}
	if len(payload) != h.PayloadSize {
		return nil, errors.Newf(errors.ErrorTypeData,
			"snapshot payload expands to %d bytes, header says %d", len(payload), h.PayloadSize)
	}
	if sum := xxh3.Hash(payload); sum != h.Checksum {
		return nil, errors.New(errors.ErrorTypeData, "snapshot checksum mismatch").
			WithDetail("expected", h.Checksum).
			WithDetail("actual", sum)
	}

	if err := checkShape(h); err != nil {
		return nil, err
	}

	factory := opts.Factory
	if factory == nil {
		factory = column.NewFactory(column.FactoryOptions{})
	}
	col, err := factory.CreateForType(h.Type, opts.Handle, h.Capacity)
	if err != nil {
		return nil, err
	}
	if err := fill(col, h, payload); err != nil {
		return nil, err
	}
	return col, nil
}

// Read reads one block from r and decodes it. The payload is read no
// further than the header claims, and a header claiming more than the
// decode limit is rejected before the payload is read.
func Read(r io.Reader, opts DecodeOptions) (column.Column, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read snapshot header")
	}
	h, err := ReadHeader(hdr[:])
	if err != nil {
		return nil, err
	}
	if limit := payloadLimit(opts); int64(h.PayloadSize) > limit {
		return nil, errors.Newf(errors.ErrorTypeData,
			"snapshot payload of %d bytes exceeds the %d byte limit", h.PayloadSize, limit)
	}

	var buf bytes.Buffer
	buf.Write(hdr[:])
	n, err := io.Copy(&buf, io.LimitReader(r, int64(h.CompressedSize)))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read snapshot payload")
	}
	if n != int64(h.CompressedSize) {
		return nil, errors.Newf(errors.ErrorTypeData,
			"snapshot payload is %d bytes, header says %d", n, h.CompressedSize)
	}
	return Decode(buf.Bytes(), opts)
}

func payloadLimit(opts DecodeOptions) int64 {
	if opts.MaxPayloadSize > 0 {
		return opts.MaxPayloadSize
	}
	return compression.DefaultMaxDecompressedSize
}

// WriteFile encodes col into a new file at path.
func WriteFile(path string, col column.Column, opts Options) (*Header, error) {
	f, err := os.Create(path) //nolint:gosec // path comes from the caller
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to create snapshot file").
			WithDetail("path", path)
	}
	h, err := Write(f, col, opts)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = errors.Wrap(cerr, errors.ErrorTypeStorage, "failed to close snapshot file")
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

// ReadFile decodes the snapshot file at path. The file is memory-mapped
// while it is decoded.
func ReadFile(path string, opts DecodeOptions) (column.Column, error) {
	m, err := storage.OpenMappedFile(path)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	return Decode(m.Bytes(), opts)
}

func fill(col column.Column, h *Header, payload []byte) error {
	if h.objects {
		return fillJSON(col, h, payload)
	}
	switch c := col.(type) {
	case column.NullableColumn[float64]:
		if err := expectWords(h, len(payload), 8); err != nil {
			return err
		}
		for i := 0; i < h.Capacity; i++ {
			v := math.Float64frombits(binary.LittleEndian.Uint64(payload[8*i:]))
			if c.IsNull(v) {
				continue
			}
			if _, err := c.SetPrimitive(i, v); err != nil {
				return err
			}
		}
	case column.NullableColumn[float32]:
		if err := expectWords(h, len(payload), 4); err != nil {
			return err
		}
		for i := 0; i < h.Capacity; i++ {
			v := math.Float32frombits(binary.LittleEndian.Uint32(payload[4*i:]))
			if c.IsNull(v) {
				continue
			}
			if _, err := c.SetPrimitive(i, v); err != nil {
				return err
			}
		}
	case column.NullableColumn[int32]:
		if err := expectWords(h, len(payload), 4); err != nil {
			return err
		}
		for i := 0; i < h.Capacity; i++ {
			v := int32(binary.LittleEndian.Uint32(payload[4*i:]))
			if c.IsNull(v) {
				continue
			}
			if _, err := c.SetPrimitive(i, v); err != nil {
				return err
			}
		}
	default:
		return errors.Newf(errors.ErrorTypeData, "%s snapshot holds raw words", h.TypeName)
	}
	return nil
}

// checkShape rejects payloads that cannot fill the header's capacity before
// any column memory is allocated.
func checkShape(h *Header) error {
	if h.objects {
		if h.Capacity > h.PayloadSize {
			return errors.Newf(errors.ErrorTypeData,
				"%s snapshot payload of %d bytes cannot hold %d slots", h.TypeName, h.PayloadSize, h.Capacity)
		}
		return nil
	}
	switch h.Type {
	case column.Double:
		return expectWords(h, h.PayloadSize, 8)
	case column.Float, column.Int, column.Enum:
		return expectWords(h, h.PayloadSize, 4)
	default:
		return errors.Newf(errors.ErrorTypeData, "%s snapshot holds raw words", h.TypeName)
	}
}

func expectWords(h *Header, size, width int) error {
	if size != h.Capacity*width {
		return errors.Newf(errors.ErrorTypeData,
			"%s snapshot payload is %d bytes for %d slots", h.TypeName, size, h.Capacity)
	}
	return nil
}

func fillJSON(col column.Column, h *Header, payload []byte) error {
	if h.Type == column.Range {
		var values []*column.Interval
		if err := json.Unmarshal(payload, &values); err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "corrupt range snapshot")
		}
		return setAll(col, h, len(values), func(i int) any {
			if values[i] == nil {
				return nil
			}
			return *values[i]
		})
	}

	var values []any
	if err := json.Unmarshal(payload, &values); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "corrupt object snapshot")
	}
	return setAll(col, h, len(values), func(i int) any { return values[i] })
}

func setAll(col column.Column, h *Header, n int, value func(int) any) error {
	if n != h.Capacity {
		return errors.Newf(errors.ErrorTypeData,
			"snapshot holds %d values for %d slots", n, h.Capacity)
	}
	for i := 0; i < n; i++ {
		v := value(i)
		if v == nil {
			continue
		}
		if _, err := col.Set(i, v); err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "snapshot value does not fit its column")
		}
	}
	return nil
}
