// Package compression provides the block codecs used by column snapshots.
//
// Supported algorithms are gzip, deflate, snappy, s2 and zstd from
// klauspost/compress and lz4 from pierrec/lz4. Every algorithm has a stable
// one-byte ID so that encoded blocks can name the codec that produced them.
//
// Basic usage:
//
//	comp, err := compression.NewCompressor(&compression.Config{
//	    Algorithm: compression.Zstd,
//	    Level:     compression.Better,
//	})
//	packed, err := comp.Compress(data)
//	data, err = comp.Decompress(packed)
package compression

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/ajitpratap0/tabula/pkg/errors"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	None    Algorithm = "none"
	Gzip    Algorithm = "gzip"
	Snappy  Algorithm = "snappy"
	LZ4     Algorithm = "lz4"
	Zstd    Algorithm = "zstd"
	S2      Algorithm = "s2"
	Deflate Algorithm = "deflate"
)

// algorithmIDs are written into encoded blocks. Never renumber.
var algorithmIDs = map[Algorithm]byte{
	None:    0,
	Gzip:    1,
	Snappy:  2,
	LZ4:     3,
	Zstd:    4,
	S2:      5,
	Deflate: 6,
}

// ID returns the algorithm's wire identifier.
func (a Algorithm) ID() (byte, bool) {
	id, ok := algorithmIDs[a]
	return id, ok
}

// AlgorithmFromID is the inverse of Algorithm.ID.
func AlgorithmFromID(id byte) (Algorithm, bool) {
	for a, v := range algorithmIDs {
		if v == id {
			return a, true
		}
	}
	return "", false
}

// ParseAlgorithm validates a configured algorithm name. The empty name
// selects None.
func ParseAlgorithm(name string) (Algorithm, error) {
	if name == "" {
		return None, nil
	}
	a := Algorithm(name)
	if _, ok := algorithmIDs[a]; !ok {
		return "", errors.Newf(errors.ErrorTypeConfig, "unsupported compression algorithm: %s", name)
	}
	return a, nil
}

// Level controls the trade-off between compression speed and ratio.
type Level int

const (
	Fastest Level = 1
	Default Level = 5
	Better  Level = 7
	Best    Level = 9
)

// ParseLevel maps a configured level name to a Level. The empty name selects
// Default.
func ParseLevel(name string) (Level, error) {
	switch name {
	case "fastest":
		return Fastest, nil
	case "", "default":
		return Default, nil
	case "better":
		return Better, nil
	case "best":
		return Best, nil
	default:
		return 0, errors.Newf(errors.ErrorTypeConfig, "unknown compression level: %s", name)
	}
}

// DefaultMaxDecompressedSize bounds Decompress output when Config leaves it
// unset.
const DefaultMaxDecompressedSize = 1 << 32

// Compressor compresses and decompresses whole blocks. All implementations
// are safe for concurrent use.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	// Decompress fails with a data error when the input is corrupt or would
	// expand beyond the configured limit.
	Decompress(data []byte) ([]byte, error)
	Algorithm() Algorithm
	Level() Level
}

// Config represents compressor configuration.
type Config struct {
	Algorithm Algorithm
	Level     Level
	// MaxDecompressedSize caps the output of Decompress in bytes.
	MaxDecompressedSize int64
}

// DefaultConfig returns a snappy configuration.
func DefaultConfig() *Config {
	return &Config{
		Algorithm:           Snappy,
		Level:               Default,
		MaxDecompressedSize: DefaultMaxDecompressedSize,
	}
}

// NewCompressor creates a compressor. A nil config selects DefaultConfig.
func NewCompressor(config *Config) (Compressor, error) {
	if config == nil {
		config = DefaultConfig()
	}
	base := baseCompressor{
		algorithm: config.Algorithm,
		level:     config.Level,
		limit:     config.MaxDecompressedSize,
	}
	if base.limit <= 0 {
		base.limit = DefaultMaxDecompressedSize
	}

	switch config.Algorithm {
	case None, "":
		base.algorithm = None
		return &noneCompressor{base}, nil
	case Gzip:
		return newGzipCompressor(base), nil
	case Deflate:
		return &deflateCompressor{baseCompressor: base, flateLevel: mapFlateLevel(config.Level)}, nil
	case Snappy:
		return &snappyCompressor{base}, nil
	case S2:
		return &s2Compressor{base}, nil
	case LZ4:
		return &lz4Compressor{baseCompressor: base, lz4Level: mapLZ4Level(config.Level)}, nil
	case Zstd:
		return newZstdCompressor(base)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported compression algorithm: %s", config.Algorithm)
	}
}

var bufferPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 16<<20 {
		return
	}
	bufferPool.Put(buf)
}

type baseCompressor struct {
	algorithm Algorithm
	level     Level
	limit     int64
}

func (bc *baseCompressor) Algorithm() Algorithm { return bc.algorithm }
func (bc *baseCompressor) Level() Level         { return bc.level }

// readAll drains r into a fresh slice, failing past the size limit.
func (bc *baseCompressor) readAll(r io.Reader) ([]byte, error) {
	buf := getBuffer()
	defer putBuffer(buf)

	n, err := io.Copy(buf, io.LimitReader(r, bc.limit+1))
	if err != nil {
		return nil, bc.corrupt(err)
	}
	if n > bc.limit {
		return nil, errors.Newf(errors.ErrorTypeData,
			"%s block expands beyond %d bytes", bc.algorithm, bc.limit)
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func (bc *baseCompressor) checkLen(n int, err error) error {
	if err != nil {
		return bc.corrupt(err)
	}
	if int64(n) > bc.limit {
		return errors.Newf(errors.ErrorTypeData,
			"%s block expands beyond %d bytes", bc.algorithm, bc.limit)
	}
	return nil
}

func (bc *baseCompressor) corrupt(err error) error {
	return errors.Wrap(err, errors.ErrorTypeData, "corrupt "+string(bc.algorithm)+" block")
}

func writeAndClose(w io.WriteCloser, data []byte) error {
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

type noneCompressor struct {
	baseCompressor
}

func (nc *noneCompressor) Compress(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

func (nc *noneCompressor) Decompress(data []byte) ([]byte, error) {
	if err := nc.checkLen(len(data), nil); err != nil {
		return nil, err
	}
	return append([]byte(nil), data...), nil
}



type gzipCompressor struct {
	baseCompressor
	writerPool sync.Pool
}

func newGzipCompressor(base baseCompressor) *gzipCompressor {
	gc := &gzipCompressor{baseCompressor: base}
	level := mapFlateLevel(base.level)
	gc.writerPool.New = func() interface{} {
		w, _ := gzip.NewWriterLevel(nil, level)
		return w
	}
	return gc
}

func (gc *gzipCompressor) Compress(data []byte) ([]byte, error) {
	buf := getBuffer()
	defer putBuffer(buf)
	if err := gc.compressTo(buf, data); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.Bytes()...), nil
}

func (gc *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, gc.corrupt(err)
	}
	defer r.Close()
	return gc.readAll(r)
}

func (gc *gzipCompressor) compressTo(dst io.Writer, data []byte) error {
	w := gc.writerPool.Get().(*gzip.Writer)
	defer gc.writerPool.Put(w)
	w.Reset(dst)
	return writeAndClose(w, data)
}


type deflateCompressor struct {
	baseCompressor
	flateLevel int
}

func (dc *deflateCompressor) Compress(data []byte) ([]byte, error) {
	buf := getBuffer()
	defer putBuffer(buf)
	if err := dc.compressTo(buf, data); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.Bytes()...), nil
}

func (dc *deflateCompressor) Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return dc.readAll(r)
}

func (dc *deflateCompressor) compressTo(dst io.Writer, data []byte) error {
	w, err := flate.NewWriter(dst, dc.flateLevel)
	if err != nil {
		return err
	}
	return writeAndClose(w, data)
}


type snappyCompressor struct {
	baseCompressor
}

func (sc *snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (sc *snappyCompressor) Decompress(data []byte) ([]byte, error) {
	if err := sc.checkLen(snappy.DecodedLen(data)); err != nil {
		return nil, err
	}
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, sc.corrupt(err)
	}
	return out, nil
}



type s2Compressor struct {
	baseCompressor
}

func (sc *s2Compressor) Compress(data []byte) ([]byte, error) {
	if sc.level >= Better {
		return s2.EncodeBetter(nil, data), nil
	}
	return s2.Encode(nil, data), nil
}

func (sc *s2Compressor) Decompress(data []byte) ([]byte, error) {
	if err := sc.checkLen(s2.DecodedLen(data)); err != nil {
		return nil, err
	}
	out, err := s2.Decode(nil, data)
	if err != nil {
		return nil, sc.corrupt(err)
	}
	return out, nil
}



type lz4Compressor struct {
	baseCompressor
	lz4Level lz4.CompressionLevel
}

func (lc *lz4Compressor) newWriter(dst io.Writer) (*lz4.Writer, error) {
	w := lz4.NewWriter(dst)
	if err := w.Apply(lz4.CompressionLevelOption(lc.lz4Level)); err != nil {
		return nil, err
	}
	return w, nil
}

func (lc *lz4Compressor) Compress(data []byte) ([]byte, error) {
	buf := getBuffer()
	defer putBuffer(buf)
	if err := lc.compressTo(buf, data); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.Bytes()...), nil
}

func (lc *lz4Compressor) Decompress(data []byte) ([]byte, error) {
	return lc.readAll(lz4.NewReader(bytes.NewReader(data)))
}

func (lc *lz4Compressor) compressTo(dst io.Writer, data []byte) error {
	w, err := lc.newWriter(dst)
	if err != nil {
		return err
	}
	return writeAndClose(w, data)
}


type zstdCompressor struct {
	baseCompressor
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// newZstdCompressor shares one encoder and decoder; EncodeAll and DecodeAll
// are safe for concurrent use.
func newZstdCompressor(base baseCompressor) (*zstdCompressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(mapZstdLevel(base.level)))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(base.limit)))
	if err != nil {
		return nil, err
	}
	return &zstdCompressor{baseCompressor: base, encoder: enc, decoder: dec}, nil
}

func (zc *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return zc.encoder.EncodeAll(data, nil), nil
}

func (zc *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := zc.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, zc.corrupt(err)
	}
	return out, zc.checkLen(len(out), nil)
}



func mapFlateLevel(level Level) int {
	switch level {
	case Fastest:
		return flate.BestSpeed
	case Best:
		return flate.BestCompression
	default:
		return flate.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}
