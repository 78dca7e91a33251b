package column

import (
	"math"

	"github.com/ajitpratap0/tabula/pkg/storage"
)

// codec carries everything type-specific about a primitive column: how its
// values map to raw slot bits and which bit pattern means null.
type codec[T Primitive] struct {
	name     string
	elem     storage.ElementType
	null     T
	isNull   func(T) bool
	toBits   func(T) uint64
	fromBits func(uint64) T
	// fromBoxed converts a boxed, non-nil value to T. ok is false when the
	// value has the wrong type or cannot be represented.
	fromBoxed func(v any) (T, bool)
}

func (c *codec[T]) width() int { return c.elem.Size() }

func (c *codec[T]) nullBits() uint64 { return c.toBits(c.null) }

var doubleCodec = &codec[float64]{
	name:      "double",
	elem:      storage.Float64,
	null:      math.NaN(),
	isNull:    math.IsNaN,
	toBits:    math.Float64bits,
	fromBits:  math.Float64frombits,
	fromBoxed: boxedFloat64,
}

var floatCodec = &codec[float32]{
	name:      "float",
	elem:      storage.Float32,
	null:      float32(math.NaN()),
	isNull:    func(v float32) bool { return v != v },
	toBits:    func(v float32) uint64 { return uint64(math.Float32bits(v)) },
	fromBits:  func(b uint64) float32 { return math.Float32frombits(uint32(b)) },
	fromBoxed: boxedFloat32,
}

var intCodec = &codec[int32]{
	name:      "int",
	elem:      storage.Int32,
	null:      math.MinInt32,
	isNull:    func(v int32) bool { return v == math.MinInt32 },
	toBits:    func(v int32) uint64 { return uint64(uint32(v)) },
	fromBits:  func(b uint64) int32 { return int32(uint32(b)) },
	fromBoxed: boxedInt32,
}

func codecFor[T Primitive]() *codec[T] {
	var zero T
	switch any(zero).(type) {
	case float64:
		return any(doubleCodec).(*codec[T])
	case float32:
		return any(floatCodec).(*codec[T])
	default:
		return any(intCodec).(*codec[T])
	}
}

// Integers beyond these magnitudes do not all have an exact float form.
const (
	maxExactFloat64 = 1 << 53
	maxExactFloat32 = 1 << 24
)

func exactInt(n int64, limit int64) bool {
	return n >= -limit && n <= limit
}

// boxedFloat64 accepts only conversions that keep the value exact.
func boxedFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), exactInt(int64(x), maxExactFloat64)
	case int32:
		return float64(x), true
	case int64:
		return float64(x), exactInt(x, maxExactFloat64)
	default:
		return 0, false
	}
}

// boxedFloat32 accepts only conversions that keep the value exact. NaN and
// the infinities convert as themselves.
func boxedFloat32(v any) (float32, bool) {
	switch x := v.(type) {
	case float32:
		return x, true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return float32(x), true
		}
		f := float32(x)
		return f, float64(f) == x
	case int:
		return float32(x), exactInt(int64(x), maxExactFloat32)
	case int32:
		return float32(x), exactInt(int64(x), maxExactFloat32)
	case int64:
		return float32(x), exactInt(x, maxExactFloat32)
	default:
		return 0, false
	}
}

// boxedInt32 rejects math.MinInt32: it is the null sentinel and cannot be
// stored as a real value through the boxed view.
func boxedInt32(v any) (int32, bool) {
	var n int64
	switch x := v.(type) {
	case int32:
		n = int64(x)
	case int:
		n = int64(x)
	case int64:
		n = x
	case int16:
		n = int64(x)
	case int8:
		n = int64(x)
	case uint8:
		n = int64(x)
	case uint16:
		n = int64(x)
	default:
		return 0, false
	}
	if n <= math.MinInt32 || n > math.MaxInt32 {
		return 0, false
	}
	return int32(n), true
}
