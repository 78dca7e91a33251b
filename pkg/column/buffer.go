package column

import (
	"sync/atomic"
	"unsafe"

	"github.com/ajitpratap0/tabula/pkg/storage"
)

// buffer is a fixed-size run of primitive slots addressed as raw bits.
// Slot access is atomic so that copies made by a resize never tear a value
// written concurrently.
type buffer interface {
	load(i int) uint64
	store(i int, bits uint64)
	swap(i int, bits uint64) uint64
	length() int
}

// bufferRef lets an interface value live behind an atomic.Pointer.
type bufferRef struct {
	buffer
}

type words64 []atomic.Uint64

func (w words64) load(i int) uint64           { return w[i].Load() }
func (w words64) store(i int, b uint64)        { w[i].Store(b) }
func (w words64) swap(i int, b uint64) uint64 { return w[i].Swap(b) }
func (w words64) length() int                 { return len(w) }

type words32 []atomic.Uint32

func (w words32) load(i int) uint64           { return uint64(w[i].Load()) }
func (w words32) store(i int, b uint64)        { w[i].Store(uint32(b)) }
func (w words32) swap(i int, b uint64) uint64 { return uint64(w[i].Swap(uint32(b))) }
func (w words32) length() int                 { return len(w) }

// regionWords addresses a storage region as 4- or 8-byte slots. Regions are
// 8-byte aligned, so every slot is naturally aligned for atomic access.
type regionWords struct {
	region storage.Region
	base   unsafe.Pointer
	n      int
	width  int
}

func newRegionWords(r storage.Region) *regionWords {
	w := &regionWords{region: r, n: r.Len(), width: r.ElementType().Size()}
	if b := r.Bytes(); len(b) > 0 {
		w.base = unsafe.Pointer(&b[0])
	}
	return w
}

func (w *regionWords) slot(i int) unsafe.Pointer {
	return unsafe.Add(w.base, i*w.width)
}

func (w *regionWords) load(i int) uint64 {
	if w.width == 8 {
		return atomic.LoadUint64((*uint64)(w.slot(i)))
	}
	return uint64(atomic.LoadUint32((*uint32)(w.slot(i))))
}

func (w *regionWords) store(i int, b uint64) {
	if w.width == 8 {
		atomic.StoreUint64((*uint64)(w.slot(i)), b)
		return
	}
	atomic.StoreUint32((*uint32)(w.slot(i)), uint32(b))
}

func (w *regionWords) swap(i int, b uint64) uint64 {
	if w.width == 8 {
		return atomic.SwapUint64((*uint64)(w.slot(i)), b)
	}
	return uint64(atomic.SwapUint32((*uint32)(w.slot(i)), uint32(b)))
}

func (w *regionWords) length() int { return w.n }

// backend allocates buffers for one column. grow returns a new buffer of n
// slots; copying and sentinel filling is left to the column so that every
// backend shares the same null semantics.
type backend interface {
	kind() string
	allocate(n int) (buffer, error)
	grow(old buffer, n int) (buffer, error)
}

type arrayBackend struct {
	width int
}

func (a arrayBackend) kind() string { return "array" }

func (a arrayBackend) allocate(n int) (buffer, error) {
	if a.width == 8 {
		return make(words64, n), nil
	}
	return make(words32, n), nil
}

func (a arrayBackend) grow(_ buffer, n int) (buffer, error) {
	return a.allocate(n)
}

type mappedBackend struct {
	handle storage.Handle
	elem   storage.ElementType
}

func (m mappedBackend) kind() string { return "mapped" }

func (m mappedBackend) allocate(n int) (buffer, error) {
	r, err := m.handle.AllocateRegion(m.elem, n)
	if err != nil {
		return nil, err
	}
	return newRegionWords(r), nil
}

func (m mappedBackend) grow(old buffer, n int) (buffer, error) {
	r, err := m.handle.GrowRegion(old.(*regionWords).region, n)
	if err != nil {
		return nil, err
	}
	return newRegionWords(r), nil
}
