package storage

import (
	"sync"

	"github.com/ajitpratap0/tabula/pkg/errors"
)

// ErrInjectedAllocation is returned when an allocation failure is injected.
var ErrInjectedAllocation = errors.New(errors.ErrorTypeAllocation, "injected allocation failure")

// FaultInjectionHandle wraps a Handle and fails allocations on demand. It is
// used to check that a failed resize leaves a column in its last valid state.
type FaultInjectionHandle struct {
	base Handle

	mu          sync.Mutex
	failGrow    bool
	failAlloc   bool
	growsLeft   int
	allocations int
	grows       int
}

// NewFaultInjectionHandle wraps base.
func NewFaultInjectionHandle(base Handle) *FaultInjectionHandle {
	return &FaultInjectionHandle{base: base, growsLeft: -1}
}

// FailGrowAfter lets n more GrowRegion calls succeed and fails every later one.
func (h *FaultInjectionHandle) FailGrowAfter(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failGrow = true
	h.growsLeft = n
}

// FailAllocate makes every AllocateRegion call fail.
func (h *FaultInjectionHandle) FailAllocate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failAlloc = true
}

// ClearErrors disables all injection.
func (h *FaultInjectionHandle) ClearErrors() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failGrow = false
	h.failAlloc = false
	h.growsLeft = -1
}

// Calls returns how many allocations and grows reached the base handle.
func (h *FaultInjectionHandle) Calls() (allocations, grows int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocations, h.grows
}

// AllocateRegion implements Handle.
func (h *FaultInjectionHandle) AllocateRegion(elem ElementType, size int) (Region, error) {
	h.mu.Lock()
	if h.failAlloc {
		h.mu.Unlock()
		return nil, ErrInjectedAllocation
	}
	h.allocations++
	h.mu.Unlock()
	return h.base.AllocateRegion(elem, size)
}

// GrowRegion implements Handle.
func (h *FaultInjectionHandle) GrowRegion(existing Region, newSize int) (Region, error) {
	h.mu.Lock()
	if h.failGrow {
		if h.growsLeft <= 0 {
			h.mu.Unlock()
			return nil, ErrInjectedAllocation
		}
		h.growsLeft--
	}
	h.grows++
	h.mu.Unlock()
	return h.base.GrowRegion(existing, newSize)
}
