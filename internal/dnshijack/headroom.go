package dnshijack

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/mem"
)

// Headroom reports how many bytes of memory are available to the process.
type Headroom interface {
	Available() uint64
}

// HeadroomFunc adapts a function to Headroom.
type HeadroomFunc func() uint64

// Available calls f.
func (f HeadroomFunc) Available() uint64 { return f() }

const sampleInterval = 250 * time.Millisecond

// SystemHeadroom reports system available memory, sampling at most once per
// 250ms. A failed sample reports unlimited headroom so the responder keeps
// answering.
type SystemHeadroom struct {
	mu      sync.Mutex
	sampled time.Time
	value   uint64
}

// Available returns the most recent sample of available memory.
func (s *SystemHeadroom) Available() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.sampled) < sampleInterval {
		return s.value
	}
	s.sampled = time.Now()

	vm, err := mem.VirtualMemory()
	if err != nil {
		s.value = ^uint64(0)
		return s.value
	}
	s.value = vm.Available
	return s.value
}
