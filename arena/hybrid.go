// Package arena layers size-class routing on top of the buddy core: tiny
// objects come from slab pages, everything else from the buddy allocator
// directly. The arena serializes access internally, so it may be shared
// between goroutines even though the core allocator may not.
package arena

import (
	"fmt"
	"sync"

	"github.com/nmxmxh/buddyarena/buddy"
)

// Flags adjust a single allocation.
type Flags uint32

const (
	// FlagZeroed clears the block before returning it.
	FlagZeroed Flags = 1 << iota
)

// Hybrid coordinates the slab and buddy allocators over one region.
type Hybrid struct {
	buddy *buddy.Allocator
	slab  *Slab

	totalAllocated uint64
	totalFreed     uint64
	allocCount     uint64
	freeCount      uint64

	mu sync.Mutex
}

// New builds a hybrid arena over region, hosting the allocator metadata
// inside the region itself.
func New(region []byte) (*Hybrid, error) {
	core, err := buddy.Create(region)
	if err != nil {
		return nil, err
	}
	return &Hybrid{
		buddy: core,
		slab:  newSlab(core),
	}, nil
}

// Alloc returns a block of at least size bytes, routed by size.
func (h *Hybrid) Alloc(size int, flags Flags) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("arena: invalid allocation size %d", size)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var block []byte
	if size <= MaxSlabSize {
		var err error
		block, err = h.slab.alloc(size)
		if err != nil {
			// Second chance: recover empty slab pages, then retry.
			if h.slab.freeEmptyPages() == 0 {
				return nil, err
			}
			block, err = h.slab.alloc(size)
			if err != nil {
				return nil, err
			}
		}
	} else {
		block = h.buddy.Alloc(size)
		if block == nil {
			return nil, fmt.Errorf("arena: out of memory for %d bytes", size)
		}
	}

	if flags&FlagZeroed != 0 {
		clear(block)
	}

	h.totalAllocated += uint64(len(block))
	h.allocCount++
	return block, nil
}

// Free returns a block to whichever allocator owns it.
func (h *Hybrid) Free(block []byte) error {
	if block == nil {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	offset := h.buddy.Offset(block)
	if page, _ := h.slab.owns(offset); page != nil {
		if err := h.slab.free(offset); err != nil {
			return err
		}
	} else {
		h.buddy.Free(block)
	}

	h.totalFreed += uint64(len(block))
	h.freeCount++
	return nil
}

// FreeCache returns fully-free slab pages to the buddy allocator and
// reports the bytes recovered.
func (h *Hybrid) FreeCache() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.slab.freeEmptyPages()
}

// Stats is a combined view over both allocators.
type Stats struct {
	TotalAllocated uint64
	TotalFreed     uint64
	AllocCount     uint64
	FreeCount      uint64

	Slab  []SlabClassStats
	Buddy buddy.Stats

	OverallFragmentation float32
}

// Stats gathers counters and the per-allocator breakdown.
func (h *Hybrid) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	buddyStats := h.buddy.Stats()
	s := Stats{
		TotalAllocated: h.totalAllocated,
		TotalFreed:     h.totalFreed,
		AllocCount:     h.allocCount,
		FreeCount:      h.freeCount,
		Slab:           h.slab.stats(),
		Buddy:          buddyStats,
	}

	if buddyStats.Available > 0 && buddyStats.LargestAvailable > 0 {
		s.OverallFragmentation = (1 - float32(buddyStats.LargestAvailable)/float32(buddyStats.Available)) * 100
	}
	return s
}
