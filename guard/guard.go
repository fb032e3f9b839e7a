// Package guard wraps a buddy allocator with runtime misuse detection for
// debug setups. The core allocator treats double frees, foreign pointers and
// wrong release sizes as undefined behavior; the guard refuses them instead
// and records a violation. Release builds use the core directly.
package guard

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/nmxmxh/buddyarena/buddy"
)

// Violation records one rejected operation.
type Violation struct {
	Type      string
	Message   string
	Offset    int
	Size      int
	Timestamp int64
}

// Guard serializes access to the wrapped allocator and tracks every live
// block. A bloom filter of released offsets cheaply flags probable double
// frees even after the exact live-set entry is gone.
type Guard struct {
	allocator *buddy.Allocator

	freed *bloom.BloomFilter
	live  map[int]int // block offset -> block size

	violations []Violation
	mu         sync.Mutex
}

// Wrap builds a guard around allocator. expectedAllocations sizes the bloom
// filter of released offsets.
func Wrap(allocator *buddy.Allocator, expectedAllocations uint) *Guard {
	return &Guard{
		allocator: allocator,
		freed:     bloom.NewWithEstimates(expectedAllocations, 0.001),
		live:      make(map[int]int),
	}
}

func offsetKey(offset int) []byte {
	var key [8]byte
	binary.LittleEndian.PutUint64(key[:], uint64(offset))
	return key[:]
}

func (g *Guard) record(kind, message string, offset, size int) error {
	g.violations = append(g.violations, Violation{
		Type:      kind,
		Message:   message,
		Offset:    offset,
		Size:      size,
		Timestamp: time.Now().UnixNano(),
	})
	return fmt.Errorf("guard: %s: %s", kind, message)
}

// Alloc allocates from the wrapped allocator and registers the block.
func (g *Guard) Alloc(size int) []byte {
	g.mu.Lock()
	defer g.mu.Unlock()

	block := g.allocator.Alloc(size)
	if block == nil {
		return nil
	}
	g.live[g.allocator.Offset(block)] = len(block)
	return block
}

// Release returns a block with its allocation size, refusing blocks the
// guard does not know and sizes that round to a different block size.
func (g *Guard) Release(block []byte, size int) error {
	if block == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	offset := g.allocator.Offset(block)
	blockSize, ok := g.live[offset]
	if !ok {
		return g.unknownBlock(offset, size)
	}
	if g.allocator.AllocationSize(size) != blockSize {
		return g.record("wrong-size",
			fmt.Sprintf("release of %d bytes at offset %d rounds to a different block than the %d byte allocation", size, offset, blockSize),
			offset, size)
	}

	g.allocator.Release(block, size)
	g.retire(offset)
	return nil
}

// Free returns a block without its size, refusing blocks the guard does not
// know.
func (g *Guard) Free(block []byte) error {
	if block == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	offset := g.allocator.Offset(block)
	if _, ok := g.live[offset]; !ok {
		return g.unknownBlock(offset, 0)
	}

	g.allocator.Free(block)
	g.retire(offset)
	return nil
}

func (g *Guard) retire(offset int) {
	delete(g.live, offset)
	g.freed.Add(offsetKey(offset))
}

func (g *Guard) unknownBlock(offset, size int) error {
	if g.freed.Test(offsetKey(offset)) {
		return g.record("double-free",
			fmt.Sprintf("offset %d was already released", offset), offset, size)
	}
	return g.record("unknown-block",
		fmt.Sprintf("offset %d was not returned by this allocator", offset), offset, size)
}

// Outstanding returns the number of live blocks.
func (g *Guard) Outstanding() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.live)
}

// Violations returns a copy of the recorded violations.
func (g *Guard) Violations() []Violation {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Violation, len(g.violations))
	copy(out, g.violations)
	return out
}
