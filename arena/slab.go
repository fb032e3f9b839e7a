package arena

import (
	"fmt"
	"math/bits"

	"github.com/nmxmxh/buddyarena/buddy"
)

// Slab allocator for tiny objects, sitting in front of the buddy core.
// Each size class draws fixed-size pages from the buddy allocator and carves
// them into equal objects tracked by a per-page bitmap.

const (
	slabPageSize = 4096

	// Objects per page are capped by the page bitmap width.
	maxObjectsPerPage = 64
)

var sizeClassSizes = [...]int{8, 16, 24, 32, 48, 64, 96, 128, 192, 256}

// MaxSlabSize is the largest request served from slab pages; larger requests
// go straight to the buddy allocator.
const MaxSlabSize = 256

type slabPage struct {
	block  []byte // backing buddy block
	offset int    // block offset inside the region, for ownership checks
	bitmap uint64 // set bit = object allocated

	freeCount  int
	totalCount int
}

type slabCache struct {
	objectSize int
	pages      []*slabPage

	allocated int
	capacity  int
}

// Slab routes tiny allocations onto buddy-backed pages.
type Slab struct {
	source *buddy.Allocator
	caches [len(sizeClassSizes)]*slabCache
}

func newSlab(source *buddy.Allocator) *Slab {
	s := &Slab{source: source}
	for i, size := range sizeClassSizes {
		s.caches[i] = &slabCache{
			objectSize: size,
			pages:      make([]*slabPage, 0, 4),
		}
	}
	return s
}

func sizeClass(size int) int {
	for i, classSize := range sizeClassSizes {
		if size <= classSize {
			return i
		}
	}
	return len(sizeClassSizes) - 1
}

// alloc returns an object of at least size bytes.
func (s *Slab) alloc(size int) ([]byte, error) {
	if size > MaxSlabSize {
		return nil, fmt.Errorf("arena: size %d too large for slab allocator", size)
	}
	cache := s.caches[sizeClass(size)]

	page := cache.pageWithSpace()
	if page == nil {
		var err error
		page, err = cache.grow(s.source)
		if err != nil {
			return nil, err
		}
	}

	index := bits.TrailingZeros64(^page.bitmap)
	page.bitmap |= 1 << index
	page.freeCount--
	cache.allocated++

	start := index * cache.objectSize
	return page.block[start : start+cache.objectSize : start+cache.objectSize], nil
}

func (c *slabCache) pageWithSpace() *slabPage {
	for _, page := range c.pages {
		if page.freeCount > 0 {
			return page
		}
	}
	return nil
}

func (c *slabCache) grow(source *buddy.Allocator) (*slabPage, error) {
	block := source.Alloc(slabPageSize)
	if block == nil {
		return nil, fmt.Errorf("arena: out of memory growing %d byte slab", c.objectSize)
	}

	total := len(block) / c.objectSize
	if total > maxObjectsPerPage {
		total = maxObjectsPerPage
	}
	page := &slabPage{
		block:      block,
		offset:     source.Offset(block),
		freeCount:  total,
		totalCount: total,
	}
	c.pages = append(c.pages, page)
	c.capacity += total
	return page, nil
}

// owns reports whether the region offset falls inside one of the slab's
// pages.
func (s *Slab) owns(offset int) (*slabPage, *slabCache) {
	for _, cache := range s.caches {
		for _, page := range cache.pages {
			if offset >= page.offset && offset < page.offset+len(page.block) {
				return page, cache
			}
		}
	}
	return nil, nil
}

// free releases the object at the region offset back to its page.
func (s *Slab) free(offset int) error {
	page, cache := s.owns(offset)
	if page == nil {
		return fmt.Errorf("arena: offset %d not in any slab page", offset)
	}

	index := (offset - page.offset) / cache.objectSize
	mask := uint64(1) << index
	if index >= page.totalCount || page.bitmap&mask == 0 {
		return fmt.Errorf("arena: offset %d is not an allocated slab object", offset)
	}

	page.bitmap &^= mask
	page.freeCount++
	cache.allocated--
	return nil
}

// freeEmptyPages returns fully-free pages to the buddy allocator and reports
// the bytes recovered. Used for out-of-memory recovery.
func (s *Slab) freeEmptyPages() int {
	recovered := 0
	for _, cache := range s.caches {
		kept := cache.pages[:0]
		for _, page := range cache.pages {
			if page.freeCount == page.totalCount {
				s.source.Release(page.block, slabPageSize)
				cache.capacity -= page.totalCount
				recovered += len(page.block)
			} else {
				kept = append(kept, page)
			}
		}
		cache.pages = kept
	}
	return recovered
}

// SlabClassStats describes one size class.
type SlabClassStats struct {
	ObjectSize int
	Allocated  int
	Capacity   int
	Pages      int
}

func (s *Slab) stats() []SlabClassStats {
	out := make([]SlabClassStats, len(s.caches))
	for i, cache := range s.caches {
		out[i] = SlabClassStats{
			ObjectSize: cache.objectSize,
			Allocated:  cache.allocated,
			Capacity:   cache.capacity,
			Pages:      len(cache.pages),
		}
	}
	return out
}
