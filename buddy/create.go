package buddy

import "fmt"

// Create initializes an allocator whose metadata lives inside the region it
// manages, permanently consuming leaf blocks at the front of the region.
//
// The construction runs in two phases. A bootstrap allocator first operates
// with its metadata at the tail of the region and the whole region free, and
// allocates leaf blocks from the head until the metadata footprint is
// covered; those allocations are never freed, so the bitmap itself records
// that the prefix is reserved. The metadata is then rebuilt at the head,
// inside the reserved prefix: the bitmap is copied word for word and each
// non-empty free chain is spliced onto a fresh sentinel. The chain bodies
// live in the region's own free blocks and are already in place; only the
// head and tail links referenced the old sentinels.
func Create(region []byte) (*Allocator, error) {
	bootstrap := &Allocator{}
	if err := bootstrap.initGeometry(region); err != nil {
		return nil, err
	}

	meta := MetadataSize(len(region))

	// The tail metadata must not overlap the head blocks being reserved,
	// and no split can push a free block link into the live tail while the
	// bootstrap runs. Both hold once the footprint fits in half the region.
	if 2*meta > len(region) {
		return nil, fmt.Errorf("buddy: %d byte region cannot self-host %d bytes of metadata: %w",
			len(region), meta, ErrRegionTooSmall)
	}

	bootstrap.attachMetadata(region[len(region)-meta:])
	bootstrap.reset()
	bootstrap.extraMetadata = true

	ghostBlocks := (meta + MinLeafSize - 1) / MinLeafSize
	for i := 0; i < ghostBlocks; i++ {
		if bootstrap.allocFromLevel(bootstrap.maxLevel) == nil {
			return nil, ErrRegionTooSmall
		}
	}

	a := &Allocator{}
	*a = *bootstrap
	a.extraMetadata = false
	a.attachMetadata(region[:meta])

	copy(a.blockIndex, bootstrap.blockIndex)

	for level := range a.freeBlocks {
		a.freeBlocks[level].init()
		if bootstrap.freeBlocks[level].empty() {
			continue
		}
		head := bootstrap.freeBlocks[level].next
		tail := bootstrap.freeBlocks[level].prev
		a.freeBlocks[level].next = head
		a.freeBlocks[level].prev = tail
		head.prev = &a.freeBlocks[level]
		tail.next = &a.freeBlocks[level]
	}

	return a, nil
}
