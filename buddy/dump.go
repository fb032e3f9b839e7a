package buddy

import (
	"fmt"
	"io"
)

func firstOfLevel(level int) int {
	return 1<<level - 1
}

func lastOfLevel(level int) int {
	return 1<<(level+1) - 1
}

// DumpInfo writes a one-line-per-field summary of the allocator geometry and
// occupancy.
func (a *Allocator) DumpInfo(w io.Writer) {
	fmt.Fprintf(w, "allocator @ %#x\n", a.base)
	fmt.Fprintf(w, "\tsize:           %d\n", a.size)
	fmt.Fprintf(w, "\ttotal levels:   %d\n", a.totalLevels)
	fmt.Fprintf(w, "\tmax level:      %d\n", a.maxLevel)
	fmt.Fprintf(w, "\tmax allocation: %d\n", a.size)
	fmt.Fprintf(w, "\tmin allocation: %d\n", a.minAlloc)
	fmt.Fprintf(w, "\tmax indexes:    %d\n", a.maxIndexes)
	fmt.Fprintf(w, "\tavailable:      %d\n", a.Available())
	fmt.Fprintf(w, "\tused:           %d\n", a.Used())
	fmt.Fprintf(w, "\tmax available:  %d\n", a.LargestAvailable())
}

// DumpFreeBlocks writes each level's free list as block offsets and tree
// indexes.
func (a *Allocator) DumpFreeBlocks(w io.Writer) {
	fmt.Fprintf(w, "free blocks:\n")
	for level := 0; level <= a.maxLevel; level++ {
		fmt.Fprintf(w, "\t%6d: ", a.size>>level)
		for cursor := a.freeBlocks[level].next; cursor != &a.freeBlocks[level]; cursor = cursor.next {
			fmt.Fprintf(w, "%d(%d) ", a.offsetOf(cursor), a.indexOf(cursor, level))
		}
		fmt.Fprintf(w, "\n")
	}
	fmt.Fprintf(w, "\n")
}

// DumpSplitIndex writes the split bit of every internal node, one row per
// level.
func (a *Allocator) DumpSplitIndex(w io.Writer) {
	fmt.Fprintf(w, "split index:\n")
	for level := 0; level < a.maxLevel; level++ {
		fmt.Fprintf(w, "\t%6d - %4d:%-4d: ", a.size>>level, firstOfLevel(level), lastOfLevel(level)-1)
		for index := firstOfLevel(level); index < lastOfLevel(level); index++ {
			if bitTest(a.blockIndex, a.splitIndex(index)) {
				fmt.Fprintf(w, "1")
			} else {
				fmt.Fprintf(w, "0")
			}
		}
		fmt.Fprintf(w, "\n")
	}
	fmt.Fprintf(w, "\n")
}

// DumpFreeIndex writes the free-xor bit keyed by every internal node, one
// row per level. Each bit is set when exactly one child of that node is
// free.
func (a *Allocator) DumpFreeIndex(w io.Writer) {
	fmt.Fprintf(w, "free index:\n")
	for level := 0; level < a.maxLevel; level++ {
		fmt.Fprintf(w, "\t%6d - %4d:%-4d: ", a.size>>(level+1), firstOfLevel(level+1), lastOfLevel(level+1)-1)
		for index := firstOfLevel(level); index < lastOfLevel(level); index++ {
			if bitTest(a.blockIndex, index) {
				fmt.Fprintf(w, "1")
			} else {
				fmt.Fprintf(w, "0")
			}
		}
		fmt.Fprintf(w, "\n")
	}
	fmt.Fprintf(w, "\n")
}

// DumpTo writes the full diagnostic dump: info, free lists, split bits and
// free-xor bits.
func (a *Allocator) DumpTo(w io.Writer) {
	a.DumpInfo(w)
	a.DumpFreeBlocks(w)
	a.DumpSplitIndex(w)
	a.DumpFreeIndex(w)
}
