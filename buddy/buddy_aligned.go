//go:build buddy_aligned

package buddy

// toBuddy computes buddy addresses with a plain address XOR. This build
// requires every region to be aligned to its own size; see region.NewAligned.
func (a *Allocator) toBuddy(p *blockInfo, level int) *blockInfo {
	return a.buddyByAddress(p, level)
}
