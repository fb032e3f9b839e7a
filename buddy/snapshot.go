package buddy

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/andybalholm/brotli"
)

// Snapshot layout, little endian: a fixed header, the bitmap words, the
// per-level free block offsets, and a trailing CRC32 over everything before
// it. The bitmap alone cannot reproduce the free lists (a set free-xor bit
// says one sibling is free without saying which), so the offsets are
// recorded explicitly.
const (
	snapshotMagic   uint32 = 0x53594442 // "BDYS"
	snapshotVersion uint32 = 1
)

var (
	// ErrSnapshotCorrupt indicates a checksum or framing failure.
	ErrSnapshotCorrupt = errors.New("buddy: snapshot corrupted")

	// ErrSnapshotMismatch indicates the snapshot was taken from an
	// allocator with different geometry than the restore target.
	ErrSnapshotMismatch = errors.New("buddy: snapshot does not match region geometry")
)

type snapshotHeader struct {
	Magic       uint32
	Version     uint32
	Size        uint64
	MinAlloc    uint64
	BitmapWords uint32
	Levels      uint32
}

// Snapshot serializes the allocator metadata: geometry, bitmap and free
// lists. Block payload bytes are not captured; the snapshot restores the
// allocator's view of a region, not the region contents.
func (a *Allocator) Snapshot() []byte {
	var buf bytes.Buffer

	hdr := snapshotHeader{
		Magic:       snapshotMagic,
		Version:     snapshotVersion,
		Size:        uint64(a.size),
		MinAlloc:    uint64(a.minAlloc),
		BitmapWords: uint32(a.bitmapWords()),
		Levels:      uint32(a.maxLevel + 1),
	}
	binary.Write(&buf, binary.LittleEndian, hdr)
	binary.Write(&buf, binary.LittleEndian, a.blockIndex)

	for level := 0; level <= a.maxLevel; level++ {
		offsets := make([]uint64, 0, a.freeCount(level))
		for cursor := a.freeBlocks[level].next; cursor != &a.freeBlocks[level]; cursor = cursor.next {
			offsets = append(offsets, uint64(a.offsetOf(cursor)))
		}
		binary.Write(&buf, binary.LittleEndian, uint32(len(offsets)))
		binary.Write(&buf, binary.LittleEndian, offsets)
	}

	binary.Write(&buf, binary.LittleEndian, crc32.ChecksumIEEE(buf.Bytes()))
	return buf.Bytes()
}

// Restore rebuilds an allocator over region from a snapshot taken on a
// region of the same size. Metadata is placed outside the region, as with
// New, regardless of how the snapshotted allocator was constructed.
func Restore(region []byte, snapshot []byte) (*Allocator, error) {
	if len(snapshot) < 4 {
		return nil, ErrSnapshotCorrupt
	}
	body, sum := snapshot[:len(snapshot)-4], binary.LittleEndian.Uint32(snapshot[len(snapshot)-4:])
	if crc32.ChecksumIEEE(body) != sum {
		return nil, ErrSnapshotCorrupt
	}

	r := bytes.NewReader(body)
	var hdr snapshotHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, ErrSnapshotCorrupt
	}
	if hdr.Magic != snapshotMagic || hdr.Version != snapshotVersion {
		return nil, ErrSnapshotCorrupt
	}
	if hdr.Size != uint64(len(region)) || hdr.MinAlloc != uint64(MinLeafSize) {
		return nil, ErrSnapshotMismatch
	}

	a, err := New(region)
	if err != nil {
		return nil, err
	}
	if hdr.BitmapWords != uint32(a.bitmapWords()) || hdr.Levels != uint32(a.maxLevel+1) {
		return nil, ErrSnapshotMismatch
	}

	if err := binary.Read(r, binary.LittleEndian, a.blockIndex); err != nil {
		return nil, ErrSnapshotCorrupt
	}

	for level := 0; level <= a.maxLevel; level++ {
		a.freeBlocks[level].init()
		var count uint32
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return nil, ErrSnapshotCorrupt
		}
		blockSize := a.size >> level
		for i := uint32(0); i < count; i++ {
			var offset uint64
			if err := binary.Read(r, binary.LittleEndian, &offset); err != nil {
				return nil, ErrSnapshotCorrupt
			}
			if offset%uint64(blockSize) != 0 || offset+uint64(blockSize) > uint64(a.size) {
				return nil, fmt.Errorf("buddy: level %d free block at %d: %w", level, offset, ErrSnapshotCorrupt)
			}
			a.freeBlocks[level].pushBack(a.nodeAt(int(offset)))
		}
	}

	return a, nil
}

// CompressSnapshot brotli-compresses a serialized snapshot for storage or
// transport.
func CompressSnapshot(snapshot []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if _, err := w.Write(snapshot); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecompressSnapshot reverses CompressSnapshot.
func DecompressSnapshot(compressed []byte) ([]byte, error) {
	return io.ReadAll(brotli.NewReader(bytes.NewReader(compressed)))
}
