package region

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryBounds(t *testing.T) {
	m, err := NewInMemory(64)
	require.NoError(t, err)
	assert.Equal(t, 64, m.Size())

	require.NoError(t, m.WriteAt(60, []byte{1, 2, 3, 4}))
	dest := make([]byte, 4)
	require.NoError(t, m.ReadAt(60, dest))
	assert.Equal(t, []byte{1, 2, 3, 4}, dest)

	assert.ErrorIs(t, m.WriteAt(61, []byte{1, 2, 3, 4}), ErrOutOfBounds)
	assert.ErrorIs(t, m.ReadAt(-1, dest), ErrOutOfBounds)

	require.NoError(t, m.Close())
	assert.Zero(t, m.Size())
}

func TestSizeValidation(t *testing.T) {
	_, err := NewInMemory(100)
	assert.ErrorIs(t, err, ErrSize)
	_, err = NewAligned(0)
	assert.ErrorIs(t, err, ErrSize)
}

func TestAlignedRegion(t *testing.T) {
	for _, size := range []int{512, 4096, 1 << 16} {
		m, err := NewAligned(size)
		require.NoError(t, err)
		assert.Equal(t, size, m.Size())
		base := uintptr(unsafe.Pointer(unsafe.SliceData(m.Bytes())))
		assert.Zero(t, base%uintptr(size), "size %d", size)
	}
}
