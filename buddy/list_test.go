package buddy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreeListPushPop(t *testing.T) {
	var sentinel blockInfo
	sentinel.init()
	assert.True(t, sentinel.empty())
	assert.Nil(t, sentinel.popFront())

	nodes := make([]blockInfo, 3)
	for i := range nodes {
		sentinel.pushBack(&nodes[i])
	}
	assert.False(t, sentinel.empty())

	// pushBack appends, so pops come out in insertion order.
	for i := range nodes {
		front := sentinel.popFront()
		require.NotNil(t, front)
		assert.Same(t, &nodes[i], front)
	}
	assert.True(t, sentinel.empty())
}

func TestFreeListRemove(t *testing.T) {
	var sentinel blockInfo
	sentinel.init()

	nodes := make([]blockInfo, 3)
	for i := range nodes {
		sentinel.pushBack(&nodes[i])
	}

	nodes[1].remove()
	assert.Same(t, &nodes[0], sentinel.popFront())
	assert.Same(t, &nodes[2], sentinel.popFront())
	assert.True(t, sentinel.empty())

	// A removed node is self-linked, so removing it again is harmless.
	nodes[1].remove()
}
