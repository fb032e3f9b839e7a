package buddy

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Stochastic workload: allocate random sizes with short random lifetimes,
// then drain everything and check the allocator returns to its starting
// state. Mirrors the standalone simulator in cmd/buddy-sim with a step count
// sized for the test suite.
func TestStochasticWorkload(t *testing.T) {
	const (
		regionSize = 64 * 1024
		steps      = 200000
		maxDelay   = 5
	)

	region := make([]byte, regionSize)
	a, err := Create(region)
	require.NoError(t, err)

	initial := a.Snapshot()
	maxAlloc := regionSize / 10

	rng := rand.New(rand.NewSource(0x01371730))

	type allocation struct {
		block []byte
		size  int
	}
	pending := make([][]allocation, maxDelay)
	outstanding := 0

	for mark := 0; mark < steps; mark++ {
		size := MinLeafSize + rng.Intn(maxAlloc-MinLeafSize)
		delay := rng.Intn(maxDelay)
		slot := mark % maxDelay

		if block := a.Alloc(size); block != nil {
			require.GreaterOrEqual(t, len(block), size)
			bucket := (slot + delay) % maxDelay
			pending[bucket] = append(pending[bucket], allocation{block, size})
			outstanding++
		}

		for _, alloc := range pending[slot] {
			// Exercise both release paths.
			if outstanding%2 == 0 {
				a.Release(alloc.block, alloc.size)
			} else {
				a.Free(alloc.block)
			}
			outstanding--
		}
		pending[slot] = pending[slot][:0]

		if mark%8192 == 0 {
			assert.Equal(t, regionSize, a.Available()+a.Used())
		}
	}

	for slot := range pending {
		for _, alloc := range pending[slot] {
			a.Free(alloc.block)
			outstanding--
		}
		pending[slot] = nil
	}

	assert.Zero(t, outstanding)
	assert.True(t, bytes.Equal(initial, a.Snapshot()),
		"drained allocator must match its initial state")
}

// Coalescing completeness: any interleaving that releases everything it
// allocated must leave one whole-region block.
func TestCoalescingCompleteness(t *testing.T) {
	a := newAllocator(t, 4096)
	rng := rand.New(rand.NewSource(42))

	var live [][]byte
	for i := 0; i < 4096; i++ {
		if rng.Intn(3) > 0 || len(live) == 0 {
			if p := a.Alloc(rng.Intn(600)); p != nil {
				live = append(live, p)
			}
		} else {
			n := rng.Intn(len(live))
			live[n], live[len(live)-1] = live[len(live)-1], live[n]
			a.Free(live[len(live)-1])
			live = live[:len(live)-1]
		}
	}
	for _, p := range live {
		a.Free(p)
	}

	assert.Equal(t, 4096, a.Available())
	assert.Equal(t, 4096, a.LargestAvailable())
	assertPristine(t, a)
}
