package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapacityFor(t *testing.T) {
	cases := map[int]int{-3: 0, 0: 0, 1: 1, 2: 2, 3: 4, 4: 4, 5: 8, 33: 64, 1024: 1024, 1025: 2048}
	for count, want := range cases {
		assert.Equal(t, want, CapacityFor(count), "count %d", count)
	}
}

func TestTakeRoundsUpToPowerOfTwo(t *testing.T) {
	p := New()
	buf := Take[int32](p, 5)
	require.Len(t, buf, 8)
	assert.Equal(t, 8, cap(buf))
	assert.Nil(t, Take[int32](p, 0))

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Takes)
	assert.Equal(t, uint64(1), stats.Allocations)
	assert.Equal(t, int64(32), stats.BytesInUse)
}

func TestReturnRecyclesAndClears(t *testing.T) {
	p := New()
	buf := Take[int](p, 4)
	for i := range buf {
		buf[i] = i + 1
	}
	Return(p, buf[:2])

	again := Take[int](p, 3)
	require.Len(t, again, 4)
	assert.Equal(t, []int{0, 0, 0, 0}, again)
	assert.Same(t, &buf[0], &again[0])

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.Takes)
	assert.Equal(t, uint64(1), stats.Allocations)
	assert.Equal(t, uint64(1), stats.Returns)
}

func TestTypedFreeListsAreSeparate(t *testing.T) {
	p := New()
	Return(p, Take[int32](p, 8))
	Take[int64](p, 8)
	assert.Equal(t, uint64(2), p.Stats().Allocations)
}

func TestReturnForeignBufferPanics(t *testing.T) {
	p := New()
	assert.Panics(t, func() { Return(p, make([]int, 3)) })
}

func TestResize(t *testing.T) {
	p := New()
	buf := Take[int](p, 4)
	copy(buf, []int{1, 2, 3, 4})

	t.Run("same class keeps buffer", func(t *testing.T) {
		same := Resize(p, buf, 3, 3)
		assert.Same(t, &buf[0], &same[0])
	})

	t.Run("grow copies prefix", func(t *testing.T) {
		grown := Resize(p, buf, 9, 3)
		require.Len(t, grown, 16)
		assert.Equal(t, []int{1, 2, 3, 0}, grown[:4])
		buf = grown
	})

	t.Run("from nil", func(t *testing.T) {
		fresh := Resize[int](p, nil, 2, 0)
		assert.Len(t, fresh, 2)
	})

	t.Run("shrink to nothing", func(t *testing.T) {
		assert.Nil(t, Resize(p, buf, 0, 0))
	})
}

func TestThreadPoolsAreIndependent(t *testing.T) {
	tp := NewThreadPools(3)
	require.Equal(t, 3, tp.Count())
	assert.NotSame(t, tp.Get(0), tp.Get(1))

	Take[byte](tp.Get(0), 16)
	Take[byte](tp.Get(2), 16)
	stats := tp.Stats()
	assert.Equal(t, uint64(2), stats.Takes)
	assert.Equal(t, int64(32), stats.BytesInUse)

	tp.Clear()
	assert.Equal(t, Stats{}, tp.Stats())
	assert.Equal(t, 1, NewThreadPools(0).Count())
}
