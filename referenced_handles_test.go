package cmbatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/setanarut/cmbatch/utils/pool"
)

func TestReferencedHandlesAddRemove(t *testing.T) {
	p := pool.New()
	h := NewReferencedHandles(p, 64)

	h.Add(5, p)
	h.Add(9, p)
	h.Add(200, p) // beyond the initial capacity
	assert.True(t, h.Contains(5))
	assert.True(t, h.Contains(9))
	assert.True(t, h.Contains(200))
	assert.False(t, h.Contains(6))
	assert.False(t, h.Contains(10_000))
	assert.Equal(t, 3, h.Count())

	assert.True(t, h.CanFit([]BodyHandle{1, 2}))
	assert.False(t, h.CanFit([]BodyHandle{2, 9}))

	h.Remove(9)
	assert.False(t, h.Contains(9))
	assert.True(t, h.CanFit([]BodyHandle{2, 9}))
	assert.Equal(t, 2, h.Count())

	h.Clear()
	assert.Zero(t, h.Count())

	h.Dispose(p)
	assert.Zero(t, p.Stats().BytesInUse)
	h.Add(3, p)
	assert.True(t, h.Contains(3))
}

func TestReferencedHandlesValidation(t *testing.T) {
	p := pool.New()
	h := NewReferencedHandles(p, 64)
	h.Add(7, p)

	require.Panics(t, func() { h.Add(7, p) })
	require.Panics(t, func() { h.Remove(8) })
}
