package cmbatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdPoolRecyclesLastReturnedFirst(t *testing.T) {
	var p IdPool
	assert.EqualValues(t, -1, p.HighestPossiblyClaimedId())

	assert.Equal(t, []int32{0, 1, 2}, []int32{p.Take(), p.Take(), p.Take()})
	p.Return(1)
	p.Return(0)
	assert.Equal(t, 2, p.AvailableCount())
	assert.EqualValues(t, 0, p.Take())
	assert.EqualValues(t, 1, p.Take())
	assert.EqualValues(t, 3, p.Take())
	assert.EqualValues(t, 3, p.HighestPossiblyClaimedId())

	p.Clear()
	assert.Zero(t, p.AvailableCount())
	assert.EqualValues(t, 0, p.Take())
}
