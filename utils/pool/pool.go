// Package pool implements a power-of-two buffer pool with one free list per
// element type and per-worker sub-pools.
package pool

import (
	"fmt"
	"math/bits"
	"reflect"
	"unsafe"
)

// maxPower is the largest size class. Buffers of 1<<maxPower elements are the
// biggest the pool will hand out.
const maxPower = 30

// Stats describes pool activity since creation or the last Clear.
type Stats struct {
	Takes       uint64 // Buffers handed out.
	Returns     uint64 // Buffers given back.
	Allocations uint64 // Takes that could not be served from a free list.
	BytesInUse  int64  // Bytes held by buffers currently taken.
}

// Pool hands out buffers whose length is rounded up to a power of two.
//
// A Pool is not safe for concurrent use. Workers that need to allocate in
// parallel must each own a dedicated Pool (see ThreadPools).
type Pool struct {
	typed map[reflect.Type]any
	stats Stats
}

// New creates an empty pool.
func New() *Pool {
	return &Pool{typed: make(map[reflect.Type]any, 8)}
}

// typedPool holds the free lists for one element type, indexed by power.
type typedPool[T any] struct {
	free [maxPower + 1][][]T
}

func typed[T any](p *Pool) *typedPool[T] {
	key := reflect.TypeFor[T]()
	if tp, ok := p.typed[key]; ok {
		return tp.(*typedPool[T])
	}
	if p.typed == nil {
		p.typed = make(map[reflect.Type]any, 8)
	}
	tp := &typedPool[T]{}
	p.typed[key] = tp
	return tp
}

func elemSize[T any]() int64 {
	var zero T
	return int64(unsafe.Sizeof(zero))
}

// PowerOf returns the size class of a buffer holding count elements.
func PowerOf(count int) int {
	if count <= 1 {
		return 0
	}
	return bits.Len(uint(count - 1))
}

// CapacityFor returns the length of the buffer Take returns for count.
func CapacityFor(count int) int {
	if count <= 0 {
		return 0
	}
	return 1 << PowerOf(count)
}

// Take returns a zeroed buffer with at least count elements. The buffer's
// length equals its capacity, the next power of two. count <= 0 yields nil.
func Take[T any](p *Pool, count int) []T {
	if count <= 0 {
		return nil
	}
	power := PowerOf(count)
	if power > maxPower {
		panic(fmt.Sprintf("pool: requested %d elements, exceeds the largest size class", count))
	}
	tp := typed[T](p)
	p.stats.Takes++
	var buf []T
	if n := len(tp.free[power]); n > 0 {
		buf = tp.free[power][n-1]
		tp.free[power][n-1] = nil
		tp.free[power] = tp.free[power][:n-1]
	} else {
		buf = make([]T, 1<<power)
		p.stats.Allocations++
	}
	p.stats.BytesInUse += int64(len(buf)) * elemSize[T]()
	return buf
}

// Return gives buf back to the pool. The whole capacity is cleared before it
// is reused, so the caller must not keep references into it.
func Return[T any](p *Pool, buf []T) {
	if cap(buf) == 0 {
		return
	}
	buf = buf[:cap(buf)]
	power := PowerOf(len(buf))
	if 1<<power != len(buf) {
		panic(fmt.Sprintf("pool: returned buffer of %d elements was not taken from a pool", len(buf)))
	}
	clear(buf)
	tp := typed[T](p)
	tp.free[power] = append(tp.free[power], buf)
	p.stats.Returns++
	p.stats.BytesInUse -= int64(len(buf)) * elemSize[T]()
}

// Resize moves the first copyCount elements of buf into a buffer that holds
// at least newCount elements and returns it. The old buffer goes back to the
// pool. When the size class does not change, buf is returned as is.
func Resize[T any](p *Pool, buf []T, newCount, copyCount int) []T {
	if CapacityFor(newCount) == cap(buf) {
		return buf[:cap(buf)]
	}
	next := Take[T](p, newCount)
	if copyCount > len(next) {
		copyCount = len(next)
	}
	if copyCount > cap(buf) {
		copyCount = cap(buf)
	}
	copy(next[:copyCount], buf[:copyCount])
	Return(p, buf)
	return next
}

// Stats returns the pool counters.
func (p *Pool) Stats() Stats {
	return p.stats
}

// Clear drops every free list. Buffers still taken stay valid but will not be
// recycled into the old lists.
func (p *Pool) Clear() {
	clear(p.typed)
	p.stats = Stats{}
}
