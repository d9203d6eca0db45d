package pool

import "golang.org/x/sys/cpu"

// paddedPool keeps neighbouring workers' pool headers on separate cache lines.
type paddedPool struct {
	_    cpu.CacheLinePad
	pool *Pool
	_    cpu.CacheLinePad
}

// ThreadPools owns one Pool per worker. Worker i may only touch Get(i), which
// makes growth inside parallel sections safe without locking.
type ThreadPools struct {
	pools []paddedPool
}

// NewThreadPools creates count independent pools. count < 1 is treated as 1.
func NewThreadPools(count int) *ThreadPools {
	if count < 1 {
		count = 1
	}
	t := &ThreadPools{pools: make([]paddedPool, count)}
	for i := range t.pools {
		t.pools[i].pool = New()
	}
	return t
}

// Count returns the number of worker pools.
func (t *ThreadPools) Count() int {
	return len(t.pools)
}

// Get returns the pool owned by worker.
func (t *ThreadPools) Get(worker int) *Pool {
	return t.pools[worker].pool
}

// Stats sums the counters of every worker pool.
func (t *ThreadPools) Stats() Stats {
	var total Stats
	for i := range t.pools {
		s := t.pools[i].pool.Stats()
		total.Takes += s.Takes
		total.Returns += s.Returns
		total.Allocations += s.Allocations
		total.BytesInUse += s.BytesInUse
	}
	return total
}

// Clear drops the free lists of every worker pool.
func (t *ThreadPools) Clear() {
	for i := range t.pools {
		t.pools[i].pool.Clear()
	}
}
