package cmbatch

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"sync/atomic"

	"github.com/eapache/queue"
	"golang.org/x/sync/errgroup"

	"github.com/setanarut/cmbatch/utils/pool"
)

// ConstraintRemover removes many constraints at once. Releasing the body
// handles of each active batch runs on worker goroutines, one batch per job;
// the structural removal from the batches stays on the calling goroutine.
type ConstraintRemover struct {
	solver      *Solver
	pending     *queue.Queue
	threadPools *pool.ThreadPools
}

// NewConstraintRemover creates a remover for solver using workers
// goroutines. workers <= 0 means GOMAXPROCS.
func NewConstraintRemover(solver *Solver, workers int) *ConstraintRemover {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &ConstraintRemover{
		solver:      solver,
		pending:     queue.New(),
		threadPools: pool.NewThreadPools(workers),
	}
}

// Workers returns the number of worker goroutines a flush may use.
func (r *ConstraintRemover) Workers() int {
	return r.threadPools.Count()
}

// ThreadPools returns the per-worker scratch pools.
func (r *ConstraintRemover) ThreadPools() *pool.ThreadPools {
	return r.threadPools
}

// EnqueueRemoval schedules handle for removal on the next Flush.
func (r *ConstraintRemover) EnqueueRemoval(handle ConstraintHandle) {
	r.pending.Add(handle)
}

// Pending returns the number of queued removals.
func (r *ConstraintRemover) Pending() int {
	return r.pending.Length()
}

type pendingRemoval struct {
	handle   ConstraintHandle
	location ConstraintLocation
}

// Flush removes every queued constraint and returns how many were removed.
// A flush whose context is already done does nothing. Otherwise the queue
// is drained; if any queued handle is invalid or queued twice, the error is
// returned and nothing is removed. ErrInconsistent means an occupancy set
// disagreed with its batch; the solver is corrupt at that point.
func (r *ConstraintRemover) Flush(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if r.pending.Length() == 0 {
		return 0, nil
	}
	s := r.solver
	removals := make([]pendingRemoval, 0, r.pending.Length())
	for r.pending.Length() > 0 {
		handle := r.pending.Remove().(ConstraintHandle)
		removals = append(removals, pendingRemoval{handle: handle})
	}
	if err := r.validate(removals); err != nil {
		return 0, err
	}

	perBatch := make([][]pendingRemoval, s.ActiveBatchCount())
	var inactive []ConstraintHandle
	for i := range removals {
		removals[i].location = s.HandleToConstraint[removals[i].handle]
		location := removals[i].location
		if location.SetIndex == 0 {
			perBatch[location.BatchIndex] = append(perBatch[location.BatchIndex], removals[i])
		} else {
			inactive = append(inactive, removals[i].handle)
		}
	}

	if err := r.releaseBodyHandles(perBatch); err != nil {
		return 0, err
	}

	active := 0
	for _, batchRemovals := range perBatch {
		for _, removal := range batchRemovals {
			// Earlier removals in this flush may have moved the constraint.
			location := s.HandleToConstraint[removal.handle]
			processor := s.TypeProcessors[location.TypeID]
			processor.EnumerateConnectedBodyIndices(s.typeBatchAt(location), location.IndexInTypeBatch,
				BodyVisitorFunc(func(index BodyIndex) {
					s.Bodies.removeConstraint(index, removal.handle)
				}))
			s.Sets[0].Batches[location.BatchIndex].Remove(location.TypeID, location.IndexInTypeBatch,
				processor, s.HandleToConstraint, s.pool)
			s.releaseHandle(removal.handle)
			active++
		}
	}
	s.trimActiveBatches()

	for _, handle := range inactive {
		if err := s.Remove(handle); err != nil {
			return active, err
		}
	}
	s.logger.Debug("constraint removals flushed", "active", active, "inactive", len(inactive),
		"workers", r.threadPools.Count())
	return len(removals), nil
}

func (r *ConstraintRemover) validate(removals []pendingRemoval) error {
	handles := make([]ConstraintHandle, len(removals))
	for i := range removals {
		if !r.solver.ConstraintExists(removals[i].handle) {
			return fmt.Errorf("%w: %d", ErrInvalidConstraintHandle, removals[i].handle)
		}
		handles[i] = removals[i].handle
	}
	slices.Sort(handles)
	for i := 1; i < len(handles); i++ {
		if handles[i] == handles[i-1] {
			return fmt.Errorf("%w: %d", ErrDuplicateRemoval, handles[i])
		}
	}
	return nil
}

// releaseBodyHandles clears the body handles of the doomed constraints from
// their batches' occupancy sets. Workers claim batches through a shared
// counter; no two workers ever touch the same batch. The pass is not
// cancelable: stopping part way would leave occupancy sets that disagree
// with the batches, so ctx is only checked before it starts.
func (r *ConstraintRemover) releaseBodyHandles(perBatch [][]pendingRemoval) error {
	jobs := make([]int, 0, len(perBatch))
	for batchIndex, batchRemovals := range perBatch {
		if len(batchRemovals) > 0 {
			jobs = append(jobs, batchIndex)
		}
	}
	if len(jobs) == 0 {
		return nil
	}

	var next atomic.Int64
	var g errgroup.Group
	workers := min(r.threadPools.Count(), len(jobs))
	g.SetLimit(workers)
	for worker := range workers {
		p := r.threadPools.Get(worker)
		g.Go(func() error {
			for {
				job := int(next.Add(1)) - 1
				if job >= len(jobs) {
					return nil
				}
				batchIndex := jobs[job]
				if err := r.releaseBatchBodyHandles(batchIndex, perBatch[batchIndex], p); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}

// handleCollector appends the body handles of visited constraints to a
// pooled buffer.
type handleCollector struct {
	bodies  *Bodies
	handles []BodyHandle
}

func (c *handleCollector) Visit(index BodyIndex) {
	c.handles = append(c.handles, c.bodies.IndexToHandle[index])
}

func (r *ConstraintRemover) releaseBatchBodyHandles(batchIndex int, removals []pendingRemoval, p *pool.Pool) error {
	s := r.solver
	batch := &s.Sets[0].Batches[batchIndex]
	collector := handleCollector{
		bodies:  s.Bodies,
		handles: pool.Take[BodyHandle](p, len(removals)*MaxBodiesPerConstraint)[:0],
	}
	defer func() { pool.Return(p, collector.handles) }()
	for _, removal := range removals {
		tb := &batch.TypeBatches[batch.TypeIndexToTypeBatchIndex[removal.location.TypeID]]
		s.TypeProcessors[removal.location.TypeID].EnumerateConnectedBodyIndices(tb, removal.location.IndexInTypeBatch, &collector)
	}
	referenced := &s.batchReferencedHandles[batchIndex]
	for _, handle := range collector.handles {
		if !referenced.Contains(handle) {
			return fmt.Errorf("%w: body %d is not referenced by active batch %d", ErrInconsistent, handle, batchIndex)
		}
		referenced.Remove(handle)
	}
	return nil
}
