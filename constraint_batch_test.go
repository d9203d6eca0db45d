package cmbatch

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/setanarut/cmbatch/utils/pool"
)

// batchFixture drives a single ConstraintBatch the way the solver does,
// without the solver.
type batchFixture struct {
	t                  *testing.T
	pool               *pool.Pool
	bodies             *Bodies
	processors         []TypeProcessor
	handleToConstraint []ConstraintLocation
	referenced         ReferencedHandles
	batch              ConstraintBatch
	handles            IdPool
}

func newBatchFixture(t *testing.T, bodyCount int) *batchFixture {
	p := pool.New()
	f := &batchFixture{
		t:          t,
		pool:       p,
		bodies:     NewBodies(bodyCount),
		processors: testProcessors(),
		referenced: NewReferencedHandles(p, bodyCount),
		batch:      NewConstraintBatch(p, 4),
	}
	for range bodyCount {
		f.bodies.Add(BodyDescription{Mass: 1, Moment: 1})
	}
	return f
}

func (f *batchFixture) allocate(typeID int, bodies ...BodyHandle) ConstraintHandle {
	handle := ConstraintHandle(f.handles.Take())
	for int(handle) >= len(f.handleToConstraint) {
		f.handleToConstraint = append(f.handleToConstraint, ConstraintLocation{SetIndex: -1})
	}
	ref := f.batch.Allocate(handle, bodies, &f.referenced, f.bodies, typeID, f.processors[typeID], 2, f.pool)
	require.Same(f.t, f.batch.GetTypeBatch(typeID), ref.TypeBatch)
	f.handleToConstraint[handle] = ConstraintLocation{TypeID: typeID, IndexInTypeBatch: ref.IndexInTypeBatch}
	return handle
}

func (f *batchFixture) remove(handle ConstraintHandle) {
	location := f.handleToConstraint[handle]
	f.batch.RemoveWithHandles(location.TypeID, location.IndexInTypeBatch, &f.referenced, f.bodies,
		f.processors[location.TypeID], f.handleToConstraint, f.pool)
	f.handleToConstraint[handle] = ConstraintLocation{SetIndex: -1}
	f.handles.Return(int32(handle))
}

// requireLocated checks that handle is found where handleToConstraint says.
func (f *batchFixture) requireLocated(handle ConstraintHandle) {
	location := f.handleToConstraint[handle]
	tb := f.batch.GetTypeBatch(location.TypeID)
	require.Less(f.t, location.IndexInTypeBatch, tb.ConstraintCount)
	require.Equal(f.t, handle, tb.IndexToHandle[location.IndexInTypeBatch])
}

func (f *batchFixture) requireAllSentinel() {
	for typeID, index := range f.batch.TypeIndexToTypeBatchIndex {
		require.EqualValues(f.t, -1, index, "type %d", typeID)
	}
}

func TestConstraintBatchScenarios(t *testing.T) {
	f := newBatchFixture(t, 16)

	// A: first constraint of type 3.
	first := f.allocate(3, 5, 9)
	require.Len(t, f.batch.TypeBatches, 1)
	assert.EqualValues(t, 0, f.batch.TypeIndexToTypeBatchIndex[3])
	assert.True(t, f.referenced.Contains(5))
	assert.True(t, f.referenced.Contains(9))

	// B: a second constraint of the same type shares the type batch.
	second := f.allocate(3, 2, 7)
	require.Len(t, f.batch.TypeBatches, 1)
	assert.Equal(t, 2, f.batch.GetTypeBatch(3).ConstraintCount)

	// C: removing the first moves the second into its slot.
	f.remove(first)
	tb := f.batch.GetTypeBatch(3)
	assert.Equal(t, 1, tb.ConstraintCount)
	assert.False(t, f.referenced.Contains(5))
	assert.False(t, f.referenced.Contains(9))
	assert.True(t, f.referenced.Contains(2))
	assert.True(t, f.referenced.Contains(7))
	assert.Equal(t, second, tb.IndexToHandle[0])
	assert.Equal(t, 0, f.handleToConstraint[second].IndexInTypeBatch)

	// D: removing the last constraint destroys the type batch.
	f.remove(second)
	assert.Empty(t, f.batch.TypeBatches)
	assert.EqualValues(t, -1, f.batch.TypeIndexToTypeBatchIndex[3])
	assert.Zero(t, f.referenced.Count())

	// E: Clear on three populated type batches.
	f.allocate(1, 0, 1)
	f.allocate(3, 2, 3)
	f.allocate(6, 4, 5, 6)
	require.Len(t, f.batch.TypeBatches, 3)
	f.batch.Clear(f.processors, f.pool)
	f.referenced.Clear()
	assert.Empty(t, f.batch.TypeBatches)
	f.requireAllSentinel()

	again := f.allocate(6, 4, 5, 6)
	require.Len(t, f.batch.TypeBatches, 1)
	assert.EqualValues(t, 0, f.batch.TypeIndexToTypeBatchIndex[6])
	assert.Equal(t, 0, f.handleToConstraint[again].IndexInTypeBatch)
	require.NoError(t, f.batch.ValidateTypeBatchMappings())
}

func TestConstraintBatchGrowsTypeMapLazily(t *testing.T) {
	f := newBatchFixture(t, 8)
	require.Len(t, f.batch.TypeIndexToTypeBatchIndex, 4)

	f.allocate(3, 0, 1)
	f.allocate(40, 2, 3)
	assert.Len(t, f.batch.TypeIndexToTypeBatchIndex, 64)
	assert.EqualValues(t, 0, f.batch.TypeIndexToTypeBatchIndex[3])
	assert.EqualValues(t, 1, f.batch.TypeIndexToTypeBatchIndex[40])
	for typeID, index := range f.batch.TypeIndexToTypeBatchIndex {
		if typeID != 3 && typeID != 40 {
			assert.EqualValues(t, -1, index)
		}
	}
}

func TestConstraintBatchResizeTypeMapIsIdempotent(t *testing.T) {
	f := newBatchFixture(t, 4)
	f.allocate(3, 0, 1)

	f.batch.ResizeTypeMap(f.pool, 100)
	grown := len(f.batch.TypeIndexToTypeBatchIndex)
	assert.GreaterOrEqual(t, grown, 100)
	assert.EqualValues(t, 0, f.batch.TypeIndexToTypeBatchIndex[3])

	f.batch.ResizeTypeMap(f.pool, 100)
	assert.Len(t, f.batch.TypeIndexToTypeBatchIndex, grown)
	f.batch.ResizeTypeMap(f.pool, 10)
	assert.Len(t, f.batch.TypeIndexToTypeBatchIndex, grown)
	require.NoError(t, f.batch.ValidateTypeBatchMappings())
}

func TestConstraintBatchCompactionKeepsForeignReferences(t *testing.T) {
	f := newBatchFixture(t, 32)
	ones := []ConstraintHandle{f.allocate(1, 0, 1), f.allocate(1, 2, 3)}
	threes := []ConstraintHandle{f.allocate(3, 4, 5), f.allocate(3, 6, 7)}
	sixes := []ConstraintHandle{f.allocate(6, 8, 9, 10), f.allocate(6, 11, 12, 13)}
	sixProcessor := f.processors[6].(*Processor[typeSix, [3]float64])
	for i, handle := range sixes {
		location := f.handleToConstraint[handle]
		sixProcessor.ApplyDescription(f.batch.GetTypeBatch(6), location.IndexInTypeBatch, typeSix{Value: float64(i + 1)})
	}
	require.EqualValues(t, 2, f.batch.TypeIndexToTypeBatchIndex[6])

	// Emptying type 1 moves type 6 from the last slot into slot 0.
	for _, handle := range ones {
		f.remove(handle)
	}
	require.Len(t, f.batch.TypeBatches, 2)
	assert.EqualValues(t, -1, f.batch.TypeIndexToTypeBatchIndex[1])
	assert.EqualValues(t, 0, f.batch.TypeIndexToTypeBatchIndex[6])
	assert.EqualValues(t, 1, f.batch.TypeIndexToTypeBatchIndex[3])

	for i, handle := range sixes {
		f.requireLocated(handle)
		location := f.handleToConstraint[handle]
		assert.Equal(t, typeSix{Value: float64(i + 1)},
			sixProcessor.GetDescription(f.batch.GetTypeBatch(6), location.IndexInTypeBatch))
	}
	for _, handle := range threes {
		f.requireLocated(handle)
	}
}

func TestConstraintBatchRoundTrip(t *testing.T) {
	f := newBatchFixture(t, 8)
	before := f.pool.Stats().BytesInUse

	handle := f.allocate(40, 3, 4)
	f.remove(handle)

	assert.Empty(t, f.batch.TypeBatches)
	assert.Zero(t, f.referenced.Count())
	f.requireAllSentinel()
	// Only the grown type map outlives the constraint.
	assert.Equal(t, before+int64(64-4)*4, f.pool.Stats().BytesInUse)
}

func TestConstraintBatchRandomSweepKeepsBijection(t *testing.T) {
	const bodyCount = 64
	f := newBatchFixture(t, bodyCount)
	rng := rand.New(rand.NewPCG(7, 11))
	typeIDs := []int{1, 3, 6, 40}

	type liveConstraint struct {
		handle ConstraintHandle
		bodies []BodyHandle
	}
	var live []liveConstraint
	claimed := make(map[BodyHandle]bool)

	for step := range 3000 {
		if len(live) > 0 && (len(live) >= 16 || rng.IntN(2) == 0) {
			i := rng.IntN(len(live))
			for _, body := range live[i].bodies {
				delete(claimed, body)
			}
			f.remove(live[i].handle)
			live[i] = live[len(live)-1]
			live = live[:len(live)-1]
		} else {
			typeID := typeIDs[rng.IntN(len(typeIDs))]
			var bodies []BodyHandle
			for len(bodies) < f.processors[typeID].BodiesPerConstraint() {
				body := BodyHandle(rng.IntN(bodyCount))
				if !claimed[body] {
					claimed[body] = true
					bodies = append(bodies, body)
				}
			}
			live = append(live, liveConstraint{handle: f.allocate(typeID, bodies...), bodies: bodies})
		}

		require.NoError(t, f.batch.ValidateTypeBatchMappings(), "step %d", step)
		types := make(map[int]bool)
		for _, c := range live {
			f.requireLocated(c.handle)
			location := f.handleToConstraint[c.handle]
			types[location.TypeID] = true
			var visited []BodyHandle
			f.processors[location.TypeID].EnumerateConnectedBodyIndices(f.batch.GetTypeBatch(location.TypeID),
				location.IndexInTypeBatch, BodyVisitorFunc(func(index BodyIndex) {
					visited = append(visited, f.bodies.IndexToHandle[index])
				}))
			require.Equal(t, c.bodies, visited, "step %d", step)
		}
		require.Len(t, f.batch.TypeBatches, len(types), "step %d", step)
		require.Equal(t, len(claimed), f.referenced.Count(), "step %d", step)
	}
}

func TestConstraintBatchResizeAppliesMinimumCapacities(t *testing.T) {
	f := newBatchFixture(t, 4)
	f.allocate(3, 0, 1)
	require.Equal(t, 2, f.batch.GetTypeBatch(3).Capacity())

	f.batch.Resize(f.processors, []int{3: 16}, 8, f.pool)
	assert.Equal(t, 16, f.batch.GetTypeBatch(3).Capacity())
	assert.GreaterOrEqual(t, len(f.batch.TypeIndexToTypeBatchIndex), 8)
	assert.GreaterOrEqual(t, cap(f.batch.TypeBatches), 8)

	// Without a minimum the type batch shrinks to its count.
	f.batch.Resize(f.processors, nil, 8, f.pool)
	assert.Equal(t, 1, f.batch.GetTypeBatch(3).Capacity())
}

func TestConstraintBatchDisposeThenResize(t *testing.T) {
	f := newBatchFixture(t, 8)
	f.allocate(1, 0, 1)
	f.allocate(6, 2, 3, 4)

	f.batch.Dispose(f.processors, f.pool)
	f.referenced.Dispose(f.pool)
	assert.False(t, f.batch.Allocated())
	assert.Nil(t, f.batch.TypeBatches)
	assert.Zero(t, f.pool.Stats().BytesInUse)

	f.batch.Resize(f.processors, nil, 8, f.pool)
	require.True(t, f.batch.Allocated())
	assert.GreaterOrEqual(t, len(f.batch.TypeIndexToTypeBatchIndex), 8)
	f.requireAllSentinel()

	f.handleToConstraint = nil
	f.handles.Clear()
	handle := f.allocate(6, 2, 3, 4)
	f.requireLocated(handle)
	require.NoError(t, f.batch.ValidateTypeBatchMappings())
}

func TestConstraintBatchGetTypeBatchPanicsWhenMissing(t *testing.T) {
	f := newBatchFixture(t, 4)
	assert.Equal(t, -1, f.batch.TypeBatchIndex(3))
	assert.Equal(t, -1, f.batch.TypeBatchIndex(1000))
	assert.Panics(t, func() { f.batch.GetTypeBatch(3) })
}

func TestConstraintBatchAllocatePanicsOnClaimedBody(t *testing.T) {
	f := newBatchFixture(t, 8)
	first := f.allocate(3, 5, 6)

	assert.Panics(t, func() {
		f.batch.Allocate(7, []BodyHandle{5, 2}, &f.referenced, f.bodies, 1, f.processors[1], 2, f.pool)
	})
	assert.False(t, f.referenced.Contains(2))
	assert.Equal(t, -1, f.batch.TypeBatchIndex(1))
	assert.Equal(t, 1, f.batch.ConstraintCount())
	f.requireLocated(first)
	require.NoError(t, f.batch.ValidateTypeBatchMappings())
}

func TestConstraintBatchDisposedRefusesImplicitReuse(t *testing.T) {
	f := newBatchFixture(t, 4)
	f.batch.Dispose(f.processors, f.pool)

	assert.Panics(t, func() { f.batch.GetOrCreateTypeBatch(1, f.processors[1], 2, f.pool) })
	assert.Panics(t, func() {
		f.batch.Allocate(0, []BodyHandle{0, 1}, &f.referenced, f.bodies, 1, f.processors[1], 2, f.pool)
	})
	assert.False(t, f.batch.Allocated())
	assert.False(t, f.referenced.Contains(0))
}

func TestValidateTypeBatchMappingsDetectsCorruption(t *testing.T) {
	f := newBatchFixture(t, 4)
	f.allocate(3, 0, 1)
	f.batch.TypeIndexToTypeBatchIndex[1] = 0
	assert.ErrorIs(t, f.batch.ValidateTypeBatchMappings(), ErrInconsistent)

	f.batch.TypeIndexToTypeBatchIndex[1] = -1
	f.batch.TypeIndexToTypeBatchIndex[3] = -1
	assert.ErrorIs(t, f.batch.ValidateTypeBatchMappings(), ErrInconsistent)
}

func BenchmarkConstraintBatchAllocateRemove(b *testing.B) {
	p := pool.New()
	bodies := NewBodies(64)
	for range 64 {
		bodies.Add(BodyDescription{Mass: 1, Moment: 1})
	}
	processors := testProcessors()
	referenced := NewReferencedHandles(p, 64)
	batch := NewConstraintBatch(p, 8)
	handleToConstraint := make([]ConstraintLocation, 32)
	b.ReportAllocs()
	b.ResetTimer()
	for range b.N {
		for i := range 32 {
			ref := batch.Allocate(ConstraintHandle(i), []BodyHandle{BodyHandle(2 * i), BodyHandle(2*i + 1)},
				&referenced, bodies, 3, processors[3], 32, p)
			handleToConstraint[i] = ConstraintLocation{TypeID: 3, IndexInTypeBatch: ref.IndexInTypeBatch}
		}
		for i := range 32 {
			batch.RemoveWithHandles(3, handleToConstraint[i].IndexInTypeBatch, &referenced, bodies,
				processors[3], handleToConstraint, p)
		}
	}
}
