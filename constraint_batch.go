package cmbatch

import (
	"fmt"

	"github.com/setanarut/cmbatch/utils/pool"
)

// noTypeBatch marks a type id without a type batch in the type map.
const noTypeBatch = -1

// ConstraintBatch is a set of constraints that share no body, grouped by
// type. Type batches are compacted: removing the last constraint of a type
// destroys its type batch and moves the last type batch into the hole.
//
// A ConstraintBatch is not safe for concurrent mutation.
type ConstraintBatch struct {
	// TypeIndexToTypeBatchIndex maps a type id to its slot in TypeBatches, or
	// -1. Its length is the pool capacity and only ever grows.
	TypeIndexToTypeBatchIndex []int32
	// TypeBatches holds the live type batches. Its capacity is pool backed.
	TypeBatches []TypeBatch
}

// NewConstraintBatch creates an empty batch sized for about
// initialTypeCountEstimate types.
func NewConstraintBatch(p *pool.Pool, initialTypeCountEstimate int) ConstraintBatch {
	var b ConstraintBatch
	b.allocate(p, max(initialTypeCountEstimate, 1))
	return b
}

func (b *ConstraintBatch) allocate(p *pool.Pool, typeCount int) {
	b.ResizeTypeMap(p, typeCount)
	b.TypeBatches = pool.Take[TypeBatch](p, typeCount)[:0]
}

// Allocated reports whether the batch owns storage. It is false after Dispose.
func (b *ConstraintBatch) Allocated() bool {
	return b.TypeIndexToTypeBatchIndex != nil
}

// ResizeTypeMap grows the type map to hold at least newSize type ids. New
// entries are -1. The map never shrinks.
func (b *ConstraintBatch) ResizeTypeMap(p *pool.Pool, newSize int) {
	oldLength := len(b.TypeIndexToTypeBatchIndex)
	if newSize <= oldLength {
		return
	}
	b.TypeIndexToTypeBatchIndex = pool.Resize(p, b.TypeIndexToTypeBatchIndex, newSize, oldLength)
	for i := oldLength; i < len(b.TypeIndexToTypeBatchIndex); i++ {
		b.TypeIndexToTypeBatchIndex[i] = noTypeBatch
	}
}

// TypeBatchIndex returns the slot of typeID in TypeBatches, or -1.
func (b *ConstraintBatch) TypeBatchIndex(typeID int) int {
	if typeID < 0 || typeID >= len(b.TypeIndexToTypeBatchIndex) {
		return noTypeBatch
	}
	return int(b.TypeIndexToTypeBatchIndex[typeID])
}

// GetTypeBatch returns the type batch of typeID. The type must be present.
// The pointer is invalidated by any call that adds or removes a type batch.
func (b *ConstraintBatch) GetTypeBatch(typeID int) *TypeBatch {
	b.validateTypeBatchMappings()
	index := b.TypeBatchIndex(typeID)
	if validationEnabled() && index < 0 {
		panic(fmt.Sprintf("cmbatch: no type batch for type %d", typeID))
	}
	return &b.TypeBatches[index]
}

func (b *ConstraintBatch) createNewTypeBatch(typeID int, processor TypeProcessor, initialCapacity int, p *pool.Pool) *TypeBatch {
	mustHold(processor.TypeID() == typeID, "processor does not match the type id")
	newIndex := len(b.TypeBatches)
	b.ensureTypeBatchCapacity(newIndex+1, p)
	b.TypeIndexToTypeBatchIndex[typeID] = int32(newIndex)
	b.TypeBatches = b.TypeBatches[:newIndex+1]
	tb := &b.TypeBatches[newIndex]
	processor.Initialize(tb, initialCapacity, p)
	return tb
}

func (b *ConstraintBatch) ensureTypeBatchCapacity(count int, p *pool.Pool) {
	if count <= cap(b.TypeBatches) {
		return
	}
	live := len(b.TypeBatches)
	grown := pool.Resize(p, b.TypeBatches, max(count, 2*cap(b.TypeBatches)), live)
	b.TypeBatches = grown[:live]
}

// GetOrCreateTypeBatch returns the type batch of typeID, creating it with
// processor when missing. A disposed batch must be Resized first.
func (b *ConstraintBatch) GetOrCreateTypeBatch(typeID int, processor TypeProcessor, initialCapacity int, p *pool.Pool) *TypeBatch {
	mustHold(b.Allocated(), "batch is disposed")
	if typeID >= len(b.TypeIndexToTypeBatchIndex) {
		// No type batch of this id can exist yet.
		b.ResizeTypeMap(p, typeID+1)
		return b.createNewTypeBatch(typeID, processor, initialCapacity, p)
	}
	if index := b.TypeIndexToTypeBatchIndex[typeID]; index >= 0 {
		return &b.TypeBatches[index]
	}
	return b.createNewTypeBatch(typeID, processor, initialCapacity, p)
}

// Allocate reserves a slot for a constraint of typeID connecting bodyHandles.
// Every body handle is claimed in referenced before storage is touched; pass
// nil for batches that do not track occupancy. Description and impulse are
// zeroed and must be filled in by the caller.
func (b *ConstraintBatch) Allocate(handle ConstraintHandle, bodyHandles []BodyHandle, referenced *ReferencedHandles,
	bodies *Bodies, typeID int, processor TypeProcessor, initialCapacity int, p *pool.Pool,
) ConstraintReference {
	mustHold(b.Allocated(), "batch is disposed")
	mustHold(len(bodyHandles) <= MaxBodiesPerConstraint, "too many bodies for one constraint")
	var bodyIndices [MaxBodiesPerConstraint]BodyIndex
	for i, bodyHandle := range bodyHandles {
		if referenced != nil {
			referenced.Add(bodyHandle, p)
		}
		bodyIndices[i] = bodies.HandleToIndex[bodyHandle]
	}
	tb := b.GetOrCreateTypeBatch(typeID, processor, initialCapacity, p)
	index := processor.Allocate(tb, handle, bodyIndices[:len(bodyHandles)], p)
	b.validateTypeBatchMappings()
	return ConstraintReference{TypeBatch: tb, IndexInTypeBatch: index}
}

// RemoveTypeBatchIfEmpty destroys tb, stored at typeBatchIndex, when it holds
// no constraint. The last type batch takes its slot.
func (b *ConstraintBatch) RemoveTypeBatchIfEmpty(tb *TypeBatch, typeBatchIndex int, processor TypeProcessor, p *pool.Pool) {
	if tb.ConstraintCount > 0 {
		return
	}
	b.TypeIndexToTypeBatchIndex[tb.TypeID] = noTypeBatch
	processor.Dispose(tb, p)
	last := len(b.TypeBatches) - 1
	if typeBatchIndex < last {
		b.TypeBatches[typeBatchIndex] = b.TypeBatches[last]
		b.TypeIndexToTypeBatchIndex[b.TypeBatches[typeBatchIndex].TypeID] = int32(typeBatchIndex)
	}
	b.TypeBatches[last] = TypeBatch{}
	b.TypeBatches = b.TypeBatches[:last]
	b.validateTypeBatchMappings()
}

func (b *ConstraintBatch) typeBatchIndexOf(typeID int) int {
	index := b.TypeBatchIndex(typeID)
	mustHold(index >= 0, "constraint type has no type batch in this batch")
	return index
}

// Remove deletes the constraint at indexInTypeBatch. The constraint moved
// into its slot gets its location rewritten in handleToConstraint.
func (b *ConstraintBatch) Remove(typeID, indexInTypeBatch int, processor TypeProcessor, handleToConstraint []ConstraintLocation, p *pool.Pool) {
	typeBatchIndex := b.typeBatchIndexOf(typeID)
	tb := &b.TypeBatches[typeBatchIndex]
	processor.Remove(tb, indexInTypeBatch, handleToConstraint)
	b.RemoveTypeBatchIfEmpty(tb, typeBatchIndex, processor, p)
}

// bodyHandleRemover releases the body handles of a constraint from an
// occupancy set.
type bodyHandleRemover struct {
	bodies  *Bodies
	handles *ReferencedHandles
}

func (r *bodyHandleRemover) Visit(index BodyIndex) {
	r.handles.Remove(r.bodies.IndexToHandle[index])
}

// RemoveWithHandles is Remove for active batches: the body handles of the
// constraint are released from referenced first.
func (b *ConstraintBatch) RemoveWithHandles(typeID, indexInTypeBatch int, referenced *ReferencedHandles, bodies *Bodies,
	processor TypeProcessor, handleToConstraint []ConstraintLocation, p *pool.Pool,
) {
	typeBatchIndex := b.typeBatchIndexOf(typeID)
	tb := &b.TypeBatches[typeBatchIndex]
	processor.EnumerateConnectedBodyIndices(tb, indexInTypeBatch, &bodyHandleRemover{bodies: bodies, handles: referenced})
	processor.Remove(tb, indexInTypeBatch, handleToConstraint)
	b.RemoveTypeBatchIfEmpty(tb, typeBatchIndex, processor, p)
}

// ConstraintCount returns the number of constraints over all type batches.
func (b *ConstraintBatch) ConstraintCount() int {
	count := 0
	for i := range b.TypeBatches {
		count += b.TypeBatches[i].ConstraintCount
	}
	return count
}

// Resize sets the capacity of every type batch to the larger of its count
// and the minimum of its type (minimumCapacities is indexed by type id and
// may be short), and makes room for requiredTypeCount types. A disposed
// batch gets fresh storage.
func (b *ConstraintBatch) Resize(processors []TypeProcessor, minimumCapacities []int, requiredTypeCount int, p *pool.Pool) {
	for i := range b.TypeBatches {
		tb := &b.TypeBatches[i]
		capacity := tb.ConstraintCount
		if tb.TypeID < len(minimumCapacities) {
			capacity = max(capacity, minimumCapacities[tb.TypeID])
		}
		processors[tb.TypeID].Resize(tb, capacity, p)
	}
	if !b.Allocated() {
		b.allocate(p, max(requiredTypeCount, 1))
		return
	}
	if requiredTypeCount > len(b.TypeIndexToTypeBatchIndex) {
		b.ResizeTypeMap(p, requiredTypeCount)
	}
	b.ensureTypeBatchCapacity(requiredTypeCount, p)
}

// Clear disposes every type batch and keeps the batch's own storage.
func (b *ConstraintBatch) Clear(processors []TypeProcessor, p *pool.Pool) {
	for i := range b.TypeBatches {
		processors[b.TypeBatches[i].TypeID].Dispose(&b.TypeBatches[i], p)
	}
	for i := range b.TypeIndexToTypeBatchIndex {
		b.TypeIndexToTypeBatchIndex[i] = noTypeBatch
	}
	clear(b.TypeBatches)
	b.TypeBatches = b.TypeBatches[:0]
}

// Dispose returns all storage to p. Resize brings the batch back.
func (b *ConstraintBatch) Dispose(processors []TypeProcessor, p *pool.Pool) {
	for i := range b.TypeBatches {
		processors[b.TypeBatches[i].TypeID].Dispose(&b.TypeBatches[i], p)
	}
	pool.Return(p, b.TypeIndexToTypeBatchIndex)
	pool.Return(p, b.TypeBatches)
	b.TypeIndexToTypeBatchIndex = nil
	b.TypeBatches = nil
}

// ValidateTypeBatchMappings checks that the type map and TypeBatches are
// exact inverses of each other.
func (b *ConstraintBatch) ValidateTypeBatchMappings() error {
	for typeID, index := range b.TypeIndexToTypeBatchIndex {
		if index == noTypeBatch {
			continue
		}
		if index < 0 || int(index) >= len(b.TypeBatches) {
			return fmt.Errorf("%w: type %d maps to slot %d of %d", ErrInconsistent, typeID, index, len(b.TypeBatches))
		}
		if b.TypeBatches[index].TypeID != typeID {
			return fmt.Errorf("%w: type %d maps to slot %d holding type %d",
				ErrInconsistent, typeID, index, b.TypeBatches[index].TypeID)
		}
	}
	for i := range b.TypeBatches {
		typeID := b.TypeBatches[i].TypeID
		if typeID < 0 || typeID >= len(b.TypeIndexToTypeBatchIndex) || int(b.TypeIndexToTypeBatchIndex[typeID]) != i {
			return fmt.Errorf("%w: slot %d holds type %d which does not map back", ErrInconsistent, i, typeID)
		}
	}
	return nil
}

func (b *ConstraintBatch) validateTypeBatchMappings() {
	if !validationEnabled() {
		return
	}
	if err := b.ValidateTypeBatchMappings(); err != nil {
		panic(err)
	}
}
