package cmbatch

import (
	"fmt"
	"unsafe"

	"github.com/setanarut/cmbatch/utils/pool"
)

// ConstraintDescription is the user facing data of one constraint type.
type ConstraintDescription interface {
	ConstraintTypeID() int
}

// TypeProcessor is the per-type function table that owns the layout of a
// TypeBatch. The solver resolves it by type id; type batches never hold one.
type TypeProcessor interface {
	TypeID() int
	BodiesPerConstraint() int

	// Initialize gives tb fresh storage for at least initialCapacity constraints.
	Initialize(tb *TypeBatch, initialCapacity int, p *pool.Pool)
	// Allocate appends a constraint and returns its index in tb.
	Allocate(tb *TypeBatch, handle ConstraintHandle, bodyIndices []BodyIndex, p *pool.Pool) int
	// Remove swap-removes the constraint at index and rewrites the location of
	// the constraint moved into the hole.
	Remove(tb *TypeBatch, index int, handleToConstraint []ConstraintLocation)
	// Resize sets the capacity, never below the live count.
	Resize(tb *TypeBatch, newCapacity int, p *pool.Pool)
	// Dispose returns every buffer of tb to p.
	Dispose(tb *TypeBatch, p *pool.Pool)

	EnumerateConnectedBodyIndices(tb *TypeBatch, index int, visitor BodyVisitor)
	UpdateBodyReference(tb *TypeBatch, index, bodyIndexInConstraint int, newBodyIndex BodyIndex)

	ApplyDescription(tb *TypeBatch, index int, description ConstraintDescription)
	GetDescription(tb *TypeBatch, index int) ConstraintDescription
	// CopyConstraint copies description and accumulated impulse between two
	// batches of this type. Body references and handles are not touched.
	CopyConstraint(source *TypeBatch, sourceIndex int, target *TypeBatch, targetIndex int)
}

// Processor is the TypeProcessor for constraints described by D whose
// accumulated impulse is an I.
type Processor[D ConstraintDescription, I any] struct {
	typeID              int
	bodiesPerConstraint int
}

// NewProcessor creates the processor of type typeID.
func NewProcessor[D ConstraintDescription, I any](typeID, bodiesPerConstraint int) *Processor[D, I] {
	mustHold(typeID >= 0, "type id must be non-negative")
	mustHold(bodiesPerConstraint >= 1 && bodiesPerConstraint <= MaxBodiesPerConstraint,
		"bodies per constraint out of range")
	return &Processor[D, I]{typeID: typeID, bodiesPerConstraint: bodiesPerConstraint}
}

func (pr *Processor[D, I]) TypeID() int {
	return pr.typeID
}

func (pr *Processor[D, I]) BodiesPerConstraint() int {
	return pr.bodiesPerConstraint
}

// Descriptions returns the description array of tb, Capacity long. Only the
// first ConstraintCount entries are live.
func (pr *Processor[D, I]) Descriptions(tb *TypeBatch) []D {
	if tb.descriptions == nil {
		return nil
	}
	return unsafe.Slice((*D)(tb.descriptions), len(tb.IndexToHandle))
}

// Impulses returns the accumulated impulse array of tb, Capacity long.
func (pr *Processor[D, I]) Impulses(tb *TypeBatch) []I {
	if tb.impulses == nil {
		return nil
	}
	return unsafe.Slice((*I)(tb.impulses), len(tb.IndexToHandle))
}

func (pr *Processor[D, I]) Initialize(tb *TypeBatch, initialCapacity int, p *pool.Pool) {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	*tb = TypeBatch{TypeID: pr.typeID}
	tb.IndexToHandle = pool.Take[ConstraintHandle](p, initialCapacity)
	capacity := len(tb.IndexToHandle)
	tb.BodyReferences = pool.Take[BodyIndex](p, capacity*pr.bodiesPerConstraint)
	tb.descriptions = unsafe.Pointer(unsafe.SliceData(pool.Take[D](p, capacity)))
	tb.impulses = unsafe.Pointer(unsafe.SliceData(pool.Take[I](p, capacity)))
}

func (pr *Processor[D, I]) Allocate(tb *TypeBatch, handle ConstraintHandle, bodyIndices []BodyIndex, p *pool.Pool) int {
	mustHold(len(bodyIndices) == pr.bodiesPerConstraint, "body count does not match the constraint type")
	if tb.ConstraintCount == tb.Capacity() {
		pr.Resize(tb, max(2*tb.ConstraintCount, 1), p)
	}
	index := tb.ConstraintCount
	tb.ConstraintCount++
	tb.IndexToHandle[index] = handle
	copy(tb.BodyReferences[index*pr.bodiesPerConstraint:], bodyIndices)
	var description D
	var impulse I
	pr.Descriptions(tb)[index] = description
	pr.Impulses(tb)[index] = impulse
	return index
}

func (pr *Processor[D, I]) Remove(tb *TypeBatch, index int, handleToConstraint []ConstraintLocation) {
	mustHold(index >= 0 && index < tb.ConstraintCount, "constraint index out of range")
	descriptions := pr.Descriptions(tb)
	impulses := pr.Impulses(tb)
	n := pr.bodiesPerConstraint
	last := tb.ConstraintCount - 1
	if index < last {
		moved := tb.IndexToHandle[last]
		tb.IndexToHandle[index] = moved
		copy(tb.BodyReferences[index*n:(index+1)*n], tb.BodyReferences[last*n:(last+1)*n])
		descriptions[index] = descriptions[last]
		impulses[index] = impulses[last]
		handleToConstraint[moved].IndexInTypeBatch = index
	}
	var description D
	var impulse I
	descriptions[last] = description
	impulses[last] = impulse
	tb.IndexToHandle[last] = 0
	clear(tb.BodyReferences[last*n : (last+1)*n])
	tb.ConstraintCount = last
}

func (pr *Processor[D, I]) Resize(tb *TypeBatch, newCapacity int, p *pool.Pool) {
	newCapacity = max(newCapacity, tb.ConstraintCount, 1)
	if pool.CapacityFor(newCapacity) == tb.Capacity() {
		return
	}
	count := tb.ConstraintCount
	n := pr.bodiesPerConstraint
	descriptions := pr.Descriptions(tb)
	impulses := pr.Impulses(tb)

	tb.IndexToHandle = pool.Resize(p, tb.IndexToHandle, newCapacity, count)
	capacity := len(tb.IndexToHandle)
	tb.BodyReferences = pool.Resize(p, tb.BodyReferences, capacity*n, count*n)
	tb.descriptions = unsafe.Pointer(unsafe.SliceData(pool.Resize(p, descriptions, capacity, count)))
	tb.impulses = unsafe.Pointer(unsafe.SliceData(pool.Resize(p, impulses, capacity, count)))
}

func (pr *Processor[D, I]) Dispose(tb *TypeBatch, p *pool.Pool) {
	pool.Return(p, pr.Descriptions(tb))
	pool.Return(p, pr.Impulses(tb))
	pool.Return(p, tb.BodyReferences)
	pool.Return(p, tb.IndexToHandle)
	*tb = TypeBatch{TypeID: tb.TypeID}
}

func (pr *Processor[D, I]) EnumerateConnectedBodyIndices(tb *TypeBatch, index int, visitor BodyVisitor) {
	n := pr.bodiesPerConstraint
	for _, bodyIndex := range tb.BodyReferences[index*n : (index+1)*n] {
		visitor.Visit(bodyIndex)
	}
}

func (pr *Processor[D, I]) UpdateBodyReference(tb *TypeBatch, index, bodyIndexInConstraint int, newBodyIndex BodyIndex) {
	tb.BodyReferences[index*pr.bodiesPerConstraint+bodyIndexInConstraint] = newBodyIndex
}

func (pr *Processor[D, I]) ApplyDescription(tb *TypeBatch, index int, description ConstraintDescription) {
	d, ok := description.(D)
	if !ok {
		panic(fmt.Sprintf("cmbatch: type %d cannot store a %T description", pr.typeID, description))
	}
	pr.Descriptions(tb)[index] = d
}

func (pr *Processor[D, I]) GetDescription(tb *TypeBatch, index int) ConstraintDescription {
	return pr.Descriptions(tb)[index]
}

func (pr *Processor[D, I]) CopyConstraint(source *TypeBatch, sourceIndex int, target *TypeBatch, targetIndex int) {
	pr.Descriptions(target)[targetIndex] = pr.Descriptions(source)[sourceIndex]
	pr.Impulses(target)[targetIndex] = pr.Impulses(source)[sourceIndex]
}

// Impulse returns the accumulated impulse of the constraint at index.
func (pr *Processor[D, I]) Impulse(tb *TypeBatch, index int) I {
	return pr.Impulses(tb)[index]
}

// SetImpulse overwrites the accumulated impulse of the constraint at index.
func (pr *Processor[D, I]) SetImpulse(tb *TypeBatch, index int, impulse I) {
	pr.Impulses(tb)[index] = impulse
}
