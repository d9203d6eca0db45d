package cmbatch

import "unsafe"

// TypeBatch is the packed storage of every constraint of one type inside one
// ConstraintBatch. It is plain data: the type id selects the TypeProcessor
// that knows how to read and resize it.
type TypeBatch struct {
	// Typed arrays of the processor's description and impulse types, each with
	// Capacity elements.
	descriptions unsafe.Pointer
	impulses     unsafe.Pointer

	// BodyReferences holds BodiesPerConstraint body indices per constraint,
	// constraint i at [i*bodies, (i+1)*bodies).
	BodyReferences []BodyIndex
	// IndexToHandle maps a slot back to the constraint occupying it.
	IndexToHandle []ConstraintHandle

	TypeID          int
	ConstraintCount int
}

// Capacity is the number of constraints the batch can hold before it grows.
func (tb *TypeBatch) Capacity() int {
	return len(tb.IndexToHandle)
}

// Allocated reports whether the batch owns storage.
func (tb *TypeBatch) Allocated() bool {
	return tb.IndexToHandle != nil
}
