// Package cmbatch stores the constraints of a rigid-body solver in batches
// that share no body, so each batch can be solved in parallel.
package cmbatch

// BodyHandle is a stable identifier of a body. It survives body storage
// compaction.
type BodyHandle int32

// BodyIndex is the current position of a body in the body table. Constraints
// store indices so the solver never pays for handle indirection.
type BodyIndex int32

// ConstraintHandle is a stable identifier of a constraint.
type ConstraintHandle int32

// MaxBodiesPerConstraint bounds the number of bodies a constraint type may
// connect.
const MaxBodiesPerConstraint = 4

// ConstraintLocation is where a constraint currently lives. The solver keeps
// one per handle; type processors rewrite IndexInTypeBatch when a removal
// moves a constraint.
type ConstraintLocation struct {
	SetIndex         int // -1 marks an unused handle slot.
	BatchIndex       int
	TypeID           int
	IndexInTypeBatch int
}

// ConstraintReference points at a freshly allocated constraint. The TypeBatch
// pointer is only valid until the owning ConstraintBatch next grows its
// TypeBatches collection.
type ConstraintReference struct {
	TypeBatch        *TypeBatch
	IndexInTypeBatch int
}

// BodyVisitor receives the body indices a constraint references.
type BodyVisitor interface {
	Visit(index BodyIndex)
}

// BodyVisitorFunc adapts a function to BodyVisitor.
type BodyVisitorFunc func(index BodyIndex)

func (f BodyVisitorFunc) Visit(index BodyIndex) {
	f(index)
}
