package cmbatch

import "github.com/setanarut/vec"

// PivotJoint holds two bodies together at a shared point.
type PivotJoint struct {
	ConstraintSettings
	AnchorA, AnchorB vec.Vec2
}

func (PivotJoint) ConstraintTypeID() int { return PivotJointTypeID }

// NewPivotJoint creates a pivot joint around a world space pivot.
func NewPivotJoint(bodies *Bodies, a, b BodyHandle, pivot vec.Vec2) PivotJoint {
	return NewPivotJoint2(bodies.WorldToLocal(a, pivot), bodies.WorldToLocal(b, pivot))
}

// NewPivotJoint2 creates a pivot joint from body local anchors.
func NewPivotJoint2(anchorA, anchorB vec.Vec2) PivotJoint {
	return PivotJoint{
		ConstraintSettings: DefaultConstraintSettings(),
		AnchorA:            anchorA,
		AnchorB:            anchorB,
	}
}

// NewPivotJointProcessor stores pivot joints with a 2D accumulated impulse.
func NewPivotJointProcessor() *Processor[PivotJoint, vec.Vec2] {
	return NewProcessor[PivotJoint, vec.Vec2](PivotJointTypeID, 2)
}
