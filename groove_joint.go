package cmbatch

import "github.com/setanarut/vec"

// GrooveJoint lets a pivot on body B slide along a groove on body A.
type GrooveJoint struct {
	ConstraintSettings

	GrooveN, GrooveA, GrooveB vec.Vec2
	AnchorB                   vec.Vec2
}

func (GrooveJoint) ConstraintTypeID() int { return GrooveJointTypeID }

// NewGrooveJoint creates a groove from grooveA to grooveB, both local to body A.
func NewGrooveJoint(grooveA, grooveB, anchorB vec.Vec2) GrooveJoint {
	return GrooveJoint{
		ConstraintSettings: DefaultConstraintSettings(),
		GrooveA:            grooveA,
		GrooveB:            grooveB,
		GrooveN:            grooveB.Sub(grooveA).Unit().Perp(),
		AnchorB:            anchorB,
	}
}

func NewGrooveJointProcessor() *Processor[GrooveJoint, vec.Vec2] {
	return NewProcessor[GrooveJoint, vec.Vec2](GrooveJointTypeID, 2)
}
