package cmbatch

import "github.com/setanarut/vec"

// SlideJoint is a pin joint whose distance may vary between Min and Max.
type SlideJoint struct {
	ConstraintSettings

	AnchorA, AnchorB vec.Vec2
	Min, Max         float64
}

func (SlideJoint) ConstraintTypeID() int { return SlideJointTypeID }

func NewSlideJoint(anchorA, anchorB vec.Vec2, min, max float64) SlideJoint {
	return SlideJoint{
		ConstraintSettings: DefaultConstraintSettings(),
		AnchorA:            anchorA,
		AnchorB:            anchorB,
		Min:                min,
		Max:                max,
	}
}

func NewSlideJointProcessor() *Processor[SlideJoint, float64] {
	return NewProcessor[SlideJoint, float64](SlideJointTypeID, 2)
}
