package cmbatch

import "github.com/setanarut/vec"

// PinJoint keeps the anchors of two bodies at a fixed distance.
type PinJoint struct {
	ConstraintSettings
	AnchorA, AnchorB vec.Vec2
	Dist             float64
}

func (PinJoint) ConstraintTypeID() int { return PinJointTypeID }

// NewPinJoint creates a pin joint between local anchors. The distance is
// taken from the current body poses.
func NewPinJoint(bodies *Bodies, a, b BodyHandle, anchorA, anchorB vec.Vec2) PinJoint {
	p1 := bodies.LocalToWorld(a, anchorA)
	p2 := bodies.LocalToWorld(b, anchorB)
	return PinJoint{
		ConstraintSettings: DefaultConstraintSettings(),
		AnchorA:            anchorA,
		AnchorB:            anchorB,
		Dist:               p2.Sub(p1).Mag(),
	}
}

func NewPinJointProcessor() *Processor[PinJoint, float64] {
	return NewProcessor[PinJoint, float64](PinJointTypeID, 2)
}
