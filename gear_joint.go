package cmbatch

// GearJoint keeps the angular velocity ratio of two bodies constant.
type GearJoint struct {
	ConstraintSettings
	Phase, Ratio float64
	RatioInv     float64
}

func (GearJoint) ConstraintTypeID() int { return GearJointTypeID }

func NewGearJoint(phase, ratio float64) GearJoint {
	return GearJoint{
		ConstraintSettings: DefaultConstraintSettings(),
		Phase:              phase,
		Ratio:              ratio,
		RatioInv:           1.0 / ratio,
	}
}

func NewGearJointProcessor() *Processor[GearJoint, float64] {
	return NewProcessor[GearJoint, float64](GearJointTypeID, 2)
}
