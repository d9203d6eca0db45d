package cmbatch

// DampedRotarySpring is an angular spring between two bodies.
type DampedRotarySpring struct {
	ConstraintSettings

	RestAngle, Stiffness, Damping float64
}

func (DampedRotarySpring) ConstraintTypeID() int { return DampedRotarySpringTypeID }

func NewDampedRotarySpring(restAngle, stiffness, damping float64) DampedRotarySpring {
	return DampedRotarySpring{
		ConstraintSettings: DefaultConstraintSettings(),
		RestAngle:          restAngle,
		Stiffness:          stiffness,
		Damping:            damping,
	}
}

// SpringTorque is the torque the spring applies at relativeAngle.
func (spring DampedRotarySpring) SpringTorque(relativeAngle float64) float64 {
	return (relativeAngle - spring.RestAngle) * spring.Stiffness
}

func NewDampedRotarySpringProcessor() *Processor[DampedRotarySpring, float64] {
	return NewProcessor[DampedRotarySpring, float64](DampedRotarySpringTypeID, 2)
}
