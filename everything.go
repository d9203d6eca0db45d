package cmbatch

import "math"

// Type ids of the built-in joints.
const (
	PivotJointTypeID = iota
	PinJointTypeID
	SlideJointTypeID
	GrooveJointTypeID
	GearJointTypeID
	DampedRotarySpringTypeID

	// BuiltinTypeCount is one past the largest built-in type id.
	BuiltinTypeCount
)

// ConstraintSettings are the solver limits shared by every joint type.
type ConstraintSettings struct {
	// MaxForce is the maximum force the joint can apply to its bodies.
	// Defaults to infinity.
	MaxForce float64

	// ErrorBias is the percentage of joint error that remains unfixed after a
	// second. Defaults to pow(1.0 - 0.1, 60.0), fixing 10% of the error every
	// 1/60th of a second.
	ErrorBias float64

	// MaxBias is the maximum speed at which the joint can correct errors.
	// Defaults to infinity.
	MaxBias float64
}

// DefaultConstraintSettings returns the settings joints start with.
func DefaultConstraintSettings() ConstraintSettings {
	return ConstraintSettings{
		MaxForce:  math.Inf(1),
		ErrorBias: math.Pow(1.0-0.1, 60.0),
		MaxBias:   math.Inf(1),
	}
}

// DefaultTypeProcessors returns one processor per built-in joint, indexed by
// type id.
func DefaultTypeProcessors() []TypeProcessor {
	return []TypeProcessor{
		PivotJointTypeID:         NewPivotJointProcessor(),
		PinJointTypeID:           NewPinJointProcessor(),
		SlideJointTypeID:         NewSlideJointProcessor(),
		GrooveJointTypeID:        NewGrooveJointProcessor(),
		GearJointTypeID:          NewGearJointProcessor(),
		DampedRotarySpringTypeID: NewDampedRotarySpringProcessor(),
	}
}
