package cmbatch

import (
	"fmt"
	"slices"

	"github.com/setanarut/vec"
)

// BodyType for bodies; Dynamic or Static
type BodyType uint8

const (
	Dynamic BodyType = 0
	Static  BodyType = 1
)

// BodyDescription is everything needed to add a body.
type BodyDescription struct {
	Position vec.Vec2
	Angle    float64 // Angle (radians)
	Mass     float64 // Ignored for static bodies.
	Moment   float64 // Moment of inertia, ignored for static bodies.
	Type     BodyType
}

// Pose is the position and orientation of a body.
type Pose struct {
	Position vec.Vec2
	Angle    float64
}

// Inertia holds inverse mass properties. Zero means immovable.
type Inertia struct {
	InverseMass   float64
	InverseMoment float64
}

// BodyConstraintReference records that a constraint connects to a body, and
// in which of its body slots.
type BodyConstraintReference struct {
	ConnectingConstraintHandle ConstraintHandle
	BodyIndexInConstraint      int
}

// Bodies is a packed body table. Bodies are addressed by handle from the
// outside and by index from constraint storage; removal swaps the last body
// into the freed index.
type Bodies struct {
	// HandleToIndex maps a handle to its current index, -1 when unused.
	HandleToIndex []BodyIndex
	// IndexToHandle maps an index back to its handle.
	IndexToHandle []BodyHandle

	Poses    []Pose
	Inertias []Inertia
	// Constraints lists the constraints attached to each body index.
	Constraints [][]BodyConstraintReference

	handles IdPool
}

// NewBodies creates a body table with room for initialCapacity bodies.
func NewBodies(initialCapacity int) *Bodies {
	return &Bodies{
		HandleToIndex: make([]BodyIndex, 0, initialCapacity),
		IndexToHandle: make([]BodyHandle, 0, initialCapacity),
		Poses:         make([]Pose, 0, initialCapacity),
		Inertias:      make([]Inertia, 0, initialCapacity),
		Constraints:   make([][]BodyConstraintReference, 0, initialCapacity),
	}
}

// Count returns the number of bodies.
func (b *Bodies) Count() int {
	return len(b.IndexToHandle)
}

// Add inserts a body and returns its handle.
func (b *Bodies) Add(desc BodyDescription) BodyHandle {
	handle := BodyHandle(b.handles.Take())
	for int(handle) >= len(b.HandleToIndex) {
		b.HandleToIndex = append(b.HandleToIndex, -1)
	}
	index := BodyIndex(len(b.IndexToHandle))
	b.HandleToIndex[handle] = index
	b.IndexToHandle = append(b.IndexToHandle, handle)
	b.Poses = append(b.Poses, Pose{Position: desc.Position, Angle: desc.Angle})
	b.Inertias = append(b.Inertias, inertiaFor(desc))
	b.Constraints = append(b.Constraints, nil)
	return handle
}

func inertiaFor(desc BodyDescription) Inertia {
	if desc.Type != Dynamic {
		return Inertia{}
	}
	var in Inertia
	if desc.Mass > 0 {
		in.InverseMass = 1 / desc.Mass
	}
	if desc.Moment > 0 {
		in.InverseMoment = 1 / desc.Moment
	}
	return in
}

// Contains reports whether handle refers to a live body.
func (b *Bodies) Contains(handle BodyHandle) bool {
	return handle >= 0 && int(handle) < len(b.HandleToIndex) && b.HandleToIndex[handle] >= 0
}

// Remove deletes a body. When another body was moved into the freed index it
// is reported through movedHandle so constraint storage can be patched.
func (b *Bodies) Remove(handle BodyHandle) (movedHandle BodyHandle, moved bool, err error) {
	if !b.Contains(handle) {
		return 0, false, fmt.Errorf("%w: %d", ErrInvalidBodyHandle, handle)
	}
	index := b.HandleToIndex[handle]
	if len(b.Constraints[index]) > 0 {
		return 0, false, fmt.Errorf("%w: body %d has %d constraints", ErrBodyHasConstraints, handle, len(b.Constraints[index]))
	}
	last := BodyIndex(len(b.IndexToHandle) - 1)
	if index < last {
		movedHandle = b.IndexToHandle[last]
		moved = true
		b.IndexToHandle[index] = movedHandle
		b.Poses[index] = b.Poses[last]
		b.Inertias[index] = b.Inertias[last]
		b.Constraints[index] = b.Constraints[last]
		b.HandleToIndex[movedHandle] = index
	}
	b.Constraints[last] = nil
	b.IndexToHandle = b.IndexToHandle[:last]
	b.Poses = b.Poses[:last]
	b.Inertias = b.Inertias[:last]
	b.Constraints = b.Constraints[:last]
	b.HandleToIndex[handle] = -1
	b.handles.Return(int32(handle))
	return movedHandle, moved, nil
}

// Transform returns the rigid transform of the body.
func (b *Bodies) Transform(handle BodyHandle) Transform {
	pose := b.Poses[b.HandleToIndex[handle]]
	return NewTransformRigid(pose.Position, pose.Angle)
}

// WorldToLocal converts a world point to body local coordinates.
func (b *Bodies) WorldToLocal(handle BodyHandle, point vec.Vec2) vec.Vec2 {
	return b.Transform(handle).RigidInverse().Apply(point)
}

// LocalToWorld converts a body local point to world coordinates.
func (b *Bodies) LocalToWorld(handle BodyHandle, point vec.Vec2) vec.Vec2 {
	return b.Transform(handle).Apply(point)
}

// SetPose moves a body.
func (b *Bodies) SetPose(handle BodyHandle, pose Pose) {
	b.Poses[b.HandleToIndex[handle]] = pose
}

// addConstraint records that constraint connects to the body at index.
func (b *Bodies) addConstraint(index BodyIndex, constraint ConstraintHandle, bodyIndexInConstraint int) {
	b.Constraints[index] = append(b.Constraints[index], BodyConstraintReference{
		ConnectingConstraintHandle: constraint,
		BodyIndexInConstraint:      bodyIndexInConstraint,
	})
}

// removeConstraint forgets constraint on the body at index.
func (b *Bodies) removeConstraint(index BodyIndex, constraint ConstraintHandle) {
	b.Constraints[index] = slices.DeleteFunc(b.Constraints[index], func(r BodyConstraintReference) bool {
		return r.ConnectingConstraintHandle == constraint
	})
}

// clearConstraints forgets every body-constraint connection.
func (b *Bodies) clearConstraints() {
	for i := range b.Constraints {
		b.Constraints[i] = b.Constraints[i][:0]
	}
}
