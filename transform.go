package cmbatch

import "github.com/setanarut/vec"

// Transform is a 2D affine transformation stored as a 2x3 matrix.
//
//	| a  c  tx |   -> X' = a * X + c * Y + tx
//	| b  d  ty |   -> Y' = b * X + d * Y + ty
//
// Bodies only ever use rigid transforms (rotation plus translation); joint
// constructors use them to turn world-space anchors into body-local ones.
type Transform struct {
	a, b, c, d, tx, ty float64
}

// NewTransformTranspose returns a new transformation matrix in transposed order.
func NewTransformTranspose(a, c, tx, b, d, ty float64) Transform {
	return Transform{a, b, c, d, tx, ty}
}

// NewTransformRigid combines a rotation by angle with a translation.
func NewTransformRigid(translate vec.Vec2, angle float64) Transform {
	rot := vec.ForAngle(angle)
	return NewTransformTranspose(
		rot.X, -rot.Y, translate.X,
		rot.Y, rot.X, translate.Y,
	)
}

// RigidInverse inverts a rigid transform without a determinant.
func (t Transform) RigidInverse() Transform {
	return NewTransformTranspose(
		t.d, -t.c, t.c*t.ty-t.tx*t.d,
		-t.b, t.a, t.tx*t.b-t.a*t.ty,
	)
}

// Apply transforms the point p.
func (t Transform) Apply(p vec.Vec2) vec.Vec2 {
	return vec.Vec2{
		X: t.a*p.X + t.c*p.Y + t.tx,
		Y: t.b*p.X + t.d*p.Y + t.ty,
	}
}
