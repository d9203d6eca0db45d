package cmbatch

import "errors"

var (
	ErrUnknownConstraintType   = errors.New("constraint type is not registered")
	ErrBodyCountMismatch       = errors.New("body count does not match the constraint type")
	ErrInvalidBodyHandle       = errors.New("body handle does not exist")
	ErrDuplicateBody           = errors.New("constraint references the same body twice")
	ErrInvalidConstraintHandle = errors.New("constraint handle does not exist")
	ErrBodyHasConstraints      = errors.New("body is still referenced by constraints")
	ErrInvalidSet              = errors.New("constraint set does not exist")
	ErrTypeMismatch            = errors.New("description type does not match the constraint")
	ErrNotActive               = errors.New("constraint is not in the active set")
	ErrDuplicateRemoval        = errors.New("constraint is queued for removal more than once")
	ErrInconsistent            = errors.New("solver state is inconsistent")
)
