package cmbatch

import "sync/atomic"

var validation atomic.Bool

func init() {
	validation.Store(debugBuild)
}

// EnableValidation turns the internal consistency checks on or off. They are
// on by default in builds tagged cmdebug. With validation off, contract
// violations surface as index panics or silently wrong data.
func EnableValidation(enabled bool) {
	validation.Store(enabled)
}

// ValidationEnabled reports whether consistency checks run.
func ValidationEnabled() bool {
	return validation.Load()
}

func validationEnabled() bool {
	return validation.Load()
}

func mustHold(condition bool, message string) {
	if !condition {
		panic("cmbatch: " + message)
	}
}
