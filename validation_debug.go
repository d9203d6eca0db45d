//go:build cmdebug

package cmbatch

const debugBuild = true
