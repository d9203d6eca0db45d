package cmbatch

import (
	"os"
	"testing"
)

func TestMain(m *testing.M) {
	EnableValidation(true)
	os.Exit(m.Run())
}
