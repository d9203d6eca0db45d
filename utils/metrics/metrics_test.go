package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/setanarut/cmbatch"
)

func TestCollectorReportsSolverStats(t *testing.T) {
	bodies := cmbatch.NewBodies(4)
	a := bodies.Add(cmbatch.BodyDescription{Mass: 1, Moment: 1})
	b := bodies.Add(cmbatch.BodyDescription{Mass: 1, Moment: 1})
	c := bodies.Add(cmbatch.BodyDescription{Mass: 1, Moment: 1})
	solver := cmbatch.NewSolver(bodies, cmbatch.Config{})
	for _, p := range cmbatch.DefaultTypeProcessors() {
		solver.Register(p)
	}
	_, err := solver.Add([]cmbatch.BodyHandle{a, b}, cmbatch.NewGearJoint(0, 1))
	require.NoError(t, err)
	sleeper, err := solver.Add([]cmbatch.BodyHandle{b, c}, cmbatch.NewGearJoint(0, 2))
	require.NoError(t, err)
	_, err = solver.Sleep([]cmbatch.ConstraintHandle{sleeper})
	require.NoError(t, err)

	collector := NewCollector(solver.Stats, prometheus.Labels{"run": "test"})
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(collector))

	expected := `
# HELP cmbatch_active_batches Constraint batches in the active set.
# TYPE cmbatch_active_batches gauge
cmbatch_active_batches{run="test"} 1
# HELP cmbatch_constraints Stored constraints by set kind.
# TYPE cmbatch_constraints gauge
cmbatch_constraints{run="test",set="active"} 1
cmbatch_constraints{run="test",set="inactive"} 1
# HELP cmbatch_inactive_sets Sleeping constraint sets.
# TYPE cmbatch_inactive_sets gauge
cmbatch_inactive_sets{run="test"} 1
`
	err = testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"cmbatch_active_batches", "cmbatch_constraints", "cmbatch_inactive_sets")
	assert.NoError(t, err)
	assert.Equal(t, 8, testutil.CollectAndCount(collector))
}
