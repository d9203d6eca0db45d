package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/setanarut/vec"

	"github.com/setanarut/cmbatch"
)

// bench drives a solver through a workload. mu guards the solver against
// concurrent metric scrapes.
type bench struct {
	w       workload
	rng     *rand.Rand
	logger  *slog.Logger
	mu      sync.Mutex
	bodies  *cmbatch.Bodies
	handles []cmbatch.BodyHandle
	solver  *cmbatch.Solver
	remover *cmbatch.ConstraintRemover

	live     []cmbatch.ConstraintHandle
	sleeping int // inactive set index, 0 when nothing sleeps

	added, removed, slept, awakened int
}

type summary struct {
	RunID     string
	Steps     int
	Elapsed   time.Duration
	Added     int
	Removed   int
	Slept     int
	Awakened  int
	Stats     cmbatch.Stats
	MaxBatch  int
	Validated bool
}

func newBench(w workload, logger *slog.Logger) *bench {
	cfg := w.solverConfig()
	cfg.Logger = logger
	b := &bench{
		w:      w,
		rng:    rand.New(rand.NewPCG(w.Seed, w.Seed^0x9e3779b97f4a7c15)),
		logger: logger,
		bodies: cmbatch.NewBodies(w.Bodies),
	}
	side := int(math.Ceil(math.Sqrt(float64(w.Bodies))))
	for i := range w.Bodies {
		desc := cmbatch.BodyDescription{
			Position: vec.Vec2{X: float64(i % side), Y: float64(i / side)},
			Mass:     1,
			Moment:   1,
		}
		if i < side {
			// Ground row.
			desc.Type = cmbatch.Static
		}
		b.handles = append(b.handles, b.bodies.Add(desc))
	}
	b.solver = cmbatch.NewSolver(b.bodies, cfg)
	for _, p := range cmbatch.DefaultTypeProcessors() {
		b.solver.Register(p)
	}
	b.remover = cmbatch.NewConstraintRemover(b.solver, w.Workers)
	return b
}

// stats is safe to call from the metrics handler.
func (b *bench) stats() cmbatch.Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.solver.Stats()
}

func (b *bench) run(ctx context.Context, runID string) (summary, error) {
	start := time.Now()
	maxBatch := 0
	steps := 0
	for step := range b.w.Steps {
		if err := ctx.Err(); err != nil {
			return summary{}, err
		}
		if err := b.step(ctx, step); err != nil {
			return summary{}, fmt.Errorf("step %d: %w", step, err)
		}
		steps++
		maxBatch = max(maxBatch, b.solver.ActiveBatchCount())
	}
	if err := b.solver.ValidateConsistency(); err != nil {
		return summary{}, err
	}
	return summary{
		RunID:     runID,
		Steps:     steps,
		Elapsed:   time.Since(start),
		Added:     b.added,
		Removed:   b.removed,
		Slept:     b.slept,
		Awakened:  b.awakened,
		Stats:     b.stats(),
		MaxBatch:  maxBatch,
		Validated: b.w.Validate,
	}, nil
}

func (b *bench) step(ctx context.Context, step int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for range b.w.AddsPerStep {
		if err := b.addRandom(); err != nil {
			return err
		}
	}

	for range min(b.w.RemovalsPerStep, len(b.live)) {
		i := b.rng.IntN(len(b.live))
		b.remover.EnqueueRemoval(b.live[i])
		b.live[i] = b.live[len(b.live)-1]
		b.live = b.live[:len(b.live)-1]
	}
	n, err := b.remover.Flush(ctx)
	if err != nil {
		return err
	}
	b.removed += n
	if b.sleeping > 0 && b.solver.Stats().InactiveSets == 0 {
		// Every sleeping constraint was removed.
		b.sleeping = 0
	}

	if b.w.SleepEvery > 0 && step%b.w.SleepEvery == b.w.SleepEvery-1 {
		if err := b.toggleSleep(); err != nil {
			return err
		}
	}

	if b.w.Validate {
		return b.solver.ValidateConsistency()
	}
	return nil
}

func (b *bench) addRandom() error {
	i := b.rng.IntN(len(b.handles))
	j := b.rng.IntN(len(b.handles) - 1)
	if j >= i {
		j++
	}
	a, c := b.handles[i], b.handles[j]
	handle, err := b.solver.Add([]cmbatch.BodyHandle{a, c}, b.randomJoint(a, c))
	if err != nil {
		return err
	}
	b.live = append(b.live, handle)
	b.added++
	return nil
}

func (b *bench) randomJoint(a, c cmbatch.BodyHandle) cmbatch.ConstraintDescription {
	switch b.rng.IntN(cmbatch.BuiltinTypeCount) {
	case cmbatch.PivotJointTypeID:
		pa := b.bodies.Poses[b.bodies.HandleToIndex[a]].Position
		pc := b.bodies.Poses[b.bodies.HandleToIndex[c]].Position
		return cmbatch.NewPivotJoint(b.bodies, a, c, pa.Lerp(pc, 0.5))
	case cmbatch.PinJointTypeID:
		return cmbatch.NewPinJoint(b.bodies, a, c, vec.Vec2{}, vec.Vec2{})
	case cmbatch.SlideJointTypeID:
		return cmbatch.NewSlideJoint(vec.Vec2{}, vec.Vec2{}, 0.5, 2)
	case cmbatch.GrooveJointTypeID:
		return cmbatch.NewGrooveJoint(vec.Vec2{X: -1}, vec.Vec2{X: 1}, vec.Vec2{})
	case cmbatch.GearJointTypeID:
		return cmbatch.NewGearJoint(0, 1+b.rng.Float64())
	default:
		return cmbatch.NewDampedRotarySpring(0, 10, 1)
	}
}

// toggleSleep wakes the sleeping set if there is one, otherwise puts a
// random share of the active constraints to sleep.
func (b *bench) toggleSleep() error {
	if b.sleeping > 0 {
		if err := b.solver.Awaken(b.sleeping); err != nil {
			return err
		}
		b.awakened++
		b.sleeping = 0
		return nil
	}
	var candidates []cmbatch.ConstraintHandle
	for _, handle := range b.live {
		if b.rng.Float64() < b.w.SleepFraction {
			candidates = append(candidates, handle)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	setIndex, err := b.solver.Sleep(candidates)
	if err != nil {
		return err
	}
	b.sleeping = setIndex
	b.slept++
	b.logger.Debug("workload sleep", "set", setIndex, "constraints", len(candidates))
	return nil
}
