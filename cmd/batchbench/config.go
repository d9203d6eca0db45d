package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/setanarut/cmbatch"
)

// workload describes one benchmark run.
type workload struct {
	Bodies          int     `yaml:"bodies"`
	Steps           int     `yaml:"steps"`
	AddsPerStep     int     `yaml:"adds_per_step"`
	RemovalsPerStep int     `yaml:"removals_per_step"`
	SleepEvery      int     `yaml:"sleep_every"`
	SleepFraction   float64 `yaml:"sleep_fraction"`
	Workers         int     `yaml:"workers"`
	Seed            uint64  `yaml:"seed"`
	Validate        bool    `yaml:"validate"`

	Solver solverSettings `yaml:"solver"`
}

type solverSettings struct {
	InitialTypeCountEstimate    int `yaml:"initial_type_count_estimate"`
	MinimumCapacityPerTypeBatch int `yaml:"minimum_capacity_per_type_batch"`
	InitialBatchCapacity        int `yaml:"initial_batch_capacity"`
	InitialHandleCapacity       int `yaml:"initial_handle_capacity"`
}

func defaultWorkload() workload {
	d := cmbatch.DefaultConfig()
	return workload{
		Bodies:          256,
		Steps:           200,
		AddsPerStep:     64,
		RemovalsPerStep: 48,
		SleepEvery:      25,
		SleepFraction:   0.25,
		Seed:            1,
		Solver: solverSettings{
			InitialTypeCountEstimate:    d.InitialTypeCountEstimate,
			MinimumCapacityPerTypeBatch: d.MinimumCapacityPerTypeBatch,
			InitialBatchCapacity:        d.InitialBatchCapacity,
			InitialHandleCapacity:       d.InitialHandleCapacity,
		},
	}
}

// loadWorkload reads path over the defaults. An empty path yields the
// defaults.
func loadWorkload(path string) (workload, error) {
	w := defaultWorkload()
	if path == "" {
		return w, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return w, fmt.Errorf("reading workload: %w", err)
	}
	if err := yaml.Unmarshal(data, &w); err != nil {
		return w, fmt.Errorf("parsing workload %s: %w", path, err)
	}
	return w, w.validate()
}

func (w workload) validate() error {
	var errs []error
	if w.Bodies < 2 {
		errs = append(errs, fmt.Errorf("bodies must be at least 2, got %d", w.Bodies))
	}
	if w.Steps < 0 || w.AddsPerStep < 0 || w.RemovalsPerStep < 0 || w.SleepEvery < 0 {
		errs = append(errs, errors.New("steps, adds_per_step, removals_per_step and sleep_every must not be negative"))
	}
	if w.SleepFraction < 0 || w.SleepFraction > 1 {
		errs = append(errs, fmt.Errorf("sleep_fraction must be within [0, 1], got %g", w.SleepFraction))
	}
	return errors.Join(errs...)
}

func (w workload) solverConfig() cmbatch.Config {
	return cmbatch.Config{
		InitialTypeCountEstimate:    w.Solver.InitialTypeCountEstimate,
		MinimumCapacityPerTypeBatch: w.Solver.MinimumCapacityPerTypeBatch,
		InitialBatchCapacity:        w.Solver.InitialBatchCapacity,
		InitialHandleCapacity:       w.Solver.InitialHandleCapacity,
	}
}

func (w workload) marshal() ([]byte, error) {
	return yaml.Marshal(w)
}
