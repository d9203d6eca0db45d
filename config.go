package cmbatch

import (
	"log/slog"

	"github.com/setanarut/cmbatch/utils/pool"
)

// Config controls the initial sizing of a Solver.
type Config struct {
	// InitialTypeCountEstimate sizes the type map of every new batch.
	InitialTypeCountEstimate int
	// MinimumCapacityPerTypeBatch is the capacity new type batches start with
	// unless SetMinimumCapacityForType says otherwise.
	MinimumCapacityPerTypeBatch int
	// InitialBatchCapacity is the number of batches the active set has room for.
	InitialBatchCapacity int
	// InitialHandleCapacity sizes the handle tables and occupancy sets.
	InitialHandleCapacity int

	// Pool provides all batch storage. A new pool is created when nil.
	Pool *pool.Pool
	// Logger receives lifecycle events at debug level. Discarded when nil.
	Logger *slog.Logger
}

// DefaultConfig returns the configuration NewSolver uses for zero fields.
func DefaultConfig() Config {
	return Config{
		InitialTypeCountEstimate:    32,
		MinimumCapacityPerTypeBatch: 64,
		InitialBatchCapacity:        4,
		InitialHandleCapacity:       128,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.InitialTypeCountEstimate <= 0 {
		c.InitialTypeCountEstimate = d.InitialTypeCountEstimate
	}
	if c.MinimumCapacityPerTypeBatch <= 0 {
		c.MinimumCapacityPerTypeBatch = d.MinimumCapacityPerTypeBatch
	}
	if c.InitialBatchCapacity <= 0 {
		c.InitialBatchCapacity = d.InitialBatchCapacity
	}
	if c.InitialHandleCapacity <= 0 {
		c.InitialHandleCapacity = d.InitialHandleCapacity
	}
	if c.Pool == nil {
		c.Pool = pool.New()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}
