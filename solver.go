package cmbatch

import (
	"fmt"
	"log/slog"

	"github.com/setanarut/cmbatch/utils/pool"
)

// ConstraintSet is a list of constraint batches. Set 0 is the active set;
// the others hold sleeping constraints.
type ConstraintSet struct {
	Batches   []ConstraintBatch
	allocated bool
}

// Allocated reports whether the set slot is in use.
func (set *ConstraintSet) Allocated() bool {
	return set.allocated
}

// ConstraintCount returns the number of constraints in the set.
func (set *ConstraintSet) ConstraintCount() int {
	count := 0
	for i := range set.Batches {
		count += set.Batches[i].ConstraintCount()
	}
	return count
}

// Solver owns the constraint batches of a body table. Constraints are added
// to the first active batch none of whose constraints shares a body with
// them, so every active batch can be solved without synchronization.
//
// A Solver is not safe for concurrent use. ConstraintRemover is the only
// entry point that fans work out to goroutines.
type Solver struct {
	Bodies *Bodies
	Sets   []ConstraintSet
	// HandleToConstraint maps a constraint handle to its location. Unused
	// handles have SetIndex -1.
	HandleToConstraint []ConstraintLocation
	// TypeProcessors is indexed by type id; unregistered ids are nil.
	TypeProcessors []TypeProcessor

	// batchReferencedHandles[i] holds the body handles claimed in active batch i.
	batchReferencedHandles []ReferencedHandles
	minimumCapacityPerType []int
	handlePool             IdPool

	cfg    Config
	pool   *pool.Pool
	logger *slog.Logger
}

// NewSolver creates a solver with an empty active set. Zero config fields
// take their DefaultConfig values.
func NewSolver(bodies *Bodies, cfg Config) *Solver {
	cfg = cfg.withDefaults()
	s := &Solver{
		Bodies:                 bodies,
		Sets:                   make([]ConstraintSet, 1, 4),
		HandleToConstraint:     make([]ConstraintLocation, 0, cfg.InitialHandleCapacity),
		batchReferencedHandles: make([]ReferencedHandles, 0, cfg.InitialBatchCapacity),
		cfg:                    cfg,
		pool:                   cfg.Pool,
		logger:                 cfg.Logger,
	}
	s.Sets[0] = ConstraintSet{
		Batches:   make([]ConstraintBatch, 0, cfg.InitialBatchCapacity),
		allocated: true,
	}
	return s
}

// Pool returns the pool backing all batch storage.
func (s *Solver) Pool() *pool.Pool {
	return s.pool
}

// Register makes a constraint type known. Registering a type id twice panics.
func (s *Solver) Register(processor TypeProcessor) {
	typeID := processor.TypeID()
	for typeID >= len(s.TypeProcessors) {
		s.TypeProcessors = append(s.TypeProcessors, nil)
	}
	if s.TypeProcessors[typeID] != nil {
		panic(fmt.Sprintf("cmbatch: constraint type %d registered twice", typeID))
	}
	s.TypeProcessors[typeID] = processor
	s.logger.Debug("constraint type registered", "type", typeID, "bodies", processor.BodiesPerConstraint())
}

func (s *Solver) processorFor(typeID int) (TypeProcessor, error) {
	if typeID < 0 || typeID >= len(s.TypeProcessors) || s.TypeProcessors[typeID] == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownConstraintType, typeID)
	}
	return s.TypeProcessors[typeID], nil
}

// SetMinimumCapacityForType sets the capacity new type batches of typeID
// start with, and the floor Resize shrinks them to.
func (s *Solver) SetMinimumCapacityForType(typeID, capacity int) {
	for typeID >= len(s.minimumCapacityPerType) {
		s.minimumCapacityPerType = append(s.minimumCapacityPerType, 0)
	}
	s.minimumCapacityPerType[typeID] = capacity
}

// MinimumCapacityForType returns the capacity new type batches of typeID get.
func (s *Solver) MinimumCapacityForType(typeID int) int {
	if typeID < len(s.minimumCapacityPerType) && s.minimumCapacityPerType[typeID] > 0 {
		return s.minimumCapacityPerType[typeID]
	}
	return s.cfg.MinimumCapacityPerTypeBatch
}

func (s *Solver) minimumCapacities() []int {
	capacities := make([]int, len(s.TypeProcessors))
	for typeID := range capacities {
		capacities[typeID] = s.MinimumCapacityForType(typeID)
	}
	return capacities
}

func (s *Solver) typeCountEstimate() int {
	return max(s.cfg.InitialTypeCountEstimate, len(s.TypeProcessors))
}

// ActiveBatchCount returns the number of batches in the active set.
func (s *Solver) ActiveBatchCount() int {
	return len(s.Sets[0].Batches)
}

// ReferencedHandles returns the occupancy set of active batch batchIndex.
func (s *Solver) ReferencedHandles(batchIndex int) *ReferencedHandles {
	return &s.batchReferencedHandles[batchIndex]
}

func (s *Solver) validateBodies(bodyHandles []BodyHandle, processor TypeProcessor) error {
	if len(bodyHandles) != processor.BodiesPerConstraint() {
		return fmt.Errorf("%w: type %d wants %d bodies, got %d",
			ErrBodyCountMismatch, processor.TypeID(), processor.BodiesPerConstraint(), len(bodyHandles))
	}
	for i, handle := range bodyHandles {
		if !s.Bodies.Contains(handle) {
			return fmt.Errorf("%w: %d", ErrInvalidBodyHandle, handle)
		}
		for _, previous := range bodyHandles[:i] {
			if previous == handle {
				return fmt.Errorf("%w: %d", ErrDuplicateBody, handle)
			}
		}
	}
	return nil
}

// Add creates a constraint between bodyHandles described by description and
// returns its handle.
func (s *Solver) Add(bodyHandles []BodyHandle, description ConstraintDescription) (ConstraintHandle, error) {
	typeID := description.ConstraintTypeID()
	processor, err := s.processorFor(typeID)
	if err != nil {
		return 0, err
	}
	if err := s.validateBodies(bodyHandles, processor); err != nil {
		return 0, err
	}

	handle := ConstraintHandle(s.handlePool.Take())
	for int(handle) >= len(s.HandleToConstraint) {
		s.HandleToConstraint = append(s.HandleToConstraint, ConstraintLocation{SetIndex: -1})
	}
	batchIndex := s.findActiveBatch(bodyHandles)
	ref := s.Sets[0].Batches[batchIndex].Allocate(handle, bodyHandles, &s.batchReferencedHandles[batchIndex],
		s.Bodies, typeID, processor, s.MinimumCapacityForType(typeID), s.pool)
	processor.ApplyDescription(ref.TypeBatch, ref.IndexInTypeBatch, description)
	s.HandleToConstraint[handle] = ConstraintLocation{
		SetIndex:         0,
		BatchIndex:       batchIndex,
		TypeID:           typeID,
		IndexInTypeBatch: ref.IndexInTypeBatch,
	}
	for i, bodyHandle := range bodyHandles {
		s.Bodies.addConstraint(s.Bodies.HandleToIndex[bodyHandle], handle, i)
	}
	return handle, nil
}

// findActiveBatch returns the first active batch that can take a constraint
// between bodyHandles, creating one when none can.
func (s *Solver) findActiveBatch(bodyHandles []BodyHandle) int {
	for i := range s.batchReferencedHandles {
		if s.batchReferencedHandles[i].CanFit(bodyHandles) {
			return i
		}
	}
	set := &s.Sets[0]
	set.Batches = append(set.Batches, NewConstraintBatch(s.pool, s.typeCountEstimate()))
	s.batchReferencedHandles = append(s.batchReferencedHandles, NewReferencedHandles(s.pool, s.cfg.InitialHandleCapacity))
	batchIndex := len(set.Batches) - 1
	s.logger.Debug("constraint batch created", "batch", batchIndex)
	return batchIndex
}

// trimActiveBatches disposes empty batches at the end of the active set.
func (s *Solver) trimActiveBatches() {
	set := &s.Sets[0]
	for n := len(set.Batches); n > 0 && len(set.Batches[n-1].TypeBatches) == 0; n-- {
		set.Batches[n-1].Dispose(s.TypeProcessors, s.pool)
		s.batchReferencedHandles[n-1].Dispose(s.pool)
		set.Batches = set.Batches[:n-1]
		s.batchReferencedHandles = s.batchReferencedHandles[:n-1]
		s.logger.Debug("constraint batch trimmed", "batch", n-1)
	}
}

// trimInactiveSet disposes trailing empty batches of an inactive set and
// releases the set once it is empty.
func (s *Solver) trimInactiveSet(setIndex int) {
	set := &s.Sets[setIndex]
	for n := len(set.Batches); n > 0 && len(set.Batches[n-1].TypeBatches) == 0; n-- {
		set.Batches[n-1].Dispose(s.TypeProcessors, s.pool)
		set.Batches = set.Batches[:n-1]
	}
	if len(set.Batches) == 0 {
		s.releaseSet(setIndex)
	}
}

// Location returns where the constraint currently lives.
func (s *Solver) Location(handle ConstraintHandle) (ConstraintLocation, error) {
	if !s.ConstraintExists(handle) {
		return ConstraintLocation{}, fmt.Errorf("%w: %d", ErrInvalidConstraintHandle, handle)
	}
	return s.HandleToConstraint[handle], nil
}

// ConstraintExists reports whether handle refers to a live constraint.
func (s *Solver) ConstraintExists(handle ConstraintHandle) bool {
	return handle >= 0 && int(handle) < len(s.HandleToConstraint) && s.HandleToConstraint[handle].SetIndex >= 0
}

func (s *Solver) typeBatchAt(location ConstraintLocation) *TypeBatch {
	return s.Sets[location.SetIndex].Batches[location.BatchIndex].GetTypeBatch(location.TypeID)
}

// Remove deletes a constraint, active or sleeping.
func (s *Solver) Remove(handle ConstraintHandle) error {
	location, err := s.Location(handle)
	if err != nil {
		return err
	}
	processor := s.TypeProcessors[location.TypeID]
	tb := s.typeBatchAt(location)
	processor.EnumerateConnectedBodyIndices(tb, location.IndexInTypeBatch, BodyVisitorFunc(func(index BodyIndex) {
		s.Bodies.removeConstraint(index, handle)
	}))

	batch := &s.Sets[location.SetIndex].Batches[location.BatchIndex]
	if location.SetIndex == 0 {
		batch.RemoveWithHandles(location.TypeID, location.IndexInTypeBatch, &s.batchReferencedHandles[location.BatchIndex],
			s.Bodies, processor, s.HandleToConstraint, s.pool)
	} else {
		batch.Remove(location.TypeID, location.IndexInTypeBatch, processor, s.HandleToConstraint, s.pool)
	}
	s.releaseHandle(handle)

	if location.SetIndex == 0 {
		s.trimActiveBatches()
	} else {
		s.trimInactiveSet(location.SetIndex)
	}
	return nil
}

func (s *Solver) releaseHandle(handle ConstraintHandle) {
	s.HandleToConstraint[handle] = ConstraintLocation{SetIndex: -1}
	s.handlePool.Return(int32(handle))
}

// GetDescription returns a copy of the constraint's description.
func (s *Solver) GetDescription(handle ConstraintHandle) (ConstraintDescription, error) {
	location, err := s.Location(handle)
	if err != nil {
		return nil, err
	}
	return s.TypeProcessors[location.TypeID].GetDescription(s.typeBatchAt(location), location.IndexInTypeBatch), nil
}

// ApplyDescription overwrites the description of a constraint. The type of
// a constraint cannot change.
func (s *Solver) ApplyDescription(handle ConstraintHandle, description ConstraintDescription) error {
	location, err := s.Location(handle)
	if err != nil {
		return err
	}
	if description.ConstraintTypeID() != location.TypeID {
		return fmt.Errorf("%w: constraint %d has type %d, description has type %d",
			ErrTypeMismatch, handle, location.TypeID, description.ConstraintTypeID())
	}
	s.TypeProcessors[location.TypeID].ApplyDescription(s.typeBatchAt(location), location.IndexInTypeBatch, description)
	return nil
}

// EnumerateConnectedBodies calls visitor with the index of every body the
// constraint connects, in constraint order.
func (s *Solver) EnumerateConnectedBodies(handle ConstraintHandle, visitor BodyVisitor) error {
	location, err := s.Location(handle)
	if err != nil {
		return err
	}
	s.TypeProcessors[location.TypeID].EnumerateConnectedBodyIndices(s.typeBatchAt(location), location.IndexInTypeBatch, visitor)
	return nil
}

// ConnectedBodyHandles returns the handles of the bodies the constraint
// connects.
func (s *Solver) ConnectedBodyHandles(handle ConstraintHandle) ([]BodyHandle, error) {
	location, err := s.Location(handle)
	if err != nil {
		return nil, err
	}
	collector := bodyHandleCollector{bodies: s.Bodies}
	s.TypeProcessors[location.TypeID].EnumerateConnectedBodyIndices(s.typeBatchAt(location), location.IndexInTypeBatch, &collector)
	return append([]BodyHandle(nil), collector.handles[:collector.count]...), nil
}

// bodyHandleCollector gathers the body handles of one constraint.
type bodyHandleCollector struct {
	bodies  *Bodies
	handles [MaxBodiesPerConstraint]BodyHandle
	count   int
}

func (c *bodyHandleCollector) Visit(index BodyIndex) {
	c.handles[c.count] = c.bodies.IndexToHandle[index]
	c.count++
}

// EachConstraint calls f with every live constraint handle, active first.
func (s *Solver) EachConstraint(f func(handle ConstraintHandle)) {
	for setIndex := range s.Sets {
		set := &s.Sets[setIndex]
		if !set.allocated {
			continue
		}
		for batchIndex := range set.Batches {
			batch := &set.Batches[batchIndex]
			for t := range batch.TypeBatches {
				tb := &batch.TypeBatches[t]
				for _, handle := range tb.IndexToHandle[:tb.ConstraintCount] {
					f(handle)
				}
			}
		}
	}
}

// RemoveBody removes a body without constraints and patches the constraints
// of the body that took its index.
func (s *Solver) RemoveBody(handle BodyHandle) error {
	movedHandle, moved, err := s.Bodies.Remove(handle)
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}
	newIndex := s.Bodies.HandleToIndex[movedHandle]
	for _, ref := range s.Bodies.Constraints[newIndex] {
		location := s.HandleToConstraint[ref.ConnectingConstraintHandle]
		s.TypeProcessors[location.TypeID].UpdateBodyReference(s.typeBatchAt(location), location.IndexInTypeBatch,
			ref.BodyIndexInConstraint, newIndex)
	}
	return nil
}

// Resize fits every type batch to the larger of its count and its type's
// minimum capacity, and makes every batch's type map cover all registered
// types.
func (s *Solver) Resize() {
	capacities := s.minimumCapacities()
	for setIndex := range s.Sets {
		set := &s.Sets[setIndex]
		for i := range set.Batches {
			set.Batches[i].Resize(s.TypeProcessors, capacities, len(s.TypeProcessors), s.pool)
		}
	}
	s.logger.Debug("solver resized", "types", len(s.TypeProcessors))
}

// Clear removes every constraint. Registered types and bodies stay.
func (s *Solver) Clear() {
	s.disposeBatches()
	clear(s.HandleToConstraint)
	s.HandleToConstraint = s.HandleToConstraint[:0]
	s.handlePool.Clear()
	s.Bodies.clearConstraints()
	s.logger.Debug("solver cleared")
}

func (s *Solver) disposeBatches() {
	for i := range s.Sets[0].Batches {
		s.Sets[0].Batches[i].Dispose(s.TypeProcessors, s.pool)
		s.batchReferencedHandles[i].Dispose(s.pool)
	}
	clear(s.Sets[0].Batches)
	s.Sets[0].Batches = s.Sets[0].Batches[:0]
	clear(s.batchReferencedHandles)
	s.batchReferencedHandles = s.batchReferencedHandles[:0]
	for setIndex := 1; setIndex < len(s.Sets); setIndex++ {
		if s.Sets[setIndex].allocated {
			s.disposeSet(setIndex)
		}
	}
	s.Sets = s.Sets[:1]
}

// Dispose returns all batch storage to the pool. The solver must not be
// used afterwards.
func (s *Solver) Dispose() {
	s.disposeBatches()
	s.Sets = nil
	s.HandleToConstraint = nil
	s.batchReferencedHandles = nil
	s.logger.Debug("solver disposed")
}

// Stats is a snapshot of the solver's storage.
type Stats struct {
	ActiveBatches     int
	InactiveSets      int
	TypeBatches       int
	Constraints       int
	ActiveConstraints int
	Pool              pool.Stats
}

// Stats counts batches and constraints.
func (s *Solver) Stats() Stats {
	stats := Stats{ActiveBatches: len(s.Sets[0].Batches), Pool: s.pool.Stats()}
	for setIndex := range s.Sets {
		set := &s.Sets[setIndex]
		if !set.allocated {
			continue
		}
		if setIndex > 0 {
			stats.InactiveSets++
		}
		for i := range set.Batches {
			stats.TypeBatches += len(set.Batches[i].TypeBatches)
			count := set.Batches[i].ConstraintCount()
			stats.Constraints += count
			if setIndex == 0 {
				stats.ActiveConstraints += count
			}
		}
	}
	return stats
}

// ValidateConsistency cross-checks batches, handle locations, occupancy sets
// and body constraint lists.
func (s *Solver) ValidateConsistency() error {
	if len(s.batchReferencedHandles) != len(s.Sets[0].Batches) {
		return fmt.Errorf("%w: %d occupancy sets for %d active batches",
			ErrInconsistent, len(s.batchReferencedHandles), len(s.Sets[0].Batches))
	}
	liveConstraints := 0
	bodyReferences := 0
	for setIndex := range s.Sets {
		set := &s.Sets[setIndex]
		if !set.allocated {
			continue
		}
		for batchIndex := range set.Batches {
			batch := &set.Batches[batchIndex]
			if err := batch.ValidateTypeBatchMappings(); err != nil {
				return fmt.Errorf("set %d batch %d: %w", setIndex, batchIndex, err)
			}
			claimed := 0
			for t := range batch.TypeBatches {
				tb := &batch.TypeBatches[t]
				if tb.ConstraintCount == 0 {
					return fmt.Errorf("%w: set %d batch %d keeps an empty type batch of type %d",
						ErrInconsistent, setIndex, batchIndex, tb.TypeID)
				}
				processor := s.TypeProcessors[tb.TypeID]
				for i := range tb.ConstraintCount {
					handle := tb.IndexToHandle[i]
					want := ConstraintLocation{SetIndex: setIndex, BatchIndex: batchIndex, TypeID: tb.TypeID, IndexInTypeBatch: i}
					if int(handle) >= len(s.HandleToConstraint) || s.HandleToConstraint[handle] != want {
						return fmt.Errorf("%w: constraint %d found at %+v", ErrInconsistent, handle, want)
					}
					if err := s.validateConstraintBodies(setIndex, batchIndex, processor, tb, i); err != nil {
						return err
					}
					claimed += processor.BodiesPerConstraint()
				}
				liveConstraints += tb.ConstraintCount
			}
			if setIndex == 0 {
				if count := s.batchReferencedHandles[batchIndex].Count(); count != claimed {
					return fmt.Errorf("%w: active batch %d claims %d bodies, constraints reference %d",
						ErrInconsistent, batchIndex, count, claimed)
				}
			}
			bodyReferences += claimed
		}
	}
	handles := 0
	for _, location := range s.HandleToConstraint {
		if location.SetIndex >= 0 {
			handles++
		}
	}
	if handles != liveConstraints {
		return fmt.Errorf("%w: %d live handles for %d stored constraints", ErrInconsistent, handles, liveConstraints)
	}
	listed := 0
	for _, refs := range s.Bodies.Constraints {
		listed += len(refs)
	}
	if listed != bodyReferences {
		return fmt.Errorf("%w: bodies list %d constraint connections, constraints hold %d",
			ErrInconsistent, listed, bodyReferences)
	}
	return nil
}

func (s *Solver) validateConstraintBodies(setIndex, batchIndex int, processor TypeProcessor, tb *TypeBatch, index int) error {
	handle := tb.IndexToHandle[index]
	var err error
	slot := 0
	processor.EnumerateConnectedBodyIndices(tb, index, BodyVisitorFunc(func(bodyIndex BodyIndex) {
		defer func() { slot++ }()
		if err != nil {
			return
		}
		if bodyIndex < 0 || int(bodyIndex) >= s.Bodies.Count() {
			err = fmt.Errorf("%w: constraint %d references body index %d", ErrInconsistent, handle, bodyIndex)
			return
		}
		if setIndex == 0 && !s.batchReferencedHandles[batchIndex].Contains(s.Bodies.IndexToHandle[bodyIndex]) {
			err = fmt.Errorf("%w: body %d of constraint %d is not claimed in batch %d",
				ErrInconsistent, s.Bodies.IndexToHandle[bodyIndex], handle, batchIndex)
			return
		}
		want := BodyConstraintReference{ConnectingConstraintHandle: handle, BodyIndexInConstraint: slot}
		for _, ref := range s.Bodies.Constraints[bodyIndex] {
			if ref == want {
				return
			}
		}
		err = fmt.Errorf("%w: body index %d does not list constraint %d", ErrInconsistent, bodyIndex, handle)
	}))
	return err
}
