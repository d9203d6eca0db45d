package cmbatch

import "fmt"

// Sleep moves the given active constraints into a new inactive set and
// returns its index. Each constraint keeps its batch index, so the inactive
// batches inherit the body disjointness of the active ones. Handles stay
// valid.
func (s *Solver) Sleep(handles []ConstraintHandle) (int, error) {
	if len(handles) == 0 {
		return 0, fmt.Errorf("%w: no constraints given", ErrInvalidConstraintHandle)
	}
	for i, handle := range handles {
		location, err := s.Location(handle)
		if err != nil {
			return 0, err
		}
		if location.SetIndex != 0 {
			return 0, fmt.Errorf("%w: constraint %d sleeps in set %d", ErrNotActive, handle, location.SetIndex)
		}
		for _, previous := range handles[:i] {
			if previous == handle {
				return 0, fmt.Errorf("%w: constraint %d listed twice", ErrInvalidConstraintHandle, handle)
			}
		}
	}

	setIndex := s.allocateSet()
	set := &s.Sets[setIndex]
	active := &s.Sets[0]
	for _, handle := range handles {
		location := s.HandleToConstraint[handle]
		for len(set.Batches) <= location.BatchIndex {
			set.Batches = append(set.Batches, NewConstraintBatch(s.pool, s.typeCountEstimate()))
		}
		processor := s.TypeProcessors[location.TypeID]
		source := active.Batches[location.BatchIndex].GetTypeBatch(location.TypeID)
		collector := bodyHandleCollector{bodies: s.Bodies}
		processor.EnumerateConnectedBodyIndices(source, location.IndexInTypeBatch, &collector)

		ref := set.Batches[location.BatchIndex].Allocate(handle, collector.handles[:collector.count], nil,
			s.Bodies, location.TypeID, processor, s.MinimumCapacityForType(location.TypeID), s.pool)
		processor.CopyConstraint(source, location.IndexInTypeBatch, ref.TypeBatch, ref.IndexInTypeBatch)
		active.Batches[location.BatchIndex].RemoveWithHandles(location.TypeID, location.IndexInTypeBatch,
			&s.batchReferencedHandles[location.BatchIndex], s.Bodies, processor, s.HandleToConstraint, s.pool)
		s.HandleToConstraint[handle] = ConstraintLocation{
			SetIndex:         setIndex,
			BatchIndex:       location.BatchIndex,
			TypeID:           location.TypeID,
			IndexInTypeBatch: ref.IndexInTypeBatch,
		}
	}
	s.trimActiveBatches()
	s.logger.Debug("constraints put to sleep", "set", setIndex, "constraints", len(handles), "batches", len(set.Batches))
	return setIndex, nil
}

// Awaken moves every constraint of an inactive set back into the active set
// and frees the set. Constraints are placed by the same first fit search Add
// uses; descriptions and accumulated impulses are preserved.
func (s *Solver) Awaken(setIndex int) error {
	if setIndex <= 0 || setIndex >= len(s.Sets) || !s.Sets[setIndex].allocated {
		return fmt.Errorf("%w: %d", ErrInvalidSet, setIndex)
	}
	set := &s.Sets[setIndex]
	moved := 0
	for batchIndex := range set.Batches {
		batch := &set.Batches[batchIndex]
		for t := range batch.TypeBatches {
			source := &batch.TypeBatches[t]
			processor := s.TypeProcessors[source.TypeID]
			for i := range source.ConstraintCount {
				handle := source.IndexToHandle[i]
				collector := bodyHandleCollector{bodies: s.Bodies}
				processor.EnumerateConnectedBodyIndices(source, i, &collector)
				bodyHandles := collector.handles[:collector.count]

				target := s.findActiveBatch(bodyHandles)
				ref := s.Sets[0].Batches[target].Allocate(handle, bodyHandles, &s.batchReferencedHandles[target],
					s.Bodies, source.TypeID, processor, s.MinimumCapacityForType(source.TypeID), s.pool)
				processor.CopyConstraint(source, i, ref.TypeBatch, ref.IndexInTypeBatch)
				s.HandleToConstraint[handle] = ConstraintLocation{
					SetIndex:         0,
					BatchIndex:       target,
					TypeID:           source.TypeID,
					IndexInTypeBatch: ref.IndexInTypeBatch,
				}
				moved++
			}
		}
	}
	s.disposeSet(setIndex)
	s.logger.Debug("constraint set awakened", "set", setIndex, "constraints", moved)
	return nil
}

// allocateSet returns a free inactive set slot.
func (s *Solver) allocateSet() int {
	for setIndex := 1; setIndex < len(s.Sets); setIndex++ {
		if !s.Sets[setIndex].allocated {
			s.Sets[setIndex].allocated = true
			return setIndex
		}
	}
	s.Sets = append(s.Sets, ConstraintSet{allocated: true})
	return len(s.Sets) - 1
}

// disposeSet returns the storage of an inactive set and frees the slot.
func (s *Solver) disposeSet(setIndex int) {
	set := &s.Sets[setIndex]
	for i := range set.Batches {
		set.Batches[i].Dispose(s.TypeProcessors, s.pool)
	}
	s.releaseSet(setIndex)
}

func (s *Solver) releaseSet(setIndex int) {
	s.Sets[setIndex] = ConstraintSet{}
	for n := len(s.Sets); n > 1 && !s.Sets[n-1].allocated; n-- {
		s.Sets = s.Sets[:n-1]
	}
}
