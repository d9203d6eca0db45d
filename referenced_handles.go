package cmbatch

import (
	"fmt"
	"math/bits"

	"github.com/setanarut/cmbatch/utils/pool"
)

// ReferencedHandles is the set of body handles claimed by constraints of one
// active batch. The solver keeps one per active batch; inactive batches have
// none.
type ReferencedHandles struct {
	words []uint64
}

// NewReferencedHandles creates a set able to hold handles below
// initialHandleCapacity without growing.
func NewReferencedHandles(p *pool.Pool, initialHandleCapacity int) ReferencedHandles {
	return ReferencedHandles{words: pool.Take[uint64](p, wordCount(initialHandleCapacity))}
}

func wordCount(handleCapacity int) int {
	return (handleCapacity + 63) >> 6
}

// Contains reports whether handle is claimed.
func (h *ReferencedHandles) Contains(handle BodyHandle) bool {
	word := int(handle) >> 6
	if word >= len(h.words) {
		return false
	}
	return h.words[word]&(1<<(uint(handle)&63)) != 0
}

// CanFit reports whether none of handles is claimed.
func (h *ReferencedHandles) CanFit(handles []BodyHandle) bool {
	for _, handle := range handles {
		if h.Contains(handle) {
			return false
		}
	}
	return true
}

// Add claims handle, growing the set through p when needed.
func (h *ReferencedHandles) Add(handle BodyHandle, p *pool.Pool) {
	word := int(handle) >> 6
	if word >= len(h.words) {
		h.words = pool.Resize(p, h.words, word+1, len(h.words))
	}
	if validationEnabled() && h.words[word]&(1<<(uint(handle)&63)) != 0 {
		panic(fmt.Sprintf("cmbatch: body handle %d is already referenced by this batch", handle))
	}
	h.words[word] |= 1 << (uint(handle) & 63)
}

// Remove releases handle.
func (h *ReferencedHandles) Remove(handle BodyHandle) {
	word := int(handle) >> 6
	if validationEnabled() && !h.Contains(handle) {
		panic(fmt.Sprintf("cmbatch: body handle %d is not referenced by this batch", handle))
	}
	if word < len(h.words) {
		h.words[word] &^= 1 << (uint(handle) & 63)
	}
}

// Count returns the number of claimed handles.
func (h *ReferencedHandles) Count() int {
	count := 0
	for _, w := range h.words {
		count += bits.OnesCount64(w)
	}
	return count
}

// Clear releases every handle and keeps the storage.
func (h *ReferencedHandles) Clear() {
	clear(h.words)
}

// Dispose returns the storage to p. The set may be reused after Add grows it
// again.
func (h *ReferencedHandles) Dispose(p *pool.Pool) {
	pool.Return(p, h.words)
	h.words = nil
}
