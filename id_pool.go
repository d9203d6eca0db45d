package cmbatch

// IdPool hands out small dense ids, recycling returned ones first.
type IdPool struct {
	available []int32
	next      int32
}

// Take returns a free id.
func (p *IdPool) Take() int32 {
	if n := len(p.available); n > 0 {
		id := p.available[n-1]
		p.available = p.available[:n-1]
		return id
	}
	id := p.next
	p.next++
	return id
}

// Return makes id available again.
func (p *IdPool) Return(id int32) {
	p.available = append(p.available, id)
}

// HighestPossiblyClaimedId is the largest id ever handed out, or -1.
func (p *IdPool) HighestPossiblyClaimedId() int32 {
	return p.next - 1
}

// AvailableCount returns the number of recycled ids waiting for reuse.
func (p *IdPool) AvailableCount() int {
	return len(p.available)
}

// Clear forgets every id.
func (p *IdPool) Clear() {
	p.available = p.available[:0]
	p.next = 0
}
