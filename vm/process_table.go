package vm

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// PID: (index, generation) packed into one integer
// ---------------------------------------------------------------------------

// PID identifies an actor: generation<<idxBits | index.
type PID uint64

// PIDLayout fixes the bit widths of a PID for the life of a VM.
type PIDLayout struct {
	IdxBits uint
	GenBits uint
}

// Encode packs index and generation. Out-of-range inputs are masked.
func (l PIDLayout) Encode(index, gen uint32) PID {
	idx := uint64(index) & mask(l.IdxBits)
	g := uint64(gen) & mask(l.GenBits)
	return PID(g<<l.IdxBits | idx)
}

// Decode splits a PID into index and generation.
func (l PIDLayout) Decode(p PID) (index, gen uint32) {
	return uint32(uint64(p) & mask(l.IdxBits)), uint32((uint64(p) >> l.IdxBits) & mask(l.GenBits))
}

func mask(bits uint) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return 1<<bits - 1
}

// ---------------------------------------------------------------------------
// ProcessTable: slot arena shared by every scheduler of a VM
// ---------------------------------------------------------------------------

type procSlot struct {
	gen   uint32
	used  bool
	actor *Actor
	owner *Scheduler
}

// ProcessTable maps PIDs to actors. A slot's generation is bumped every time
// it is freed, so PIDs of dead actors never resolve again.
type ProcessTable struct {
	layout PIDLayout
	limit  int

	mu    sync.RWMutex
	slots []procSlot
	free  []uint32

	live atomic.Int32
}

// NewProcessTable creates a table with 1<<layout.IdxBits slots.
func NewProcessTable(layout PIDLayout) *ProcessTable {
	return &ProcessTable{layout: layout, limit: 1 << layout.IdxBits}
}

// Layout returns the PID layout.
func (pt *ProcessTable) Layout() PIDLayout { return pt.layout }

// Capacity returns the number of slots.
func (pt *ProcessTable) Capacity() int { return pt.limit }

// Live returns the number of allocated slots.
func (pt *ProcessTable) Live() int { return int(pt.live.Load()) }

// allocate reserves a slot for an actor owned by s. Freed slots are reused
// most recent first.
func (pt *ProcessTable) allocate(s *Scheduler) (PID, error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	var idx uint32
	switch {
	case len(pt.free) > 0:
		idx = pt.free[len(pt.free)-1]
		pt.free = pt.free[:len(pt.free)-1]
	case len(pt.slots) < pt.limit:
		idx = uint32(len(pt.slots))
		pt.slots = append(pt.slots, procSlot{})
	default:
		return 0, newError(CodeFull, "process table exhausted (%d slots)", pt.limit)
	}
	sl := &pt.slots[idx]
	sl.used = true
	sl.owner = s
	sl.actor = nil
	pt.live.Add(1)
	return pt.layout.Encode(idx, sl.gen), nil
}

// attach publishes the actor for an allocated pid.
func (pt *ProcessTable) attach(pid PID, a *Actor) {
	idx, _ := pt.layout.Decode(pid)
	pt.mu.Lock()
	pt.slots[idx].actor = a
	pt.mu.Unlock()
}

func (pt *ProcessTable) slot(pid PID) (*procSlot, bool) {
	idx, gen := pt.layout.Decode(pid)
	if int(idx) >= len(pt.slots) {
		return nil, false
	}
	sl := &pt.slots[idx]
	if !sl.used || sl.gen != gen {
		return nil, false
	}
	return sl, true
}

// Lookup resolves a pid. Stale and unknown pids report false.
func (pt *ProcessTable) Lookup(pid PID) (*Actor, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	sl, ok := pt.slot(pid)
	if !ok || sl.actor == nil {
		return nil, false
	}
	return sl.actor, true
}

// Owner returns the scheduler that owns pid.
func (pt *ProcessTable) Owner(pid PID) (*Scheduler, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	sl, ok := pt.slot(pid)
	if !ok {
		return nil, false
	}
	return sl.owner, true
}

// release frees the slot of pid and bumps its generation.
func (pt *ProcessTable) release(pid PID) error {
	return pt.vacate(pid, true)
}

// abandon frees a slot that was allocated but never held a running actor.
// No pid of it was ever handed out, so the generation stays.
func (pt *ProcessTable) abandon(pid PID) {
	_ = pt.vacate(pid, false)
}

func (pt *ProcessTable) vacate(pid PID, bump bool) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	sl, ok := pt.slot(pid)
	if !ok {
		return fmt.Errorf("release of unknown pid %d", pid)
	}
	idx, _ := pt.layout.Decode(pid)
	sl.used = false
	sl.actor = nil
	sl.owner = nil
	if bump {
		sl.gen = uint32((uint64(sl.gen) + 1) & mask(pt.layout.GenBits))
	}
	pt.free = append(pt.free, idx)
	pt.live.Add(-1)
	return nil
}
