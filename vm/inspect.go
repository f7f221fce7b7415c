package vm

import "time"

// ActorInfo is a point-in-time description of an actor for inspectors.
type ActorInfo struct {
	PID        PID
	Index      uint32
	Generation uint32
	Scheduler  int

	State  ActorState
	Status ErrorCode
	Killed bool

	StackDepth int
	Top        string // rendering of the top stack value

	Mailbox int // stored messages
	Unread  int
	Load    int

	HeapUsed    int
	HeapCap     int
	Collections int

	Spawned time.Time
}

// Info describes a. For an exited actor Top is its final payload.
func (a *Actor) Info() ActorInfo {
	idx, gen := a.vm.procs.layout.Decode(a.pid)
	info := ActorInfo{
		PID:         a.pid,
		Index:       idx,
		Generation:  gen,
		Scheduler:   a.sched.id,
		State:       a.state,
		Status:      a.status,
		Killed:      a.killed,
		StackDepth:  a.stack.Len(),
		Mailbox:     a.mailbox.Len(),
		Unread:      a.mailbox.Unread(),
		Load:        a.mailbox.Load(),
		HeapUsed:    a.heap.Used(),
		HeapCap:     a.heap.Cap(),
		Collections: a.heap.Stats().Collections,
		Spawned:     a.spawned,
	}
	if a.stack.Len() > 0 {
		info.Top = a.Format(a.stack.Top())
	}
	return info
}

// Inspect describes the scheduler's actors. It must be called between
// passes, never concurrently with RunOnce.
func (s *Scheduler) Inspect() []ActorInfo {
	s.mu.Lock()
	actors := append(append([]*Actor(nil), s.actors...), s.newborns...)
	s.mu.Unlock()

	infos := make([]ActorInfo, 0, len(actors))
	for _, a := range actors {
		infos = append(infos, a.Info())
	}
	return infos
}
