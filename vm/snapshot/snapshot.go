// Package snapshot encodes point-in-time descriptions of a VM's actors as
// CBOR so that external inspectors (debug services, dashboards, the avm
// command) can consume them without linking against the runtime.
package snapshot

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/yakiro-nvg/avm-sub000/vm"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Actor is the wire form of vm.ActorInfo.
type Actor struct {
	PID        uint64 `cbor:"1,keyasint"`
	Index      uint32 `cbor:"2,keyasint"`
	Generation uint32 `cbor:"3,keyasint"`
	Scheduler  int    `cbor:"4,keyasint"`
	State      string `cbor:"5,keyasint"`
	Status     string `cbor:"6,keyasint,omitempty"`
	Killed     bool   `cbor:"7,keyasint,omitempty"`
	StackDepth int    `cbor:"8,keyasint"`
	Top        string `cbor:"9,keyasint,omitempty"` // rendered top of stack
	Mailbox    int    `cbor:"10,keyasint"`
	Unread     int    `cbor:"11,keyasint"`
	Load       int    `cbor:"12,keyasint"`
	HeapUsed   int    `cbor:"13,keyasint"`
	HeapCap    int    `cbor:"14,keyasint"`
	GCs        int    `cbor:"15,keyasint"`
	Spawned    int64  `cbor:"16,keyasint"` // unix nanoseconds
}

// Snapshot is everything an inspector sees at one instant.
type Snapshot struct {
	VM          [16]byte `cbor:"1,keyasint"`
	Taken       int64    `cbor:"2,keyasint"` // unix nanoseconds
	Schedulers  int      `cbor:"3,keyasint"`
	DeadLetters int64    `cbor:"4,keyasint"`
	Actors      []Actor  `cbor:"5,keyasint,omitempty"`
}

// FromInfo converts a runtime record to its wire form.
func FromInfo(info vm.ActorInfo) Actor {
	a := Actor{
		PID:        uint64(info.PID),
		Index:      info.Index,
		Generation: info.Generation,
		Scheduler:  info.Scheduler,
		State:      info.State.String(),
		Killed:     info.Killed,
		StackDepth: info.StackDepth,
		Top:        info.Top,
		Mailbox:    info.Mailbox,
		Unread:     info.Unread,
		Load:       info.Load,
		HeapUsed:   info.HeapUsed,
		HeapCap:    info.HeapCap,
		GCs:        info.Collections,
		Spawned:    info.Spawned.UnixNano(),
	}
	if info.Status != vm.CodeNone {
		a.Status = info.Status.String()
	}
	return a
}

// Take captures the current state of v. Like vm.VM.Inspect it must not
// race with VM.Run.
func Take(v *vm.VM) *Snapshot {
	s := &Snapshot{
		VM:          v.ID,
		Taken:       time.Now().UnixNano(),
		Schedulers:  len(v.Schedulers()),
		DeadLetters: v.DeadLetters(),
	}
	for _, info := range v.Inspect() {
		s.Actors = append(s.Actors, FromInfo(info))
	}
	return s
}

// ID returns the VM identifier of the snapshot.
func (s *Snapshot) ID() uuid.UUID { return uuid.UUID(s.VM) }

// Marshal serializes a Snapshot to CBOR bytes.
func Marshal(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// Unmarshal deserializes a Snapshot from CBOR bytes.
func Unmarshal(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal: %w", err)
	}
	return &s, nil
}

// MarshalActor serializes a single actor record, as sent when an actor
// exits.
func MarshalActor(a *Actor) ([]byte, error) {
	return cborEncMode.Marshal(a)
}

// UnmarshalActor deserializes a single actor record.
func UnmarshalActor(data []byte) (*Actor, error) {
	var a Actor
	if err := cbor.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal actor: %w", err)
	}
	return &a, nil
}
