package vm

import (
	"errors"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// PID and process table tests
// ---------------------------------------------------------------------------

func TestPIDRoundTrip(t *testing.T) {
	layouts := []PIDLayout{{IdxBits: 16, GenBits: 16}, {IdxBits: 4, GenBits: 3}, {IdxBits: 31, GenBits: 33}}
	for _, l := range layouts {
		maxIdx := uint32(mask(l.IdxBits))
		maxGen := uint32(mask(l.GenBits))
		for _, idx := range []uint32{0, 1, maxIdx / 2, maxIdx} {
			for _, gen := range []uint32{0, 1, maxGen / 2, maxGen} {
				p := l.Encode(idx, gen)
				gi, gg := l.Decode(p)
				if gi != idx || gg != gen {
					t.Errorf("layout %+v: (%d, %d) -> %d -> (%d, %d)", l, idx, gen, p, gi, gg)
				}
				if uint64(p) != uint64(gen)<<l.IdxBits|uint64(idx) {
					t.Errorf("layout %+v: pid %d is not gen<<idx|idx", l, p)
				}
			}
		}
	}
}

func TestProcessTableGenerationWraps(t *testing.T) {
	pt := NewProcessTable(PIDLayout{IdxBits: 1, GenBits: 2})
	var gens []uint32
	for i := 0; i < 5; i++ {
		pid, err := pt.allocate(nil)
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		idx, gen := pt.layout.Decode(pid)
		if idx != 0 {
			t.Fatalf("freed slot not reused: index %d", idx)
		}
		gens = append(gens, gen)
		if err := pt.release(pid); err != nil {
			t.Fatalf("release: %v", err)
		}
	}
	want := []uint32{0, 1, 2, 3, 0}
	for i := range want {
		if gens[i] != want[i] {
			t.Fatalf("generations %v, want %v", gens, want)
		}
	}
}

func TestProcessTableExhaustion(t *testing.T) {
	pt := NewProcessTable(PIDLayout{IdxBits: 2, GenBits: 8})
	for i := 0; i < 4; i++ {
		if _, err := pt.allocate(nil); err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
	}
	if _, err := pt.allocate(nil); !errors.Is(err, ErrFull) {
		t.Fatalf("allocate past capacity: got %v, want ErrFull", err)
	}
	if pt.Live() != 4 {
		t.Errorf("live = %d, want 4", pt.Live())
	}
}

func TestDeadActorSlotReuse(t *testing.T) {
	v := newTestVM(t, nil)
	quick := Native(func(a *Actor) error { return nil })

	old, err := v.Spawn(quick, nil, 1024)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	drain(t, v)

	if _, ok := v.procs.Lookup(old); ok {
		t.Fatal("pid of a reclaimed actor still resolves")
	}
	fresh, err := v.Spawn(Native(func(a *Actor) error {
		a.Sleep(time.Hour)
		return nil
	}), nil, 1024)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	oi, og := v.procs.layout.Decode(old)
	fi, fg := v.procs.layout.Decode(fresh)
	if fi != oi || fg != og+1 {
		t.Errorf("reused slot: old (%d, %d), new (%d, %d)", oi, og, fi, fg)
	}
	if _, ok := v.procs.Lookup(old); ok {
		t.Error("stale pid resolves to the new actor")
	}
	if a, ok := v.procs.Lookup(fresh); !ok || a.PID() != fresh {
		t.Error("new pid does not resolve")
	}
}

func TestAbandonKeepsGeneration(t *testing.T) {
	pt := NewProcessTable(PIDLayout{IdxBits: 1, GenBits: 4})
	pid, _ := pt.allocate(nil)
	pt.abandon(pid)
	again, err := pt.allocate(nil)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if again != pid {
		t.Errorf("pid after abandon = %d, want %d", again, pid)
	}
	if pt.Live() != 1 {
		t.Errorf("live = %d, want 1", pt.Live())
	}
}

func TestFailedSpawnLeavesGenerationAlone(t *testing.T) {
	v := newTestVM(t, nil)
	quick := Native(func(a *Actor) error { return nil })

	var old []PID
	for i := 0; i < 2; i++ {
		pid, err := v.Spawn(quick, nil, 1024)
		if err != nil {
			t.Fatalf("Spawn: %v", err)
		}
		old = append(old, pid)
	}
	drain(t, v)

	if _, err := v.Spawn(quick, nil, 0); !errors.Is(err, ErrFull) {
		t.Fatalf("Spawn with stack 0: got %v, want ErrFull", err)
	}
	fresh, err := v.Spawn(Native(func(a *Actor) error {
		a.Sleep(time.Hour)
		return nil
	}), nil, 1024)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	fi, fg := v.procs.layout.Decode(fresh)
	reused := false
	for _, pid := range old {
		oi, og := v.procs.layout.Decode(pid)
		if oi != fi {
			continue
		}
		reused = true
		if fg != og+1 {
			t.Errorf("slot %d reused with generation %d, want %d", fi, fg, og+1)
		}
	}
	if !reused {
		t.Errorf("index %d is not one of the freed slots", fi)
	}
	if v.procs.Live() != 1 {
		t.Errorf("live = %d, want 1", v.procs.Live())
	}
}
