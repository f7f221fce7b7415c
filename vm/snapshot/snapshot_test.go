package snapshot

import (
	"bytes"
	"testing"
	"time"

	"github.com/yakiro-nvg/avm-sub000/vm"
)

func TestTakeAndRoundTrip(t *testing.T) {
	cfg := vm.DefaultConfig()
	cfg.Schedulers = 2
	v, err := vm.NewVM(cfg)
	if err != nil {
		t.Fatalf("NewVM: %v", err)
	}
	defer v.Shutdown()

	sleeper := vm.Native(func(a *vm.Actor) error {
		if err := a.PushString("napping"); err != nil {
			return err
		}
		a.Sleep(time.Hour)
		return nil
	})
	for i := 0; i < 2; i++ {
		if _, err := v.Spawn(sleeper, nil, 1024); err != nil {
			t.Fatalf("Spawn: %v", err)
		}
	}
	for _, s := range v.Schedulers() {
		s.Step()
	}

	snap := Take(v)
	if len(snap.Actors) != 2 {
		t.Fatalf("snapshot has %d actors, want 2", len(snap.Actors))
	}
	if snap.ID() != v.ID {
		t.Errorf("ID = %s, want %s", snap.ID(), v.ID)
	}

	data, err := Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Schedulers != 2 || len(got.Actors) != 2 {
		t.Fatalf("decoded %+v", got)
	}
	for i, a := range got.Actors {
		if a != snap.Actors[i] {
			t.Errorf("actor %d: got %+v, want %+v", i, a, snap.Actors[i])
		}
		if a.State != "suspended" || a.Top != "napping" {
			t.Errorf("actor %d: state %q top %q", i, a.State, a.Top)
		}
	}
	if got.Actors[0].Scheduler == got.Actors[1].Scheduler {
		t.Error("actors should be spread over both schedulers")
	}
}

func TestMarshalIsCanonical(t *testing.T) {
	a := &Actor{PID: 65537, Index: 1, Generation: 1, State: "exited", Status: "runtime", Top: "boom"}
	first, err := MarshalActor(a)
	if err != nil {
		t.Fatalf("MarshalActor: %v", err)
	}
	second, _ := MarshalActor(a)
	if !bytes.Equal(first, second) {
		t.Error("encoding is not deterministic")
	}
	got, err := UnmarshalActor(first)
	if err != nil {
		t.Fatalf("UnmarshalActor: %v", err)
	}
	if *got != *a {
		t.Errorf("got %+v, want %+v", got, a)
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte{0xff, 0x00, 0x13}); err == nil {
		t.Error("expected an error for malformed input")
	}
}

func TestFromInfoOmitsNoneStatus(t *testing.T) {
	a := FromInfo(vm.ActorInfo{State: vm.ActorRunning, Status: vm.CodeNone})
	if a.Status != "" || a.State != "running" {
		t.Errorf("got %+v", a)
	}
	a = FromInfo(vm.ActorInfo{State: vm.ActorExited, Status: vm.CodeTimeout})
	if a.Status != "timeout" {
		t.Errorf("status = %q", a.Status)
	}
}
