package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yakiro-nvg/avm-sub000/vm"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "state", "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := openTemp(t)
	run := uuid.New()
	spawned := time.Unix(1700000000, 0)

	for i := 0; i < 3; i++ {
		info := vm.ActorInfo{
			PID:        vm.PID(i + 1),
			Index:      uint32(i + 1),
			Scheduler:  i % 2,
			State:      vm.ActorDead,
			StackDepth: 1,
			Top:        "nil",
			Spawned:    spawned,
		}
		if i == 2 {
			info.Status = vm.CodeRuntime
			info.Top = "boom"
		}
		if err := j.Record(run, info); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	recent, err := j.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent(2) returned %d entries", len(recent))
	}
	if recent[0].Actor.PID != 3 || recent[1].Actor.PID != 2 {
		t.Errorf("order = %d, %d; want newest first", recent[0].Actor.PID, recent[1].Actor.PID)
	}
	if recent[0].VM != run {
		t.Errorf("vm = %s, want %s", recent[0].VM, run)
	}
	if recent[0].Actor.Status != "runtime" || recent[0].Actor.Top != "boom" {
		t.Errorf("failed actor = %+v", recent[0].Actor)
	}
	if recent[0].Actor.Spawned != spawned.UnixNano() {
		t.Errorf("spawned = %d, want %d", recent[0].Actor.Spawned, spawned.UnixNano())
	}

	n, err := j.Failures(run)
	if err != nil {
		t.Fatalf("Failures: %v", err)
	}
	if n != 1 {
		t.Errorf("failures = %d, want 1", n)
	}
}

func TestRunFiltersByVM(t *testing.T) {
	j := openTemp(t)
	a, b := uuid.New(), uuid.New()
	j.Record(a, vm.ActorInfo{PID: 1})
	j.Record(b, vm.ActorInfo{PID: 2})
	j.Record(a, vm.ActorInfo{PID: 3})

	entries, err := j.Run(a)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(entries) != 2 || entries[0].Actor.PID != 1 || entries[1].Actor.PID != 3 {
		t.Errorf("entries for a = %+v", entries)
	}
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	j.Record(uuid.New(), vm.ActorInfo{PID: 42})
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	j, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j.Close()
	recent, err := j.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Actor.PID != 42 {
		t.Errorf("entries after reopen = %+v", recent)
	}
}

func TestClosedJournal(t *testing.T) {
	j := openTemp(t)
	j.Close()
	if err := j.Record(uuid.New(), vm.ActorInfo{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Record after Close: got %v, want ErrClosed", err)
	}
	if _, err := j.Recent(1); !errors.Is(err, ErrClosed) {
		t.Errorf("Recent after Close: got %v, want ErrClosed", err)
	}
}

func TestHookRecordsExits(t *testing.T) {
	j := openTemp(t)
	cfg := vm.DefaultConfig()
	cfg.Schedulers = 2
	v, err := vm.NewVM(cfg, vm.WithHooks(vm.Hooks{OnExit: j.Hook}))
	if err != nil {
		t.Fatalf("NewVM: %v", err)
	}

	ok := vm.Native(func(a *vm.Actor) error { return nil })
	bad := vm.Native(func(a *vm.Actor) error { return a.Errorf("bad input %d", 7) })
	for _, f := range []vm.Value{ok, ok, bad} {
		if _, err := v.Spawn(f, nil, 1024); err != nil {
			t.Fatalf("Spawn: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := v.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries, err := j.Run(v.ID)
	if err != nil {
		t.Fatalf("Run entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("recorded %d exits, want 3", len(entries))
	}
	n, _ := j.Failures(v.ID)
	if n != 1 {
		t.Errorf("failures = %d, want 1", n)
	}
	for _, e := range entries {
		if e.Actor.Status == "runtime" && e.Actor.Top != "bad input 7" {
			t.Errorf("failed actor payload = %q", e.Actor.Top)
		}
	}
}
