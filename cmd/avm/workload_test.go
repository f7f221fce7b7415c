package main

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yakiro-nvg/avm-sub000/journal"
	"github.com/yakiro-nvg/avm-sub000/vm"
	"github.com/yakiro-nvg/avm-sub000/vm/snapshot"
)

func TestWorkloadAcrossSchedulers(t *testing.T) {
	cfg := vm.DefaultConfig()
	cfg.Schedulers = 3
	cfg.QueueCapacity = 4
	cfg.Reductions = 50

	w := newWorkload(5, 200)
	report, snap, err := run(cfg, w, nil, 10*time.Second)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !report.OK() {
		t.Fatalf("report: %s", report)
	}
	if want := int64(5 * 199 * 200 / 2); report.Sum != want {
		t.Errorf("sum = %d, want %d", report.Sum, want)
	}
	if len(snap.Actors) != 6 {
		t.Errorf("snapshot holds %d actors, want 6", len(snap.Actors))
	}
	if snap.Schedulers != 3 {
		t.Errorf("snapshot schedulers = %d", snap.Schedulers)
	}
}

func TestWorkloadJournal(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "exits.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	cfg := vm.DefaultConfig()
	cfg.Schedulers = 2
	_, snap, err := run(cfg, newWorkload(2, 10), j, 10*time.Second)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	entries, err := j.Run(snap.ID())
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("journal holds %d exits, want 3", len(entries))
	}

	var buf bytes.Buffer
	if err := printHistory(&buf, j, 10); err != nil {
		t.Fatalf("printHistory: %v", err)
	}
	if strings.Count(buf.String(), snap.ID().String()) != 3 {
		t.Errorf("history:\n%s", buf.String())
	}
}

func TestWriteSnapshotHex(t *testing.T) {
	snap := &snapshot.Snapshot{Schedulers: 2, Actors: []snapshot.Actor{{PID: 9, State: "suspended"}}}
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatal(err)
	}
	if err := writeSnapshot(f, snap, "hex"); err != nil {
		t.Fatalf("writeSnapshot: %v", err)
	}
	f.Close()

	data, _ := os.ReadFile(f.Name())
	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("decode hex: %v", err)
	}
	got, err := snapshot.Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got.Actors) != 1 || got.Actors[0].PID != 9 {
		t.Errorf("snapshot = %+v", got)
	}
	if err := writeSnapshot(f, snap, "xml"); err == nil {
		t.Error("unknown format accepted")
	}
}

func TestPrintSnapshot(t *testing.T) {
	var buf bytes.Buffer
	snap := &snapshot.Snapshot{Schedulers: 1, Actors: []snapshot.Actor{{PID: 3, State: "suspended", Mailbox: 4, Unread: 2}}}
	if err := printSnapshot(&buf, snap); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "2/4") {
		t.Errorf("table:\n%s", buf.String())
	}
}
