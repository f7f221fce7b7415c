// avm CLI - runs a producer/consumer workload on the actor VM
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/yakiro-nvg/avm-sub000/journal"
	"github.com/yakiro-nvg/avm-sub000/manifest"
	"github.com/yakiro-nvg/avm-sub000/vm"
	"github.com/yakiro-nvg/avm-sub000/vm/snapshot"
)

func main() {
	verbose := flag.Int("v", -1, "Log verbosity (overrides the manifest)")
	manifestPath := flag.String("c", "", "Manifest file (default: search for avm.toml / avm.yaml upwards)")
	schedulers := flag.Int("schedulers", 0, "Number of schedulers (overrides the manifest)")
	producers := flag.Int("producers", 0, "Number of producer actors")
	messages := flag.Int("messages", 0, "Messages sent by each producer")
	journalPath := flag.String("journal", "", "Record actor exits in this SQLite database")
	format := flag.String("format", "auto", "Snapshot output: text, cbor, hex or auto")
	timeout := flag.Duration("timeout", time.Minute, "Give up after this long")
	history := flag.Int("history", 0, "Print the last N journal entries and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: avm [options]\n\n")
		fmt.Fprintf(os.Stderr, "Spawns one consumer and a set of producers spread over the schedulers,\n")
		fmt.Fprintf(os.Stderr, "runs the VM until every actor has exited and prints a snapshot.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  avm -schedulers 4 -producers 8        # 8 producers over 4 schedulers\n")
		fmt.Fprintf(os.Stderr, "  avm -journal exits.db                 # record every exit\n")
		fmt.Fprintf(os.Stderr, "  avm -journal exits.db -history 20     # show recorded exits\n")
		fmt.Fprintf(os.Stderr, "  avm -format cbor > snapshot.cbor      # binary snapshot\n")
	}
	flag.Parse()

	m, err := loadManifest(*manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	verbosity := m.Log.Verbosity
	if *verbose >= 0 {
		verbosity = *verbose
	}
	var logFile *string
	if m.Log.File != "" {
		logFile = &m.Log.File
	}
	commonlog.Configure(verbosity, logFile)
	log := commonlog.GetLogger("avm")

	cfg, err := m.Config()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *schedulers > 0 {
		cfg.Schedulers = *schedulers
	}

	var j *journal.Journal
	if path := firstNonEmpty(*journalPath, m.JournalPath()); path != "" {
		j, err = journal.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer j.Close()
		log.Infof("journal: %s", j.Path())
	}

	if *history > 0 {
		if j == nil {
			fmt.Fprintf(os.Stderr, "Error: -history needs a journal\n")
			os.Exit(1)
		}
		if err := printHistory(os.Stdout, j, *history); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	w := newWorkload(
		firstPositive(*producers, m.Workload.Producers, cfg.Schedulers),
		firstPositive(*messages, m.Workload.Messages, 1000),
	)
	report, snap, err := run(cfg, w, j, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := writeSnapshot(os.Stdout, snap, *format); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, report)
	if !report.OK() {
		os.Exit(2)
	}
}

// run executes w on a fresh VM and returns its report together with the
// snapshot taken just before the schedulers started.
func run(cfg vm.Config, w *workload, j *journal.Journal, timeout time.Duration) (*Report, *snapshot.Snapshot, error) {
	loader := vm.NewNativeLoader()
	w.register(loader)

	opts := []vm.Option{vm.WithLoader(loader)}
	if j != nil {
		opts = append(opts, vm.WithHooks(vm.Hooks{OnExit: j.Hook}))
	}
	v, err := vm.NewVM(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	defer v.Shutdown()

	if err := w.spawn(v, cfg.NativeStackSize); err != nil {
		return nil, nil, err
	}
	snap := snapshot.Take(v)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	if err := v.Run(ctx); err != nil {
		return nil, nil, err
	}

	snap.DeadLetters = v.DeadLetters()
	return w.finish(), snap, nil
}

func loadManifest(path string) (*manifest.Manifest, error) {
	if path != "" {
		return manifest.LoadFile(path)
	}
	dir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = &manifest.Manifest{}
	}
	return m, nil
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// writeSnapshot prints snap as a table on terminals and as CBOR otherwise.
func writeSnapshot(out *os.File, snap *snapshot.Snapshot, format string) error {
	if format == "auto" {
		format = "cbor"
		if isTerminal(out) {
			format = "text"
		}
	}
	switch format {
	case "text":
		return printSnapshot(out, snap)
	case "cbor", "hex":
		data, err := snapshot.Marshal(snap)
		if err != nil {
			return err
		}
		if format == "hex" {
			_, err = fmt.Fprintln(out, hex.EncodeToString(data))
			return err
		}
		_, err = out.Write(data)
		return err
	}
	return fmt.Errorf("unknown format %q", format)
}

func printSnapshot(out io.Writer, snap *snapshot.Snapshot) error {
	fmt.Fprintf(out, "vm %s: %d schedulers, %d actors\n", snap.ID(), snap.Schedulers, len(snap.Actors))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tSCHED\tSTATE\tSTACK\tMAILBOX\tHEAP")
	for _, a := range snap.Actors {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%d/%d\t%d/%d\n",
			a.PID, a.Scheduler, a.State, a.StackDepth, a.Unread, a.Mailbox, a.HeapUsed, a.HeapCap)
	}
	return tw.Flush()
}

func printHistory(out io.Writer, j *journal.Journal, n int) error {
	entries, err := j.Recent(n)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tVM\tPID\tSTATUS\tEXITED\tPAYLOAD")
	for _, e := range entries {
		status := e.Actor.Status
		if status == "" {
			status = "ok"
		}
		if e.Actor.Killed {
			status += " (killed)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\n",
			e.Seq, e.VM, e.Actor.PID, status, e.Exited.Format(time.RFC3339), e.Actor.Top)
	}
	return tw.Flush()
}

func firstNonEmpty(s ...string) string {
	for _, v := range s {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(n ...int) int {
	for _, v := range n {
		if v > 0 {
			return v
		}
	}
	return 0
}
