// Package journal records exited actors in a SQLite database so that a
// run can be examined after the VM is gone.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/yakiro-nvg/avm-sub000/vm"
	"github.com/yakiro-nvg/avm-sub000/vm/snapshot"
)

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("journal closed")

// Entry is one recorded exit.
type Entry struct {
	Seq    int64
	VM     uuid.UUID
	Exited time.Time
	Actor  snapshot.Actor
}

// Journal is an append-only log of actor exits.
type Journal struct {
	db   *sql.DB
	path string
	log  commonlog.Logger
	mu   sync.Mutex
}

// Open opens (creating if needed) the journal at path.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// hooks fire from every scheduler goroutine; one connection keeps
	// writers from tripping over SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS exits (
		seq       INTEGER PRIMARY KEY AUTOINCREMENT,
		vm        TEXT NOT NULL,
		pid       INTEGER NOT NULL,
		scheduler INTEGER NOT NULL,
		status    TEXT NOT NULL,
		killed    INTEGER NOT NULL,
		exited    INTEGER NOT NULL,
		record    BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Journal{
		db:   db,
		path: path,
		log:  commonlog.GetLogger("avm.journal"),
	}, nil
}

// Path returns the database file.
func (j *Journal) Path() string { return j.path }

// Close closes the database connection.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

// Record appends an exit for the VM identified by run.
func (j *Journal) Record(run uuid.UUID, info vm.ActorInfo) error {
	rec := snapshot.FromInfo(info)
	blob, err := snapshot.MarshalActor(&rec)
	if err != nil {
		return err
	}
	status := rec.Status
	if status == "" {
		status = vm.CodeNone.String()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return ErrClosed
	}
	_, err = j.db.Exec(
		"INSERT INTO exits (vm, pid, scheduler, status, killed, exited, record) VALUES (?, ?, ?, ?, ?, ?, ?)",
		run.String(), int64(rec.PID), rec.Scheduler, status, rec.Killed, time.Now().UnixNano(), blob,
	)
	if err != nil {
		return fmt.Errorf("recording exit of pid %d: %w", rec.PID, err)
	}
	return nil
}

// Hook is an exit hook recording every reclaimed actor under its VM's ID.
// Failures are logged; the runtime cannot act on them.
func (j *Journal) Hook(a *vm.Actor) {
	if err := j.Record(a.VM().ID, a.Info()); err != nil {
		j.log.Errorf("%s", err.Error())
	}
}

// Recent returns up to n of the latest entries, newest first.
func (j *Journal) Recent(n int) ([]Entry, error) {
	return j.query("SELECT seq, vm, exited, record FROM exits ORDER BY seq DESC LIMIT ?", n)
}

// Run returns every entry recorded for one VM, oldest first.
func (j *Journal) Run(run uuid.UUID) ([]Entry, error) {
	return j.query("SELECT seq, vm, exited, record FROM exits WHERE vm = ? ORDER BY seq", run.String())
}

// Failures counts the exits of a VM with a status other than none.
func (j *Journal) Failures(run uuid.UUID) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return 0, ErrClosed
	}
	var n int
	err := j.db.QueryRow(
		"SELECT COUNT(*) FROM exits WHERE vm = ? AND status != ?",
		run.String(), vm.CodeNone.String(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting failures: %w", err)
	}
	return n, nil
}

func (j *Journal) query(q string, args ...any) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil, ErrClosed
	}

	rows, err := j.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying exits: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e      Entry
			run    string
			exited int64
			blob   []byte
		)
		if err := rows.Scan(&e.Seq, &run, &exited, &blob); err != nil {
			return nil, fmt.Errorf("scanning exit: %w", err)
		}
		if e.VM, err = uuid.Parse(run); err != nil {
			return nil, fmt.Errorf("exit %d: %w", e.Seq, err)
		}
		a, err := snapshot.UnmarshalActor(blob)
		if err != nil {
			return nil, fmt.Errorf("exit %d: %w", e.Seq, err)
		}
		e.Exited = time.Unix(0, exited)
		e.Actor = *a
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
