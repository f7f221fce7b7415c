package vm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"
)

// ---------------------------------------------------------------------------
// VM: the embeddable runtime
// ---------------------------------------------------------------------------

// VM owns the process table shared by its schedulers, the collaborators
// that give byte-code and module names a meaning, and the host's hooks.
type VM struct {
	ID uuid.UUID

	config     Config
	procs      *ProcessTable
	schedulers []*Scheduler

	dispatcher Dispatcher
	loader     Loader
	hooks      Hooks

	log         commonlog.Logger
	next        atomic.Uint32
	deadLetters atomic.Int64
	running     atomic.Bool
}

// Option configures a VM at creation.
type Option func(*VM)

// WithDispatcher installs the interpreter used for byte-code functions.
func WithDispatcher(d Dispatcher) Option {
	return func(v *VM) { v.dispatcher = d }
}

// WithLoader installs the module resolver used by Import and SpawnNamed.
func WithLoader(l Loader) Option {
	return func(v *VM) { v.loader = l }
}

// WithHooks installs host callbacks.
func WithHooks(h Hooks) Option {
	return func(v *VM) { v.hooks = h }
}

// NewVM validates cfg and creates a VM with cfg.Schedulers schedulers.
func NewVM(cfg Config, opts ...Option) (*VM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	v := &VM{
		ID:     uuid.New(),
		config: cfg,
		procs:  NewProcessTable(PIDLayout{IdxBits: cfg.IdxBits, GenBits: cfg.GenBits}),
		log:    commonlog.GetLogger("avm.vm"),
	}
	for _, opt := range opts {
		opt(v)
	}
	for i := 0; i < cfg.Schedulers; i++ {
		v.schedulers = append(v.schedulers, newScheduler(v, i))
	}
	v.log.Infof("vm %s: %d scheduler(s), %d process slots", v.ID, cfg.Schedulers, v.procs.Capacity())
	return v, nil
}

// Config returns the configuration the VM was created with.
func (v *VM) Config() Config { return v.config }

// Processes returns the process table.
func (v *VM) Processes() *ProcessTable { return v.procs }

// Schedulers returns the VM's schedulers.
func (v *VM) Schedulers() []*Scheduler { return v.schedulers }

// Scheduler returns scheduler i.
func (v *VM) Scheduler(i int) *Scheduler { return v.schedulers[i] }

// Loader returns the installed loader, if any.
func (v *VM) Loader() Loader { return v.loader }

// DeadLetters returns the number of messages dropped because their
// destination no longer existed.
func (v *VM) DeadLetters() int64 { return v.deadLetters.Load() }

func (v *VM) deadLetter(to PID, where string) {
	v.deadLetters.Add(1)
	v.log.Debugf("dead letter for pid %d (%s)", to, where)
}

// ---------------------------------------------------------------------------
// Spawning
// ---------------------------------------------------------------------------

// Spawn starts an actor on the next scheduler in round-robin order.
func (v *VM) Spawn(entry Value, args []Value, stackSize int) (PID, error) {
	i := int(v.next.Add(1)-1) % len(v.schedulers)
	return v.schedulers[i].Spawn(entry, args, stackSize)
}

// SpawnNamed resolves module.name through the loader and spawns it.
func (v *VM) SpawnNamed(module, name string, args []Value, stackSize int) (PID, error) {
	if v.loader == nil {
		return 0, newError(CodeUnresolved, "no loader for %s.%s", module, name)
	}
	entry, err := v.loader.Resolve(module, name)
	if err != nil {
		return 0, fmt.Errorf("spawn %s.%s: %w", module, name, err)
	}
	return v.Spawn(entry, args, stackSize)
}

// ---------------------------------------------------------------------------
// Running
// ---------------------------------------------------------------------------

// Run drives every scheduler on its own goroutine until all actors are dead
// and every envelope buffer is empty, or until ctx is done.
func (v *VM) Run(ctx context.Context) error {
	if !v.running.CompareAndSwap(false, true) {
		return errors.New("vm: already running")
	}
	defer v.running.Store(false)

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range v.schedulers {
		s := s
		g.Go(func() error { return v.drive(ctx, s) })
	}
	err := g.Wait()
	v.log.Infof("vm %s stopped (%d dead letters)", v.ID, v.deadLetters.Load())
	return err
}

func (v *VM) drive(ctx context.Context, s *Scheduler) error {
	idle := time.NewTimer(v.config.IdleWait)
	defer idle.Stop()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		progress := s.Step()
		if v.Idle() {
			return nil
		}
		if progress {
			continue
		}
		idle.Reset(v.config.IdleWait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle.C:
		}
	}
}

// Idle reports whether no actor is alive and no envelope is in transit.
func (v *VM) Idle() bool {
	if v.procs.Live() > 0 {
		return false
	}
	for _, s := range v.schedulers {
		if !s.Idle() {
			return false
		}
	}
	return true
}

// Shutdown reclaims every actor regardless of state. It must not be
// called while Run is active.
func (v *VM) Shutdown() error {
	if v.running.Load() {
		return errors.New("vm: shutdown while running")
	}
	for _, s := range v.schedulers {
		s.shutdown()
	}
	v.log.Infof("vm %s shut down", v.ID)
	return nil
}

// Inspect describes every actor of every scheduler. Like Shutdown it must
// not race with Run.
func (v *VM) Inspect() []ActorInfo {
	var infos []ActorInfo
	for _, s := range v.schedulers {
		infos = append(infos, s.Inspect()...)
	}
	return infos
}

// ---------------------------------------------------------------------------
// Hooks
// ---------------------------------------------------------------------------

// Hooks are host callbacks invoked on the scheduler goroutine.
type Hooks struct {
	// OnPanic runs when an actor terminates with an uncaught throw or a
	// fatal fault; payload is its final stack value.
	OnPanic func(a *Actor, code ErrorCode, payload Value)
	// OnThrow runs for every throw caught by a recovery point.
	OnThrow func(a *Actor, code ErrorCode)
	// OnExit runs just before an exited actor is reclaimed.
	OnExit func(a *Actor)
}

func (h *Hooks) panic(a *Actor, code ErrorCode, payload Value) {
	a.vm.log.Infof("pid %d panicked (%s): %s", a.pid, code, a.Format(payload))
	if h.OnPanic != nil {
		h.OnPanic(a, code, payload)
	}
}

func (h *Hooks) throw(a *Actor, code ErrorCode) {
	if h.OnThrow != nil {
		h.OnThrow(a, code)
	}
}

func (h *Hooks) exit(a *Actor) {
	if h.OnExit != nil {
		h.OnExit(a)
	}
}
