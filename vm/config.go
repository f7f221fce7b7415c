package vm

import (
	"fmt"
	"time"
)

// MailboxMode controls whether a mailbox may grow past its initial size.
type MailboxMode int

const (
	// MailboxGrow doubles capacity on demand up to Config.MaxMailboxSize.
	MailboxGrow MailboxMode = iota
	// MailboxFixed never grows; a full mailbox rejects local sends and
	// faults its owner on cross-scheduler delivery.
	MailboxFixed
)

func (m MailboxMode) String() string {
	if m == MailboxFixed {
		return "fixed"
	}
	return "grow"
}

// ParseMailboxMode accepts "grow" or "fixed".
func ParseMailboxMode(s string) (MailboxMode, error) {
	switch s {
	case "", "grow":
		return MailboxGrow, nil
	case "fixed":
		return MailboxFixed, nil
	}
	return 0, fmt.Errorf("unknown mailbox mode %q", s)
}

// Config holds the parameters fixed at VM creation.
type Config struct {
	// PID layout: pid = generation<<IdxBits | index.
	IdxBits uint
	GenBits uint

	Schedulers int

	HeapSize    int // initial half-heap size in bytes
	MaxHeapSize int

	StackSize    int // initial stack slots
	MaxStackSize int

	MailboxSize    int
	MaxMailboxSize int
	MailboxMode    MailboxMode

	// QueueCapacity bounds each of a scheduler's four envelope buffers.
	QueueCapacity int

	// Reductions is the budget an actor may spend per turn before it is
	// made to yield.
	Reductions int

	NativeStackSize int

	// IdleWait is how long VM.Run sleeps when no scheduler made progress.
	IdleWait time.Duration
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		IdxBits:         16,
		GenBits:         16,
		Schedulers:      1,
		HeapSize:        4 << 10,
		MaxHeapSize:     64 << 20,
		StackSize:       64,
		MaxStackSize:    1 << 20,
		MailboxSize:     16,
		MaxMailboxSize:  1 << 16,
		MailboxMode:     MailboxGrow,
		QueueCapacity:   256,
		Reductions:      2000,
		NativeStackSize: 64 << 10,
		IdleWait:        time.Millisecond,
	}
}

// Validate checks the configuration for values the runtime cannot honour.
func (c Config) Validate() error {
	if c.IdxBits == 0 || c.GenBits == 0 {
		return fmt.Errorf("config: idx_bits and gen_bits must be positive")
	}
	if c.IdxBits+c.GenBits > 64 {
		return fmt.Errorf("config: idx_bits + gen_bits = %d exceeds 64", c.IdxBits+c.GenBits)
	}
	if c.IdxBits > 31 {
		return fmt.Errorf("config: idx_bits %d too large for a process table", c.IdxBits)
	}
	if c.Schedulers < 1 {
		return fmt.Errorf("config: at least one scheduler required")
	}
	if c.HeapSize <= 0 || c.MaxHeapSize < c.HeapSize {
		return fmt.Errorf("config: heap size %d / max %d invalid", c.HeapSize, c.MaxHeapSize)
	}
	if c.StackSize <= 0 || c.MaxStackSize < c.StackSize {
		return fmt.Errorf("config: stack size %d / max %d invalid", c.StackSize, c.MaxStackSize)
	}
	if c.MailboxSize <= 0 || c.MaxMailboxSize < c.MailboxSize {
		return fmt.Errorf("config: mailbox size %d / max %d invalid", c.MailboxSize, c.MaxMailboxSize)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("config: queue capacity must be positive")
	}
	if c.Reductions <= 0 {
		return fmt.Errorf("config: reductions must be positive")
	}
	return nil
}
