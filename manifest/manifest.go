// Package manifest handles avm.toml / avm.yaml runtime configuration.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/yakiro-nvg/avm-sub000/vm"
)

// File names searched for, in order.
var Names = []string{"avm.toml", "avm.yaml", "avm.yml"}

// Manifest represents an avm configuration file.
type Manifest struct {
	VM       VMConfig       `toml:"vm" yaml:"vm"`
	Heap     SizeConfig     `toml:"heap" yaml:"heap"`
	Stack    SizeConfig     `toml:"stack" yaml:"stack"`
	Mailbox  MailboxConfig  `toml:"mailbox" yaml:"mailbox"`
	Journal  JournalConfig  `toml:"journal" yaml:"journal"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	Workload WorkloadConfig `toml:"workload" yaml:"workload"`

	// Path is the file the manifest was read from (set at load time).
	Path string `toml:"-" yaml:"-"`
}

// VMConfig holds the scheduling parameters.
type VMConfig struct {
	Schedulers    int    `toml:"schedulers" yaml:"schedulers"`
	IdxBits       uint   `toml:"idx-bits" yaml:"idx-bits"`
	GenBits       uint   `toml:"gen-bits" yaml:"gen-bits"`
	Reductions    int    `toml:"reductions" yaml:"reductions"`
	QueueCapacity int    `toml:"queue-capacity" yaml:"queue-capacity"`
	NativeStack   int    `toml:"native-stack" yaml:"native-stack"`
	IdleWait      string `toml:"idle-wait" yaml:"idle-wait"` // Go duration, e.g. "2ms"
}

// SizeConfig is an initial size and a growth limit.
type SizeConfig struct {
	Size int `toml:"size" yaml:"size"`
	Max  int `toml:"max" yaml:"max"`
}

// MailboxConfig sizes actor mailboxes.
type MailboxConfig struct {
	Size int    `toml:"size" yaml:"size"`
	Max  int    `toml:"max" yaml:"max"`
	Mode string `toml:"mode" yaml:"mode"` // "grow" or "fixed"
}

// JournalConfig locates the exit journal. An empty path disables it.
type JournalConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity" yaml:"verbosity"`
	File      string `toml:"file" yaml:"file"`
}

// WorkloadConfig drives the demo workload of the avm command.
type WorkloadConfig struct {
	Producers int `toml:"producers" yaml:"producers"`
	Messages  int `toml:"messages" yaml:"messages"`
}

// Load reads the first manifest found in dir.
func Load(dir string) (*Manifest, error) {
	for _, name := range Names {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, fmt.Errorf("no %s in %s", strings.Join(Names, " or "), dir)
}

// LoadFile parses the manifest at path; the format follows the extension.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	switch ext := filepath.Ext(path); ext {
	case ".toml":
		err = toml.Unmarshal(data, &m)
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err = dec.Decode(&m); errors.Is(err, io.EOF) {
			err = nil
		}
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	if _, err := m.Config(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a manifest, then loads and
// returns it. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		for _, name := range Names {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return LoadFile(path)
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Config overlays the manifest on vm.DefaultConfig and validates the
// result. Zero values keep the default.
func (m *Manifest) Config() (vm.Config, error) {
	c := vm.DefaultConfig()
	setInt(&c.Schedulers, m.VM.Schedulers)
	setUint(&c.IdxBits, m.VM.IdxBits)
	setUint(&c.GenBits, m.VM.GenBits)
	setInt(&c.Reductions, m.VM.Reductions)
	setInt(&c.QueueCapacity, m.VM.QueueCapacity)
	setInt(&c.NativeStackSize, m.VM.NativeStack)
	setInt(&c.HeapSize, m.Heap.Size)
	setInt(&c.MaxHeapSize, m.Heap.Max)
	setInt(&c.StackSize, m.Stack.Size)
	setInt(&c.MaxStackSize, m.Stack.Max)
	setInt(&c.MailboxSize, m.Mailbox.Size)
	setInt(&c.MaxMailboxSize, m.Mailbox.Max)

	mode, err := vm.ParseMailboxMode(m.Mailbox.Mode)
	if err != nil {
		return c, err
	}
	c.MailboxMode = mode

	if m.VM.IdleWait != "" {
		d, err := time.ParseDuration(m.VM.IdleWait)
		if err != nil {
			return c, fmt.Errorf("idle-wait: %w", err)
		}
		c.IdleWait = d
	}

	// a limit below a configured initial size follows the size up
	if c.MaxHeapSize < c.HeapSize && m.Heap.Max == 0 {
		c.MaxHeapSize = c.HeapSize
	}
	if c.MaxStackSize < c.StackSize && m.Stack.Max == 0 {
		c.MaxStackSize = c.StackSize
	}
	if c.MaxMailboxSize < c.MailboxSize && m.Mailbox.Max == 0 {
		c.MaxMailboxSize = c.MailboxSize
	}
	return c, c.Validate()
}

// JournalPath returns the journal path resolved against the manifest's
// directory, or "" when the journal is disabled.
func (m *Manifest) JournalPath() string {
	p := m.Journal.Path
	if p == "" || filepath.IsAbs(p) || m.Path == "" {
		return p
	}
	return filepath.Join(filepath.Dir(m.Path), p)
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setUint(dst *uint, v uint) {
	if v != 0 {
		*dst = v
	}
}
