package vm

import "testing"

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(c *Config)
		ok   bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"zero idx bits", func(c *Config) { c.IdxBits = 0 }, false},
		{"pid wider than 64 bits", func(c *Config) { c.IdxBits, c.GenBits = 30, 40 }, false},
		{"huge process table", func(c *Config) { c.IdxBits = 40; c.GenBits = 8 }, false},
		{"no schedulers", func(c *Config) { c.Schedulers = 0 }, false},
		{"max heap below initial", func(c *Config) { c.MaxHeapSize = c.HeapSize - 1 }, false},
		{"zero stack", func(c *Config) { c.StackSize = 0 }, false},
		{"zero mailbox", func(c *Config) { c.MailboxSize = 0 }, false},
		{"zero queue", func(c *Config) { c.QueueCapacity = 0 }, false},
		{"zero reductions", func(c *Config) { c.Reductions = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.edit(&c)
			err := c.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestParseMailboxMode(t *testing.T) {
	for in, want := range map[string]MailboxMode{"": MailboxGrow, "grow": MailboxGrow, "fixed": MailboxFixed} {
		got, err := ParseMailboxMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMailboxMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseMailboxMode("elastic"); err == nil {
		t.Error("unknown mode accepted")
	}
}
