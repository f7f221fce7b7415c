// Package vm implements an embeddable actor runtime.
//
// This package contains:
//   - Tagged value representation
//   - Per-actor semi-space copying collector over offset-addressed heaps
//   - Mailboxes with selective receive (peek, remove, rewind)
//   - Cooperative tasks and the scheduler run loop
//   - Cross-scheduler envelope migration with backpressure
//   - Protected calls and throw/unwind recovery points
//
// Byte-code execution and module resolution are supplied by the host
// through the Dispatcher and Loader interfaces.
package vm
