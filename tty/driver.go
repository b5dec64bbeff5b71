// Package tty implements a monitor over a fixed bank of half-duplex
// terminals, presenting line-buffered, echoed, bounded, thread-safe
// I/O backed by a write-data-register with transmit and receive
// interrupts.
//
// Every exported method executes under a single driver-wide lock.
// Interrupts are delivered as ordinary monitor entries: a host calling
// ReceiveInterrupt/TransmitInterrupt takes the same lock as a client
// calling ReadTerminal/WriteTerminal, so an interrupt can never be
// observed "between" two steps of a client call.
package tty

import (
	"fmt"

	"github.com/jacobsa/syncutil"

	"github.com/hycheng/yalnix/internal/metrics"
)

// Logger is the minimal printf-style interface hosts can satisfy with
// *log.Logger or any compatible type for development tracing.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Driver owns a bank of terminals behind one monitor lock. It is an
// explicit value threaded through the API rather than implicit
// package-level state, so a process can run more than one terminal
// bank (e.g. in tests).
type Driver struct {
	mu syncutil.InvariantMutex // GUARDED_BY: everything below

	initialized bool
	terminals   []*terminal

	hw      Hardware
	logger  Logger
	metrics *metrics.Registry
}

// NewDriver constructs an uninitialized driver for numTerminals
// terminals, backed by hw. InitDriver must still be called before use.
func NewDriver(numTerminals int, hw Hardware) *Driver {
	d := &Driver{
		terminals: make([]*terminal, numTerminals),
		hw:        hw,
	}
	d.mu = syncutil.NewInvariantMutex(d.checkInvariants)
	return d
}

// SetLogger installs an optional development logger; nil (the
// default) disables tracing so the hot path stays allocation-free.
func (d *Driver) SetLogger(l Logger) { d.logger = l }

// SetMetrics wires a (possibly nil) Prometheus registry.
func (d *Driver) SetMetrics(m *metrics.Registry) { d.metrics = m }

func (d *Driver) checkInvariants() {
	if !d.initialized {
		return
	}
	for _, t := range d.terminals {
		if t == nil {
			continue
		}
		for _, rb := range []*ringBuffer{t.input, t.output, t.echo} {
			if rb.Len() < 0 || rb.Len() > rb.Cap() {
				panic(fmt.Sprintf("tty: ring buffer count %d out of [0,%d]", rb.Len(), rb.Cap()))
			}
		}
	}
}

func (d *Driver) logf(format string, v ...interface{}) {
	if d.logger != nil {
		d.logger.Printf(format, v...)
	}
}

// InitDriver performs idempotent-guarded initialization of every
// terminal struct. It fails if called more than once.
func (d *Driver) InitDriver() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return ErrAlreadyInitialized
	}
	for i := range d.terminals {
		d.terminals[i] = newTerminal(&d.mu)
	}
	d.initialized = true
	d.logf("tty: driver initialized with %d terminals", len(d.terminals))
	return nil
}

// InitTerminal initializes hardware for terminal t.
func (d *Driver) InitTerminal(t int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return ErrNotInitialized
	}
	term, err := d.termLocked(t)
	if err != nil {
		return err
	}
	if term.initialized {
		return ErrTerminalAlreadyInitialized
	}
	if err := d.hw.InitHardware(t); err != nil {
		return err
	}
	term.initialized = true
	return nil
}

func (d *Driver) termLocked(t int) (*terminal, error) {
	if t < 0 || t >= len(d.terminals) {
		return nil, ErrInvalidTerminal
	}
	return d.terminals[t], nil
}

// DriverStatistics copies each terminal's counters into stats, which
// must have length >= the number of terminals.
func (d *Driver) DriverStatistics(stats []Stats) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return ErrNotInitialized
	}
	if len(stats) < len(d.terminals) {
		return ErrArgumentInvalid
	}
	for i, t := range d.terminals {
		stats[i] = t.stats
	}
	return nil
}
