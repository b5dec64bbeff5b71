// Package kernel implements a preemptively scheduled Unix-like
// micro-kernel core: physical frame allocation, region-0 page tables,
// the process control block, ready/blocked queues, a clock tick
// counter, a context-switch primitive, and the trap dispatcher.
//
// Every PCB is modeled as one goroutine. "Running" a process means its
// goroutine is allowed past Kernel.checkIn; everything else — ready,
// blocked, tty-blocked — means that goroutine is parked on its own
// sync.Cond until the scheduler signals it. This realizes a
// single-CPU, single-scheduler-lock model without hand-rolled
// coroutine stacks.
package kernel

import (
	"fmt"
	"time"

	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"

	"github.com/hycheng/yalnix/internal/metrics"
	"github.com/hycheng/yalnix/tty"
)

// TimeSliceTicks is the round-robin quantum.
const TimeSliceTicks = 2

// Kernel is the engine value holding all kernel state; there is no
// implicit package-level state.
type Kernel struct {
	mu syncutil.InvariantMutex

	frames *FrameAllocator
	mem    *PhysicalMemory
	ptRing *pageTableRing

	// Kernel heap state: the region-1 kernel page table, the current
	// break in pages, the floor EnableVM froze it at, and whether
	// virtual memory is on yet.
	kernelPT       [numPTEntries]PTE
	kernelBrk      int
	kernelBrkFloor int
	vmEnabled      bool

	ready   fifo
	blocked fifo

	ttyReadBlocked  []fifo
	ttyWriteBlocked []fifo
	ttyLines        []*lineFIFO
	ttyBusyFlags    []bool

	running *PCB
	idle    *PCB
	procs   map[int]*PCB
	nextPID int

	ticks    uint64
	clock    timeutil.Clock
	bootTime time.Time

	tty    *tty.Driver
	loader Loader

	maxUserPages int

	metrics *metrics.Registry
}

// Config bundles the parameters a host supplies when booting a Kernel.
type Config struct {
	NumFrames       int
	ReservedFrames  int // kernel text/data/stack/page-table frames
	NumTerminals    int
	TTY             *tty.Driver
	Loader          Loader
	Clock           timeutil.Clock
	Metrics         *metrics.Registry

	// MaxUserPages bounds a process's region-0 address space (the
	// MEM_INVALID_SIZE boundary Brk must never cross). Defaults to
	// numPTEntries if zero.
	MaxUserPages int
}

// New boots a Kernel: the idle process (pid 0) is created and
// installed as RUNNING. The idle process never sits in the ready
// queue; it runs only when the ready queue is empty.
func New(cfg Config) *Kernel {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock()
	}
	if cfg.MaxUserPages == 0 {
		cfg.MaxUserPages = numPTEntries
	}
	k := &Kernel{
		frames:          NewFrameAllocator(cfg.NumFrames, cfg.ReservedFrames),
		mem:             NewPhysicalMemory(cfg.NumFrames),
		ttyReadBlocked:  make([]fifo, cfg.NumTerminals),
		ttyWriteBlocked: make([]fifo, cfg.NumTerminals),
		ttyLines:        make([]*lineFIFO, cfg.NumTerminals),
		procs:           make(map[int]*PCB),
		clock:           cfg.Clock,
		tty:             cfg.TTY,
		loader:          cfg.Loader,
		maxUserPages:    cfg.MaxUserPages,
		metrics:         cfg.Metrics,
	}
	k.bootTime = k.clock.Now()
	// The pre-VM break covers the kernel's static footprint, i.e. the
	// frames reserved at construction.
	k.kernelBrk = cfg.ReservedFrames
	k.mu = syncutil.NewInvariantMutex(k.checkInvariants)
	k.ptRing = newPageTableRing(k.frames, nil)
	for i := range k.ttyLines {
		k.ttyLines[i] = newLineFIFO()
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	idle := newPCB(0, &k.mu)
	idle.Status = StatusRunning
	k.idle = idle
	k.running = idle
	k.procs[0] = idle
	k.nextPID = 1
	return k
}

func (k *Kernel) checkInvariants() {
	if k.running == nil {
		return
	}
	running := 0
	for _, p := range k.procs {
		if p.Status == StatusRunning {
			running++
		}
	}
	if running > 1 {
		panic(fmt.Sprintf("kernel: %d processes RUNNING at once", running))
	}
}

// allocPID returns a fresh, never-reused process id.
func (k *Kernel) allocPID() int {
	pid := k.nextPID
	k.nextPID++
	return pid
}

// pickNext chooses the next process to run: the head of the ready
// queue, or the idle process if the ready queue is empty.
func (k *Kernel) pickNext() *PCB {
	if n := k.ready.popFront(); n != nil {
		n.clearQueue()
		return n
	}
	return k.idle
}

// installNext makes next the running process: installs its region-0
// page table (simulated — see PhysicalMemory) and flushes region-0 of
// the TLB (a no-op here since there is no real MMU, but it is the
// declared boundary every switch variant crosses).
func (k *Kernel) installNext(next *PCB) {
	k.running = next
	next.Status = StatusRunning
	next.TimeSlice = TimeSliceTicks
	k.metrics.AddContextSwitch()
	k.metrics.SetReadyLen(k.ready.len())
	next.runCond.Signal()
}

// checkIn blocks p's goroutine until the scheduler has made it
// RUNNING. Every kernel entry point calls this first; it is what makes
// a clock-tick preemption (which merely requeues the running PCB and
// picks a new one) actually stop the preempted process's forward
// progress the next time it tries to make a kernel call.
func (k *Kernel) checkIn(p *PCB) {
	for k.running != p {
		p.runCond.Wait()
	}
}

// Tick simulates a clock interrupt: every BLOCKED process
// with a positive delay counter is decremented, migrating to READY at
// zero; the running process's time slice is decremented, triggering a
// general switch at zero. The idle process never consumes a slice.
func (k *Kernel) Tick() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.ticks++

	var stillBlocked []*PCB
	for _, p := range k.blocked.items {
		if p.DelayCounter > 0 {
			p.DelayCounter--
			if p.DelayCounter == 0 {
				p.clearQueue()
				p.Status = StatusReady
				p.setQueue("ready")
				k.ready.push(p)
				continue
			}
		}
		stillBlocked = append(stillBlocked, p)
	}
	k.blocked.items = stillBlocked

	if k.running == nil {
		return
	}
	if k.running == k.idle {
		// The idle process never consumes a time slice, but it must
		// still give way the moment something becomes ready — otherwise
		// a process queued while idle is running would wait forever for
		// a timeslice expiry that never comes.
		k.rescheduleIfIdle()
		return
	}
	k.running.TimeSlice--
	if k.running.TimeSlice <= 0 {
		cur := k.running
		cur.Status = StatusReady
		cur.setQueue("ready")
		k.ready.push(cur)
		k.installNext(k.pickNext())
		_ = cur // cur's own goroutine will block in checkIn on its next call
	}
}

// rescheduleIfIdle switches away from the idle process immediately if
// the ready queue is non-empty. Called after any operation that pushes
// a PCB onto the ready queue from outside a context-switch variant
// (an exiting process waking its parent, a tty interrupt), so a
// newly-ready process does not have to wait for the next clock tick's
// timeslice-expiry check to actually start running.
func (k *Kernel) rescheduleIfIdle() {
	if k.running == k.idle && k.ready.len() > 0 {
		k.installNext(k.pickNext())
	}
}

// Ticks returns the number of clock ticks delivered so far.
func (k *Kernel) Ticks() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ticks
}

// Uptime reports how long the kernel has been booted, per the
// configured clock source.
func (k *Kernel) Uptime() time.Duration {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.clock.Now().Sub(k.bootTime)
}
