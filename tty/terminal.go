package tty

import "sync"

// ringCapacity is the fixed capacity of every ring buffer.
const ringCapacity = 4096

// Stats mirrors a terminal's four counters. UserOut only increments on
// bytes actually copied out by ReadTerminal; UserIn increments by the
// caller's requested length, not bytes written, so the two are not
// complementary.
type Stats struct {
	TTYIn   uint64 // bytes delivered to ReceiveInterrupt, dropped ones included
	TTYOut  uint64 // bytes drained by TransmitInterrupt
	UserIn  uint64 // bytes requested by ReadTerminal callers
	UserOut uint64 // bytes copied out by ReadTerminal
}

// terminal holds one terminal's three ring buffers, WDR state, the
// two condition variables coordinating readers/writers/the transmit
// interrupt, and its statistics. All fields are guarded by the owning
// Driver's single monitor lock; terminal itself holds no lock.
type terminal struct {
	initialized bool

	input *ringBuffer
	output *ringBuffer
	echo   *ringBuffer

	newlineCount int // number of '\n' currently in input

	wdrBusy bool

	// lineReady is broadcast whenever a '\n' is appended to input and
	// whenever a reader releases its turn; ReadTerminal waits on it.
	lineReady *sync.Cond
	// readHead/readTail implement a FIFO ticket queue so that readers
	// queued on lineReady are released in arrival order (Mesa semantics
	// mean a broadcast wakes everyone, so each waiter re-checks its own
	// ticket before proceeding).
	readHead, readTail int

	// outputFree is broadcast when TransmitInterrupt takes output from
	// full to not full, and whenever a writer releases its turn;
	// WriteTerminal waits on it when the ring would overflow.
	outputFree *sync.Cond
	// writeHead/writeTail: one concurrent writer at a time, FIFO.
	writeHead, writeTail int

	stats Stats
}

func newTerminal(l sync.Locker) *terminal {
	return &terminal{
		input:      newRingBuffer(ringCapacity),
		output:     newRingBuffer(ringCapacity),
		echo:       newRingBuffer(ringCapacity),
		lineReady:  sync.NewCond(l),
		outputFree: sync.NewCond(l),
	}
}

// takeReadTurn must be called (and waited on) with the monitor lock
// held; it returns the caller's ticket, to be released via
// releaseReadTurn once the read completes.
func (t *terminal) takeReadTurn() int {
	ticket := t.readTail
	t.readTail++
	return ticket
}

func (t *terminal) myReadTurn(ticket int) bool { return ticket == t.readHead }

func (t *terminal) releaseReadTurn() {
	t.readHead++
	t.lineReady.Broadcast()
}

func (t *terminal) takeWriteTurn() int {
	ticket := t.writeTail
	t.writeTail++
	return ticket
}

func (t *terminal) myWriteTurn(ticket int) bool { return ticket == t.writeHead }

func (t *terminal) releaseWriteTurn() {
	t.writeHead++
	t.outputFree.Broadcast()
}
