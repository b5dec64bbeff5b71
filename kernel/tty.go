package kernel

// lineFIFO is the kernel's own per-terminal queue of received lines,
// independent of the tty package's monitor: the kernel buffers whole
// assembled lines per terminal, while the device driver below it
// buffers bytes.
type lineFIFO struct {
	lines [][]byte
}

func newLineFIFO() *lineFIFO { return &lineFIFO{} }

func (q *lineFIFO) push(line []byte) { q.lines = append(q.lines, line) }

func (q *lineFIFO) peek() ([]byte, bool) {
	if len(q.lines) == 0 {
		return nil, false
	}
	return q.lines[0], true
}

// consume removes and returns up to n bytes from the head line,
// pushing any remainder back as the new head: a short read splits the
// line, a covering read frees it.
func (q *lineFIFO) consume(n int) []byte {
	line := q.lines[0]
	if n >= len(line) {
		q.lines = q.lines[1:]
		return line
	}
	q.lines[0] = line[n:]
	return line[:n]
}

// TtyRead implements the TtyRead syscall. If a received line
// is already queued, it is copied out immediately; otherwise the
// caller blocks on the terminal's read-blocked queue until
// TtyReceiveInterrupt delivers one.
func (k *Kernel) TtyRead(cur *PCB, term int, buf []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.checkIn(cur)

	if term < 0 || term >= len(k.ttyLines) {
		return 0, ErrInvalid
	}

	if _, ok := k.ttyLines[term].peek(); ok {
		data := k.ttyLines[term].consume(len(buf))
		return copy(buf, data), nil
	}

	cur.TTYScratch = buf
	cur.setQueue("ttyread")
	k.ttyReadBlocked[term].push(cur)
	k.switchTTY(cur)

	n := cur.ttyReadN
	cur.TTYScratch = nil
	cur.ttyReadN = 0
	return n, nil
}

// TtyWrite implements the TtyWrite syscall. If the
// terminal's transmit channel is busy the caller blocks on the
// write-blocked queue; otherwise the channel is marked busy and the
// bytes are handed to the transmit path immediately.
func (k *Kernel) TtyWrite(cur *PCB, term int, buf []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.checkIn(cur)

	if term < 0 || term >= len(k.ttyWriteBlocked) {
		return 0, ErrInvalid
	}

	// Re-check after every wakeup: TtyTransmitInterrupt only readies
	// the dequeued writer, so another process scheduled first can grab
	// the channel before this one resumes.
	for k.ttyBusy(term) {
		cur.setQueue("ttywrite")
		k.ttyWriteBlocked[term].push(cur)
		k.switchTTY(cur)
	}

	k.setTTYBusy(term, true)
	if k.tty != nil {
		k.mu.Unlock()
		n, err := k.tty.WriteTerminal(term, buf)
		k.mu.Lock()
		return n, err
	}
	return len(buf), nil
}

// ttyBusy reports the kernel's own transmit-busy bit for term,
// independent of the driver's WDR_busy; the two track different
// layers of the transmit path.
func (k *Kernel) ttyBusy(term int) bool {
	if k.ttyBusyFlags == nil {
		return false
	}
	return k.ttyBusyFlags[term]
}

func (k *Kernel) setTTYBusy(term int, v bool) {
	if k.ttyBusyFlags == nil {
		k.ttyBusyFlags = make([]bool, len(k.ttyWriteBlocked))
	}
	k.ttyBusyFlags[term] = v
}

// TtyReceiveInterrupt delivers one fully-assembled line to the
// kernel's terminal subsystem. If a reader is already blocked on
// term, the line is memcpy'd into its scratch buffer and it is woken;
// otherwise the line is queued for a future TtyRead.
//
// Waking a blocked reader here makes it READY rather than forcing an
// immediate switch: unlike a syscall, an interrupt in this simulation
// is delivered by an external driver goroutine with no "currently
// executing" PCB goroutine of its own to hand off from, so there is no
// meaningful in-place "switch" to perform.
func (k *Kernel) TtyReceiveInterrupt(term int, line []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if term < 0 || term >= len(k.ttyLines) {
		return
	}

	if reader := k.ttyReadBlocked[term].popFront(); reader != nil {
		reader.clearQueue()
		n := copy(reader.TTYScratch, line)
		reader.ttyReadN = n
		if n < len(line) {
			k.ttyLines[term].push(line[n:])
		}
		reader.Status = StatusReady
		reader.setQueue("ready")
		k.ready.push(reader)
		k.rescheduleIfIdle()
		return
	}

	k.ttyLines[term].push(line)
}

// TtyTransmitInterrupt signals that term's transmit channel has
// drained and is free again, waking one blocked writer if any.
func (k *Kernel) TtyTransmitInterrupt(term int) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if term < 0 || term >= len(k.ttyWriteBlocked) {
		return
	}

	k.setTTYBusy(term, false)
	if writer := k.ttyWriteBlocked[term].popFront(); writer != nil {
		writer.clearQueue()
		writer.Status = StatusReady
		writer.setQueue("ready")
		k.ready.push(writer)
		k.rescheduleIfIdle()
	}
}
