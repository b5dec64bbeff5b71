package tty

// ReadTerminal blocks until terminal t has at least one pending
// newline-terminated line, then copies up to len(buf) bytes into buf,
// stopping at and including the first '\n'. At most one reader
// proceeds past the wait at a time; additional readers queue in
// arrival order.
func (d *Driver) ReadTerminal(t int, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return 0, ErrNotInitialized
	}
	term, err := d.termLocked(t)
	if err != nil {
		return 0, err
	}
	if !term.initialized {
		return 0, ErrInvalidTerminal
	}

	term.stats.UserIn += uint64(len(buf))

	ticket := term.takeReadTurn()
	for !term.myReadTurn(ticket) {
		term.lineReady.Wait()
	}
	for term.newlineCount == 0 {
		term.lineReady.Wait()
	}
	defer term.releaseReadTurn()

	n := 0
	for n < len(buf) {
		b := term.input.Pop()
		buf[n] = b
		n++
		if b == '\n' {
			term.newlineCount--
			break
		}
	}
	term.stats.UserOut += uint64(n)
	d.metrics.AddTTYBytesOut(termLabel(t), "user", float64(n))
	return n, nil
}

// WriteTerminal enqueues buf into the output ring buffer, translating
// '\n' into "\r\n". At most one writer proceeds at a time; the writer
// blocks on the output-full condition when the ring would overflow,
// and is released as TransmitInterrupt drains bytes.
func (d *Driver) WriteTerminal(t int, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return 0, ErrNotInitialized
	}
	term, err := d.termLocked(t)
	if err != nil {
		return 0, err
	}
	if !term.initialized {
		return 0, ErrInvalidTerminal
	}

	ticket := term.takeWriteTurn()
	for !term.myWriteTurn(ticket) {
		term.outputFree.Wait()
	}
	defer term.releaseWriteTurn()

	written := 0
	for _, b := range buf {
		if b == '\n' {
			// The boundary check treats capacity as capacity-2 so both
			// '\r' and '\n' are guaranteed room once the first is in.
			for term.output.Len() > term.output.Cap()-2 {
				term.outputFree.Wait()
			}
			term.output.Push('\r')
			for term.output.Full() {
				term.outputFree.Wait()
			}
			term.output.Push('\n')
		} else {
			for term.output.Full() {
				term.outputFree.Wait()
			}
			term.output.Push(b)
		}
		written++
		d.kickWDRLocked(term, t)
	}
	return written, nil
}

// ReceiveInterrupt is the hardware callback delivered when a byte has
// arrived in the receive data register.
func (d *Driver) ReceiveInterrupt(t int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return
	}
	term, err := d.termLocked(t)
	if err != nil || !term.initialized {
		return
	}

	b := d.hw.ReadDataRegister(t)
	term.stats.TTYIn++
	d.metrics.AddTTYBytesIn(termLabel(t), "raw", 1)

	switch {
	case b == '\r':
		if !term.input.Full() {
			appendInputLocked(term, '\n')
			d.echoEditLocked(term, '\n')
		}
	case b == '\b' || b == 0x7F:
		if term.input.Len() > 0 && term.input.Last() != '\n' {
			term.input.PopBack()
			for _, eb := range []byte{'\b', ' ', '\b'} {
				d.echoEditLocked(term, eb)
			}
		}
	default:
		if !term.input.Full() {
			appendInputLocked(term, b)
			d.echoEditLocked(term, b)
		}
		// else: dropped, tty_in already counted above.
	}

	d.maybeKickTransmitLocked(term, t)
}

// echoEditLocked appends a byte to the echo ring, except '\r' is
// translated to the two-byte "\r\n" sequence at the call sites that
// need it (handled by callers passing '\n' directly for the echo of a
// carriage return, matching the editing-rule table).
func (d *Driver) echoEditLocked(term *terminal, b byte) {
	if b == '\n' {
		if !term.echo.Full() {
			term.echo.Push('\r')
		}
		if !term.echo.Full() {
			term.echo.Push('\n')
		}
		return
	}
	if !term.echo.Full() {
		term.echo.Push(b)
	}
}

func appendInputLocked(term *terminal, b byte) {
	term.input.Push(b)
	if b == '\n' {
		term.newlineCount++
		term.lineReady.Broadcast()
	}
}

// maybeKickTransmitLocked starts transmission if WDR is idle and there
// is something to send (echo first, per priority).
func (d *Driver) maybeKickTransmitLocked(term *terminal, t int) {
	if term.wdrBusy {
		return
	}
	if !term.echo.Empty() {
		d.hw.WriteDataRegister(t, term.echo.Pop())
		term.wdrBusy = true
		return
	}
	if !term.output.Empty() {
		d.hw.WriteDataRegister(t, term.output.Pop())
		term.wdrBusy = true
	}
}

// kickWDRLocked is the WriteTerminal-side equivalent: start
// transmission if idle, now that we may have just enqueued output.
func (d *Driver) kickWDRLocked(term *terminal, t int) {
	d.maybeKickTransmitLocked(term, t)
}

// TransmitInterrupt is the hardware callback delivered once a
// write-data-register write has completed.
func (d *Driver) TransmitInterrupt(t int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return
	}
	term, err := d.termLocked(t)
	if err != nil || !term.initialized {
		return
	}

	term.stats.TTYOut++
	d.metrics.AddTTYBytesOut(termLabel(t), "raw", 1)

	wasOutputFull := term.output.Full()

	if !term.echo.Empty() {
		d.hw.WriteDataRegister(t, term.echo.Pop())
		term.wdrBusy = true
	} else if !term.output.Empty() {
		d.hw.WriteDataRegister(t, term.output.Pop())
		term.wdrBusy = true
	} else {
		term.wdrBusy = false
	}

	if wasOutputFull && !term.output.Full() {
		term.outputFree.Broadcast()
	}
}

func termLabel(t int) string {
	const digits = "0123456789"
	if t < 0 {
		return "?"
	}
	if t < 10 {
		return digits[t : t+1]
	}
	// Cheap itoa without pulling in strconv for the hot interrupt path.
	var buf [8]byte
	i := len(buf)
	n := t
	for n > 0 {
		i--
		buf[i] = digits[n%10]
		n /= 10
	}
	return string(buf[i:])
}
