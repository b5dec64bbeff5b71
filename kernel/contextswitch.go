package kernel

// switchGeneral implements the "general" ContextSwitch variant:
// RUNNING -> READY, current appended to ready (unless idle),
// next picked by the scheduler becomes RUNNING. Must be called with
// k.mu held; blocks cur's goroutine until it is RUNNING again.
func (k *Kernel) switchGeneral(cur *PCB) {
	cur.Status = StatusReady
	if cur != k.idle {
		cur.setQueue("ready")
		k.ready.push(cur)
	}
	k.installNext(k.pickNext())
	k.checkIn(cur)
}

// switchWait implements the "wait" variant: RUNNING -> BLOCKED,
// current appended to the blocked queue (unless idle).
func (k *Kernel) switchWait(cur *PCB) {
	cur.Status = StatusBlocked
	if cur != k.idle {
		cur.setQueue("blocked")
		k.blocked.push(cur)
	}
	k.installNext(k.pickNext())
	k.checkIn(cur)
}

// switchTTY implements the "tty" variant: the caller has already
// queued cur onto a tty read/write blocked queue; this only installs
// next.
func (k *Kernel) switchTTY(cur *PCB) {
	cur.Status = StatusBlocked
	k.installNext(k.pickNext())
	k.checkIn(cur)
}

// switchFork implements the "fork" variant: current goes to READY,
// the freshly created child becomes RUNNING immediately.
// Page-by-page copying of region 0 happens before this is called (see
// Kernel.Fork); this only performs the queue/scheduling half.
func (k *Kernel) switchFork(cur, child *PCB) {
	cur.Status = StatusReady
	cur.setQueue("ready")
	k.ready.push(cur)
	k.installNext(child)
	k.checkIn(cur)
}

// switchExit implements the "exit" variant: current becomes
// TERMINATED and its page table/PCB resources are released; a new
// process is picked to run. The caller's goroutine never resumes —
// this function does not block.
func (k *Kernel) switchExit(cur *PCB) {
	cur.Status = StatusTerminated
	if cur.PageTable != nil {
		cur.PageTable.freeAll(k.frames, k.ptRing)
		cur.PageTable = nil
	}
	delete(k.procs, cur.PID)
	close(cur.done)
	k.installNext(k.pickNext())
}
