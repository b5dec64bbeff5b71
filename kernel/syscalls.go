package kernel

// GetPid returns cur's process id.
func (k *Kernel) GetPid(cur *PCB) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.checkIn(cur)
	return cur.PID
}

// Spawn creates the first process (analogous to the bootstrap "init"
// in a real kernel): it is not itself a syscall, but the host-facing
// entry point a cmd/yalnixd-style bootstrap uses to get anything
// running before any process exists to call Fork.
func (k *Kernel) Spawn(entry func(child *PCB)) *PCB {
	k.mu.Lock()
	pid := k.allocPID()
	child := newPCB(pid, &k.mu)
	pt, err := k.ptRing.createPageTable()
	if err != nil {
		k.mu.Unlock()
		panic(ErrNoMemory) // fundamental allocation failure at boot is fatal
	}
	child.PageTable = pt
	k.procs[pid] = child
	child.setQueue("ready")
	child.Status = StatusReady
	k.ready.push(child)
	// No immediate reschedule: the new process first runs at the next
	// scheduling point (a clock tick, or another process blocking),
	// like any other freshly-readied PCB.
	k.mu.Unlock()

	go func() {
		k.mu.Lock()
		k.checkIn(child)
		k.mu.Unlock()
		entry(child)
	}()
	return child
}

// Fork implements the FORK syscall. childEntry is run on a
// new goroutine standing in for "the child returns from the switch
// with its own pid" — Go has no way to literally duplicate a call
// stack, so the child's continuation is supplied explicitly instead.
// Fork returns the child's pid to the parent; fails without mutating
// parent state if too few frames are free.
func (k *Kernel) Fork(cur *PCB, childEntry func(child *PCB)) (int, error) {
	k.mu.Lock()
	k.checkIn(cur)

	needed := 0
	for _, e := range cur.PageTable.Entries {
		if e.Valid {
			needed++
		}
	}
	if !k.frames.HasFree(needed) {
		k.mu.Unlock()
		return 0, ErrNoMemory
	}

	childPT, err := cur.PageTable.clone(k.frames, k.ptRing, k.mem)
	if err != nil {
		k.mu.Unlock()
		return 0, ErrNoMemory
	}

	pid := k.allocPID()
	child := newPCB(pid, &k.mu)
	child.PageTable = childPT
	child.HeapBreak = cur.HeapBreak
	child.StackBreak = cur.StackBreak
	child.Parent = cur
	cur.Children = append(cur.Children, child)
	k.procs[pid] = child

	go func() {
		k.mu.Lock()
		k.checkIn(child)
		k.mu.Unlock()
		childEntry(child)
	}()

	k.switchFork(cur, child)
	k.mu.Unlock()
	return pid, nil
}

// Exit implements the EXIT syscall. The idle process calling
// Exit is a fatal kernel error. Exit does return to its caller's
// goroutine, but the process is TERMINATED by then and the goroutine
// must make no further kernel calls for it.
func (k *Kernel) Exit(cur *PCB, status int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.checkIn(cur)

	if cur == k.idle {
		return ErrFatal
	}

	if cur.Parent != nil {
		p := cur.Parent
		p.exitQueue = append(p.exitQueue, exitRecord{pid: cur.PID, status: status})
		for i, c := range p.Children {
			if c == cur {
				p.Children = append(p.Children[:i], p.Children[i+1:]...)
				break
			}
		}
		if p.Status == StatusBlocked && p.onQueue == "blocked" {
			if k.blocked.remove(p) {
				p.clearQueue()
				p.Status = StatusReady
				p.setQueue("ready")
				k.ready.push(p)
				k.rescheduleIfIdle()
			}
		}
	}
	for _, c := range cur.Children {
		c.Parent = nil
	}
	cur.Children = nil

	k.switchExit(cur)
	return nil
}

// Wait implements the WAIT syscall.
func (k *Kernel) Wait(cur *PCB) (pid int, status int, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.checkIn(cur)

	if len(cur.Children) == 0 && len(cur.exitQueue) == 0 {
		return 0, 0, ErrNoChildren
	}

	for len(cur.exitQueue) == 0 {
		k.switchWait(cur)
	}

	rec := cur.exitQueue[0]
	cur.exitQueue = cur.exitQueue[1:]
	return rec.pid, rec.status, nil
}

// Delay implements the DELAY syscall: ticks clock ticks must
// elapse before cur becomes ready again.
func (k *Kernel) Delay(cur *PCB, ticks int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.checkIn(cur)

	if ticks < 0 {
		return ErrInvalid
	}
	if ticks == 0 {
		return nil
	}
	cur.DelayCounter = ticks
	k.switchWait(cur)
	return nil
}

// Brk implements the BRK syscall: newBreakPages is the desired heap
// break, in pages from the start of region 0. A one-page red zone is
// always kept between the heap and the stack break, and the new break
// may never cross MaxUserPages.
func (k *Kernel) Brk(cur *PCB, newBreakPages int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.checkIn(cur)

	if newBreakPages < 0 || newBreakPages+1 >= cur.StackBreak || newBreakPages >= k.maxUserPages {
		return ErrInvalid
	}

	if newBreakPages > cur.HeapBreak {
		for p := cur.HeapBreak; p < newBreakPages; p++ {
			pfn, err := k.frames.AllocatePage()
			if err != nil {
				for q := cur.HeapBreak; q < p; q++ {
					k.frames.FreePage(cur.PageTable.Entries[q].PFN)
					cur.PageTable.Entries[q].Valid = false
				}
				return ErrNoMemory
			}
			k.mem.Zero(pfn)
			cur.PageTable.Entries[p] = PTE{Valid: true, PFN: pfn, UProt: ProtRead | ProtWrite, KProt: ProtRead | ProtWrite}
		}
	} else {
		for p := newBreakPages; p < cur.HeapBreak; p++ {
			if cur.PageTable.Entries[p].Valid {
				k.frames.FreePage(cur.PageTable.Entries[p].PFN)
				cur.PageTable.Entries[p].Valid = false
			}
		}
	}
	cur.HeapBreak = newBreakPages
	return nil
}

// Exec implements the EXEC syscall. On catastrophic failure
// after region 0 has already been freed, cur is exited with ErrFatal
// instead of returning an error to a process whose address space no
// longer exists.
func (k *Kernel) Exec(cur *PCB, name string, argv []string) error {
	k.mu.Lock()
	k.checkIn(cur)

	img, err := k.loader.Load(name)
	if err != nil {
		k.mu.Unlock()
		return err
	}

	stackPages := 1
	needed := img.TextPages() + img.DataPages() + img.BSSPages + stackPages
	if !k.frames.HasFree(needed) {
		k.mu.Unlock()
		return ErrNoMemory
	}

	// Past this point failure is fatal: region 0 is about to be freed.
	cur.PageTable.freeAll(k.frames, k.ptRing)
	cur.PageTable = nil

	pt, err := k.ptRing.createPageTable()
	if err != nil {
		k.exitFatalLocked(cur)
		k.mu.Unlock()
		return ErrFatal
	}

	page := 0
	for off := 0; off < len(img.Text); off += PageSize {
		pfn, aerr := k.frames.AllocatePage()
		if aerr != nil {
			k.ptRing.destroy(pt)
			k.exitFatalLocked(cur)
			k.mu.Unlock()
			return ErrFatal
		}
		k.mem.Zero(pfn)
		end := off + PageSize
		if end > len(img.Text) {
			end = len(img.Text)
		}
		copy(k.mem.Frame(pfn)[:], img.Text[off:end])
		pt.Entries[page] = PTE{Valid: true, PFN: pfn, UProt: ProtRead | ProtExec, KProt: ProtRead | ProtWrite}
		page++
	}
	for off := 0; off < len(img.Data); off += PageSize {
		pfn, aerr := k.frames.AllocatePage()
		if aerr != nil {
			k.ptRing.destroy(pt)
			k.exitFatalLocked(cur)
			k.mu.Unlock()
			return ErrFatal
		}
		k.mem.Zero(pfn)
		end := off + PageSize
		if end > len(img.Data) {
			end = len(img.Data)
		}
		copy(k.mem.Frame(pfn)[:], img.Data[off:end])
		pt.Entries[page] = PTE{Valid: true, PFN: pfn, UProt: ProtRead | ProtWrite, KProt: ProtRead | ProtWrite}
		page++
	}
	for i := 0; i < img.BSSPages; i++ {
		pfn, aerr := k.frames.AllocatePage()
		if aerr != nil {
			k.ptRing.destroy(pt)
			k.exitFatalLocked(cur)
			k.mu.Unlock()
			return ErrFatal
		}
		k.mem.Zero(pfn) // BSS is always zero-filled
		pt.Entries[page] = PTE{Valid: true, PFN: pfn, UProt: ProtRead | ProtWrite, KProt: ProtRead | ProtWrite}
		page++
	}

	stackTop := k.maxUserPages - 1
	for i := 0; i < stackPages; i++ {
		pfn, aerr := k.frames.AllocatePage()
		if aerr != nil {
			k.ptRing.destroy(pt)
			k.exitFatalLocked(cur)
			k.mu.Unlock()
			return ErrFatal
		}
		k.mem.Zero(pfn)
		pt.Entries[stackTop-i] = PTE{Valid: true, PFN: pfn, UProt: ProtRead | ProtWrite, KProt: ProtRead | ProtWrite}
	}

	cur.PageTable = pt
	cur.HeapBreak = page
	cur.StackBreak = stackTop - stackPages + 1

	k.mu.Unlock()
	return nil
}

// exitFatalLocked is switchExit's caller for the "region 0 already
// freed, allocation failed" path: cur.PageTable is nil at this point
// (nothing left to free), so it is set to an empty table purely so
// switchExit has something to destroy without a nil check leaking
// into the common path.
func (k *Kernel) exitFatalLocked(cur *PCB) {
	if cur.PageTable == nil {
		empty, err := k.ptRing.createPageTable()
		if err == nil {
			cur.PageTable = empty
		}
	}
	k.switchExit(cur)
}
