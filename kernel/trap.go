package kernel

// TrapKind identifies which of the seven trap vectors fired.
type TrapKind int

const (
	TrapSyscall TrapKind = iota
	TrapClock
	TrapIllegal
	TrapMemory
	TrapMath
	TrapTTYReceive
	TrapTTYTransmit
)

// SyscallNum identifies which syscall a TrapSyscall carries.
type SyscallNum int

const (
	SysFork SyscallNum = iota
	SysExec
	SysExit
	SysWait
	SysGetPid
	SysBrk
	SysDelay
	SysTtyRead
	SysTtyWrite
)

// Trap is the argument frame a trap handler receives, standing in for
// the saved-register UserContext a real trap delivers. Only
// the fields relevant to the firing TrapKind/SyscallNum are populated.
type Trap struct {
	Kind TrapKind
	Sys  SyscallNum

	Term     int
	Buf      []byte
	ExitCode int
	DelayTicks int
	BrkPages int
	ExecName string
	ExecArgv []string
	ChildEntry func(child *PCB)

	// FaultAddr is the faulting virtual page for TrapMemory, used to
	// decide whether the fault is a legitimate stack-growth request:
	// the stack grows down to cover the faulting address if doing so
	// does not collide with the heap break.
	FaultAddr int
}

// TrapResult carries a trap handler's outcome back to the simulated
// user-mode caller.
type TrapResult struct {
	N      int
	PID    int
	Status int
	Err    error
}

// Dispatch routes one trap to its handler. cur is the PCB the trap
// occurred in.
func (k *Kernel) Dispatch(cur *PCB, t Trap) TrapResult {
	switch t.Kind {
	case TrapSyscall:
		return k.dispatchSyscall(cur, t)
	case TrapClock:
		k.Tick()
		return TrapResult{}
	case TrapIllegal:
		k.Exit(cur, -1)
		return TrapResult{Err: ErrFatal}
	case TrapMemory:
		return k.handleMemoryFault(cur, t)
	case TrapMath:
		k.Exit(cur, -1)
		return TrapResult{Err: ErrFatal}
	case TrapTTYReceive:
		k.TtyReceiveInterrupt(t.Term, t.Buf)
		return TrapResult{}
	case TrapTTYTransmit:
		k.TtyTransmitInterrupt(t.Term)
		return TrapResult{}
	default:
		return TrapResult{Err: ErrInvalid}
	}
}

func (k *Kernel) dispatchSyscall(cur *PCB, t Trap) TrapResult {
	switch t.Sys {
	case SysFork:
		pid, err := k.Fork(cur, t.ChildEntry)
		return TrapResult{PID: pid, Err: err}
	case SysExec:
		return TrapResult{Err: k.Exec(cur, t.ExecName, t.ExecArgv)}
	case SysExit:
		return TrapResult{Err: k.Exit(cur, t.ExitCode)}
	case SysWait:
		pid, status, err := k.Wait(cur)
		return TrapResult{PID: pid, Status: status, Err: err}
	case SysGetPid:
		return TrapResult{PID: k.GetPid(cur)}
	case SysBrk:
		return TrapResult{Err: k.Brk(cur, t.BrkPages)}
	case SysDelay:
		return TrapResult{Err: k.Delay(cur, t.DelayTicks)}
	case SysTtyRead:
		n, err := k.TtyRead(cur, t.Term, t.Buf)
		return TrapResult{N: n, Err: err}
	case SysTtyWrite:
		n, err := k.TtyWrite(cur, t.Term, t.Buf)
		return TrapResult{N: n, Err: err}
	default:
		return TrapResult{Err: ErrInvalid}
	}
}

// handleMemoryFault implements automatic stack growth: a fault below
// the current stack break but above the heap break (with at least one
// red-zone page free) extends the stack down to cover the faulting
// page; anything else is a fatal illegal reference.
func (k *Kernel) handleMemoryFault(cur *PCB, t Trap) TrapResult {
	k.mu.Lock()
	k.checkIn(cur)
	faultPage := t.FaultAddr

	if faultPage < 0 || faultPage >= cur.StackBreak || faultPage <= cur.HeapBreak {
		k.mu.Unlock()
		k.Exit(cur, -1)
		return TrapResult{Err: ErrFatal}
	}

	for p := faultPage; p < cur.StackBreak; p++ {
		if cur.PageTable.Entries[p].Valid {
			continue
		}
		pfn, err := k.frames.AllocatePage()
		if err != nil {
			k.mu.Unlock()
			k.Exit(cur, -1)
			return TrapResult{Err: ErrFatal}
		}
		k.mem.Zero(pfn)
		cur.PageTable.Entries[p] = PTE{Valid: true, PFN: pfn, UProt: ProtRead | ProtWrite, KProt: ProtRead | ProtWrite}
	}
	cur.StackBreak = faultPage
	k.mu.Unlock()
	return TrapResult{}
}
