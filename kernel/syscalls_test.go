package kernel

import (
	"sync"
	"testing"
	"time"
)

type fakeLoader struct {
	img *Image
	err error
}

func (l *fakeLoader) Load(name string) (*Image, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.img, nil
}

func newExecKernel(numFrames int, img *Image) *Kernel {
	return New(Config{
		NumFrames:      numFrames,
		ReservedFrames: 2,
		Loader:         &fakeLoader{img: img},
		MaxUserPages:   64,
	})
}

func TestExecLoadsImageAndSetsBreaks(t *testing.T) {
	img := &Image{
		Text:     make([]byte, PageSize),
		Data:     make([]byte, PageSize),
		BSSPages: 1,
	}
	img.Text[0] = 0xAA
	k := newExecKernel(32, img)

	done := make(chan struct{})
	var execErr error
	k.Spawn(func(child *PCB) {
		execErr = k.Exec(child, "prog", nil)
		close(done)
	})
	k.Tick()
	waitFor(t, done)

	if execErr != nil {
		t.Fatalf("Exec: %v", execErr)
	}
}

func TestExecFailsWithoutMutatingOnInsufficientMemory(t *testing.T) {
	img := &Image{Text: make([]byte, 100*PageSize)} // far more pages than available frames
	k := newExecKernel(8, img)

	done := make(chan struct{})
	var execErr error
	var pidBefore, pidAfter int
	k.Spawn(func(child *PCB) {
		pidBefore = k.GetPid(child)
		execErr = k.Exec(child, "prog", nil)
		pidAfter = k.GetPid(child)
		close(done)
	})
	k.Tick()
	waitFor(t, done)

	if execErr != ErrNoMemory {
		t.Fatalf("got %v, want ErrNoMemory", execErr)
	}
	if pidBefore != pidAfter {
		t.Fatal("process identity should survive a failed exec")
	}
}

func TestBrkGrowsAndShrinksHeap(t *testing.T) {
	img := &Image{Text: make([]byte, PageSize)}
	k := newExecKernel(32, img)

	done := make(chan struct{})
	var brkErr1, brkErr2, brkErrInvalid error
	k.Spawn(func(child *PCB) {
		if err := k.Exec(child, "prog", nil); err != nil {
			t.Errorf("Exec: %v", err)
			close(done)
			return
		}
		brkErr1 = k.Brk(child, child.HeapBreak+2)
		brkErr2 = k.Brk(child, child.HeapBreak-1)
		brkErrInvalid = k.Brk(child, child.StackBreak+1)
		close(done)
	})
	k.Tick()
	waitFor(t, done)

	if brkErr1 != nil {
		t.Fatalf("grow Brk: %v", brkErr1)
	}
	if brkErr2 != nil {
		t.Fatalf("shrink Brk: %v", brkErr2)
	}
	if brkErrInvalid != ErrInvalid {
		t.Fatalf("Brk past stack break: got %v, want ErrInvalid", brkErrInvalid)
	}
}

func TestDelayBlocksForExactTickCount(t *testing.T) {
	k := newTestKernel(16, 2, 0)
	done := make(chan struct{})
	var woke int64

	k.Spawn(func(child *PCB) {
		k.Delay(child, 3)
		woke = int64(k.Ticks())
		close(done)
	})
	k.Tick() // schedule the process
	// Let it block in Delay before counting ticks.
	time.Sleep(5 * time.Millisecond)

	for i := 0; i < 3; i++ {
		select {
		case <-done:
			t.Fatalf("Delay woke early after %d ticks", i)
		default:
		}
		k.Tick()
	}
	waitFor(t, done)
	if woke < 4 {
		t.Fatalf("woke at tick %d, expected at least 4", woke)
	}
}

func TestTtyReadWriteRoundTrip(t *testing.T) {
	k := newTestKernel(16, 2, 1)
	done := make(chan struct{})
	var got string

	k.Spawn(func(child *PCB) {
		buf := make([]byte, 16)
		n, err := k.TtyRead(child, 0, buf)
		if err != nil {
			t.Errorf("TtyRead: %v", err)
		}
		got = string(buf[:n])
		close(done)
	})
	k.Tick()

	time.Sleep(5 * time.Millisecond)
	k.TtyReceiveInterrupt(0, []byte("hello\n"))
	waitFor(t, done)

	if got != "hello\n" {
		t.Fatalf("got %q, want %q", got, "hello\n")
	}
}

func TestTtyWriteBlocksUntilChannelFree(t *testing.T) {
	k := newTestKernel(16, 2, 1)
	firstDone := make(chan struct{})
	secondDone := make(chan struct{})

	k.Spawn(func(child *PCB) {
		if _, err := k.TtyWrite(child, 0, []byte("a")); err != nil {
			t.Errorf("TtyWrite: %v", err)
		}
		close(firstDone)
		k.Exit(child, 0) // yield the CPU so the second process can be scheduled
	})
	k.Tick()
	waitFor(t, firstDone)

	k.Spawn(func(child *PCB) {
		if _, err := k.TtyWrite(child, 0, []byte("b")); err != nil {
			t.Errorf("TtyWrite: %v", err)
		}
		close(secondDone)
	})
	k.Tick()

	select {
	case <-secondDone:
		t.Fatal("second TtyWrite should block until the channel drains")
	case <-time.After(10 * time.Millisecond):
	}

	k.TtyTransmitInterrupt(0)
	waitFor(t, secondDone)
}

// A woken writer must re-check the busy flag before taking the
// channel: TtyTransmitInterrupt only readies the writer it dequeues,
// so a third process scheduled ahead of it can call TtyWrite first and
// grab the channel. The loser has to block again rather than write
// over the winner's transmission.
func TestTtyWriteRechecksBusyAfterWakeup(t *testing.T) {
	k := newTestKernel(16, 2, 1)

	var mu sync.Mutex
	var order []string
	record := func(who string) {
		mu.Lock()
		order = append(order, who)
		mu.Unlock()
	}

	aDone := make(chan struct{})
	k.Spawn(func(p *PCB) {
		if _, err := k.TtyWrite(p, 0, []byte("a")); err != nil {
			t.Errorf("TtyWrite a: %v", err)
		}
		record("a")
		close(aDone)
		k.Exit(p, 0)
	})
	k.Tick()
	waitFor(t, aDone)

	// b blocks on the channel a left busy.
	bDone := make(chan struct{})
	k.Spawn(func(p *PCB) {
		if _, err := k.TtyWrite(p, 0, []byte("b")); err != nil {
			t.Errorf("TtyWrite b: %v", err)
		}
		record("b")
		close(bDone)
		k.Exit(p, 0)
	})
	k.Tick()
	time.Sleep(10 * time.Millisecond) // let b park on the write-blocked queue

	// c is spawned but not ticked in, so it sits at the head of the
	// ready queue when the interrupt readies b behind it.
	cDone := make(chan struct{})
	k.Spawn(func(p *PCB) {
		if _, err := k.TtyWrite(p, 0, []byte("c")); err != nil {
			t.Errorf("TtyWrite c: %v", err)
		}
		record("c")
		close(cDone)
		k.Exit(p, 0)
	})

	k.TtyTransmitInterrupt(0)
	waitFor(t, cDone)

	select {
	case <-bDone:
		t.Fatal("b completed while c held the transmit channel")
	case <-time.After(20 * time.Millisecond):
	}

	k.TtyTransmitInterrupt(0)
	waitFor(t, bDone)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "a" || order[1] != "c" || order[2] != "b" {
		t.Fatalf("completion order = %v, want [a c b]", order)
	}
}
