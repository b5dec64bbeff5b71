package kernel

import "testing"

func TestSetKernelBrkBeforeVMOnlyMovesBreak(t *testing.T) {
	k := newTestKernel(32, 4, 0)

	free := k.frames.Free()
	if err := k.SetKernelBrk(10); err != nil {
		t.Fatalf("SetKernelBrk: %v", err)
	}
	if k.KernelBrk() != 10 {
		t.Fatalf("KernelBrk = %d, want 10", k.KernelBrk())
	}
	if k.frames.Free() != free {
		t.Fatal("pre-VM SetKernelBrk must not touch the frame allocator")
	}
}

func TestSetKernelBrkAfterVMAllocatesAndFreesFrames(t *testing.T) {
	k := newTestKernel(32, 4, 0)
	k.EnableVM()

	free := k.frames.Free()
	if err := k.SetKernelBrk(4 + 3); err != nil {
		t.Fatalf("grow SetKernelBrk: %v", err)
	}
	if k.frames.Free() != free-3 {
		t.Fatalf("grow should consume 3 frames, Free()=%d want %d", k.frames.Free(), free-3)
	}

	if err := k.SetKernelBrk(4 + 1); err != nil {
		t.Fatalf("shrink SetKernelBrk: %v", err)
	}
	if k.frames.Free() != free-1 {
		t.Fatalf("shrink should return 2 frames, Free()=%d want %d", k.frames.Free(), free-1)
	}
}

func TestSetKernelBrkCannotShrinkBelowStaticFootprint(t *testing.T) {
	k := newTestKernel(32, 4, 0)
	k.EnableVM()

	if err := k.SetKernelBrk(2); err != ErrInvalid {
		t.Fatalf("shrinking below the VM-enable floor = %v, want ErrInvalid", err)
	}
}

func TestSetKernelBrkFailsCleanlyWhenOutOfFrames(t *testing.T) {
	k := newTestKernel(8, 4, 0)
	k.EnableVM()

	free := k.frames.Free()
	if err := k.SetKernelBrk(4 + free + 5); err != ErrNoMemory {
		t.Fatalf("overcommitted SetKernelBrk = %v, want ErrNoMemory", err)
	}
	if k.frames.Free() != free || k.KernelBrk() != 4 {
		t.Fatal("a failed SetKernelBrk must leave the break and allocator untouched")
	}
}
