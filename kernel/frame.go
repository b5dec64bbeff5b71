package kernel

import "fmt"

// FrameAllocator is a bitmap over all physical frames.
// AllocatePage returns the lowest free frame; FreePage is idempotent.
// Frames backing kernel text/data/stack and page-table storage are
// pre-marked at construction and can never be freed through this API.
type FrameAllocator struct {
	used     []bool
	reserved []bool // kernel text/data/stack: permanently allocated
	free     int
}

// NewFrameAllocator builds an allocator over numFrames frames, with
// the frames in [0, reservedFrames) pre-marked as kernel-reserved.
func NewFrameAllocator(numFrames, reservedFrames int) *FrameAllocator {
	f := &FrameAllocator{
		used:     make([]bool, numFrames),
		reserved: make([]bool, numFrames),
	}
	for i := 0; i < reservedFrames && i < numFrames; i++ {
		f.used[i] = true
		f.reserved[i] = true
	}
	f.free = numFrames - reservedFrames
	return f
}

// NumFrames returns the total frame count.
func (f *FrameAllocator) NumFrames() int { return len(f.used) }

// Free returns the number of currently free frames.
func (f *FrameAllocator) Free() int { return f.free }

// AllocatePage returns the lowest-numbered free frame, marking it
// used, or ErrNoMemory if none remain.
func (f *FrameAllocator) AllocatePage() (int, error) {
	for i, used := range f.used {
		if !used {
			f.used[i] = true
			f.free--
			return i, nil
		}
	}
	return 0, ErrNoMemory
}

// FreePage marks frame idx free. Freeing an already-free frame is a
// no-op. Freeing an out-of-range or kernel-reserved frame is a
// programming error and panics, since no legitimate caller should ever
// do so: a frame is allocated iff it is referenced by a live page
// table, the record ring, or kernel text/data/stack.
func (f *FrameAllocator) FreePage(idx int) {
	if idx < 0 || idx >= len(f.used) {
		panic(fmt.Sprintf("kernel: FreePage: frame %d out of range", idx))
	}
	if f.reserved[idx] {
		panic(fmt.Sprintf("kernel: FreePage: frame %d is kernel-reserved", idx))
	}
	if !f.used[idx] {
		return // idempotent
	}
	f.used[idx] = false
	f.free++
}

// HasFree reports whether at least n frames are currently free,
// without allocating them — used by Exec/Fork to check feasibility
// before committing any allocation.
func (f *FrameAllocator) HasFree(n int) bool { return f.free >= n }
