package kernel

// PageSize is the simulated frame size in bytes.
const PageSize = 4096

// PhysicalMemory is the simulated backing store for every physical
// frame: a flat array of page-sized buffers. Region-0/region-1
// addressing and the MMU itself are not modeled; frames are accessed
// directly by number, with CopyFrame standing in for fork's
// scratch-page bounce — on real hardware, the kernel cannot
// address two region-0 page tables at once, so it bounces the source
// page through a single fixed scratch page in region 1 before
// installing the destination table and copying scratch into place.
// Here frame content is addressable directly, but CopyFrame still
// takes the scratch-page lock so a test or future port that swaps in a
// real MMU-backed PhysicalMemory only has to change CopyFrame, not its
// callers.
type PhysicalMemory struct {
	frames [][PageSize]byte
	// scratchMu models the single fixed scratch page in region 1:
	// only one fork page-copy is ever in flight at a time, which is
	// already true under the kernel's single global scheduler lock,
	// but keeping an explicit lock here documents the dependency.
	scratchMu chan struct{}
}

// NewPhysicalMemory allocates storage for numFrames frames.
func NewPhysicalMemory(numFrames int) *PhysicalMemory {
	m := &PhysicalMemory{
		frames:    make([][PageSize]byte, numFrames),
		scratchMu: make(chan struct{}, 1),
	}
	m.scratchMu <- struct{}{}
	return m
}

// CopyFrame copies the contents of frame src into frame dst, the way
// fork clones a region-0 page one frame at a time through the scratch
// page.
func (m *PhysicalMemory) CopyFrame(dst, src int) {
	<-m.scratchMu
	defer func() { m.scratchMu <- struct{}{} }()
	m.frames[dst] = m.frames[src]
}

// Zero clears frame idx, the way a freshly allocated data/bss/stack
// frame is zero-filled.
func (m *PhysicalMemory) Zero(idx int) {
	m.frames[idx] = [PageSize]byte{}
}

// Frame returns a mutable view of frame idx's contents.
func (m *PhysicalMemory) Frame(idx int) *[PageSize]byte {
	return &m.frames[idx]
}
