package kernel

const numPTEntries = 1024

// Prot is a page protection bitmask (read/write/exec), mirroring the
// kprot/uprot fields of a PTE.
type Prot int

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
)

// PTE is one page-table entry: {valid, pfn, kprot, uprot}.
type PTE struct {
	Valid bool
	PFN   int
	KProt Prot
	UProt Prot
}

// PageTable is a region-0 page table: 1024 entries, one per PCB,
// packed two-to-a-frame via PageTableRecord.
type PageTable struct {
	Entries [numPTEntries]PTE

	// record/half identify the physical half-page this table is packed
	// into, so Destroy can release the slot back to the ring.
	record *pageTableRecord
	half   int
}

// pageTableRecord is one frame holding up to two half-page-sized page
// tables. usedMask bit i set means half i is occupied.
type pageTableRecord struct {
	frame    int
	usedMask uint8 // bits 0,1
	next     *pageTableRecord
	prev     *pageTableRecord
}

func (r *pageTableRecord) full() bool  { return r.usedMask == 0b11 }
func (r *pageTableRecord) empty() bool { return r.usedMask == 0 }

// pageTableRing is the singly-linked (here doubly-linked for O(1)
// tail removal) list of PageTableRecords at the top of region 1.
type pageTableRing struct {
	frames *FrameAllocator
	head   *pageTableRecord
	tail   *pageTableRecord

	// invalidateRegion1 is called with the virtual page backing a
	// record's frame when that record's last half is freed, so the
	// kernel page table entry can be invalidated and the TLB flushed.
	invalidateRegion1 func(frame int)
}

func newPageTableRing(frames *FrameAllocator, invalidate func(frame int)) *pageTableRing {
	return &pageTableRing{frames: frames, invalidateRegion1: invalidate}
}

// createPageTable returns a fresh PageTable occupying the first free
// half-slot, growing the ring by one frame if every existing record is
// full.
func (r *pageTableRing) createPageTable() (*PageTable, error) {
	for rec := r.head; rec != nil; rec = rec.next {
		if !rec.full() {
			half := 0
			if rec.usedMask&1 != 0 {
				half = 1
			}
			rec.usedMask |= 1 << uint(half)
			return &PageTable{record: rec, half: half}, nil
		}
	}

	frame, err := r.frames.AllocatePage()
	if err != nil {
		return nil, err
	}
	rec := &pageTableRecord{frame: frame}
	rec.usedMask = 1
	if r.tail != nil {
		r.tail.next = rec
		rec.prev = r.tail
	} else {
		r.head = rec
	}
	r.tail = rec
	return &PageTable{record: rec, half: 0}, nil
}

// destroy releases pt's half-slot. If its record becomes empty and is
// the tail, the record's frame is freed and the kernel mapping for it
// invalidated.
func (r *pageTableRing) destroy(pt *PageTable) {
	rec := pt.record
	rec.usedMask &^= 1 << uint(pt.half)
	pt.record = nil

	if rec.empty() && rec == r.tail {
		if rec.prev != nil {
			rec.prev.next = nil
		} else {
			r.head = nil
		}
		r.tail = rec.prev
		r.frames.FreePage(rec.frame)
		if r.invalidateRegion1 != nil {
			r.invalidateRegion1(rec.frame)
		}
	}
}

// freeAll releases every frame this page table's valid entries
// reference, then returns the table's own storage to the ring. Used
// on process exit.
func (pt *PageTable) freeAll(frames *FrameAllocator, ring *pageTableRing) {
	for i := range pt.Entries {
		if pt.Entries[i].Valid {
			frames.FreePage(pt.Entries[i].PFN)
			pt.Entries[i].Valid = false
		}
	}
	ring.destroy(pt)
}

// clone makes a fresh PageTable whose valid entries point at newly
// allocated frames with the same contents and protections as src, the
// page-by-page copy step of fork. Each frame is bounced through the
// region-1 scratch page, since the kernel can address only one
// region-0 page table at a time.
func (src *PageTable) clone(frames *FrameAllocator, ring *pageTableRing, mem *PhysicalMemory) (*PageTable, error) {
	dst, err := ring.createPageTable()
	if err != nil {
		return nil, err
	}
	allocated := make([]int, 0, numPTEntries)
	for i := range src.Entries {
		if !src.Entries[i].Valid {
			continue
		}
		pfn, err := frames.AllocatePage()
		if err != nil {
			for _, f := range allocated {
				frames.FreePage(f)
			}
			ring.destroy(dst)
			return nil, ErrNoMemory
		}
		allocated = append(allocated, pfn)
		mem.CopyFrame(pfn, src.Entries[i].PFN)
		dst.Entries[i] = PTE{Valid: true, PFN: pfn, KProt: src.Entries[i].KProt, UProt: src.Entries[i].UProt}
	}
	return dst, nil
}
