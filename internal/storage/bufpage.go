package storage

import (
	"encoding/binary"
)

// ───────────────────────────────────────────────────────────────────────────
// Buffered Page
// ───────────────────────────────────────────────────────────────────────────
//
// In-memory image of one slotted page. The layout follows the classic
// item-pointer directory:
//
//   [0:4]    upper_ptr (uint32 LE) — byte offset of the lowest tuple,
//            tuple data grows downward from the end of the page
//   [4:8]    lower_ptr (uint32 LE) — byte offset just past the last slot
//            entry, the slot directory grows upward from HeaderSize
//   [8:lower]   slot directory: 4-byte LE tuple offsets, slot i at 8+4*i
//   [lower:upper]  free space
//   [upper:end]    tuple data
//
// Tuple i occupies [slot[i], slot[i-1]), or [slot[0], pageSize) for the
// first slot.
//
// Invariants: HeaderSize <= lower_ptr <= upper_ptr <= pageSize, and
// tuple_count == (lower_ptr - HeaderSize)/4. A zeroed header means an
// empty page (upper = pageSize, lower = HeaderSize).
//
// The page size is the length of the wrapped buffer; the buffer pool
// always uses PageSize, while tests may wrap smaller buffers.

const slotSize = 4

// BufPage is the buffered image of one page, plus the bookkeeping the
// pool needs: the key it was faulted for, the LSN of the last log entry
// applied to it, and a dirty flag.
type BufPage struct {
	buf   []byte
	upper int
	lower int
	key   BufKey

	lastLSN LSN
	dirty   bool
}

// NewBufPage returns an empty page image for key.
func NewBufPage(key BufKey) *BufPage {
	return &BufPage{
		buf:   make([]byte, PageSize),
		upper: PageSize,
		lower: HeaderSize,
		key:   key,
	}
}

// LoadBufPage wraps a page image read from disk. A zero header is
// interpreted as an empty page; anything else must satisfy the layout
// invariants or the page is rejected as ErrInvalidData.
func LoadBufPage(buf []byte, key BufKey) (*BufPage, error) {
	if len(buf) < HeaderSize {
		return nil, Errf(ErrInvalidData, "page %s: buffer of %d bytes is below header size", key, len(buf))
	}
	upper := int(binary.LittleEndian.Uint32(buf[0:4]))
	lower := int(binary.LittleEndian.Uint32(buf[4:8]))
	if upper == 0 && lower == 0 {
		upper = len(buf)
		lower = HeaderSize
	}
	if lower < HeaderSize || upper < lower || upper > len(buf) || (lower-HeaderSize)%slotSize != 0 {
		return nil, Errf(ErrInvalidData, "page %s: bad header upper=%d lower=%d size=%d",
			key, upper, lower, len(buf))
	}
	return &BufPage{buf: buf, upper: upper, lower: lower, key: key}, nil
}

// Key returns the buffer key this page was loaded for.
func (p *BufPage) Key() BufKey { return p.key }

// Data returns the full on-disk image, header in sync with the cached
// pointers.
func (p *BufPage) Data() []byte {
	binary.LittleEndian.PutUint32(p.buf[0:4], uint32(p.upper))
	binary.LittleEndian.PutUint32(p.buf[4:8], uint32(p.lower))
	return p.buf
}

// TupleCount is the number of occupied slots.
func (p *BufPage) TupleCount() int {
	return (p.lower - HeaderSize) / slotSize
}

// FreeSpace is the gap between the slot directory and the tuple data.
func (p *BufPage) FreeSpace() int {
	return p.upper - p.lower
}

// AvailableDataSpace is the largest tuple that still fits, reserving
// room for its slot entry. May be negative on a packed page.
func (p *BufPage) AvailableDataSpace() int {
	return p.upper - p.lower - slotSize
}

// LastLSN is the LSN of the last log entry applied to this page.
func (p *BufPage) LastLSN() LSN { return p.lastLSN }

// Dirty reports whether the image differs from disk.
func (p *BufPage) Dirty() bool { return p.dirty }

// SetClean is called by the buffer manager after a successful flush.
func (p *BufPage) SetClean() { p.dirty = false }

func (p *BufPage) slotOffset(slot int) int {
	return HeaderSize + slot*slotSize
}

func (p *BufPage) slot(slot int) int {
	off := p.slotOffset(slot)
	return int(binary.LittleEndian.Uint32(p.buf[off : off+slotSize]))
}

func (p *BufPage) setSlot(slot, tupleStart int) {
	off := p.slotOffset(slot)
	binary.LittleEndian.PutUint32(p.buf[off:off+slotSize], uint32(tupleStart))
}

// tupleRange returns the [start, end) extent of tuple data for a slot
// that is known to be valid.
func (p *BufPage) tupleRange(slot int) (int, int) {
	start := p.slot(slot)
	end := len(p.buf)
	if slot > 0 {
		end = p.slot(slot - 1)
	}
	return start, end
}

// stamp records that a log entry with the given LSN modified the page.
// lsn 0 marks an unlogged write (bootstrap descriptor pages).
func (p *BufPage) stamp(lsn LSN) {
	if lsn > p.lastLSN {
		p.lastLSN = lsn
	}
	p.dirty = true
}

// AppendTuple writes data into the next free slot and returns its index.
// Fails with ErrNoSpace when the tuple plus its slot entry exceed the
// free space.
func (p *BufPage) AppendTuple(data []byte, lsn LSN) (int, error) {
	if len(data)+slotSize > p.FreeSpace() {
		return 0, Errf(ErrNoSpace, "page %s: tuple of %d bytes does not fit in %d free",
			p.key, len(data), p.FreeSpace())
	}
	slot := p.TupleCount()
	p.upper -= len(data)
	p.setSlot(slot, p.upper)
	p.lower += slotSize
	copy(p.buf[p.upper:p.upper+len(data)], data)
	p.stamp(lsn)
	return slot, nil
}

// OverwriteTuple replaces the tuple in an existing slot. The new data
// must be exactly the current length; variable-length overwrite is
// refused with ErrUnsupported rather than risking slot-directory
// corruption.
func (p *BufPage) OverwriteTuple(slot int, data []byte, lsn LSN) error {
	if slot < 0 || slot >= p.TupleCount() {
		return Errf(ErrInvalidArgument, "page %s: slot %d out of range [0..%d)",
			p.key, slot, p.TupleCount())
	}
	start, end := p.tupleRange(slot)
	if end-start != len(data) {
		return Errf(ErrUnsupported, "page %s slot %d: overwrite of %d-byte tuple with %d bytes",
			p.key, slot, end-start, len(data))
	}
	copy(p.buf[start:end], data)
	p.stamp(lsn)
	return nil
}

// GetTuple returns a view of the tuple named by ptr. The pointer's key
// must match the page; the view aliases the page buffer and is only
// valid while the page lock is held.
func (p *BufPage) GetTuple(ptr TuplePtr) ([]byte, error) {
	if ptr.Key != p.key {
		return nil, Errf(ErrInvalidArgument, "page %s: tuple ptr for foreign page %s", p.key, ptr.Key)
	}
	if ptr.Slot < 0 || ptr.Slot >= p.TupleCount() {
		return nil, Errf(ErrInvalidArgument, "page %s: slot %d out of range [0..%d)",
			p.key, ptr.Slot, p.TupleCount())
	}
	start, end := p.tupleRange(ptr.Slot)
	return p.buf[start:end], nil
}

// ForEachTuple visits tuples in slot order. The callback receives a view
// into the page buffer; returning false stops the iteration. The walk is
// restartable and never modifies the page.
func (p *BufPage) ForEachTuple(fn func(slot int, data []byte) bool) {
	n := p.TupleCount()
	for i := 0; i < n; i++ {
		start, end := p.tupleRange(i)
		if !fn(i, p.buf[start:end]) {
			return
		}
	}
}
