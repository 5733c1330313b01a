// Package page implements the fixed 8 KiB storage unit described in
// spec.md §4.1: a header, a slot directory growing upward, and a tuple
// heap growing downward from the page tail.
package page

import (
	"encoding/binary"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
)

const (
	// Size is the fixed on-disk and in-memory page size.
	Size = 8192

	headerLen    = 12 // page id (4) + free space offset (2) + slot count (2) + reserved (4)
	slotEntryLen = 4  // offset (uint16) + length (uint16)
)

// Page is the 8 KiB fixed unit. PinCount and Dirty are in-memory-only
// bookkeeping the BufferPool maintains; they are never serialized.
type Page struct {
	ID       uint32
	PinCount int32
	Dirty    bool

	buf []byte // exactly Size bytes, the serializable page body
}

// New creates an empty page with the given id, header initialized so
// that free space starts immediately after the header and runs to the
// page tail.
func New(id uint32) *Page {
	p := &Page{ID: id, buf: make([]byte, Size)}
	p.setFreeOffset(headerLen)
	p.setSlotCount(0)
	binary.BigEndian.PutUint32(p.buf[0:4], id)
	return p
}

// FromBytes wraps an existing on-disk page body (exactly Size bytes) so
// that any process can read pages written by any other process -- the
// concrete encoding is not pointer-dependent.
func FromBytes(buf []byte) *Page {
	p := &Page{buf: make([]byte, Size)}
	copy(p.buf, buf)
	p.ID = binary.BigEndian.Uint32(p.buf[0:4])
	return p
}

// Bytes returns the serializable page body, ready to be written to disk.
func (p *Page) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, p.buf)
	return out
}

func (p *Page) freeOffset() uint16    { return binary.BigEndian.Uint16(p.buf[4:6]) }
func (p *Page) setFreeOffset(v int)   { binary.BigEndian.PutUint16(p.buf[4:6], uint16(v)) }
func (p *Page) SlotCount() int        { return int(binary.BigEndian.Uint16(p.buf[6:8])) }
func (p *Page) setSlotCount(v int)    { binary.BigEndian.PutUint16(p.buf[6:8], uint16(v)) }

func (p *Page) slotOffset(idx int) int { return headerLen + idx*slotEntryLen }

func (p *Page) readSlot(idx int) (offset, length uint16) {
	o := p.slotOffset(idx)
	return binary.BigEndian.Uint16(p.buf[o : o+2]), binary.BigEndian.Uint16(p.buf[o+2 : o+4])
}

func (p *Page) writeSlot(idx int, offset, length uint16) {
	o := p.slotOffset(idx)
	binary.BigEndian.PutUint16(p.buf[o:o+2], offset)
	binary.BigEndian.PutUint16(p.buf[o+2:o+4], length)
}

// tupleHeapStart is where the next tuple body would be written if the
// heap has not yet used any space (the page tail).
func (p *Page) tupleHeapStart() int {
	// Lowest occupied offset among live tuples; Size if the heap is empty.
	lowest := Size
	for i := 0; i < p.SlotCount(); i++ {
		off, length := p.readSlot(i)
		if length == 0 {
			continue
		}
		if int(off) < lowest {
			lowest = int(off)
		}
	}
	return lowest
}

// FreeBytes returns the free space between the slot directory end and
// the tuple heap start, per invariant 7.
func (p *Page) FreeBytes() int {
	dirEnd := int(p.freeOffset())
	heapStart := p.tupleHeapStart()
	free := heapStart - dirEnd
	if free < 0 {
		return 0
	}
	return free
}

// InsertTuple appends a new slot and writes body into the heap. It fails
// with basic.ErrPageFull if (free heap) - (one slot entry) < len(body).
func (p *Page) InsertTuple(body []byte) (slotIndex int, err error) {
	needed := len(body) + slotEntryLen
	if p.FreeBytes() < needed {
		return 0, basic.ErrPageFull
	}
	heapStart := p.tupleHeapStart()
	newOffset := heapStart - len(body)
	copy(p.buf[newOffset:newOffset+len(body)], body)

	idx := p.SlotCount()
	p.setSlotCount(idx + 1)
	p.setFreeOffset(p.slotOffset(idx + 1))
	p.writeSlot(idx, uint16(newOffset), uint16(len(body)))
	p.Dirty = true
	return idx, nil
}

// ReadTuple returns the tuple body for a slot, or basic.ErrTombstone if
// the slot has been freed, or basic.ErrSlotNotFound if out of range.
func (p *Page) ReadTuple(slotIndex int) ([]byte, error) {
	if slotIndex < 0 || slotIndex >= p.SlotCount() {
		return nil, basic.ErrSlotNotFound
	}
	off, length := p.readSlot(slotIndex)
	if length == 0 {
		return nil, basic.ErrTombstone
	}
	out := make([]byte, length)
	copy(out, p.buf[off:int(off)+int(length)])
	return out, nil
}

// OverwriteTuple replaces a live slot's body in place if it fits in the
// slot's current length, reporting insufficient-space (false) otherwise.
func (p *Page) OverwriteTuple(slotIndex int, body []byte) (ok bool, err error) {
	if slotIndex < 0 || slotIndex >= p.SlotCount() {
		return false, basic.ErrSlotNotFound
	}
	off, length := p.readSlot(slotIndex)
	if length == 0 {
		return false, basic.ErrTombstone
	}
	if len(body) > int(length) {
		return false, nil
	}
	copy(p.buf[off:int(off)+len(body)], body)
	// Shrink the recorded length so FreeBytes accounting stays exact;
	// the vacated bytes are not reclaimed until VACUUM compacts the page.
	p.writeSlot(slotIndex, off, uint16(len(body)))
	p.Dirty = true
	return true, nil
}

// FreeTuple zeroes a slot's length, marking it a tombstone. The heap is
// not compacted in place -- compaction is a VACUUM responsibility.
func (p *Page) FreeTuple(slotIndex int) error {
	if slotIndex < 0 || slotIndex >= p.SlotCount() {
		return basic.ErrSlotNotFound
	}
	off, _ := p.readSlot(slotIndex)
	p.writeSlot(slotIndex, off, 0)
	p.Dirty = true
	return nil
}

// LiveSlot pairs a slot index with its tuple body, for iteration.
type LiveSlot struct {
	SlotIndex int
	Body      []byte
}

// IterLiveSlots returns every non-tombstoned (slot, bytes) pair.
func (p *Page) IterLiveSlots() []LiveSlot {
	var out []LiveSlot
	for i := 0; i < p.SlotCount(); i++ {
		_, length := p.readSlot(i)
		if length == 0 {
			continue
		}
		body, err := p.ReadTuple(i)
		if err != nil {
			continue
		}
		out = append(out, LiveSlot{SlotIndex: i, Body: body})
	}
	return out
}

// Compact repacks the tuple heap to discard tombstoned slots' space,
// used by VACUUM after it has freed dead tuples' slots. Slot indices of
// surviving tuples are preserved -- only dead tuples' space is reclaimed
// -- so outstanding locators into this page stay valid.
func (p *Page) Compact() {
	slotCount := p.SlotCount()
	newBuf := make([]byte, Size)
	copy(newBuf[0:headerLen], p.buf[0:headerLen])
	offset := Size
	for i := 0; i < slotCount; i++ {
		_, length := p.readSlot(i)
		o := headerLen + i*slotEntryLen
		if length == 0 {
			binary.BigEndian.PutUint16(newBuf[o:o+2], 0)
			binary.BigEndian.PutUint16(newBuf[o+2:o+4], 0)
			continue
		}
		body, _ := p.ReadTuple(i)
		offset -= len(body)
		copy(newBuf[offset:offset+len(body)], body)
		binary.BigEndian.PutUint16(newBuf[o:o+2], uint16(offset))
		binary.BigEndian.PutUint16(newBuf[o+2:o+4], uint16(length))
	}
	p.buf = newBuf
	p.Dirty = true
}
