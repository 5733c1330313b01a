// Package pagedtable implements the typed row iterator over pages
// described in spec.md §4.5: append, random-access, overwrite, free and
// enumerate, each going through the buffer pool and page manager and
// emitting the matching WAL record.
package pagedtable

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/bufferpool"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/pagemanager"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/wal"
)

// Table is a row iterator bound to one catalog table's on-disk pages.
type Table struct {
	Name string
	pool *bufferpool.Pool
	pm   *pagemanager.Manager
	log  *wal.WAL
}

// New binds a PagedTable to a table name, sharing the process-wide pool,
// page manager and WAL.
func New(name string, pool *bufferpool.Pool, pm *pagemanager.Manager, log *wal.WAL) *Table {
	return &Table{Name: name, pool: pool, pm: pm, log: log}
}

func encodeRow(r basic.Row) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, errors.Wrap(err, "pagedtable: encoding row")
	}
	return buf.Bytes(), nil
}

func decodeRow(body []byte) (basic.Row, error) {
	var r basic.Row
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&r); err != nil {
		return basic.Row{}, errors.Wrap(err, "pagedtable: decoding row")
	}
	return r, nil
}

// Append finds a page with free space (or allocates a new one), writes
// the row, and appends an Insert WAL record.
func (t *Table) Append(row basic.Row) (basic.Locator, error) {
	loc, err := t.placeTuple(row)
	if err != nil {
		return basic.Locator{}, err
	}
	if _, err := t.log.Append(wal.Record{
		Kind: wal.KindInsert, Table: t.Name, PageID: loc.PageID, Slot: loc.Slot,
		Tuple: row, Xmin: row.Xmin,
	}); err != nil {
		return basic.Locator{}, err
	}
	// Per spec.md §5 ordering guarantee 1, a statement's effects are
	// durable by the time its response is sent: flush the touched page
	// now rather than leaving it for the next checkpoint or eviction, so
	// a crash immediately after this call never loses the tuple.
	if err := t.pool.FlushPage(t.Name, loc.PageID); err != nil {
		return basic.Locator{}, err
	}
	return loc, nil
}

// placeTuple writes row into an existing page with free space or a
// freshly allocated one, without emitting any WAL record -- callers are
// responsible for logging the operation that placeTuple is part of.
func (t *Table) placeTuple(row basic.Row) (basic.Locator, error) {
	body, err := encodeRow(row)
	if err != nil {
		return basic.Locator{}, err
	}

	count, err := t.pm.PageCount(t.Name)
	if err != nil {
		return basic.Locator{}, err
	}

	for id := uint32(0); id < count; id++ {
		h, err := t.pool.Fetch(t.Name, id)
		if err != nil {
			return basic.Locator{}, err
		}
		slot, err := h.Page.InsertTuple(body)
		if err == nil {
			t.pool.Unpin(h, true)
			return basic.Locator{PageID: id, Slot: uint16(slot)}, nil
		}
		t.pool.Unpin(h, false)
		if !errors.Is(err, basic.ErrPageFull) {
			return basic.Locator{}, err
		}
	}

	id, err := t.pm.AllocatePage(t.Name)
	if err != nil {
		return basic.Locator{}, err
	}
	h, err := t.pool.Fetch(t.Name, id)
	if err != nil {
		return basic.Locator{}, err
	}
	slot, err := h.Page.InsertTuple(body)
	if err != nil {
		t.pool.Unpin(h, false)
		return basic.Locator{}, err
	}
	t.pool.Unpin(h, true)
	return basic.Locator{PageID: id, Slot: uint16(slot)}, nil
}

// Get random-accesses a row by locator.
func (t *Table) Get(loc basic.Locator) (basic.Row, error) {
	h, err := t.pool.Fetch(t.Name, loc.PageID)
	if err != nil {
		return basic.Row{}, err
	}
	defer t.pool.Unpin(h, false)
	body, err := h.Page.ReadTuple(int(loc.Slot))
	if err != nil {
		return basic.Row{}, err
	}
	return decodeRow(body)
}

// Overwrite writes a new version of a row at the given locator. If the
// new serialized form fits the existing slot it is overwritten in
// place; otherwise the slot is freed and the row appended elsewhere,
// and the new locator is returned.
func (t *Table) Overwrite(loc basic.Locator, row basic.Row) (basic.Locator, error) {
	body, err := encodeRow(row)
	if err != nil {
		return basic.Locator{}, err
	}
	h, err := t.pool.Fetch(t.Name, loc.PageID)
	if err != nil {
		return basic.Locator{}, err
	}
	ok, err := h.Page.OverwriteTuple(int(loc.Slot), body)
	if err != nil {
		t.pool.Unpin(h, false)
		return basic.Locator{}, err
	}
	if ok {
		t.pool.Unpin(h, true)
		if _, err := t.log.Append(wal.Record{
			Kind: wal.KindUpdate, Table: t.Name, OldPage: loc.PageID, OldSlot: loc.Slot,
			PageID: loc.PageID, Slot: loc.Slot, Tuple: row, Xmin: row.Xmin, PrevXmax: row.Xmax,
		}); err != nil {
			return basic.Locator{}, err
		}
		if err := t.pool.FlushPage(t.Name, loc.PageID); err != nil {
			return basic.Locator{}, err
		}
		return loc, nil
	}
	t.pool.Unpin(h, false)

	if err := t.freeNoLog(loc); err != nil {
		return basic.Locator{}, err
	}
	newLoc, err := t.placeTuple(row)
	if err != nil {
		return basic.Locator{}, err
	}
	if _, err := t.log.Append(wal.Record{
		Kind: wal.KindUpdate, Table: t.Name, OldPage: loc.PageID, OldSlot: loc.Slot,
		PageID: newLoc.PageID, Slot: newLoc.Slot, Tuple: row, Xmin: row.Xmin, PrevXmax: row.Xmax,
	}); err != nil {
		return basic.Locator{}, err
	}
	if err := t.pool.FlushPage(t.Name, newLoc.PageID); err != nil {
		return basic.Locator{}, err
	}
	return newLoc, nil
}

// Free marks a row's slot as a tombstone, physically reclaiming it. Used
// by VACUUM once a row version is proven dead, and internally by
// Overwrite when relocating a row that no longer fits its old slot. Does
// not itself emit a WAL record -- logical deletion (stamping xmax) is
// logged by the DML executor via its own Delete record.
func (t *Table) Free(loc basic.Locator) error {
	return t.freeNoLog(loc)
}

func (t *Table) freeNoLog(loc basic.Locator) error {
	h, err := t.pool.Fetch(t.Name, loc.PageID)
	if err != nil {
		return err
	}
	if err := h.Page.FreeTuple(int(loc.Slot)); err != nil {
		t.pool.Unpin(h, false)
		return err
	}
	t.pool.Unpin(h, true)
	return t.pool.FlushPage(t.Name, loc.PageID)
}

// LocatedRow pairs a tuple with the locator it was read from.
type LocatedRow struct {
	Locator basic.Locator
	Row     basic.Row
}

// Scan enumerates every live row in the table along with its locator.
func (t *Table) Scan() ([]LocatedRow, error) {
	count, err := t.pm.PageCount(t.Name)
	if err != nil {
		return nil, err
	}
	var out []LocatedRow
	for id := uint32(0); id < count; id++ {
		h, err := t.pool.Fetch(t.Name, id)
		if err != nil {
			return nil, err
		}
		for _, ls := range h.Page.IterLiveSlots() {
			row, err := decodeRow(ls.Body)
			if err != nil {
				t.pool.Unpin(h, false)
				return nil, err
			}
			out = append(out, LocatedRow{
				Locator: basic.Locator{PageID: id, Slot: uint16(ls.SlotIndex)},
				Row:     row,
			})
		}
		t.pool.Unpin(h, false)
	}
	return out, nil
}

// CompactPage repacks one page, used by VACUUM after freeing dead
// tuples' slots on it.
func (t *Table) CompactPage(id uint32) error {
	h, err := t.pool.Fetch(t.Name, id)
	if err != nil {
		return err
	}
	h.Page.Compact()
	t.pool.Unpin(h, true)
	return t.pool.FlushPage(t.Name, id)
}
