package basic

import "encoding/gob"

// Locator is a stable (page id, slot index) pair identifying a tuple on
// disk, per the GLOSSARY definition.
type Locator struct {
	PageID uint32
	Slot   uint16
}

// Row is a tuple: ordered values matching a table's column list, plus the
// MVCC fields that stamp who created and who (if anyone) superseded it.
type Row struct {
	Values []Value
	Xmin   uint64
	Xmax   uint64 // 0 means unset
}

func init() {
	gob.Register(Row{})
}

// Clone returns a deep-enough copy for safe mutation (new Values slice).
func (r Row) Clone() Row {
	out := Row{Values: make([]Value, len(r.Values)), Xmin: r.Xmin, Xmax: r.Xmax}
	copy(out.Values, r.Values)
	return out
}

// HasXmax reports whether this row version has been superseded or deleted.
func (r Row) HasXmax() bool { return r.Xmax != 0 }
