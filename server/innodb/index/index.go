// Package index implements the two index kinds described in spec.md
// §4.6: an ordered index (B-tree shaped, supporting range scans) and a
// hashed index (equality only), sharing one Index contract.
package index

import (
	"sort"
	"sync"

	"github.com/fr3ddy-fryd3/postgrust-sql/logger"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
	"github.com/fr3ddy-fryd3/postgrust-sql/util"
	"github.com/pkg/errors"
)

// Inclusivity controls whether a range bound is inclusive (<=, >=) or
// exclusive (<, >) for LookupRange.
type Inclusivity struct {
	LowInclusive  bool
	HighInclusive bool
}

// Index is the shared contract for ordered and hashed indexes.
type Index interface {
	Name() string
	Insert(key string, loc basic.Locator) error
	Remove(key string, loc basic.Locator)
	LookupEq(key string) []basic.Locator
	// LookupRange is only supported by ordered indexes; hashed indexes
	// return an error.
	LookupRange(low, high *string, inc Inclusivity) ([]basic.Locator, error)
	IsUnique() bool
}

var ErrRangeUnsupported = errors.New("index: range scan unsupported by a hashed index")

// --- Ordered (B-tree-shaped) index ---------------------------------------

// Ordered is a sorted-key index, logically a B-tree keyed by the
// composite-encoded column values. It is implemented as a sorted slice
// of keys with sorted locator sets per key: simple to reason about and
// sufficient at the scale this engine targets, the same tradeoff the
// teacher's bplus_tree_manager.go makes by keeping the tree shape
// logical rather than physically paged.
type Ordered struct {
	mu     sync.RWMutex
	name   string
	unique bool
	keys   []string                   // sorted, unique
	rows   map[string][]basic.Locator // key -> locators, insertion order
}

// NewOrdered creates an empty ordered index.
func NewOrdered(name string, unique bool) *Ordered {
	return &Ordered{name: name, unique: unique, rows: make(map[string][]basic.Locator)}
}

func (o *Ordered) Name() string    { return o.name }
func (o *Ordered) IsUnique() bool  { return o.unique }

func (o *Ordered) Insert(key string, loc basic.Locator) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.unique {
		if existing, ok := o.rows[key]; ok && len(existing) > 0 {
			return basic.ErrUniqueViolation
		}
	}

	if _, ok := o.rows[key]; !ok {
		i := sort.SearchStrings(o.keys, key)
		o.keys = append(o.keys, "")
		copy(o.keys[i+1:], o.keys[i:])
		o.keys[i] = key
	}
	o.rows[key] = append(o.rows[key], loc)
	return nil
}

func (o *Ordered) Remove(key string, loc basic.Locator) {
	o.mu.Lock()
	defer o.mu.Unlock()

	locs, ok := o.rows[key]
	if !ok {
		return
	}
	filtered := locs[:0]
	for _, l := range locs {
		if l != loc {
			filtered = append(filtered, l)
		}
	}
	if len(filtered) == 0 {
		delete(o.rows, key)
		i := sort.SearchStrings(o.keys, key)
		if i < len(o.keys) && o.keys[i] == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
		}
		return
	}
	o.rows[key] = filtered
}

func (o *Ordered) LookupEq(key string) []basic.Locator {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]basic.Locator, len(o.rows[key]))
	copy(out, o.rows[key])
	return out
}

func (o *Ordered) LookupRange(low, high *string, inc Inclusivity) ([]basic.Locator, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	lo := 0
	if low != nil {
		lo = sort.SearchStrings(o.keys, *low)
		if !inc.LowInclusive {
			for lo < len(o.keys) && o.keys[lo] == *low {
				lo++
			}
		}
	}
	hi := len(o.keys)
	if high != nil {
		hi = sort.SearchStrings(o.keys, *high)
		if inc.HighInclusive {
			for hi < len(o.keys) && o.keys[hi] == *high {
				hi++
			}
		}
	}
	var out []basic.Locator
	for i := lo; i < hi && i < len(o.keys); i++ {
		out = append(out, o.rows[o.keys[i]]...)
	}
	return out, nil
}

// --- Hashed index ---------------------------------------------------------

// Hashed is an equality-only index keyed by an xxhash digest of the
// composite-encoded column values, grounded in util.HashCode.
type Hashed struct {
	mu     sync.RWMutex
	name   string
	unique bool
	// buckets groups entries by xxhash digest first, then by the exact
	// key within the bucket so that a digest collision never merges two
	// distinct keys' locator sets.
	buckets map[uint64]map[string][]basic.Locator
}

// NewHashed creates an empty hashed index.
func NewHashed(name string, unique bool) *Hashed {
	return &Hashed{name: name, unique: unique, buckets: make(map[uint64]map[string][]basic.Locator)}
}

func (h *Hashed) Name() string   { return h.name }
func (h *Hashed) IsUnique() bool { return h.unique }

func (h *Hashed) Insert(key string, loc basic.Locator) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	digest := util.HashCode([]byte(key))
	bucket, ok := h.buckets[digest]
	if !ok {
		bucket = make(map[string][]basic.Locator)
		h.buckets[digest] = bucket
	}
	if h.unique {
		if existing, ok := bucket[key]; ok && len(existing) > 0 {
			return basic.ErrUniqueViolation
		}
	}
	bucket[key] = append(bucket[key], loc)
	return nil
}

func (h *Hashed) Remove(key string, loc basic.Locator) {
	h.mu.Lock()
	defer h.mu.Unlock()

	digest := util.HashCode([]byte(key))
	bucket, ok := h.buckets[digest]
	if !ok {
		return
	}
	locs, ok := bucket[key]
	if !ok {
		return
	}
	filtered := locs[:0]
	for _, l := range locs {
		if l != loc {
			filtered = append(filtered, l)
		}
	}
	if len(filtered) == 0 {
		delete(bucket, key)
		if len(bucket) == 0 {
			delete(h.buckets, digest)
		}
		return
	}
	bucket[key] = filtered
}

func (h *Hashed) LookupEq(key string) []basic.Locator {
	h.mu.RLock()
	defer h.mu.RUnlock()

	digest := util.HashCode([]byte(key))
	bucket, ok := h.buckets[digest]
	if !ok {
		return nil
	}
	locs := bucket[key]
	out := make([]basic.Locator, len(locs))
	copy(out, locs)
	return out
}

func (h *Hashed) LookupRange(low, high *string, inc Inclusivity) ([]basic.Locator, error) {
	return nil, ErrRangeUnsupported
}

// Rebuild scans every row of a table and repopulates an index from
// scratch, used on startup since indexes are not persisted (spec.md
// §4.4, §4.7).
func Rebuild(idx Index, rows []RowForIndex) error {
	for _, r := range rows {
		if r.Key == "" {
			continue
		}
		if err := idx.Insert(r.Key, r.Locator); err != nil {
			logger.Warnf("index: rebuild skipped duplicate key on %s: %v", idx.Name(), err)
		}
	}
	return nil
}

// RowForIndex is the minimal shape Rebuild needs from a table scan.
type RowForIndex struct {
	Key     string
	Locator basic.Locator
}
