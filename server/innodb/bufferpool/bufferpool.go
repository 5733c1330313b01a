// Package bufferpool implements the LRU-cached page map described in
// spec.md §4.2: a fixed-capacity map from page id to a pinned in-memory
// page handle, with dirty tracking and eviction.
package bufferpool

import (
	"container/list"
	"sync"

	"github.com/fr3ddy-fryd3/postgrust-sql/logger"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/page"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/pagemanager"
)

// key identifies a page across all tables sharing one pool.
type key struct {
	table string
	id    uint32
}

// Handle is a pinned reference to a cached page. Callers must Unpin when
// done; the page is not evicted while PinCount > 0.
type Handle struct {
	Table string
	Page  *page.Page
}

type entry struct {
	handle   *Handle
	lruElem  *list.Element
}

// Pool is the fixed-capacity, process-wide buffer pool.
type Pool struct {
	mu       sync.Mutex
	capacity int
	pages    map[key]*entry
	lru      *list.List // front = most recently used
	pm       *pagemanager.Manager
}

// New creates a pool of the given page capacity backed by pm for
// disk reads/writes on miss and eviction.
func New(capacity int, pm *pagemanager.Manager) *Pool {
	return &Pool{
		capacity: capacity,
		pages:    make(map[key]*entry),
		lru:      list.New(),
		pm:       pm,
	}
}

// Fetch loads a page into the pool (from disk on miss) and pins it.
func (p *Pool) Fetch(table string, id uint32) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := key{table, id}
	if e, ok := p.pages[k]; ok {
		e.handle.Page.PinCount++
		p.lru.MoveToFront(e.lruElem)
		return e.handle, nil
	}

	if len(p.pages) >= p.capacity {
		if err := p.evictLocked(); err != nil {
			return nil, err
		}
	}

	buf, err := p.pm.ReadPage(table, id)
	if err != nil {
		return nil, err
	}
	pg := page.FromBytes(buf)
	pg.PinCount = 1

	h := &Handle{Table: table, Page: pg}
	e := &entry{handle: h}
	e.lruElem = p.lru.PushFront(k)
	p.pages[k] = e
	return h, nil
}

// evictLocked evicts the least-recently-used page with pin count 0,
// flushing it first if dirty. Must be called with mu held.
func (p *Pool) evictLocked() error {
	for el := p.lru.Back(); el != nil; el = el.Prev() {
		k := el.Value.(key)
		e := p.pages[k]
		if e.handle.Page.PinCount > 0 {
			continue
		}
		if e.handle.Page.Dirty {
			if err := p.pm.WritePage(k.table, k.id, e.handle.Page.Bytes()); err != nil {
				return err
			}
		}
		p.lru.Remove(el)
		delete(p.pages, k)
		logger.Debugf("bufferpool: evicted page %d of %s", k.id, k.table)
		return nil
	}
	return basic.ErrPoolExhausted
}

// Unpin decrements a handle's pin count and optionally marks it dirty.
func (p *Pool) Unpin(h *Handle, dirty bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h.Page.PinCount > 0 {
		h.Page.PinCount--
	}
	if dirty {
		h.Page.Dirty = true
	}
}

// FlushPage writes a specific page back to disk if dirty.
func (p *Pool) FlushPage(table string, id uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.pages[key{table, id}]
	if !ok {
		return nil
	}
	if !e.handle.Page.Dirty {
		return nil
	}
	if err := p.pm.WritePage(table, id, e.handle.Page.Bytes()); err != nil {
		return err
	}
	e.handle.Page.Dirty = false
	return nil
}

// FlushAll writes back every dirty page in the pool.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	dirty := p.dirtyKeysLocked()
	p.mu.Unlock()
	for _, k := range dirty {
		if err := p.FlushPage(k.table, k.id); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pool) dirtyKeysLocked() []key {
	var out []key
	for k, e := range p.pages {
		if e.handle.Page.Dirty {
			out = append(out, k)
		}
	}
	return out
}

// DirtyPage identifies a dirty cached page for GetDirtyPages.
type DirtyPage struct {
	Table string
	ID    uint32
}

// GetDirtyPages lists every currently cached dirty page.
func (p *Pool) GetDirtyPages() []DirtyPage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []DirtyPage
	for k, e := range p.pages {
		if e.handle.Page.Dirty {
			out = append(out, DirtyPage{Table: k.table, ID: k.id})
		}
	}
	return out
}
