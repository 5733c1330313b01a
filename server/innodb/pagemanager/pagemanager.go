// Package pagemanager owns, per table, a single append-growing file of
// 8 KiB pages, per spec.md §4.3. File names embed the table name; the
// directory layout is the storage root.
package pagemanager

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/fr3ddy-fryd3/postgrust-sql/logger"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/page"
)

// Manager manages one page file per table under a shared storage root.
type Manager struct {
	mu      sync.Mutex
	root    string
	files   map[string]*os.File
	nextIDs map[string]uint32
}

// New creates a page manager rooted at dir (created if missing).
func New(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "pagemanager: creating storage root")
	}
	return &Manager{
		root:    dir,
		files:   make(map[string]*os.File),
		nextIDs: make(map[string]uint32),
	}, nil
}

func (m *Manager) path(table string) string {
	return filepath.Join(m.root, table+".db")
}

func (m *Manager) file(table string) (*os.File, error) {
	if f, ok := m.files[table]; ok {
		return f, nil
	}
	f, err := os.OpenFile(m.path(table), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "pagemanager: opening %s", table)
	}
	m.files[table] = f

	stat, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "pagemanager: stat")
	}
	m.nextIDs[table] = uint32(stat.Size() / page.Size)
	return f, nil
}

// AllocatePage grows the table file by one page and returns its id.
// Page ids are table-scoped and start at 0.
func (m *Manager) AllocatePage(table string) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.file(table)
	if err != nil {
		return 0, err
	}
	id := m.nextIDs[table]
	p := page.New(id)
	if _, err := f.WriteAt(p.Bytes(), int64(id)*page.Size); err != nil {
		return 0, errors.Wrapf(err, "pagemanager: allocating page %d of %s", id, table)
	}
	m.nextIDs[table] = id + 1
	logger.Debugf("pagemanager: allocated page %d for table %s", id, table)
	return id, nil
}

// ReadPage reads a page's raw bytes directly from disk, bypassing the
// buffer pool.
func (m *Manager) ReadPage(table string, id uint32) ([]byte, error) {
	m.mu.Lock()
	f, err := m.file(table)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, page.Size)
	if _, err := f.ReadAt(buf, int64(id)*page.Size); err != nil {
		return nil, errors.Wrapf(err, "pagemanager: reading page %d of %s", id, table)
	}
	return buf, nil
}

// WritePage writes a page's raw bytes directly to disk, bypassing the
// buffer pool.
func (m *Manager) WritePage(table string, id uint32, buf []byte) error {
	if len(buf) != page.Size {
		return fmt.Errorf("pagemanager: page body must be %d bytes, got %d", page.Size, len(buf))
	}
	m.mu.Lock()
	f, err := m.file(table)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(buf, int64(id)*page.Size); err != nil {
		return errors.Wrapf(err, "pagemanager: writing page %d of %s", id, table)
	}
	return nil
}

// Flush fsyncs every open table file.
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for table, f := range m.files {
		if err := f.Sync(); err != nil {
			return errors.Wrapf(err, "pagemanager: fsync %s", table)
		}
	}
	return nil
}

// PageCount reports how many pages a table currently has on disk.
func (m *Manager) PageCount(table string) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.file(table); err != nil {
		return 0, err
	}
	return m.nextIDs[table], nil
}

// Close closes every open table file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.files {
		f.Close()
	}
	return nil
}
