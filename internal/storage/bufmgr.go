package storage

import (
	"sync"
	"sync/atomic"
)

// ───────────────────────────────────────────────────────────────────────────
// Buffer Manager
// ───────────────────────────────────────────────────────────────────────────
//
// A bounded pool of buffered pages keyed by BufKey. Pages fault in from
// their files on demand and are written back on eviction, explicit
// StoreBuf, or shutdown. Eviction is clock-sweep (second chance): the
// hand walks the admission queue, skipping pinned entries, clearing set
// reference bits, and evicting the first unreferenced entry it finds.
//
// Locking: the pool mutex covers the entry map, the clock queue, and the
// hand. Pin counts are atomic: GetBuf and admit raise them under the pool
// mutex, while Release drops them without taking it. The mutex is never
// held across tuple-level work; the
// page payload is guarded by a per-entry RWMutex that callers acquire
// through the handle after GetBuf returns. Pin counts keep an entry out
// of the eviction scan while any handle is outstanding, so eviction
// never races a page-lock holder.
//
// Lock order: relation meta page -> data page -> pool mutex -> log
// mutex. The WAL-before-data rule lives in storeEntry: a dirty page is
// written only after the log is flushed through the page's lastLSN.

type poolEntry struct {
	mu   sync.RWMutex
	page *BufPage
	pins atomic.Int32
	ref  bool
}

// PageHandle is a pinned reference to a pool entry. The handle's lock
// methods guard the page payload; Release drops the pin. A released
// handle must not be used again.
type PageHandle struct {
	key   BufKey
	entry *poolEntry
}

// Key returns the key this handle was obtained for.
func (h *PageHandle) Key() BufKey { return h.key }

// Page returns the buffered page. Callers must hold the handle's lock
// in the appropriate mode while touching it.
func (h *PageHandle) Page() *BufPage { return h.entry.page }

// Lock takes the page's write latch.
func (h *PageHandle) Lock() { h.entry.mu.Lock() }

// Unlock drops the write latch.
func (h *PageHandle) Unlock() { h.entry.mu.Unlock() }

// RLock takes the page's read latch.
func (h *PageHandle) RLock() { h.entry.mu.RLock() }

// RUnlock drops the read latch.
func (h *PageHandle) RUnlock() { h.entry.mu.RUnlock() }

// Release drops the pin. The page becomes evictable once every handle
// has released.
func (h *PageHandle) Release() {
	h.entry.pins.Add(-1)
}

// BufMgr is the buffer pool.
type BufMgr struct {
	mu       sync.Mutex
	entries  map[BufKey]*poolEntry
	queue    []BufKey // clock queue in admission order
	hand     int
	capacity int // 0 = unbounded, eviction disabled

	fm *FileMgr
	lm *LogMgr
}

// NewBufMgr builds a pool over the given file and log managers.
// capacity 0 disables eviction.
func NewBufMgr(fm *FileMgr, lm *LogMgr, capacity int) *BufMgr {
	return &BufMgr{
		entries:  make(map[BufKey]*poolEntry),
		capacity: capacity,
		fm:       fm,
		lm:       lm,
	}
}

// FileMgr exposes the underlying file manager.
func (bm *BufMgr) FileMgr() *FileMgr { return bm.fm }

// NewTempID allocates a fresh temporary file id.
func (bm *BufMgr) NewTempID() ID { return bm.fm.NewTempID() }

// KeyToFilename maps a key to its backing file path.
func (bm *BufMgr) KeyToFilename(key BufKey) string { return bm.fm.KeyToFilename(key) }

// HasBuf reports whether the key is resident. Test and assertion
// helper; the answer can be stale the moment the pool mutex drops.
func (bm *BufMgr) HasBuf(key BufKey) bool {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	_, ok := bm.entries[key]
	return ok
}

// GetBuf returns a pinned handle for the page at key, faulting it in
// from its file if needed. Fails with ErrNotFound when the file is
// shorter than (offset+1) pages, i.e. does not contain the page.
func (bm *BufMgr) GetBuf(key BufKey) (*PageHandle, error) {
	bm.mu.Lock()
	if e, ok := bm.entries[key]; ok {
		e.ref = true
		e.pins.Add(1)
		bm.mu.Unlock()
		return &PageHandle{key: key, entry: e}, nil
	}
	bm.mu.Unlock()

	// Fault: read outside the pool mutex, then re-check residency.
	buf, err := bm.fm.ReadPage(key)
	if err != nil {
		return nil, err
	}
	page, err := LoadBufPage(buf, key)
	if err != nil {
		return nil, err
	}
	return bm.admit(key, page)
}

// NewBuf appends a zeroed page to the key's file and faults it in.
// The offset must equal the current file length in pages.
func (bm *BufMgr) NewBuf(key BufKey) (*PageHandle, error) {
	if err := bm.fm.AllocPage(key); err != nil {
		return nil, err
	}
	return bm.admit(key, NewBufPage(key))
}

// admit inserts a freshly built page, evicting on capacity pressure.
// A concurrent fault for the same key wins if it got there first.
func (bm *BufMgr) admit(key BufKey, page *BufPage) (*PageHandle, error) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	if e, ok := bm.entries[key]; ok {
		e.ref = true
		e.pins.Add(1)
		return &PageHandle{key: key, entry: e}, nil
	}
	if bm.capacity > 0 && len(bm.entries) >= bm.capacity {
		if err := bm.evictLocked(); err != nil {
			return nil, err
		}
	}
	e := &poolEntry{page: page, ref: true}
	e.pins.Add(1)
	bm.entries[key] = e
	bm.queue = append(bm.queue, key)
	return &PageHandle{key: key, entry: e}, nil
}

// evictLocked advances the clock hand until it finds a victim: pinned
// entries are skipped, referenced entries lose their bit and get a
// second chance, anything else is flushed (if dirty) and dropped.
// Gives up with ErrOutOfBuffers after 2*C steps.
func (bm *BufMgr) evictLocked() error {
	for step := 0; step < 2*len(bm.queue); step++ {
		if bm.hand >= len(bm.queue) {
			bm.hand = 0
		}
		key := bm.queue[bm.hand]
		e := bm.entries[key]
		if e.pins.Load() > 0 {
			bm.hand++
			continue
		}
		if e.ref {
			e.ref = false
			bm.hand++
			continue
		}
		// Victim. Unpinned entries have no latch holders, so the page
		// can be flushed here without taking e.mu.
		if e.page.Dirty() {
			if err := bm.storeEntry(e); err != nil {
				return err
			}
		}
		delete(bm.entries, key)
		bm.queue = append(bm.queue[:bm.hand], bm.queue[bm.hand+1:]...)
		if bm.hand >= len(bm.queue) {
			bm.hand = 0
		}
		return nil
	}
	return Errf(ErrOutOfBuffers, "all %d pool entries pinned", len(bm.queue))
}

// storeEntry flushes one page, honouring the WAL rule: the log is
// flushed through the page's lastLSN before the page bytes are written.
func (bm *BufMgr) storeEntry(e *poolEntry) error {
	if lsn := e.page.LastLSN(); lsn > 0 {
		if err := bm.lm.FlushThrough(lsn); err != nil {
			return err
		}
	}
	if err := bm.fm.WritePage(e.page.Key(), e.page.Data()); err != nil {
		return err
	}
	e.page.SetClean()
	return nil
}

// StoreBuf flushes the page at key if it is dirty. The caller must not
// hold the page's latch.
func (bm *BufMgr) StoreBuf(key BufKey) error {
	bm.mu.Lock()
	e, ok := bm.entries[key]
	if !ok {
		bm.mu.Unlock()
		return Errf(ErrNotFound, "store of non-resident page %s", key)
	}
	e.pins.Add(1)
	bm.mu.Unlock()
	defer e.pins.Add(-1)

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.page.Dirty() {
		return nil
	}
	return bm.storeEntry(e)
}

// FlushAll writes back every dirty resident page and fsyncs the files
// touched. Used at shutdown, after the log tail has been flushed.
func (bm *BufMgr) FlushAll() error {
	bm.mu.Lock()
	keys := make([]BufKey, 0, len(bm.entries))
	for k := range bm.entries {
		keys = append(keys, k)
	}
	bm.mu.Unlock()

	files := make(map[BufKey]bool)
	for _, k := range keys {
		if err := bm.StoreBuf(k); err != nil {
			return err
		}
		files[BufKey{FileID: k.FileID, Temp: k.Temp}] = true
	}
	for f := range files {
		if err := bm.fm.Sync(f); err != nil {
			return err
		}
	}
	return nil
}
