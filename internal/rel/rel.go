// Package rel implements relations: heap files whose page 0 holds the
// tuple descriptor and whose pages 1..N hold tuple data. A relation
// coordinates the buffer manager and the log manager for every insert,
// and serializes structural changes through its meta page latch.
package rel

import (
	"strconv"

	"github.com/SimonWaldherr/tinyREL/internal/storage"
	"github.com/SimonWaldherr/tinyREL/internal/tuple"
)

// Store gives relations access to the paging substrate.
type Store interface {
	BufMgr() *storage.BufMgr
	LogMgr() *storage.LogMgr
}

// Catalog extends Store with the bootstrap services Create needs: a
// persistent id allocator and the tables relation.
type Catalog interface {
	Store
	NewID() (storage.ID, error)
	RegisterTable(name string, id storage.ID) error
}

// Rel is an open relation. The struct is cheap to copy around; the
// authoritative state lives in the page files.
type Rel struct {
	id           storage.ID
	desc         tuple.TupleDesc
	numDataPages uint64
	temp         bool
}

// ID returns the relation id (also its file id).
func (r *Rel) ID() storage.ID { return r.id }

// TupleDesc returns the relation's schema.
func (r *Rel) TupleDesc() tuple.TupleDesc { return r.desc }

// NumDataPages is the current count of data pages (pages 1..N).
func (r *Rel) NumDataPages() uint64 { return r.numDataPages }

// IsTemp reports whether the relation lives in the temp namespace.
func (r *Rel) IsTemp() bool { return r.temp }

func (r *Rel) metaKey() storage.BufKey {
	return storage.BufKey{FileID: r.id, Offset: 0, Temp: r.temp}
}

func (r *Rel) dataKey(pageIdx uint64) storage.BufKey {
	return storage.BufKey{FileID: r.id, Offset: pageIdx, Temp: r.temp}
}

// ───────────────────────────────────────────────────────────────────────────
// Construction
// ───────────────────────────────────────────────────────────────────────────

// Create makes a new user relation: allocates a fresh id, writes the
// descriptor page and an empty first data page, and registers the
// relation in the tables catalog.
func Create(cat Catalog, name string, desc tuple.TupleDesc) (*Rel, error) {
	id, err := cat.NewID()
	if err != nil {
		return nil, err
	}
	r := &Rel{id: id, desc: desc, numDataPages: 1}
	if err := writeNewRel(cat.BufMgr(), r); err != nil {
		return nil, err
	}
	if err := cat.RegisterTable(name, id); err != nil {
		return nil, err
	}
	return r, nil
}

// NewMeta makes a relation with a caller-chosen reserved id. Bootstrap
// only; the relation is not registered in the tables catalog.
func NewMeta(s Store, id storage.ID, desc tuple.TupleDesc) (*Rel, error) {
	r := &Rel{id: id, desc: desc, numDataPages: 1}
	if err := writeNewRel(s.BufMgr(), r); err != nil {
		return nil, err
	}
	return r, nil
}

// NewTemp makes a transient relation in the temp namespace. It is never
// catalogued and its file disappears at shutdown.
func NewTemp(s Store, desc tuple.TupleDesc) (*Rel, error) {
	r := &Rel{id: s.BufMgr().NewTempID(), desc: desc, numDataPages: 1, temp: true}
	if err := writeNewRel(s.BufMgr(), r); err != nil {
		return nil, err
	}
	return r, nil
}

// writeNewRel creates the relation file: page 0 carries the attribute
// count and the per-attribute descriptor tuples, page 1 is an empty
// data page. Descriptor writes are unlogged; the pages are flushed
// before the relation is visible, which keeps them recoverable without
// WAL entries.
func writeNewRel(bm *storage.BufMgr, r *Rel) (err error) {
	metaKey := r.metaKey()
	meta, err := bm.NewBuf(metaKey)
	if err != nil {
		return err
	}
	defer meta.Release()
	first, err := bm.NewBuf(r.dataKey(1))
	if err != nil {
		return err
	}
	defer first.Release()

	meta.Lock()
	numAttrs := storage.AppendU32(nil, uint32(r.desc.NumAttrs()))
	if _, err = meta.Page().AppendTuple(numAttrs, 0); err != nil {
		meta.Unlock()
		return err
	}
	for _, attrData := range r.desc.ToData() {
		if _, err = meta.Page().AppendTuple(attrData, 0); err != nil {
			meta.Unlock()
			return err
		}
	}
	meta.Unlock()

	return bm.StoreBuf(metaKey)
}

// Load opens an existing persistent relation by id: page 0 is parsed
// back into the descriptor and the data page count comes from the file
// length.
func Load(s Store, id storage.ID) (*Rel, error) {
	bm := s.BufMgr()
	key := storage.BufKey{FileID: id, Offset: 0}
	meta, err := bm.GetBuf(key)
	if err != nil {
		return nil, err
	}
	defer meta.Release()

	meta.RLock()
	defer meta.RUnlock()

	page := meta.Page()
	// Page 0 holds at least the attribute count and one attribute.
	if page.TupleCount() < 2 {
		return nil, storage.Errf(storage.ErrInvalidData,
			"relation %d: descriptor page has %d tuples", id, page.TupleCount())
	}

	countData, err := page.GetTuple(storage.TuplePtr{Key: key, Slot: 0})
	if err != nil {
		return nil, err
	}
	if len(countData) != 4 {
		return nil, storage.Errf(storage.ErrInvalidData,
			"relation %d: attr count tuple is %d bytes", id, len(countData))
	}
	numAttrs, _ := storage.NewReader(countData).U32()
	if int(numAttrs) > page.TupleCount()-1 {
		return nil, storage.Errf(storage.ErrInvalidData,
			"relation %d: %d attrs but %d descriptor tuples", id, numAttrs, page.TupleCount()-1)
	}

	attrData := make([][]byte, 0, numAttrs)
	for slot := 1; slot <= int(numAttrs); slot++ {
		data, err := page.GetTuple(storage.TuplePtr{Key: key, Slot: slot})
		if err != nil {
			return nil, err
		}
		attrData = append(attrData, data)
	}
	desc, err := tuple.FromData(attrData)
	if err != nil {
		return nil, err
	}

	pages, err := bm.FileMgr().NumPages(key)
	if err != nil {
		return nil, err
	}
	if pages < 2 {
		return nil, storage.Errf(storage.ErrInvalidData,
			"relation %d: file has %d pages", id, pages)
	}
	return &Rel{id: id, desc: desc, numDataPages: pages - 1}, nil
}

// ───────────────────────────────────────────────────────────────────────────
// Insert & scan
// ───────────────────────────────────────────────────────────────────────────

// Insert appends one encoded tuple. The relation's meta page write
// latch serializes inserts (and the page-count bump) within the
// relation; the WAL entry is written before the page mutation, carrying
// the target slot so replay stays idempotent.
func (r *Rel) Insert(s Store, data []byte) (storage.TuplePtr, error) {
	if err := r.desc.AssertDataLen(data); err != nil {
		return storage.TuplePtr{}, err
	}
	bm, lm := s.BufMgr(), s.LogMgr()

	meta, err := bm.GetBuf(r.metaKey())
	if err != nil {
		return storage.TuplePtr{}, err
	}
	defer meta.Release()
	meta.Lock()
	defer meta.Unlock()

	target, err := bm.GetBuf(r.dataKey(r.numDataPages))
	if err != nil {
		return storage.TuplePtr{}, err
	}
	if target.Page().AvailableDataSpace() < len(data) {
		// Page full: extend the heap with a fresh page. Appends only,
		// no compaction of earlier pages.
		target.Release()
		newKey := r.dataKey(r.numDataPages + 1)
		if !r.temp {
			entry := lm.MakeEntry(newKey, storage.OpNewPage, nil)
			if err := lm.WriteEntries([]*storage.LogEntry{entry}); err != nil {
				return storage.TuplePtr{}, err
			}
		}
		target, err = bm.NewBuf(newKey)
		if err != nil {
			return storage.TuplePtr{}, err
		}
		r.numDataPages++
	}
	defer target.Release()

	target.Lock()
	defer target.Unlock()

	page := target.Page()
	slot := page.TupleCount()
	var lsn storage.LSN
	if !r.temp {
		payload := storage.AppendU32(nil, uint32(slot))
		payload = append(payload, data...)
		entry := lm.MakeEntry(target.Key(), storage.OpInsertTuple, payload)
		if err := lm.WriteEntries([]*storage.LogEntry{entry}); err != nil {
			return storage.TuplePtr{}, err
		}
		lsn = entry.LSN
	}
	if _, err := page.AppendTuple(data, lsn); err != nil {
		return storage.TuplePtr{}, err
	}
	return storage.TuplePtr{Key: target.Key(), Slot: slot}, nil
}

// Scan visits every tuple in page-major, slot order. filter must be
// pure; sink runs for each tuple that passes. Tuple views alias page
// buffers and are only valid inside the callback.
func (r *Rel) Scan(s Store, filter func(data []byte) bool, sink func(data []byte)) error {
	bm := s.BufMgr()

	meta, err := bm.GetBuf(r.metaKey())
	if err != nil {
		return err
	}
	defer meta.Release()
	meta.RLock()
	defer meta.RUnlock()

	for idx := uint64(1); idx <= r.numDataPages; idx++ {
		if err := r.scanPage(bm, idx, filter, sink); err != nil {
			return err
		}
	}
	return nil
}

func (r *Rel) scanPage(bm *storage.BufMgr, idx uint64, filter func([]byte) bool, sink func([]byte)) error {
	h, err := bm.GetBuf(r.dataKey(idx))
	if err != nil {
		return err
	}
	defer h.Release()
	h.RLock()
	defer h.RUnlock()

	h.Page().ForEachTuple(func(_ int, data []byte) bool {
		if filter == nil || filter(data) {
			sink(data)
		}
		return true
	})
	return nil
}

// DataToStrings renders a tuple of this relation, optionally projecting
// by column indices.
func (r *Rel) DataToStrings(data []byte, indices []int) ([]string, error) {
	return r.desc.DecodeStrings(data, indices)
}

// IDString renders the relation id the way the tables catalog stores it.
func (r *Rel) IDString() string {
	return strconv.FormatUint(uint64(r.id), 10)
}
