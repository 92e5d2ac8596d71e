// Package meta bootstraps and owns a database instance: the
// self-describing catalog relations, the persistent id allocator, and
// the DB lifecycle that ties the file, buffer, and log managers
// together.
package meta

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/SimonWaldherr/tinyREL/internal/datatype"
	"github.com/SimonWaldherr/tinyREL/internal/rel"
	"github.com/SimonWaldherr/tinyREL/internal/storage"
	"github.com/SimonWaldherr/tinyREL/internal/tuple"
)

// ───────────────────────────────────────────────────────────────────────────
// Reserved relations
// ───────────────────────────────────────────────────────────────────────────

const (
	// TableRelID is the tables catalog: one (name, rel_id) row per user
	// relation.
	TableRelID storage.ID = 1

	// AllocRelID is the id allocator: a single U32 tuple holding the
	// next free relation id, overwritten in place under a WAL entry.
	AllocRelID storage.ID = 2

	// FirstFreeID is the first id handed to a user relation.
	FirstFreeID storage.ID = 3
)

// walFile names the write-ahead log inside the data dir.
const walFile = "tinyrel.wal"

func tablesDesc() tuple.TupleDesc {
	return tuple.NewTupleDesc([]tuple.Attr{
		{Name: "table_name", Kind: datatype.VarChar},
		{Name: "rel_id", Kind: datatype.VarChar},
	})
}

func allocDesc() tuple.TupleDesc {
	return tuple.NewTupleDesc([]tuple.Attr{
		{Name: "next_id", Kind: datatype.U32},
	})
}

// ───────────────────────────────────────────────────────────────────────────
// DB
// ───────────────────────────────────────────────────────────────────────────

// DB is the database state: one per data directory, many threads.
// It satisfies rel.Store and rel.Catalog.
type DB struct {
	settings Settings
	identity uuid.UUID

	fm *storage.FileMgr
	bm *storage.BufMgr
	lm *storage.LogMgr

	tables *rel.Rel
	alloc  *rel.Rel

	allocMu sync.Mutex
	sched   *FlushScheduler
}

// Start opens (or bootstraps) the database under settings.DataDir:
// ensure the directory and instance identity, open the WAL, replay it,
// then load or create the reserved relations.
func Start(settings Settings) (*DB, error) {
	if settings.DataDir == "" {
		settings.DataDir = "./data"
	}
	if err := os.MkdirAll(settings.DataDir, 0o755); err != nil {
		return nil, storage.IOErr("create data dir", err)
	}
	identity, err := ensureIdentity(settings.DataDir)
	if err != nil {
		return nil, err
	}

	fm, err := storage.NewFileMgr(settings.DataDir, settings.InMemory)
	if err != nil {
		return nil, err
	}
	lm, err := storage.OpenLogMgr(filepath.Join(settings.DataDir, walFile))
	if err != nil {
		return nil, err
	}
	if _, err := storage.Recover(fm, lm); err != nil {
		lm.Close()
		return nil, err
	}

	db := &DB{
		settings: settings,
		identity: identity,
		fm:       fm,
		bm:       storage.NewBufMgr(fm, lm, settings.PoolCapacity),
		lm:       lm,
	}
	if err := db.bootstrap(); err != nil {
		lm.Close()
		return nil, err
	}

	if settings.FlushInterval != "" {
		db.sched = NewFlushScheduler(db.lm)
		if err := db.sched.Start(settings.FlushInterval); err != nil {
			db.sched = nil
			log.Printf("meta: flush scheduler disabled: %v", err)
		}
	}
	return db, nil
}

// bootstrap loads the reserved relations, creating them on a fresh data
// directory.
func (db *DB) bootstrap() error {
	pages, err := db.fm.NumPages(storage.NewBufKey(TableRelID, 0))
	if err != nil {
		return err
	}
	if pages == 0 {
		return db.createMetaRels()
	}

	tables, err := rel.Load(db, TableRelID)
	if err != nil {
		return err
	}
	alloc, err := rel.Load(db, AllocRelID)
	if err != nil {
		return err
	}
	if !tables.TupleDesc().Equal(tablesDesc()) || !alloc.TupleDesc().Equal(allocDesc()) {
		return storage.Errf(storage.ErrInvalidData, "meta relations have foreign descriptors")
	}
	db.tables, db.alloc = tables, alloc
	return nil
}

func (db *DB) createMetaRels() error {
	// The tables relation is created last, so its absence with an
	// allocator file present means an interrupted first start; clear
	// the leftovers before recreating.
	if err := db.fm.RemoveRelFile(AllocRelID); err != nil {
		return err
	}
	alloc, err := rel.NewMeta(db, AllocRelID, allocDesc())
	if err != nil {
		return err
	}
	db.alloc = alloc
	// Seed the allocator with the first free user id.
	seed, err := allocDesc().DataFromStrings([]string{strconv.FormatUint(uint64(FirstFreeID), 10)})
	if err != nil {
		return err
	}
	if _, err := alloc.Insert(db, seed); err != nil {
		return err
	}

	tables, err := rel.NewMeta(db, TableRelID, tablesDesc())
	if err != nil {
		return err
	}
	db.tables = tables
	log.Printf("meta: bootstrapped data dir %s (instance %s)", db.settings.DataDir, db.identity)
	return nil
}

// BufMgr returns the buffer pool.
func (db *DB) BufMgr() *storage.BufMgr { return db.bm }

// LogMgr returns the write-ahead log manager.
func (db *DB) LogMgr() *storage.LogMgr { return db.lm }

// Identity returns the instance UUID minted at bootstrap.
func (db *DB) Identity() uuid.UUID { return db.identity }

// ───────────────────────────────────────────────────────────────────────────
// Catalog services
// ───────────────────────────────────────────────────────────────────────────

// NewID hands out the next free relation id and persists the increment
// under a WAL entry.
func (db *DB) NewID() (storage.ID, error) {
	db.allocMu.Lock()
	defer db.allocMu.Unlock()

	key := storage.NewBufKey(AllocRelID, 1)
	h, err := db.bm.GetBuf(key)
	if err != nil {
		return 0, err
	}
	defer h.Release()
	h.Lock()
	defer h.Unlock()

	ptr := storage.TuplePtr{Key: key, Slot: 0}
	cur, err := h.Page().GetTuple(ptr)
	if err != nil {
		return 0, err
	}
	rd := storage.NewReader(cur)
	id, err := rd.U32()
	if err != nil {
		return 0, err
	}

	next := storage.AppendU32(nil, id+1)
	payload := storage.AppendU32(nil, uint32(ptr.Slot))
	payload = append(payload, next...)
	entry := db.lm.MakeEntry(key, storage.OpOverwriteTuple, payload)
	if err := db.lm.WriteEntries([]*storage.LogEntry{entry}); err != nil {
		return 0, err
	}
	if err := h.Page().OverwriteTuple(ptr.Slot, next, entry.LSN); err != nil {
		return 0, err
	}
	return id, nil
}

// RegisterTable records a (name, rel_id) row in the tables catalog.
func (db *DB) RegisterTable(name string, id storage.ID) error {
	row, err := db.tables.TupleDesc().DataFromStrings([]string{
		name, strconv.FormatUint(uint64(id), 10),
	})
	if err != nil {
		return err
	}
	_, err = db.tables.Insert(db, row)
	return err
}

// LookupTable resolves a table name to its relation id.
func (db *DB) LookupTable(name string) (storage.ID, bool, error) {
	var (
		found bool
		id    storage.ID
	)
	desc := db.tables.TupleDesc()
	err := db.tables.Scan(db, nil, func(data []byte) {
		if found {
			return
		}
		row, derr := desc.DecodeStrings(data, nil)
		if derr != nil || len(row) != 2 || row[0] != name {
			return
		}
		v, perr := strconv.ParseUint(row[1], 10, 32)
		if perr != nil {
			return
		}
		id, found = storage.ID(v), true
	})
	if err != nil {
		return 0, false, err
	}
	return id, found, nil
}

// OpenRel opens a user relation by table name.
func (db *DB) OpenRel(name string) (*rel.Rel, error) {
	id, ok, err := db.LookupTable(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, storage.Errf(storage.ErrNotFound, "no table %q", name)
	}
	return rel.Load(db, id)
}

// ListTables returns every catalogued table name, in insertion order.
func (db *DB) ListTables() ([]string, error) {
	var names []string
	desc := db.tables.TupleDesc()
	err := db.tables.Scan(db, nil, func(data []byte) {
		row, derr := desc.DecodeStrings(data, []int{0})
		if derr == nil && len(row) == 1 {
			names = append(names, row[0])
		}
	})
	return names, err
}

// ───────────────────────────────────────────────────────────────────────────
// Lifecycle
// ───────────────────────────────────────────────────────────────────────────

// Shutdown flushes the log through its tail, writes back every dirty
// page (the WAL rule then holds trivially), removes the temp namespace,
// and closes the files.
func (db *DB) Shutdown() error {
	if db.sched != nil {
		db.sched.Stop()
		db.sched = nil
	}
	if err := db.lm.FlushAll(); err != nil {
		return err
	}
	if err := db.bm.FlushAll(); err != nil {
		return err
	}
	if err := db.fm.RemoveTempFiles(); err != nil {
		return err
	}
	if err := db.lm.Close(); err != nil {
		db.fm.Close()
		return err
	}
	return db.fm.Close()
}
