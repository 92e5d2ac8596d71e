// Package storage implements the paged storage substrate: fixed-size
// slotted pages addressed by buffer keys, a bounded buffer pool with
// clock-sweep eviction, page-file backends, and a write-ahead log whose
// entries causally precede any dirty-page flush.
//
// Each relation is one file `<file_id>.dat` of PageSize-aligned pages in
// the data directory; temporary pages live under `<data_dir>/temp/` and
// never survive the process.
package storage

import (
	"fmt"
	"path/filepath"
)

// ───────────────────────────────────────────────────────────────────────────
// Constants & core identifiers
// ───────────────────────────────────────────────────────────────────────────

const (
	// PageSize is the fixed page size in bytes. The unit of file I/O and
	// buffering; every relation file is an integer multiple of it.
	PageSize = 4096

	// HeaderSize is the size of the page header: a 4-byte upper pointer
	// followed by a 4-byte lower pointer, both little-endian.
	HeaderSize = 8

	// TempFileID is reserved: no persistent relation ever uses it.
	TempFileID ID = 0
)

// ID is a 32-bit file/relation identifier.
type ID = uint32

// LSN is a monotonically increasing log sequence number. Zero means
// "never logged".
type LSN = uint64

// ───────────────────────────────────────────────────────────────────────────
// BufKey
// ───────────────────────────────────────────────────────────────────────────

// BufKey addresses one page: it is the cache key in the buffer pool, the
// lock key for the per-page latch, and the source of the file byte offset.
type BufKey struct {
	FileID ID
	Offset uint64 // page index within the file
	Temp   bool
}

// NewBufKey builds a key for a persistent page.
func NewBufKey(fileID ID, offset uint64) BufKey {
	return BufKey{FileID: fileID, Offset: offset}
}

// NewTempKey builds a key in the temp namespace.
func NewTempKey(fileID ID, offset uint64) BufKey {
	return BufKey{FileID: fileID, Offset: offset, Temp: true}
}

// Filename maps the key to its backing file inside dataDir. Temp keys
// resolve to the scratch subdirectory.
func (k BufKey) Filename(dataDir string) string {
	if k.Temp {
		return filepath.Join(dataDir, "temp", fmt.Sprintf("%d.dat", k.FileID))
	}
	return filepath.Join(dataDir, fmt.Sprintf("%d.dat", k.FileID))
}

// ByteOffset is the position of the page within its file.
func (k BufKey) ByteOffset() int64 {
	return int64(k.Offset) * PageSize
}

func (k BufKey) String() string {
	if k.Temp {
		return fmt.Sprintf("temp(%d,%d)", k.FileID, k.Offset)
	}
	return fmt.Sprintf("(%d,%d)", k.FileID, k.Offset)
}

// ───────────────────────────────────────────────────────────────────────────
// TuplePtr
// ───────────────────────────────────────────────────────────────────────────

// TuplePtr names one tuple: the page that holds it and its slot index.
type TuplePtr struct {
	Key  BufKey
	Slot int
}

func (p TuplePtr) String() string {
	return fmt.Sprintf("%s#%d", p.Key, p.Slot)
}
