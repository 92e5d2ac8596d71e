package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/dsnet/golib/memfile"
)

// ───────────────────────────────────────────────────────────────────────────
// Page-file backends
// ───────────────────────────────────────────────────────────────────────────
//
// The buffer manager does all file I/O through the FileMgr, which maps
// buffer keys to page files. Two backends exist: the disk backend keeps
// one *os.File per relation under the data directory, and the memory
// backend keeps memfile images, used by tests and by fully transient
// databases. Both speak the same PageFile surface.

// PageFile is the I/O surface of one relation file.
type PageFile interface {
	io.ReaderAt
	io.WriterAt
	// Sync forces written pages to stable storage.
	Sync() error
	// Size returns the current file length in bytes.
	Size() (int64, error)
	// Close releases the handle. Memory files treat this as a no-op.
	Close() error
}

// diskFile adapts *os.File.
type diskFile struct {
	*os.File
}

func (f diskFile) Size() (int64, error) {
	st, err := f.Stat()
	if err != nil {
		return 0, IOErr("stat "+f.Name(), err)
	}
	return st.Size(), nil
}

// memFile adapts memfile.File. Sync and Close are no-ops: the backing
// store is the process heap.
type memFile struct {
	*memfile.File
}

func (f memFile) Sync() error  { return nil }
func (f memFile) Close() error { return nil }

func (f memFile) Size() (int64, error) {
	return int64(len(f.Bytes())), nil
}

// ───────────────────────────────────────────────────────────────────────────
// FileMgr
// ───────────────────────────────────────────────────────────────────────────

// FileMgr owns the data directory: it opens, creates, and extends the
// page files behind buffer keys, and hands out temp file ids.
type FileMgr struct {
	dataDir string
	inMem   bool

	mu         sync.Mutex
	open       map[string]PageFile
	nextTempID ID
}

// NewFileMgr builds a file manager rooted at dataDir. With inMemory set,
// no files touch the disk; every path resolves to a heap-backed image.
func NewFileMgr(dataDir string, inMemory bool) (*FileMgr, error) {
	fm := &FileMgr{
		dataDir:    dataDir,
		inMem:      inMemory,
		open:       make(map[string]PageFile),
		nextTempID: 1,
	}
	if !inMemory {
		if err := os.MkdirAll(filepath.Join(dataDir, "temp"), 0o755); err != nil {
			return nil, IOErr("create data dir", err)
		}
	}
	return fm, nil
}

// DataDir returns the root directory of this manager.
func (fm *FileMgr) DataDir() string { return fm.dataDir }

// KeyToFilename maps a buffer key to its backing file path.
func (fm *FileMgr) KeyToFilename(key BufKey) string {
	return key.Filename(fm.dataDir)
}

// NewTempID allocates a fresh temporary file id. Temp ids are process
// local; their files are removed at shutdown.
func (fm *FileMgr) NewTempID() ID {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	id := fm.nextTempID
	fm.nextTempID++
	return id
}

// file returns the open handle for path, opening or creating on demand.
func (fm *FileMgr) file(path string, create bool) (PageFile, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	if f, ok := fm.open[path]; ok {
		return f, nil
	}
	if fm.inMem {
		if !create {
			return nil, Errf(ErrNotFound, "no file %s", path)
		}
		f := memFile{memfile.New(nil)}
		fm.open[path] = f
		return f, nil
	}
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Errf(ErrNotFound, "no file %s", path)
		}
		return nil, IOErr("open "+path, err)
	}
	df := diskFile{f}
	fm.open[path] = df
	return df, nil
}

// NumPages reports the length of the file behind key, in pages.
// A missing file counts as zero pages.
func (fm *FileMgr) NumPages(key BufKey) (uint64, error) {
	f, err := fm.file(fm.KeyToFilename(key), false)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	size, err := f.Size()
	if err != nil {
		return 0, err
	}
	return uint64(size) / PageSize, nil
}

// ReadPage reads the PageSize image behind key. Fails with ErrNotFound
// when the file is missing or shorter than (offset+1) pages.
func (fm *FileMgr) ReadPage(key BufKey) ([]byte, error) {
	f, err := fm.file(fm.KeyToFilename(key), false)
	if err != nil {
		return nil, err
	}
	size, err := f.Size()
	if err != nil {
		return nil, err
	}
	if key.ByteOffset()+PageSize > size {
		return nil, Errf(ErrNotFound, "page %s past end of file (%d bytes)", key, size)
	}
	buf := make([]byte, PageSize)
	// ReadAt may report io.EOF alongside a full read at the file tail.
	if n, err := f.ReadAt(buf, key.ByteOffset()); err != nil && n < PageSize {
		return nil, IOErr("read page "+key.String(), err)
	}
	return buf, nil
}

// WritePage writes a full page image at the key's byte offset.
func (fm *FileMgr) WritePage(key BufKey, buf []byte) error {
	f, err := fm.file(fm.KeyToFilename(key), false)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(buf, key.ByteOffset()); err != nil {
		return IOErr("write page "+key.String(), err)
	}
	return nil
}

// AllocPage appends a zeroed page at key. Growth is append-only: the
// key's offset must equal the current file length in pages. The file is
// created on demand only for page 0 of a new relation.
func (fm *FileMgr) AllocPage(key BufKey) error {
	path := fm.KeyToFilename(key)
	f, err := fm.file(path, key.Offset == 0)
	if err != nil {
		return err
	}
	size, err := f.Size()
	if err != nil {
		return err
	}
	if key.ByteOffset() != size {
		return Errf(ErrInvalidArgument, "non-contiguous alloc of %s: file has %d pages",
			key, size/PageSize)
	}
	zero := make([]byte, PageSize)
	if _, err := f.WriteAt(zero, size); err != nil {
		return IOErr("extend "+path, err)
	}
	return nil
}

// Sync fsyncs the file behind key.
func (fm *FileMgr) Sync(key BufKey) error {
	f, err := fm.file(fm.KeyToFilename(key), false)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return IOErr("sync "+key.String(), err)
	}
	return nil
}

// RemoveRelFile closes and deletes the file behind a relation id.
// Used by bootstrap to clear the leftovers of an interrupted first
// start before recreating the reserved relations.
func (fm *FileMgr) RemoveRelFile(fileID ID) error {
	path := NewBufKey(fileID, 0).Filename(fm.dataDir)
	fm.mu.Lock()
	if f, ok := fm.open[path]; ok {
		f.Close()
		delete(fm.open, path)
	}
	fm.mu.Unlock()
	if fm.inMem {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return IOErr("remove "+path, err)
	}
	return nil
}

// RemoveTempFiles deletes the temp namespace. Called at shutdown.
func (fm *FileMgr) RemoveTempFiles() error {
	fm.mu.Lock()
	tempDir := filepath.Join(fm.dataDir, "temp")
	for path, f := range fm.open {
		if filepath.Dir(path) == tempDir {
			f.Close()
			delete(fm.open, path)
		}
	}
	fm.mu.Unlock()
	if fm.inMem {
		return nil
	}
	if err := os.RemoveAll(tempDir); err != nil {
		return IOErr("remove temp dir", err)
	}
	return nil
}

// Close releases every open handle.
func (fm *FileMgr) Close() error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	var firstErr error
	for path, f := range fm.open {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = IOErr("close "+path, err)
		}
		delete(fm.open, path)
	}
	return firstErr
}
