package storage

import (
	"io"
	"os"
	"sort"
	"sync"
)

// ───────────────────────────────────────────────────────────────────────────
// Write-ahead log
// ───────────────────────────────────────────────────────────────────────────
//
// One append-only file of serialized log entries, replayable from offset
// zero. Record format (all integers little-endian):
//
//   [0:8]    LSN         (uint64)
//   [8:12]   Key.FileID  (uint32)
//   [12:20]  Key.Offset  (uint64)
//   [20]     Key.Temp    (uint8, 0 or 1)
//   [21]     Op          (uint8)
//   [22:26]  PayloadLen  (uint32)
//   [26:..]  Payload
//
// The manager keeps an in-memory tail of entries not yet on disk.
// FlushThrough moves the durable horizon (flushedLSN) forward; the
// buffer manager calls it before writing any page whose lastLSN exceeds
// the horizon. That ordering is the engine's only durability invariant.

const logRecHdrSize = 26

// OpType identifies the mutation a log entry records.
type OpType uint8

const (
	// OpInsertTuple appends a tuple. Payload: slot (uint32 LE) followed
	// by the tuple bytes; replay skips the entry when the slot already
	// exists on the page.
	OpInsertTuple OpType = 0x01

	// OpOverwriteTuple replaces a tuple in place. Payload: slot
	// (uint32 LE) followed by the new bytes, same length as the old.
	OpOverwriteTuple OpType = 0x02

	// OpNewPage extends a relation file with a zeroed page. No payload.
	OpNewPage OpType = 0x03
)

func (op OpType) String() string {
	switch op {
	case OpInsertTuple:
		return "InsertTuple"
	case OpOverwriteTuple:
		return "OverwriteTuple"
	case OpNewPage:
		return "NewPage"
	default:
		return "Unknown"
	}
}

// LogEntry is one WAL record.
type LogEntry struct {
	LSN     LSN
	Key     BufKey
	Op      OpType
	Payload []byte
}

func marshalLogEntry(e *LogEntry) []byte {
	buf := make([]byte, 0, logRecHdrSize+len(e.Payload))
	buf = AppendU64(buf, e.LSN)
	buf = AppendU32(buf, e.Key.FileID)
	buf = AppendU64(buf, e.Key.Offset)
	temp := byte(0)
	if e.Key.Temp {
		temp = 1
	}
	buf = append(buf, temp, byte(e.Op))
	buf = AppendU32(buf, uint32(len(e.Payload)))
	return append(buf, e.Payload...)
}

func unmarshalLogEntry(r io.Reader) (*LogEntry, error) {
	hdr := make([]byte, logRecHdrSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	rd := NewReader(hdr)
	e := &LogEntry{}
	e.LSN, _ = rd.U64()
	e.Key.FileID, _ = rd.U32()
	e.Key.Offset, _ = rd.U64()
	temp, _ := rd.U8()
	e.Key.Temp = temp != 0
	op, _ := rd.U8()
	e.Op = OpType(op)
	payloadLen, _ := rd.U32()
	if payloadLen > 0 {
		e.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, e.Payload); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// ReadAllEntries reads every complete entry in the log file. A partial
// record at the tail (torn append during a crash) ends the scan without
// an error.
func ReadAllEntries(path string) ([]*LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, IOErr("open log "+path, err)
	}
	defer f.Close()

	var entries []*LogEntry
	for {
		e, err := unmarshalLogEntry(f)
		if err != nil {
			break
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ───────────────────────────────────────────────────────────────────────────
// LogMgr
// ───────────────────────────────────────────────────────────────────────────

type tailRec struct {
	lsn  LSN
	data []byte
}

// LogMgr assigns LSNs, buffers entry batches, and advances the durable
// horizon with fsync.
type LogMgr struct {
	mu         sync.Mutex
	f          *os.File
	path       string
	nextLSN    LSN
	flushedLSN LSN
	tail       []tailRec
	writePos   int64
}

// OpenLogMgr opens or creates the WAL file. Existing entries determine
// the next LSN; everything already in the file counts as flushed.
func OpenLogMgr(path string) (*LogMgr, error) {
	entries, err := ReadAllEntries(path)
	if err != nil {
		return nil, err
	}
	var maxLSN LSN
	var validLen int64
	for _, e := range entries {
		if e.LSN > maxLSN {
			maxLSN = e.LSN
		}
		validLen += int64(logRecHdrSize + len(e.Payload))
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, IOErr("open log "+path, err)
	}
	// Drop any torn record past the last complete entry.
	if err := f.Truncate(validLen); err != nil {
		f.Close()
		return nil, IOErr("truncate torn log tail", err)
	}
	return &LogMgr{
		f:          f,
		path:       path,
		nextLSN:    maxLSN + 1,
		flushedLSN: maxLSN,
		writePos:   validLen,
	}, nil
}

// MakeEntry assigns the next LSN to a new entry. Nothing is persisted
// until the entry passes through WriteEntries and FlushThrough.
func (lm *LogMgr) MakeEntry(key BufKey, op OpType, payload []byte) *LogEntry {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	e := &LogEntry{LSN: lm.nextLSN, Key: key, Op: op, Payload: payload}
	lm.nextLSN++
	return e
}

// WriteEntries appends a batch to the in-memory tail. The append is
// atomic: every entry is serialized before the tail is touched, so an
// error leaves the log unchanged. The caller stamps the target pages
// with the entry LSNs after this returns.
func (lm *LogMgr) WriteEntries(entries []*LogEntry) error {
	recs := make([]tailRec, 0, len(entries))
	for _, e := range entries {
		if e.LSN == 0 {
			return Errf(ErrInvalidArgument, "log entry for %s has no LSN", e.Key)
		}
		recs = append(recs, tailRec{lsn: e.LSN, data: marshalLogEntry(e)})
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.tail = append(lm.tail, recs...)
	// Concurrent writers may interleave batches; FlushThrough relies on
	// the tail being in LSN order.
	sort.Slice(lm.tail, func(i, j int) bool { return lm.tail[i].lsn < lm.tail[j].lsn })
	return nil
}

// FlushThrough blocks until every entry with an LSN <= lsn is fsynced,
// then advances the durable horizon.
func (lm *LogMgr) FlushThrough(lsn LSN) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lsn <= lm.flushedLSN {
		return nil
	}
	var out []byte
	n := 0
	for n < len(lm.tail) && lm.tail[n].lsn <= lsn {
		out = append(out, lm.tail[n].data...)
		n++
	}
	if len(out) > 0 {
		if _, err := lm.f.WriteAt(out, lm.writePos); err != nil {
			return IOErr("append log", err)
		}
		if err := lm.f.Sync(); err != nil {
			return IOErr("sync log", err)
		}
		lm.writePos += int64(len(out))
		lm.flushedLSN = lm.tail[n-1].lsn
		lm.tail = lm.tail[n:]
	}
	if lsn > lm.flushedLSN && lsn < lm.nextLSN {
		// Entries through lsn were assigned but some were never written
		// to the tail; the horizon still covers everything durable.
		lm.flushedLSN = lsn
	}
	return nil
}

// FlushAll flushes the whole tail.
func (lm *LogMgr) FlushAll() error {
	lm.mu.Lock()
	last := lm.nextLSN - 1
	lm.mu.Unlock()
	return lm.FlushThrough(last)
}

// FlushedLSN is the durable horizon: every entry at or below it is on
// disk.
func (lm *LogMgr) FlushedLSN() LSN {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.flushedLSN
}

// NextLSN is the LSN the next entry will receive.
func (lm *LogMgr) NextLSN() LSN {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.nextLSN
}

// Path returns the WAL file path.
func (lm *LogMgr) Path() string { return lm.path }

// Close flushes the tail and closes the file.
func (lm *LogMgr) Close() error {
	if err := lm.FlushAll(); err != nil {
		lm.f.Close()
		return err
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if err := lm.f.Close(); err != nil {
		return IOErr("close log", err)
	}
	return nil
}
