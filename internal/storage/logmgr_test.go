package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestLog(t *testing.T) (*LogMgr, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.wal")
	lm, err := OpenLogMgr(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	return lm, path
}

func TestLogMgr_LSNsAreMonotoneAndGapFree(t *testing.T) {
	lm, _ := newTestLog(t)
	defer lm.Close()

	key := NewBufKey(1, 1)
	for want := LSN(1); want <= 10; want++ {
		e := lm.MakeEntry(key, OpInsertTuple, []byte{1})
		if e.LSN != want {
			t.Fatalf("lsn: got %d want %d", e.LSN, want)
		}
	}
}

func TestLogMgr_FlushThroughPartialTail(t *testing.T) {
	lm, path := newTestLog(t)

	key := NewBufKey(1, 1)
	var entries []*LogEntry
	for i := 0; i < 5; i++ {
		entries = append(entries, lm.MakeEntry(key, OpInsertTuple, []byte{byte(i)}))
	}
	if err := lm.WriteEntries(entries); err != nil {
		t.Fatal(err)
	}
	if lm.FlushedLSN() != 0 {
		t.Fatalf("nothing flushed yet, horizon is %d", lm.FlushedLSN())
	}

	if err := lm.FlushThrough(3); err != nil {
		t.Fatal(err)
	}
	if lm.FlushedLSN() != 3 {
		t.Fatalf("horizon: got %d want 3", lm.FlushedLSN())
	}
	onDisk, err := ReadAllEntries(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(onDisk) != 3 {
		t.Fatalf("on disk: got %d entries want 3", len(onDisk))
	}

	if err := lm.Close(); err != nil { // flushes the rest
		t.Fatal(err)
	}
	onDisk, _ = ReadAllEntries(path)
	if len(onDisk) != 5 {
		t.Fatalf("after close: got %d entries want 5", len(onDisk))
	}
	for i, e := range onDisk {
		if e.LSN != LSN(i+1) {
			t.Fatalf("entry %d: lsn %d", i, e.LSN)
		}
	}
}

func TestLogMgr_ReopenContinuesSequence(t *testing.T) {
	lm, path := newTestLog(t)
	key := NewBufKey(2, 1)
	e := lm.MakeEntry(key, OpNewPage, nil)
	if err := lm.WriteEntries([]*LogEntry{e}); err != nil {
		t.Fatal(err)
	}
	if err := lm.Close(); err != nil {
		t.Fatal(err)
	}

	lm2, err := OpenLogMgr(path)
	if err != nil {
		t.Fatal(err)
	}
	defer lm2.Close()
	if lm2.NextLSN() != 2 {
		t.Fatalf("next lsn after reopen: got %d want 2", lm2.NextLSN())
	}
	if lm2.FlushedLSN() != 1 {
		t.Fatalf("flushed horizon after reopen: got %d want 1", lm2.FlushedLSN())
	}
}

func TestLogMgr_TornTailIsDropped(t *testing.T) {
	lm, path := newTestLog(t)
	key := NewBufKey(3, 1)
	e := lm.MakeEntry(key, OpInsertTuple, []byte("complete"))
	if err := lm.WriteEntries([]*LogEntry{e}); err != nil {
		t.Fatal(err)
	}
	if err := lm.Close(); err != nil {
		t.Fatal(err)
	}

	// Simulate a torn append: half a header at the tail.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte{9, 9, 9}); err != nil {
		t.Fatal(err)
	}
	f.Close()

	entries, err := ReadAllEntries(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || string(entries[0].Payload) != "complete" {
		t.Fatalf("torn tail not ignored: %d entries", len(entries))
	}

	lm2, err := OpenLogMgr(path)
	if err != nil {
		t.Fatal(err)
	}
	defer lm2.Close()
	if lm2.NextLSN() != 2 {
		t.Fatalf("next lsn: got %d want 2", lm2.NextLSN())
	}
}

func TestLogEntry_MarshalRoundTrip(t *testing.T) {
	e := &LogEntry{
		LSN:     42,
		Key:     NewTempKey(7, 3),
		Op:      OpOverwriteTuple,
		Payload: []byte{0xDE, 0xAD},
	}
	lm, path := newTestLog(t)
	if err := lm.WriteEntries([]*LogEntry{{LSN: 1, Key: e.Key, Op: e.Op, Payload: e.Payload}}); err != nil {
		t.Fatal(err)
	}
	if err := lm.Close(); err != nil {
		t.Fatal(err)
	}
	got, err := ReadAllEntries(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d entries", len(got))
	}
	g := got[0]
	if g.Key != e.Key || g.Op != e.Op || string(g.Payload) != string(e.Payload) {
		t.Fatalf("roundtrip mismatch: %+v", g)
	}
	if !g.Key.Temp {
		t.Fatal("temp flag lost in roundtrip")
	}
}
