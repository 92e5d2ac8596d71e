package storage

import (
	"path/filepath"
	"testing"
)

// buildCrashState writes a WAL describing a page allocation and two
// inserts, flushes the log, and leaves the data file behind the WAL
// (as after a crash that lost the dirty pages).
func buildCrashState(t *testing.T) (*FileMgr, *LogMgr) {
	t.Helper()
	dir := t.TempDir()
	fm, err := NewFileMgr(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	lm, err := OpenLogMgr(filepath.Join(dir, "test.wal"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { lm.Close(); fm.Close() })

	key := NewBufKey(10, 1)
	entries := []*LogEntry{
		lm.MakeEntry(NewBufKey(10, 0), OpNewPage, nil),
		lm.MakeEntry(key, OpNewPage, nil),
		lm.MakeEntry(key, OpInsertTuple, append(AppendU32(nil, 0), []byte("first")...)),
		lm.MakeEntry(key, OpInsertTuple, append(AppendU32(nil, 1), []byte("second")...)),
	}
	if err := lm.WriteEntries(entries); err != nil {
		t.Fatal(err)
	}
	if err := lm.FlushAll(); err != nil {
		t.Fatal(err)
	}
	return fm, lm
}

func readTuples(t *testing.T, fm *FileMgr, key BufKey) []string {
	t.Helper()
	buf, err := fm.ReadPage(key)
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	p, err := LoadBufPage(buf, key)
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	p.ForEachTuple(func(_ int, data []byte) bool {
		out = append(out, string(data))
		return true
	})
	return out
}

func TestRecover_ReplaysLostPages(t *testing.T) {
	fm, lm := buildCrashState(t)

	applied, err := Recover(fm, lm)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if applied != 4 {
		t.Fatalf("applied: got %d want 4", applied)
	}

	got := readTuples(t, fm, NewBufKey(10, 1))
	want := []string{"first", "second"}
	if len(got) != len(want) {
		t.Fatalf("tuples: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tuple %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestRecover_IsIdempotent(t *testing.T) {
	fm, lm := buildCrashState(t)

	if _, err := Recover(fm, lm); err != nil {
		t.Fatal(err)
	}
	applied, err := Recover(fm, lm)
	if err != nil {
		t.Fatalf("second recover: %v", err)
	}
	if applied != 0 {
		t.Fatalf("second replay applied %d entries, want 0", applied)
	}
	if got := readTuples(t, fm, NewBufKey(10, 1)); len(got) != 2 {
		t.Fatalf("tuples duplicated by replay: %v", got)
	}
}

func TestRecover_AppliesOverwrites(t *testing.T) {
	dir := t.TempDir()
	fm, err := NewFileMgr(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	lm, err := OpenLogMgr(filepath.Join(dir, "test.wal"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { lm.Close(); fm.Close() }()

	key := NewBufKey(11, 0)
	entries := []*LogEntry{
		lm.MakeEntry(key, OpNewPage, nil),
		lm.MakeEntry(key, OpInsertTuple, append(AppendU32(nil, 0), []byte("aaaa")...)),
		lm.MakeEntry(key, OpOverwriteTuple, append(AppendU32(nil, 0), []byte("bbbb")...)),
	}
	if err := lm.WriteEntries(entries); err != nil {
		t.Fatal(err)
	}
	if err := lm.FlushAll(); err != nil {
		t.Fatal(err)
	}

	if _, err := Recover(fm, lm); err != nil {
		t.Fatalf("recover: %v", err)
	}
	got := readTuples(t, fm, key)
	if len(got) != 1 || got[0] != "bbbb" {
		t.Fatalf("got %v want [bbbb]", got)
	}
}

func TestRecover_SkipsTempEntries(t *testing.T) {
	dir := t.TempDir()
	fm, err := NewFileMgr(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	lm, err := OpenLogMgr(filepath.Join(dir, "test.wal"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { lm.Close(); fm.Close() }()

	entries := []*LogEntry{
		lm.MakeEntry(NewTempKey(1, 0), OpNewPage, nil),
	}
	if err := lm.WriteEntries(entries); err != nil {
		t.Fatal(err)
	}
	if err := lm.FlushAll(); err != nil {
		t.Fatal(err)
	}

	applied, err := Recover(fm, lm)
	if err != nil {
		t.Fatal(err)
	}
	if applied != 0 {
		t.Fatalf("temp entries applied: %d", applied)
	}
}
