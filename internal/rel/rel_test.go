package rel

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/SimonWaldherr/tinyREL/internal/datatype"
	"github.com/SimonWaldherr/tinyREL/internal/storage"
	"github.com/SimonWaldherr/tinyREL/internal/tuple"
)

// testStore is a minimal Catalog over a fresh substrate: ids count up
// from 100 and registrations are recorded in memory.
type testStore struct {
	bm     *storage.BufMgr
	lm     *storage.LogMgr
	nextID storage.ID
	tables map[string]storage.ID
}

func (s *testStore) BufMgr() *storage.BufMgr { return s.bm }
func (s *testStore) LogMgr() *storage.LogMgr { return s.lm }

func (s *testStore) NewID() (storage.ID, error) {
	id := s.nextID
	s.nextID++
	return id, nil
}

func (s *testStore) RegisterTable(name string, id storage.ID) error {
	s.tables[name] = id
	return nil
}

func newTestStore(t *testing.T) *testStore {
	t.Helper()
	dir := t.TempDir()
	fm, err := storage.NewFileMgr(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	lm, err := storage.OpenLogMgr(filepath.Join(dir, "test.wal"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { lm.Close(); fm.Close() })
	return &testStore{
		bm:     storage.NewBufMgr(fm, lm, 0),
		lm:     lm,
		nextID: 100,
		tables: map[string]storage.ID{},
	}
}

func userDesc() tuple.TupleDesc {
	return tuple.NewTupleDesc([]tuple.Attr{
		{Name: "id", Kind: datatype.I32},
		{Name: "name", Kind: datatype.VarChar},
	})
}

func encodeRow(t *testing.T, desc tuple.TupleDesc, row ...string) []byte {
	t.Helper()
	data, err := desc.DataFromStrings(row)
	if err != nil {
		t.Fatalf("encode %v: %v", row, err)
	}
	return data
}

func scanAll(t *testing.T, s Store, r *Rel) [][]byte {
	t.Helper()
	var out [][]byte
	err := r.Scan(s, nil, func(data []byte) {
		out = append(out, append([]byte{}, data...))
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestRel_CreateAndLoad(t *testing.T) {
	s := newTestStore(t)
	r, err := Create(s, "users", userDesc())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.ID() != 100 {
		t.Fatalf("rel id: got %d", r.ID())
	}
	if s.tables["users"] != 100 {
		t.Fatal("relation not registered")
	}
	if r.NumDataPages() != 1 {
		t.Fatalf("data pages: got %d want 1", r.NumDataPages())
	}

	loaded, err := Load(s, r.ID())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.TupleDesc().Equal(userDesc()) {
		t.Fatal("loaded descriptor differs")
	}
	names := loaded.TupleDesc().Attrs()
	if names[0].Name != "id" || names[1].Name != "name" {
		t.Fatalf("attr names lost: %+v", names)
	}
}

func TestRel_LoadMissingRelation(t *testing.T) {
	s := newTestStore(t)
	if _, err := Load(s, 999); err == nil {
		t.Fatal("load of missing relation succeeded")
	}
}

func TestRel_InsertThenScan(t *testing.T) {
	s := newTestStore(t)
	r, err := Create(s, "users", userDesc())
	if err != nil {
		t.Fatal(err)
	}

	rows := [][]string{{"1", "ada"}, {"2", "grace"}, {"3", "edsger"}}
	for _, row := range rows {
		ptr, err := r.Insert(s, encodeRow(t, r.TupleDesc(), row...))
		if err != nil {
			t.Fatalf("insert %v: %v", row, err)
		}
		if ptr.Key.FileID != r.ID() {
			t.Fatalf("tuple ptr names file %d", ptr.Key.FileID)
		}
	}

	got := scanAll(t, s, r)
	if len(got) != len(rows) {
		t.Fatalf("scan: got %d rows want %d", len(got), len(rows))
	}
	for i, row := range rows {
		decoded, err := r.DataToStrings(got[i], nil)
		if err != nil {
			t.Fatal(err)
		}
		if decoded[0] != row[0] || decoded[1] != row[1] {
			t.Fatalf("row %d: got %v want %v", i, decoded, row)
		}
	}
}

// Property 2: an inserted tuple comes back from a scan exactly once.
func TestRel_InsertAppearsExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	r, err := Create(s, "t", userDesc())
	if err != nil {
		t.Fatal(err)
	}
	needle := encodeRow(t, r.TupleDesc(), "7", "needle")
	if _, err := r.Insert(s, needle); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := r.Insert(s, encodeRow(t, r.TupleDesc(), "0", "chaff")); err != nil {
			t.Fatal(err)
		}
	}
	count := 0
	for _, data := range scanAll(t, s, r) {
		if bytes.Equal(data, needle) {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("needle found %d times", count)
	}
}

func TestRel_InsertSpillsToNewPage(t *testing.T) {
	s := newTestStore(t)
	desc := tuple.NewTupleDesc([]tuple.Attr{{Name: "blob", Kind: datatype.VarChar}})
	r, err := Create(s, "big", desc)
	if err != nil {
		t.Fatal(err)
	}

	// Each tuple is ~1 KiB; a 4 KiB page holds at most 3.
	payload := string(bytes.Repeat([]byte{'x'}, 1024))
	const n = 8
	for i := 0; i < n; i++ {
		if _, err := r.Insert(s, encodeRow(t, desc, payload)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if r.NumDataPages() < 2 {
		t.Fatalf("expected spill to a second page, have %d", r.NumDataPages())
	}
	if got := scanAll(t, s, r); len(got) != n {
		t.Fatalf("scan after spill: got %d rows want %d", len(got), n)
	}

	// A reload derives the page count from the file length.
	loaded, err := Load(s, r.ID())
	if err != nil {
		t.Fatal(err)
	}
	if loaded.NumDataPages() != r.NumDataPages() {
		t.Fatalf("reload page count: got %d want %d", loaded.NumDataPages(), r.NumDataPages())
	}
}

func TestRel_InsertRejectsWrongLength(t *testing.T) {
	s := newTestStore(t)
	r, err := Create(s, "t", userDesc())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Insert(s, []byte{1, 2, 3}); err == nil {
		t.Fatal("malformed tuple accepted")
	}
}

func TestRel_ScanWithFilter(t *testing.T) {
	s := newTestStore(t)
	r, err := Create(s, "t", userDesc())
	if err != nil {
		t.Fatal(err)
	}
	for _, row := range [][]string{{"1", "keep"}, {"2", "drop"}, {"3", "keep"}} {
		if _, err := r.Insert(s, encodeRow(t, r.TupleDesc(), row...)); err != nil {
			t.Fatal(err)
		}
	}
	var kept int
	err = r.Scan(s, func(data []byte) bool {
		row, derr := r.DataToStrings(data, []int{1})
		return derr == nil && row[0] == "keep"
	}, func([]byte) {
		kept++
	})
	if err != nil {
		t.Fatal(err)
	}
	if kept != 2 {
		t.Fatalf("filter kept %d rows, want 2", kept)
	}
}

func TestRel_TempRelation(t *testing.T) {
	s := newTestStore(t)
	r, err := NewTemp(s, userDesc())
	if err != nil {
		t.Fatalf("new temp: %v", err)
	}
	if !r.IsTemp() {
		t.Fatal("temp relation not marked temp")
	}
	if _, err := r.Insert(s, encodeRow(t, r.TupleDesc(), "1", "scratch")); err != nil {
		t.Fatalf("temp insert: %v", err)
	}
	if got := scanAll(t, s, r); len(got) != 1 {
		t.Fatalf("temp scan: got %d rows", len(got))
	}
	// Temp work never reaches the WAL.
	if s.lm.NextLSN() != 1 {
		t.Fatalf("temp relation logged entries: next lsn %d", s.lm.NextLSN())
	}
}

func TestRel_InsertsAreLogged(t *testing.T) {
	s := newTestStore(t)
	r, err := Create(s, "t", userDesc())
	if err != nil {
		t.Fatal(err)
	}
	before := s.lm.NextLSN()
	if _, err := r.Insert(s, encodeRow(t, r.TupleDesc(), "1", "row")); err != nil {
		t.Fatal(err)
	}
	if s.lm.NextLSN() != before+1 {
		t.Fatalf("insert made %d log entries, want 1", s.lm.NextLSN()-before)
	}
}
