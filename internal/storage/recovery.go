package storage

import (
	"log"
)

// ───────────────────────────────────────────────────────────────────────────
// Recovery
// ───────────────────────────────────────────────────────────────────────────
//
// Forward replay of the log, run at startup before the buffer pool
// accepts traffic. Entries are applied in LSN order directly against the
// page files. Replay is idempotent without an on-disk page LSN: insert
// payloads name their target slot, so an insert whose slot already
// exists is skipped, overwrites re-apply in place, and page allocations
// are skipped when the file already covers the offset. Temp entries are
// ignored — the temp namespace never survives the process that made it.

// Recover replays every log entry against the files under fm. Returns
// the number of entries applied.
func Recover(fm *FileMgr, lm *LogMgr) (int, error) {
	entries, err := ReadAllEntries(lm.Path())
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, e := range entries {
		if e.Key.Temp {
			continue
		}
		did, err := replayEntry(fm, e)
		if err != nil {
			return applied, Errf(ErrInvalidData, "replay lsn %d (%s on %s): %v",
				e.LSN, e.Op, e.Key, err)
		}
		if did {
			applied++
		}
	}
	if applied > 0 {
		log.Printf("storage: recovery applied %d of %d log entries", applied, len(entries))
	}
	return applied, nil
}

func replayEntry(fm *FileMgr, e *LogEntry) (bool, error) {
	switch e.Op {
	case OpNewPage:
		pages, err := fm.NumPages(e.Key)
		if err != nil {
			return false, err
		}
		if e.Key.Offset < pages {
			return false, nil // already allocated
		}
		return true, fm.AllocPage(e.Key)

	case OpInsertTuple, OpOverwriteTuple:
		rd := NewReader(e.Payload)
		slot, err := rd.U32()
		if err != nil {
			return false, err
		}
		data := e.Payload[4:]

		if err := ensurePages(fm, e.Key); err != nil {
			return false, err
		}
		buf, err := fm.ReadPage(e.Key)
		if err != nil {
			return false, err
		}
		page, err := LoadBufPage(buf, e.Key)
		if err != nil {
			return false, err
		}

		if e.Op == OpInsertTuple {
			if int(slot) < page.TupleCount() {
				return false, nil // already applied
			}
			if int(slot) > page.TupleCount() {
				return false, Errf(ErrInvalidData, "insert at slot %d but page has %d tuples",
					slot, page.TupleCount())
			}
			if _, err := page.AppendTuple(data, e.LSN); err != nil {
				return false, err
			}
		} else {
			if err := page.OverwriteTuple(int(slot), data, e.LSN); err != nil {
				return false, err
			}
		}
		return true, fm.WritePage(e.Key, page.Data())

	default:
		return false, Errf(ErrInvalidData, "unknown op 0x%02x", uint8(e.Op))
	}
}

// ensurePages extends the key's file with zero pages up to and including
// the key's offset. Covers the window where a page allocation reached
// the WAL but its file extension never hit the disk.
func ensurePages(fm *FileMgr, key BufKey) error {
	pages, err := fm.NumPages(key)
	if err != nil {
		return err
	}
	for off := pages; off <= key.Offset; off++ {
		grow := key
		grow.Offset = off
		if err := fm.AllocPage(grow); err != nil {
			return err
		}
	}
	return nil
}
