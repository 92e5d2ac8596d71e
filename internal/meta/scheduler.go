package meta

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"github.com/SimonWaldherr/tinyREL/internal/storage"
)

// FlushScheduler periodically flushes the WAL tail in the background,
// bounding how much committed-but-unflushed work a crash can lose
// between explicit flushes.
type FlushScheduler struct {
	lm   *storage.LogMgr
	cron *cron.Cron
}

// NewFlushScheduler builds a scheduler over the given log manager.
func NewFlushScheduler(lm *storage.LogMgr) *FlushScheduler {
	return &FlushScheduler{lm: lm, cron: cron.New()}
}

// Start begins flushing on the given interval (a Go duration string,
// e.g. "5s").
func (s *FlushScheduler) Start(interval string) error {
	spec := fmt.Sprintf("@every %s", interval)
	if _, err := s.cron.AddFunc(spec, s.flush); err != nil {
		return fmt.Errorf("bad flush interval %q: %w", interval, err)
	}
	s.cron.Start()
	return nil
}

func (s *FlushScheduler) flush() {
	if err := s.lm.FlushAll(); err != nil {
		log.Printf("meta: background WAL flush: %v", err)
	}
}

// Stop halts the schedule and waits for a running flush to finish.
func (s *FlushScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
