package main

import (
	"context"
	"log"
	"time"

	"github.com/banshee-data/ldscan/internal/db"
	"github.com/banshee-data/ldscan/internal/lidar/pipeline"
)

type sessionStore interface {
	CloseOpenSessions(at time.Time) (int64, error)
	StartSession(source string, at time.Time) (*db.CaptureSession, error)
	UpdateSessionCounts(id string, scansOK, scansFailed uint64, lastError string) error
	EndSession(id string, at time.Time, scansOK, scansFailed uint64, lastError string) error
}

// sessionTracker mirrors the runner counters into a capture session row.
type sessionTracker struct {
	store sessionStore
	stats func() pipeline.Stats
	id    string
}

// startSession closes sessions left open by a crashed process and opens a
// new one for src.
func startSession(store sessionStore, stats func() pipeline.Stats, src string) (*sessionTracker, error) {
	now := time.Now()
	if n, err := store.CloseOpenSessions(now); err != nil {
		return nil, err
	} else if n > 0 {
		log.Printf("closed %d capture session(s) left open by a previous run", n)
	}
	s, err := store.StartSession(src, now)
	if err != nil {
		return nil, err
	}
	log.Printf("capture session %s started", s.SessionID)
	return &sessionTracker{store: store, stats: stats, id: s.SessionID}, nil
}

func (t *sessionTracker) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := t.stats()
			if err := t.store.UpdateSessionCounts(t.id, st.ScansOK, st.ScansFailed, st.LastError); err != nil {
				log.Printf("failed to update capture session: %v", err)
			}
		}
	}
}

// end stores the final counters. runErr, if set, is recorded as the last
// error.
func (t *sessionTracker) end(runErr error) {
	st := t.stats()
	lastErr := st.LastError
	if runErr != nil {
		lastErr = runErr.Error()
	}
	if err := t.store.EndSession(t.id, time.Now(), st.ScansOK, st.ScansFailed, lastErr); err != nil {
		log.Printf("failed to end capture session: %v", err)
		return
	}
	log.Printf("capture session %s ended: %d scans ok, %d failed", t.id, st.ScansOK, st.ScansFailed)
}
