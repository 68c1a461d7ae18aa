package db

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCaptureSessionLifecycle(t *testing.T) {
	db := newTestDB(t)
	start := time.Unix(1700000000, 0)

	s, err := db.StartSession("serial:/dev/ttyUSB0", start)
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if _, err := uuid.Parse(s.SessionID); err != nil {
		t.Errorf("session id %q is not a uuid: %v", s.SessionID, err)
	}
	if !s.Open() {
		t.Error("new session should be open")
	}

	if err := db.UpdateSessionCounts(s.SessionID, 10, 1, "packet 3 of 38: invalid packet length"); err != nil {
		t.Fatalf("UpdateSessionCounts() error = %v", err)
	}
	got, err := db.GetSession(s.SessionID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.ScansOK != 10 || got.ScansFailed != 1 || !got.Open() {
		t.Errorf("after update: %+v", got)
	}

	end := start.Add(time.Minute)
	if err := db.EndSession(s.SessionID, end, 600, 2, ""); err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}
	got, err = db.GetSession(s.SessionID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.Open() || *got.EndedAt != end.UnixNano() {
		t.Errorf("session not ended: %+v", got)
	}
	if got.ScansOK != 600 || got.ScansFailed != 2 || got.LastError != "" {
		t.Errorf("final counters: %+v", got)
	}
	if got.StartedAt != start.UnixNano() || got.Source != "serial:/dev/ttyUSB0" {
		t.Errorf("identity fields: %+v", got)
	}
}

func TestRecentSessionsNewestFirst(t *testing.T) {
	db := newTestDB(t)
	base := time.Unix(1700000000, 0)
	for i := 0; i < 3; i++ {
		if _, err := db.StartSession("synthetic", base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("StartSession() error = %v", err)
		}
	}

	sessions, err := db.RecentSessions(2)
	if err != nil {
		t.Fatalf("RecentSessions() error = %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].StartedAt <= sessions[1].StartedAt {
		t.Errorf("sessions not newest first: %d, %d", sessions[0].StartedAt, sessions[1].StartedAt)
	}
}

func TestCloseOpenSessions(t *testing.T) {
	db := newTestDB(t)
	now := time.Unix(1700000000, 0)

	open, err := db.StartSession("replay:a.bin", now)
	if err != nil {
		t.Fatal(err)
	}
	closed, err := db.StartSession("replay:b.bin", now)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.EndSession(closed.SessionID, now, 1, 0, ""); err != nil {
		t.Fatal(err)
	}

	n, err := db.CloseOpenSessions(now.Add(time.Hour))
	if err != nil {
		t.Fatalf("CloseOpenSessions() error = %v", err)
	}
	if n != 1 {
		t.Errorf("closed %d sessions, want 1", n)
	}
	got, err := db.GetSession(open.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Open() || got.LastError != "not closed cleanly" {
		t.Errorf("stale session not closed: %+v", got)
	}
}

func TestSessionNotFound(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.GetSession("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("GetSession() error = %v", err)
	}
	if err := db.UpdateSessionCounts("missing", 1, 0, ""); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("UpdateSessionCounts() error = %v", err)
	}
	if err := db.EndSession("missing", time.Now(), 1, 0, ""); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("EndSession() error = %v", err)
	}
}
