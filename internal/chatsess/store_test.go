package chatsess

import (
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/herdctl/internal/state"
)

func openStore(t *testing.T, expiryHours int) *Store {
	t.Helper()
	st, err := state.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s, err := Open(st, "discord", expiryHours)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestGetOrCreateSession_PrefixAndStability(t *testing.T) {
	s := openStore(t, 1)

	id1, err := s.GetOrCreateSession("worker", "chan-1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(id1, "discord-worker-") {
		t.Errorf("session id %q lacks platform-agent prefix", id1)
	}

	id2, err := s.GetOrCreateSession("worker", "chan-1")
	if err != nil {
		t.Fatal(err)
	}
	if id2 != id1 {
		t.Errorf("second touch minted a new session: %q vs %q", id2, id1)
	}

	other, err := s.GetOrCreateSession("worker", "chan-2")
	if err != nil {
		t.Fatal(err)
	}
	if other == id1 {
		t.Error("distinct channels share one session")
	}
}

func TestExpiry(t *testing.T) {
	s := openStore(t, 1)

	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	id, err := s.GetOrCreateSession("worker", "chan-1")
	if err != nil {
		t.Fatal(err)
	}
	if got := s.GetSession("worker", "chan-1"); got != id {
		t.Errorf("live session not returned: %q", got)
	}

	// Two hours later with a one-hour expiry: treated as absent.
	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	if got := s.GetSession("worker", "chan-1"); got != "" {
		t.Errorf("expired session still returned: %q", got)
	}

	fresh, err := s.GetOrCreateSession("worker", "chan-1")
	if err != nil {
		t.Fatal(err)
	}
	if fresh == id {
		t.Error("expired session id reused")
	}
	if !strings.HasPrefix(fresh, "discord-worker-") {
		t.Errorf("fresh id %q lacks prefix", fresh)
	}
}

func TestTouch_NonDecreasing(t *testing.T) {
	s := openStore(t, 24)
	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	if _, err := s.GetOrCreateSession("worker", "c"); err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return base.Add(time.Minute) }
	if err := s.Touch("worker", "c"); err != nil {
		t.Fatal(err)
	}

	s.mu.Lock()
	got := s.agents["worker"].Channels["c"].LastMessageAt
	s.mu.Unlock()
	if !got.Equal(base.Add(time.Minute)) {
		t.Errorf("lastMessageAt = %v, want %v", got, base.Add(time.Minute))
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	st, err := state.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s1, err := Open(st, "discord", 24)
	if err != nil {
		t.Fatal(err)
	}
	id, err := s1.GetOrCreateSession("worker", "chan-1")
	if err != nil {
		t.Fatal(err)
	}

	s2, err := Open(st, "discord", 24)
	if err != nil {
		t.Fatal(err)
	}
	if got := s2.GetSession("worker", "chan-1"); got != id {
		t.Errorf("session lost across reopen: %q, want %q", got, id)
	}
}
