package dispatch

import (
	"sync"
	"testing"
)

func TestStatusStoreFirstWriteWins(t *testing.T) {
	s := NewStatusStore()

	if got := s.Get("k1"); got != OutcomeUnknown {
		t.Fatalf("expected unknown for unseen key, got %s", got)
	}

	first, written := s.Record(Receipt{Key: "k1", Outcome: OutcomeSent, Provider: "a"})
	if !written || first.Outcome != OutcomeSent {
		t.Fatalf("expected first record to be written, got %+v written=%v", first, written)
	}

	held, written := s.Record(Receipt{Key: "k1", Outcome: OutcomeFailed})
	if written {
		t.Fatal("expected second record to be ignored")
	}
	if held.Outcome != OutcomeSent || held.Provider != "a" {
		t.Fatalf("expected original receipt, got %+v", held)
	}
	if got := s.Get("k1"); got != OutcomeSent {
		t.Fatalf("expected sent, got %s", got)
	}
}

func TestStatusStoreConcurrentRecord(t *testing.T) {
	s := NewStatusStore()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome := OutcomeSent
			if i%2 == 0 {
				outcome = OutcomeFailed
			}
			if _, ok := s.Record(Receipt{Key: "same", Outcome: outcome}); ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one write, got %d", winners)
	}
	if s.Len() != 1 {
		t.Fatalf("expected one key, got %d", s.Len())
	}
}

func TestStatusStoreCounts(t *testing.T) {
	s := NewStatusStore()
	s.Record(Receipt{Key: "a", Outcome: OutcomeSent})
	s.Record(Receipt{Key: "b", Outcome: OutcomeSent})
	s.Record(Receipt{Key: "c", Outcome: OutcomeRateLimited})

	counts := s.Counts()
	if counts[OutcomeSent] != 2 || counts[OutcomeRateLimited] != 1 || counts[OutcomeFailed] != 0 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestOutcomeTerminal(t *testing.T) {
	for _, o := range []Outcome{OutcomeSent, OutcomeAlreadySent, OutcomeRateLimited, OutcomeFailed} {
		if !o.Terminal() {
			t.Errorf("expected %s to be terminal", o)
		}
	}
	if OutcomeUnknown.Terminal() {
		t.Error("unknown must not be terminal")
	}
}
