package service

import "testing"

func TestSchedulerNudge(t *testing.T) {
	s := NewScheduler(SchedulerDeps{}, SchedulerOptions{})

	if s.Nudge("acme", "widgets", 7) {
		t.Fatal("nudge accepted outside watch")
	}

	s.watching.Store(&nudgeTarget{owner: "acme", name: "widgets", issue: 7, pull: 12})
	tests := []struct {
		owner, name string
		number      int
		want        bool
	}{
		{"acme", "widgets", 7, true},
		{"ACME", "Widgets", 12, true},
		{"acme", "widgets", 8, false},
		{"other", "widgets", 7, false},
		{"acme", "widgets", 0, false},
	}
	for _, tt := range tests {
		if got := s.Nudge(tt.owner, tt.name, tt.number); got != tt.want {
			t.Errorf("Nudge(%s, %s, %d) = %v, want %v", tt.owner, tt.name, tt.number, got, tt.want)
		}
	}

	// Repeated nudges coalesce into one pending wake-up.
	select {
	case <-s.nudged:
	default:
		t.Fatal("no pending nudge")
	}
	select {
	case <-s.nudged:
		t.Fatal("nudges did not coalesce")
	default:
	}
}
