package match

import (
	"testing"
	"time"

	"robomon/internal/telemetry"
	logx "robomon/pkg/logx"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
}

func newTestTracker(clk *fakeClock) *Tracker {
	tr := New(Config{}, logx.Nop())
	tr.now = clk.now
	return tr
}

func TestLifecycleSingleMatch(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	tr := newTestTracker(clk)

	var ends []Summary
	tr.OnEnd(func(s Summary) { ends = append(ends, s) })

	starts := 0
	// game_state sequence 0,1,1,2,2,4 on one robot.
	for _, gs := range []telemetry.GameState{0, 1, 1, 2, 2, 4} {
		switch tr.Observe("r1", gs) {
		case TransitionStarted:
			starts++
		}
		clk.advance(time.Second)
	}

	if starts != 1 {
		t.Fatalf("starts = %d, want 1", starts)
	}
	if len(ends) != 1 {
		t.Fatalf("end events = %d, want 1", len(ends))
	}
	s := ends[0]
	if len(s.Robots) != 1 || s.Robots[0] != "r1" {
		t.Fatalf("participants = %v, want [r1]", s.Robots)
	}
	if s.Active {
		t.Fatal("ended summary still active")
	}
}

func TestInitialFrameDoesNotStart(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	tr := newTestTracker(clk)

	if got := tr.Observe("r1", telemetry.GameStateInitial); got != TransitionNone {
		t.Fatalf("INITIAL frame transition = %v, want none", got)
	}
	if _, ok := tr.Current(); ok {
		t.Fatal("match created by INITIAL frame")
	}
	if got := tr.Observe("r1", telemetry.GameStateReady); got != TransitionStarted {
		t.Fatalf("READY after INITIAL = %v, want started", got)
	}
}

func TestInactivityEndsMatchWithoutInput(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	tr := newTestTracker(clk)

	ended := 0
	tr.OnEnd(func(Summary) { ended++ })

	tr.Observe("r1", telemetry.GameStatePlaying)
	if _, ok := tr.ActiveID(); !ok {
		t.Fatal("expected active match")
	}

	clk.advance(30 * time.Second)
	if tr.CheckInactivity() {
		t.Fatal("ended before the timeout")
	}
	clk.advance(31 * time.Second)
	if !tr.CheckInactivity() {
		t.Fatal("expected inactivity end")
	}
	if ended != 1 {
		t.Fatalf("end events = %d, want 1", ended)
	}
	// Idempotent: a second sweep does nothing.
	if tr.CheckInactivity() {
		t.Fatal("second sweep ended again")
	}
}

func TestReactivationWithinWindow(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	tr := newTestTracker(clk)

	tr.Observe("r1", telemetry.GameStatePlaying)
	id1, _ := tr.ActiveID()

	clk.advance(61 * time.Second)
	tr.CheckInactivity()

	// A frame shortly after the timeout reopens the same match.
	clk.advance(time.Minute)
	if got := tr.Observe("r2", telemetry.GameStatePlaying); got != TransitionReactivated {
		t.Fatalf("transition = %v, want reactivated", got)
	}
	id2, ok := tr.ActiveID()
	if !ok || id2 != id1 {
		t.Fatalf("ActiveID = %q, want %q", id2, id1)
	}

	s, _ := tr.Current()
	if len(s.Robots) != 2 {
		t.Fatalf("participants = %v, want 2 robots", s.Robots)
	}
}

func TestNewMatchAfterReactivationWindow(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	tr := newTestTracker(clk)

	tr.Observe("r1", telemetry.GameStatePlaying)
	id1, _ := tr.ActiveID()

	clk.advance(61 * time.Second)
	tr.CheckInactivity()

	clk.advance(6 * time.Minute)
	if got := tr.Observe("r1", telemetry.GameStatePlaying); got != TransitionStarted {
		t.Fatalf("transition = %v, want started", got)
	}
	id2, _ := tr.ActiveID()
	if id2 == id1 {
		t.Fatal("expected a fresh match id after the window")
	}
}

func TestExplicitStartOverridesReactivation(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	tr := newTestTracker(clk)

	tr.Observe("r1", telemetry.GameStatePlaying)
	id1, _ := tr.ActiveID()
	tr.Observe("r1", telemetry.GameStateFinished)

	// INITIAL->READY right after the end starts a new session even though
	// the reactivation window is still open.
	clk.advance(time.Second)
	tr.Observe("r1", telemetry.GameStateInitial)
	if got := tr.Observe("r1", telemetry.GameStateReady); got != TransitionStarted {
		t.Fatalf("transition = %v, want started", got)
	}
	id2, _ := tr.ActiveID()
	if id2 == id1 {
		t.Fatal("expected a new match id on explicit start")
	}
}

func TestParticipantsFrozenAfterEnd(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	tr := newTestTracker(clk)

	tr.Observe("r1", telemetry.GameStatePlaying)
	tr.Observe("r1", telemetry.GameStateFinished)

	s1, _ := tr.Current()
	if s1.Active {
		t.Fatal("expected ended match")
	}
	got := append([]string(nil), s1.Robots...)

	// The frozen summary is a copy; later bookkeeping can't grow it.
	if len(got) != 1 || got[0] != "r1" {
		t.Fatalf("frozen participants = %v", got)
	}
}

func TestUniqueMatchIDsWithinSameSecond(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	tr := newTestTracker(clk)

	// Two matches starting within the same wall-clock second must not
	// share an id.
	tr.Observe("r1", telemetry.GameStatePlaying)
	id1, _ := tr.ActiveID()
	tr.Observe("r1", telemetry.GameStateFinished)

	tr.Observe("r1", telemetry.GameStateInitial)
	tr.Observe("r1", telemetry.GameStateReady)
	id2, ok := tr.ActiveID()
	if !ok {
		t.Fatal("expected active match")
	}
	if id2 == id1 {
		t.Fatalf("match ids collided: %q", id2)
	}
	if id2 < id1 {
		t.Fatalf("ids not monotonic: %q then %q", id1, id2)
	}
}
