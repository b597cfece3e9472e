// Package statetable keeps the freshest decoded frame per robot.
//
// The table is written by the ingestion receiver and read concurrently by
// the broadcast scheduler and the HTTP query layer; all access goes through
// the table's lock. Updates are last-write-wins by arrival order: an older
// frame arriving late overwrites a newer one, which is an accepted
// limitation of the lossy transport, not something the table corrects.
package statetable

import (
	"sort"
	"sync"
	"time"

	"robomon/internal/telemetry"
)

// DefaultOnlineTimeout is how long after the last frame a robot still
// counts as online.
const DefaultOnlineTimeout = 5 * time.Second

// Entry is one robot's latest state as seen at snapshot time.
type Entry struct {
	RobotID  string           `json:"robot_id"`
	Online   bool             `json:"online"`
	LastSeen time.Time        `json:"last_seen"`
	Frame    *telemetry.Frame `json:"state"`
}

type agentState struct {
	frame    *telemetry.Frame
	lastSeen time.Time
}

type Table struct {
	mu      sync.RWMutex
	states  map[string]agentState
	timeout time.Duration
}

func New(onlineTimeout time.Duration) *Table {
	if onlineTimeout <= 0 {
		onlineTimeout = DefaultOnlineTimeout
	}
	return &Table{
		states:  make(map[string]agentState),
		timeout: onlineTimeout,
	}
}

// SetOnlineTimeout adjusts the liveness window (config hot reload).
func (t *Table) SetOnlineTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	t.timeout = d
	t.mu.Unlock()
}

// Update overwrites the entry for the frame's robot unconditionally.
func (t *Table) Update(robotID string, f *telemetry.Frame, now time.Time) {
	t.mu.Lock()
	t.states[robotID] = agentState{frame: f, lastSeen: now}
	t.mu.Unlock()
}

// Get returns one robot's entry with liveness computed against now.
func (t *Table) Get(robotID string, now time.Time) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.states[robotID]
	if !ok {
		return Entry{}, false
	}
	return t.entryLocked(robotID, st, now), true
}

// Snapshot returns a point-in-time copy of all entries, sorted by robot id.
// Liveness is computed against now at snapshot time, not at update time.
func (t *Table) Snapshot(now time.Time) []Entry {
	t.mu.RLock()
	out := make([]Entry, 0, len(t.states))
	for id, st := range t.states {
		out = append(out, t.entryLocked(id, st, now))
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].RobotID < out[j].RobotID })
	return out
}

func (t *Table) entryLocked(id string, st agentState, now time.Time) Entry {
	return Entry{
		RobotID:  id,
		Online:   now.Sub(st.lastSeen) < t.timeout,
		LastSeen: st.lastSeen,
		Frame:    st.frame,
	}
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.states)
}
